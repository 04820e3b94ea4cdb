// Package catalog provides the avatar/voice catalog collaborator interface
// and the fixed list of supported languages.
package catalog

import (
	"context"
)

// Item is one catalog entry, an avatar or a voice.
type Item struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Provider is the narrow interface the wizard consumes. Lists are ordered and
// stable for the lifetime of the process so 1-based menu indices stay valid.
type Provider interface {
	ListAvatars(ctx context.Context) ([]Item, error)
	ListVoices(ctx context.Context) ([]Item, error)
	ResolveAvatar(ctx context.Context, id string) (*Item, error)
	ResolveVoice(ctx context.Context, id string) (*Item, error)
}

// Language is a supported avatar language.
type Language struct {
	Code        string
	DisplayName string
}

// languages is the fixed ordered list offered at the language-selection step.
// English is always first.
var languages = []Language{
	{Code: "en", DisplayName: "English"},
	{Code: "es", DisplayName: "Spanish"},
	{Code: "fr", DisplayName: "French"},
	{Code: "de", DisplayName: "German"},
	{Code: "it", DisplayName: "Italian"},
	{Code: "pt", DisplayName: "Portuguese"},
	{Code: "ja", DisplayName: "Japanese"},
	{Code: "ko", DisplayName: "Korean"},
	{Code: "zh", DisplayName: "Chinese"},
}

// Languages returns the supported languages in presentation order.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// LanguageByCode returns the language for a code, or nil if unsupported.
func LanguageByCode(code string) *Language {
	for i := range languages {
		if languages[i].Code == code {
			return &languages[i]
		}
	}
	return nil
}
