// Package domain contains core domain types for the concierge service.
package domain

import (
	"time"
)

// Step identifies the wizard step a creation session is currently on.
type Step string

const (
	StepAvatarSelection   Step = "avatar_selection"
	StepAvatarManualEntry Step = "avatar_manual_entry"
	StepVoiceSelection    Step = "voice_selection"
	StepVoiceManualEntry  Step = "voice_manual_entry"
	StepLanguageSelection Step = "language_selection"
	StepNameInput         Step = "name_input"
	StepPromptInput       Step = "prompt_input"
	StepConfirmation      Step = "confirmation"
)

// WizardSession holds in-flight avatar creation state for one connection.
// At most one session exists per connection; the row is deleted on commit,
// cancellation, or expiry.
type WizardSession struct {
	ConnectionID string
	CurrentStep  Step
	AvatarRef    string
	VoiceRef     string
	LanguageCode string
	Name         string
	Personality  *string
	StartedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the session has passed its expiry time.
func (s *WizardSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
