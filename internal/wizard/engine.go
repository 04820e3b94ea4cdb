// Package wizard implements the avatar creation step state machine. Progress
// is persisted per connection so the flow survives restarts and concurrent
// users never share state.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/openavatar/concierge/internal/catalog"
	"github.com/openavatar/concierge/internal/domain"
	"github.com/openavatar/concierge/internal/store"
)

const (
	minManualRefLength = 8
	minNameLength      = 2
	maxNameLength      = 100
)

// Engine drives the wizard. All state lives in the session row; the engine
// itself is stateless and safe for concurrent use across connections.
type Engine struct {
	store      store.WizardStore
	catalog    catalog.Provider
	sessionTTL time.Duration
}

// New creates a wizard engine.
func New(st store.WizardStore, cat catalog.Provider, sessionTTL time.Duration) *Engine {
	return &Engine{store: st, catalog: cat, sessionTTL: sessionTTL}
}

// Result is the outcome of one wizard interaction. Completed is set only on
// the confirmation path that committed a new config.
type Result struct {
	Reply     string
	Completed bool
	Config    *domain.AvatarConfig
}

// StartWizard creates (or replaces) the session for a connection and returns
// the first prompt. If the avatar catalog cannot be fetched the session is
// ended and the error surfaces to the caller.
func (e *Engine) StartWizard(ctx context.Context, connectionID string) (*Result, error) {
	now := time.Now()
	sess := &domain.WizardSession{
		ConnectionID: connectionID,
		CurrentStep:  domain.StepAvatarSelection,
		StartedAt:    now,
		ExpiresAt:    now.Add(e.sessionTTL),
	}
	if err := e.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}

	avatars, err := e.catalog.ListAvatars(ctx)
	if err != nil {
		if delErr := e.store.DeleteSession(ctx, connectionID); delErr != nil {
			slog.Warn("Failed to end session after catalog failure",
				"connection_id", connectionID, "error", delErr)
		}
		return nil, fmt.Errorf("start wizard: %w", err)
	}

	return &Result{Reply: msgAvatarIntro + "\n" + renderItemList(avatars, msgAvatarManualLabel)}, nil
}

// HasActiveSession reports whether a non-expired session exists.
func (e *Engine) HasActiveSession(ctx context.Context, connectionID string) (bool, error) {
	sess, err := e.store.GetSession(ctx, connectionID)
	if err != nil {
		return false, err
	}
	return sess != nil, nil
}

// CancelWizard deletes the session for a connection.
func (e *Engine) CancelWizard(ctx context.Context, connectionID string) error {
	return e.store.DeleteSession(ctx, connectionID)
}

// ProcessInput advances the wizard with one user message. Invalid input
// re-prompts without a state transition. "cancel" aborts at any step. A
// missing session yields a conversational notice, not an error.
func (e *Engine) ProcessInput(ctx context.Context, connectionID, text string) (*Result, error) {
	sess, err := e.store.GetSession(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return &Result{Reply: msgNoActiveSession}, nil
	}

	input := strings.TrimSpace(text)
	if strings.EqualFold(input, "cancel") {
		if err := e.store.DeleteSession(ctx, connectionID); err != nil {
			return nil, err
		}
		return &Result{Reply: msgCancelled}, nil
	}

	switch sess.CurrentStep {
	case domain.StepAvatarSelection:
		return e.handleAvatarSelection(ctx, sess, input)
	case domain.StepAvatarManualEntry:
		return e.handleManualEntry(ctx, sess, input, true)
	case domain.StepVoiceSelection:
		return e.handleVoiceSelection(ctx, sess, input)
	case domain.StepVoiceManualEntry:
		return e.handleManualEntry(ctx, sess, input, false)
	case domain.StepLanguageSelection:
		return e.handleLanguageSelection(ctx, sess, input)
	case domain.StepNameInput:
		return e.handleNameInput(ctx, sess, input)
	case domain.StepPromptInput:
		return e.handlePromptInput(ctx, sess, input)
	case domain.StepConfirmation:
		return e.handleConfirmation(ctx, sess, input)
	default:
		return nil, fmt.Errorf("unknown wizard step %q for %s", sess.CurrentStep, connectionID)
	}
}

// parseSelection parses a 1-based menu index. Returns 0 for non-numeric or
// out-of-range input.
func parseSelection(input string, max int) int {
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > max {
		return 0
	}
	return n
}

func (e *Engine) handleAvatarSelection(ctx context.Context, sess *domain.WizardSession, input string) (*Result, error) {
	avatars, err := e.catalog.ListAvatars(ctx)
	if err != nil {
		return nil, fmt.Errorf("avatar selection: %w", err)
	}

	idx := parseSelection(input, len(avatars)+1)
	if idx == 0 {
		return &Result{Reply: msgInvalidSelection(len(avatars)+1) + "\n" + renderItemList(avatars, msgAvatarManualLabel)}, nil
	}

	if idx == len(avatars)+1 {
		sess.CurrentStep = domain.StepAvatarManualEntry
		if err := e.store.PutSession(ctx, sess); err != nil {
			return nil, err
		}
		return &Result{Reply: msgAvatarManualPrompt}, nil
	}

	sess.AvatarRef = avatars[idx-1].ID
	return e.advanceToVoiceSelection(ctx, sess)
}

func (e *Engine) handleVoiceSelection(ctx context.Context, sess *domain.WizardSession, input string) (*Result, error) {
	voices, err := e.catalog.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("voice selection: %w", err)
	}

	idx := parseSelection(input, len(voices)+1)
	if idx == 0 {
		return &Result{Reply: msgInvalidSelection(len(voices)+1) + "\n" + renderItemList(voices, msgVoiceManualLabel)}, nil
	}

	if idx == len(voices)+1 {
		sess.CurrentStep = domain.StepVoiceManualEntry
		if err := e.store.PutSession(ctx, sess); err != nil {
			return nil, err
		}
		return &Result{Reply: msgVoiceManualPrompt}, nil
	}

	sess.VoiceRef = voices[idx-1].ID
	return e.advanceToLanguageSelection(ctx, sess)
}

// handleManualEntry records a free-text avatar or voice reference. The only
// validation is a minimal length sanity check on the identifier.
func (e *Engine) handleManualEntry(ctx context.Context, sess *domain.WizardSession, input string, isAvatar bool) (*Result, error) {
	if utf8.RuneCountInString(input) < minManualRefLength {
		return &Result{Reply: msgManualTooShort}, nil
	}
	if isAvatar {
		sess.AvatarRef = input
		return e.advanceToVoiceSelection(ctx, sess)
	}
	sess.VoiceRef = input
	return e.advanceToLanguageSelection(ctx, sess)
}

func (e *Engine) advanceToVoiceSelection(ctx context.Context, sess *domain.WizardSession) (*Result, error) {
	voices, err := e.catalog.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch voice catalog: %w", err)
	}
	sess.CurrentStep = domain.StepVoiceSelection
	if err := e.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Result{Reply: msgVoiceIntro + "\n" + renderItemList(voices, msgVoiceManualLabel)}, nil
}

func (e *Engine) advanceToLanguageSelection(ctx context.Context, sess *domain.WizardSession) (*Result, error) {
	sess.CurrentStep = domain.StepLanguageSelection
	if err := e.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Result{Reply: msgLanguageIntro + "\n" + renderLanguageList(catalog.Languages())}, nil
}

func (e *Engine) handleLanguageSelection(ctx context.Context, sess *domain.WizardSession, input string) (*Result, error) {
	langs := catalog.Languages()
	idx := parseSelection(input, len(langs))
	if idx == 0 {
		return &Result{Reply: msgInvalidSelection(len(langs)) + "\n" + renderLanguageList(langs)}, nil
	}

	sess.LanguageCode = langs[idx-1].Code
	sess.CurrentStep = domain.StepNameInput
	if err := e.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Result{Reply: msgNamePrompt}, nil
}

func (e *Engine) handleNameInput(ctx context.Context, sess *domain.WizardSession, input string) (*Result, error) {
	name := strings.TrimSpace(input)
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return &Result{Reply: msgNameInvalid}, nil
	}

	existing, err := e.store.GetConfigByName(ctx, sess.ConnectionID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{Reply: msgNameTaken}, nil
	}

	sess.Name = name
	sess.CurrentStep = domain.StepPromptInput
	if err := e.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Result{Reply: msgPersonalityPrompt}, nil
}

func (e *Engine) handlePromptInput(ctx context.Context, sess *domain.WizardSession, input string) (*Result, error) {
	if strings.EqualFold(input, "skip") {
		sess.Personality = nil
	} else {
		personality := input
		sess.Personality = &personality
	}

	sess.CurrentStep = domain.StepConfirmation
	if err := e.store.PutSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Result{Reply: e.renderSummary(ctx, sess) + "\n" + msgConfirmHint}, nil
}

func (e *Engine) handleConfirmation(ctx context.Context, sess *domain.WizardSession, input string) (*Result, error) {
	switch {
	case strings.EqualFold(input, "confirm") || strings.EqualFold(input, "yes"):
		return e.commit(ctx, sess)
	case strings.EqualFold(input, "no"):
		// "cancel" is handled universally before dispatch.
		if err := e.store.DeleteSession(ctx, sess.ConnectionID); err != nil {
			return nil, err
		}
		return &Result{Reply: msgCancelled}, nil
	default:
		return &Result{Reply: msgConfirmReplies}, nil
	}
}

// commit writes the avatar config and deletes the session in one atomic store
// operation. This is the only path that creates a config.
func (e *Engine) commit(ctx context.Context, sess *domain.WizardSession) (*Result, error) {
	now := time.Now()
	cfg := &domain.AvatarConfig{
		ID:                uuid.NewString(),
		OwnerConnectionID: sess.ConnectionID,
		Name:              sess.Name,
		AvatarRef:         sess.AvatarRef,
		VoiceRef:          sess.VoiceRef,
		LanguageCode:      sess.LanguageCode,
		Personality:       sess.Personality,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := e.store.CommitWizard(ctx, cfg); err != nil {
		if errors.Is(err, domain.ErrNameTaken) {
			// The name was taken between name_input and confirmation.
			sess.Name = ""
			sess.CurrentStep = domain.StepNameInput
			if putErr := e.store.PutSession(ctx, sess); putErr != nil {
				return nil, putErr
			}
			return &Result{Reply: msgNameTaken}, nil
		}
		return nil, err
	}

	slog.Info("Avatar config created",
		"config_id", cfg.ID, "owner", cfg.OwnerConnectionID, "name", cfg.Name)
	return &Result{Reply: msgCommitted(cfg.Name), Completed: true, Config: cfg}, nil
}

// renderSummary resolves catalog references to display names where possible;
// manual references are shown raw. Resolution failures fall back to the raw
// reference rather than blocking confirmation.
func (e *Engine) renderSummary(ctx context.Context, sess *domain.WizardSession) string {
	avatarName := sess.AvatarRef
	if item, err := e.catalog.ResolveAvatar(ctx, sess.AvatarRef); err == nil && item != nil {
		avatarName = item.DisplayName
	}
	voiceName := sess.VoiceRef
	if item, err := e.catalog.ResolveVoice(ctx, sess.VoiceRef); err == nil && item != nil {
		voiceName = item.DisplayName
	}
	languageName := sess.LanguageCode
	if lang := catalog.LanguageByCode(sess.LanguageCode); lang != nil {
		languageName = lang.DisplayName
	}
	personality := "(none)"
	if sess.Personality != nil {
		personality = *sess.Personality
	}

	return fmt.Sprintf(
		"Here's your avatar:\nName: %s\nAppearance: %s\nVoice: %s\nLanguage: %s\nPersonality: %s",
		sess.Name, avatarName, voiceName, languageName, personality)
}
