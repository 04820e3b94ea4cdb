package wizard

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openavatar/concierge/internal/catalog"
	"github.com/openavatar/concierge/internal/domain"
	"github.com/openavatar/concierge/internal/store"
)

// fakeCatalog is a deterministic catalog: two avatars, two voices.
type fakeCatalog struct {
	avatars []catalog.Item
	voices  []catalog.Item
	fail    bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		avatars: []catalog.Item{
			{ID: "avatar-anna-001", DisplayName: "Anna"},
			{ID: "avatar-bruno-002", DisplayName: "Bruno"},
		},
		voices: []catalog.Item{
			{ID: "voice-calm-001", DisplayName: "Calm"},
			{ID: "voice-bright-002", DisplayName: "Bright"},
		},
	}
}

func (f *fakeCatalog) ListAvatars(ctx context.Context) ([]catalog.Item, error) {
	if f.fail {
		return nil, domain.ErrExternalService
	}
	return f.avatars, nil
}

func (f *fakeCatalog) ListVoices(ctx context.Context) ([]catalog.Item, error) {
	if f.fail {
		return nil, domain.ErrExternalService
	}
	return f.voices, nil
}

func (f *fakeCatalog) ResolveAvatar(ctx context.Context, id string) (*catalog.Item, error) {
	for i := range f.avatars {
		if f.avatars[i].ID == id {
			return &f.avatars[i], nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) ResolveVoice(ctx context.Context, id string) (*catalog.Item, error) {
	for i := range f.voices {
		if f.voices[i].ID == id {
			return &f.voices[i], nil
		}
	}
	return nil, nil
}

func newTestEngine(t *testing.T) (*Engine, store.Repository, *fakeCatalog) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "wizard.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	cat := newFakeCatalog()
	return New(repo, cat, 30*time.Minute), repo, cat
}

func mustProcess(t *testing.T, e *Engine, connectionID, input string) *Result {
	t.Helper()
	res, err := e.ProcessInput(context.Background(), connectionID, input)
	if err != nil {
		t.Fatalf("ProcessInput(%q): %v", input, err)
	}
	return res
}

func TestHappyPathCreatesOneConfig(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.StartWizard(ctx, "conn-1")
	if err != nil {
		t.Fatalf("StartWizard: %v", err)
	}
	if !strings.Contains(res.Reply, "1. Anna") {
		t.Errorf("first prompt should list avatars, got %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "3. Enter a custom avatar ID") {
		t.Errorf("first prompt should offer manual entry, got %q", res.Reply)
	}

	inputs := []string{"1", "1", "1", "My Helper", "skip"}
	for _, in := range inputs {
		res = mustProcess(t, e, "conn-1", in)
		if res.Completed {
			t.Fatalf("completed early at input %q", in)
		}
	}
	if !strings.Contains(res.Reply, "My Helper") {
		t.Errorf("summary should include the name, got %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "English") {
		t.Errorf("summary should resolve the language, got %q", res.Reply)
	}

	res = mustProcess(t, e, "conn-1", "confirm")
	if !res.Completed {
		t.Fatal("expected Completed after confirm")
	}
	if res.Config == nil {
		t.Fatal("expected committed config in result")
	}

	cfg, err := repo.GetConfigByName(ctx, "conn-1", "My Helper")
	if err != nil {
		t.Fatalf("GetConfigByName: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected one committed config")
	}
	if cfg.AvatarRef != "avatar-anna-001" {
		t.Errorf("AvatarRef = %q, want avatar-anna-001", cfg.AvatarRef)
	}
	if cfg.VoiceRef != "voice-calm-001" {
		t.Errorf("VoiceRef = %q, want voice-calm-001", cfg.VoiceRef)
	}
	if cfg.LanguageCode != "en" {
		t.Errorf("LanguageCode = %q, want en (first supported language)", cfg.LanguageCode)
	}
	if cfg.Personality != nil {
		t.Errorf("Personality = %v, want nil after skip", *cfg.Personality)
	}

	sess, err := repo.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Fatalf("session should be deleted after commit, got %+v", sess)
	}

	configs, err := repo.ListConfigs(ctx, "conn-1")
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	if len(configs) != 1 {
		t.Errorf("len(configs) = %d, want exactly 1", len(configs))
	}
}

func TestOutOfRangeSelectionKeepsStep(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.StartWizard(ctx, "conn-1"); err != nil {
		t.Fatalf("StartWizard: %v", err)
	}

	for _, in := range []string{"0", "9", "banana", "-1", ""} {
		res := mustProcess(t, e, "conn-1", in)
		if !strings.Contains(res.Reply, "1. Anna") {
			t.Errorf("input %q should re-render the list, got %q", in, res.Reply)
		}
		sess, err := repo.GetSession(ctx, "conn-1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if sess.CurrentStep != domain.StepAvatarSelection {
			t.Errorf("input %q moved step to %q", in, sess.CurrentStep)
		}
	}
}

func TestCancelAtEveryStep(t *testing.T) {
	// prefix drives the wizard to the step under test before cancelling.
	steps := []struct {
		name   string
		prefix []string
	}{
		{"avatar_selection", nil},
		{"avatar_manual_entry", []string{"3"}},
		{"voice_selection", []string{"1"}},
		{"voice_manual_entry", []string{"1", "3"}},
		{"language_selection", []string{"1", "1"}},
		{"name_input", []string{"1", "1", "1"}},
		{"prompt_input", []string{"1", "1", "1", "My Helper"}},
		{"confirmation", []string{"1", "1", "1", "My Helper", "skip"}},
	}

	for _, tc := range steps {
		t.Run(tc.name, func(t *testing.T) {
			e, repo, _ := newTestEngine(t)
			ctx := context.Background()

			if _, err := e.StartWizard(ctx, "conn-1"); err != nil {
				t.Fatalf("StartWizard: %v", err)
			}
			for _, in := range tc.prefix {
				mustProcess(t, e, "conn-1", in)
			}

			res := mustProcess(t, e, "conn-1", "CANCEL")
			if res.Reply != "Avatar creation cancelled." {
				t.Errorf("Reply = %q", res.Reply)
			}
			sess, err := repo.GetSession(ctx, "conn-1")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if sess != nil {
				t.Errorf("session should be deleted after cancel at %s", tc.name)
			}
		})
	}
}

func TestManualEntryBranches(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.StartWizard(ctx, "conn-1"); err != nil {
		t.Fatalf("StartWizard: %v", err)
	}

	// Sentinel 3 enters manual avatar entry without recording a value.
	res := mustProcess(t, e, "conn-1", "3")
	if !strings.Contains(res.Reply, "avatar ID") {
		t.Errorf("expected manual prompt, got %q", res.Reply)
	}

	// Too-short identifiers re-prompt without transition.
	res = mustProcess(t, e, "conn-1", "short")
	if res.Reply != msgManualTooShort {
		t.Errorf("Reply = %q, want too-short notice", res.Reply)
	}
	sess, err := repo.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.CurrentStep != domain.StepAvatarManualEntry {
		t.Errorf("CurrentStep = %q, want avatar_manual_entry", sess.CurrentStep)
	}

	res = mustProcess(t, e, "conn-1", "custom-avatar-42")
	if !strings.Contains(res.Reply, "1. Calm") {
		t.Errorf("expected voice list after manual entry, got %q", res.Reply)
	}

	// Same branch for voices.
	mustProcess(t, e, "conn-1", "3")
	mustProcess(t, e, "conn-1", "custom-voice-42")
	mustProcess(t, e, "conn-1", "2")
	mustProcess(t, e, "conn-1", "Custom One")
	res = mustProcess(t, e, "conn-1", "friendly and patient")
	// Manual refs are shown raw in the summary.
	if !strings.Contains(res.Reply, "custom-avatar-42") || !strings.Contains(res.Reply, "custom-voice-42") {
		t.Errorf("summary should show raw manual refs, got %q", res.Reply)
	}

	res = mustProcess(t, e, "conn-1", "yes")
	if !res.Completed {
		t.Fatal("expected commit on yes")
	}
	if res.Config.AvatarRef != "custom-avatar-42" || res.Config.VoiceRef != "custom-voice-42" {
		t.Errorf("manual refs not recorded: %+v", res.Config)
	}
	if res.Config.LanguageCode != "es" {
		t.Errorf("LanguageCode = %q, want es (second language)", res.Config.LanguageCode)
	}
	if res.Config.Personality == nil || *res.Config.Personality != "friendly and patient" {
		t.Errorf("Personality not recorded verbatim: %v", res.Config.Personality)
	}
}

func TestNameValidationAndDuplicates(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	existing := &domain.AvatarConfig{
		ID: "cfg-existing", OwnerConnectionID: "conn-1", Name: "Taken",
		AvatarRef: "a", VoiceRef: "v", LanguageCode: "en",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := repo.CreateConfig(ctx, existing); err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}

	if _, err := e.StartWizard(ctx, "conn-1"); err != nil {
		t.Fatalf("StartWizard: %v", err)
	}
	mustProcess(t, e, "conn-1", "1")
	mustProcess(t, e, "conn-1", "1")
	mustProcess(t, e, "conn-1", "1")

	cases := []struct {
		input string
		want  string
	}{
		{"x", msgNameInvalid},
		{strings.Repeat("x", 101), msgNameInvalid},
		{"taken", msgNameTaken},
		{"TAKEN", msgNameTaken},
	}
	for _, tc := range cases {
		res := mustProcess(t, e, "conn-1", tc.input)
		if res.Reply != tc.want {
			t.Errorf("input %q: Reply = %q, want %q", tc.input, res.Reply, tc.want)
		}
		sess, err := repo.GetSession(ctx, "conn-1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if sess.CurrentStep != domain.StepNameInput {
			t.Errorf("input %q moved step to %q", tc.input, sess.CurrentStep)
		}
	}

	res := mustProcess(t, e, "conn-1", "  Fresh Name  ")
	if res.Reply != msgPersonalityPrompt {
		t.Errorf("Reply = %q, want personality prompt", res.Reply)
	}
	sess, err := repo.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Name != "Fresh Name" {
		t.Errorf("Name = %q, want trimmed %q", sess.Name, "Fresh Name")
	}
}

func TestConfirmationRepromptsOnOtherInput(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.StartWizard(ctx, "conn-1"); err != nil {
		t.Fatalf("StartWizard: %v", err)
	}
	for _, in := range []string{"1", "1", "1", "My Helper", "skip"} {
		mustProcess(t, e, "conn-1", in)
	}

	res := mustProcess(t, e, "conn-1", "maybe?")
	if res.Reply != msgConfirmReplies {
		t.Errorf("Reply = %q, want confirmation re-prompt", res.Reply)
	}
	if res.Completed {
		t.Error("must not commit on unrecognized confirmation input")
	}
	sess, err := repo.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.CurrentStep != domain.StepConfirmation {
		t.Errorf("CurrentStep = %q, want confirmation", sess.CurrentStep)
	}

	// "no" aborts.
	res = mustProcess(t, e, "conn-1", "no")
	if res.Reply != msgCancelled {
		t.Errorf("Reply = %q, want cancellation", res.Reply)
	}
	sess, err = repo.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Error("session should be deleted after no")
	}
}

func TestProcessInputWithoutSession(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	res := mustProcess(t, e, "conn-1", "1")
	if res.Reply != msgNoActiveSession {
		t.Errorf("Reply = %q, want no-active-session notice", res.Reply)
	}

	// No store writes happened.
	configs, err := repo.ListConfigs(ctx, "conn-1")
	if err != nil {
		t.Fatalf("ListConfigs: %v", err)
	}
	if len(configs) != 0 {
		t.Errorf("configs written without session: %d", len(configs))
	}
	sess, err := repo.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Errorf("session created without StartWizard: %+v", sess)
	}
}

func TestStartWizardCatalogUnavailableEndsSession(t *testing.T) {
	e, repo, cat := newTestEngine(t)
	ctx := context.Background()

	cat.fail = true
	_, err := e.StartWizard(ctx, "conn-1")
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("StartWizard err = %v, want ErrExternalService", err)
	}

	sess, err := repo.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Errorf("session should be ended after catalog failure, got %+v", sess)
	}
}

func TestStartWizardReplacesExistingSession(t *testing.T) {
	e, repo, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.StartWizard(ctx, "conn-1"); err != nil {
		t.Fatalf("StartWizard: %v", err)
	}
	mustProcess(t, e, "conn-1", "1")
	mustProcess(t, e, "conn-1", "1")

	if _, err := e.StartWizard(ctx, "conn-1"); err != nil {
		t.Fatalf("StartWizard (restart): %v", err)
	}
	sess, err := repo.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.CurrentStep != domain.StepAvatarSelection {
		t.Errorf("CurrentStep = %q, want avatar_selection after restart", sess.CurrentStep)
	}
	if sess.AvatarRef != "" || sess.VoiceRef != "" {
		t.Errorf("restart should discard prior selections: %+v", sess)
	}
}
