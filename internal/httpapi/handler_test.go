package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/openavatar/concierge/internal/catalog"
	"github.com/openavatar/concierge/internal/credential"
	"github.com/openavatar/concierge/internal/domain"
	"github.com/openavatar/concierge/internal/router"
	"github.com/openavatar/concierge/internal/store"
	"github.com/openavatar/concierge/internal/streaming"
	"github.com/openavatar/concierge/internal/wizard"
)

type fakeMessenger struct {
	delivered  []string
	invitation string
	failInvite bool
}

func (m *fakeMessenger) Deliver(ctx context.Context, connectionID, text string) error {
	m.delivered = append(m.delivered, text)
	return nil
}

func (m *fakeMessenger) DeliverLink(ctx context.Context, connectionID, text, link string) error {
	m.delivered = append(m.delivered, text)
	return nil
}

func (m *fakeMessenger) FetchInvitation(ctx context.Context) (string, error) {
	if m.failInvite {
		return "", domain.ErrExternalService
	}
	return m.invitation, nil
}

type fakeCatalog struct{}

func (fakeCatalog) ListAvatars(ctx context.Context) ([]catalog.Item, error) {
	return []catalog.Item{{ID: "avatar-anna-001", DisplayName: "Anna"}}, nil
}

func (fakeCatalog) ListVoices(ctx context.Context) ([]catalog.Item, error) {
	return []catalog.Item{{ID: "voice-calm-001", DisplayName: "Calm"}}, nil
}

func (fakeCatalog) ResolveAvatar(ctx context.Context, id string) (*catalog.Item, error) {
	return nil, nil
}

func (fakeCatalog) ResolveVoice(ctx context.Context, id string) (*catalog.Item, error) {
	return nil, nil
}

type fakeAuthority struct{}

func (fakeAuthority) RegisterType(ctx context.Context, s credential.Schema) (string, error) {
	return "def-001", nil
}

func (fakeAuthority) Issue(ctx context.Context, definitionID, connectionID string, claims map[string]string) (string, error) {
	return "cred-exch-001", nil
}

func (fakeAuthority) RequestProof(ctx context.Context, definitionID, connectionID string, attributes []string) (string, error) {
	return "proof-exch-001", nil
}

func (fakeAuthority) CreatePresentationRequest(ctx context.Context, definitionID, callbackURL, ref string) (string, error) {
	return "proof-exch-cb-001", nil
}

type fakeStreaming struct{}

func (fakeStreaming) CreateSession(ctx context.Context, avatarRef, voiceRef, language, prompt string) (*streaming.Session, error) {
	return &streaming.Session{ID: "sess-001", URL: "https://play.test/s/001"}, nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeMessenger, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	messenger := &fakeMessenger{invitation: "https://gateway.test/invite/abc"}
	coord := credential.NewCoordinator(fakeAuthority{}, repo, repo, "def-001",
		"avatar-concierge", "https://concierge.test/callback/presentations", 10*time.Minute)
	engine := wizard.New(repo, fakeCatalog{}, 30*time.Minute)
	rt := router.New(engine, coord, repo, messenger, fakeStreaming{}, nil)
	return NewHandler(rt, messenger), messenger, repo
}

func serve(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestWebhookValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing type", `{"connectionId":"conn-1"}`, http.StatusBadRequest},
		{"missing connection", `{"type":"connection-established"}`, http.StatusBadRequest},
		{"valid event", `{"type":"connection-established","connectionId":"conn-1"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h.Webhook, http.MethodPost, "/webhook", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestWebhookDeliversWelcome(t *testing.T) {
	h, messenger, _ := newTestHandler(t)

	rec := serve(h.Webhook, http.MethodPost, "/webhook",
		`{"type":"connection-established","connectionId":"conn-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %q", resp["status"])
	}
	if len(messenger.delivered) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(messenger.delivered))
	}
}

func TestWebhookIgnoredMessageTypes(t *testing.T) {
	h, messenger, _ := newTestHandler(t)

	rec := serve(h.Webhook, http.MethodPost, "/webhook",
		`{"type":"message-received","connectionId":"conn-1","message":{"type":"reaction"}}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for ignorable message types", rec.Code)
	}
	if len(messenger.delivered) != 0 {
		t.Errorf("deliveries = %d, want 0", len(messenger.delivered))
	}
}

func TestPresentationCallbackValidation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `not json`, http.StatusBadRequest},
		{"missing exchange id", `{"verified":true}`, http.StatusBadRequest},
		// Unknown exchange ids are tolerated so redeliveries never retry.
		{"unknown exchange", `{"proofExchangeId":"proof-exch-unknown","verified":true}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h.PresentationCallback, http.MethodPost, "/callback/presentations", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestInvitation(t *testing.T) {
	h, messenger, _ := newTestHandler(t)

	rec := serve(h.Invitation, http.MethodGet, "/invitation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["url"] != "https://gateway.test/invite/abc" {
		t.Errorf("url = %q", resp["url"])
	}

	messenger.failInvite = true
	rec = serve(h.Invitation, http.MethodGet, "/invitation", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 when the gateway is down", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	_, _, repo := newTestHandler(t)
	hh := NewHealthHandler(repo)

	r := chi.NewRouter()
	hh.RegisterHealth(r)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" || resp.Checks["database"] != "ok" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHealthDegradedWhenStoreUnreachable(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	hh := NewHealthHandler(repo)

	rec := serve(hh.Health, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "degraded" || resp.Checks["database"] != "unreachable" {
		t.Errorf("response = %+v", resp)
	}
}

func TestErrorHelper(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusTeapot, "boom")
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "boom" {
		t.Errorf("error = %q", resp["error"])
	}
}
