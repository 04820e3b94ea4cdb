package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openavatar/concierge/internal/domain"
)

func newCatalogServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if got := r.Header.Get("Authorization"); got != "Bearer cat-token" {
			t.Errorf("Authorization = %q", got)
		}
		var items []Item
		switch r.URL.Path {
		case "/avatars":
			items = []Item{
				{ID: "avatar-anna-001", DisplayName: "Anna"},
				{ID: "avatar-bruno-002", DisplayName: "Bruno"},
			}
		case "/voices":
			items = []Item{{ID: "voice-calm-001", DisplayName: "Calm"}}
		default:
			http.NotFound(w, r)
			return
		}
		if err := json.NewEncoder(w).Encode(items); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestListCachesAfterFirstFetch(t *testing.T) {
	srv, hits := newCatalogServer(t)
	c := NewClient(srv.URL, "cat-token")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		avatars, err := c.ListAvatars(ctx)
		if err != nil {
			t.Fatalf("ListAvatars #%d: %v", i+1, err)
		}
		if len(avatars) != 2 || avatars[0].ID != "avatar-anna-001" {
			t.Fatalf("avatars = %+v", avatars)
		}
	}
	if *hits != 1 {
		t.Errorf("upstream hits = %d, want 1 (cached)", *hits)
	}

	if _, err := c.ListVoices(ctx); err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if *hits != 2 {
		t.Errorf("upstream hits = %d, want 2 after voice fetch", *hits)
	}
}

func TestResolveReturnsNilForUnknown(t *testing.T) {
	srv, _ := newCatalogServer(t)
	c := NewClient(srv.URL, "cat-token")
	ctx := context.Background()

	item, err := c.ResolveAvatar(ctx, "avatar-bruno-002")
	if err != nil {
		t.Fatalf("ResolveAvatar: %v", err)
	}
	if item == nil || item.DisplayName != "Bruno" {
		t.Errorf("item = %+v", item)
	}

	item, err = c.ResolveAvatar(ctx, "custom-manual-ref")
	if err != nil {
		t.Fatalf("ResolveAvatar (unknown): %v", err)
	}
	if item != nil {
		t.Errorf("unknown ref resolved to %+v, want nil", item)
	}
}

func TestFetchErrorsAreExternalService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "")
	if _, err := c.ListAvatars(context.Background()); !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("err = %v, want ErrExternalService", err)
	}

	// A failed fetch is not cached; recovery is possible.
	srv.Close()
	if _, err := c.ListAvatars(context.Background()); !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("err after close = %v, want ErrExternalService", err)
	}
}

func TestLanguagesFixedAndOrdered(t *testing.T) {
	langs := Languages()
	if len(langs) != 9 {
		t.Fatalf("len(langs) = %d, want 9", len(langs))
	}
	if langs[0].Code != "en" {
		t.Errorf("first language = %q, want en", langs[0].Code)
	}

	// Callers cannot mutate the canonical list.
	langs[0] = Language{Code: "xx", DisplayName: "Mutated"}
	if Languages()[0].Code != "en" {
		t.Error("Languages() exposed internal state")
	}

	if lang := LanguageByCode("ja"); lang == nil || lang.DisplayName != "Japanese" {
		t.Errorf("LanguageByCode(ja) = %+v", lang)
	}
	if lang := LanguageByCode("xx"); lang != nil {
		t.Errorf("LanguageByCode(xx) = %+v, want nil", lang)
	}
}
