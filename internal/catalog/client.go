package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/openavatar/concierge/internal/domain"
)

// Client fetches avatars and voices from the catalog provider over HTTP.
// Successful list responses are cached for the lifetime of the process; the
// cache is an injected dependency of the wizard, not a package global.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu      sync.Mutex
	avatars []Item
	voices  []Item
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ListAvatars returns the ordered avatar catalog, cached after first fetch.
func (c *Client) ListAvatars(ctx context.Context) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avatars != nil {
		return c.avatars, nil
	}
	items, err := c.fetchList(ctx, "/avatars")
	if err != nil {
		return nil, err
	}
	c.avatars = items
	return items, nil
}

// ListVoices returns the ordered voice catalog, cached after first fetch.
func (c *Client) ListVoices(ctx context.Context) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voices != nil {
		return c.voices, nil
	}
	items, err := c.fetchList(ctx, "/voices")
	if err != nil {
		return nil, err
	}
	c.voices = items
	return items, nil
}

// ResolveAvatar returns the avatar for an id, or (nil, nil) if unknown.
// Manually entered references resolve to nil and are displayed raw.
func (c *Client) ResolveAvatar(ctx context.Context, id string) (*Item, error) {
	items, err := c.ListAvatars(ctx)
	if err != nil {
		return nil, err
	}
	return findItem(items, id), nil
}

// ResolveVoice returns the voice for an id, or (nil, nil) if unknown.
func (c *Client) ResolveVoice(ctx context.Context, id string) (*Item, error) {
	items, err := c.ListVoices(ctx)
	if err != nil {
		return nil, err
	}
	return findItem(items, id), nil
}

func findItem(items []Item, id string) *Item {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func (c *Client) fetchList(ctx context.Context, path string) ([]Item, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("build catalog url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog %s: %w: %v", path, domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog %s: %w: status %d", path, domain.ErrExternalService, resp.StatusCode)
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w: %v", path, domain.ErrExternalService, err)
	}
	return items, nil
}
