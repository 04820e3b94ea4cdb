// Package streaming integrates the avatar session/streaming provider.
package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openavatar/concierge/internal/domain"
)

// Session is a playable avatar session issued by the provider.
type Session struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

// Provider is the narrow interface the router consumes: give me a playable
// session for these parameters.
type Provider interface {
	CreateSession(ctx context.Context, avatarRef, voiceRef, language, prompt string) (*Session, error)
}

// Client talks to the streaming provider's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a streaming provider client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateSession requests a playable session for the given parameters.
func (c *Client) CreateSession(ctx context.Context, avatarRef, voiceRef, language, prompt string) (*Session, error) {
	u, err := url.JoinPath(c.baseURL, "/sessions")
	if err != nil {
		return nil, fmt.Errorf("build session url: %w", err)
	}

	payload := map[string]string{
		"avatarRef": avatarRef,
		"voiceRef":  voiceRef,
		"language":  language,
		"prompt":    prompt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode session payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("create session: %w: status %d", domain.ErrExternalService, resp.StatusCode)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode session: %w: %v", domain.ErrExternalService, err)
	}
	return &sess, nil
}
