package gateway

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

// Messenger is the outbound surface of the messaging gateway.
type Messenger interface {
	// Deliver sends a plain text reply to a connection.
	Deliver(ctx context.Context, connectionID, text string) error

	// DeliverLink sends a reply carrying a clickable link.
	DeliverLink(ctx context.Context, connectionID, text, link string) error

	// FetchInvitation returns a connection invitation URL for new users.
	FetchInvitation(ctx context.Context) (string, error)
}

// Client talks to the messaging gateway's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a messaging gateway client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type outboundMessage struct {
	ConnectionID string `json:"connectionId"`
	Content      string `json:"content"`
	Link         string `json:"link,omitempty"`
}

// Deliver sends a plain text reply to a connection.
func (c *Client) Deliver(ctx context.Context, connectionID, text string) error {
	return c.post(ctx, "/messages", outboundMessage{ConnectionID: connectionID, Content: text}, nil)
}

// DeliverLink sends a reply carrying a clickable link.
func (c *Client) DeliverLink(ctx context.Context, connectionID, text, link string) error {
	return c.post(ctx, "/messages", outboundMessage{ConnectionID: connectionID, Content: text, Link: link}, nil)
}

// FetchInvitation returns a connection invitation URL.
func (c *Client) FetchInvitation(ctx context.Context) (string, error) {
	u, err := url.JoinPath(c.baseURL, "/invitation")
	if err != nil {
		return "", fmt.Errorf("build invitation url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build invitation request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch invitation: %w: %v", domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch invitation: %w: status %d", domain.ErrExternalService, resp.StatusCode)
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode invitation: %w: %v", domain.ErrExternalService, err)
	}
	return body.URL, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build gateway url: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w: %v", path, domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway %s: %w: status %d", path, domain.ErrExternalService, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w: %v", domain.ErrExternalService, err)
		}
	}
	return nil
}
