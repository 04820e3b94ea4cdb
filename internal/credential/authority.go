// Package credential coordinates ownership credential issuance and
// verification with the credential authority.
package credential

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

// Schema describes a credential type registered with the authority.
type Schema struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Attributes []string `json:"attributes"`
}

// Authority is the opaque credential-authority collaborator. All operations
// are fire-and-forget on the authority side; the returned ids correlate the
// asynchronous completion signals that arrive later over the webhook or the
// presentation callback.
type Authority interface {
	// RegisterType registers a credential schema and returns its definition id.
	RegisterType(ctx context.Context, schema Schema) (string, error)

	// Issue sends a credential offer to a connection and returns the
	// issuance correlation id.
	Issue(ctx context.Context, definitionID, connectionID string, claims map[string]string) (string, error)

	// RequestProof asks a connection to prove possession of a credential,
	// revealing the named attributes. Returns the proof exchange id.
	RequestProof(ctx context.Context, definitionID, connectionID string, attributes []string) (string, error)

	// CreatePresentationRequest creates an out-of-band presentation whose
	// result is delivered to callbackURL, tagged with ref. Returns the proof
	// exchange id.
	CreatePresentationRequest(ctx context.Context, definitionID, callbackURL, ref string) (string, error)
}

// HTTPAuthority talks to the credential authority's HTTP API.
type HTTPAuthority struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPAuthority creates a credential authority client.
func NewHTTPAuthority(baseURL, token string) *HTTPAuthority {
	return &HTTPAuthority{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RegisterType registers a credential schema.
func (a *HTTPAuthority) RegisterType(ctx context.Context, schema Schema) (string, error) {
	var out struct {
		DefinitionID string `json:"definitionId"`
	}
	if err := a.post(ctx, "/credential-types", schema, &out); err != nil {
		return "", err
	}
	return out.DefinitionID, nil
}

// Issue sends a credential offer bound to a connection.
func (a *HTTPAuthority) Issue(ctx context.Context, definitionID, connectionID string, claims map[string]string) (string, error) {
	payload := map[string]interface{}{
		"definitionId": definitionID,
		"connectionId": connectionID,
		"claims":       claims,
	}
	var out struct {
		CredentialExchangeID string `json:"credentialExchangeId"`
	}
	if err := a.post(ctx, "/credentials/issue", payload, &out); err != nil {
		return "", err
	}
	return out.CredentialExchangeID, nil
}

// RequestProof asks a connection for an identity proof.
func (a *HTTPAuthority) RequestProof(ctx context.Context, definitionID, connectionID string, attributes []string) (string, error) {
	payload := map[string]interface{}{
		"definitionId": definitionID,
		"connectionId": connectionID,
		"attributes":   attributes,
	}
	var out struct {
		ProofExchangeID string `json:"proofExchangeId"`
	}
	if err := a.post(ctx, "/proofs/request", payload, &out); err != nil {
		return "", err
	}
	return out.ProofExchangeID, nil
}

// CreatePresentationRequest creates a callback-driven presentation.
func (a *HTTPAuthority) CreatePresentationRequest(ctx context.Context, definitionID, callbackURL, ref string) (string, error) {
	payload := map[string]interface{}{
		"definitionId": definitionID,
		"callbackUrl":  callbackURL,
		"ref":          ref,
	}
	var out struct {
		ProofExchangeID string `json:"proofExchangeId"`
	}
	if err := a.post(ctx, "/presentations", payload, &out); err != nil {
		return "", err
	}
	return out.ProofExchangeID, nil
}

func (a *HTTPAuthority) post(ctx context.Context, path string, payload, out interface{}) error {
	u, err := url.JoinPath(a.baseURL, path)
	if err != nil {
		return fmt.Errorf("build authority url: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode authority payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build authority request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authority %s: %w: %v", path, domain.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("authority %s: %w: status %d", path, domain.ErrExternalService, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode authority response: %w: %v", domain.ErrExternalService, err)
		}
	}
	return nil
}
