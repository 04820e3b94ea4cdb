package credential

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openavatar/concierge/internal/domain"
	"github.com/openavatar/concierge/internal/store"
)

// Revealed claim attribute names. Issuance carries the full set; proof
// requests reveal only ClaimConfigID, ClaimName and ClaimOwner.
const (
	ClaimConfigID  = "avatar_config_id"
	ClaimName      = "avatar_name"
	ClaimOwner     = "owner_connection_id"
	ClaimAvatarRef = "avatar_ref"
	ClaimVoiceRef  = "voice_ref"
	ClaimLanguage  = "language_code"
	ClaimCreatedAt = "created_at"
	ClaimIssuer    = "issuer"
)

var proofAttributes = []string{ClaimConfigID, ClaimName, ClaimOwner}

// schema is the credential type registered for avatar ownership.
var schema = Schema{
	Name:    "avatar-ownership",
	Version: "1.0",
	Attributes: []string{
		ClaimConfigID, ClaimName, ClaimOwner, ClaimAvatarRef,
		ClaimVoiceRef, ClaimLanguage, ClaimCreatedAt, ClaimIssuer,
	},
}

// Coordinator issues ownership credentials for completed avatar configs and
// correlates asynchronous verification results through the presentation store.
type Coordinator struct {
	authority       Authority
	configs         store.ConfigStore
	presentations   store.PresentationStore
	issuerID        string
	callbackURL     string
	presentationTTL time.Duration

	mu           sync.Mutex
	definitionID string
}

// NewCoordinator creates a coordinator. definitionID may be empty, in which
// case EnsureDefinition registers the schema with the authority on startup.
func NewCoordinator(authority Authority, configs store.ConfigStore, presentations store.PresentationStore,
	definitionID, issuerID, callbackURL string, presentationTTL time.Duration) *Coordinator {
	return &Coordinator{
		authority:       authority,
		configs:         configs,
		presentations:   presentations,
		issuerID:        issuerID,
		callbackURL:     callbackURL,
		presentationTTL: presentationTTL,
		definitionID:    definitionID,
	}
}

// EnsureDefinition makes sure a credential definition is available.
// Idempotent: a configured definition id skips registration.
func (c *Coordinator) EnsureDefinition(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.definitionID != "" {
		return nil
	}
	id, err := c.authority.RegisterType(ctx, schema)
	if err != nil {
		return fmt.Errorf("register credential type: %w", err)
	}
	c.definitionID = id
	slog.Info("Credential definition registered", "definition_id", id)
	return nil
}

// Configured reports whether a credential definition is available.
func (c *Coordinator) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.definitionID != ""
}

func (c *Coordinator) definition() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.definitionID
}

// IssueAvatarCredential sends an ownership credential offer for a committed
// config and stamps the definition and issuance correlation id on the row.
// The issued timestamp is stamped later, when the holder's wallet reports
// reception through the webhook.
func (c *Coordinator) IssueAvatarCredential(ctx context.Context, cfg *domain.AvatarConfig) error {
	definitionID := c.definition()
	if definitionID == "" {
		return domain.ErrNotConfigured
	}

	claims := map[string]string{
		ClaimConfigID:  cfg.ID,
		ClaimName:      cfg.Name,
		ClaimOwner:     cfg.OwnerConnectionID,
		ClaimAvatarRef: cfg.AvatarRef,
		ClaimVoiceRef:  cfg.VoiceRef,
		ClaimLanguage:  cfg.LanguageCode,
		ClaimCreatedAt: strconv.FormatInt(cfg.CreatedAt.Unix(), 10),
		ClaimIssuer:    c.issuerID,
	}

	requestID, err := c.authority.Issue(ctx, definitionID, cfg.OwnerConnectionID, claims)
	if err != nil {
		return fmt.Errorf("issue credential for config %s: %w", cfg.ID, err)
	}

	if err := c.configs.SetCredentialRequest(ctx, cfg.ID, definitionID, requestID); err != nil {
		return fmt.Errorf("record credential request: %w", err)
	}
	cfg.CredentialDefinitionID = definitionID
	cfg.CredentialRequestID = requestID

	slog.Info("Credential issuance requested",
		"config_id", cfg.ID, "owner", cfg.OwnerConnectionID, "request_id", requestID)
	return nil
}

// CompleteIssuance reconciles an asynchronous issuance completion, matching
// the config by the correlation id recorded at issue time. Returns the
// stamped config, or domain.ErrNotFound for an unknown id.
func (c *Coordinator) CompleteIssuance(ctx context.Context, requestID string) (*domain.AvatarConfig, error) {
	cfg, err := c.configs.GetConfigByCredentialRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrNotFound
	}
	now := time.Now()
	if err := c.configs.MarkCredentialIssued(ctx, cfg.ID, now); err != nil {
		return nil, err
	}
	cfg.CredentialIssuedAt = &now
	return cfg, nil
}

// RequestAccessProof asks the requester to prove ownership of a protected
// config. The pending presentation row is created before the outbound request
// so an arriving callback always has a row to correlate with; if the request
// fails the row is rolled back. An open presentation for the same
// (requester, config) pair is reused instead of sending a second request;
// requested reports whether a new proof request actually went out.
func (c *Coordinator) RequestAccessProof(ctx context.Context, requesterConnectionID string, cfg *domain.AvatarConfig) (p *domain.PendingPresentation, requested bool, err error) {
	definitionID := c.definition()
	if definitionID == "" {
		return nil, false, domain.ErrNotConfigured
	}

	if open, err := c.presentations.GetOpenPresentation(ctx, requesterConnectionID, cfg.ID); err != nil {
		return nil, false, err
	} else if open != nil {
		return open, false, nil
	}

	now := time.Now()
	p = &domain.PendingPresentation{
		ID:                    uuid.NewString(),
		RequesterConnectionID: requesterConnectionID,
		AvatarConfigID:        cfg.ID,
		Status:                domain.PresentationPending,
		CreatedAt:             now,
		ExpiresAt:             now.Add(c.presentationTTL),
	}
	if err := c.presentations.CreatePresentation(ctx, p); err != nil {
		return nil, false, err
	}

	exchangeID, err := c.authority.RequestProof(ctx, definitionID, requesterConnectionID, proofAttributes)
	if err != nil {
		if delErr := c.presentations.DeletePresentation(ctx, p.ID); delErr != nil {
			slog.Warn("Failed to roll back presentation", "presentation_id", p.ID, "error", delErr)
		}
		return nil, false, fmt.Errorf("request proof for config %s: %w", cfg.ID, err)
	}

	if err := c.presentations.SetProofExchangeID(ctx, p.ID, exchangeID); err != nil {
		return nil, false, err
	}
	p.ProofExchangeID = exchangeID

	slog.Info("Identity proof requested",
		"config_id", cfg.ID, "requester", requesterConnectionID, "proof_exchange_id", exchangeID)
	return p, true, nil
}

// CreatePresentationRequest creates a callback-driven presentation for a
// config, for requesters without an established connection. As with
// RequestAccessProof, the row exists before the outbound call.
func (c *Coordinator) CreatePresentationRequest(ctx context.Context, cfg *domain.AvatarConfig) (*domain.PendingPresentation, error) {
	definitionID := c.definition()
	if definitionID == "" {
		return nil, domain.ErrNotConfigured
	}

	now := time.Now()
	p := &domain.PendingPresentation{
		ID:             uuid.NewString(),
		AvatarConfigID: cfg.ID,
		Status:         domain.PresentationPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.presentationTTL),
	}
	if err := c.presentations.CreatePresentation(ctx, p); err != nil {
		return nil, err
	}

	exchangeID, err := c.authority.CreatePresentationRequest(ctx, definitionID, c.callbackURL, p.ID)
	if err != nil {
		if delErr := c.presentations.DeletePresentation(ctx, p.ID); delErr != nil {
			slog.Warn("Failed to roll back presentation", "presentation_id", p.ID, "error", delErr)
		}
		return nil, fmt.Errorf("create presentation request for config %s: %w", cfg.ID, err)
	}

	if err := c.presentations.SetProofExchangeID(ctx, p.ID, exchangeID); err != nil {
		return nil, err
	}
	p.ProofExchangeID = exchangeID
	return p, nil
}

// ResolvePresentation applies the verification outcome for a proof exchange.
// The terminal transition is guarded by the store; a second outcome for the
// same exchange returns domain.ErrAlreadyResolved.
func (c *Coordinator) ResolvePresentation(ctx context.Context, proofExchangeID string, verified bool) (*domain.PendingPresentation, error) {
	status := domain.PresentationRejected
	if verified {
		status = domain.PresentationVerified
	}
	if err := c.presentations.ResolvePresentation(ctx, proofExchangeID, status, time.Now()); err != nil {
		return nil, err
	}
	return c.presentations.GetPresentationByExchange(ctx, proofExchangeID)
}
