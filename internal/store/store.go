// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/openavatar/concierge/internal/domain"
)

// SessionStore persists in-flight wizard sessions, one per connection.
type SessionStore interface {
	// GetSession retrieves the wizard session for a connection.
	// Returns (nil, nil) if no session exists or the session has expired.
	GetSession(ctx context.Context, connectionID string) (*domain.WizardSession, error)

	// PutSession creates or replaces the wizard session for a connection.
	PutSession(ctx context.Context, session *domain.WizardSession) error

	// DeleteSession removes the wizard session for a connection.
	// Deleting a non-existent session is not an error.
	DeleteSession(ctx context.Context, connectionID string) error

	// DeleteExpiredSessions removes sessions whose expiry has passed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// ConfigStore persists completed avatar configurations.
type ConfigStore interface {
	// CreateConfig inserts a new avatar config. Returns domain.ErrNameTaken
	// if the owner already has a config with the same name (case-insensitive).
	CreateConfig(ctx context.Context, cfg *domain.AvatarConfig) error

	// GetConfig retrieves a config by id. Returns (nil, nil) if absent.
	GetConfig(ctx context.Context, id string) (*domain.AvatarConfig, error)

	// GetConfigByName retrieves a config by owner and name, matching the name
	// case-insensitively. Returns (nil, nil) if absent.
	GetConfigByName(ctx context.Context, ownerConnectionID, name string) (*domain.AvatarConfig, error)

	// ListConfigs returns all configs owned by a connection, oldest first.
	ListConfigs(ctx context.Context, ownerConnectionID string) ([]*domain.AvatarConfig, error)

	// SetCredentialRequest stamps the credential definition and the issuance
	// correlation id on a config after an issuance request is sent.
	SetCredentialRequest(ctx context.Context, id, definitionID, requestID string) error

	// GetConfigByCredentialRequest retrieves the config whose issuance was
	// correlated with requestID. Returns (nil, nil) if absent.
	GetConfigByCredentialRequest(ctx context.Context, requestID string) (*domain.AvatarConfig, error)

	// MarkCredentialIssued sets the credential-issued timestamp. The stamp is
	// applied at most once and only if a credential definition is set.
	// Returns domain.ErrAlreadyResolved if already stamped, domain.ErrNotFound
	// if the config is unknown or has no credential definition.
	MarkCredentialIssued(ctx context.Context, id string, at time.Time) error
}

// PresentationStore persists outstanding identity-proof presentations.
type PresentationStore interface {
	// CreatePresentation inserts a new pending presentation.
	CreatePresentation(ctx context.Context, p *domain.PendingPresentation) error

	// SetProofExchangeID records the correlation token assigned by the
	// credential authority for a presentation.
	SetProofExchangeID(ctx context.Context, id, proofExchangeID string) error

	// GetPresentationByExchange retrieves a presentation by its external
	// correlation token. Returns (nil, nil) if absent.
	GetPresentationByExchange(ctx context.Context, proofExchangeID string) (*domain.PendingPresentation, error)

	// GetOpenPresentation returns the non-terminal, non-expired presentation
	// for a (requester, config) pair, or (nil, nil) if none exists.
	GetOpenPresentation(ctx context.Context, requesterConnectionID, configID string) (*domain.PendingPresentation, error)

	// ResolvePresentation applies a terminal status to a pending presentation.
	// Returns domain.ErrAlreadyResolved if the presentation already reached a
	// terminal status, domain.ErrNotFound if the exchange id is unknown.
	ResolvePresentation(ctx context.Context, proofExchangeID string, status domain.PresentationStatus, at time.Time) error

	// DeletePresentation removes a presentation row, used to roll back when
	// the outbound proof request fails.
	DeletePresentation(ctx context.Context, id string) error

	// ExpirePresentations marks pending presentations past expiry as expired.
	ExpirePresentations(ctx context.Context, now time.Time) (int64, error)
}

// WizardStore is the persistence surface the wizard engine needs: session
// lifecycle, duplicate-name checks, and the atomic commit.
type WizardStore interface {
	SessionStore

	// GetConfigByName is used for the per-owner duplicate-name check at the
	// name-input step.
	GetConfigByName(ctx context.Context, ownerConnectionID, name string) (*domain.AvatarConfig, error)

	// CommitWizard atomically creates the avatar config produced by a
	// completed wizard and deletes the owner's session. A crash leaves either
	// the old state or the new state, never both.
	CommitWizard(ctx context.Context, cfg *domain.AvatarConfig) error
}

// Repository is the full persistence surface backed by a single database.
type Repository interface {
	SessionStore
	ConfigStore
	PresentationStore

	// CommitWizard atomically creates an avatar config and deletes the
	// owner's wizard session.
	CommitWizard(ctx context.Context, cfg *domain.AvatarConfig) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
