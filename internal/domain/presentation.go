package domain

import (
	"time"
)

// PresentationStatus is the lifecycle state of a pending identity-proof
// presentation. Transitions only move forward: pending is the sole
// non-terminal state.
type PresentationStatus string

const (
	PresentationPending  PresentationStatus = "pending"
	PresentationVerified PresentationStatus = "verified"
	PresentationRejected PresentationStatus = "rejected"
	PresentationExpired  PresentationStatus = "expired"
)

// PendingPresentation correlates an outstanding identity-proof request with
// the avatar config it guards. ProofExchangeID is the correlation token
// assigned by the credential authority once the outbound request succeeds.
type PendingPresentation struct {
	ID                    string
	ProofExchangeID       string
	RequesterConnectionID string
	AvatarConfigID        string
	Status                PresentationStatus
	CreatedAt             time.Time
	ExpiresAt             time.Time
	VerifiedAt            *time.Time
}

// Terminal reports whether the presentation has reached a final status.
func (p *PendingPresentation) Terminal() bool {
	return p.Status != PresentationPending
}

// Expired reports whether the presentation has passed its expiry time.
func (p *PendingPresentation) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
