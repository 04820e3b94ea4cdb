package domain

import (
	"time"
)

// AvatarConfig is a completed, named avatar configuration owned by a
// connection. Names are unique per owner (case-insensitive). Configs are
// never deleted by the service.
type AvatarConfig struct {
	ID                     string
	OwnerConnectionID      string
	Name                   string
	AvatarRef              string
	VoiceRef               string
	LanguageCode           string
	Personality            *string
	CredentialDefinitionID string
	CredentialRequestID    string
	CredentialIssuedAt     *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Protected reports whether an ownership credential has been issued for this
// config. Protected configs require a verified identity proof before a
// streaming session is started for them.
func (c *AvatarConfig) Protected() bool {
	return c.CredentialDefinitionID != ""
}

// CredentialConfirmed reports whether the holder has acknowledged receiving
// the ownership credential.
func (c *AvatarConfig) CredentialConfirmed() bool {
	return c.CredentialIssuedAt != nil
}
