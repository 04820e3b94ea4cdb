package domain

import (
	"errors"
)

// Sentinel errors classifying failures that surface to the end user as
// conversational replies. Anything not matching one of these is treated as an
// internal fault for the current request.
var (
	// ErrNotConfigured indicates the credential definition has not been
	// registered or supplied, so issuance and proofs are unavailable.
	ErrNotConfigured = errors.New("credential definition not configured")

	// ErrNotFound indicates a named avatar config or referenced record does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrExternalService indicates a collaborator call (catalog, credential
	// authority, streaming provider, messaging gateway) failed. No retry is
	// attempted.
	ErrExternalService = errors.New("external service failure")

	// ErrOwnershipViolation indicates a presented credential's owner claim
	// does not match the requesting connection.
	ErrOwnershipViolation = errors.New("credential does not belong to requester")

	// ErrAlreadyResolved indicates a presentation already reached a terminal
	// status; terminal transitions are never overwritten.
	ErrAlreadyResolved = errors.New("presentation already resolved")

	// ErrNameTaken indicates the owner already has an avatar config with the
	// same name (case-insensitive).
	ErrNameTaken = errors.New("avatar name already in use")
)
