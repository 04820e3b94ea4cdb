// Package gateway integrates the messaging gateway: outbound message
// delivery, invitation fetching, and the inbound webhook event shapes.
package gateway

// Webhook event and message types. These are the only inbound shapes the
// service parses; anything else is logged and ignored.
const (
	EventConnectionEstablished = "connection-established"
	EventMessageReceived       = "message-received"

	MessageTypeText                = "text"
	MessageTypeProfile             = "profile"
	MessageTypeCredentialReception = "credential-reception"
	MessageTypeIdentityProofSubmit = "identity-proof-submit"
)

// Credential reception states reported by the holder's wallet.
const (
	CredentialStateDone     = "done"
	CredentialStateDeclined = "declined"
)

// Event is one inbound webhook payload from the messaging gateway.
type Event struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId"`
	Message      *InboundMessage `json:"message,omitempty"`
}

// InboundMessage is the message body of a message-received event. Fields are
// populated according to Type.
type InboundMessage struct {
	Type string `json:"type"`

	// text
	Content string `json:"content,omitempty"`

	// profile
	DisplayName       string `json:"displayName,omitempty"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`

	// credential-reception
	CredentialExchangeID string `json:"credentialExchangeId,omitempty"`
	State                string `json:"state,omitempty"`

	// identity-proof-submit
	ProofExchangeID     string      `json:"proofExchangeId,omitempty"`
	Verified            bool        `json:"verified,omitempty"`
	SubmittedProofItems []ProofItem `json:"submittedProofItems,omitempty"`
}

// ProofItem is one submitted proof with its revealed claims.
type ProofItem struct {
	Claims map[string]string `json:"claims"`
}
