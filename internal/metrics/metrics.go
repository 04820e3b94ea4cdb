// Package metrics exposes prometheus counters for the webhook pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsReceived counts inbound webhook events by message type.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concierge_events_received_total",
		Help: "Inbound webhook events by type.",
	}, []string{"type"})

	// WizardCommits counts avatar configs committed through the wizard.
	WizardCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_wizard_commits_total",
		Help: "Avatar configurations committed.",
	})

	// CredentialsIssued counts issuance requests sent to the authority.
	CredentialsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concierge_credentials_issued_total",
		Help: "Ownership credential issuance requests sent.",
	})

	// ProofOutcomes counts identity-proof resolutions by outcome.
	ProofOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concierge_proof_outcomes_total",
		Help: "Identity proof outcomes (verified, rejected).",
	}, []string{"outcome"})
)
