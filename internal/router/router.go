// Package router classifies inbound gateway events into named commands or
// wizard input and dispatches them to the wizard engine and the credential
// coordinator.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/openavatar/concierge/internal/credential"
	"github.com/openavatar/concierge/internal/domain"
	"github.com/openavatar/concierge/internal/gateway"
	"github.com/openavatar/concierge/internal/metrics"
	"github.com/openavatar/concierge/internal/store"
	"github.com/openavatar/concierge/internal/streaming"
	"github.com/openavatar/concierge/internal/wizard"
)

// Router dispatches inbound events. Each event is handled independently;
// per-user correctness relies on the persisted rows, not in-process locks.
type Router struct {
	engine    *wizard.Engine
	coord     *credential.Coordinator
	configs   store.ConfigStore
	messenger gateway.Messenger
	sessions  streaming.Provider
	relay     *streaming.Relay
}

// New creates a router. relay may be nil when the websocket surface is
// disabled.
func New(engine *wizard.Engine, coord *credential.Coordinator, configs store.ConfigStore,
	messenger gateway.Messenger, sessions streaming.Provider, relay *streaming.Relay) *Router {
	return &Router{
		engine:    engine,
		coord:     coord,
		configs:   configs,
		messenger: messenger,
		sessions:  sessions,
		relay:     relay,
	}
}

// HandleEvent processes one webhook event. A non-nil return means an internal
// fault (store failure, unexpected state); every classified failure has
// already been delivered to the user as a conversational reply.
func (rt *Router) HandleEvent(ctx context.Context, ev *gateway.Event) error {
	switch ev.Type {
	case gateway.EventConnectionEstablished:
		metrics.EventsReceived.WithLabelValues(ev.Type).Inc()
		rt.reply(ctx, ev.ConnectionID, msgWelcome)
		return nil
	case gateway.EventMessageReceived:
		if ev.Message == nil {
			slog.Warn("message-received event without message body", "connection_id", ev.ConnectionID)
			return nil
		}
		metrics.EventsReceived.WithLabelValues(ev.Message.Type).Inc()
		switch ev.Message.Type {
		case gateway.MessageTypeText:
			return rt.handleText(ctx, ev.ConnectionID, ev.Message.Content)
		case gateway.MessageTypeProfile:
			rt.reply(ctx, ev.ConnectionID, msgProfileGreeting(ev.Message.DisplayName))
			return nil
		case gateway.MessageTypeCredentialReception:
			return rt.handleCredentialReception(ctx, ev.ConnectionID, ev.Message)
		case gateway.MessageTypeIdentityProofSubmit:
			return rt.handleProofSubmit(ctx, ev.ConnectionID, ev.Message)
		default:
			slog.Debug("ignoring message type", "type", ev.Message.Type, "connection_id", ev.ConnectionID)
			return nil
		}
	default:
		slog.Debug("ignoring event type", "type", ev.Type)
		return nil
	}
}

// handleText routes a chat message. Named commands always win; otherwise an
// active wizard session consumes the text as step input.
func (rt *Router) handleText(ctx context.Context, connectionID, content string) error {
	if cmd, arg, ok := parseCommand(content); ok {
		switch cmd {
		case "create":
			return rt.handleCreate(ctx, connectionID)
		case "access":
			return rt.handleAccess(ctx, connectionID, arg)
		case "cancel":
			return rt.handleCancel(ctx, connectionID)
		case "list":
			return rt.handleList(ctx, connectionID)
		case "help":
			rt.reply(ctx, connectionID, msgHelp)
			return nil
		}
	}

	active, err := rt.engine.HasActiveSession(ctx, connectionID)
	if err != nil {
		return err
	}
	if !active {
		rt.reply(ctx, connectionID, msgUnknownInput)
		return nil
	}

	res, err := rt.engine.ProcessInput(ctx, connectionID, content)
	if err != nil {
		return rt.replyOrFail(ctx, connectionID, err)
	}
	rt.reply(ctx, connectionID, res.Reply)
	if res.Completed {
		metrics.WizardCommits.Inc()
		rt.offerCredential(ctx, connectionID, res.Config)
	}
	return nil
}

func (rt *Router) handleCreate(ctx context.Context, connectionID string) error {
	res, err := rt.engine.StartWizard(ctx, connectionID)
	if err != nil {
		return rt.replyOrFail(ctx, connectionID, err)
	}
	rt.reply(ctx, connectionID, res.Reply)
	return nil
}

func (rt *Router) handleCancel(ctx context.Context, connectionID string) error {
	active, err := rt.engine.HasActiveSession(ctx, connectionID)
	if err != nil {
		return err
	}
	if !active {
		rt.reply(ctx, connectionID, msgNothingToCancel)
		return nil
	}
	if err := rt.engine.CancelWizard(ctx, connectionID); err != nil {
		return err
	}
	rt.reply(ctx, connectionID, "Avatar creation cancelled.")
	return nil
}

func (rt *Router) handleList(ctx context.Context, connectionID string) error {
	configs, err := rt.configs.ListConfigs(ctx, connectionID)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		rt.reply(ctx, connectionID, msgNoAvatars)
		return nil
	}
	lines := make([]string, 0, len(configs)+1)
	lines = append(lines, "Your avatars:")
	for _, cfg := range configs {
		lines = append(lines, listLine(cfg.Name, cfg.Protected()))
	}
	rt.reply(ctx, connectionID, strings.Join(lines, "\n"))
	return nil
}

// handleAccess starts a session with a named avatar. Protected configs get a
// proof request instead; the session starts later when the verified proof
// arrives.
func (rt *Router) handleAccess(ctx context.Context, connectionID, name string) error {
	if name == "" {
		rt.reply(ctx, connectionID, msgAccessUsage)
		return nil
	}

	cfg, err := rt.configs.GetConfigByName(ctx, connectionID, name)
	if err != nil {
		return err
	}
	if cfg == nil {
		rt.reply(ctx, connectionID, msgNotFound(name))
		return nil
	}

	if cfg.Protected() && rt.coord.Configured() {
		_, requested, err := rt.coord.RequestAccessProof(ctx, connectionID, cfg)
		if err != nil {
			return rt.replyOrFail(ctx, connectionID, err)
		}
		if requested {
			rt.reply(ctx, connectionID, msgProofRequested)
		} else {
			rt.reply(ctx, connectionID, msgProofPending)
		}
		return nil
	}

	return rt.startSession(ctx, connectionID, cfg)
}

// handleProofSubmit validates a submitted identity proof and, on success,
// starts a session with the referenced config. The claims themselves carry
// the authority's verdict; the pending presentation row is resolved for
// correlation and replay protection.
func (rt *Router) handleProofSubmit(ctx context.Context, connectionID string, msg *gateway.InboundMessage) error {
	if len(msg.SubmittedProofItems) != 1 {
		rt.reply(ctx, connectionID, msgProofEmpty)
		return nil
	}
	if !msg.Verified {
		rt.resolveProof(ctx, msg.ProofExchangeID, false)
		rt.publishProofStatus(connectionID, string(domain.PresentationRejected))
		rt.reply(ctx, connectionID, msgProofNotVerified)
		return nil
	}

	claims := msg.SubmittedProofItems[0].Claims
	configID := claims[credential.ClaimConfigID]
	if configID == "" {
		rt.resolveProof(ctx, msg.ProofExchangeID, false)
		rt.reply(ctx, connectionID, msgProofMissingConfig)
		return nil
	}
	if owner := claims[credential.ClaimOwner]; owner != connectionID {
		rt.resolveProof(ctx, msg.ProofExchangeID, false)
		rt.publishProofStatus(connectionID, string(domain.PresentationRejected))
		rt.reply(ctx, connectionID, msgProofWrongOwner)
		return nil
	}

	cfg, err := rt.configs.GetConfig(ctx, configID)
	if err != nil {
		return err
	}
	if cfg == nil {
		rt.resolveProof(ctx, msg.ProofExchangeID, false)
		rt.reply(ctx, connectionID, msgProofUnknownConfig)
		return nil
	}

	if msg.ProofExchangeID != "" {
		if _, err := rt.coord.ResolvePresentation(ctx, msg.ProofExchangeID, true); err != nil {
			if errors.Is(err, domain.ErrAlreadyResolved) {
				rt.reply(ctx, connectionID, msgProofStale)
				return nil
			}
			// An unknown exchange id is tolerated: the verified claims are
			// the authority's verdict, the row is correlation bookkeeping.
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
	}

	metrics.ProofOutcomes.WithLabelValues(string(domain.PresentationVerified)).Inc()
	rt.publishProofStatus(connectionID, string(domain.PresentationVerified))
	return rt.startSession(ctx, connectionID, cfg)
}

// handleCredentialReception reconciles asynchronous issuance completion,
// matching the config by the correlation id recorded when the offer was sent.
func (rt *Router) handleCredentialReception(ctx context.Context, connectionID string, msg *gateway.InboundMessage) error {
	if msg.State != gateway.CredentialStateDone {
		if msg.State == gateway.CredentialStateDeclined {
			rt.reply(ctx, connectionID, msgCredentialDeclined)
		}
		return nil
	}

	cfg, err := rt.coord.CompleteIssuance(ctx, msg.CredentialExchangeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyResolved) {
			slog.Info("Unmatched credential reception",
				"connection_id", connectionID, "credential_exchange_id", msg.CredentialExchangeID)
			return nil
		}
		return err
	}

	slog.Info("Credential issuance confirmed", "config_id", cfg.ID, "owner", cfg.OwnerConnectionID)
	rt.reply(ctx, connectionID, msgCredentialStored)
	return nil
}

// HandlePresentationCallback processes a verification result delivered by the
// credential authority to the callback URL (the out-of-band flow).
func (rt *Router) HandlePresentationCallback(ctx context.Context, proofExchangeID string, verified bool, claims map[string]string) error {
	p, err := rt.coord.ResolvePresentation(ctx, proofExchangeID, verified)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			// The authority redelivered the callback; the first delivery won.
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("Callback for unknown presentation", "proof_exchange_id", proofExchangeID)
			return nil
		}
		return err
	}

	channel := p.RequesterConnectionID
	if channel == "" {
		channel = p.ID
	}

	if !verified {
		metrics.ProofOutcomes.WithLabelValues(string(domain.PresentationRejected)).Inc()
		rt.publishProofStatus(channel, string(domain.PresentationRejected))
		if p.RequesterConnectionID != "" {
			rt.reply(ctx, p.RequesterConnectionID, msgProofNotVerified)
		}
		return nil
	}

	if owner, ok := claims[credential.ClaimOwner]; ok && p.RequesterConnectionID != "" && owner != p.RequesterConnectionID {
		rt.publishProofStatus(channel, string(domain.PresentationRejected))
		rt.reply(ctx, p.RequesterConnectionID, msgProofWrongOwner)
		return nil
	}

	cfg, err := rt.configs.GetConfig(ctx, p.AvatarConfigID)
	if err != nil {
		return err
	}
	if cfg == nil {
		slog.Warn("Verified presentation references missing config",
			"proof_exchange_id", proofExchangeID, "config_id", p.AvatarConfigID)
		return nil
	}

	metrics.ProofOutcomes.WithLabelValues(string(domain.PresentationVerified)).Inc()
	rt.publishProofStatus(channel, string(domain.PresentationVerified))

	if p.RequesterConnectionID != "" {
		return rt.startSession(ctx, p.RequesterConnectionID, cfg)
	}

	// No connection to message; hand the session to the relay subscriber.
	sess, err := rt.sessions.CreateSession(ctx, cfg.AvatarRef, cfg.VoiceRef, cfg.LanguageCode, personality(cfg))
	if err != nil {
		slog.Error("Session start after callback failed", "config_id", cfg.ID, "error", err)
		return nil
	}
	rt.publishSession(channel, sess.URL)
	return nil
}

// startSession creates a streaming session from a stored config and delivers
// the link to the user.
func (rt *Router) startSession(ctx context.Context, connectionID string, cfg *domain.AvatarConfig) error {
	sess, err := rt.sessions.CreateSession(ctx, cfg.AvatarRef, cfg.VoiceRef, cfg.LanguageCode, personality(cfg))
	if err != nil {
		return rt.replyOrFail(ctx, connectionID, err)
	}
	rt.publishSession(connectionID, sess.URL)
	if err := rt.messenger.DeliverLink(ctx, connectionID, msgSessionReady(cfg.Name), sess.URL); err != nil {
		slog.Warn("Failed to deliver session link", "connection_id", connectionID, "error", err)
	}
	return nil
}

// offerCredential sends the ownership credential for a freshly committed
// config. Failures are conversational; an unconfigured coordinator simply
// leaves the config unprotected.
func (rt *Router) offerCredential(ctx context.Context, connectionID string, cfg *domain.AvatarConfig) {
	if !rt.coord.Configured() {
		return
	}
	if err := rt.coord.IssueAvatarCredential(ctx, cfg); err != nil {
		slog.Error("Credential issuance failed", "config_id", cfg.ID, "error", err)
		if msg := conversational(err); msg != "" {
			rt.reply(ctx, connectionID, msg)
		}
		return
	}
	metrics.CredentialsIssued.Inc()
	rt.reply(ctx, connectionID, msgCredentialOffer)
}

// resolveProof applies a terminal status to the presentation row for an
// exchange id, tolerating unknown or already-resolved rows.
func (rt *Router) resolveProof(ctx context.Context, proofExchangeID string, verified bool) {
	if proofExchangeID == "" {
		return
	}
	if _, err := rt.coord.ResolvePresentation(ctx, proofExchangeID, verified); err != nil &&
		!errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrAlreadyResolved) {
		slog.Warn("Failed to resolve presentation", "proof_exchange_id", proofExchangeID, "error", err)
	}
	if !verified {
		metrics.ProofOutcomes.WithLabelValues(string(domain.PresentationRejected)).Inc()
	}
}

// replyOrFail converts a classified failure into a conversational reply and
// swallows it; anything else propagates as an internal fault.
func (rt *Router) replyOrFail(ctx context.Context, connectionID string, err error) error {
	if msg := conversational(err); msg != "" {
		slog.Warn("Conversational failure", "connection_id", connectionID, "error", err)
		rt.reply(ctx, connectionID, msg)
		return nil
	}
	return err
}

// reply delivers a message, logging delivery failures instead of failing the
// webhook: the gateway should never see a reply failure as a reason to retry
// event delivery.
func (rt *Router) reply(ctx context.Context, connectionID, text string) {
	if err := rt.messenger.Deliver(ctx, connectionID, text); err != nil {
		slog.Warn("Failed to deliver reply", "connection_id", connectionID, "error", err)
	}
}

func (rt *Router) publishSession(channel, url string) {
	if rt.relay == nil {
		return
	}
	rt.relay.Publish(streaming.RelayEvent{Kind: "session-ready", ConnectionID: channel, SessionURL: url})
}

func (rt *Router) publishProofStatus(channel, status string) {
	if rt.relay == nil {
		return
	}
	rt.relay.Publish(streaming.RelayEvent{Kind: "proof-status", ConnectionID: channel, ProofStatus: status})
}

func personality(cfg *domain.AvatarConfig) string {
	if cfg.Personality == nil {
		return ""
	}
	return *cfg.Personality
}
