// Package httpapi provides the HTTP surface: the inbound webhook, the
// presentation callback, the invitation endpoint, and health checks.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/openavatar/concierge/internal/gateway"
	"github.com/openavatar/concierge/internal/router"
	"github.com/openavatar/concierge/internal/store"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Handler serves the webhook and callback endpoints.
type Handler struct {
	router    *router.Router
	messenger gateway.Messenger
}

// NewHandler creates a new Handler.
func NewHandler(rt *router.Router, messenger gateway.Messenger) *Handler {
	return &Handler{router: rt, messenger: messenger}
}

// RegisterRoutes registers the webhook, callback, and invitation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Webhook)
	r.Post("/callback/presentations", h.PresentationCallback)
	r.Get("/invitation", h.Invitation)
}

// Webhook handles one inbound gateway event. Classified failures were
// already answered conversationally by the router, so the gateway gets a 2xx
// and never retries them; only store-level faults surface as 500.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var ev gateway.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		Error(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if ev.Type == "" || ev.ConnectionID == "" {
		Error(w, http.StatusBadRequest, "type and connectionId are required")
		return
	}

	if err := h.router.HandleEvent(r.Context(), &ev); err != nil {
		slog.Error("Event handling failed", "type", ev.Type, "connection_id", ev.ConnectionID, "error", err)
		Error(w, http.StatusInternalServerError, "event handling failed")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// presentationCallback is the verification result delivered by the
// credential authority.
type presentationCallback struct {
	ProofExchangeID string            `json:"proofExchangeId"`
	Verified        bool              `json:"verified"`
	Ref             string            `json:"ref"`
	Claims          map[string]string `json:"claims"`
}

// PresentationCallback handles an asynchronous verification result.
func (h *Handler) PresentationCallback(w http.ResponseWriter, r *http.Request) {
	var cb presentationCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		Error(w, http.StatusBadRequest, "invalid callback payload")
		return
	}
	if cb.ProofExchangeID == "" {
		Error(w, http.StatusBadRequest, "proofExchangeId is required")
		return
	}

	if err := h.router.HandlePresentationCallback(r.Context(), cb.ProofExchangeID, cb.Verified, cb.Claims); err != nil {
		slog.Error("Presentation callback failed", "proof_exchange_id", cb.ProofExchangeID, "error", err)
		Error(w, http.StatusInternalServerError, "callback handling failed")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Invitation returns a connection invitation URL from the gateway.
func (h *Handler) Invitation(w http.ResponseWriter, r *http.Request) {
	url, err := h.messenger.FetchInvitation(r.Context())
	if err != nil {
		slog.Error("Invitation fetch failed", "error", err)
		Error(w, http.StatusBadGateway, "invitation unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"url": url})
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Health)
}

// Health returns the health status of the service and its database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}
