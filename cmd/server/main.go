// Avatar concierge server: webhook-driven avatar creation and
// credential-gated access.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openavatar/concierge/internal/catalog"
	"github.com/openavatar/concierge/internal/config"
	"github.com/openavatar/concierge/internal/credential"
	"github.com/openavatar/concierge/internal/gateway"
	"github.com/openavatar/concierge/internal/httpapi"
	"github.com/openavatar/concierge/internal/middleware"
	"github.com/openavatar/concierge/internal/router"
	"github.com/openavatar/concierge/internal/store"
	"github.com/openavatar/concierge/internal/streaming"
	"github.com/openavatar/concierge/internal/sweep"
	"github.com/openavatar/concierge/internal/wizard"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Collaborator clients.
	messenger := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken)
	catalogClient := catalog.NewClient(cfg.CatalogURL, cfg.CatalogToken)
	sessions := streaming.NewClient(cfg.StreamingURL, cfg.StreamingToken)
	authority := credential.NewHTTPAuthority(cfg.AuthorityURL, cfg.AuthorityToken)

	coordinator := credential.NewCoordinator(authority, repo, repo,
		cfg.CredentialDefinitionID, cfg.IssuerID, cfg.CallbackURL(), cfg.PresentationTTL)

	if cfg.CredentialsEnabled() {
		if err := coordinator.EnsureDefinition(context.Background()); err != nil {
			// Avatars stay unprotected until the authority comes back; the
			// rest of the service keeps working.
			slog.Warn("Credential definition unavailable, issuance disabled", "error", err)
		}
	} else {
		slog.Info("Credential authority not configured, avatars will be unprotected")
	}

	// Core components.
	engine := wizard.New(repo, catalogClient, cfg.WizardSessionTTL)
	relay := streaming.NewRelay(cfg.FrontendURL, cfg.IsDevelopment())
	rt := router.New(engine, coordinator, repo, messenger, sessions, relay)

	// Handlers.
	apiHandler := httpapi.NewHandler(rt, messenger)
	healthHandler := httpapi.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/session", relay.ServeHTTP)

	// Webhook and callback routes, optionally token-protected.
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.WebhookToken))
		apiHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket relay connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweep.Start(ctx, repo, cfg.SweepInterval)
	slog.Info("Expiry sweeper started", "interval", cfg.SweepInterval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
