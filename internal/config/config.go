// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	PublicBaseURL string

	GatewayURL     string
	GatewayToken   string
	AuthorityURL   string
	AuthorityToken string
	CatalogURL     string
	CatalogToken   string
	StreamingURL   string
	StreamingToken string

	// CredentialDefinitionID, when set, skips schema registration on startup.
	CredentialDefinitionID string

	// IssuerID identifies this service in issued credentials.
	IssuerID string

	// WebhookToken, when set, is required as a bearer token on inbound
	// webhook and callback requests.
	WebhookToken string

	WizardSessionTTL time.Duration
	PresentationTTL  time.Duration
	SweepInterval    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/concierge.db"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		GatewayURL:     getEnv("GATEWAY_URL", ""),
		GatewayToken:   getEnv("GATEWAY_TOKEN", ""),
		AuthorityURL:   getEnv("AUTHORITY_URL", ""),
		AuthorityToken: getEnv("AUTHORITY_TOKEN", ""),
		CatalogURL:     getEnv("CATALOG_URL", ""),
		CatalogToken:   getEnv("CATALOG_TOKEN", ""),
		StreamingURL:   getEnv("STREAMING_URL", ""),
		StreamingToken: getEnv("STREAMING_TOKEN", ""),

		CredentialDefinitionID: getEnv("CREDENTIAL_DEFINITION_ID", ""),
		IssuerID:               getEnv("ISSUER_ID", "avatar-concierge"),
		WebhookToken:           getEnv("WEBHOOK_TOKEN", ""),

		WizardSessionTTL: getEnvDuration("WIZARD_SESSION_TTL", 30*time.Minute),
		PresentationTTL:  getEnvDuration("PRESENTATION_TTL", 10*time.Minute),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL cannot be empty")
	}
	if c.CatalogURL == "" {
		return fmt.Errorf("CATALOG_URL cannot be empty")
	}
	if c.StreamingURL == "" {
		return fmt.Errorf("STREAMING_URL cannot be empty")
	}
	if c.WizardSessionTTL <= 0 {
		return fmt.Errorf("WIZARD_SESSION_TTL must be > 0")
	}
	if c.PresentationTTL <= 0 {
		return fmt.Errorf("PRESENTATION_TTL must be > 0")
	}
	return nil
}

// CredentialsEnabled reports whether a credential authority is configured.
// Without one, avatars are created unprotected and accessed directly.
func (c *Config) CredentialsEnabled() bool {
	return c.AuthorityURL != ""
}

// CallbackURL is the absolute URL the credential authority delivers
// presentation results to.
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.PublicBaseURL, "/") + "/callback/presentations"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
