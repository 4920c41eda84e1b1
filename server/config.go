package server

import (
	"fmt"
	"os"
	"time"
)

// Config holds the marketplace's environment-driven settings.
type Config struct {
	// ListenAddr is the HTTP bind address, e.g. ":3001".
	ListenAddr string

	// PaymentAddress receives all route payments.
	PaymentAddress string

	// FacilitatorURL is the base URL of the x402 facilitator service. When
	// empty the in-process MockFacilitator is used (local development only).
	FacilitatorURL string

	// DefaultNetwork prices routes that don't name their own network.
	DefaultNetwork string

	// CompletionAPIURL / CompletionAPIKey configure the OpenAI-compatible
	// inference backend. When the URL is empty the echo provider is used.
	CompletionAPIURL string
	CompletionAPIKey string

	// RequestTimeout bounds outbound facilitator and completion calls.
	RequestTimeout time.Duration
}

// FromEnv reads configuration from the environment.
func FromEnv() Config {
	cfg := Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":3001"),
		PaymentAddress:   os.Getenv("PAYMENT_ADDRESS"),
		FacilitatorURL:   os.Getenv("FACILITATOR_URL"),
		DefaultNetwork:   envOr("DEFAULT_NETWORK", "base"),
		CompletionAPIURL: os.Getenv("COMPLETION_API_URL"),
		CompletionAPIKey: os.Getenv("COMPLETION_API_KEY"),
		RequestTimeout:   30 * time.Second,
	}

	if raw := os.Getenv("REQUEST_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}
	return cfg
}

// Validate checks that required settings are present.
func (c Config) Validate() error {
	if c.PaymentAddress == "" {
		return fmt.Errorf("PAYMENT_ADDRESS is not configured")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
