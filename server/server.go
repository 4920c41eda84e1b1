// Package server implements the marketplace service: a gin HTTP API for
// browsing, invoking and deploying agents, gated behind x402 payment
// challenges. Settlement is delegated to an external facilitator.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Marketplace wires the catalog, pricing resolver, payment gate, completion
// provider and transaction log into a single HTTP handler.
type Marketplace struct {
	config      Config
	logger      *zap.Logger
	store       AgentStore
	provider    CompletionProvider
	facilitator Facilitator
	txlog       TransactionLog
	resolver    *Resolver
	gate        *PaymentGate
	router      *gin.Engine
	handler     http.Handler
}

// Option customizes a Marketplace.
type Option func(*Marketplace)

// WithLogger replaces the default production logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Marketplace) { m.logger = logger }
}

// WithStore injects a catalog repository. The default is a seeded MemoryStore.
func WithStore(store AgentStore) Option {
	return func(m *Marketplace) { m.store = store }
}

// WithProvider injects a completion provider.
func WithProvider(provider CompletionProvider) Option {
	return func(m *Marketplace) { m.provider = provider }
}

// WithFacilitator injects a facilitator client.
func WithFacilitator(facilitator Facilitator) Option {
	return func(m *Marketplace) { m.facilitator = facilitator }
}

// WithTransactionLog injects a transaction-log sink.
func WithTransactionLog(txlog TransactionLog) Option {
	return func(m *Marketplace) { m.txlog = txlog }
}

// New creates a marketplace from config, filling in defaults for anything not
// injected. The price table is DefaultRules with the configured payee.
func New(config Config, opts ...Option) (*Marketplace, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &Marketplace{config: config}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		m.logger = logger
	}

	if m.store == nil {
		store := NewMemoryStore()
		if err := SeedDemoAgents(store); err != nil {
			return nil, fmt.Errorf("seed demo agents: %w", err)
		}
		m.store = store
	}

	if m.provider == nil {
		if config.CompletionAPIURL != "" {
			m.provider = NewOpenAIProvider(config.CompletionAPIURL, config.CompletionAPIKey, config.RequestTimeout)
		} else {
			m.logger.Warn("no completion backend configured, using echo provider")
			m.provider = EchoProvider{}
		}
	}

	if m.facilitator == nil {
		if config.FacilitatorURL != "" {
			m.facilitator = NewHTTPFacilitator(config.FacilitatorURL, config.RequestTimeout)
		} else {
			m.logger.Warn("no facilitator configured, using in-process mock")
			m.facilitator = &MockFacilitator{}
		}
	}

	if m.txlog == nil {
		m.txlog = NewZapTransactionLog(m.logger)
	}

	resolver, err := NewResolver(config.PaymentAddress, config.DefaultNetwork, DefaultRules())
	if err != nil {
		return nil, fmt.Errorf("compile price rules: %w", err)
	}
	m.resolver = resolver

	m.gate = NewPaymentGate(m.resolver, m.facilitator, m.store, m.logger)
	m.router = m.buildRouter()
	m.handler = m.gate.Wrap(m.router)

	return m, nil
}

// Handler returns the fully gated HTTP handler.
func (m *Marketplace) Handler() http.Handler {
	return m.handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (m *Marketplace) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              m.config.ListenAddr,
		Handler:           m.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("marketplace listening", zap.String("addr", m.config.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
