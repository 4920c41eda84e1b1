package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	x402 "github.com/mark3labs/x402-market"
)

type contextKey string

// paymentContextKey stores the facilitator's verification verdict for the
// downstream handler.
const paymentContextKey contextKey = "x402_payment"

// PaymentFromContext returns the verified payment for the current request, or
// nil when the route was free.
func PaymentFromContext(ctx context.Context) *VerifyResponse {
	v, _ := ctx.Value(paymentContextKey).(*VerifyResponse)
	return v
}

// PaymentGate is an http.Handler middleware enforcing x402 payment for priced
// routes. Ordering is uniform for every route: verify the proof, run the
// handler, settle only when the handler succeeded. The gate holds no
// cross-request state.
type PaymentGate struct {
	resolver    *Resolver
	facilitator Facilitator
	store       AgentStore
	logger      *zap.Logger
}

// NewPaymentGate creates a gate. The store is optional; when present, agents
// with their own pricing override the route's default amount (the payee never
// changes).
func NewPaymentGate(resolver *Resolver, facilitator Facilitator, store AgentStore, logger *zap.Logger) *PaymentGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentGate{
		resolver:    resolver,
		facilitator: facilitator,
		store:       store,
		logger:      logger,
	}
}

// Wrap returns a handler that gates next behind payment.
func (g *PaymentGate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requirement, params := g.resolver.Resolve(r.Method, r.URL.Path)
		if requirement == nil {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get(x402.HeaderRequestID)
		logger := g.logger.With(
			zap.String("requestId", requestID),
			zap.String("resource", requirement.Resource),
		)

		g.applyAgentPricing(requirement, params, logger)

		paymentHeader := r.Header.Get(x402.HeaderPayment)
		if paymentHeader == "" {
			logger.Info("payment required", zap.String("amount", requirement.Amount), zap.String("network", requirement.Network))
			g.challenge(w, requestID, requirement, "payment_required", "Payment required")
			return
		}

		payment, err := x402.DecodePayment(paymentHeader)
		if err != nil {
			logger.Warn("malformed payment header", zap.Error(err))
			g.challenge(w, requestID, requirement, "malformed_payment", "Invalid payment header")
			return
		}

		verify, err := g.facilitator.Verify(r.Context(), &payment, requirement)
		if err != nil {
			logger.Error("facilitator verification unavailable", zap.Error(err))
			writeEnvelope(w, http.StatusServiceUnavailable, requestID, "facilitator_unavailable", "Payment verification is temporarily unavailable")
			return
		}
		if !verify.IsValid {
			logger.Warn("payment rejected", zap.String("reason", verify.InvalidReason))
			g.challenge(w, requestID, requirement, "payment_rejected", "Payment verification failed")
			return
		}

		logger.Info("payment verified", zap.String("payer", verify.Payer))

		ctx := context.WithValue(r.Context(), paymentContextKey, verify)
		interceptor := &settlementInterceptor{
			ResponseWriter: w,
			gate:           g,
			logger:         logger,
			requestID:      requestID,
			payment:        &payment,
			requirement:    requirement,
		}

		next.ServeHTTP(interceptor, r.WithContext(ctx))
		interceptor.finish()
	})
}

func (g *PaymentGate) applyAgentPricing(requirement *x402.PaymentRequirement, params map[string]string, logger *zap.Logger) {
	if g.store == nil {
		return
	}
	id, ok := params["id"]
	if !ok {
		return
	}
	agent, err := g.store.Get(id)
	if err != nil || agent.Pricing == nil {
		return
	}
	if err := g.resolver.ApplyOverride(requirement, agent.Pricing); err != nil {
		logger.Warn("invalid agent pricing, using route default",
			zap.String("agentId", id), zap.Error(err))
	}
}

// challenge sends a fresh 402 with the encoded requirement. Encoding a
// requirement the resolver built cannot fail; a failure here is a bug and
// surfaces as a 500.
func (g *PaymentGate) challenge(w http.ResponseWriter, requestID string, requirement *x402.PaymentRequirement, code, message string) {
	encoded, err := x402.EncodeRequirement(*requirement)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, requestID, "internal_error", "Failed to build payment challenge")
		return
	}
	w.Header().Set(x402.HeaderPaymentRequired, encoded)
	writeEnvelope(w, http.StatusPaymentRequired, requestID, code, message)
}

// settlementInterceptor delays the handler's status commit until settlement is
// decided. A handler status below 400 triggers exactly one settle; the receipt
// header must be set before WriteHeader, which is why the commit is hooked.
type settlementInterceptor struct {
	http.ResponseWriter
	gate        *PaymentGate
	logger      *zap.Logger
	requestID   string
	payment     *x402.PaymentPayload
	requirement *x402.PaymentRequirement

	wroteHeader bool
	hijacked    bool
}

func (i *settlementInterceptor) WriteHeader(status int) {
	if i.wroteHeader || i.hijacked {
		return
	}
	i.wroteHeader = true

	if status >= http.StatusBadRequest {
		// Handler failed; the client owes nothing.
		i.ResponseWriter.WriteHeader(status)
		return
	}

	settle, err := i.gate.facilitator.Settle(context.Background(), i.payment, i.requirement)
	if err != nil {
		i.logger.Error("settlement unavailable", zap.Error(err))
		i.hijack(http.StatusServiceUnavailable, "facilitator_unavailable", "Payment settlement is temporarily unavailable")
		return
	}
	if !settle.Success {
		i.logger.Warn("settlement failed", zap.String("reason", settle.ErrorReason))
		i.hijack(http.StatusPaymentRequired, "settlement_failed", "Payment settlement failed")
		return
	}

	receipt := settle.Settlement(i.requirement.Amount)
	encoded, err := x402.EncodeSettlement(receipt)
	if err == nil {
		i.Header().Set(x402.HeaderPaymentResponse, encoded)
	}
	i.logger.Info("payment settled",
		zap.String("transaction", settle.Transaction),
		zap.String("payer", settle.Payer),
	)
	i.ResponseWriter.WriteHeader(status)
}

func (i *settlementInterceptor) Write(data []byte) (int, error) {
	if !i.wroteHeader {
		i.WriteHeader(http.StatusOK)
	}
	if i.hijacked {
		// The settlement outcome replaced the handler's response.
		return len(data), nil
	}
	return i.ResponseWriter.Write(data)
}

// hijack discards the handler's response in favor of a settlement error.
func (i *settlementInterceptor) hijack(status int, code, message string) {
	i.hijacked = true
	if status == http.StatusPaymentRequired {
		if encoded, err := x402.EncodeRequirement(*i.requirement); err == nil {
			i.Header().Set(x402.HeaderPaymentRequired, encoded)
		}
	}
	writeEnvelope(i.ResponseWriter, status, i.requestID, code, message)
}

// finish commits an implicit 200 when the handler wrote nothing.
func (i *settlementInterceptor) finish() {
	if !i.wroteHeader {
		i.WriteHeader(http.StatusOK)
	}
}

// errorEnvelope is the JSON error body used across the API.
type errorEnvelope struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeEnvelope(w http.ResponseWriter, status int, requestID, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error:     code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}
