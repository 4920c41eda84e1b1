package x402

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// PayingTransport is an http.RoundTripper that negotiates x402 payment
// challenges. It issues the request unmodified, and when the server answers
// 402 Payment Required it signs a payment proof for the decoded challenge and
// retries exactly once. A second 402 is terminal; the transport never loops.
type PayingTransport struct {
	// Base is the underlying RoundTripper (http.DefaultTransport when nil).
	Base http.RoundTripper

	handler *PaymentHandler
	address string

	// Event callbacks
	OnPaymentAttempt func(PaymentEvent)
	OnPaymentSuccess func(PaymentEvent)
	OnPaymentFailure func(PaymentEvent, error)

	// Testing support
	recorder *PaymentRecorder
}

// NewPayingTransport creates a payment-enabled transport. A nil signer is
// allowed: requests still flow, but a 402 challenge fails with
// ErrPaymentNotConfigured instead of being paid.
func NewPayingTransport(base http.RoundTripper, signer PaymentSigner, config *HandlerConfig) (*PayingTransport, error) {
	t := &PayingTransport{Base: base}

	if signer != nil {
		handler, err := NewPaymentHandler(signer, config)
		if err != nil {
			return nil, err
		}
		t.handler = handler
		t.address = signer.GetAddress()
	}

	return t, nil
}

// WithPaymentRecorder attaches a recorder capturing payment events, for tests.
func (t *PayingTransport) WithPaymentRecorder(recorder *PaymentRecorder) *PayingTransport {
	t.recorder = recorder
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *PayingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// Buffer the body so the request can be replayed with a proof attached.
	if req.Body != nil && req.GetBody == nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(data))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}

	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	first := req.Clone(req.Context())
	first.Header.Set(HeaderRequestID, requestID)
	if t.address != "" {
		first.Header.Set(HeaderPayerAddress, t.address)
	}

	resp, err := base.RoundTrip(first)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge := resp.Header.Get(HeaderPaymentRequired)
	drainBody(resp)
	if challenge == "" {
		return nil, fmt.Errorf("%w (%s %s)", ErrMissingPaymentChallenge, req.Method, req.URL.Path)
	}

	requirement, err := DecodeRequirement(challenge)
	if err != nil {
		return nil, err
	}

	if t.handler == nil {
		return nil, fmt.Errorf("%w: payment of %s on %s required for %s",
			ErrPaymentNotConfigured, requirement.Amount, requirement.Network, requirement.Resource)
	}

	t.recordEvent(PaymentEventAttempt, req.Method, requirement, nil)

	payment, err := t.handler.CreatePayment(req.Context(), requirement)
	if err != nil {
		t.recordEvent(PaymentEventFailure, req.Method, requirement, err)
		return nil, err
	}

	encoded, err := EncodePayment(*payment)
	if err != nil {
		t.recordEvent(PaymentEventFailure, req.Method, requirement, err)
		return nil, err
	}

	retry := req.Clone(req.Context())
	retry.Header.Set(HeaderRequestID, requestID)
	retry.Header.Set(HeaderPayerAddress, t.address)
	retry.Header.Set(HeaderPayment, encoded)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = body
	}

	resp, err = base.RoundTrip(retry)
	if err != nil {
		t.recordEvent(PaymentEventFailure, req.Method, requirement, err)
		return nil, err
	}

	// Terminal: one retry only, a second challenge is a protocol failure.
	if resp.StatusCode == http.StatusPaymentRequired {
		drainBody(resp)
		err := fmt.Errorf("%w: %s %s challenged again after payment",
			ErrPaymentRejected, req.Method, req.URL.Path)
		t.recordEvent(PaymentEventFailure, req.Method, requirement, err)
		return nil, err
	}

	if settlement := GetSettlement(resp); settlement != nil && settlement.Success {
		t.recordSettlement(req.Method, requirement, settlement)
	} else {
		t.recordEvent(PaymentEventSuccess, req.Method, requirement, nil)
	}

	return resp, nil
}

// GetSettlement extracts the payment receipt from a response. Returns nil when
// no receipt header is present or it fails to decode; a missing receipt on a
// successful response just means the endpoint was not priced.
func GetSettlement(resp *http.Response) *SettlementResponse {
	header := resp.Header.Get(HeaderPaymentResponse)
	if header == "" {
		return nil
	}
	settlement, err := DecodeSettlement(header)
	if err != nil {
		return nil
	}
	return &settlement
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

func (t *PayingTransport) recordEvent(eventType PaymentEventType, method string, req PaymentRequirement, err error) {
	amount, amtErr := req.AtomicAmount()
	if amtErr != nil {
		amount = nil
	}

	event := PaymentEvent{
		Type:      eventType,
		Resource:  req.Resource,
		Method:    method,
		Amount:    amount,
		Network:   req.Network,
		Asset:     req.Asset,
		Recipient: req.PayTo,
		Error:     err,
		Timestamp: time.Now().Unix(),
	}

	switch eventType {
	case PaymentEventAttempt:
		if t.OnPaymentAttempt != nil {
			t.OnPaymentAttempt(event)
		}
	case PaymentEventSuccess:
		if t.OnPaymentSuccess != nil {
			t.OnPaymentSuccess(event)
		}
	case PaymentEventFailure:
		if t.OnPaymentFailure != nil {
			t.OnPaymentFailure(event, err)
		}
	}

	if t.recorder != nil {
		t.recorder.Record(event)
	}
}

func (t *PayingTransport) recordSettlement(method string, req PaymentRequirement, settlement *SettlementResponse) {
	amount, err := req.AtomicAmount()
	if err != nil {
		amount = nil
	}

	event := PaymentEvent{
		Type:        PaymentEventSuccess,
		Resource:    req.Resource,
		Method:      method,
		Amount:      amount,
		Network:     settlement.Network,
		Asset:       req.Asset,
		Recipient:   req.PayTo,
		Transaction: settlement.Transaction,
		Timestamp:   time.Now().Unix(),
	}

	if t.OnPaymentSuccess != nil {
		t.OnPaymentSuccess(event)
	}
	if t.recorder != nil {
		t.recorder.Record(event)
	}
}
