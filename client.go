package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is the marketplace SDK. All calls go through a PayingTransport, so
// priced endpoints are paid transparently when a signer is configured.
type Client struct {
	baseURL    string
	httpClient *http.Client
	transport  *PayingTransport
	timeout    time.Duration
	logPayment bool
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithSigner enables payment for 402 challenges using the given signer.
func WithSigner(signer PaymentSigner, config *HandlerConfig) ClientOption {
	return func(c *Client) error {
		transport, err := NewPayingTransport(nil, signer, config)
		if err != nil {
			return err
		}
		c.transport = transport
		return nil
	}
}

// WithTransport installs a pre-built PayingTransport, for callers that need
// event callbacks or a custom base RoundTripper.
func WithTransport(transport *PayingTransport) ClientOption {
	return func(c *Client) error {
		c.transport = transport
		return nil
	}
}

// WithTimeout sets the per-request timeout. Default 60s.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.timeout = timeout
		return nil
	}
}

// WithoutTransactionLog disables best-effort receipt forwarding to the
// marketplace transaction log.
func WithoutTransactionLog() ClientOption {
	return func(c *Client) error {
		c.logPayment = false
		return nil
	}
}

// NewClient creates a marketplace client for the given base URL. Without a
// signer the client can browse the catalog but priced calls fail with
// ErrPaymentNotConfigured.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    60 * time.Second,
		logPayment: true,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.transport == nil {
		transport, err := NewPayingTransport(nil, nil, nil)
		if err != nil {
			return nil, err
		}
		c.transport = transport
	}

	c.httpClient = &http.Client{
		Transport: c.transport,
		Timeout:   c.timeout,
	}

	return c, nil
}

// ListAgents returns the agent catalog.
func (c *Client) ListAgents(ctx context.Context) (*ListAgentsResponse, error) {
	var out ListAgentsResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/agents", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return &out, nil
}

// GetAgent fetches a single agent by id.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var out GetAgentResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/agents/"+id, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	return &out.Agent, nil
}

// AvailableModels lists the completion models the marketplace offers.
func (c *Client) AvailableModels(ctx context.Context) ([]string, error) {
	var out ModelsResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/agents/models", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return out.Models, nil
}

// SupportedNetworks lists the payment networks the marketplace accepts.
func (c *Client) SupportedNetworks(ctx context.Context) (*NetworksResponse, error) {
	var out NetworksResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/agents/networks", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	return &out, nil
}

// InvokeAgent runs an agent against the given input, paying the invocation
// price when challenged. The settlement receipt, when present, is attached to
// the response and forwarded to the marketplace transaction log.
func (c *Client) InvokeAgent(ctx context.Context, id string, req InvokeRequest) (*InvokeResponse, error) {
	var out InvokeResponse
	exchange, err := c.do(ctx, http.MethodPost, "/api/agents/"+id+"/invoke", req, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke agent %s: %w", id, err)
	}

	if settlement := exchange.settlement; settlement != nil {
		out.Payment = settlement
		c.forwardReceipt(ctx, exchange.requestID, settlement, id, "invoke")
	}

	return &out, nil
}

// DeployAgent registers a new agent, paying the deployment price when
// challenged.
func (c *Client) DeployAgent(ctx context.Context, req DeployRequest) (*DeployResponse, error) {
	var out DeployResponse
	exchange, err := c.do(ctx, http.MethodPost, "/api/agents/deploy", req, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy agent: %w", err)
	}

	if settlement := exchange.settlement; settlement != nil {
		out.Payment = settlement
		c.forwardReceipt(ctx, exchange.requestID, settlement, out.Agent.ID, "deploy")
	}

	return &out, nil
}

type exchangeInfo struct {
	requestID  string
	settlement *SettlementResponse
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (*exchangeInfo, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Assigned here rather than in the transport so the id is known for
	// transaction-log correlation.
	requestID := uuid.NewString()
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return &exchangeInfo{
		requestID:  requestID,
		settlement: GetSettlement(resp),
	}, nil
}

// forwardReceipt posts the settlement receipt to the transaction-log endpoint.
// Best effort; a logging failure never fails the paid call.
func (c *Client) forwardReceipt(ctx context.Context, requestID string, settlement *SettlementResponse, agentID, operation string) {
	if !c.logPayment || settlement.Transaction == "" {
		return
	}

	entry := TransactionLogEntry{
		RequestID:       requestID,
		TransactionHash: settlement.Transaction,
		Network:         settlement.Network,
		Payer:           settlement.Payer,
		Amount:          settlement.Amount,
		AgentID:         agentID,
		Operation:       operation,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/agents/transaction-log", bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	drainBody(resp)
}

type apiError struct {
	Status    int
	Code      string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil {
		_ = json.Unmarshal(data, apiErr)
	}
	return apiErr
}
