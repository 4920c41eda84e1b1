package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	x402 "github.com/mark3labs/x402-market"
)

func newTestMarketplace(t *testing.T, opts ...Option) (*Marketplace, *MemoryTransactionLog) {
	t.Helper()
	txlog := NewMemoryTransactionLog()
	base := []Option{
		WithLogger(zap.NewNop()),
		WithFacilitator(&MockFacilitator{}),
		WithProvider(EchoProvider{}),
		WithTransactionLog(txlog),
	}
	m, err := New(Config{
		ListenAddr:     ":0",
		PaymentAddress: testPayTo,
		DefaultNetwork: "base",
	}, append(base, opts...)...)
	require.NoError(t, err)
	return m, txlog
}

// payAndDo replays the request with a signed proof after a 402 challenge, the
// way a paying client would.
func payAndDo(t *testing.T, handler http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	makeReq := func() *http.Request {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, makeReq())
	if first.Code != http.StatusPaymentRequired {
		return first
	}

	requirement, err := x402.DecodeRequirement(first.Header().Get(x402.HeaderPaymentRequired))
	require.NoError(t, err)

	signer := x402.NewMockSigner("0x1111111111111111111111111111111111111111")
	payment, err := signer.SignPayment(context.Background(), requirement)
	require.NoError(t, err)
	encoded, err := x402.EncodePayment(*payment)
	require.NoError(t, err)

	retry := makeReq()
	retry.Header.Set(x402.HeaderPayment, encoded)
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, retry)
	return second
}

func TestHealthEndpoint(t *testing.T) {
	m, _ := newTestMarketplace(t)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestListAndGetAgents(t *testing.T) {
	m, _ := newTestMarketplace(t)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list x402.ListAgentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 3, list.Total)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/"+list.Agents[0].ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got x402.GetAgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, list.Agents[0].ID, got.Agent.ID)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_not_found")
}

func TestModelsAndNetworks(t *testing.T) {
	m, _ := newTestMarketplace(t)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var models x402.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Equal(t, DefaultModels, models.Models)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents/networks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var networks x402.NetworksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &networks))
	assert.Equal(t, "base", networks.Default)
	assert.Contains(t, networks.Networks, "base")
}

func TestInvokeAgentEndToEnd(t *testing.T) {
	m, _ := newTestMarketplace(t)
	agentID := m.store.List()[0].ID

	body, _ := json.Marshal(x402.InvokeRequest{Input: "What is x402?"})
	rec := payAndDo(t, m.Handler(), http.MethodPost, "/api/agents/"+agentID+"/invoke", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp x402.InvokeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, agentID, resp.Result.AgentID)
	assert.Contains(t, resp.Result.Response, "What is x402?")

	// Settlement receipt accompanies the response
	receipt, err := x402.DecodeSettlement(rec.Header().Get(x402.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.True(t, receipt.Success)

	// Invocation counter bumped
	agent, err := m.store.Get(agentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), agent.TotalInvocations)
}

func TestInvokeValidation(t *testing.T) {
	m, _ := newTestMarketplace(t)
	agentID := m.store.List()[0].ID

	// Empty input fails after payment, and the failed handler never settles
	facilitator := m.facilitator.(*MockFacilitator)
	body, _ := json.Marshal(x402.InvokeRequest{Input: ""})
	rec := payAndDo(t, m.Handler(), http.MethodPost, "/api/agents/"+agentID+"/invoke", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, facilitator.SettleCalls)
	assert.Empty(t, rec.Header().Get(x402.HeaderPaymentResponse))

	// Unknown agent is 404 after payment, also unsettled
	body, _ = json.Marshal(x402.InvokeRequest{Input: "hi"})
	rec = payAndDo(t, m.Handler(), http.MethodPost, "/api/agents/agent_ghost/invoke", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, facilitator.SettleCalls)
}

func TestDeployAgentEndToEnd(t *testing.T) {
	m, _ := newTestMarketplace(t)

	body, _ := json.Marshal(x402.DeployRequest{
		Name:         "Summarizer",
		Model:        "meta-llama/Meta-Llama-3.1-8B-Instruct",
		SystemPrompt: "Summarize concisely.",
		Pricing:      &x402.AgentPricing{Price: "$0.07"},
	})
	rec := payAndDo(t, m.Handler(), http.MethodPost, "/api/agents/deploy", body)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp x402.DeployResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Agent.ID)
	// Owner comes from the verified payer
	assert.Equal(t, "0x1111111111111111111111111111111111111111", resp.Agent.Owner)

	stored, err := m.store.Get(resp.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "Summarizer", stored.Name)

	// The new agent's own price now drives its invocation challenge
	challenge := httptest.NewRecorder()
	m.Handler().ServeHTTP(challenge, httptest.NewRequest(http.MethodPost, "/api/agents/"+resp.Agent.ID+"/invoke", nil))
	require.Equal(t, http.StatusPaymentRequired, challenge.Code)
	requirement, err := x402.DecodeRequirement(challenge.Header().Get(x402.HeaderPaymentRequired))
	require.NoError(t, err)
	assert.Equal(t, "0.07", requirement.Amount)
}

func TestDeployValidation(t *testing.T) {
	m, _ := newTestMarketplace(t)

	body, _ := json.Marshal(x402.DeployRequest{Name: "NoModel"})
	rec := payAndDo(t, m.Handler(), http.MethodPost, "/api/agents/deploy", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, _ = json.Marshal(x402.DeployRequest{
		Name:         "BadPrice",
		Model:        "m",
		SystemPrompt: "p",
		Pricing:      &x402.AgentPricing{Price: "cheap"},
	})
	rec = payAndDo(t, m.Handler(), http.MethodPost, "/api/agents/deploy", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_pricing")
}

func TestTransactionLogEndpoint(t *testing.T) {
	m, txlog := newTestMarketplace(t)

	entry := x402.TransactionLogEntry{
		TransactionHash: "0xabc",
		Network:         "base",
		Payer:           "0x1111111111111111111111111111111111111111",
		Amount:          "0.05",
		AgentID:         "agent_1",
		Operation:       "invoke",
	}
	body, _ := json.Marshal(entry)

	req := httptest.NewRequest(http.MethodPost, "/api/agents/transaction-log", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(x402.HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	records := txlog.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "req-123", records[0].RequestID)
	assert.Equal(t, "0xabc", records[0].TransactionHash)
	assert.Equal(t, "invoke", records[0].Operation)
}

func TestTransactionLogRequiresRequestID(t *testing.T) {
	m, txlog := newTestMarketplace(t)

	body, _ := json.Marshal(x402.TransactionLogEntry{TransactionHash: "0xabc", Network: "base"})
	req := httptest.NewRequest(http.MethodPost, "/api/agents/transaction-log", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_request_id")
	assert.Empty(t, txlog.Records())
}

func TestRequestIDEchoed(t *testing.T) {
	m, _ := newTestMarketplace(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set(x402.HeaderRequestID, "trace-me")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "trace-me", rec.Header().Get(x402.HeaderRequestID))

	// Assigned when absent
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	assert.NotEmpty(t, rec.Header().Get(x402.HeaderRequestID))
}

func TestNewRequiresPaymentAddress(t *testing.T) {
	_, err := New(Config{}, WithLogger(zap.NewNop()))
	assert.Error(t, err)
}
