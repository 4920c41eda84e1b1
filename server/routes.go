package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	x402 "github.com/mark3labs/x402-market"
)

const requestIDKey = "requestID"

func (m *Marketplace) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(m.requestIDMiddleware())

	router.GET("/health", m.handleHealth)

	api := router.Group("/api/agents")
	api.GET("", m.handleListAgents)
	api.GET("/models", m.handleModels)
	api.GET("/networks", m.handleNetworks)
	api.GET("/:id", m.handleGetAgent)
	api.POST("/:id/invoke", m.handleInvoke)
	api.POST("/deploy", m.handleDeploy)
	api.POST("/transaction-log", m.handleTransactionLog)

	return router
}

// requestIDMiddleware assigns a correlation id when the client didn't send
// one and echoes it on the response.
func (m *Marketplace) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(x402.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(x402.HeaderRequestID, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func (m *Marketplace) abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorEnvelope{
		Error:     code,
		Message:   message,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC(),
	})
}

func (m *Marketplace) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (m *Marketplace) handleListAgents(c *gin.Context) {
	agents := m.store.List()
	c.JSON(http.StatusOK, x402.ListAgentsResponse{
		Agents:    agents,
		Total:     len(agents),
		Timestamp: time.Now().UTC(),
	})
}

func (m *Marketplace) handleGetAgent(c *gin.Context) {
	agent, err := m.store.Get(c.Param("id"))
	if err != nil {
		m.abortError(c, http.StatusNotFound, "agent_not_found", "Agent not found: "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, x402.GetAgentResponse{
		Agent:     *agent,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Marketplace) handleModels(c *gin.Context) {
	models, err := m.provider.Models(c.Request.Context())
	if err != nil {
		m.logger.Warn("model listing unavailable, serving defaults",
			zap.String("requestId", requestID(c)), zap.Error(err))
		models = DefaultModels
	}
	c.JSON(http.StatusOK, x402.ModelsResponse{
		Models:    models,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Marketplace) handleNetworks(c *gin.Context) {
	c.JSON(http.StatusOK, x402.NetworksResponse{
		Networks:  []string{"base", "base-sepolia"},
		Default:   m.config.DefaultNetwork,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Marketplace) handleInvoke(c *gin.Context) {
	var req x402.InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		m.abortError(c, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON")
		return
	}
	if req.Input == "" {
		m.abortError(c, http.StatusBadRequest, "invalid_request", "Input is required")
		return
	}

	agent, err := m.store.Get(c.Param("id"))
	if err != nil {
		m.abortError(c, http.StatusNotFound, "agent_not_found", "Agent not found: "+c.Param("id"))
		return
	}

	completion := CompletionRequest{
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
		Input:        req.Input,
		RequestID:    requestID(c),
	}
	if req.Parameters != nil {
		if req.Parameters.Model != "" {
			completion.Model = req.Parameters.Model
		}
		completion.Temperature = req.Parameters.Temperature
		completion.MaxTokens = req.Parameters.MaxTokens
	}

	result, err := m.provider.Complete(c.Request.Context(), completion)
	if err != nil {
		m.logger.Error("completion failed",
			zap.String("requestId", requestID(c)),
			zap.String("agentId", agent.ID),
			zap.Error(err))
		m.abortError(c, http.StatusBadGateway, "completion_failed", "Agent invocation failed")
		return
	}

	if err := m.store.RecordInvocation(agent.ID); err != nil {
		m.logger.Warn("failed to record invocation",
			zap.String("agentId", agent.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, x402.InvokeResponse{
		Success: true,
		Result: x402.InvokeResult{
			AgentID:  agent.ID,
			Response: result.Response,
			Model:    result.Model,
			Usage:    result.Usage,
		},
		Agent:     x402.AgentRef{ID: agent.ID, Name: agent.Name},
		Timestamp: time.Now().UTC(),
	})
}

func (m *Marketplace) handleDeploy(c *gin.Context) {
	var req x402.DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		m.abortError(c, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON")
		return
	}
	if req.Name == "" || req.Model == "" || req.SystemPrompt == "" {
		m.abortError(c, http.StatusBadRequest, "invalid_request", "Name, model and systemPrompt are required")
		return
	}
	if req.Pricing != nil {
		if _, err := ParsePrice(req.Pricing.Price); err != nil {
			m.abortError(c, http.StatusBadRequest, "invalid_pricing", "Pricing must be a positive dollar amount like $0.10")
			return
		}
	}

	now := time.Now().UTC()
	agent := x402.Agent{
		ID:           NewAgentID(),
		Name:         req.Name,
		Description:  req.Description,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Pricing:      req.Pricing,
		Capabilities: req.Capabilities,
		Tags:         req.Tags,
		Owner:        "user",
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if payment := PaymentFromContext(c.Request.Context()); payment != nil && payment.Payer != "" {
		agent.Owner = payment.Payer
	}

	if err := m.store.Put(agent); err != nil {
		m.logger.Error("failed to store agent", zap.Error(err))
		m.abortError(c, http.StatusInternalServerError, "internal_error", "Failed to deploy agent")
		return
	}

	m.logger.Info("agent deployed",
		zap.String("requestId", requestID(c)),
		zap.String("agentId", agent.ID),
		zap.String("owner", agent.Owner))

	c.JSON(http.StatusCreated, x402.DeployResponse{
		Success:   true,
		Agent:     agent,
		Message:   "Agent deployed successfully",
		Timestamp: now,
	})
}

func (m *Marketplace) handleTransactionLog(c *gin.Context) {
	if c.GetHeader(x402.HeaderRequestID) == "" {
		m.abortError(c, http.StatusBadRequest, "missing_request_id", "X-Request-ID header is required")
		return
	}

	var entry x402.TransactionLogEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		m.abortError(c, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON")
		return
	}
	if entry.TransactionHash == "" || entry.Network == "" {
		m.abortError(c, http.StatusBadRequest, "invalid_request", "transactionHash and network are required")
		return
	}

	record := TransactionRecord{
		RequestID:       requestID(c),
		TransactionHash: entry.TransactionHash,
		Network:         entry.Network,
		Payer:           entry.Payer,
		Amount:          entry.Amount,
		AgentID:         entry.AgentID,
		Operation:       entry.Operation,
		ReceivedAt:      time.Now().UTC(),
	}
	if err := m.txlog.Record(c.Request.Context(), record); err != nil {
		m.logger.Error("failed to record transaction", zap.Error(err))
		m.abortError(c, http.StatusInternalServerError, "internal_error", "Failed to record transaction")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"requestId": record.RequestID,
		"timestamp": record.ReceivedAt,
	})
}
