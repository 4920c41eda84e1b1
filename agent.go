package x402

import "time"

// Agent describes a deployed marketplace agent.
type Agent struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Description      string        `json:"description"`
	Model            string        `json:"model"`
	SystemPrompt     string        `json:"systemPrompt"`
	Pricing          *AgentPricing `json:"pricing,omitempty"`
	Capabilities     []string      `json:"capabilities,omitempty"`
	Tags             []string      `json:"tags,omitempty"`
	Owner            string        `json:"owner,omitempty"`
	Status           string        `json:"status"`
	TotalInvocations int64         `json:"totalInvocations"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// AgentPricing is a per-agent price override applied when the agent is invoked.
type AgentPricing struct {
	// Price is a dollar amount string, e.g. "$0.10".
	Price   string `json:"price"`
	Network string `json:"network,omitempty"`
}

// AgentRef identifies an agent in invocation responses.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InvokeRequest is the body of POST /api/agents/:id/invoke.
type InvokeRequest struct {
	Input      string            `json:"input"`
	Parameters *InvokeParameters `json:"parameters,omitempty"`
}

// InvokeParameters tune a single invocation.
type InvokeParameters struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}

// TokenUsage mirrors the completion provider's usage accounting.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// InvokeResult is the completion produced by an agent invocation.
type InvokeResult struct {
	AgentID  string      `json:"agentId"`
	Response string      `json:"response"`
	Model    string      `json:"model"`
	Usage    *TokenUsage `json:"usage,omitempty"`
}

// InvokeResponse is the body returned by a successful invocation. Payment is
// populated client-side from the X-PAYMENT-RESPONSE receipt header.
type InvokeResponse struct {
	Success   bool                `json:"success"`
	Result    InvokeResult        `json:"result"`
	Agent     AgentRef            `json:"agent"`
	Timestamp time.Time           `json:"timestamp"`
	Payment   *SettlementResponse `json:"payment,omitempty"`
}

// DeployRequest is the body of POST /api/agents/deploy.
type DeployRequest struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Model        string        `json:"model"`
	SystemPrompt string        `json:"systemPrompt"`
	Pricing      *AgentPricing `json:"pricing,omitempty"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
}

// DeployResponse is returned after a successful deployment.
type DeployResponse struct {
	Success   bool                `json:"success"`
	Agent     Agent               `json:"agent"`
	Message   string              `json:"message,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Payment   *SettlementResponse `json:"payment,omitempty"`
}

// ListAgentsResponse is the body of GET /api/agents.
type ListAgentsResponse struct {
	Agents    []Agent   `json:"agents"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// GetAgentResponse is the body of GET /api/agents/:id.
type GetAgentResponse struct {
	Agent     Agent     `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelsResponse is the body of GET /api/agents/models.
type ModelsResponse struct {
	Models    []string  `json:"models"`
	Timestamp time.Time `json:"timestamp"`
}

// NetworksResponse is the body of GET /api/agents/networks.
type NetworksResponse struct {
	Networks  []string  `json:"networks"`
	Default   string    `json:"default"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionLogEntry is the body of POST /api/agents/transaction-log,
// correlating a settled payment with the request it paid for.
type TransactionLogEntry struct {
	RequestID       string `json:"requestId"`
	TransactionHash string `json:"transactionHash"`
	Network         string `json:"network"`
	Payer           string `json:"payer,omitempty"`
	Amount          string `json:"amount,omitempty"`
	AgentID         string `json:"agentId,omitempty"`
	Operation       string `json:"operation,omitempty"`
}
