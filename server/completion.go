package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/mark3labs/x402-market"
)

// CompletionProvider produces agent responses from an inference backend.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	Models(ctx context.Context) ([]string, error)
}

// CompletionRequest is one inference call on behalf of an agent.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Input        string
	Temperature  float64
	MaxTokens    int
	RequestID    string
}

// CompletionResult is the provider's answer plus usage accounting.
type CompletionResult struct {
	Response string
	Model    string
	Usage    *x402.TokenUsage
}

// DefaultModels is served when the upstream model listing is unavailable.
var DefaultModels = []string{
	"meta-llama/Meta-Llama-3.1-8B-Instruct",
	"meta-llama/Meta-Llama-3.1-70B-Instruct",
	"microsoft/Phi-3-medium-4k-instruct",
}

// OpenAIProvider talks to an OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIProvider creates a provider for the given API base URL.
func NewOpenAIProvider(baseURL, apiKey string, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Model string           `json:"model"`
	Usage *x402.TokenUsage `json:"usage"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Input},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if req.RequestID != "" {
		httpReq.Header.Set(x402.HeaderRequestID, req.RequestID)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("completion failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}

	return &CompletionResult{
		Response: out.Choices[0].Message.Content,
		Model:    model,
		Usage:    out.Usage,
	}, nil
}

func (p *OpenAIProvider) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models failed with status %d", resp.StatusCode)
	}

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}

	models := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// EchoProvider is a CompletionProvider for tests and offline development.
type EchoProvider struct{}

func (EchoProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	return &CompletionResult{
		Response: fmt.Sprintf("[%s] %s", req.Model, req.Input),
		Model:    req.Model,
		Usage: &x402.TokenUsage{
			PromptTokens:     len(req.Input) / 4,
			CompletionTokens: len(req.Input) / 4,
			TotalTokens:      len(req.Input) / 2,
		},
	}, nil
}

func (EchoProvider) Models(ctx context.Context) ([]string, error) {
	return DefaultModels, nil
}
