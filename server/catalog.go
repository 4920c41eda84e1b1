package server

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	x402 "github.com/mark3labs/x402-market"
)

// ErrAgentNotFound is returned by AgentStore lookups for unknown ids.
var ErrAgentNotFound = errors.New("agent not found")

// AgentStore is the catalog repository. Implementations must be safe for
// concurrent use; reads see a consistent snapshot.
type AgentStore interface {
	List() []x402.Agent
	Get(id string) (*x402.Agent, error)
	Put(agent x402.Agent) error
	RecordInvocation(id string) error
}

// MemoryStore is an in-memory AgentStore guarded by a RWMutex. Agents are
// stored and returned by value so callers never share mutable state.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]x402.Agent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]x402.Agent)}
}

func (s *MemoryStore) List() []x402.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]x402.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) Get(id string) (*x402.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return &agent, nil
}

func (s *MemoryStore) Put(agent x402.Agent) error {
	if agent.ID == "" {
		return errors.New("agent id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent
	return nil
}

func (s *MemoryStore) RecordInvocation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.TotalInvocations++
	agent.UpdatedAt = time.Now().UTC()
	s.agents[id] = agent
	return nil
}

// NewAgentID generates a catalog id.
func NewAgentID() string {
	return "agent_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// SeedDemoAgents installs the built-in demonstration agents.
func SeedDemoAgents(store AgentStore) error {
	now := time.Now().UTC()

	demos := []x402.Agent{
		{
			Name:         "Code Assistant",
			Description:  "Helps with coding questions and debugging",
			Model:        "meta-llama/Meta-Llama-3.1-8B-Instruct",
			SystemPrompt: "You are a helpful coding assistant. Provide clear, accurate code examples and explanations.",
			Capabilities: []string{"coding", "debugging", "code-review"},
			Tags:         []string{"development", "programming", "ai-assistant"},
			Pricing:      &x402.AgentPricing{Price: "$0.05", Network: "base"},
		},
		{
			Name:         "Content Writer",
			Description:  "Professional content creation and copywriting",
			Model:        "meta-llama/Meta-Llama-3.1-70B-Instruct",
			SystemPrompt: "You are a professional content writer. Create engaging, well-structured content tailored to the audience.",
			Capabilities: []string{"writing", "copywriting", "content-strategy"},
			Tags:         []string{"content", "marketing", "writing"},
			Pricing:      &x402.AgentPricing{Price: "$0.15", Network: "base"},
		},
		{
			Name:         "Data Analyst",
			Description:  "Analyze data and generate insights",
			Model:        "meta-llama/Meta-Llama-3.1-70B-Instruct",
			SystemPrompt: "You are a data analyst. Provide clear insights, statistical analysis, and data-driven recommendations.",
			Capabilities: []string{"data-analysis", "statistics", "insights"},
			Tags:         []string{"data", "analytics", "business-intelligence"},
			Pricing:      &x402.AgentPricing{Price: "$0.20", Network: "base"},
		},
	}

	for _, agent := range demos {
		agent.ID = NewAgentID()
		agent.Owner = "system"
		agent.Status = "active"
		agent.CreatedAt = now
		agent.UpdatedAt = now
		if err := store.Put(agent); err != nil {
			return err
		}
	}
	return nil
}
