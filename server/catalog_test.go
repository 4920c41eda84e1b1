package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/mark3labs/x402-market"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	assert.Empty(t, store.List())

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	agent := x402.Agent{ID: "agent_1", Name: "Tester", Status: "active"}
	require.NoError(t, store.Put(agent))

	got, err := store.Get("agent_1")
	require.NoError(t, err)
	assert.Equal(t, "Tester", got.Name)

	// Returned agents are copies
	got.Name = "mutated"
	fresh, err := store.Get("agent_1")
	require.NoError(t, err)
	assert.Equal(t, "Tester", fresh.Name)

	assert.Error(t, store.Put(x402.Agent{}))
}

func TestMemoryStoreRecordInvocation(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(x402.Agent{ID: "agent_1"}))

	require.NoError(t, store.RecordInvocation("agent_1"))
	require.NoError(t, store.RecordInvocation("agent_1"))

	agent, err := store.Get("agent_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), agent.TotalInvocations)

	assert.ErrorIs(t, store.RecordInvocation("missing"), ErrAgentNotFound)
}

func TestSeedDemoAgents(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, SeedDemoAgents(store))

	agents := store.List()
	require.Len(t, agents, 3)

	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
		assert.Equal(t, "active", a.Status)
		assert.Equal(t, "system", a.Owner)
		require.NotNil(t, a.Pricing)
		_, err := ParsePrice(a.Pricing.Price)
		assert.NoError(t, err)
	}
	assert.ElementsMatch(t, []string{"Code Assistant", "Content Writer", "Data Analyst"}, names)
}
