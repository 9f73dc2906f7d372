package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentnet/events"
	"github.com/BaSui01/agentnet/governor"
	"github.com/BaSui01/agentnet/registry"
)

func TestRecorder_MirrorsRegistryAndGovernor(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	bus := events.NewBus(events.DefaultBusConfig(), nil)
	reg := registry.NewNetworkRegistry(nil, bus, nil)
	gov := governor.NewGovernor(nil, bus, nil, governor.WithUsageSink(store))

	recorder := NewRecorder(store, reg, nil, gov, nil)
	recorder.Attach(bus)

	_, err := reg.Register(ctx, registry.RegisterRequest{
		AgentID:      "agent-1",
		AgentType:    "worker",
		Capabilities: []string{"extract"},
		Region:       "us-east",
	})
	require.NoError(t, err)

	_, err = gov.RequestAllocation(ctx, &governor.AllocationRequest{
		AgentID: "agent-1",
		Quotas:  map[governor.ResourceType]governor.Quota{governor.ResourceBudgetUSD: {Limit: 10.0}},
	})
	require.NoError(t, err)
	_, err = gov.RecordUsage(ctx, "agent-1", map[governor.ResourceType]float64{governor.ResourceBudgetUSD: 2.5}, "", nil)
	require.NoError(t, err)

	// Close drains the bus, so every mirror write has landed.
	require.NoError(t, bus.Close())

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0].AgentID)

	alloc, err := store.GetAllocation(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2.5, alloc.Usage[governor.ResourceBudgetUSD])

	records, err := store.UsageRecords(ctx, "agent-1", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecorder_DeregistrationDeletes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	bus := events.NewBus(events.DefaultBusConfig(), nil)
	reg := registry.NewNetworkRegistry(nil, bus, nil)

	recorder := NewRecorder(store, reg, nil, nil, nil)
	recorder.Attach(bus)

	_, err := reg.Register(ctx, registry.RegisterRequest{AgentID: "agent-1"})
	require.NoError(t, err)
	require.NoError(t, reg.Deregister(ctx, "agent-1"))
	require.NoError(t, bus.Close())

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)
}
