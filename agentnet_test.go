package agentnet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/governor"
	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

func newTestNetwork(t *testing.T) *Network {
	t.Helper()
	net := New()
	t.Cleanup(func() { net.Close() })
	return net
}

func TestNetwork_EndToEndCoordination(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	_, err := net.Registry.Register(ctx, registry.RegisterRequest{
		AgentID: "coordinator-1", AgentType: "orchestrator",
	})
	require.NoError(t, err)
	_, err = net.Registry.Register(ctx, registry.RegisterRequest{
		AgentID: "worker-1", AgentType: "trading", Capabilities: []string{"market_analysis"},
	})
	require.NoError(t, err)

	session, err := net.Engine.CreateSession(ctx, "coordinator-1", coordination.PatternPipeline, "rebalance portfolio")
	require.NoError(t, err)

	_, err = net.Engine.AddTask(ctx, session.CoordinationID, "analyze", nil, nil)
	require.NoError(t, err)
	require.NoError(t, net.Engine.Join(ctx, session.CoordinationID, "worker-1"))

	_, err = net.Engine.AssignTask(ctx, session.CoordinationID, "analyze", "worker-1")
	require.NoError(t, err)
	require.NoError(t, net.Engine.CompleteTask(ctx, session.CoordinationID, "analyze", "done"))

	progress, err := net.Engine.GetProgress(ctx, session.CoordinationID)
	require.NoError(t, err)
	assert.Equal(t, coordination.SessionCompleted, progress.Status)
}

func TestNetwork_UnregisteredAgentCannotJoin(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	_, err := net.Registry.Register(ctx, registry.RegisterRequest{AgentID: "coordinator-1"})
	require.NoError(t, err)

	session, err := net.Engine.CreateSession(ctx, "coordinator-1", coordination.PatternSwarm, "goal")
	require.NoError(t, err)

	err = net.Engine.Join(ctx, session.CoordinationID, "ghost")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnknownAgent))
}

func TestNetwork_BudgetGateBlocksAssignment(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	_, err := net.Registry.Register(ctx, registry.RegisterRequest{AgentID: "coordinator-1"})
	require.NoError(t, err)
	_, err = net.Registry.Register(ctx, registry.RegisterRequest{AgentID: "worker-1"})
	require.NoError(t, err)

	_, err = net.Governor.RequestAllocation(ctx, &governor.AllocationRequest{
		AgentID: "worker-1",
		Quotas: map[governor.ResourceType]governor.Quota{
			governor.ResourceBudgetUSD: {Limit: 5.0},
		},
	})
	require.NoError(t, err)

	// Exactly hitting the limit exhausts the allocation.
	_, err = net.Governor.RecordUsage(ctx, "worker-1", map[governor.ResourceType]float64{
		governor.ResourceBudgetUSD: 5.0,
	}, "", nil)
	require.NoError(t, err)

	session, err := net.Engine.CreateSession(ctx, "coordinator-1", coordination.PatternCollaborative, "goal")
	require.NoError(t, err)
	_, err = net.Engine.AddTask(ctx, session.CoordinationID, "t-1", nil, nil)
	require.NoError(t, err)
	require.NoError(t, net.Engine.Join(ctx, session.CoordinationID, "worker-1"))

	_, err = net.Engine.AssignTask(ctx, session.CoordinationID, "t-1", "worker-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrResourceExhausted))
}

func TestNetwork_ReputationModulatesAllocation(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	_, err := net.Registry.Register(ctx, registry.RegisterRequest{
		AgentID:  "trusted-1",
		Metadata: map[string]any{"reputation": 100.0},
	})
	require.NoError(t, err)

	alloc, err := net.Governor.RequestAllocation(ctx, &governor.AllocationRequest{
		AgentID: "trusted-1",
		Quotas: map[governor.ResourceType]governor.Quota{
			governor.ResourceBudgetUSD: {Limit: 10.0},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, alloc.Priority)
	assert.InDelta(t, 15.0, alloc.Quotas[governor.ResourceBudgetUSD].Limit, 1e-9)
}

func TestRegistryReputation_NonNumericMetadata(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	_, err := net.Registry.Register(ctx, registry.RegisterRequest{
		AgentID:  "odd-1",
		Metadata: map[string]any{"reputation": "high"},
	})
	require.NoError(t, err)

	source := &RegistryReputation{Registry: net.Registry, Key: "reputation"}
	_, ok := source.Reputation(ctx, "odd-1")
	assert.False(t, ok)
}
