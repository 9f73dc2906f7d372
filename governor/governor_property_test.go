package governor

import (
	"context"
	"math"
	"testing"

	"pgregory.net/rapid"
)

// Property: under any sequence of usage recordings, committed counters
// never exceed their quota limits, the remaining budget is never
// negative, and the sum of accepted deltas equals the counter.
func TestProperty_QuotaMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.Float64Range(1, 1000).Draw(t, "limit")
		g := NewGovernor(nil, nil, nil)
		ctx := context.Background()

		if _, err := g.RequestAllocation(ctx, &AllocationRequest{
			AgentID: "agent-1",
			Quotas:  map[ResourceType]Quota{ResourceBudgetUSD: {Limit: limit}},
		}); err != nil {
			t.Fatalf("RequestAllocation failed: %v", err)
		}

		accepted := 0.0
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			delta := rapid.Float64Range(0, limit*1.5).Draw(t, "delta")
			_, err := g.RecordUsage(ctx, "agent-1",
				map[ResourceType]float64{ResourceBudgetUSD: delta}, "", nil)
			if err == nil {
				accepted += delta
			}

			alloc, gerr := g.GetAllocation(ctx, "agent-1")
			if gerr != nil {
				t.Fatalf("GetAllocation failed: %v", gerr)
			}
			used := alloc.Usage[ResourceBudgetUSD]
			if used > limit {
				t.Fatalf("counter %.6f exceeds limit %.6f", used, limit)
			}
			if math.Abs(used-accepted) > 1e-9 {
				t.Fatalf("counter %.6f disagrees with accepted deltas %.6f", used, accepted)
			}
			remaining, rerr := g.RemainingBudget(ctx, "agent-1")
			if rerr != nil {
				t.Fatalf("RemainingBudget failed: %v", rerr)
			}
			if remaining < 0 {
				t.Fatalf("remaining budget %.6f is negative", remaining)
			}
			if alloc.Status == AllocationExhausted && err == nil && used < limit {
				t.Fatalf("accepted usage on an exhausted allocation at %.6f of %.6f", used, limit)
			}
		}
	})
}
