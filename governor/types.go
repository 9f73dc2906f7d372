// Package governor provides per-agent resource quota allocation, usage
// metering, and hard budget enforcement. Every metered operation is
// recorded as an immutable audit entry, and the exhaustion check is
// serialized per agent so no usage can race past a limit.
package governor

import (
	"time"
)

// ResourceType names a metered resource.
type ResourceType string

const (
	ResourceAPICalls         ResourceType = "api_calls"
	ResourceBudgetUSD        ResourceType = "budget_usd"
	ResourceComputeUnits     ResourceType = "compute_units"
	ResourceMemoryMB         ResourceType = "memory_mb"
	ResourceStorageMB        ResourceType = "storage_mb"
	ResourceConcurrencySlots ResourceType = "concurrency_slots"
)

// Quota is the cap for one resource type.
type Quota struct {
	// Limit is the hard cap. Usage never exceeds it.
	Limit float64 `json:"limit"`

	// Period is the nominal accounting period for the quota. It is
	// carried for reporting; counters run for the allocation's lifetime.
	Period time.Duration `json:"period,omitempty"`
}

// AllocationStatus is the lifecycle state of an allocation.
type AllocationStatus string

const (
	AllocationPending   AllocationStatus = "pending"
	AllocationApproved  AllocationStatus = "approved"
	AllocationActive    AllocationStatus = "active"
	AllocationExhausted AllocationStatus = "exhausted"
	AllocationExpired   AllocationStatus = "expired"
	AllocationRevoked   AllocationStatus = "revoked"
)

// accepting reports whether the status admits further usage recording.
func (s AllocationStatus) accepting() bool {
	return s == AllocationApproved || s == AllocationActive
}

// ResourceAllocation is one agent's quota grant. An agent holds at most
// one allocation at a time; requesting a new one replaces it.
type ResourceAllocation struct {
	AllocationID string                   `json:"allocation_id"`
	AgentID      string                   `json:"agent_id"`
	Quotas       map[ResourceType]Quota   `json:"quotas"`
	Priority     int                      `json:"priority"`
	Status       AllocationStatus         `json:"status"`
	AllocatedAt  time.Time                `json:"allocated_at"`
	ExpiresAt    *time.Time               `json:"expires_at,omitempty"`
	Usage        map[ResourceType]float64 `json:"usage"`
	RevokeReason string                   `json:"revoke_reason,omitempty"`
}

// Clone returns a deep copy of the allocation.
func (a *ResourceAllocation) Clone() *ResourceAllocation {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Quotas = make(map[ResourceType]Quota, len(a.Quotas))
	for k, v := range a.Quotas {
		cp.Quotas[k] = v
	}
	cp.Usage = make(map[ResourceType]float64, len(a.Usage))
	for k, v := range a.Usage {
		cp.Usage[k] = v
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

// ResourceUsageRecord is one immutable audit entry, appended on every
// successful metered operation. The core never mutates or deletes records;
// retention is an external concern.
type ResourceUsageRecord struct {
	RecordID     string                   `json:"record_id"`
	AgentID      string                   `json:"agent_id"`
	AllocationID string                   `json:"allocation_id"`
	TaskID       string                   `json:"task_id,omitempty"`
	Deltas       map[ResourceType]float64 `json:"deltas"`
	Metadata     map[string]any           `json:"metadata,omitempty"`
	Timestamp    time.Time                `json:"timestamp"`
}

// ResourceUsage is the per-resource view in a usage summary.
type ResourceUsage struct {
	Used      float64 `json:"used"`
	Limit     float64 `json:"limit"`
	Remaining float64 `json:"remaining"`
	Percent   float64 `json:"percent"`
}

// AllocationRequest carries the fields of a request_allocation call.
type AllocationRequest struct {
	AgentID       string                 `json:"agent_id"`
	Quotas        map[ResourceType]Quota `json:"quotas"`
	Priority      int                    `json:"priority"`
	DurationHours float64                `json:"duration_hours,omitempty"`

	// AutoApprove defaults to true when omitted. Set it to false to leave
	// the allocation Pending for an explicit ApproveAllocation call.
	AutoApprove *bool `json:"auto_approve,omitempty"`
}

// autoApprove resolves the omitted-field default.
func (r *AllocationRequest) autoApprove() bool {
	return r.AutoApprove == nil || *r.AutoApprove
}

// GovernorConfig holds configuration for the resource governor.
type GovernorConfig struct {
	// DefaultPriority is used when a request carries no priority.
	DefaultPriority int `yaml:"default_priority" json:"default_priority"`

	// ReputationKey is the agent metadata key read by the optional
	// reputation modulation hook.
	ReputationKey string `yaml:"reputation_key" json:"reputation_key"`

	// EnableModulation turns reputation-based priority/quota scaling on.
	EnableModulation bool `yaml:"enable_modulation" json:"enable_modulation"`

	// UsageHistoryLimit caps the in-memory usage records kept per agent
	// for the history read API. The cap only applies when a usage sink is
	// wired to hold the full audit trail; without one every record stays
	// in memory.
	UsageHistoryLimit int `yaml:"usage_history_limit" json:"usage_history_limit"`
}

// DefaultGovernorConfig returns a GovernorConfig with sensible defaults.
func DefaultGovernorConfig() *GovernorConfig {
	return &GovernorConfig{
		DefaultPriority:   5,
		ReputationKey:     "reputation",
		EnableModulation:  true,
		UsageHistoryLimit: 1000,
	}
}
