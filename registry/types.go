// Package registry provides agent registration, indexed discovery, and
// heartbeat-based liveness for the agent network. It implements an
// in-process authoritative record store with capability, type, and region
// indexes plus a background liveness sweep.
package registry

import (
	"time"
)

// AgentStatus represents the status of a registered agent.
type AgentStatus string

const (
	// AgentStatusOnline indicates the agent is online and heartbeating.
	AgentStatusOnline AgentStatus = "online"
	// AgentStatusDegraded indicates the agent is reachable but impaired.
	AgentStatusDegraded AgentStatus = "degraded"
	// AgentStatusOffline indicates the agent missed its heartbeat window.
	AgentStatusOffline AgentStatus = "offline"
)

// AgentRecord is the identity and capability descriptor for one agent.
type AgentRecord struct {
	// AgentID is globally unique and immutable after creation.
	AgentID string `json:"agent_id"`

	// AgentType is a free-form type tag (e.g. "trading", "document").
	AgentType string `json:"agent_type"`

	// Capabilities is the set of capability names the agent provides.
	Capabilities []string `json:"capabilities"`

	// Region is the deployment region tag.
	Region string `json:"region"`

	// Status is the current liveness status.
	Status AgentStatus `json:"status"`

	// LastHeartbeat is when the last heartbeat was received. Zero when the
	// agent has never heartbeated.
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`

	// RegisteredAt is when this agent was first registered.
	RegisteredAt time.Time `json:"registered_at"`

	// Metadata contains additional schema-less metadata. Consumers read
	// narrow, documented keys only (the governor reads "reputation").
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HasCapability reports whether the record's capability set contains name.
func (r *AgentRecord) HasCapability(name string) bool {
	for _, c := range r.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record so callers never share the
// store's internal state.
func (r *AgentRecord) Clone() *AgentRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Capabilities != nil {
		cp.Capabilities = make([]string, len(r.Capabilities))
		copy(cp.Capabilities, r.Capabilities)
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// RegisterRequest carries the fields of a register or re-register call.
type RegisterRequest struct {
	AgentID      string         `json:"agent_id"`
	AgentType    string         `json:"agent_type"`
	Capabilities []string       `json:"capabilities"`
	Region       string         `json:"region"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DiscoverQuery filters registered agents. Every supplied filter narrows
// the result via index intersection; an empty query matches all agents.
type DiscoverQuery struct {
	// Capabilities requires every listed capability to be present.
	Capabilities []string `json:"capabilities,omitempty"`

	// AgentType filters by type tag.
	AgentType string `json:"agent_type,omitempty"`

	// Region filters by region tag.
	Region string `json:"region,omitempty"`

	// Limit caps the number of returned records. Zero means no limit.
	Limit int `json:"limit,omitempty"`

	// Priorities is an optional hint from the resource governor. When set,
	// agents with a higher priority sort first; agent_id ascending breaks
	// ties and orders agents without a hint.
	Priorities map[string]int `json:"-"`
}

// RegistryConfig holds configuration for the network registry.
type RegistryConfig struct {
	// HeartbeatTimeout is how long an agent may go without a heartbeat
	// before the liveness sweep marks it offline.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" json:"heartbeat_timeout"`

	// SweepInterval is the interval between liveness sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// EnableSweep enables the background liveness sweep.
	EnableSweep bool `yaml:"enable_sweep" json:"enable_sweep"`
}

// DefaultRegistryConfig returns a RegistryConfig with sensible defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		HeartbeatTimeout: 90 * time.Second,
		SweepInterval:    30 * time.Second,
		EnableSweep:      true,
	}
}
