// Package storage persists registry, coordination, and governor state
// through GORM so a restarted node can replay its agent roster and keep an
// audit trail of resource usage. The core stays authoritative in memory;
// storage is a write-behind mirror fed by the event bus.
package storage

import (
	"encoding/json"
	"time"
)

// AgentModel is the persisted form of a registry record. Capabilities and
// metadata are stored as JSON text columns.
type AgentModel struct {
	AgentID       string    `gorm:"primaryKey;column:agent_id"`
	AgentType     string    `gorm:"column:agent_type;index"`
	Capabilities  string    `gorm:"column:capabilities"`
	Region        string    `gorm:"column:region;index"`
	Status        string    `gorm:"column:status"`
	LastHeartbeat time.Time `gorm:"column:last_heartbeat"`
	RegisteredAt  time.Time `gorm:"column:registered_at"`
	Metadata      string    `gorm:"column:metadata"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// TableName sets the agents table name.
func (AgentModel) TableName() string { return "agents" }

// SessionModel is the persisted form of a coordination session. The task
// graph, participant list, and shared state are stored as JSON text.
type SessionModel struct {
	CoordinationID string    `gorm:"primaryKey;column:coordination_id"`
	Pattern        string    `gorm:"column:pattern;index"`
	Goal           string    `gorm:"column:goal"`
	CoordinatorID  string    `gorm:"column:coordinator_id;index"`
	Status         string    `gorm:"column:status;index"`
	Participants   string    `gorm:"column:participants"`
	Tasks          string    `gorm:"column:tasks"`
	SharedState    string    `gorm:"column:shared_state"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// TableName sets the sessions table name.
func (SessionModel) TableName() string { return "sessions" }

// AllocationModel is the persisted form of a resource allocation.
type AllocationModel struct {
	AllocationID string     `gorm:"primaryKey;column:allocation_id"`
	AgentID      string     `gorm:"column:agent_id;index"`
	Quotas       string     `gorm:"column:quotas"`
	Usage        string     `gorm:"column:usage_counters"`
	Priority     int        `gorm:"column:priority"`
	Status       string     `gorm:"column:status;index"`
	AllocatedAt  time.Time  `gorm:"column:allocated_at"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	RevokeReason string     `gorm:"column:revoke_reason"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

// TableName sets the allocations table name.
func (AllocationModel) TableName() string { return "allocations" }

// UsageRecordModel is one append-only usage audit row. Rows are only ever
// inserted.
type UsageRecordModel struct {
	RecordID     string    `gorm:"primaryKey;column:record_id"`
	AgentID      string    `gorm:"column:agent_id;index"`
	AllocationID string    `gorm:"column:allocation_id;index"`
	TaskID       string    `gorm:"column:task_id"`
	Deltas       string    `gorm:"column:deltas"`
	Metadata     string    `gorm:"column:metadata"`
	Timestamp    time.Time `gorm:"column:timestamp;index"`
}

// TableName sets the usage records table name.
func (UsageRecordModel) TableName() string { return "usage_records" }

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}
