// Package coordination provides multi-agent task orchestration over a
// dependency graph. A coordination session owns its task graph, shared
// state, and participant set; the six coordination patterns share one
// engine and one set of graph invariants, with pattern-specific selection
// policy layered on top by the caller.
package coordination

import (
	"time"
)

// Pattern tags a session with its coordination style. The tag is carried
// for documentation and metrics only; the engine enforces the dependency
// and state-machine invariants identically for every pattern.
type Pattern string

const (
	// PatternPipeline assigns tasks strictly in dependency order to a
	// single downstream agent.
	PatternPipeline Pattern = "pipeline"
	// PatternSwarm fans the same frontier out to many agents.
	PatternSwarm Pattern = "swarm"
	// PatternHierarchical restricts assignment to agents within a
	// supervisor's subtree.
	PatternHierarchical Pattern = "hierarchical"
	// PatternConsensus collects proposals per task and the caller selects
	// a winner.
	PatternConsensus Pattern = "consensus"
	// PatternAuction collects bids per task and the caller selects a winner.
	PatternAuction Pattern = "auction"
	// PatternCollaborative lets any joined agent claim any available task.
	PatternCollaborative Pattern = "collaborative"
)

// ValidPattern reports whether p is one of the six supported patterns.
func ValidPattern(p Pattern) bool {
	switch p {
	case PatternPipeline, PatternSwarm, PatternHierarchical,
		PatternConsensus, PatternAuction, PatternCollaborative:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a coordination session.
type SessionStatus string

const (
	SessionForming   SessionStatus = "forming"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of coordinated work inside a session.
type Task struct {
	TaskID         string         `json:"task_id"`
	CoordinationID string         `json:"coordination_id"`
	Assignee       string         `json:"assignee,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	Status         TaskStatus     `json:"status"`
	Payload        map[string]any `json:"payload,omitempty"`
	Result         any            `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	RetryCount     int            `json:"retry_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a copy of the task. Dependencies are copied; Payload and
// Result are shared since the engine never mutates them after creation.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = make([]string, len(t.Dependencies))
		copy(cp.Dependencies, t.Dependencies)
	}
	return &cp
}

// Proposal is one agent's submission for a task under the consensus or
// auction patterns. Proposals live in the session's shared state under
// "proposals:<task_id>"; the engine stores them, the caller picks a winner.
type Proposal struct {
	AgentID     string    `json:"agent_id"`
	Value       any       `json:"value"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// CoordinationSession is one bounded multi-agent workflow instance.
type CoordinationSession struct {
	CoordinationID string           `json:"coordination_id"`
	Pattern        Pattern          `json:"pattern"`
	Goal           string           `json:"goal"`
	CoordinatorID  string           `json:"coordinator_id"`
	Participants   []string         `json:"participants"`
	Tasks          map[string]*Task `json:"tasks"`
	SharedState    map[string]any   `json:"shared_state,omitempty"`
	Status         SessionStatus    `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Progress aggregates the task counts of a session.
type Progress struct {
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	Percent   float64       `json:"percent"`
	Status    SessionStatus `json:"status"`
}

// EngineConfig holds configuration for the coordination engine.
type EngineConfig struct {
	// MaxTaskRetries is the retry ceiling for tasks failed with
	// retryable=true. Beyond it the task becomes terminally Failed.
	MaxTaskRetries int `yaml:"max_task_retries" json:"max_task_retries"`

	// FailSessionOnTaskFailure cascades a terminal task failure to the
	// whole session.
	FailSessionOnTaskFailure bool `yaml:"fail_session_on_task_failure" json:"fail_session_on_task_failure"`
}

// DefaultEngineConfig returns an EngineConfig with sensible defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxTaskRetries:           3,
		FailSessionOnTaskFailure: true,
	}
}
