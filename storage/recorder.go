package storage

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/events"
	"github.com/BaSui01/agentnet/governor"
	"github.com/BaSui01/agentnet/registry"
)

// AgentSource is the registry surface the recorder reads from.
type AgentSource interface {
	Get(ctx context.Context, agentID string) (*registry.AgentRecord, error)
}

// SessionSource is the coordination surface the recorder reads from.
type SessionSource interface {
	GetSession(ctx context.Context, coordinationID string) (*coordination.CoordinationSession, error)
}

// AllocationSource is the governor surface the recorder reads from.
type AllocationSource interface {
	GetAllocation(ctx context.Context, agentID string) (*governor.ResourceAllocation, error)
}

// Recorder mirrors committed state into the store, driven by bus events.
// It runs on the bus dispatcher goroutines; per-entity event ordering makes
// the mirror eventually consistent with the in-memory truth. Write failures
// are logged, never propagated.
type Recorder struct {
	store       *Store
	agents      AgentSource
	sessions    SessionSource
	allocations AllocationSource
	logger      *zap.Logger
	timeout     time.Duration
}

// NewRecorder creates a recorder. Any nil source disables mirroring for
// that subsystem.
func NewRecorder(store *Store, agents AgentSource, sessions SessionSource, allocations AllocationSource, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:       store,
		agents:      agents,
		sessions:    sessions,
		allocations: allocations,
		logger:      logger.With(zap.String("component", "storage_recorder")),
		timeout:     5 * time.Second,
	}
}

// Attach subscribes the recorder to the bus and returns the subscription id.
func (r *Recorder) Attach(bus *events.Bus) string {
	return bus.Subscribe(r.Handle)
}

// Handle is the bus Handler.
func (r *Recorder) Handle(event *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	switch {
	case event.Type == events.EventAgentDeregistered:
		err = r.store.DeleteAgent(ctx, event.AgentID)

	case strings.HasPrefix(string(event.Type), "agent_"):
		err = r.mirrorAgent(ctx, event.AgentID)

	case strings.HasPrefix(string(event.Type), "session_"),
		strings.HasPrefix(string(event.Type), "task_"):
		err = r.mirrorSession(ctx, event.CoordinationID)

	case strings.HasPrefix(string(event.Type), "allocation_"),
		event.Type == events.EventUsageRecorded:
		err = r.mirrorAllocation(ctx, event.AgentID)
	}

	if err != nil {
		r.logger.Error("failed to mirror event",
			zap.String("type", string(event.Type)),
			zap.String("agent_id", event.AgentID),
			zap.String("coordination_id", event.CoordinationID),
			zap.Error(err),
		)
	}
}

func (r *Recorder) mirrorAgent(ctx context.Context, agentID string) error {
	if r.agents == nil || agentID == "" {
		return nil
	}
	record, err := r.agents.Get(ctx, agentID)
	if err != nil {
		// Deregistered between event and mirror; the delete event follows.
		return nil
	}
	return r.store.SaveAgent(ctx, record)
}

func (r *Recorder) mirrorSession(ctx context.Context, coordinationID string) error {
	if r.sessions == nil || coordinationID == "" {
		return nil
	}
	session, err := r.sessions.GetSession(ctx, coordinationID)
	if err != nil {
		return nil
	}
	return r.store.SaveSession(ctx, session)
}

func (r *Recorder) mirrorAllocation(ctx context.Context, agentID string) error {
	if r.allocations == nil || agentID == "" {
		return nil
	}
	alloc, err := r.allocations.GetAllocation(ctx, agentID)
	if err != nil {
		return nil
	}
	return r.store.SaveAllocation(ctx, alloc)
}
