package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/events"
	"github.com/BaSui01/agentnet/types"
)

// NetworkRegistry is the authoritative agent registry. It owns the record
// store and runs the background liveness sweep. All mutations are local and
// either fully apply (record plus all index updates) or return a typed
// error with no partial effect.
type NetworkRegistry struct {
	store  *RecordStore
	config *RegistryConfig
	bus    events.Publisher
	logger *zap.Logger

	// clock is swappable for liveness tests.
	clock func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewNetworkRegistry creates a registry. bus may be nil when no event
// fan-out is wanted.
func NewNetworkRegistry(config *RegistryConfig, bus events.Publisher, logger *zap.Logger) *NetworkRegistry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NetworkRegistry{
		store:  NewRecordStore(),
		config: config,
		bus:    bus,
		logger: logger.With(zap.String("component", "network_registry")),
		clock:  time.Now,
		done:   make(chan struct{}),
	}
}

// Start launches the background liveness sweep when enabled.
func (r *NetworkRegistry) Start(ctx context.Context) error {
	if r.config.EnableSweep {
		r.wg.Add(1)
		go r.runSweep()
	}
	r.logger.Info("network registry started",
		zap.Bool("sweep_enabled", r.config.EnableSweep),
		zap.Duration("heartbeat_timeout", r.config.HeartbeatTimeout),
	)
	return nil
}

// Close stops the liveness sweep.
func (r *NetworkRegistry) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
	r.logger.Info("network registry closed")
	return nil
}

// Register performs an idempotent upsert. An existing agent keeps its
// registration time and heartbeat; type, capabilities, region, and metadata
// are replaced and all three indexes rebuilt atomically.
func (r *NetworkRegistry) Register(ctx context.Context, req RegisterRequest) (*AgentRecord, error) {
	if req.AgentID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "agent_id must not be empty")
	}

	now := r.clock()
	record := &AgentRecord{
		AgentID:       req.AgentID,
		AgentType:     req.AgentType,
		Capabilities:  normalizeCapabilities(req.Capabilities),
		Region:        req.Region,
		Status:        AgentStatusOnline,
		LastHeartbeat: now,
		RegisteredAt:  now,
		Metadata:      req.Metadata,
	}

	// The merge runs under the store's write lock, so a heartbeat landing
	// during re-registration is never overwritten with a stale timestamp.
	existed := r.store.UpsertWith(record, func(existing, record *AgentRecord) {
		record.RegisteredAt = existing.RegisteredAt
		record.LastHeartbeat = existing.LastHeartbeat
		record.Status = existing.Status
	})
	eventType := events.EventAgentRegistered
	if existed {
		eventType = events.EventAgentUpdated
	}

	r.logger.Info("agent registered",
		zap.String("agent_id", record.AgentID),
		zap.String("agent_type", record.AgentType),
		zap.Int("capabilities", len(record.Capabilities)),
		zap.String("region", record.Region),
	)

	r.publish(&events.Event{
		Type:    eventType,
		AgentID: record.AgentID,
		Payload: map[string]any{
			"agent_type": record.AgentType,
			"region":     record.Region,
		},
	})

	return record.Clone(), nil
}

// Deregister removes the record and purges it from all indexes.
func (r *NetworkRegistry) Deregister(ctx context.Context, agentID string) error {
	if !r.store.Delete(agentID) {
		return types.NewErrorf(types.ErrNotFound, "agent %s not found", agentID)
	}

	r.logger.Info("agent deregistered", zap.String("agent_id", agentID))

	r.publish(&events.Event{
		Type:    events.EventAgentDeregistered,
		AgentID: agentID,
	})
	return nil
}

// Heartbeat refreshes the agent's heartbeat timestamp. An Offline agent
// that heartbeats again comes back Online.
func (r *NetworkRegistry) Heartbeat(ctx context.Context, agentID string) error {
	now := r.clock()
	ok := r.store.Mutate(agentID, func(record *AgentRecord) {
		record.LastHeartbeat = now
		if record.Status == AgentStatusOffline {
			record.Status = AgentStatusOnline
		}
	})
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "agent %s not found", agentID)
	}
	return nil
}

// Get returns a copy of one record.
func (r *NetworkRegistry) Get(ctx context.Context, agentID string) (*AgentRecord, error) {
	record, ok := r.store.Get(agentID)
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "agent %s not found", agentID)
	}
	return record, nil
}

// List returns all records ordered by agent id.
func (r *NetworkRegistry) List(ctx context.Context) ([]*AgentRecord, error) {
	return r.store.List(), nil
}

// Discover returns the agents matching every supplied filter, ordered by
// agent id ascending. When the query carries a priority hint, agents with a
// higher priority sort first and agent id breaks ties.
func (r *NetworkRegistry) Discover(ctx context.Context, query DiscoverQuery) ([]*AgentRecord, error) {
	matched := r.store.Select(query)

	sort.Slice(matched, func(i, j int) bool {
		if len(query.Priorities) > 0 {
			pi, pj := query.Priorities[matched[i].AgentID], query.Priorities[matched[j].AgentID]
			if pi != pj {
				return pi > pj
			}
		}
		return matched[i].AgentID < matched[j].AgentID
	})

	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// SweepOnce runs one liveness pass: every non-offline record whose
// heartbeat is older than the timeout flips to Offline and emits
// agent_offline. Safe to run concurrently with register and discover, and
// idempotent for already-offline records.
func (r *NetworkRegistry) SweepOnce() int {
	now := r.clock()
	flipped := 0

	for _, record := range r.store.List() {
		if record.Status == AgentStatusOffline {
			continue
		}
		if now.Sub(record.LastHeartbeat) <= r.config.HeartbeatTimeout {
			continue
		}

		agentID := record.AgentID
		changed := false
		r.store.Mutate(agentID, func(rec *AgentRecord) {
			// Re-check under the lock: a heartbeat may have landed between
			// the snapshot and this mutation.
			if rec.Status != AgentStatusOffline && now.Sub(rec.LastHeartbeat) > r.config.HeartbeatTimeout {
				rec.Status = AgentStatusOffline
				changed = true
			}
		})
		if !changed {
			continue
		}
		flipped++

		r.logger.Warn("agent missed heartbeat window, marking offline",
			zap.String("agent_id", agentID),
			zap.Duration("timeout", r.config.HeartbeatTimeout),
		)
		r.publish(&events.Event{
			Type:    events.EventAgentOffline,
			AgentID: agentID,
		})
	}
	return flipped
}

// runSweep is the background liveness loop.
func (r *NetworkRegistry) runSweep() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.SweepOnce()
		case <-r.done:
			return
		}
	}
}

func (r *NetworkRegistry) publish(event *events.Event) {
	if r.bus != nil {
		r.bus.Publish(event)
	}
}

// normalizeCapabilities de-duplicates and sorts the capability set so
// re-registration with the same capabilities in a different order is
// observably identical.
func normalizeCapabilities(caps []string) []string {
	if len(caps) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
