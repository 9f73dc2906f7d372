package governor

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/events"
	"github.com/BaSui01/agentnet/types"
)

// ReputationSource supplies an optional reputation score for an agent,
// typically backed by registry metadata. Scores are on a 0..100 scale.
type ReputationSource interface {
	Reputation(ctx context.Context, agentID string) (float64, bool)
}

// UsageSink receives every committed usage record. Implementations must
// treat records as append-only. A nil sink disables external auditing.
type UsageSink interface {
	AppendUsage(ctx context.Context, record *ResourceUsageRecord) error
}

// agentGrant wraps one agent's allocation behind its own mutex so the
// check-then-commit in RecordUsage is atomic per agent without holding
// the governor-wide lock across the critical section.
type agentGrant struct {
	mu      sync.Mutex
	alloc   *ResourceAllocation
	history []*ResourceUsageRecord
}

// Governor allocates quotas, meters usage, and enforces hard limits.
type Governor struct {
	mu     sync.RWMutex
	grants map[string]*agentGrant

	config     *GovernorConfig
	reputation ReputationSource
	sink       UsageSink
	bus        events.Publisher
	logger     *zap.Logger
	clock      func() time.Time
}

// Option configures a Governor.
type Option func(*Governor)

// WithReputationSource installs the reputation modulation hook.
func WithReputationSource(src ReputationSource) Option {
	return func(g *Governor) { g.reputation = src }
}

// WithUsageSink installs the durable audit sink.
func WithUsageSink(sink UsageSink) Option {
	return func(g *Governor) { g.sink = sink }
}

// WithClock overrides the time source. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Governor) { g.clock = clock }
}

// NewGovernor creates a resource governor.
func NewGovernor(config *GovernorConfig, bus events.Publisher, logger *zap.Logger, opts ...Option) *Governor {
	if config == nil {
		config = DefaultGovernorConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		grants: make(map[string]*agentGrant),
		config: config,
		bus:    bus,
		logger: logger.With(zap.String("component", "governor")),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequestAllocation grants a quota allocation to an agent, replacing any
// previous one. The allocation starts Approved when auto-approve is set,
// otherwise Pending. When a reputation source is configured and has a
// score for the agent, the score modulates priority and quota limits.
func (g *Governor) RequestAllocation(ctx context.Context, req *AllocationRequest) (*ResourceAllocation, error) {
	if req == nil || req.AgentID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "agent_id is required")
	}
	if len(req.Quotas) == 0 {
		return nil, types.NewError(types.ErrInvalidArgument, "at least one quota is required")
	}
	for rt, q := range req.Quotas {
		if q.Limit <= 0 {
			return nil, types.NewErrorf(types.ErrInvalidArgument, "quota %s must have a positive limit", rt)
		}
	}

	priority := req.Priority
	if priority == 0 {
		priority = g.config.DefaultPriority
	}
	quotas := make(map[ResourceType]Quota, len(req.Quotas))
	for rt, q := range req.Quotas {
		quotas[rt] = q
	}

	if g.config.EnableModulation && g.reputation != nil {
		if score, ok := g.reputation.Reputation(ctx, req.AgentID); ok {
			priority = modulatePriority(score)
			factor := modulationFactor(score)
			for rt, q := range quotas {
				q.Limit = q.Limit * factor
				quotas[rt] = q
			}
			g.logger.Debug("reputation modulation applied",
				zap.String("agent_id", req.AgentID),
				zap.Float64("score", score),
				zap.Int("priority", priority),
				zap.Float64("factor", factor))
		}
	}
	priority = clampPriority(priority)

	now := g.clock()
	status := AllocationPending
	if req.autoApprove() {
		status = AllocationApproved
	}
	alloc := &ResourceAllocation{
		AllocationID: "alloc-" + uuid.New().String(),
		AgentID:      req.AgentID,
		Quotas:       quotas,
		Priority:     priority,
		Status:       status,
		AllocatedAt:  now,
		Usage:        make(map[ResourceType]float64, len(quotas)),
	}
	if req.DurationHours > 0 {
		expires := now.Add(time.Duration(req.DurationHours * float64(time.Hour)))
		alloc.ExpiresAt = &expires
	}

	g.mu.Lock()
	grant, ok := g.grants[req.AgentID]
	if !ok {
		grant = &agentGrant{}
		g.grants[req.AgentID] = grant
	}
	g.mu.Unlock()

	grant.mu.Lock()
	grant.alloc = alloc
	grant.mu.Unlock()

	g.logger.Info("allocation created",
		zap.String("agent_id", req.AgentID),
		zap.String("allocation_id", alloc.AllocationID),
		zap.String("status", string(status)),
		zap.Int("priority", priority))
	g.publish(events.EventAllocationCreated, alloc, nil)

	return alloc.Clone(), nil
}

// ActivateAllocation moves an Approved allocation to Active.
func (g *Governor) ActivateAllocation(ctx context.Context, agentID string) (*ResourceAllocation, error) {
	grant, err := g.grant(agentID)
	if err != nil {
		return nil, err
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	alloc := grant.alloc
	if alloc == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	if alloc.Status != AllocationApproved {
		return nil, types.NewErrorf(types.ErrInvalidState, "allocation %s is %s, expected %s",
			alloc.AllocationID, alloc.Status, AllocationApproved)
	}
	alloc.Status = AllocationActive
	g.publish(events.EventAllocationActivated, alloc, nil)
	return alloc.Clone(), nil
}

// ApproveAllocation moves a Pending allocation to Approved.
func (g *Governor) ApproveAllocation(ctx context.Context, agentID string) (*ResourceAllocation, error) {
	grant, err := g.grant(agentID)
	if err != nil {
		return nil, err
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	alloc := grant.alloc
	if alloc == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	if alloc.Status != AllocationPending {
		return nil, types.NewErrorf(types.ErrInvalidState, "allocation %s is %s, expected %s",
			alloc.AllocationID, alloc.Status, AllocationPending)
	}
	alloc.Status = AllocationApproved
	return alloc.Clone(), nil
}

// RecordUsage meters a metered operation against the agent's allocation.
// The quota check and the counter commit happen under one per-agent lock,
// so two concurrent calls can never jointly push a counter past its limit.
// A delta that would exceed any limit is rejected in full and flips the
// allocation to Exhausted; counters are left untouched. A delta that lands
// a counter exactly on its limit commits, then flips to Exhausted.
func (g *Governor) RecordUsage(ctx context.Context, agentID string, deltas map[ResourceType]float64, taskID string, metadata map[string]any) (*ResourceUsageRecord, error) {
	if len(deltas) == 0 {
		return nil, types.NewError(types.ErrInvalidArgument, "at least one usage delta is required")
	}
	for rt, d := range deltas {
		if d < 0 {
			return nil, types.NewErrorf(types.ErrInvalidArgument, "negative delta for %s", rt)
		}
	}
	grant, err := g.grant(agentID)
	if err != nil {
		return nil, err
	}

	grant.mu.Lock()
	defer grant.mu.Unlock()

	alloc := grant.alloc
	if alloc == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	g.expireLocked(alloc)

	if alloc.Status == AllocationExhausted {
		return nil, types.NewErrorf(types.ErrQuotaExceeded, "allocation %s is exhausted", alloc.AllocationID)
	}
	if !alloc.Status.accepting() {
		return nil, types.NewErrorf(types.ErrInvalidState, "allocation %s is %s and no longer accepts usage",
			alloc.AllocationID, alloc.Status)
	}

	for rt, d := range deltas {
		quota, ok := alloc.Quotas[rt]
		if !ok {
			return nil, types.NewErrorf(types.ErrInvalidArgument, "no quota configured for %s", rt)
		}
		if alloc.Usage[rt]+d > quota.Limit {
			alloc.Status = AllocationExhausted
			g.logger.Warn("quota exceeded",
				zap.String("agent_id", agentID),
				zap.String("resource", string(rt)),
				zap.Float64("used", alloc.Usage[rt]),
				zap.Float64("delta", d),
				zap.Float64("limit", quota.Limit))
			g.publish(events.EventAllocationExhausted, alloc, map[string]any{"resource": string(rt)})
			return nil, types.NewErrorf(types.ErrQuotaExceeded,
				"usage of %.4f %s would exceed the limit of %.4f", alloc.Usage[rt]+d, rt, quota.Limit)
		}
	}

	exhaustedBy := ResourceType("")
	for rt, d := range deltas {
		alloc.Usage[rt] += d
		if alloc.Usage[rt] >= alloc.Quotas[rt].Limit {
			exhaustedBy = rt
		}
	}

	record := &ResourceUsageRecord{
		RecordID:     "usage-" + uuid.New().String(),
		AgentID:      agentID,
		AllocationID: alloc.AllocationID,
		TaskID:       taskID,
		Deltas:       copyDeltas(deltas),
		Metadata:     metadata,
		Timestamp:    g.clock(),
	}
	grant.history = append(grant.history, record)
	// The in-memory history is only trimmed when a sink holds the full
	// audit trail; without one the core keeps every record.
	if limit := g.config.UsageHistoryLimit; g.sink != nil && limit > 0 && len(grant.history) > limit {
		grant.history = grant.history[len(grant.history)-limit:]
	}
	if g.sink != nil {
		if err := g.sink.AppendUsage(ctx, record); err != nil {
			g.logger.Error("usage sink append failed",
				zap.String("record_id", record.RecordID), zap.Error(err))
		}
	}

	g.publish(events.EventUsageRecorded, alloc, map[string]any{"record_id": record.RecordID})
	if exhaustedBy != "" {
		alloc.Status = AllocationExhausted
		g.publish(events.EventAllocationExhausted, alloc, map[string]any{"resource": string(exhaustedBy)})
	}
	return record, nil
}

// IsBudgetExceeded reports whether the agent may be assigned billable
// work. An agent with no allocation at all is unconstrained.
func (g *Governor) IsBudgetExceeded(ctx context.Context, agentID string) bool {
	grant, err := g.grant(agentID)
	if err != nil {
		return false
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	alloc := grant.alloc
	if alloc == nil {
		return false
	}
	g.expireLocked(alloc)
	if !alloc.Status.accepting() {
		return true
	}
	if quota, ok := alloc.Quotas[ResourceBudgetUSD]; ok {
		return alloc.Usage[ResourceBudgetUSD] >= quota.Limit
	}
	return false
}

// RemainingBudget returns the unspent budget_usd for the agent. The value
// is never negative.
func (g *Governor) RemainingBudget(ctx context.Context, agentID string) (float64, error) {
	grant, err := g.grant(agentID)
	if err != nil {
		return 0, err
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	alloc := grant.alloc
	if alloc == nil {
		return 0, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	quota, ok := alloc.Quotas[ResourceBudgetUSD]
	if !ok {
		return 0, types.NewErrorf(types.ErrNotFound, "no %s quota for agent %s", ResourceBudgetUSD, agentID)
	}
	return math.Max(0, quota.Limit-alloc.Usage[ResourceBudgetUSD]), nil
}

// UsageSummary returns the per-resource usage view for the agent.
func (g *Governor) UsageSummary(ctx context.Context, agentID string) (map[ResourceType]ResourceUsage, error) {
	grant, err := g.grant(agentID)
	if err != nil {
		return nil, err
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	alloc := grant.alloc
	if alloc == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	summary := make(map[ResourceType]ResourceUsage, len(alloc.Quotas))
	for rt, quota := range alloc.Quotas {
		used := alloc.Usage[rt]
		summary[rt] = ResourceUsage{
			Used:      used,
			Limit:     quota.Limit,
			Remaining: math.Max(0, quota.Limit-used),
			Percent:   used / quota.Limit * 100,
		}
	}
	return summary, nil
}

// UsageHistory returns up to limit of the most recent usage records for
// the agent, newest last. limit <= 0 returns all retained records.
func (g *Governor) UsageHistory(ctx context.Context, agentID string, limit int) ([]*ResourceUsageRecord, error) {
	grant, err := g.grant(agentID)
	if err != nil {
		return nil, err
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	history := grant.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]*ResourceUsageRecord, len(history))
	copy(out, history)
	return out, nil
}

// GetAllocation returns a copy of the agent's current allocation.
func (g *Governor) GetAllocation(ctx context.Context, agentID string) (*ResourceAllocation, error) {
	grant, err := g.grant(agentID)
	if err != nil {
		return nil, err
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	if grant.alloc == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	g.expireLocked(grant.alloc)
	return grant.alloc.Clone(), nil
}

// ListAllocations returns copies of all current allocations, sorted by
// agent ID.
func (g *Governor) ListAllocations(ctx context.Context) []*ResourceAllocation {
	g.mu.RLock()
	grants := make([]*agentGrant, 0, len(g.grants))
	for _, grant := range g.grants {
		grants = append(grants, grant)
	}
	g.mu.RUnlock()

	out := make([]*ResourceAllocation, 0, len(grants))
	for _, grant := range grants {
		grant.mu.Lock()
		if grant.alloc != nil {
			g.expireLocked(grant.alloc)
			out = append(out, grant.alloc.Clone())
		}
		grant.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ExtendAllocation pushes the allocation's expiry forward by the given
// number of hours. Only the expiry clock moves; usage counters and an
// Exhausted status are never reset. An Expired allocation returns to
// Active. Revoked allocations cannot be extended.
func (g *Governor) ExtendAllocation(ctx context.Context, agentID string, additionalHours float64) (*ResourceAllocation, error) {
	if additionalHours <= 0 {
		return nil, types.NewError(types.ErrInvalidArgument, "additional_hours must be positive")
	}
	grant, err := g.grant(agentID)
	if err != nil {
		return nil, err
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	alloc := grant.alloc
	if alloc == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	g.expireLocked(alloc)
	if alloc.Status == AllocationRevoked {
		return nil, types.NewErrorf(types.ErrInvalidState, "allocation %s is revoked", alloc.AllocationID)
	}

	extension := time.Duration(additionalHours * float64(time.Hour))
	now := g.clock()
	base := now
	if alloc.ExpiresAt != nil && alloc.ExpiresAt.After(now) {
		base = *alloc.ExpiresAt
	}
	expires := base.Add(extension)
	alloc.ExpiresAt = &expires
	if alloc.Status == AllocationExpired {
		alloc.Status = AllocationActive
	}
	g.logger.Info("allocation extended",
		zap.String("agent_id", agentID),
		zap.String("allocation_id", alloc.AllocationID),
		zap.Time("expires_at", expires))
	return alloc.Clone(), nil
}

// RevokeAllocation terminally revokes the agent's allocation.
func (g *Governor) RevokeAllocation(ctx context.Context, agentID, reason string) (*ResourceAllocation, error) {
	grant, err := g.grant(agentID)
	if err != nil {
		return nil, err
	}
	grant.mu.Lock()
	defer grant.mu.Unlock()

	alloc := grant.alloc
	if alloc == nil {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	if alloc.Status == AllocationRevoked {
		return nil, types.NewErrorf(types.ErrInvalidState, "allocation %s is already revoked", alloc.AllocationID)
	}
	alloc.Status = AllocationRevoked
	alloc.RevokeReason = reason
	g.logger.Info("allocation revoked",
		zap.String("agent_id", agentID),
		zap.String("allocation_id", alloc.AllocationID),
		zap.String("reason", reason))
	g.publish(events.EventAllocationRevoked, alloc, map[string]any{"reason": reason})
	return alloc.Clone(), nil
}

// grant returns the agent's grant cell, validating the agent ID.
func (g *Governor) grant(agentID string) (*agentGrant, error) {
	if agentID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "agent_id is required")
	}
	g.mu.RLock()
	grant, ok := g.grants[agentID]
	g.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "no allocation for agent %s", agentID)
	}
	return grant, nil
}

// expireLocked lazily flips a past-expiry allocation to Expired. The
// caller holds the grant mutex.
func (g *Governor) expireLocked(alloc *ResourceAllocation) {
	if alloc.ExpiresAt == nil || !alloc.Status.accepting() {
		return
	}
	if g.clock().After(*alloc.ExpiresAt) {
		alloc.Status = AllocationExpired
		g.publish(events.EventAllocationExpired, alloc, nil)
	}
}

func (g *Governor) publish(eventType events.EventType, alloc *ResourceAllocation, payload map[string]any) {
	if g.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(alloc.Status)
	g.bus.Publish(&events.Event{
		ID:           uuid.New().String(),
		Type:         eventType,
		AgentID:      alloc.AgentID,
		AllocationID: alloc.AllocationID,
		Payload:      payload,
		Timestamp:    g.clock(),
	})
}

// modulatePriority maps a 0..100 reputation score linearly onto the
// 1..10 priority range.
func modulatePriority(score float64) int {
	score = math.Max(0, math.Min(100, score))
	return clampPriority(int(math.Round(1 + score/100*9)))
}

// modulationFactor maps a 0..100 reputation score onto a quota
// multiplier in [0.5, 1.5].
func modulationFactor(score float64) float64 {
	score = math.Max(0, math.Min(100, score))
	return 0.5 + score/100
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

func copyDeltas(deltas map[ResourceType]float64) map[ResourceType]float64 {
	out := make(map[ResourceType]float64, len(deltas))
	for k, v := range deltas {
		out[k] = v
	}
	return out
}
