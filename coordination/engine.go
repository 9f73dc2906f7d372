package coordination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/events"
	"github.com/BaSui01/agentnet/types"
)

// AgentResolver resolves participant agent ids against the registry. The
// engine treats a resolver error or an offline agent as UnknownAgent.
type AgentResolver interface {
	// ResolveAgent returns nil when the agent is registered and not
	// offline.
	ResolveAgent(ctx context.Context, agentID string) error
}

// BudgetChecker is the optional cross-subsystem gate consulted at task
// assignment. Implemented by the resource governor.
type BudgetChecker interface {
	// IsBudgetExceeded reports whether the agent has no remaining budget.
	IsBudgetExceeded(ctx context.Context, agentID string) bool
}

// sessionState pairs a session with its serialization lock. All graph
// mutation for one coordination id goes through this lock; sessions on
// different ids proceed fully in parallel.
type sessionState struct {
	mu      sync.Mutex
	session *CoordinationSession
}

// Engine owns coordination-session state, task graphs, and event emission.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	config   *EngineConfig
	resolver AgentResolver
	budget   BudgetChecker
	bus      events.Publisher
	logger   *zap.Logger
	clock    func() time.Time
}

// NewEngine creates a coordination engine. resolver validates participant
// ids (required for Join and AssignTask agent checks); budget and bus may
// be nil.
func NewEngine(config *EngineConfig, resolver AgentResolver, budget BudgetChecker, bus events.Publisher, logger *zap.Logger) *Engine {
	if config == nil {
		config = DefaultEngineConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		sessions: make(map[string]*sessionState),
		config:   config,
		resolver: resolver,
		budget:   budget,
		bus:      bus,
		logger:   logger.With(zap.String("component", "coordination_engine")),
		clock:    time.Now,
	}
}

// CreateSession starts a new session in Forming state.
func (e *Engine) CreateSession(ctx context.Context, coordinatorID string, pattern Pattern, goal string) (*CoordinationSession, error) {
	if coordinatorID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "coordinator_id must not be empty")
	}
	if !ValidPattern(pattern) {
		return nil, types.NewErrorf(types.ErrInvalidArgument, "unsupported coordination pattern %q", pattern)
	}

	now := e.clock()
	session := &CoordinationSession{
		CoordinationID: fmt.Sprintf("coord-%s", uuid.New().String()),
		Pattern:        pattern,
		Goal:           goal,
		CoordinatorID:  coordinatorID,
		Participants:   []string{},
		Tasks:          make(map[string]*Task),
		SharedState:    make(map[string]any),
		Status:         SessionForming,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	e.mu.Lock()
	e.sessions[session.CoordinationID] = &sessionState{session: session}
	e.mu.Unlock()

	e.logger.Info("coordination session created",
		zap.String("coordination_id", session.CoordinationID),
		zap.String("pattern", string(pattern)),
		zap.String("coordinator_id", coordinatorID),
	)

	e.publish(&events.Event{
		Type:           events.EventSessionCreated,
		CoordinationID: session.CoordinationID,
		AgentID:        coordinatorID,
		Payload:        map[string]any{"pattern": string(pattern), "goal": goal},
	})

	return cloneSession(session), nil
}

// GetSession returns a copy of the session.
func (e *Engine) GetSession(ctx context.Context, coordinationID string) (*CoordinationSession, error) {
	state, err := e.state(coordinationID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return cloneSession(state.session), nil
}

// AddTask adds a task to the session's dependency graph. Tasks may be
// added while the session is Forming or Active; a dependency may reference
// a task that has not been added yet, which simply keeps the new task out
// of the frontier until the dependency exists and completes.
func (e *Engine) AddTask(ctx context.Context, coordinationID, taskID string, dependencies []string, payload map[string]any) (*Task, error) {
	if taskID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "task_id must not be empty")
	}

	state, err := e.state(coordinationID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return nil, types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}
	if _, exists := session.Tasks[taskID]; exists {
		return nil, types.NewErrorf(types.ErrInvalidArgument, "task %s already exists in session %s", taskID, coordinationID)
	}
	if wouldCreateCycle(session.Tasks, taskID, dependencies) {
		return nil, types.NewErrorf(types.ErrCyclicDependency, "adding task %s would create a dependency cycle", taskID)
	}

	now := e.clock()
	task := &Task{
		TaskID:         taskID,
		CoordinationID: coordinationID,
		Dependencies:   dedupe(dependencies),
		Status:         TaskPending,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	session.Tasks[taskID] = task
	session.UpdatedAt = now

	e.publish(&events.Event{
		Type:           events.EventTaskAdded,
		CoordinationID: coordinationID,
		TaskID:         taskID,
		Payload:        map[string]any{"dependencies": task.Dependencies},
	})

	return task.Clone(), nil
}

// Join adds an agent to the session's participant set after resolving it
// against the registry.
func (e *Engine) Join(ctx context.Context, coordinationID, agentID string) error {
	if err := e.resolveAgent(ctx, agentID); err != nil {
		return err
	}

	state, err := e.state(coordinationID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}
	for _, p := range session.Participants {
		if p == agentID {
			return nil // already joined
		}
	}
	session.Participants = append(session.Participants, agentID)
	session.UpdatedAt = e.clock()
	return nil
}

// AvailableTasks returns the scheduling frontier: every Pending task whose
// dependencies are all Completed, ordered by task id. Assigned tasks are
// excluded until a failed retry returns them to Pending.
func (e *Engine) AvailableTasks(ctx context.Context, coordinationID string) ([]*Task, error) {
	state, err := e.state(coordinationID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return nil, types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}

	frontier := make([]*Task, 0)
	for _, task := range session.Tasks {
		if task.Status != TaskPending {
			continue
		}
		if !dependenciesCompleted(session.Tasks, task) {
			continue
		}
		frontier = append(frontier, task.Clone())
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i].TaskID < frontier[j].TaskID })
	return frontier, nil
}

// AssignTask transitions a frontier task to Assigned. The assignee is
// resolved against the registry, and when a budget checker is wired the
// assignment fails with ResourceExhausted for over-budget agents.
func (e *Engine) AssignTask(ctx context.Context, coordinationID, taskID, agentID string) (*Task, error) {
	if err := e.resolveAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if e.budget != nil && e.budget.IsBudgetExceeded(ctx, agentID) {
		return nil, types.NewErrorf(types.ErrResourceExhausted, "agent %s has no remaining budget", agentID)
	}

	state, err := e.state(coordinationID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return nil, types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}
	task, ok := session.Tasks[taskID]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "task %s not found in session %s", taskID, coordinationID)
	}
	if task.Status != TaskPending {
		return nil, types.NewErrorf(types.ErrInvalidState, "task %s is %s, not pending", taskID, task.Status)
	}
	if !dependenciesCompleted(session.Tasks, task) {
		return nil, types.NewErrorf(types.ErrInvalidState, "task %s has incomplete dependencies", taskID)
	}

	now := e.clock()
	task.Status = TaskAssigned
	task.Assignee = agentID
	task.UpdatedAt = now
	if session.Status == SessionForming {
		session.Status = SessionActive
	}
	session.UpdatedAt = now

	e.publish(&events.Event{
		Type:           events.EventTaskAssigned,
		CoordinationID: coordinationID,
		TaskID:         taskID,
		Payload:        map[string]any{"assignee": agentID},
	})

	return task.Clone(), nil
}

// StartTask transitions an Assigned task to InProgress for its assignee.
func (e *Engine) StartTask(ctx context.Context, coordinationID, taskID, agentID string) error {
	state, err := e.state(coordinationID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}
	task, ok := session.Tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found in session %s", taskID, coordinationID)
	}
	if task.Status != TaskAssigned {
		return types.NewErrorf(types.ErrInvalidState, "task %s is %s, not assigned", taskID, task.Status)
	}
	if task.Assignee != agentID {
		return types.NewErrorf(types.ErrInvalidArgument, "task %s is assigned to %s", taskID, task.Assignee)
	}

	task.Status = TaskInProgress
	task.UpdatedAt = e.clock()
	session.UpdatedAt = task.UpdatedAt
	return nil
}

// CompleteTask marks an Assigned or InProgress task Completed. When the
// last task completes, the session transitions to Completed synchronously
// in the same call.
func (e *Engine) CompleteTask(ctx context.Context, coordinationID, taskID string, result any) error {
	state, err := e.state(coordinationID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}
	task, ok := session.Tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found in session %s", taskID, coordinationID)
	}
	if task.Status != TaskAssigned && task.Status != TaskInProgress {
		return types.NewErrorf(types.ErrInvalidState, "task %s is %s, cannot complete", taskID, task.Status)
	}

	now := e.clock()
	task.Status = TaskCompleted
	task.Result = result
	task.Error = ""
	task.UpdatedAt = now
	session.UpdatedAt = now

	e.publish(&events.Event{
		Type:           events.EventTaskCompleted,
		CoordinationID: coordinationID,
		TaskID:         taskID,
		Payload:        map[string]any{"assignee": task.Assignee},
	})

	if allTasksCompleted(session) {
		session.Status = SessionCompleted
		e.logger.Info("coordination session completed",
			zap.String("coordination_id", coordinationID),
			zap.Int("tasks", len(session.Tasks)),
		)
		e.publish(&events.Event{
			Type:           events.EventSessionCompleted,
			CoordinationID: coordinationID,
		})
	}
	return nil
}

// FailTask records a task failure. A retryable failure below the retry
// ceiling returns the task to Pending with its retry count bumped and its
// assignee cleared; otherwise the task becomes Failed and, per policy, the
// session cascades to Failed.
func (e *Engine) FailTask(ctx context.Context, coordinationID, taskID, reason string, retryable bool) error {
	state, err := e.state(coordinationID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}
	task, ok := session.Tasks[taskID]
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found in session %s", taskID, coordinationID)
	}
	if task.Status != TaskAssigned && task.Status != TaskInProgress {
		return types.NewErrorf(types.ErrInvalidState, "task %s is %s, cannot fail", taskID, task.Status)
	}

	now := e.clock()
	task.Error = reason
	task.UpdatedAt = now
	session.UpdatedAt = now

	willRetry := retryable && task.RetryCount < e.config.MaxTaskRetries
	if willRetry {
		task.RetryCount++
		task.Status = TaskPending
		task.Assignee = ""
	} else {
		task.Status = TaskFailed
	}

	e.publish(&events.Event{
		Type:           events.EventTaskFailed,
		CoordinationID: coordinationID,
		TaskID:         taskID,
		Payload: map[string]any{
			"reason":      reason,
			"retrying":    willRetry,
			"retry_count": task.RetryCount,
		},
	})

	if !willRetry {
		e.logger.Warn("task failed terminally",
			zap.String("coordination_id", coordinationID),
			zap.String("task_id", taskID),
			zap.String("reason", reason),
			zap.Int("retry_count", task.RetryCount),
		)
		if e.config.FailSessionOnTaskFailure {
			session.Status = SessionFailed
			e.publish(&events.Event{
				Type:           events.EventSessionFailed,
				CoordinationID: coordinationID,
				Payload:        map[string]any{"task_id": taskID},
			})
		}
	}
	return nil
}

// SubmitProposal stores one agent's proposal for a task in the session's
// shared state under "proposals:<task_id>". Used by the consensus and
// auction patterns; the caller inspects the proposals and selects a winner.
func (e *Engine) SubmitProposal(ctx context.Context, coordinationID, taskID, agentID string, value any) error {
	state, err := e.state(coordinationID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}
	if _, ok := session.Tasks[taskID]; !ok {
		return types.NewErrorf(types.ErrNotFound, "task %s not found in session %s", taskID, coordinationID)
	}

	key := "proposals:" + taskID
	proposals, _ := session.SharedState[key].([]Proposal)
	proposals = append(proposals, Proposal{
		AgentID:     agentID,
		Value:       value,
		SubmittedAt: e.clock(),
	})
	session.SharedState[key] = proposals
	session.UpdatedAt = e.clock()
	return nil
}

// UpdateSharedState sets one key in the session's shared state.
func (e *Engine) UpdateSharedState(ctx context.Context, coordinationID, key string, value any) error {
	if key == "" {
		return types.NewError(types.ErrInvalidArgument, "shared state key must not be empty")
	}

	state, err := e.state(coordinationID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if session.Status.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}
	session.SharedState[key] = value
	session.UpdatedAt = e.clock()
	return nil
}

// GetProgress aggregates task counts. This is a pure read: the session is
// already Completed by the time the last CompleteTask call returned, so a
// poll observes the same result.
func (e *Engine) GetProgress(ctx context.Context, coordinationID string) (*Progress, error) {
	state, err := e.state(coordinationID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	completed := 0
	for _, task := range session.Tasks {
		if task.Status == TaskCompleted {
			completed++
		}
	}
	progress := &Progress{
		Completed: completed,
		Total:     len(session.Tasks),
		Status:    session.Status,
	}
	if progress.Total > 0 {
		progress.Percent = float64(completed) / float64(progress.Total) * 100
	}
	return progress, nil
}

// Cancel transitions the session to Cancelled on explicit request from its
// creator. The transition is immediately visible to in-flight frontier and
// assignment calls on the same session.
func (e *Engine) Cancel(ctx context.Context, coordinationID, requesterID string) error {
	state, err := e.state(coordinationID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	session := state.session
	if requesterID != session.CoordinatorID {
		return types.NewErrorf(types.ErrInvalidArgument, "only coordinator %s may cancel session %s", session.CoordinatorID, coordinationID)
	}
	if session.Status.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState, "session %s is %s", coordinationID, session.Status)
	}

	session.Status = SessionCancelled
	session.UpdatedAt = e.clock()

	e.logger.Info("coordination session cancelled",
		zap.String("coordination_id", coordinationID),
		zap.String("requester", requesterID),
	)
	e.publish(&events.Event{
		Type:           events.EventSessionCancelled,
		CoordinationID: coordinationID,
	})
	return nil
}

// ListSessions returns copies of all sessions ordered by creation time.
func (e *Engine) ListSessions(ctx context.Context) []*CoordinationSession {
	e.mu.RLock()
	states := make([]*sessionState, 0, len(e.sessions))
	for _, s := range e.sessions {
		states = append(states, s)
	}
	e.mu.RUnlock()

	out := make([]*CoordinationSession, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, cloneSession(s.session))
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (e *Engine) state(coordinationID string) (*sessionState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, ok := e.sessions[coordinationID]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "session %s not found", coordinationID)
	}
	return state, nil
}

func (e *Engine) resolveAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return types.NewError(types.ErrInvalidArgument, "agent_id must not be empty")
	}
	if e.resolver == nil {
		return nil
	}
	if err := e.resolver.ResolveAgent(ctx, agentID); err != nil {
		return types.NewErrorf(types.ErrUnknownAgent, "agent %s is not available", agentID).WithCause(err)
	}
	return nil
}

func (e *Engine) publish(event *events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

func allTasksCompleted(session *CoordinationSession) bool {
	if len(session.Tasks) == 0 {
		return false
	}
	for _, task := range session.Tasks {
		if task.Status != TaskCompleted {
			return false
		}
	}
	return true
}

func cloneSession(s *CoordinationSession) *CoordinationSession {
	cp := *s
	cp.Participants = append([]string(nil), s.Participants...)
	cp.Tasks = make(map[string]*Task, len(s.Tasks))
	for id, task := range s.Tasks {
		cp.Tasks[id] = task.Clone()
	}
	cp.SharedState = make(map[string]any, len(s.SharedState))
	for k, v := range s.SharedState {
		cp.SharedState[k] = v
	}
	return &cp
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
