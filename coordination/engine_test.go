package coordination

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/types"
)

// stubResolver resolves every agent except those in unknown.
type stubResolver struct {
	unknown map[string]bool
}

func (r *stubResolver) ResolveAgent(_ context.Context, agentID string) error {
	if r.unknown[agentID] {
		return errors.New("not registered")
	}
	return nil
}

// stubBudget marks listed agents as over budget.
type stubBudget struct {
	exceeded map[string]bool
}

func (b *stubBudget) IsBudgetExceeded(_ context.Context, agentID string) bool {
	return b.exceeded[agentID]
}

func newTestEngine() *Engine {
	return NewEngine(DefaultEngineConfig(), &stubResolver{}, nil, nil, zap.NewNop())
}

func createSession(t *testing.T, e *Engine, pattern Pattern) *CoordinationSession {
	t.Helper()
	session, err := e.CreateSession(context.Background(), "coordinator-1", pattern, "test goal")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session
}

func TestEngine_CreateSession(t *testing.T) {
	e := newTestEngine()

	session := createSession(t, e, PatternPipeline)
	if session.Status != SessionForming {
		t.Errorf("expected forming, got %s", session.Status)
	}
	if session.CoordinationID == "" {
		t.Error("expected a coordination id")
	}

	_, err := e.CreateSession(context.Background(), "coordinator-1", Pattern("ring"), "goal")
	if !types.IsCode(err, types.ErrInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT for unsupported pattern, got %v", err)
	}
}

func TestEngine_AddTaskCycleDetection(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	session := createSession(t, e, PatternPipeline)
	id := session.CoordinationID

	if _, err := e.AddTask(ctx, id, "a", nil, nil); err != nil {
		t.Fatalf("failed to add task a: %v", err)
	}
	if _, err := e.AddTask(ctx, id, "b", []string{"a"}, nil); err != nil {
		t.Fatalf("failed to add task b: %v", err)
	}

	if _, err := e.AddTask(ctx, id, "c", []string{"b"}, nil); err != nil {
		t.Fatalf("failed to add task c: %v", err)
	}
	_, err := e.AddTask(ctx, id, "d", []string{"d"}, nil)
	if !types.IsCode(err, types.ErrCyclicDependency) {
		t.Fatalf("expected CYCLIC_DEPENDENCY for self-dependency, got %v", err)
	}
}

func TestEngine_AddTaskForwardDependencyCycle(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	id := createSession(t, e, PatternSwarm).CoordinationID

	// x depends on y before y exists; adding y depending on x must close
	// the cycle and be rejected.
	if _, err := e.AddTask(ctx, id, "x", []string{"y"}, nil); err != nil {
		t.Fatalf("failed to add task x: %v", err)
	}
	_, err := e.AddTask(ctx, id, "y", []string{"x"}, nil)
	if !types.IsCode(err, types.ErrCyclicDependency) {
		t.Fatalf("expected CYCLIC_DEPENDENCY, got %v", err)
	}
}

func TestEngine_AvailableTasksFrontier(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	id := createSession(t, e, PatternPipeline).CoordinationID

	mustAddTask(t, e, id, "a", nil)
	mustAddTask(t, e, id, "b", []string{"a"})
	mustAddTask(t, e, id, "c", []string{"b"})

	frontier, err := e.AvailableTasks(ctx, id)
	if err != nil {
		t.Fatalf("available tasks failed: %v", err)
	}
	if len(frontier) != 1 || frontier[0].TaskID != "a" {
		t.Fatalf("expected frontier {a}, got %v", taskIDs(frontier))
	}

	// Assigned tasks leave the frontier.
	if _, err := e.AssignTask(ctx, id, "a", "worker-1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	frontier, _ = e.AvailableTasks(ctx, id)
	if len(frontier) != 0 {
		t.Fatalf("expected empty frontier after assignment, got %v", taskIDs(frontier))
	}

	// Completing a unblocks b only.
	if err := e.CompleteTask(ctx, id, "a", "done"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	frontier, _ = e.AvailableTasks(ctx, id)
	if len(frontier) != 1 || frontier[0].TaskID != "b" {
		t.Fatalf("expected frontier {b}, got %v", taskIDs(frontier))
	}
}

func TestEngine_JoinUnknownAgent(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), &stubResolver{unknown: map[string]bool{"ghost": true}}, nil, nil, zap.NewNop())
	ctx := context.Background()
	id := createSession(t, e, PatternCollaborative).CoordinationID

	if err := e.Join(ctx, id, "ghost"); !types.IsCode(err, types.ErrUnknownAgent) {
		t.Fatalf("expected UNKNOWN_AGENT, got %v", err)
	}
	if err := e.Join(ctx, id, "known"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	session, _ := e.GetSession(ctx, id)
	if len(session.Participants) != 1 || session.Participants[0] != "known" {
		t.Errorf("expected participants {known}, got %v", session.Participants)
	}
}

func TestEngine_AssignTaskBudgetGate(t *testing.T) {
	budget := &stubBudget{exceeded: map[string]bool{"broke": true}}
	e := NewEngine(DefaultEngineConfig(), &stubResolver{}, budget, nil, zap.NewNop())
	ctx := context.Background()
	id := createSession(t, e, PatternSwarm).CoordinationID
	mustAddTask(t, e, id, "t1", nil)

	_, err := e.AssignTask(ctx, id, "t1", "broke")
	if !types.IsCode(err, types.ErrResourceExhausted) {
		t.Fatalf("expected RESOURCE_EXHAUSTED, got %v", err)
	}

	if _, err := e.AssignTask(ctx, id, "t1", "funded"); err != nil {
		t.Fatalf("assign failed for funded agent: %v", err)
	}
}

func TestEngine_SessionCompletionExactness(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	id := createSession(t, e, PatternPipeline).CoordinationID

	mustAddTask(t, e, id, "a", nil)
	mustAddTask(t, e, id, "b", []string{"a"})
	mustAddTask(t, e, id, "c", []string{"b"})

	for _, taskID := range []string{"a", "b", "c"} {
		session, _ := e.GetSession(ctx, id)
		if session.Status.IsTerminal() {
			t.Fatalf("session terminal before %s completed: %s", taskID, session.Status)
		}
		if _, err := e.AssignTask(ctx, id, taskID, "worker-1"); err != nil {
			t.Fatalf("assign %s failed: %v", taskID, err)
		}
		if err := e.CompleteTask(ctx, id, taskID, nil); err != nil {
			t.Fatalf("complete %s failed: %v", taskID, err)
		}
	}

	progress, err := e.GetProgress(ctx, id)
	if err != nil {
		t.Fatalf("progress failed: %v", err)
	}
	if progress.Status != SessionCompleted {
		t.Errorf("expected completed immediately after last task, got %s", progress.Status)
	}
	if progress.Completed != 3 || progress.Total != 3 || progress.Percent != 100 {
		t.Errorf("unexpected progress: %+v", progress)
	}
}

func TestEngine_FailTaskRetryThenTerminal(t *testing.T) {
	config := DefaultEngineConfig()
	config.MaxTaskRetries = 1
	e := NewEngine(config, &stubResolver{}, nil, nil, zap.NewNop())
	ctx := context.Background()
	id := createSession(t, e, PatternSwarm).CoordinationID
	mustAddTask(t, e, id, "flaky", nil)

	// First failure is retryable and returns the task to the frontier.
	if _, err := e.AssignTask(ctx, id, "flaky", "w1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := e.FailTask(ctx, id, "flaky", "timeout", true); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	frontier, _ := e.AvailableTasks(ctx, id)
	if len(frontier) != 1 || frontier[0].RetryCount != 1 || frontier[0].Assignee != "" {
		t.Fatalf("expected retried task back in frontier without assignee, got %+v", frontier)
	}

	// Second failure hits the ceiling: task Failed, session cascades.
	if _, err := e.AssignTask(ctx, id, "flaky", "w2"); err != nil {
		t.Fatalf("reassign failed: %v", err)
	}
	if err := e.FailTask(ctx, id, "flaky", "timeout again", true); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	session, _ := e.GetSession(ctx, id)
	if session.Tasks["flaky"].Status != TaskFailed {
		t.Errorf("expected task failed, got %s", session.Tasks["flaky"].Status)
	}
	if session.Status != SessionFailed {
		t.Errorf("expected session failed by cascade, got %s", session.Status)
	}
}

func TestEngine_NonRetryableFailure(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	id := createSession(t, e, PatternSwarm).CoordinationID
	mustAddTask(t, e, id, "doomed", nil)

	if _, err := e.AssignTask(ctx, id, "doomed", "w1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := e.FailTask(ctx, id, "doomed", "bad input", false); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	session, _ := e.GetSession(ctx, id)
	if session.Tasks["doomed"].Status != TaskFailed || session.Tasks["doomed"].RetryCount != 0 {
		t.Errorf("expected immediate terminal failure, got %+v", session.Tasks["doomed"])
	}
}

func TestEngine_CancelVisibility(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	id := createSession(t, e, PatternCollaborative).CoordinationID
	mustAddTask(t, e, id, "t", nil)

	if err := e.Cancel(ctx, id, "someone-else"); !types.IsCode(err, types.ErrInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT for non-creator cancel, got %v", err)
	}
	if err := e.Cancel(ctx, id, "coordinator-1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, err := e.AvailableTasks(ctx, id); !types.IsCode(err, types.ErrInvalidState) {
		t.Fatalf("expected INVALID_STATE from frontier after cancel, got %v", err)
	}
	if _, err := e.AssignTask(ctx, id, "t", "w1"); !types.IsCode(err, types.ErrInvalidState) {
		t.Fatalf("expected INVALID_STATE from assign after cancel, got %v", err)
	}
	if _, err := e.AddTask(ctx, id, "late", nil, nil); !types.IsCode(err, types.ErrInvalidState) {
		t.Fatalf("expected INVALID_STATE from add after cancel, got %v", err)
	}
}

func TestEngine_Proposals(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	id := createSession(t, e, PatternAuction).CoordinationID
	mustAddTask(t, e, id, "lot-1", nil)

	if err := e.SubmitProposal(ctx, id, "lot-1", "bidder-1", 10.5); err != nil {
		t.Fatalf("proposal failed: %v", err)
	}
	if err := e.SubmitProposal(ctx, id, "lot-1", "bidder-2", 12.0); err != nil {
		t.Fatalf("proposal failed: %v", err)
	}

	session, _ := e.GetSession(ctx, id)
	proposals, ok := session.SharedState["proposals:lot-1"].([]Proposal)
	if !ok || len(proposals) != 2 {
		t.Fatalf("expected 2 proposals in shared state, got %v", session.SharedState["proposals:lot-1"])
	}
	if proposals[0].AgentID != "bidder-1" || proposals[1].AgentID != "bidder-2" {
		t.Errorf("proposals out of submission order: %+v", proposals)
	}
}

func mustAddTask(t *testing.T, e *Engine, coordinationID, taskID string, deps []string) {
	t.Helper()
	if _, err := e.AddTask(context.Background(), coordinationID, taskID, deps, nil); err != nil {
		t.Fatalf("failed to add task %s: %v", taskID, err)
	}
}

func taskIDs(tasks []*Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.TaskID
	}
	return ids
}
