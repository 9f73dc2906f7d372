package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/types"
)

// SessionHandler serves the coordination session endpoints.
type SessionHandler struct {
	engine *coordination.Engine
	logger *zap.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(engine *coordination.Engine, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		engine: engine,
		logger: logger.With(zap.String("handler", "sessions")),
	}
}

// CreateSessionRequest is the body of a session creation call.
type CreateSessionRequest struct {
	CoordinatorID string               `json:"coordinator_id"`
	Pattern       coordination.Pattern `json:"pattern"`
	Goal          string               `json:"goal"`
}

// AddTaskRequest is the body of a task creation call.
type AddTaskRequest struct {
	TaskID       string         `json:"task_id"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// JoinRequest names the agent joining a session.
type JoinRequest struct {
	AgentID string `json:"agent_id"`
}

// AssignTaskRequest is the body of an assignment call.
type AssignTaskRequest struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

// TaskTransitionRequest is the body of a start call.
type TaskTransitionRequest struct {
	AgentID string `json:"agent_id"`
}

// CompleteTaskRequest carries a task's result.
type CompleteTaskRequest struct {
	Result any `json:"result,omitempty"`
}

// FailTaskRequest carries a task failure.
type FailTaskRequest struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// ProposalRequest carries a consensus or auction proposal.
type ProposalRequest struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Value   any    `json:"value"`
}

// SharedStateRequest sets one shared-state key.
type SharedStateRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// CancelRequest names who is cancelling the session.
type CancelRequest struct {
	RequesterID string `json:"requester_id"`
}

// HandleCreateSession creates a coordination session.
// @Summary Create session
// @Tags sessions
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Router /api/v1/sessions [post]
func (h *SessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	session, err := h.engine.CreateSession(r.Context(), req.CoordinatorID, req.Pattern, req.Goal)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	h.logger.Info("session created",
		zap.String("coordination_id", session.CoordinationID),
		zap.String("pattern", string(session.Pattern)),
	)
	WriteCreated(w, session)
}

// HandleGetSession returns one session.
// @Summary Get session
// @Tags sessions
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, session)
}

// HandleListSessions returns every session the engine knows about.
// @Summary List sessions
// @Tags sessions
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions [get]
func (h *SessionHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.engine.ListSessions(r.Context())
	WriteSuccess(w, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// HandleAddTask adds a task to a session's dependency graph.
// @Summary Add task
// @Tags sessions
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Router /api/v1/sessions/{id}/tasks [post]
func (h *SessionHandler) HandleAddTask(w http.ResponseWriter, r *http.Request) {
	var req AddTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	task, err := h.engine.AddTask(r.Context(), r.PathValue("id"), req.TaskID, req.Dependencies, req.Payload)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteCreated(w, task)
}

// HandleJoin adds an agent as a session participant.
// @Summary Join session
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/join [post]
func (h *SessionHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	coordinationID := r.PathValue("id")
	if err := h.engine.Join(r.Context(), coordinationID, req.AgentID); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{
		"coordination_id": coordinationID,
		"agent_id":        req.AgentID,
		"status":          "joined",
	})
}

// HandleAvailableTasks returns the assignable frontier of the task graph.
// @Summary Available tasks
// @Tags sessions
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/tasks/available [get]
func (h *SessionHandler) HandleAvailableTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.engine.AvailableTasks(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// HandleAssignTask assigns a task to an agent under the session's pattern.
// @Summary Assign task
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/assign [post]
func (h *SessionHandler) HandleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req AssignTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	task, err := h.engine.AssignTask(r.Context(), r.PathValue("id"), req.TaskID, req.AgentID)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, task)
}

// HandleStartTask moves an assigned task to in-progress.
// @Summary Start task
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/tasks/{task_id}/start [post]
func (h *SessionHandler) HandleStartTask(w http.ResponseWriter, r *http.Request) {
	var req TaskTransitionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	coordinationID := r.PathValue("id")
	taskID := r.PathValue("task_id")
	if err := h.engine.StartTask(r.Context(), coordinationID, taskID, req.AgentID); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{
		"coordination_id": coordinationID,
		"task_id":         taskID,
		"status":          "in_progress",
	})
}

// HandleCompleteTask records a task result and completes the task.
// @Summary Complete task
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/tasks/{task_id}/complete [post]
func (h *SessionHandler) HandleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req CompleteTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	coordinationID := r.PathValue("id")
	taskID := r.PathValue("task_id")
	if err := h.engine.CompleteTask(r.Context(), coordinationID, taskID, req.Result); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{
		"coordination_id": coordinationID,
		"task_id":         taskID,
		"status":          "completed",
	})
}

// HandleFailTask records a task failure, retrying when allowed.
// @Summary Fail task
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/tasks/{task_id}/fail [post]
func (h *SessionHandler) HandleFailTask(w http.ResponseWriter, r *http.Request) {
	var req FailTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	coordinationID := r.PathValue("id")
	taskID := r.PathValue("task_id")
	if err := h.engine.FailTask(r.Context(), coordinationID, taskID, req.Reason, req.Retryable); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{
		"coordination_id": coordinationID,
		"task_id":         taskID,
		"status":          "failed",
	})
}

// HandleSubmitProposal records a consensus or auction proposal for a task.
// @Summary Submit proposal
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/proposals [post]
func (h *SessionHandler) HandleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	var req ProposalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	coordinationID := r.PathValue("id")
	if err := h.engine.SubmitProposal(r.Context(), coordinationID, req.TaskID, req.AgentID, req.Value); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{
		"coordination_id": coordinationID,
		"task_id":         req.TaskID,
		"agent_id":        req.AgentID,
		"status":          "proposal_recorded",
	})
}

// HandleUpdateSharedState sets one key in the session's shared state.
// @Summary Update shared state
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/state [put]
func (h *SessionHandler) HandleUpdateSharedState(w http.ResponseWriter, r *http.Request) {
	var req SharedStateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	coordinationID := r.PathValue("id")
	if err := h.engine.UpdateSharedState(r.Context(), coordinationID, req.Key, req.Value); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{
		"coordination_id": coordinationID,
		"key":             req.Key,
		"status":          "updated",
	})
}

// HandleGetProgress returns the session's task counters and status.
// @Summary Session progress
// @Tags sessions
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/progress [get]
func (h *SessionHandler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.engine.GetProgress(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, progress)
}

// HandleCancel cancels a session on behalf of its coordinator.
// @Summary Cancel session
// @Tags sessions
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/sessions/{id}/cancel [post]
func (h *SessionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.RequesterID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidArgument, "requester_id is required", h.logger)
		return
	}

	coordinationID := r.PathValue("id")
	if err := h.engine.Cancel(r.Context(), coordinationID, req.RequesterID); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{
		"coordination_id": coordinationID,
		"status":          "cancelled",
	})
}
