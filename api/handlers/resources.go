package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/governor"
	"github.com/BaSui01/agentnet/types"
)

// ResourceHandler serves the resource governor endpoints.
type ResourceHandler struct {
	governor *governor.Governor
	logger   *zap.Logger
}

// NewResourceHandler creates a resource handler.
func NewResourceHandler(gov *governor.Governor, logger *zap.Logger) *ResourceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceHandler{
		governor: gov,
		logger:   logger.With(zap.String("handler", "resources")),
	}
}

// RecordUsageRequest is the body of a usage metering call.
type RecordUsageRequest struct {
	Deltas   map[governor.ResourceType]float64 `json:"deltas"`
	TaskID   string                            `json:"task_id,omitempty"`
	Metadata map[string]any                    `json:"metadata,omitempty"`
}

// ExtendAllocationRequest is the body of an extension call.
type ExtendAllocationRequest struct {
	AdditionalHours float64 `json:"additional_hours"`
}

// RevokeAllocationRequest is the body of a revocation call.
type RevokeAllocationRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HandleRequestAllocation allocates quotas for an agent.
// @Summary Request allocation
// @Tags resources
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Router /api/v1/allocations [post]
func (h *ResourceHandler) HandleRequestAllocation(w http.ResponseWriter, r *http.Request) {
	var req governor.AllocationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	alloc, err := h.governor.RequestAllocation(r.Context(), &req)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	h.logger.Info("allocation requested",
		zap.String("allocation_id", alloc.AllocationID),
		zap.String("agent_id", alloc.AgentID),
		zap.String("status", string(alloc.Status)),
	)
	WriteCreated(w, alloc)
}

// HandleApproveAllocation approves a pending allocation.
// @Summary Approve allocation
// @Tags resources
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations/{id}/approve [post]
func (h *ResourceHandler) HandleApproveAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.governor.ApproveAllocation(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, alloc)
}

// HandleActivateAllocation activates an approved allocation.
// @Summary Activate allocation
// @Tags resources
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations/{id}/activate [post]
func (h *ResourceHandler) HandleActivateAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.governor.ActivateAllocation(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, alloc)
}

// HandleGetAllocation returns an agent's current allocation.
// @Summary Get allocation
// @Tags resources
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations/{id} [get]
func (h *ResourceHandler) HandleGetAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.governor.GetAllocation(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, alloc)
}

// HandleListAllocations returns every allocation the governor tracks.
// @Summary List allocations
// @Tags resources
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations [get]
func (h *ResourceHandler) HandleListAllocations(w http.ResponseWriter, r *http.Request) {
	allocs := h.governor.ListAllocations(r.Context())
	WriteSuccess(w, map[string]any{
		"allocations": allocs,
		"count":       len(allocs),
	})
}

// HandleRecordUsage meters resource consumption against an allocation.
// @Summary Record usage
// @Tags resources
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Failure 402 {object} Response
// @Router /api/v1/allocations/{id}/usage [post]
func (h *ResourceHandler) HandleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req RecordUsageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	record, err := h.governor.RecordUsage(r.Context(), r.PathValue("id"), req.Deltas, req.TaskID, req.Metadata)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, record)
}

// HandleRemainingBudget returns the unspent budget_usd headroom.
// @Summary Remaining budget
// @Tags resources
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations/{id}/budget [get]
func (h *ResourceHandler) HandleRemainingBudget(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	remaining, err := h.governor.RemainingBudget(r.Context(), agentID)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"agent_id":  agentID,
		"remaining": remaining,
		"exceeded":  h.governor.IsBudgetExceeded(r.Context(), agentID),
	})
}

// HandleUsageSummary returns per-resource counters for an agent.
// @Summary Usage summary
// @Tags resources
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations/{id}/summary [get]
func (h *ResourceHandler) HandleUsageSummary(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	summary, err := h.governor.UsageSummary(r.Context(), agentID)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"agent_id": agentID,
		"usage":    summary,
	})
}

// HandleUsageHistory returns the agent's recent usage records.
// @Summary Usage history
// @Tags resources
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations/{id}/history [get]
func (h *ResourceHandler) HandleUsageHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidArgument, "limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	records, err := h.governor.UsageHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// HandleExtendAllocation pushes an allocation's expiry forward.
// @Summary Extend allocation
// @Tags resources
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations/{id}/extend [post]
func (h *ResourceHandler) HandleExtendAllocation(w http.ResponseWriter, r *http.Request) {
	var req ExtendAllocationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	alloc, err := h.governor.ExtendAllocation(r.Context(), r.PathValue("id"), req.AdditionalHours)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, alloc)
}

// HandleRevokeAllocation revokes an allocation.
// @Summary Revoke allocation
// @Tags resources
// @Accept json
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/allocations/{id}/revoke [post]
func (h *ResourceHandler) HandleRevokeAllocation(w http.ResponseWriter, r *http.Request) {
	var req RevokeAllocationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	alloc, err := h.governor.RevokeAllocation(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, alloc)
}
