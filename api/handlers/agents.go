package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/registry"
	"github.com/BaSui01/agentnet/types"
)

// AgentHandler serves the agent registry endpoints.
type AgentHandler struct {
	registry *registry.NetworkRegistry
	logger   *zap.Logger
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(reg *registry.NetworkRegistry, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		registry: reg,
		logger:   logger.With(zap.String("handler", "agents")),
	}
}

// HandleRegister registers an agent or refreshes an existing registration.
// @Summary Register agent
// @Tags agents
// @Accept json
// @Produce json
// @Success 201 {object} Response
// @Router /api/v1/agents [post]
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registry.RegisterRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	record, err := h.registry.Register(r.Context(), req)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	h.logger.Info("agent registered",
		zap.String("agent_id", record.AgentID),
		zap.String("agent_type", record.AgentType),
		zap.String("region", record.Region),
	)
	WriteCreated(w, record)
}

// HandleDeregister removes an agent from the network.
// @Summary Deregister agent
// @Tags agents
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/agents/{id} [delete]
func (h *AgentHandler) HandleDeregister(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidArgument, "agent id is required", h.logger)
		return
	}

	if err := h.registry.Deregister(r.Context(), agentID); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"agent_id": agentID, "status": "deregistered"})
}

// HandleHeartbeat records a liveness heartbeat for an agent.
// @Summary Agent heartbeat
// @Tags agents
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/agents/{id}/heartbeat [post]
func (h *AgentHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidArgument, "agent id is required", h.logger)
		return
	}

	if err := h.registry.Heartbeat(r.Context(), agentID); err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"agent_id": agentID, "status": "alive"})
}

// HandleGetAgent returns one agent record.
// @Summary Get agent
// @Tags agents
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/agents/{id} [get]
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidArgument, "agent id is required", h.logger)
		return
	}

	record, err := h.registry.Get(r.Context(), agentID)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, record)
}

// HandleListAgents returns the full roster.
// @Summary List agents
// @Tags agents
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/agents [get]
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	records, err := h.registry.List(r.Context())
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]any{
		"agents": records,
		"count":  len(records),
	})
}

// HandleDiscover filters agents by capability, type, and region. Filters
// come from the query string so discovery stays cacheable.
// @Summary Discover agents
// @Tags agents
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/agents/discover [get]
func (h *AgentHandler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	query := registry.DiscoverQuery{
		AgentType: r.URL.Query().Get("type"),
		Region:    r.URL.Query().Get("region"),
	}
	if caps := r.URL.Query().Get("capabilities"); caps != "" {
		for _, c := range strings.Split(caps, ",") {
			if c = strings.TrimSpace(c); c != "" {
				query.Capabilities = append(query.Capabilities, c)
			}
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidArgument, "limit must be a non-negative integer", h.logger)
			return
		}
		query.Limit = limit
	}

	records, err := h.registry.Discover(r.Context(), query)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]any{
		"agents": records,
		"count":  len(records),
	})
}
