package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentnet/registry"
)

func newTestAgentHandler(t *testing.T) (*AgentHandler, *registry.NetworkRegistry) {
	t.Helper()
	reg := registry.NewNetworkRegistry(nil, nil, zap.NewNop())
	return NewAgentHandler(reg, zap.NewNop()), reg
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestAgentHandler_HandleRegister(t *testing.T) {
	handler, _ := newTestAgentHandler(t)

	body := jsonBody(t, registry.RegisterRequest{
		AgentID:      "trader-1",
		AgentType:    "trading",
		Capabilities: []string{"market_analysis"},
		Region:       "us-east",
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents", body)

	handler.HandleRegister(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var record registry.AgentRecord
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "trader-1", record.AgentID)
	assert.Equal(t, registry.AgentStatusOnline, record.Status)
}

func TestAgentHandler_HandleRegisterInvalidBody(t *testing.T) {
	handler, _ := newTestAgentHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents", bytes.NewReader([]byte("{not json")))

	handler.HandleRegister(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_ARGUMENT", resp.Error.Code)
}

func TestAgentHandler_HandleRegisterMissingID(t *testing.T) {
	handler, _ := newTestAgentHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents", jsonBody(t, registry.RegisterRequest{
		AgentType: "trading",
	}))

	handler.HandleRegister(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_ARGUMENT", resp.Error.Code)
}

func TestAgentHandler_HandleGetAgent(t *testing.T) {
	handler, reg := newTestAgentHandler(t)
	_, err := reg.Register(context.Background(), registry.RegisterRequest{
		AgentID: "doc-1", AgentType: "document", Capabilities: []string{"summarize"},
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/doc-1", nil)
	r.SetPathValue("id", "doc-1")

	handler.HandleGetAgent(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
}

func TestAgentHandler_HandleGetAgentNotFound(t *testing.T) {
	handler, _ := newTestAgentHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/ghost", nil)
	r.SetPathValue("id", "ghost")

	handler.HandleGetAgent(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAgentHandler_HandleHeartbeat(t *testing.T) {
	handler, reg := newTestAgentHandler(t)
	_, err := reg.Register(context.Background(), registry.RegisterRequest{
		AgentID: "doc-1", AgentType: "document",
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents/doc-1/heartbeat", nil)
	r.SetPathValue("id", "doc-1")

	handler.HandleHeartbeat(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)
}

func TestAgentHandler_HandleHeartbeatUnknownAgent(t *testing.T) {
	handler, _ := newTestAgentHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/agents/ghost/heartbeat", nil)
	r.SetPathValue("id", "ghost")

	handler.HandleHeartbeat(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestAgentHandler_HandleDeregister(t *testing.T) {
	handler, reg := newTestAgentHandler(t)
	_, err := reg.Register(context.Background(), registry.RegisterRequest{
		AgentID: "doc-1", AgentType: "document",
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/api/v1/agents/doc-1", nil)
	r.SetPathValue("id", "doc-1")

	handler.HandleDeregister(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	_, err = reg.Get(context.Background(), "doc-1")
	assert.Error(t, err)
}

func TestAgentHandler_HandleListAgents(t *testing.T) {
	handler, reg := newTestAgentHandler(t)
	ctx := context.Background()
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		_, err := reg.Register(ctx, registry.RegisterRequest{AgentID: id, AgentType: "worker"})
		require.NoError(t, err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)

	handler.HandleListAgents(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var listing struct {
		Agents []registry.AgentRecord `json:"agents"`
		Count  int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(data, &listing))
	assert.Equal(t, 3, listing.Count)
	assert.Len(t, listing.Agents, 3)
}

func TestAgentHandler_HandleDiscover(t *testing.T) {
	handler, reg := newTestAgentHandler(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, registry.RegisterRequest{
		AgentID: "t-1", AgentType: "trading", Capabilities: []string{"market_analysis", "risk"}, Region: "us-east",
	})
	require.NoError(t, err)
	_, err = reg.Register(ctx, registry.RegisterRequest{
		AgentID: "t-2", AgentType: "trading", Capabilities: []string{"market_analysis"}, Region: "eu-west",
	})
	require.NoError(t, err)
	_, err = reg.Register(ctx, registry.RegisterRequest{
		AgentID: "d-1", AgentType: "document", Capabilities: []string{"summarize"}, Region: "us-east",
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/discover?capabilities=market_analysis&region=us-east", nil)

	handler.HandleDiscover(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var listing struct {
		Agents []registry.AgentRecord `json:"agents"`
		Count  int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(data, &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "t-1", listing.Agents[0].AgentID)
}

func TestAgentHandler_HandleDiscoverBadLimit(t *testing.T) {
	handler, _ := newTestAgentHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/discover?limit=banana", nil)

	handler.HandleDiscover(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
