package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.HandleHealth(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
}

func TestHealthHandler_HandleReadinessAllPass(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	handler.RegisterCheck(CheckFunc{
		CheckName: "database",
		Fn:        func(ctx context.Context) error { return nil },
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ready", nil)
	handler.HandleReadiness(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "pass", status.Checks["database"].Status)
}

func TestHealthHandler_HandleReadinessFailingCheck(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop())
	handler.RegisterCheck(CheckFunc{
		CheckName: "database",
		Fn:        func(ctx context.Context) error { return nil },
	})
	handler.RegisterCheck(CheckFunc{
		CheckName: "redis",
		Fn:        func(ctx context.Context) error { return errors.New("connection refused") },
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ready", nil)
	handler.HandleReadiness(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "pass", status.Checks["database"].Status)
	assert.Equal(t, "fail", status.Checks["redis"].Status)
	assert.Contains(t, status.Checks["redis"].Message, "connection refused")
}
