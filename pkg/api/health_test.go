package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(hs *HealthServer, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, req)
	return w
}

// TestHealthEndpoints tests /health, /ready and /metrics
func TestHealthEndpoints(t *testing.T) {
	for _, name := range []string{metrics.ComponentRuntime, metrics.ComponentNetwork, metrics.ComponentWorkQueue} {
		metrics.UpdateComponent(name, true, "")
	}
	hs := NewHealthServer(nil)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"health GET", http.MethodGet, "/health", http.StatusOK},
		{"ready GET", http.MethodGet, "/ready", http.StatusOK},
		{"metrics GET", http.MethodGet, "/metrics", http.StatusOK},
		{"health POST", http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{"ready DELETE", http.MethodDelete, "/ready", http.StatusMethodNotAllowed},
		{"containers without service", http.MethodGet, "/containers", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(hs, tt.method, tt.path)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestHealthResponseFormat(t *testing.T) {
	metrics.UpdateComponent(metrics.ComponentRuntime, true, "")
	hs := NewHealthServer(nil)

	w := serve(hs, http.MethodGet, "/health")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var health metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.NotZero(t, health.Timestamp)
	assert.Contains(t, health.Components, metrics.ComponentRuntime)
}

func TestContainerEndpoints(t *testing.T) {
	hs := NewHealthServer(NewService(newFakeLifecycle(t)))

	w := serve(hs, http.MethodGet, "/containers")
	require.Equal(t, http.StatusOK, w.Code)
	var list []ContainerResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, types.StateRunning, list[0].State)
	assert.Equal(t, 1001, list[0].Pid)

	w = serve(hs, http.MethodGet, "/containers/b")
	require.Equal(t, http.StatusOK, w.Code)
	var one ContainerResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&one))
	assert.Equal(t, types.StateStopped, one.State)

	w = serve(hs, http.MethodGet, "/containers/a/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var stats types.Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.Equal(t, uint64(3), stats.Pids)

	w = serve(hs, http.MethodGet, "/containers/zz")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var apiErr ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&apiErr))
	assert.Contains(t, apiErr.Error, "not found")

	w = serve(hs, http.MethodPost, "/containers/a")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrDuplicateID, http.StatusConflict},
		{types.ErrInvalidState, http.StatusConflict},
		{types.ErrInvalidBundle, http.StatusBadRequest},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrRuntimeSpawn, http.StatusServiceUnavailable},
		{types.ErrHookFailure, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, httpStatus(tt.err))
		})
	}
}
