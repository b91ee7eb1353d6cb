package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealthCheckEndpoint_MethodNotAllowed(t *testing.T) {
	server := NewHealthServer(stubPinger{}, ":0")

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	w := httptest.NewRecorder()
	server.healthCheckHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthCheckResponse(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantCode   int
		wantStatus string
		wantRedis  string
	}{
		{"healthy", nil, http.StatusOK, "healthy", "connected"},
		{"unhealthy", errors.New("connection refused"), http.StatusServiceUnavailable, "unhealthy", "disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewHealthServer(stubPinger{err: tt.pingErr}, ":0")

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()
			server.healthCheckHandler(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.wantStatus, response.Status)
			assert.Equal(t, tt.wantRedis, response.Redis)
			if tt.pingErr != nil {
				assert.Equal(t, tt.pingErr.Error(), response.Error)
			}
		})
	}
}

func TestHealthServer_StartAndShutdown(t *testing.T) {
	server := NewHealthServer(stubPinger{}, "127.0.0.1:0")
	require.NoError(t, server.Start())
	require.NoError(t, server.Shutdown(context.Background()))

	idle := NewHealthServer(stubPinger{}, "127.0.0.1:0")
	assert.NoError(t, idle.Shutdown(context.Background()))
}
