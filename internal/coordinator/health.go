package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"
)

// Pinger reports whether the ledger's Redis is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer provides HTTP health check endpoints for the coordinator.
type HealthServer struct {
	store  Pinger
	addr   string
	server *http.Server
}

// NewHealthServer creates a new health check server listening on addr.
func NewHealthServer(store Pinger, addr string) *HealthServer {
	return &HealthServer{
		store: store,
		addr:  addr,
	}
}

// Start binds the listener and serves in the background.
// A bind failure is returned instead of being logged from the goroutine.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	h.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Coordinator] Health server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the health check server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Redis: "connected"}
	status := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Redis = "disconnected"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}
