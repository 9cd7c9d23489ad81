package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"verve-counter/internal/service"
)

// Pinger reports whether the dedup store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WindowState exposes the aggregator's current window and phase.
type WindowState interface {
	Current() service.WindowKey
	Phase() service.Phase
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	store   Pinger
	windows WindowState
	pools   []*service.Pool
	version string
}

func NewHealthHandler(store Pinger, windows WindowState, version string, pools ...*service.Pool) *HealthHandler {
	return &HealthHandler{store: store, windows: windows, pools: pools, version: version}
}

// LivenessResponse represents liveness probe response.
type LivenessResponse struct {
	Status string `json:"status"`
	Time   int64  `json:"timestamp"`
}

// ReadinessResponse represents readiness probe response.
type ReadinessResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// PoolStatus is the load of one worker pool.
type PoolStatus struct {
	Workers    int   `json:"workers"`
	Busy       int64 `json:"busy"`
	QueueDepth int   `json:"queue_depth"`
}

// StatusResponse represents detailed service status.
type StatusResponse struct {
	Service   string                `json:"service"`
	Version   string                `json:"version"`
	Timestamp int64                 `json:"timestamp"`
	Uptime    float64               `json:"uptime"`
	Window    service.WindowKey     `json:"window"`
	Phase     string                `json:"phase"`
	Pools     map[string]PoolStatus `json:"pools"`
}

// Liveness returns 200 if the service is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status: "alive",
		Time:   time.Now().Unix(),
	})
}

// Readiness returns 200 when the dedup store answers a ping, 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not ready", Store: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Store: "ok"})
}

// Status returns detailed status information.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	pools := make(map[string]PoolStatus, len(h.pools))
	for _, p := range h.pools {
		pools[p.Name()] = PoolStatus{Workers: p.Workers(), Busy: p.Busy(), QueueDepth: p.QueueDepth()}
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Service:   "verve-counter",
		Version:   h.version,
		Timestamp: time.Now().Unix(),
		Uptime:    time.Since(startTime).Seconds(),
		Window:    h.windows.Current(),
		Phase:     h.windows.Phase().String(),
		Pools:     pools,
	})
}

var startTime = time.Now()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
