package handler

import (
	"net/http"

	"verve-counter/internal/service"
)

// AdminHandler exposes the state of the current counting window.
type AdminHandler struct {
	aggregator *service.Aggregator
	dedup      *service.Deduper
	breakers   *service.EndpointBreakers
}

func NewAdminHandler(a *service.Aggregator, d *service.Deduper, b *service.EndpointBreakers) *AdminHandler {
	return &AdminHandler{aggregator: a, dedup: d, breakers: b}
}

// WindowResponse is the body of GET /admin/window.
type WindowResponse struct {
	Window       service.WindowKey                 `json:"window"`
	RunningCount *int64                            `json:"running_count,omitempty"`
	CountError   string                            `json:"count_error,omitempty"`
	Phase        string                            `json:"phase"`
	LastWindow   *service.WindowReport             `json:"last_window,omitempty"`
	OpenBreakers map[string]service.CircuitMetrics `json:"open_breakers,omitempty"`
}

func (a *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	window := a.aggregator.Current()
	resp := WindowResponse{
		Window: window,
		Phase:  a.aggregator.Phase().String(),
	}
	if n, err := a.dedup.Count(r.Context(), window); err != nil {
		resp.CountError = err.Error()
	} else {
		resp.RunningCount = &n
	}
	if last, ok := a.aggregator.LastReport(); ok {
		resp.LastWindow = &last
	}
	if a.breakers != nil {
		resp.OpenBreakers = a.breakers.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}
