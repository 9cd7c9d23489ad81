package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"verve-counter/internal/middleware"
	"verve-counter/internal/service"
)

// AcceptHandler serves GET /api/verve/accept?id=<int>&endpoint=<url>.
type AcceptHandler struct {
	dispatcher *service.Dispatcher
}

func NewAcceptHandler(d *service.Dispatcher) *AcceptHandler {
	return &AcceptHandler{dispatcher: d}
}

func (h *AcceptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeText(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	result := h.dispatcher.AcceptContext(r.Context(), q.Get("id"), q.Get("endpoint"))

	select {
	case res := <-result:
		if res.Err == nil {
			writeText(w, http.StatusOK, string(res.Status))
			return
		}
		var se service.Error
		if errors.Is(res.Err, service.ErrBadInput) && errors.As(res.Err, &se) && se.Err != nil {
			writeText(w, http.StatusBadRequest, se.Err.Error())
			return
		}
		log.Error().Err(res.Err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("accept failed")
		writeText(w, http.StatusInternalServerError, "failed")
	case <-r.Context().Done():
		log.Warn().Err(r.Context().Err()).Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("request ended before claim completed")
		writeText(w, http.StatusInternalServerError, "failed")
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
