package main

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Simple callback receiver for local runs: logs every unique_count it is sent.
func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	addr := os.Getenv("SINK_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hook", handleHook)
	mux.HandleFunc("/health", handleHealth)

	log.Info().Str("addr", addr).Msg("callback sink listening")
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		UniqueCount int64 `json:"unique_count"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		log.Warn().Err(err).Msg("invalid callback body")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	log.Info().Int64("unique_count", body.UniqueCount).Str("remote", r.RemoteAddr).Msg("callback received")
	w.WriteHeader(http.StatusNoContent)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
