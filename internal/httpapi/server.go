package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bmayton/chainpost/internal/config"
)

// Health reports whether the poster holds a site connection.
type Health interface {
	Connected() bool
}

func NewMux(health Health, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz(health))
	mux.Handle("GET /metrics", metrics)
	return mux
}

func NewServer(cfg config.Config, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestLogger(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func handleHealthz(health Health) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !health.Connected() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "disconnected",
				"chain":  "disconnected",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"chain":  "connected",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}
