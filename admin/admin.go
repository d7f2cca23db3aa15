// Package admin serves the operator HTTP surface: health, metrics and the
// spectator feed.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/cyberinferno/snakearena/logger"
	"github.com/cyberinferno/snakearena/metrics"
)

// PlayerCounter reports the number of connected players.
type PlayerCounter interface {
	PlayerCount() int
}

// Config wires the handler's collaborators. Spectate may be nil, in which
// case /spectate is not routed.
type Config struct {
	Metrics  *metrics.Metrics
	Players  PlayerCounter
	Spectate http.Handler
	Logger   logger.Logger
}

// NewHandler builds the admin mux.
func NewHandler(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		players := 0
		if cfg.Players != nil {
			players = cfg.Players.PlayerCount()
		}

		data, err := json.Marshal(cfg.Metrics.Snapshot(players))
		if err != nil {
			log.Error("Metrics encoding failed", logger.Field{Key: "error", Value: err.Error()})
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})

	if cfg.Spectate != nil {
		mux.Handle("/spectate", cfg.Spectate)
	}

	return mux
}
