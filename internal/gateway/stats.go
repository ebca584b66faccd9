// Package gateway - stats.go exposes health and operational metrics.
//
// GET /health reports liveness and store reachability.
// GET /stats returns the metrics collector snapshot as JSON (loopback only).
// GET /metrics serves the same counters in Prometheus format.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// handleHealth returns gateway health status.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}

	if _, err := g.store.Len(r.Context()); err != nil {
		log.Warn().Err(err).Msg("health: conversation store unavailable")
		health["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	stats := g.metrics.FullStats()
	if n, err := g.store.Len(r.Context()); err == nil {
		stats.Conversations = n
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func (g *Gateway) metricsHandler() http.Handler {
	return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
