// Package gateway exposes the OpenAI-style chat API over a Dify-style upstream.
//
// DESIGN: One Gateway owns the shared collaborators (upstream client,
// conversation store, metrics, telemetry) and routes requests on a
// net/http ServeMux:
//
//	POST   /v1/chat/completions    streaming (SSE) or blocking completion
//	POST   /chat/completions       alias of the above
//	GET    /v1/chat/ws             streaming over a websocket
//	GET    /v1/conversations/{key} stored conversation id for a key
//	DELETE /v1/conversations/{key} forget the conversation for a key
//	GET    /health, /stats, /metrics
//
// FILES:
//   - gateway.go:       construction and routing
//   - handler.go:       chat completions entry point, streaming path
//   - normalize.go:     chat request -> upstream query
//   - blocking.go:      non-streaming path
//   - websocket.go:     websocket transport for the streaming path
//   - conversations.go: conversation admin endpoints
//   - stats.go:         /health, /stats, /metrics
//   - request.go:       request utilities (ids, credentials, loopback check)
//   - init_logging.go:  startup telemetry event
package gateway

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/compresr/stream-gateway/internal/config"
	"github.com/compresr/stream-gateway/internal/conversation"
	"github.com/compresr/stream-gateway/internal/monitoring"
	"github.com/compresr/stream-gateway/internal/stream"
	"github.com/compresr/stream-gateway/internal/transcode"
	"github.com/compresr/stream-gateway/internal/upstream"
)

// Gateway serves the downstream API.
type Gateway struct {
	cfg          *config.Config
	client       *upstream.Client
	store        conversation.Store
	estimator    transcode.UsageEstimator
	orchestrator *stream.Orchestrator
	metrics      *monitoring.MetricsCollector
	tracker      *monitoring.Tracker
	registry     *prometheus.Registry
	handler      http.Handler
	version      string
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithStore replaces the store built from config.
func WithStore(s conversation.Store) Option {
	return func(g *Gateway) { g.store = s }
}

// WithVersion sets the build version reported in the init telemetry event.
func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// New builds a gateway from cfg.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:     cfg,
		metrics: monitoring.NewMetricsCollector(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client = upstream.NewClient(cfg.Upstream)
	if g.store == nil {
		store, err := conversation.New(cfg.Conversation)
		if err != nil {
			return nil, fmt.Errorf("conversation store: %w", err)
		}
		g.store = store
	}

	estimator, err := transcode.NewEstimator(cfg.Usage)
	if err != nil {
		return nil, fmt.Errorf("usage estimator: %w", err)
	}
	g.estimator = estimator

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled:     cfg.Monitoring.TelemetryEnabled,
		LogPath:     cfg.Monitoring.TelemetryPath,
		LogToStdout: cfg.Monitoring.TelemetryStdout,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	g.tracker = tracker
	g.tracker.RecordInit(buildInitEvent(cfg, g.version))

	g.registry = prometheus.NewRegistry()
	g.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		g.metrics,
	)

	g.orchestrator = stream.NewOrchestrator(g.client, g.store, g.transcodeOptions())
	g.handler = g.routes()
	return g, nil
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("POST /chat/completions", g.handleChatCompletions)
	mux.HandleFunc("GET /v1/chat/ws", g.handleWebSocket)
	mux.HandleFunc("GET /v1/conversations/{key}", g.handleGetConversation)
	mux.HandleFunc("DELETE /v1/conversations/{key}", g.handleDeleteConversation)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)
	mux.Handle("GET /metrics", g.metricsHandler())
	return mux
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Close releases the store and flushes telemetry.
func (g *Gateway) Close() error {
	_ = g.tracker.Close()
	return g.store.Close()
}

// transcodeOptions are the per-gateway transcoder settings; callers set Prompt.
func (g *Gateway) transcodeOptions() transcode.Options {
	return transcode.Options{
		Model:     g.cfg.Downstream.Model,
		Estimator: g.estimator,
	}
}
