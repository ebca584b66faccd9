package gateway

import (
	"strings"
	"time"

	"github.com/compresr/stream-gateway/internal/config"
	"github.com/compresr/stream-gateway/internal/monitoring"
)

func buildInitEvent(cfg *config.Config, version string) *monitoring.InitEvent {
	return &monitoring.InitEvent{
		Timestamp:            time.Now(),
		Event:                "gateway_init",
		Version:              version,
		ServerPort:           cfg.Server.Port,
		ServerReadTimeoutMs:  cfg.Server.ReadTimeout.Milliseconds(),
		ServerWriteTimeoutMs: cfg.Server.WriteTimeout.Milliseconds(),
		UpstreamURL:          cfg.Upstream.ChatURL(),
		UpstreamHasAPIKey:    strings.TrimSpace(cfg.Upstream.APIKey) != "",
		ConnectTimeoutMs:     cfg.Upstream.ConnectTimeout.Milliseconds(),
		BlockingTimeoutMs:    cfg.Upstream.BlockingTimeout.Milliseconds(),
		Model:                cfg.Downstream.Model,
		ConversationBackend:  cfg.Conversation.Backend,
		UsageEstimator:       cfg.Usage.Estimator,
		TelemetryPath:        cfg.Monitoring.TelemetryPath,
	}
}
