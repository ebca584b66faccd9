// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests:      totals per outcome and per mode
//   - streams:       active streams, chunks sent, dropped upstream frames
//   - tokens:        prompt/completion usage reported on terminal chunks
//
// MetricsCollector is also a prometheus.Collector: the same counters are
// exported on /metrics without a second bookkeeping path.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "stream_gateway"

var (
	requestsDesc = prometheus.NewDesc(
		metricsNamespace+"_requests_total",
		"Chat requests by serving mode and outcome.",
		[]string{"mode", "outcome"}, nil)
	activeStreamsDesc = prometheus.NewDesc(
		metricsNamespace+"_active_streams",
		"Responses currently being streamed.",
		nil, nil)
	chunksDesc = prometheus.NewDesc(
		metricsNamespace+"_chunks_sent_total",
		"Downstream chunks written to clients.",
		nil, nil)
	droppedFramesDesc = prometheus.NewDesc(
		metricsNamespace+"_dropped_frames_total",
		"Upstream frames dropped because they could not be parsed.",
		nil, nil)
	tokensDesc = prometheus.NewDesc(
		metricsNamespace+"_tokens_total",
		"Usage counters reported to clients.",
		[]string{"kind"}, nil)
	uptimeDesc = prometheus.NewDesc(
		metricsNamespace+"_uptime_seconds",
		"Seconds since the gateway started.",
		nil, nil)
)

var (
	allModes    = []Mode{ModeStreaming, ModeBlocking, ModeWebSocket}
	allOutcomes = []Outcome{OutcomeCompleted, OutcomeFailed, OutcomeAborted, OutcomeRejected}
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// requests[mode][outcome]
	requests [3][4]atomic.Int64

	activeStreams    atomic.Int64
	chunksSent       atomic.Int64
	droppedFrames    atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records a finished request.
func (mc *MetricsCollector) RecordRequest(mode Mode, outcome Outcome) {
	m, o := modeIndex(mode), outcomeIndex(outcome)
	if m < 0 || o < 0 {
		return
	}
	mc.requests[m][o].Add(1)
}

// StreamStarted marks a response as streaming; pair with StreamEnded.
func (mc *MetricsCollector) StreamStarted() { mc.activeStreams.Add(1) }

// StreamEnded undoes StreamStarted.
func (mc *MetricsCollector) StreamEnded() { mc.activeStreams.Add(-1) }

// RecordChunks records chunks written downstream.
func (mc *MetricsCollector) RecordChunks(n int) { mc.chunksSent.Add(int64(n)) }

// RecordDroppedFrames records upstream frames that failed to parse.
func (mc *MetricsCollector) RecordDroppedFrames(n int) { mc.droppedFrames.Add(int64(n)) }

// RecordUsage records usage counters reported to a client.
func (mc *MetricsCollector) RecordUsage(promptTokens, completionTokens int) {
	mc.promptTokens.Add(int64(promptTokens))
	mc.completionTokens.Add(int64(completionTokens))
}

// Stats returns current metrics as a flat map.
func (mc *MetricsCollector) Stats() map[string]int64 {
	out := map[string]int64{
		"active_streams": mc.activeStreams.Load(),
		"chunks_sent":    mc.chunksSent.Load(),
		"dropped_frames": mc.droppedFrames.Load(),
	}
	for _, o := range allOutcomes {
		out[string(o)] = mc.outcomeTotal(o)
	}
	return out
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)

	byMode := make(map[string]int64, len(allModes))
	var total int64
	for _, m := range allModes {
		var n int64
		for _, o := range allOutcomes {
			n += mc.requests[modeIndex(m)][outcomeIndex(o)].Load()
		}
		byMode[string(m)] = n
		total += n
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:     total,
			Completed: mc.outcomeTotal(OutcomeCompleted),
			Failed:    mc.outcomeTotal(OutcomeFailed),
			Aborted:   mc.outcomeTotal(OutcomeAborted),
			Rejected:  mc.outcomeTotal(OutcomeRejected),
			ByMode:    byMode,
		},
		Streams: StreamStats{
			Active:        mc.activeStreams.Load(),
			ChunksSent:    mc.chunksSent.Load(),
			DroppedFrames: mc.droppedFrames.Load(),
		},
		Tokens: TokenStats{
			PromptTokens:     mc.promptTokens.Load(),
			CompletionTokens: mc.completionTokens.Load(),
		},
	}
}

// =============================================================================
// PROMETHEUS
// =============================================================================

// Describe implements prometheus.Collector.
func (mc *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsDesc
	ch <- activeStreamsDesc
	ch <- chunksDesc
	ch <- droppedFramesDesc
	ch <- tokensDesc
	ch <- uptimeDesc
}

// Collect implements prometheus.Collector.
func (mc *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range allModes {
		for _, o := range allOutcomes {
			n := mc.requests[modeIndex(m)][outcomeIndex(o)].Load()
			ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.CounterValue, float64(n), string(m), string(o))
		}
	}
	ch <- prometheus.MustNewConstMetric(activeStreamsDesc, prometheus.GaugeValue, float64(mc.activeStreams.Load()))
	ch <- prometheus.MustNewConstMetric(chunksDesc, prometheus.CounterValue, float64(mc.chunksSent.Load()))
	ch <- prometheus.MustNewConstMetric(droppedFramesDesc, prometheus.CounterValue, float64(mc.droppedFrames.Load()))
	ch <- prometheus.MustNewConstMetric(tokensDesc, prometheus.CounterValue, float64(mc.promptTokens.Load()), "prompt")
	ch <- prometheus.MustNewConstMetric(tokensDesc, prometheus.CounterValue, float64(mc.completionTokens.Load()), "completion")
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, time.Since(mc.startedAt).Seconds())
}

func (mc *MetricsCollector) outcomeTotal(o Outcome) int64 {
	idx := outcomeIndex(o)
	var n int64
	for m := range mc.requests {
		n += mc.requests[m][idx].Load()
	}
	return n
}

func modeIndex(m Mode) int {
	for i, v := range allModes {
		if v == m {
			return i
		}
	}
	return -1
}

func outcomeIndex(o Outcome) int {
	for i, v := range allOutcomes {
		if v == o {
			return i
		}
	}
	return -1
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
