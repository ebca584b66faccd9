// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by gateway/, stream/ and monitoring/.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - Mode, Outcome:   how a request was served and how it ended
//   - RequestEvent:    telemetry data for each request
//   - TelemetryConfig: JSONL tracker settings
//   - StatsResponse:   /stats payload
package monitoring

import "time"

// =============================================================================
// REQUEST CLASSIFICATION
// =============================================================================

// Mode is how the gateway served a request.
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeBlocking  Mode = "blocking"
	ModeWebSocket Mode = "websocket"
)

// Outcome is how a request ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // terminal chunk (or completion) delivered
	OutcomeFailed    Outcome = "failed"    // error reported to the client
	OutcomeAborted   Outcome = "aborted"   // client went away
	OutcomeRejected  Outcome = "rejected"  // precondition failure, upstream never contacted
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// RequestEvent captures a request through the gateway.
type RequestEvent struct {
	RequestID        string    `json:"request_id"`
	Timestamp        time.Time `json:"timestamp"`
	Method           string    `json:"method"`
	Path             string    `json:"path"`
	ClientIP         string    `json:"client_ip"`
	Mode             Mode      `json:"mode"`
	ConversationKey  string    `json:"conversation_key,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	NewConversation  bool      `json:"new_conversation"`
	StatusCode       int       `json:"status_code"`
	Outcome          Outcome   `json:"outcome"`
	Chunks           int       `json:"chunks"`
	DroppedFrames    int       `json:"dropped_frames"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Error            string    `json:"error,omitempty"`
	FirstChunkMs     int64     `json:"first_chunk_ms,omitempty"`
	TotalLatencyMs   int64     `json:"total_latency_ms"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// InitEvent captures gateway startup configuration.
type InitEvent struct {
	Timestamp            time.Time `json:"timestamp"`
	Event                string    `json:"event"`
	Version              string    `json:"version,omitempty"`
	ServerPort           int       `json:"server_port"`
	ServerReadTimeoutMs  int64     `json:"server_read_timeout_ms"`
	ServerWriteTimeoutMs int64     `json:"server_write_timeout_ms"`
	UpstreamURL          string    `json:"upstream_url"`
	UpstreamHasAPIKey    bool      `json:"upstream_has_api_key"`
	ConnectTimeoutMs     int64     `json:"connect_timeout_ms"`
	BlockingTimeoutMs    int64     `json:"blocking_timeout_ms"`
	Model                string    `json:"model"`
	ConversationBackend  string    `json:"conversation_backend"`
	UsageEstimator       string    `json:"usage_estimator"`
	TelemetryPath        string    `json:"telemetry_path"`
}

// TelemetryConfig configures the JSONL tracker.
type TelemetryConfig struct {
	Enabled     bool
	LogPath     string
	LogToStdout bool
}

// =============================================================================
// STATS TYPES
// =============================================================================

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Requests      RequestStats `json:"requests"`
	Streams       StreamStats  `json:"streams"`
	Tokens        TokenStats   `json:"tokens"`
	Conversations int          `json:"conversations"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total     int64            `json:"total"`
	Completed int64            `json:"completed"`
	Failed    int64            `json:"failed"`
	Aborted   int64            `json:"aborted"`
	Rejected  int64            `json:"rejected"`
	ByMode    map[string]int64 `json:"by_mode"`
}

// StreamStats holds streaming pipeline metrics.
type StreamStats struct {
	Active        int64 `json:"active"`
	ChunksSent    int64 `json:"chunks_sent"`
	DroppedFrames int64 `json:"dropped_frames"`
}

// TokenStats holds reported (or estimated) usage totals.
type TokenStats struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}
