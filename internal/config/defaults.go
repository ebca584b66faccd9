// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER DEFAULTS
// =============================================================================

// DefaultPort is the listen port when neither config nor PORT is set.
const DefaultPort = 3000

// DefaultServerReadTimeout bounds reading the inbound request.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout is zero: streams are long-lived and must not be
// cut by the server.
const DefaultServerWriteTimeout = 0

// DefaultShutdownTimeout is how long in-flight streams get on shutdown.
const DefaultShutdownTimeout = 15 * time.Second

// MaxRequestBodySize is the maximum allowed request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// =============================================================================
// UPSTREAM DEFAULTS
// =============================================================================

// DefaultUpstreamBaseURL is the upstream API root.
const DefaultUpstreamBaseURL = "https://api.dify.ai/v1"

// DefaultChatPath is appended to the base URL for chat calls.
const DefaultChatPath = "/chat-messages"

// DefaultConnectTimeout bounds dial + TLS handshake to the upstream.
// Streams themselves have no overall deadline.
const DefaultConnectTimeout = 10 * time.Second

// DefaultBlockingTimeout bounds a whole non-streaming upstream call.
const DefaultBlockingTimeout = 2 * time.Minute

// MaxUpstreamBodySize caps non-streaming upstream bodies (50MB).
const MaxUpstreamBodySize = 50 * 1024 * 1024

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500

// DefaultBufferSize is the read buffer for upstream streams.
const DefaultBufferSize = 4096

// =============================================================================
// DOWNSTREAM DEFAULTS
// =============================================================================

// DefaultDownstreamModel is reported in the "model" field of every chunk.
const DefaultDownstreamModel = "dify-proxy"

// DefaultConversationKey is used when a request names neither user nor model.
const DefaultConversationKey = "default-user"

// =============================================================================
// USAGE DEFAULTS
// =============================================================================

// Placeholder usage counters reported when the upstream supplies none.
const (
	PlaceholderPromptTokens     = 1
	PlaceholderCompletionTokens = 2
	PlaceholderTotalTokens      = 3
)

// DefaultTokenEncoding is the tiktoken encoding used by the estimator.
const DefaultTokenEncoding = "cl100k_base"

// =============================================================================
// BACKENDS AND STRATEGIES
// =============================================================================

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"

	EstimatorPlaceholder = "placeholder"
	EstimatorTiktoken    = "tiktoken"
)
