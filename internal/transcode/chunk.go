// Package transcode maps upstream events onto the OpenAI-style
// chat-completion wire format.
//
// FILES:
//   - chunk.go:      downstream wire types
//   - transcoder.go: per-response streaming transcoder
//   - completion.go: single-shot mapping for blocking responses
//   - usage.go:      usage estimators for counters the upstream omits
package transcode

import "github.com/compresr/stream-gateway/internal/upstream"

// Wire object names.
const (
	ObjectChunk      = "chat.completion.chunk"
	ObjectCompletion = "chat.completion"

	RoleAssistant = "assistant"
	FinishStop    = "stop"
)

// Usage is shared with the upstream side; the JSON names match.
type Usage = upstream.Usage

// Delta is the incremental part of a streamed choice. Content is a pointer
// so a content chunk always carries the field (even "") while the terminal
// chunk's delta stays empty.
type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ChunkChoice is one streamed choice.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// StreamOptions echoes the usage-reporting option on every chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Chunk is one downstream stream message: a content delta or the terminal chunk.
type Chunk struct {
	ID            string         `json:"id"`
	Object        string         `json:"object"`
	Created       int64          `json:"created"`
	Model         string         `json:"model"`
	Choices       []ChunkChoice  `json:"choices"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	Usage         *Usage         `json:"usage,omitempty"`
}

// Message is a complete chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionChoice is one choice of a blocking response.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Completion is the blocking downstream response.
type Completion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}
