package upstream

import "github.com/tidwall/gjson"

// Event tags emitted by the upstream stream.
const (
	TagMessage    = "message"
	TagMessageEnd = "message_end"
	TagError      = "error"
)

// Event is one decoded upstream stream event.
// Implemented by *MessageEvent, *MessageEndEvent, *ErrorEvent and *OtherEvent.
type Event interface {
	Tag() string
}

// Usage carries token counters. The same JSON names are used on both sides
// of the gateway.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// MessageEvent is an incremental answer delta.
type MessageEvent struct {
	ID             string
	ConversationID string
	Answer         string
	CreatedAt      int64 // unix seconds, 0 when absent
}

func (*MessageEvent) Tag() string { return TagMessage }

// MessageEndEvent marks the end of the answer. Usage is nil when the
// upstream did not report counters.
type MessageEndEvent struct {
	ID             string
	ConversationID string
	Usage          *Usage
}

func (*MessageEndEvent) Tag() string { return TagMessageEnd }

// ErrorEvent is an error reported in-band by the upstream.
type ErrorEvent struct {
	Status  int
	Code    string
	Message string
}

func (*ErrorEvent) Tag() string { return TagError }

// OtherEvent is any event the gateway does not translate (ping, workflow_*, agent_thought...).
type OtherEvent struct {
	Name string
}

func (e *OtherEvent) Tag() string { return e.Name }

// UsageFrom reads usage counters from metadata.usage or a top-level usage
// object. Returns nil when neither carries any counter.
func UsageFrom(root gjson.Result) *Usage {
	for _, path := range []string{"metadata.usage", "usage"} {
		u := root.Get(path)
		if !u.IsObject() {
			continue
		}
		prompt, completion, total := u.Get("prompt_tokens"), u.Get("completion_tokens"), u.Get("total_tokens")
		if !prompt.Exists() && !completion.Exists() && !total.Exists() {
			continue
		}
		usage := &Usage{
			PromptTokens:     int(prompt.Int()),
			CompletionTokens: int(completion.Int()),
			TotalTokens:      int(total.Int()),
		}
		if !total.Exists() {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		return usage
	}
	return nil
}
