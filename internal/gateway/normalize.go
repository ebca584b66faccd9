package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/compresr/stream-gateway/internal/config"
	"github.com/compresr/stream-gateway/internal/upstream"
)

var (
	errInvalidJSON    = errors.New("request body must be a JSON object")
	errNoMessages     = errors.New("messages must be a non-empty array")
	errNoUserMessage  = errors.New("no user message with content")
	errBadTuningParam = errors.New("max_tokens, temperature and top_p must be numbers")
)

// inputHistory is the upstream input carrying the turns not sent as the query.
const inputHistory = "conversation_history"

// historyMessage is one prior turn forwarded in inputs.conversation_history.
type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is a client chat-completion request reduced to what the
// upstream needs.
type chatRequest struct {
	Key    string // conversation key
	Fresh  bool   // at most one user turn: start a new conversation
	Stream bool
	Query  *upstream.Query
}

// normalize maps an OpenAI-style chat body onto an upstream query.
//
//   - key: user, else model, else the default key
//   - query: content of the last non-empty user message
//   - fresh: the request carries at most one non-empty user turn
//   - inputs.conversation_history: every other message, in order
//
// ConversationID is left empty; the caller fills it from the store.
func normalize(body []byte) (*chatRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, errInvalidJSON
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, errInvalidJSON
	}

	messages := root.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, errNoMessages
	}

	msgs := messages.Array()
	var userTurns []string
	queryIdx := -1
	for i, m := range msgs {
		if m.Get("role").String() != "user" {
			continue
		}
		if text := messageText(m.Get("content")); strings.TrimSpace(text) != "" {
			userTurns = append(userTurns, text)
			queryIdx = i
		}
	}
	if len(userTurns) == 0 {
		return nil, errNoUserMessage
	}

	history := make([]historyMessage, 0, len(msgs)-1)
	for i, m := range msgs {
		if i == queryIdx {
			continue
		}
		history = append(history, historyMessage{
			Role:    m.Get("role").String(),
			Content: messageText(m.Get("content")),
		})
	}

	model := strings.TrimSpace(root.Get("model").String())
	key := strings.TrimSpace(root.Get("user").String())
	if key == "" {
		key = model
	}
	if key == "" {
		key = config.DefaultConversationKey
	}

	stream := root.Get("stream").Bool()
	mode := upstream.ModeBlocking
	if stream {
		mode = upstream.ModeStreaming
	}

	q := &upstream.Query{
		Inputs:       map[string]any{inputHistory: history},
		Query:        userTurns[len(userTurns)-1],
		User:         key,
		ResponseMode: mode,
		Files:        []upstream.File{},
		Model:        model,
	}
	if err := tuningParams(root, q); err != nil {
		return nil, err
	}

	return &chatRequest{
		Key:    key,
		Fresh:  len(userTurns) <= 1,
		Stream: stream,
		Query:  q,
	}, nil
}

// messageText returns a message's text: a plain string, or the text parts of
// a content array joined with newlines.
func messageText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	for _, part := range content.Array() {
		if t := part.Get("type").String(); t != "" && t != "text" {
			continue
		}
		if text := part.Get("text").String(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

func tuningParams(root gjson.Result, q *upstream.Query) error {
	maxTokens := root.Get("max_tokens")
	if !maxTokens.Exists() {
		maxTokens = root.Get("maxTokens")
	}
	if maxTokens.Exists() && maxTokens.Type != gjson.Null {
		if maxTokens.Type != gjson.Number {
			return fmt.Errorf("%w: max_tokens", errBadTuningParam)
		}
		n := int(maxTokens.Int())
		q.MaxTokens = &n
	}

	for _, p := range []struct {
		name string
		dst  **float64
	}{
		{"temperature", &q.Temperature},
		{"top_p", &q.TopP},
	} {
		v := root.Get(p.name)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type != gjson.Number {
			return fmt.Errorf("%w: %s", errBadTuningParam, p.name)
		}
		f := v.Float()
		*p.dst = &f
	}
	return nil
}
