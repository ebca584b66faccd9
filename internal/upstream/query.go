// Package upstream talks to the conversational provider.
//
// FILES:
//   - query.go:  canonical query object and its precondition checks
//   - events.go: typed stream events produced by the sse parser
//   - client.go: HTTP client for streaming and blocking calls
package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// Response modes accepted by the upstream.
const (
	ModeStreaming = "streaming"
	ModeBlocking  = "blocking"
)

// ErrMissingCredential is returned when neither the client nor the config
// supplies an upstream API key.
var ErrMissingCredential = errors.New("missing upstream API credential")

// File is an attachment passed through to the upstream.
type File struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url"`
}

// Query is the canonical upstream request body.
type Query struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	User           string         `json:"user"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id"`
	Files          []File         `json:"files"`
	MaxTokens      *int           `json:"max_tokens,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	TopP           *float64       `json:"top_p,omitempty"`
	Model          string         `json:"model,omitempty"`
}

// ValidationError lists every precondition a query failed.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, ", ")
}

// Validate rejects a query the upstream must never see.
func (q *Query) Validate() error {
	var problems []string
	if strings.TrimSpace(q.Query) == "" {
		problems = append(problems, "query is required")
	}
	if strings.TrimSpace(q.User) == "" {
		problems = append(problems, "user is required")
	}
	switch q.ResponseMode {
	case ModeStreaming, ModeBlocking:
	case "":
		problems = append(problems, "response_mode is required")
	default:
		problems = append(problems, fmt.Sprintf("response_mode %q is not supported", q.ResponseMode))
	}
	for i, f := range q.Files {
		if f.Type == "" || f.TransferMethod == "" || f.URL == "" {
			problems = append(problems, fmt.Sprintf("files[%d] needs type, transfer_method and url", i))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
