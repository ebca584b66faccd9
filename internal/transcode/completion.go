package transcode

import (
	"errors"

	"github.com/tidwall/gjson"

	"github.com/compresr/stream-gateway/internal/upstream"
)

var errInvalidBody = errors.New("upstream body is not a JSON object")

// Result is a transcoded blocking response plus the correlation id it carried.
type Result struct {
	Completion     *Completion
	ConversationID string
}

// NewCompletion maps a complete (non-streamed) upstream body onto one
// chat.completion object. Missing usage counters fall back to the estimator.
func NewCompletion(body []byte, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if !gjson.ValidBytes(body) {
		return nil, errInvalidBody
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, errInvalidBody
	}
	if root.Get("event").String() == upstream.TagError {
		return nil, &UpstreamError{
			Status:  int(root.Get("status").Int()),
			Code:    root.Get("code").String(),
			Message: root.Get("message").String(),
		}
	}

	answer := root.Get("answer").String()
	messageID := root.Get("message_id").String()
	if messageID == "" {
		messageID = root.Get("id").String()
	}
	created := root.Get("created_at").Int()
	if created <= 0 {
		created = opts.Now().Unix()
	}

	var usage Usage
	if u := upstream.UsageFrom(root); u != nil {
		usage = *u
	} else {
		usage = opts.Estimator.Estimate(opts.Prompt, answer)
	}

	return &Result{
		Completion: &Completion{
			ID:      responseID(messageID),
			Object:  ObjectCompletion,
			Created: created,
			Model:   opts.Model,
			Choices: []CompletionChoice{{
				Index:        0,
				Message:      Message{Role: RoleAssistant, Content: answer},
				FinishReason: FinishStop,
			}},
			Usage: usage,
		},
		ConversationID: root.Get("conversation_id").String(),
	}, nil
}
