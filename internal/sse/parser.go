package sse

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/compresr/stream-gateway/internal/upstream"
)

var (
	prefixData  = []byte("data:")
	prefixEvent = []byte("event:")
	doneMarker  = []byte("[DONE]")

	errInvalidJSON = errors.New("payload is not valid JSON")
	errNotObject   = errors.New("payload is not a JSON object")
)

// ParseError reports a frame whose data could not be decoded. It is
// recoverable: the frame is dropped and the stream continues.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	payload := e.Payload
	if len(payload) > 120 {
		payload = payload[:120] + "..."
	}
	return fmt.Sprintf("malformed frame %q: %v", payload, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseEvent decodes one frame. Frames without data lines (comments,
// keep-alives) return (nil, nil).
func ParseEvent(frame Frame) (upstream.Event, error) {
	var eventName []byte
	dataLines := make([][]byte, 0, 1)

	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSpace(line)
		switch {
		case bytes.HasPrefix(line, prefixData):
			payload := bytes.TrimSpace(line[len(prefixData):])
			if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
				continue
			}
			dataLines = append(dataLines, payload)
		case bytes.HasPrefix(line, prefixEvent):
			eventName = bytes.TrimSpace(line[len(prefixEvent):])
		}
	}

	if len(dataLines) == 0 {
		return nil, nil
	}

	data := bytes.Join(dataLines, []byte("\n"))
	if !gjson.ValidBytes(data) {
		return nil, &ParseError{Payload: string(data), Err: errInvalidJSON}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &ParseError{Payload: string(data), Err: errNotObject}
	}

	tag := root.Get("event").String()
	if tag == "" {
		tag = string(eventName)
	}

	switch tag {
	case upstream.TagMessage:
		return &upstream.MessageEvent{
			ID:             messageID(root),
			ConversationID: root.Get("conversation_id").String(),
			Answer:         root.Get("answer").String(),
			CreatedAt:      root.Get("created_at").Int(),
		}, nil
	case upstream.TagMessageEnd:
		return &upstream.MessageEndEvent{
			ID:             messageID(root),
			ConversationID: root.Get("conversation_id").String(),
			Usage:          upstream.UsageFrom(root),
		}, nil
	case upstream.TagError:
		return &upstream.ErrorEvent{
			Status:  int(root.Get("status").Int()),
			Code:    root.Get("code").String(),
			Message: root.Get("message").String(),
		}, nil
	default:
		return &upstream.OtherEvent{Name: tag}, nil
	}
}

func messageID(root gjson.Result) string {
	if id := root.Get("message_id").String(); id != "" {
		return id
	}
	return root.Get("id").String()
}
