package transcode

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/compresr/stream-gateway/internal/upstream"
)

// UpstreamError is an error event reported in-band by the upstream. It ends
// the response; the gateway never resumes after it.
type UpstreamError struct {
	Status  int
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("upstream error (%s): %s", e.Code, msg)
	}
	return "upstream error: " + msg
}

// Options configure a Transcoder.
type Options struct {
	Model     string
	Prompt    string         // the query text, for usage estimation
	Estimator UsageEstimator // nil = PlaceholderEstimator
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Estimator == nil {
		o.Estimator = PlaceholderEstimator{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Transcoder converts one response's upstream events into downstream chunks.
// The response id and creation time are fixed by the first message and reused
// for every chunk, including the terminal one.
type Transcoder struct {
	opts     Options
	id       string
	created  int64
	roleSent bool
	usage    *Usage

	track bool
	text  strings.Builder
}

// NewTranscoder creates a transcoder for a single response.
func NewTranscoder(opts Options) *Transcoder {
	opts = opts.withDefaults()
	_, placeholder := opts.Estimator.(PlaceholderEstimator)
	return &Transcoder{opts: opts, track: !placeholder}
}

// Transcode maps one event to at most one chunk. An upstream error event
// yields (nil, *UpstreamError).
func (t *Transcoder) Transcode(ev upstream.Event) (*Chunk, error) {
	switch e := ev.(type) {
	case *upstream.MessageEvent:
		t.stamp(e.ID, e.CreatedAt)
		if t.track {
			t.text.WriteString(e.Answer)
		}
		answer := e.Answer
		delta := Delta{Content: &answer}
		if !t.roleSent {
			delta.Role = RoleAssistant
			t.roleSent = true
		}
		return &Chunk{
			ID:            t.id,
			Object:        ObjectChunk,
			Created:       t.created,
			Model:         t.opts.Model,
			Choices:       []ChunkChoice{{Index: 0, Delta: delta}},
			StreamOptions: &StreamOptions{IncludeUsage: true},
		}, nil
	case *upstream.MessageEndEvent:
		if e.Usage != nil {
			u := *e.Usage
			t.usage = &u
		}
		return nil, nil
	case *upstream.ErrorEvent:
		return nil, &UpstreamError{Status: e.Status, Code: e.Code, Message: e.Message}
	default:
		return nil, nil
	}
}

// Terminal builds the closing chunk: empty delta, finish_reason "stop", usage.
func (t *Transcoder) Terminal() *Chunk {
	t.stamp("", 0)
	stop := FinishStop
	usage := t.Usage()
	return &Chunk{
		ID:            t.id,
		Object:        ObjectChunk,
		Created:       t.created,
		Model:         t.opts.Model,
		Choices:       []ChunkChoice{{Index: 0, Delta: Delta{}, FinishReason: &stop}},
		StreamOptions: &StreamOptions{IncludeUsage: true},
		Usage:         &usage,
	}
}

// Usage returns the counters for this response: upstream-reported when
// message_end carried them, estimated otherwise.
func (t *Transcoder) Usage() Usage {
	if t.usage != nil {
		return *t.usage
	}
	return t.opts.Estimator.Estimate(t.opts.Prompt, t.text.String())
}

func (t *Transcoder) stamp(messageID string, createdAt int64) {
	if t.id != "" {
		return
	}
	t.id = responseID(messageID)
	t.created = createdAt
	if t.created <= 0 {
		t.created = t.opts.Now().Unix()
	}
}

func responseID(messageID string) string {
	if messageID == "" {
		messageID = uuid.New().String()
	}
	return "chatcmpl-" + messageID
}
