package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/stream-gateway/internal/config"
	"github.com/compresr/stream-gateway/internal/conversation"
	"github.com/compresr/stream-gateway/internal/monitoring"
	"github.com/compresr/stream-gateway/internal/sse"
	"github.com/compresr/stream-gateway/internal/transcode"
	"github.com/compresr/stream-gateway/internal/upstream"
)

// Upstream opens a streaming upstream call. Cancelling ctx must abort it.
type Upstream interface {
	Stream(ctx context.Context, q *upstream.Query, apiKey string) (io.ReadCloser, error)
}

// Request is one normalized streaming request.
type Request struct {
	ID     string // request id, for logs
	Key    string // conversation key
	APIKey string
	Query  *upstream.Query
}

// Summary describes how a Run ended.
type Summary struct {
	Outcome        monitoring.Outcome
	ConversationID string
	Chunks         int
	DroppedFrames  int
	Usage          transcode.Usage
	FirstChunk     time.Duration
	Err            error
}

// Orchestrator runs the upstream read loop for streaming requests.
type Orchestrator struct {
	upstream Upstream
	store    conversation.Store
	opts     transcode.Options
}

// NewOrchestrator creates an orchestrator. opts supplies the model name and
// usage estimator for every response; Prompt is taken from each request.
func NewOrchestrator(up Upstream, store conversation.Store, opts transcode.Options) *Orchestrator {
	return &Orchestrator{upstream: up, store: store, opts: opts}
}

// Run streams one response. It returns once resp is terminated. Reads and
// writes alternate on the calling goroutine, so a slow client slows the
// upstream read. Cancelling ctx (client disconnect) cancels the upstream call
// and aborts resp without writing.
func (o *Orchestrator) Run(ctx context.Context, req Request, resp *Response) Summary {
	opts := o.opts
	opts.Prompt = req.Query.Query
	r := &run{
		store:  o.store,
		req:    req,
		resp:   resp,
		tr:     transcode.NewTranscoder(opts),
		start:  time.Now(),
		convID: req.Query.ConversationID,
	}

	body, err := o.upstream.Stream(ctx, req.Query, req.APIKey)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("upstream request: %w", err))
	}
	defer func() { _ = body.Close() }()

	fb := sse.NewFrameBuffer()
	buf := make([]byte, config.DefaultBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			for frame := range fb.Feed(buf[:n]) {
				if !r.step(ctx, frame) {
					return r.summary
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return r.fail(ctx, fmt.Errorf("read upstream: %w", rerr))
		}
	}

	for frame := range fb.Flush() {
		if !r.step(ctx, frame) {
			return r.summary
		}
	}
	return r.finish()
}

// run is the per-request state of Run.
type run struct {
	store   conversation.Store
	req     Request
	resp    *Response
	tr      *transcode.Transcoder
	start   time.Time
	convID  string
	summary Summary
}

// step handles one frame; false means the response has terminated.
func (r *run) step(ctx context.Context, frame sse.Frame) bool {
	ev, err := sse.ParseEvent(frame)
	if err != nil {
		r.summary.DroppedFrames++
		log.Warn().
			Str("request_id", r.req.ID).
			Err(err).
			Msg("dropping malformed upstream frame")
		return true
	}
	if ev == nil {
		return true
	}

	if msg, ok := ev.(*upstream.MessageEvent); ok {
		r.remember(ctx, msg.ConversationID)
	}

	chunk, err := r.tr.Transcode(ev)
	if err != nil {
		r.fail(ctx, err)
		return false
	}
	if chunk == nil {
		return true
	}

	if err := r.resp.Send(chunk); err != nil {
		log.Debug().Str("request_id", r.req.ID).Err(err).Msg("client disconnected")
		r.abort(err)
		return false
	}
	if r.summary.Chunks == 0 {
		r.summary.FirstChunk = time.Since(r.start)
	}
	r.summary.Chunks++
	return true
}

// remember records a newly reported conversation id for the request's key.
func (r *run) remember(ctx context.Context, id string) {
	if id == "" || id == r.convID {
		return
	}
	r.convID = id
	r.summary.ConversationID = id
	if err := r.store.Set(context.WithoutCancel(ctx), r.req.Key, id); err != nil {
		log.Error().
			Str("request_id", r.req.ID).
			Str("conversation_key", r.req.Key).
			Err(err).
			Msg("failed to store conversation id")
	}
}

func (r *run) finish() Summary {
	terminal := r.tr.Terminal()
	if err := r.resp.Finish(terminal); err != nil {
		log.Debug().Str("request_id", r.req.ID).Err(err).Msg("client disconnected before terminal chunk")
		r.abort(err)
		return r.summary
	}
	r.summary.Outcome = monitoring.OutcomeCompleted
	if terminal.Usage != nil {
		r.summary.Usage = *terminal.Usage
	}
	r.summary.ConversationID = r.convID
	return r.summary
}

func (r *run) fail(ctx context.Context, cause error) Summary {
	if ctx.Err() != nil {
		_ = r.resp.Abort()
		r.summary.Outcome = monitoring.OutcomeAborted
		r.summary.Err = ctx.Err()
		return r.summary
	}

	log.Error().
		Str("request_id", r.req.ID).
		Str("state", r.resp.State().String()).
		Err(cause).
		Msg("stream failed")
	if err := r.resp.Fail(cause); err != nil && !errors.Is(err, ErrTerminated) {
		log.Debug().Str("request_id", r.req.ID).Err(err).Msg("failed to report stream error")
	}
	r.summary.Outcome = monitoring.OutcomeFailed
	r.summary.Err = cause
	r.summary.ConversationID = r.convID
	return r.summary
}

func (r *run) abort(cause error) {
	_ = r.resp.Abort()
	r.summary.Outcome = monitoring.OutcomeAborted
	r.summary.Err = cause
	r.summary.ConversationID = r.convID
}
