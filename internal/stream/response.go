// Package stream drives one downstream response from an upstream event stream.
//
// DESIGN: A Response is an explicit three-state machine over an Emitter:
//
//	PreFlush ──Send──▶ Streaming ──Finish/Fail/Abort──▶ Terminated
//	PreFlush ──Fail/Abort──────────────────────────────▶ Terminated
//
// Headers are committed exactly once (first Send). Once committed the status
// cannot change, so a failure after that point is reported in-band as an
// "event: error" frame instead of an HTTP status. Exactly one terminal
// transition happens; every later call returns ErrTerminated.
//
// FILES:
//   - response.go:     state machine
//   - emitter.go:      SSE emitter over http.ResponseWriter
//   - orchestrator.go: upstream read loop wiring frame buffer, parser,
//     transcoder and store to a Response
package stream

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/compresr/stream-gateway/internal/utils"
)

// State is the lifecycle flag of a Response.
type State int32

const (
	StatePreFlush State = iota
	StateStreaming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePreFlush:
		return "pre_flush"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrTerminated is returned by any operation on a terminated Response.
var ErrTerminated = errors.New("response already terminated")

// EventError is the event name of an in-band error frame.
const EventError = "error"

// DoneMarker is the sentinel payload that ends a downstream stream.
var DoneMarker = []byte("[DONE]")

// Emitter is the transport a Response writes to.
type Emitter interface {
	// Commit sends the success status and streaming headers.
	Commit() error
	// WriteEvent writes one event (event may be empty) and flushes it.
	WriteEvent(event string, data []byte) error
	// WriteError reports a failure before anything was committed.
	WriteError(status int, body []byte) error
	// Close releases the transport. It must not write protocol data.
	Close() error
}

// errorBody is the JSON error payload, both as HTTP body and in-band.
type errorBody struct {
	Error string `json:"error"`
}

// Response is the per-request downstream state machine. Safe for concurrent use.
type Response struct {
	mu    sync.Mutex
	em    Emitter
	state State
	sent  int
}

// NewResponse wraps an emitter in a fresh PreFlush response.
func NewResponse(em Emitter) *Response {
	return &Response{em: em}
}

// State returns the current lifecycle state.
func (r *Response) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Sent returns the number of chunks written by Send.
func (r *Response) Sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

// Send writes one chunk, committing headers first when still in PreFlush.
// A write failure terminates the response (the client is gone).
func (r *Response) Send(chunk any) error {
	data, err := utils.MarshalNoEscape(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.commitLocked(); err != nil {
		return err
	}
	if err := r.em.WriteEvent("", data); err != nil {
		r.terminateLocked()
		return fmt.Errorf("write chunk: %w", err)
	}
	r.sent++
	return nil
}

// Finish writes the terminal chunk followed by the [DONE] marker and closes.
// Valid from PreFlush too (an upstream that produced no content).
func (r *Response) Finish(terminal any) error {
	data, err := utils.MarshalNoEscape(terminal)
	if err != nil {
		return fmt.Errorf("marshal terminal chunk: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.commitLocked(); err != nil {
		return err
	}
	defer r.terminateLocked()
	if err := r.em.WriteEvent("", data); err != nil {
		return fmt.Errorf("write terminal chunk: %w", err)
	}
	if err := r.em.WriteEvent("", DoneMarker); err != nil {
		return fmt.Errorf("write done marker: %w", err)
	}
	return nil
}

// Fail reports cause to the client and closes. Before the commit it becomes a
// 500 JSON error; after it, an "event: error" frame.
func (r *Response) Fail(cause error) error {
	msg := "internal error"
	if cause != nil {
		msg = cause.Error()
	}
	data, err := utils.MarshalNoEscape(errorBody{Error: msg})
	if err != nil {
		return fmt.Errorf("marshal error body: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateTerminated:
		return ErrTerminated
	case StatePreFlush:
		defer r.terminateLocked()
		return r.em.WriteError(http.StatusInternalServerError, data)
	default:
		defer r.terminateLocked()
		return r.em.WriteEvent(EventError, data)
	}
}

// Abort terminates without writing anything; used when the client went away.
// Returns ErrTerminated if the response had already ended.
func (r *Response) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateTerminated {
		return ErrTerminated
	}
	r.terminateLocked()
	return nil
}

func (r *Response) commitLocked() error {
	switch r.state {
	case StateTerminated:
		return ErrTerminated
	case StatePreFlush:
		if err := r.em.Commit(); err != nil {
			r.terminateLocked()
			return fmt.Errorf("commit headers: %w", err)
		}
		r.state = StateStreaming
	}
	return nil
}

func (r *Response) terminateLocked() {
	if r.state == StateTerminated {
		return
	}
	r.state = StateTerminated
	_ = r.em.Close()
}
