package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	event string
	data  string
}

// recordEmitter records every call made on it.
type recordEmitter struct {
	mu        sync.Mutex
	commits   int
	events    []recordedEvent
	errStatus int
	errBody   string
	closes    int
	failWrite error
	onWrite   func(recordedEvent)
}

func (e *recordEmitter) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commits++
	return nil
}

func (e *recordEmitter) WriteEvent(event string, data []byte) error {
	e.mu.Lock()
	if e.failWrite != nil {
		e.mu.Unlock()
		return e.failWrite
	}
	ev := recordedEvent{event: event, data: string(data)}
	e.events = append(e.events, ev)
	hook := e.onWrite
	e.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

func (e *recordEmitter) WriteError(status int, body []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errStatus = status
	e.errBody = string(body)
	return nil
}

func (e *recordEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}

func (e *recordEmitter) snapshot() []recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedEvent(nil), e.events...)
}

func TestResponse_CommitsHeadersOnce(t *testing.T) {
	em := &recordEmitter{}
	r := NewResponse(em)
	assert.Equal(t, StatePreFlush, r.State())

	require.NoError(t, r.Send(map[string]int{"n": 1}))
	assert.Equal(t, StateStreaming, r.State())
	require.NoError(t, r.Send(map[string]int{"n": 2}))

	assert.Equal(t, 1, em.commits)
	assert.Equal(t, 2, r.Sent())
	assert.Equal(t, []recordedEvent{{data: `{"n":1}`}, {data: `{"n":2}`}}, em.snapshot())
}

func TestResponse_FinishWritesTerminalThenDone(t *testing.T) {
	em := &recordEmitter{}
	r := NewResponse(em)
	require.NoError(t, r.Send(map[string]string{"a": "b"}))
	require.NoError(t, r.Finish(map[string]string{"finish_reason": "stop"}))

	events := em.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, `{"finish_reason":"stop"}`, events[1].data)
	assert.Equal(t, "[DONE]", events[2].data)
	assert.Equal(t, StateTerminated, r.State())
	assert.Equal(t, 1, em.closes)
}

func TestResponse_FinishFromPreFlushCommits(t *testing.T) {
	em := &recordEmitter{}
	r := NewResponse(em)
	require.NoError(t, r.Finish(map[string]string{}))
	assert.Equal(t, 1, em.commits)
	assert.Len(t, em.snapshot(), 2)
}

func TestResponse_FailBeforeCommitIsStatusError(t *testing.T) {
	em := &recordEmitter{}
	r := NewResponse(em)
	require.NoError(t, r.Fail(errors.New("connect refused")))

	assert.Equal(t, http.StatusInternalServerError, em.errStatus)
	assert.JSONEq(t, `{"error":"connect refused"}`, em.errBody)
	assert.Zero(t, em.commits)
	assert.Empty(t, em.snapshot())
	assert.Equal(t, StateTerminated, r.State())
}

func TestResponse_FailAfterCommitIsInBand(t *testing.T) {
	em := &recordEmitter{}
	r := NewResponse(em)
	require.NoError(t, r.Send(map[string]int{"n": 1}))
	require.NoError(t, r.Fail(errors.New("model <overloaded>")))

	events := em.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, recordedEvent{event: EventError, data: `{"error":"model <overloaded>"}`}, events[1])
	assert.Zero(t, em.errStatus)
	assert.Equal(t, 1, em.closes)
}

func TestResponse_AbortWritesNothing(t *testing.T) {
	em := &recordEmitter{}
	r := NewResponse(em)
	require.NoError(t, r.Send(map[string]int{"n": 1}))
	require.NoError(t, r.Abort())

	assert.Len(t, em.snapshot(), 1)
	assert.Equal(t, StateTerminated, r.State())
	assert.Equal(t, 1, em.closes)
}

func TestResponse_TerminatedRejectsEverything(t *testing.T) {
	em := &recordEmitter{}
	r := NewResponse(em)
	require.NoError(t, r.Finish(map[string]int{}))

	assert.ErrorIs(t, r.Send(map[string]int{}), ErrTerminated)
	assert.ErrorIs(t, r.Finish(map[string]int{}), ErrTerminated)
	assert.ErrorIs(t, r.Fail(errors.New("x")), ErrTerminated)
	assert.ErrorIs(t, r.Abort(), ErrTerminated)
	assert.Len(t, em.snapshot(), 2)
	assert.Equal(t, 1, em.closes)
}

func TestResponse_WriteFailureTerminates(t *testing.T) {
	em := &recordEmitter{failWrite: errors.New("broken pipe")}
	r := NewResponse(em)
	err := r.Send(map[string]int{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTerminated)
	assert.Equal(t, StateTerminated, r.State())
}

func TestResponse_ExactlyOneTerminalTransition(t *testing.T) {
	for range 50 {
		em := &recordEmitter{}
		r := NewResponse(em)
		require.NoError(t, r.Send(map[string]int{}))

		var wg sync.WaitGroup
		results := make([]error, 3)
		wg.Add(3)
		go func() { defer wg.Done(); results[0] = r.Finish(map[string]int{}) }()
		go func() { defer wg.Done(); results[1] = r.Fail(errors.New("x")) }()
		go func() { defer wg.Done(); results[2] = r.Abort() }()
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrTerminated)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, em.closes)
	}
}

func TestSSEEmitter_WireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	em := NewSSEEmitter(rec)

	require.NoError(t, em.Commit())
	assert.True(t, rec.Flushed)
	require.NoError(t, em.WriteEvent("", []byte(`{"a":1}`)))
	require.NoError(t, em.WriteEvent(EventError, []byte(`{"error":"x"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "data: {\"a\":1}\n\nevent: error\ndata: {\"error\":\"x\"}\n\n", rec.Body.String())
}

func TestSSEEmitter_WriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	em := NewSSEEmitter(rec)
	require.NoError(t, em.WriteError(http.StatusInternalServerError, []byte(`{"error":"x"}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"error":"x"}`, rec.Body.String())

	assert.Error(t, NewSSEEmitter(httptest.NewRecorder()).WriteError(http.StatusOK, nil))
}
