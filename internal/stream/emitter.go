package stream

import (
	"errors"
	"net/http"
)

// SSEEmitter writes server-sent events to an http.ResponseWriter, flushing
// after every event.
type SSEEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEEmitter wraps w. Writers that cannot flush still work, buffered.
func NewSSEEmitter(w http.ResponseWriter) *SSEEmitter {
	f, _ := w.(http.Flusher)
	return &SSEEmitter{w: w, flusher: f}
}

// Commit implements Emitter.
func (e *SSEEmitter) Commit() error {
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
	e.flush()
	return nil
}

// WriteEvent implements Emitter.
func (e *SSEEmitter) WriteEvent(event string, data []byte) error {
	buf := make([]byte, 0, len(data)+len(event)+16)
	if event != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, event...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	if _, err := e.w.Write(buf); err != nil {
		return err
	}
	e.flush()
	return nil
}

// WriteError implements Emitter.
func (e *SSEEmitter) WriteError(status int, body []byte) error {
	if status < 400 {
		return errors.New("error status must be >= 400")
	}
	e.w.Header().Set("Content-Type", "application/json")
	e.w.WriteHeader(status)
	_, err := e.w.Write(body)
	return err
}

// Close implements Emitter. The HTTP server ends the body when the handler returns.
func (e *SSEEmitter) Close() error { return nil }

func (e *SSEEmitter) flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}
