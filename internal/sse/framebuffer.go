// Package sse turns an upstream byte stream into typed events.
//
// DESIGN: Two stages, both free of I/O:
//   - FrameBuffer: accumulates raw chunks, yields blank-line delimited frames
//   - ParseEvent:  decodes one frame's data lines into an upstream.Event
//
// Chunk boundaries carry no meaning. Feeding the same bytes split at any
// offsets yields the same frames in the same order.
package sse

import (
	"bytes"
	"iter"

	"github.com/compresr/stream-gateway/internal/config"
)

// Frame is one complete, delimiter-bounded unit of stream text, without the delimiter.
type Frame []byte

var (
	delimLF   = []byte("\n\n")
	delimCRLF = []byte("\r\n\r\n")
)

// FrameBuffer accumulates raw chunks and yields complete frames.
// Not safe for concurrent use; one buffer serves one stream.
type FrameBuffer struct {
	pending []byte
}

// NewFrameBuffer creates an empty frame buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{
		pending: make([]byte, 0, config.DefaultBufferSize),
	}
}

// Feed appends chunk and returns the complete frames now available, in
// arrival order. Frames are removed from the buffer only as they are
// yielded: if the caller stops early, the rest stay pending and come out of
// the next Feed or Flush.
func (b *FrameBuffer) Feed(chunk []byte) iter.Seq[Frame] {
	b.pending = append(b.pending, chunk...)
	return b.frames
}

// Flush yields every remaining complete frame followed by the trailing
// undelimited remainder, if it holds anything besides whitespace. Used at
// end of stream.
func (b *FrameBuffer) Flush() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for frame := range b.frames {
			if !yield(frame) {
				return
			}
		}
		rest := bytes.TrimSpace(b.pending)
		b.pending = b.pending[:0]
		if len(rest) > 0 {
			yield(Frame(bytes.Clone(rest)))
		}
	}
}

// Pending returns the number of buffered bytes not yet emitted as a frame.
func (b *FrameBuffer) Pending() int {
	return len(b.pending)
}

func (b *FrameBuffer) frames(yield func(Frame) bool) {
	for {
		frame, ok := b.next()
		if !ok {
			return
		}
		if !yield(frame) {
			return
		}
	}
}

// next pops the first complete frame. Whichever delimiter occurs first wins,
// so LF and CRLF upstreams split identically.
func (b *FrameBuffer) next() (Frame, bool) {
	idx, size := -1, 0
	if i := bytes.Index(b.pending, delimLF); i >= 0 {
		idx, size = i, len(delimLF)
	}
	if i := bytes.Index(b.pending, delimCRLF); i >= 0 && (idx < 0 || i < idx) {
		idx, size = i, len(delimCRLF)
	}
	if idx < 0 {
		return nil, false
	}

	frame := Frame(bytes.Clone(b.pending[:idx]))
	n := copy(b.pending, b.pending[idx+size:])
	b.pending = b.pending[:n]
	return frame, true
}
