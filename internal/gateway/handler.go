// HTTP request handling for the chat completions endpoint.
//
// DESIGN: Main request flow:
//   - handleChatCompletions(): entry point, reads and prepares the request
//   - prepare():               normalize, resolve credential, validate, look up
//     the conversation; every precondition is checked before the upstream
//     is contacted
//   - serveStream():           SSE (or websocket) streaming via the orchestrator
//   - handleBlocking():        single upstream call, one completion object
//
// Also includes error writing and request telemetry helpers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/stream-gateway/internal/config"
	"github.com/compresr/stream-gateway/internal/monitoring"
	"github.com/compresr/stream-gateway/internal/stream"
	"github.com/compresr/stream-gateway/internal/upstream"
	"github.com/compresr/stream-gateway/internal/utils"
)

// writeError writes a JSON error response.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeJSON writes v as a 200 JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, v any) {
	data, err := utils.MarshalNoEscape(v)
	if err != nil {
		g.writeError(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleChatCompletions serves POST /v1/chat/completions.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	w.Header().Set(HeaderRequestID, requestID)
	ev := newRequestEvent(r, requestID, monitoring.ModeStreaming)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		g.reject(w, ev, status, fmt.Errorf("read request body: %w", err))
		return
	}

	req, apiKey, status, err := g.prepare(r.Context(), body, bearerToken(r))
	if req != nil && !req.Stream {
		ev.Mode = monitoring.ModeBlocking
	}
	if err != nil {
		g.reject(w, ev, status, err)
		return
	}

	log.Info().
		Str("request_id", requestID).
		Str("conversation_key", req.Key).
		Str("conversation_id", req.Query.ConversationID).
		Bool("stream", req.Stream).
		Msg("chat request")

	if req.Stream {
		g.serveStream(r.Context(), stream.NewSSEEmitter(w), req, apiKey, ev)
		return
	}
	g.handleBlocking(w, r, req, apiKey, ev)
}

// prepare turns a raw chat body into a ready upstream query. On failure it
// returns the HTTP status to report; the returned request may be non-nil
// when only a later step failed.
func (g *Gateway) prepare(ctx context.Context, body []byte, clientToken string) (*chatRequest, string, int, error) {
	req, err := normalize(body)
	if err != nil {
		return nil, "", http.StatusBadRequest, err
	}
	apiKey, err := g.client.ResolveKey(clientToken)
	if err != nil {
		return req, "", http.StatusUnauthorized, err
	}
	if err := req.Query.Validate(); err != nil {
		return req, "", http.StatusBadRequest, err
	}

	if req.Fresh {
		if err := g.store.Reset(ctx, req.Key); err != nil {
			return req, "", http.StatusInternalServerError, fmt.Errorf("reset conversation: %w", err)
		}
		return req, apiKey, 0, nil
	}
	id, err := g.store.Get(ctx, req.Key)
	if err != nil {
		return req, "", http.StatusInternalServerError, fmt.Errorf("look up conversation: %w", err)
	}
	req.Query.ConversationID = id
	return req, apiKey, 0, nil
}

// serveStream runs the orchestrator against em and records the outcome.
func (g *Gateway) serveStream(ctx context.Context, em stream.Emitter, req *chatRequest, apiKey string, ev *monitoring.RequestEvent) {
	ev.ConversationKey = req.Key
	ev.NewConversation = req.Query.ConversationID == ""

	g.metrics.StreamStarted()
	defer g.metrics.StreamEnded()

	sum := g.orchestrator.Run(ctx, stream.Request{
		ID:     ev.RequestID,
		Key:    req.Key,
		APIKey: apiKey,
		Query:  req.Query,
	}, stream.NewResponse(em))

	ev.Outcome = sum.Outcome
	ev.ConversationID = sum.ConversationID
	ev.Chunks = sum.Chunks
	ev.DroppedFrames = sum.DroppedFrames
	ev.FirstChunkMs = sum.FirstChunk.Milliseconds()
	ev.StatusCode = http.StatusOK
	if sum.Outcome == monitoring.OutcomeFailed && sum.Chunks == 0 {
		ev.StatusCode = http.StatusInternalServerError
	}
	if sum.Err != nil {
		ev.Error = sum.Err.Error()
	}

	g.metrics.RecordChunks(sum.Chunks)
	g.metrics.RecordDroppedFrames(sum.DroppedFrames)
	if sum.Outcome == monitoring.OutcomeCompleted {
		g.metrics.RecordUsage(sum.Usage.PromptTokens, sum.Usage.CompletionTokens)
		ev.PromptTokens = sum.Usage.PromptTokens
		ev.CompletionTokens = sum.Usage.CompletionTokens
	}

	log.Info().
		Str("request_id", ev.RequestID).
		Str("outcome", string(sum.Outcome)).
		Int("chunks", sum.Chunks).
		Str("conversation_id", sum.ConversationID).
		Msg("stream finished")
	g.finishRequest(ev)
}

// reject reports a precondition failure; the upstream was never contacted.
func (g *Gateway) reject(w http.ResponseWriter, ev *monitoring.RequestEvent, status int, err error) {
	g.writeError(w, err.Error(), status)
	g.recordRejection(ev, status, err)
}

// recordRejection records a request that ended before the upstream call.
func (g *Gateway) recordRejection(ev *monitoring.RequestEvent, status int, err error) {
	log.Warn().
		Str("request_id", ev.RequestID).
		Int("status", status).
		Err(err).
		Msg("request rejected")
	ev.StatusCode = status
	ev.Outcome = monitoring.OutcomeRejected
	if status >= http.StatusInternalServerError {
		ev.Outcome = monitoring.OutcomeFailed
	}
	ev.Error = err.Error()
	g.finishRequest(ev)
}

func newRequestEvent(r *http.Request, requestID string, mode monitoring.Mode) *monitoring.RequestEvent {
	return &monitoring.RequestEvent{
		RequestID: requestID,
		Timestamp: time.Now(),
		Method:    r.Method,
		Path:      r.URL.Path,
		ClientIP:  clientIP(r),
		Mode:      mode,
	}
}

// finishRequest records metrics and telemetry for a finished request.
func (g *Gateway) finishRequest(ev *monitoring.RequestEvent) {
	ev.TotalLatencyMs = time.Since(ev.Timestamp).Milliseconds()
	g.metrics.RecordRequest(ev.Mode, ev.Outcome)
	g.tracker.RecordRequest(ev)
}

// statusFor maps an upstream call error to the status reported before any
// body was written.
func statusFor(err error) int {
	switch {
	case errors.Is(err, upstream.ErrMissingCredential):
		return http.StatusUnauthorized
	case errors.As(err, new(*upstream.ValidationError)):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
