package gateway

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/stream-gateway/internal/config"
	"github.com/compresr/stream-gateway/internal/monitoring"
	"github.com/compresr/stream-gateway/internal/stream"
)

// Websocket envelope event names.
const (
	wsEventChunk = "chunk"
	wsEventDone  = "done"
)

// wsRequestTimeout bounds the wait for the request message after the upgrade.
const wsRequestTimeout = 30 * time.Second

// handleWebSocket serves GET /v1/chat/ws. The client sends one chat request
// (same body as /v1/chat/completions, always streamed) and receives one
// envelope per event:
//
//	{"event":"chunk","data":{...chat.completion.chunk...}}
//	{"event":"done","data":"[DONE]"}
//	{"event":"error","status":500,"data":{"error":"..."}}
//
// Closing the socket cancels the upstream call.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	ev := newRequestEvent(r, requestID, monitoring.ModeWebSocket)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Str("request_id", requestID).Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(config.MaxRequestBodySize)

	readCtx, cancel := context.WithTimeout(r.Context(), wsRequestTimeout)
	_, body, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		log.Debug().Str("request_id", requestID).Err(err).Msg("websocket closed before request")
		ev.Outcome = monitoring.OutcomeAborted
		ev.Error = err.Error()
		g.finishRequest(ev)
		return
	}

	if gjson.ValidBytes(body) {
		if patched, err := sjson.SetBytes(body, "stream", true); err == nil {
			body = patched
		}
	}

	em := &wsEmitter{ctx: r.Context(), conn: conn}
	req, apiKey, status, err := g.prepare(r.Context(), body, bearerToken(r))
	if err != nil {
		errBody, _ := sjson.SetBytes([]byte(`{}`), "error", err.Error())
		_ = em.WriteError(status, errBody)
		_ = em.Close()
		g.recordRejection(ev, status, err)
		return
	}

	ctx := conn.CloseRead(r.Context())
	g.serveStream(ctx, em, req, apiKey, ev)
}

// wsEmitter adapts a websocket connection to stream.Emitter.
type wsEmitter struct {
	ctx  context.Context
	conn *websocket.Conn
}

// Commit implements stream.Emitter. The upgrade already committed the connection.
func (e *wsEmitter) Commit() error { return nil }

// WriteEvent implements stream.Emitter.
func (e *wsEmitter) WriteEvent(event string, data []byte) error {
	return e.conn.Write(e.ctx, websocket.MessageText, wsEnvelope(event, 0, data))
}

// WriteError implements stream.Emitter.
func (e *wsEmitter) WriteError(status int, body []byte) error {
	return e.conn.Write(e.ctx, websocket.MessageText, wsEnvelope(stream.EventError, status, body))
}

// Close implements stream.Emitter.
func (e *wsEmitter) Close() error {
	return e.conn.Close(websocket.StatusNormalClosure, "")
}

// wsEnvelope wraps one downstream payload as {"event","status"?,"data"}.
func wsEnvelope(event string, status int, data []byte) []byte {
	if event == "" {
		event = wsEventChunk
		if bytes.Equal(data, stream.DoneMarker) {
			event = wsEventDone
		}
	}
	out, _ := sjson.SetBytes([]byte(`{}`), "event", event)
	if status != 0 {
		out, _ = sjson.SetBytes(out, "status", status)
	}
	if gjson.ValidBytes(data) {
		out, _ = sjson.SetRawBytes(out, "data", data)
	} else {
		out, _ = sjson.SetBytes(out, "data", string(data))
	}
	return out
}
