package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/compresr/stream-gateway/internal/monitoring"
	"github.com/compresr/stream-gateway/internal/transcode"
)

// handleBlocking makes one blocking upstream call and answers with a single
// chat.completion object.
func (g *Gateway) handleBlocking(w http.ResponseWriter, r *http.Request, req *chatRequest, apiKey string, ev *monitoring.RequestEvent) {
	ctx := r.Context()
	ev.ConversationKey = req.Key
	ev.NewConversation = req.Query.ConversationID == ""

	raw, err := g.client.Block(ctx, req.Query, apiKey)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug().Str("request_id", ev.RequestID).Err(err).Msg("client disconnected during blocking call")
			ev.Outcome = monitoring.OutcomeAborted
			ev.Error = ctx.Err().Error()
			g.finishRequest(ev)
			return
		}
		g.failBlocking(w, ev, statusFor(err), err)
		return
	}

	opts := g.transcodeOptions()
	opts.Prompt = req.Query.Query
	res, err := transcode.NewCompletion(raw, opts)
	if err != nil {
		g.failBlocking(w, ev, http.StatusInternalServerError, err)
		return
	}

	if res.ConversationID != "" && res.ConversationID != req.Query.ConversationID {
		if err := g.store.Set(context.WithoutCancel(ctx), req.Key, res.ConversationID); err != nil {
			log.Error().
				Str("request_id", ev.RequestID).
				Str("conversation_key", req.Key).
				Err(err).
				Msg("failed to store conversation id")
		}
	}

	g.writeJSON(w, res.Completion)

	usage := res.Completion.Usage
	g.metrics.RecordUsage(usage.PromptTokens, usage.CompletionTokens)
	ev.Outcome = monitoring.OutcomeCompleted
	ev.StatusCode = http.StatusOK
	ev.ConversationID = res.ConversationID
	ev.PromptTokens = usage.PromptTokens
	ev.CompletionTokens = usage.CompletionTokens
	log.Info().
		Str("request_id", ev.RequestID).
		Str("conversation_id", res.ConversationID).
		Msg("blocking request finished")
	g.finishRequest(ev)
}

func (g *Gateway) failBlocking(w http.ResponseWriter, ev *monitoring.RequestEvent, status int, err error) {
	log.Error().
		Str("request_id", ev.RequestID).
		Int("status", status).
		Err(err).
		Msg("blocking request failed")
	g.writeError(w, err.Error(), status)
	ev.Outcome = monitoring.OutcomeFailed
	ev.StatusCode = status
	ev.Error = err.Error()
	g.finishRequest(ev)
}
