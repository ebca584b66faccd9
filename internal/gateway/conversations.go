package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// conversationResponse is the body of GET /v1/conversations/{key}.
type conversationResponse struct {
	Key            string `json:"key"`
	ConversationID string `json:"conversation_id"`
}

// handleGetConversation returns the conversation id stored for a key.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	id, err := g.store.Get(r.Context(), key)
	if err != nil {
		g.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if id == "" {
		g.writeError(w, "no conversation for key "+key, http.StatusNotFound)
		return
	}
	g.writeJSON(w, conversationResponse{Key: key, ConversationID: id})
}

// handleDeleteConversation forgets the conversation for a key; the next
// request on that key starts a new upstream conversation.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := g.store.Reset(r.Context(), key); err != nil {
		g.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().Str("conversation_key", key).Msg("conversation reset")
	w.WriteHeader(http.StatusNoContent)
}
