package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/stream-gateway/internal/config"
	"github.com/compresr/stream-gateway/internal/conversation"
	"github.com/compresr/stream-gateway/internal/transcode"
	"github.com/compresr/stream-gateway/internal/upstream"
)

// =============================================================================
// MOCK UPSTREAM
// =============================================================================

// difyMock is a Dify-style /chat-messages endpoint.
type difyMock struct {
	mu      sync.Mutex
	queries []upstream.Query
	auth    []string
	newConv string // id handed out when a query starts a new conversation
	status  int    // non-zero: fail every call with this status
}

func (m *difyMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var q upstream.Query
	_ = json.NewDecoder(r.Body).Decode(&q)

	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.auth = append(m.auth, r.Header.Get("Authorization"))
	status := m.status
	conv := q.ConversationID
	if conv == "" {
		conv = m.newConv
	}
	m.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"code":"provider_error","message":"upstream is down","status":%d}`, status)
		return
	}

	if q.ResponseMode == upstream.ModeBlocking {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"event":"message","message_id":"m-1","conversation_id":%q,"mode":"chat","answer":"Hello","created_at":1705407629,"metadata":{"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}}`, conv)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, frame := range []string{
		"event: ping\n\n",
		fmt.Sprintf(`data: {"event":"message","message_id":"m-1","conversation_id":%q,"answer":"Hel","created_at":1705398420}`+"\n\n", conv),
		fmt.Sprintf(`data: {"event":"message","message_id":"m-1","conversation_id":%q,"answer":"lo","created_at":1705398420}`+"\n\n", conv),
		fmt.Sprintf(`data: {"event":"message_end","message_id":"m-1","conversation_id":%q,"metadata":{"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}}`+"\n\n", conv),
	} {
		_, _ = io.WriteString(w, frame)
		flusher.Flush()
	}
}

func (m *difyMock) calls() []upstream.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]upstream.Query(nil), m.queries...)
}

// =============================================================================
// HELPERS
// =============================================================================

type testEnv struct {
	mock    *difyMock
	gateway *Gateway
	server  *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*config.Config), opts ...Option) *testEnv {
	t.Helper()
	mock := &difyMock{newConv: "abc"}
	up := httptest.NewServer(mock)
	t.Cleanup(up.Close)

	cfg := config.Defaults()
	cfg.Upstream.BaseURL = up.URL
	cfg.Upstream.APIKey = "server-key"
	if mutate != nil {
		mutate(cfg)
	}

	g, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{mock: mock, gateway: g, server: srv}
}

func chatBody(user string, stream bool, userTurns ...string) string {
	var msgs []string
	for i, turn := range userTurns {
		if i > 0 {
			msgs = append(msgs, `{"role":"assistant","content":"ok"}`)
		}
		msgs = append(msgs, fmt.Sprintf(`{"role":"user","content":%q}`, turn))
	}
	return fmt.Sprintf(`{"model":"gpt-4o","user":%q,"stream":%t,"messages":[%s]}`, user, stream, strings.Join(msgs, ","))
}

func (e *testEnv) post(t *testing.T, path, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// readSSE returns the data payloads of an SSE response.
func readSSE(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

// =============================================================================
// STREAMING
// =============================================================================

func TestChatCompletions_StreamingRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "client-key")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	data := readSSE(t, resp)
	require.Len(t, data, 4)

	var first, terminal transcode.Chunk
	require.NoError(t, json.Unmarshal([]byte(data[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(data[2]), &terminal))
	assert.Equal(t, "dify-proxy", first.Model)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Equal(t, "Hel", *first.Choices[0].Delta.Content)
	assert.Equal(t, "stop", *terminal.Choices[0].FinishReason)
	assert.Equal(t, 7, terminal.Usage.TotalTokens)
	assert.Equal(t, "[DONE]", data[3])

	calls := env.mock.calls()
	require.Len(t, calls, 1)
	q := calls[0]
	assert.Equal(t, "hi", q.Query)
	assert.Equal(t, "alice", q.User)
	assert.Equal(t, upstream.ModeStreaming, q.ResponseMode)
	assert.Empty(t, q.ConversationID)
	assert.NotNil(t, q.Inputs)
	assert.NotNil(t, q.Files)
	assert.Equal(t, "Bearer client-key", env.mock.auth[0])
}

func TestChatCompletions_ConfiguredKeyIsFallback(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readSSE(t, resp)
	assert.Equal(t, "Bearer server-key", env.mock.auth[0])
}

func TestChatCompletions_CorrelatesConversations(t *testing.T) {
	env := newTestEnv(t, nil)

	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "k"))
	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi", "and then?"), "k"))
	// a single user turn starts over
	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "new topic"), "k"))
	// other keys are unaffected
	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("bob", true, "hi", "again"), "k"))

	calls := env.mock.calls()
	require.Len(t, calls, 4)
	assert.Empty(t, calls[0].ConversationID)
	assert.Equal(t, "abc", calls[1].ConversationID)
	assert.Equal(t, "and then?", calls[1].Query)
	assert.Equal(t, []any{
		map[string]any{"role": "user", "content": "hi"},
		map[string]any{"role": "assistant", "content": "ok"},
	}, calls[1].Inputs["conversation_history"])
	assert.Equal(t, []any{}, calls[0].Inputs["conversation_history"])
	assert.Empty(t, calls[2].ConversationID)
	assert.Empty(t, calls[3].ConversationID)

	id, err := env.gateway.store.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
}

func TestChatCompletions_UpstreamStatusErrorBeforeFlush(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mock.status = http.StatusBadGateway

	resp := env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "k")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, errorMessage(t, resp), "upstream is down")

	assert.Equal(t, int64(1), env.gateway.metrics.FullStats().Requests.Failed)
}

func TestChatCompletions_AliasPath(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.post(t, "/chat/completions", chatBody("alice", true, "hi"), "k")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[DONE]", readSSE(t, resp)[3])
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestChatCompletions_MissingCredential(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Upstream.APIKey = "" })

	resp := env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, errorMessage(t, resp))
	assert.Empty(t, env.mock.calls())
	assert.Equal(t, int64(1), env.gateway.metrics.FullStats().Requests.Rejected)
}

func TestChatCompletions_MalformedRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{
		`not json`,
		`[]`,
		`{"messages":[]}`,
		`{"messages":[{"role":"system","content":"be nice"}]}`,
		`{"messages":[{"role":"user","content":"   "}]}`,
		`{"messages":[{"role":"user","content":"hi"}],"temperature":"hot"}`,
	} {
		resp := env.post(t, "/v1/chat/completions", body, "k")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.NotEmpty(t, errorMessage(t, resp), body)
	}
	assert.Empty(t, env.mock.calls())
}

func TestChatCompletions_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.server.URL + "/v1/chat/completions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// =============================================================================
// BLOCKING
// =============================================================================

func TestChatCompletions_BlockingRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.post(t, "/v1/chat/completions", chatBody("alice", false, "hi"), "k")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var c transcode.Completion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	assert.Equal(t, "chat.completion", c.Object)
	assert.Equal(t, "chatcmpl-m-1", c.ID)
	assert.Equal(t, "dify-proxy", c.Model)
	require.Len(t, c.Choices, 1)
	assert.Equal(t, "Hello", c.Choices[0].Message.Content)
	assert.Equal(t, "assistant", c.Choices[0].Message.Role)
	assert.Equal(t, "stop", c.Choices[0].FinishReason)
	assert.Equal(t, transcode.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7}, c.Usage)

	calls := env.mock.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, upstream.ModeBlocking, calls[0].ResponseMode)

	id, _ := env.gateway.store.Get(context.Background(), "alice")
	assert.Equal(t, "abc", id)
}

func TestChatCompletions_BlockingUpstreamError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mock.status = http.StatusInternalServerError

	resp := env.post(t, "/v1/chat/completions", chatBody("alice", false, "hi"), "k")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "upstream is down")
}

// =============================================================================
// CONVERSATIONS, HEALTH, STATS, METRICS
// =============================================================================

func TestConversationEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/v1/conversations/alice")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "k"))

	resp, err = http.Get(env.server.URL + "/v1/conversations/alice")
	require.NoError(t, err)
	var got conversationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, conversationResponse{Key: "alice", ConversationID: "abc"}, got)

	req, _ := http.NewRequest(http.MethodDelete, env.server.URL+"/v1/conversations/alice", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi", "more"), "k"))
	calls := env.mock.calls()
	assert.Empty(t, calls[len(calls)-1].ConversationID, "deleted conversation is not reused")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStats_LoopbackOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "k"))

	resp, err := http.Get(env.server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		Requests struct {
			Total     int64 `json:"total"`
			Completed int64 `json:"completed"`
		} `json:"requests"`
		Streams struct {
			ChunksSent int64 `json:"chunks_sent"`
		} `json:"streams"`
		Conversations int `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.Requests.Total)
	assert.Equal(t, int64(1), stats.Requests.Completed)
	assert.Equal(t, int64(2), stats.Streams.ChunksSent)
	assert.Equal(t, 1, stats.Conversations)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	rec := httptest.NewRecorder()
	env.gateway.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "k"))

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `stream_gateway_requests_total{mode="streaming",outcome="completed"} 1`)
	assert.Contains(t, string(body), "stream_gateway_chunks_sent_total 2")
	assert.Contains(t, string(body), "go_goroutines")
}

// =============================================================================
// BACKENDS AND TELEMETRY
// =============================================================================

func TestGateway_SQLiteStore(t *testing.T) {
	store, err := conversation.NewSQLiteStore(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	env := newTestEnv(t, nil, WithStore(store))

	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "k"))
	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi", "again"), "k"))

	calls := env.mock.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "abc", calls[1].ConversationID)
}

func TestGateway_TelemetryWritesOneLinePerRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry", "requests.jsonl")
	env := newTestEnv(t, func(c *config.Config) {
		c.Monitoring.TelemetryEnabled = true
		c.Monitoring.TelemetryPath = path
	})

	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "k"))
	resp := env.post(t, "/v1/chat/completions", `{}`, "k")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"outcome":"completed"`)
	assert.Contains(t, lines[0], `"conversation_id":"abc"`)
	assert.Contains(t, lines[1], `"outcome":"rejected"`)

	initData, err := os.ReadFile(filepath.Join(filepath.Dir(path), "init.jsonl"))
	require.NoError(t, err)
	initLines := strings.Split(strings.TrimSpace(string(initData)), "\n")
	require.Len(t, initLines, 1)
	assert.Contains(t, initLines[0], `"event":"gateway_init"`)
	assert.Contains(t, initLines[0], `"conversation_backend":"memory"`)
}

// lockedBuffer is a log sink shared with server goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestGateway_TelemetryToStdoutWithoutFile(t *testing.T) {
	sink := &lockedBuffer{}
	prev := log.Logger
	log.Logger = zerolog.New(sink)
	t.Cleanup(func() { log.Logger = prev })

	env := newTestEnv(t, func(c *config.Config) {
		c.Monitoring.TelemetryEnabled = true
		c.Monitoring.TelemetryStdout = true
	})
	readSSE(t, env.post(t, "/v1/chat/completions", chatBody("alice", true, "hi"), "k"))

	assert.Contains(t, sink.String(), `"message":"telemetry"`)
	assert.Contains(t, sink.String(), `"outcome":"completed"`)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Upstream.BaseURL = "not a url"
	_, err := New(cfg)
	assert.Error(t, err)
}
