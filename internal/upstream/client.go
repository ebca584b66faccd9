package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/compresr/stream-gateway/internal/config"
	"github.com/compresr/stream-gateway/internal/utils"
)

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// Client issues chat calls to the upstream.
type Client struct {
	chatURL         string
	defaultKey      string
	blockingTimeout time.Duration
	httpClient      *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// NewClient builds a client from upstream config. Only connection
// establishment is time-bounded; stream bodies may stay open indefinitely.
func NewClient(cfg config.UpstreamConfig, opts ...ClientOption) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout

	c := &Client{
		chatURL:         cfg.ChatURL(),
		defaultKey:      cfg.APIKey,
		blockingTimeout: cfg.BlockingTimeout,
		httpClient:      &http.Client{Transport: transport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveKey picks the credential for a call: the client's token wins,
// the configured key is the fallback.
func (c *Client) ResolveKey(clientToken string) (string, error) {
	if clientToken != "" {
		return clientToken, nil
	}
	if c.defaultKey != "" {
		return c.defaultKey, nil
	}
	return "", ErrMissingCredential
}

// Stream opens a streaming chat call. The caller owns the returned body and
// cancels the call through ctx.
func (c *Client) Stream(ctx context.Context, q *Query, apiKey string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, q, apiKey, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Block performs a non-streaming chat call and returns the full body.
func (c *Client) Block(ctx context.Context, q *Query, apiKey string) ([]byte, error) {
	if c.blockingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.blockingTimeout)
		defer cancel()
	}
	resp, err := c.do(ctx, q, apiKey, "application/json")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxUpstreamBodySize))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, q *Query, apiKey, accept string) (*http.Response, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+apiKey)

	log.Debug().
		Str("url", c.chatURL).
		Str("mode", q.ResponseMode).
		Str("user", q.User).
		Str("conversation_id", q.ConversationID).
		Str("authorization", utils.MaskKey(apiKey)).
		Msg("forwarding query")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		log.Error().
			Int("status", resp.StatusCode).
			Str("url", c.chatURL).
			Str("response", string(errBody[:min(config.MaxErrorBodyLogLen, len(errBody))])).
			Msg("upstream error response")
		return nil, newStatusError(resp.StatusCode, errBody)
	}
	return resp, nil
}

func newStatusError(status int, body []byte) *StatusError {
	e := &StatusError{Status: status, Message: http.StatusText(status)}
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "message"); msg.Exists() && msg.String() != "" {
			e.Message = msg.String()
		}
		e.Code = gjson.GetBytes(body, "code").String()
	} else if len(body) > 0 {
		e.Message = string(body[:min(config.MaxErrorBodyLogLen, len(body))])
	}
	return e
}
