// Package conversation correlates successive client requests with one
// upstream conversation.
//
// DESIGN: A Store maps a conversation key (derived from the client request)
// to the upstream conversation id last reported for it. Writes are
// last-write-wins per key; concurrent requests on the same key are not
// serialized. An empty id means "no conversation yet".
//
// FILES:
//   - store.go:  Store interface and constructor
//   - memory.go: in-process map backend (default)
//   - sqlite.go: modernc.org/sqlite backend
package conversation

import (
	"context"
	"fmt"

	"github.com/compresr/stream-gateway/internal/config"
)

// Store is the conversation correlation store.
type Store interface {
	// Get returns the id stored for key, or "" when none is stored.
	Get(ctx context.Context, key string) (string, error)
	// Set stores id for key, replacing any previous value.
	Set(ctx context.Context, key, id string) error
	// Reset clears the association for key.
	Reset(ctx context.Context, key string) error
	// Len returns the number of keys holding a non-empty id.
	Len(ctx context.Context) (int, error)
	Close() error
}

// New builds the backend selected in config.
func New(cfg config.ConversationConfig) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", cfg.Backend)
	}
}
