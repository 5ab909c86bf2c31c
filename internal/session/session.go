// Package session owns the per-process session token attached to every
// analytics event.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/storage"
)

// Tracker lazily creates a session id on first use and caches it. The id
// is mirrored into a session-scoped store under key so that other
// components in the same session observe the same token.
type Tracker struct {
	store  storage.KV
	key    string
	newID  func() string
	logger *zap.Logger

	mu sync.Mutex
	id string
}

func NewTracker(store storage.KV, key string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		key:    key,
		newID:  uuid.NewString,
		logger: logger,
	}
}

// ID returns the session id, creating it if this is the first call.
// Store failures are logged; the id still stays stable for the process.
func (t *Tracker) ID(ctx context.Context) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.id != "" {
		return t.id
	}

	if v, ok, err := t.store.Get(ctx, t.key); err != nil {
		t.logger.Warn("read session id", zap.String("key", t.key), zap.Error(err))
	} else if ok && v != "" {
		t.id = v
		return t.id
	}

	t.id = t.newID()
	if err := t.store.Set(ctx, t.key, t.id); err != nil {
		t.logger.Warn("persist session id", zap.String("key", t.key), zap.Error(err))
	}
	return t.id
}
