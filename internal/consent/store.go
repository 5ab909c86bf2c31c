// Package consent persists the user's analytics consent decision and
// notifies subscribers when it changes.
package consent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/storage"
)

// ChangedEvent names the notification broadcast by Set.
const ChangedEvent = "analytics-consent-changed"

// Change is delivered to subscribers after Set.
type Change struct {
	Consent domain.Consent
}

// Granted reports the boolean payload of the change.
func (c Change) Granted() bool { return c.Consent == domain.ConsentGranted }

// Listener reacts to a consent change. Listeners run synchronously inside
// Set, in subscription order.
type Listener func(ctx context.Context, change Change)

type subscription struct {
	id int
	fn Listener
}

// Store reads and writes the consent decision under a single key.
type Store struct {
	kv     storage.KV
	key    string
	logger *zap.Logger

	mu sync.Mutex
	// override holds the last decision whose write failed; it stays
	// authoritative until a later write succeeds or Clear is called.
	override *domain.Consent
	subs     []subscription
	nextID   int
}

func NewStore(kv storage.KV, key string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, key: key, logger: logger}
}

// Get returns the persisted decision. Absent, unparsable and unreadable
// values all read as ConsentUnknown.
func (s *Store) Get(ctx context.Context) domain.Consent {
	s.mu.Lock()
	override := s.override
	s.mu.Unlock()
	if override != nil {
		return *override
	}

	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.logger.Warn("read consent", zap.String("key", s.key), zap.Error(err))
		return domain.ConsentUnknown
	}
	if !ok {
		return domain.ConsentUnknown
	}
	var granted bool
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &granted); err != nil {
		s.logger.Debug("unparsable consent value", zap.String("key", s.key), zap.String("value", raw))
		return domain.ConsentUnknown
	}
	return domain.ConsentFromBool(granted)
}

// Set records an explicit decision and notifies subscribers. A failed
// write is logged and the decision is kept in memory for the rest of the
// process.
func (s *Store) Set(ctx context.Context, granted bool) {
	decision := domain.ConsentFromBool(granted)
	raw, _ := json.Marshal(granted)

	if err := s.kv.Set(ctx, s.key, string(raw)); err != nil {
		s.logger.Warn("persist consent failed, keeping decision in memory",
			zap.String("key", s.key), zap.Stringer("consent", decision), zap.Error(err))
		s.mu.Lock()
		s.override = &decision
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.override = nil
		s.mu.Unlock()
	}

	s.logger.Info("consent changed", zap.String("event", ChangedEvent), zap.Stringer("consent", decision))
	s.notify(ctx, Change{Consent: decision})
}

// Clear removes the persisted decision. It does not notify subscribers:
// clearing is a data reset, not a decision.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.override = nil
	s.mu.Unlock()
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.logger.Warn("clear consent", zap.String("key", s.key), zap.Error(err))
	}
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) notify(ctx context.Context, change Change) {
	s.mu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		s.safeCall(ctx, sub.fn, change)
	}
}

func (s *Store) safeCall(ctx context.Context, fn Listener, change Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("consent listener panicked", zap.Any("panic", r))
		}
	}()
	fn(ctx, change)
}
