// Package warehouse records events in a first-party PostgreSQL warehouse.
// Events are buffered and written in batches; identified users get a
// traits row.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/ingest"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
)

// ErrQueueFull is returned when the batch queue cannot take more events.
var ErrQueueFull = errors.New("warehouse queue is full")

// UserStore persists user traits.
type UserStore interface {
	UpsertUserTraits(ctx context.Context, userID string, traits map[string]any) error
}

type Config struct {
	QueueMaxSize int
	BatchMaxSize int
	BatchMaxWait time.Duration
	// Migrate prepares the schema during Initialize when set.
	Migrate   func(ctx context.Context) error
	SessionID func(ctx context.Context) string
	Now       func() time.Time
}

type Provider struct {
	cfg    Config
	writer ingest.BatchWriter
	users  UserStore
	logger *zap.Logger

	mu         sync.Mutex
	ingestor   *ingest.Ingestor
	stop       context.CancelFunc
	userID     string
	anonTraits map[string]any
}

func New(cfg Config, writer ingest.BatchWriter, users UserStore, logger *zap.Logger) *Provider {
	if cfg.QueueMaxSize <= 0 {
		cfg.QueueMaxSize = 10_000
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 500
	}
	if cfg.BatchMaxWait <= 0 {
		cfg.BatchMaxWait = 50 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, writer: writer, users: users, logger: logger, anonTraits: map[string]any{}}
}

func (p *Provider) Name() string { return string(provider.KindWarehouse) }

func (p *Provider) Initialize(ctx context.Context) error {
	if p.writer == nil || p.users == nil {
		return provider.MissingCredential(provider.KindWarehouse, "database")
	}
	if p.cfg.Migrate != nil {
		if err := p.cfg.Migrate(ctx); err != nil {
			return fmt.Errorf("warehouse migrate: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ingestor != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	p.ingestor = ingest.NewIngestor(p.writer, p.cfg.QueueMaxSize, p.cfg.BatchMaxSize, p.cfg.BatchMaxWait, p.logger)
	p.ingestor.Start(runCtx)
	p.stop = cancel
	p.logger.Debug("warehouse ingest started",
		zap.Int("queue", p.cfg.QueueMaxSize), zap.Int("batch", p.cfg.BatchMaxSize), zap.Duration("wait", p.cfg.BatchMaxWait))
	return nil
}

// Close stops the ingest loop after flushing queued events.
func (p *Provider) Close() error {
	p.mu.Lock()
	ig, stop := p.ingestor, p.stop
	p.ingestor, p.stop = nil, nil
	p.mu.Unlock()
	if ig == nil {
		return nil
	}
	stop()
	<-ig.Done()
	return nil
}

func (p *Provider) Track(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	ig := p.ingestor
	if ev.UserID == "" {
		ev.UserID = p.userID
	}
	p.mu.Unlock()
	if ig == nil {
		return provider.ErrNotInitialized
	}
	if !ig.Enqueue(ev) {
		return ErrQueueFull
	}
	return nil
}

func (p *Provider) Page(ctx context.Context, name string, props map[string]any) error {
	ev := domain.Event{
		Name:       "page_view",
		Category:   "navigation",
		Label:      name,
		Properties: maps.Clone(props),
		Timestamp:  p.cfg.Now(),
	}
	if p.cfg.SessionID != nil {
		ev.SessionID = p.cfg.SessionID(ctx)
	}
	return p.Track(ctx, ev)
}

func (p *Provider) Identify(ctx context.Context, userID string, props map[string]any) error {
	p.mu.Lock()
	p.userID = userID
	traits := p.anonTraits
	p.anonTraits = map[string]any{}
	p.mu.Unlock()

	maps.Copy(traits, props)
	return p.users.UpsertUserTraits(ctx, userID, traits)
}

// SetUserProperties writes traits for the identified user, or holds them
// until Identify when nobody is identified yet.
func (p *Provider) SetUserProperties(ctx context.Context, props map[string]any) error {
	p.mu.Lock()
	userID := p.userID
	if userID == "" {
		maps.Copy(p.anonTraits, props)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.users.UpsertUserTraits(ctx, userID, props)
}

func (p *Provider) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID = ""
	p.anonTraits = map[string]any{}
	return nil
}
