// Package dispatcher fans analytics calls out to the configured providers,
// gated by the environment policy and the user's consent.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/consent"
	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
)

const (
	tracerName          = "github.com/aicoder88/roigpt-sub000/internal/dispatcher"
	DefaultQueueMaxSize = 1000
)

// ConsentStore is the part of consent.Store the dispatcher depends on.
type ConsentStore interface {
	Get(ctx context.Context) domain.Consent
	Subscribe(fn consent.Listener) (unsubscribe func())
}

// SessionSource supplies the session id attached to events.
type SessionSource interface {
	ID(ctx context.Context) string
}

// Options configures a Dispatcher. Consent and Session are required.
type Options struct {
	Providers    []provider.Provider
	Consent      ConsentStore
	Session      SessionSource
	Policy       Policy
	QueueMaxSize int
	Logger       *zap.Logger
	Tracer       trace.Tracer
	Now          func() time.Time
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Initialized bool           `json:"initialized"`
	Providers   []string       `json:"providers"`
	Queued      int            `json:"queued"`
	Consent     domain.Consent `json:"consent"`
	Trackable   bool           `json:"trackable"`
	Production  bool           `json:"production"`
}

// Dispatcher owns the provider adapters. Build one per process with New
// and release it with Close.
type Dispatcher struct {
	providers []provider.Provider
	consent   ConsentStore
	session   SessionSource
	policy    Policy
	queueMax  int
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// initMu serializes Initialize so each provider is set up once.
	initMu sync.Mutex
	// order is held for reading by live fan-outs and for writing while the
	// queue is replayed, so replayed events always precede later ones.
	order sync.RWMutex

	mu          sync.Mutex
	initialized bool
	active      []provider.Provider
	queue       []domain.Event

	unsubscribe func()
}

// New builds a dispatcher and subscribes it to consent changes.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		providers: opts.Providers,
		consent:   opts.Consent,
		session:   opts.Session,
		policy:    opts.Policy,
		queueMax:  opts.QueueMaxSize,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		now:       opts.Now,
	}
	if d.queueMax <= 0 {
		d.queueMax = DefaultQueueMaxSize
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	d.unsubscribe = d.consent.Subscribe(d.onConsentChange)
	return d
}

// Initialize sets up every provider once. It does nothing while the policy
// disallows tracking, leaving queued events in place until consent is
// granted. Provider failures are logged and the provider is left out.
func (d *Dispatcher) Initialize(ctx context.Context) {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	if d.isInitialized() {
		return
	}
	c := d.consent.Get(ctx)
	if !d.policy.Allows(c) {
		d.logger.Debug("tracking not allowed, skipping provider initialization",
			zap.Bool("production", d.policy.Production), zap.Stringer("consent", c))
		return
	}

	active := d.initProviders(ctx)

	d.order.Lock()
	defer d.order.Unlock()
	d.mu.Lock()
	d.initialized = true
	d.active = active
	queued := d.queue
	d.queue = nil
	d.mu.Unlock()

	d.logger.Info("analytics initialized", zap.Int("providers", len(active)), zap.Int("queued", len(queued)))
	d.replay(ctx, queued)
}

func (d *Dispatcher) initProviders(ctx context.Context) []provider.Provider {
	ok := make([]bool, len(d.providers))
	var wg sync.WaitGroup
	for i, p := range d.providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok[i] = d.invoke(ctx, "initialize", p, func(ctx context.Context, p provider.Provider) error {
				return p.Initialize(ctx)
			})
		}()
	}
	wg.Wait()

	active := make([]provider.Provider, 0, len(d.providers))
	for i, p := range d.providers {
		if ok[i] {
			active = append(active, p)
		}
	}
	return active
}

// Track stamps ev with the time and session id and delivers it to every
// active provider, or queues it until the dispatcher is initialized.
func (d *Dispatcher) Track(ctx context.Context, ev domain.Event) {
	ev = ev.Clone()
	ev.Timestamp = d.now()
	ev.SessionID = d.session.ID(ctx)

	d.order.RLock()
	defer d.order.RUnlock()

	c := d.consent.Get(ctx)
	d.mu.Lock()
	if !d.initialized {
		// Consent is read again under mu, which the decline reaction also
		// holds while clearing, so an event is never queued after a decline.
		d.enqueueLocked(ev, d.consent.Get(ctx))
		d.mu.Unlock()
		return
	}
	active := d.active
	d.mu.Unlock()

	if !d.policy.Allows(c) {
		d.logger.Debug("event dropped by policy", zap.String("event", ev.Name), zap.Stringer("consent", c))
		return
	}
	d.fanOut(ctx, "track", active, func(ctx context.Context, p provider.Provider) error {
		return p.Track(ctx, ev)
	})
}

func (d *Dispatcher) enqueueLocked(ev domain.Event, c domain.Consent) {
	if !d.policy.mayBecomeTrackable(c) {
		d.logger.Debug("event dropped before initialization", zap.String("event", ev.Name), zap.Stringer("consent", c))
		return
	}
	if len(d.queue) >= d.queueMax {
		d.logger.Warn("event queue full, dropping event", zap.String("event", ev.Name), zap.Int("max", d.queueMax))
		return
	}
	d.queue = append(d.queue, ev)
}

// Identify associates later calls with userID on providers that support
// identification.
func (d *Dispatcher) Identify(ctx context.Context, userID string, props map[string]any) {
	props = maps.Clone(props)
	d.gated(ctx, "identify", func(ctx context.Context, p provider.Provider) error {
		return p.Identify(ctx, userID, props)
	})
}

// Page records a page view named name.
func (d *Dispatcher) Page(ctx context.Context, name string, props map[string]any) {
	props = maps.Clone(props)
	d.gated(ctx, "page", func(ctx context.Context, p provider.Provider) error {
		return p.Page(ctx, name, props)
	})
}

// SetUserProperties merges props into the current user's traits.
func (d *Dispatcher) SetUserProperties(ctx context.Context, props map[string]any) {
	props = maps.Clone(props)
	d.gated(ctx, "set_user_properties", func(ctx context.Context, p provider.Provider) error {
		return p.SetUserProperties(ctx, props)
	})
}

// Reset clears vendor-side identity on every active provider. It is not
// gated by the policy because it is how consent withdrawal takes effect.
func (d *Dispatcher) Reset(ctx context.Context) {
	d.order.RLock()
	defer d.order.RUnlock()
	d.fanOut(ctx, "reset", d.activeProviders(), func(ctx context.Context, p provider.Provider) error {
		return p.Reset(ctx)
	})
}

// gated runs fn on every active provider when tracking is allowed.
// Calls made before initialization are dropped.
func (d *Dispatcher) gated(ctx context.Context, op string, fn func(context.Context, provider.Provider) error) {
	d.order.RLock()
	defer d.order.RUnlock()

	if !d.isInitialized() {
		d.logger.Debug("call dropped before initialization", zap.String("op", op))
		return
	}
	if c := d.consent.Get(ctx); !d.policy.Allows(c) {
		d.logger.Debug("call dropped by policy", zap.String("op", op), zap.Stringer("consent", c))
		return
	}
	d.fanOut(ctx, op, d.activeProviders(), fn)
}

// Trackable evaluates the policy against the current consent.
func (d *Dispatcher) Trackable(ctx context.Context) bool {
	return d.policy.Allows(d.consent.Get(ctx))
}

// Status reports initialization, active providers, queue length and the
// current consent.
func (d *Dispatcher) Status(ctx context.Context) Status {
	c := d.consent.Get(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.active))
	for _, p := range d.active {
		names = append(names, p.Name())
	}
	return Status{
		Initialized: d.initialized,
		Providers:   names,
		Queued:      len(d.queue),
		Consent:     c,
		Trackable:   d.policy.Allows(c),
		Production:  d.policy.Production,
	}
}

// Close stops reacting to consent changes and closes providers that hold
// resources.
func (d *Dispatcher) Close() error {
	d.unsubscribe()
	var errs []error
	for _, p := range d.providers {
		if c, ok := p.(provider.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// onConsentChange runs detached from the caller's cancellation: the queue
// is swapped out before replay, so an aborted replay would lose events.
func (d *Dispatcher) onConsentChange(ctx context.Context, change consent.Change) {
	ctx = context.WithoutCancel(ctx)
	switch change.Consent {
	case domain.ConsentGranted:
		d.Initialize(ctx)
		d.flushQueue(ctx)
	case domain.ConsentDeclined:
		d.mu.Lock()
		dropped := len(d.queue)
		d.queue = nil
		d.mu.Unlock()
		if dropped > 0 {
			d.logger.Info("consent declined, discarded queued events", zap.Int("dropped", dropped))
		}
		d.Reset(ctx)
	}
}

// flushQueue replays anything queued, for the case where Initialize had
// already run before the grant.
func (d *Dispatcher) flushQueue(ctx context.Context) {
	d.order.Lock()
	defer d.order.Unlock()
	d.mu.Lock()
	if !d.initialized || len(d.queue) == 0 {
		d.mu.Unlock()
		return
	}
	queued := d.queue
	d.queue = nil
	d.mu.Unlock()
	d.replay(ctx, queued)
}

// replay sends queued events in order. Callers hold order for writing.
func (d *Dispatcher) replay(ctx context.Context, queued []domain.Event) {
	if len(queued) == 0 {
		return
	}
	if c := d.consent.Get(ctx); !d.policy.Allows(c) {
		d.logger.Info("discarding queued events, tracking not allowed", zap.Int("dropped", len(queued)))
		return
	}
	active := d.activeProviders()
	for _, ev := range queued {
		d.fanOut(ctx, "track", active, func(ctx context.Context, p provider.Provider) error {
			return p.Track(ctx, ev)
		})
	}
}

func (d *Dispatcher) isInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

func (d *Dispatcher) activeProviders() []provider.Provider {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// fanOut calls fn on every provider concurrently and waits for all of
// them. Failures never reach the caller.
func (d *Dispatcher) fanOut(ctx context.Context, op string, providers []provider.Provider, fn func(context.Context, provider.Provider) error) {
	var wg sync.WaitGroup
	for _, p := range providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.invoke(ctx, op, p, fn)
		}()
	}
	wg.Wait()
}

// invoke runs one provider call, recovering panics, and reports success.
func (d *Dispatcher) invoke(ctx context.Context, op string, p provider.Provider, fn func(context.Context, provider.Provider) error) (ok bool) {
	ctx, span := d.tracer.Start(ctx, "analytics."+op,
		trace.WithAttributes(attribute.String("analytics.provider", p.Name())))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("provider panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Error("provider call panicked", zap.String("provider", p.Name()), zap.String("op", op), zap.Any("panic", r))
			ok = false
		}
	}()

	if err := fn(ctx, p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("provider call failed", zap.String("provider", p.Name()), zap.String("op", op), zap.Error(err))
		return false
	}
	return true
}
