// Package providertest provides a recording provider.Provider for tests.
package providertest

import (
	"context"
	"maps"
	"sync"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
)

// IdentifyCall records one Identify invocation.
type IdentifyCall struct {
	UserID string
	Props  map[string]any
}

// PageCall records one Page invocation.
type PageCall struct {
	Name  string
	Props map[string]any
}

// Fake records every call. Identification is recorded only when
// SupportsIdentify is set, mirroring privacy-first vendors otherwise.
type Fake struct {
	name             string
	SupportsIdentify bool
	InitErr          error
	TrackErr         error
	PanicOnTrack     bool
	// TrackHook, when set, runs at the start of every Track.
	TrackHook func(ev domain.Event)

	mu         sync.Mutex
	inits      int
	events     []domain.Event
	identifies []IdentifyCall
	pages      []PageCall
	userProps  []map[string]any
	resets     int
	closed     bool
}

func New(name string) *Fake { return &Fake{name: name} }

func (f *Fake) Name() string { return f.name }

func (f *Fake) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.InitErr
}

func (f *Fake) Track(_ context.Context, ev domain.Event) error {
	if f.TrackHook != nil {
		f.TrackHook(ev)
	}
	if f.PanicOnTrack {
		panic("fake provider exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TrackErr != nil {
		return f.TrackErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *Fake) Identify(_ context.Context, userID string, props map[string]any) error {
	if !f.SupportsIdentify {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identifies = append(f.identifies, IdentifyCall{UserID: userID, Props: maps.Clone(props)})
	return nil
}

func (f *Fake) Page(_ context.Context, name string, props map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, PageCall{Name: name, Props: maps.Clone(props)})
	return nil
}

func (f *Fake) SetUserProperties(_ context.Context, props map[string]any) error {
	if !f.SupportsIdentify {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userProps = append(f.userProps, maps.Clone(props))
	return nil
}

func (f *Fake) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) Inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits
}

func (f *Fake) Events() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.events...)
}

// EventNames returns the names of received events in arrival order.
func (f *Fake) EventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Name
	}
	return out
}

func (f *Fake) Identifies() []IdentifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]IdentifyCall(nil), f.identifies...)
}

func (f *Fake) Pages() []PageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PageCall(nil), f.pages...)
}

func (f *Fake) UserProps() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.userProps...)
}

func (f *Fake) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
