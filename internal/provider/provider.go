// Package provider defines the capability set every analytics backend
// adapter implements.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
)

var (
	// ErrMissingCredentials is returned by Initialize when a required
	// credential is not configured.
	ErrMissingCredentials = errors.New("missing provider credentials")
	// ErrNotInitialized is returned by calls made before Initialize.
	ErrNotInitialized = errors.New("provider not initialized")
)

// Provider connects the dispatcher to one analytics vendor. Calls are best
// effort; errors are reported to the dispatcher, which logs and isolates
// them.
type Provider interface {
	Name() string
	Initialize(ctx context.Context) error
	Track(ctx context.Context, ev domain.Event) error
	// Identify associates later events with userID. Vendors without
	// identification support return nil.
	Identify(ctx context.Context, userID string, props map[string]any) error
	Page(ctx context.Context, name string, props map[string]any) error
	SetUserProperties(ctx context.Context, props map[string]any) error
	// Reset forgets any local identity or session association.
	Reset(ctx context.Context) error
}

// Closer is implemented by providers holding resources past Initialize.
type Closer interface {
	Close() error
}

// Kind enumerates the supported vendors.
type Kind string

const (
	KindGA4       Kind = "ga4"
	KindPlausible Kind = "plausible"
	KindWarehouse Kind = "warehouse"
	KindKafka     Kind = "kafka"
)

// MissingCredential wraps ErrMissingCredentials with the offending field.
func MissingCredential(kind Kind, field string) error {
	return fmt.Errorf("%s: %s: %w", kind, field, ErrMissingCredentials)
}
