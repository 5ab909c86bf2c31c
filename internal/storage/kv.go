// Package storage defines the key-value contract behind persisted
// analytics state (consent decision, session token).
package storage

import "context"

// KV is a small string key-value store. Get reports ok=false when the key
// is absent; an error means the backend itself failed.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ready(ctx context.Context) error
}
