package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
)

type KeySource string

const (
	KeyFromEventID   KeySource = "event_id"
	KeyFromComposite KeySource = "composite"
)

// EventIDProperty lets callers supply their own dedup key.
const EventIDProperty = "event_id"

// DeriveKey returns a stable idempotency key and the source used.
// - Prefer an explicit "event_id" string property when provided.
// - Fallback to composite (name, session_id, timestamp in nanoseconds).
// The composite is hex-encoded SHA-256 so keys have a fixed length.
func DeriveKey(ev domain.Event) (key string, src KeySource) {
	if id, ok := ev.Properties[EventIDProperty].(string); ok && id != "" {
		return id, KeyFromEventID
	}
	composite := fmt.Sprintf("%s|%s|%d", ev.Name, ev.SessionID, ev.Timestamp.UnixNano())
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:]), KeyFromComposite
}
