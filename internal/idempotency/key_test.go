package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
)

func TestDeriveKey(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	ev := domain.Event{Name: "page_view", SessionID: "s1", Timestamp: ts}

	k1, src := DeriveKey(ev)
	assert.Equal(t, KeyFromComposite, src)
	assert.Len(t, k1, 64)

	k2, _ := DeriveKey(ev)
	assert.Equal(t, k1, k2, "same event must map to same key")

	ev.Timestamp = ts.Add(time.Nanosecond)
	k3, _ := DeriveKey(ev)
	assert.NotEqual(t, k1, k3)

	ev.Properties = map[string]any{EventIDProperty: "evt-42"}
	k4, src := DeriveKey(ev)
	assert.Equal(t, "evt-42", k4)
	assert.Equal(t, KeyFromEventID, src)
}
