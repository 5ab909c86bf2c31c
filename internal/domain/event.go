package domain

import (
	"maps"
	"time"
)

// Event is the canonical analytics event handed to every provider.
// Timestamp and SessionID are attached by the dispatcher; values set by
// callers are overwritten.
type Event struct {
	Name       string         `json:"name"`
	Category   string         `json:"category,omitempty"`
	Action     string         `json:"action,omitempty"`
	Label      string         `json:"label,omitempty"`
	Value      *float64       `json:"value,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionID  string         `json:"session_id"`
}

// Clone returns a copy whose Properties map is not shared with ev.
func (ev Event) Clone() Event {
	out := ev
	if ev.Properties != nil {
		out.Properties = maps.Clone(ev.Properties)
	}
	if ev.Value != nil {
		v := *ev.Value
		out.Value = &v
	}
	return out
}

// Float is a helper for optional numeric values.
func Float(v float64) *float64 { return &v }

// Validation constraints
const (
	MaxEventNameLen   = 128
	MaxCategoryLen    = 64
	MaxActionLen      = 64
	MaxLabelLen       = 256
	MaxUserIDLen      = 128
	MaxPropertyCount  = 50
	MaxPropertyKeyLen = 64
)
