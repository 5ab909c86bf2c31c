package dispatcher

import "github.com/aicoder88/roigpt-sub000/internal/domain"

// Policy holds the trackability inputs supplied by configuration.
type Policy struct {
	// Production marks the production execution context.
	Production bool
	// DebugOverride enables tracking outside production.
	DebugOverride bool
	// RequireConsent gates tracking on an explicit grant.
	RequireConsent bool
}

// EnvironmentAllows reports whether the execution context permits tracking
// at all. It never changes for the life of the process.
func (p Policy) EnvironmentAllows() bool { return p.Production || p.DebugOverride }

// Allows reports whether a call may reach providers under consent c.
func (p Policy) Allows(c domain.Consent) bool {
	if !p.EnvironmentAllows() {
		return false
	}
	if p.RequireConsent && c != domain.ConsentGranted {
		return false
	}
	return true
}

// mayBecomeTrackable reports whether an event observed under c could be
// sent later, which decides between queueing and dropping it.
func (p Policy) mayBecomeTrackable(c domain.Consent) bool {
	if !p.EnvironmentAllows() {
		return false
	}
	return !(p.RequireConsent && c == domain.ConsentDeclined)
}
