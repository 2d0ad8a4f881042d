// Package timesource isolates wall-clock and monotonic time reads so that
// cooldowns, quarantine windows, and OOM history can be driven deterministically
// in tests instead of through real sleeps.
package timesource

import "time"

// Source is the clock every cooldown/quarantine computation reads through.
// Decision code does not call time.Now directly; the adapters that stamp
// events or bound external queries still read the system clock.
type Source interface {
	// Now returns the current time in the source's fixed location.
	Now() time.Time

	// Since returns the duration elapsed since t, as measured by this source.
	Since(t time.Time) time.Duration
}

// Real is a Source backed by the system clock, fixed to a timezone.
// The configured default zone is Asia/Kolkata, matching the original
// deployment's IST convention.
type Real struct {
	loc *time.Location
}

// New creates a Real time source fixed to the named IANA timezone.
// Falls back to UTC if the zone cannot be loaded.
func New(zone string) *Real {
	loc, err := time.LoadLocation(zone)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return &Real{loc: loc}
}

// Now returns the current time in the source's fixed location.
func (r *Real) Now() time.Time {
	return time.Now().In(r.loc)
}

// Since returns the duration elapsed since t.
func (r *Real) Since(t time.Time) time.Duration {
	return r.Now().Sub(t)
}

// Fixed is a Source whose Now() is controlled by tests via Advance/Set.
type Fixed struct {
	now time.Time
}

// NewFixed creates a Fixed time source starting at now.
func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now}
}

// Now returns the fixed source's current time.
func (f *Fixed) Now() time.Time {
	return f.now
}

// Since returns the duration elapsed since t, measured against the fixed now.
func (f *Fixed) Since(t time.Time) time.Duration {
	return f.now.Sub(t)
}

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// Set pins the fixed clock to t.
func (f *Fixed) Set(t time.Time) {
	f.now = t
}

var _ Source = (*Real)(nil)
var _ Source = (*Fixed)(nil)
