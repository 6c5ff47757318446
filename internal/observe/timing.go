package observe

// Output is observed, never interpreted beyond what the operator needs.
// Memory stays bounded no matter how long the worker talks.

import "time"

// Timing records start/end timestamps only
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
	now         func() time.Time
}

// NewTiming creates timing with current start time
func NewTiming() *Timing {
	return NewTimingWithClock(time.Now)
}

// NewTimingWithClock creates timing driven by the given clock
func NewTimingWithClock(now func() time.Time) *Timing {
	if now == nil {
		now = time.Now
	}
	return &Timing{
		StartedAt: now(),
		now:       now,
	}
}

// Restart discards any completion and starts over from now
func (t *Timing) Restart() {
	t.StartedAt = t.now()
	t.CompletedAt = time.Time{}
}

// Complete records completion time
func (t *Timing) Complete() {
	t.CompletedAt = t.now()
}

// Duration returns elapsed time, live until Complete is called
func (t *Timing) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return t.now().Sub(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
