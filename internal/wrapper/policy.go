package wrapper

import (
	"fmt"
	"time"
)

// RetryPolicy decides whether a license failure earns another attempt.
// MaxRetries of 0 never retries; a negative value retries without bound.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

// Allows reports whether another attempt may follow the given attempt
// number (1-based) after a license failure.
func (p RetryPolicy) Allows(attempt int) bool {
	if p.MaxRetries < 0 {
		return true
	}
	return attempt <= p.MaxRetries
}

// Unlimited reports whether the budget is unbounded
func (p RetryPolicy) Unlimited() bool {
	return p.MaxRetries < 0
}

func (p RetryPolicy) String() string {
	if p.Unlimited() {
		return fmt.Sprintf("unlimited retries every %s", p.Interval)
	}
	return fmt.Sprintf("%d retries every %s", p.MaxRetries, p.Interval)
}
