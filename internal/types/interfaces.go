package types

import (
	"context"
	"time"
)

// Clock abstracts time.Now for deterministic testing of time-dependent logic.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by the system time, in UTC.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Notifier delivers escalation and rescheduling notices. Implementations are
// external collaborators (queue publisher, HTTP notification service); callers
// must treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest) error
}

// Validator is implemented by entities and requests that self-validate.
type Validator interface {
	Validate() error
}
