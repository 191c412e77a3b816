// internal/clock/clock.go
package clock

import (
	"context"
	"time"
)

// Clock abstracts time for the retry engine so polling behavior can be
// tested deterministically. The system implementation delegates to the
// standard library; the manual implementation (manual.go) is test-only.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done. It returns the context's
	// cause when interrupted, nil otherwise. It must yield control rather
	// than spin.
	Sleep(ctx context.Context, d time.Duration) error

	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// System returns the wall-clock implementation.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor cancellation on a zero-length sleep.
		if err := context.Cause(ctx); err != nil {
			return err
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
