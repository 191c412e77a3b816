// api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors forming the failure taxonomy of the orchestration core.
// Callers match against these with errors.Is; the typed errors below carry
// the structured detail.
var (
	// ErrTimeoutExceeded is returned when a retryable operation or a
	// suspended dialog/popup wait runs out its deadline.
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrSessionDisconnected is returned when the underlying browser
	// process, session, or document is gone. In-flight operations on the
	// affected subtree terminate with this error immediately instead of
	// waiting out their own deadlines.
	ErrSessionDisconnected = errors.New("session disconnected")

	// ErrAlreadyResolved is returned on a second resolution attempt for
	// the same pending dialog.
	ErrAlreadyResolved = errors.New("dialog already resolved")

	// ErrFixtureSetupFailed is returned when a fixture setup function
	// fails; successfully set up fixtures of the same resolution chain
	// are torn down before this propagates.
	ErrFixtureSetupFailed = errors.New("fixture setup failed")

	// ErrDependencyCycle indicates a fixture dependency cycle. This is a
	// configuration error detected before any setup function runs.
	ErrDependencyCycle = errors.New("fixture dependency cycle")
)

// TimeoutError reports an expired deadline together with the last concrete
// failure reason observed before it expired. The reason is the primary
// debugging signal: it distinguishes "never found" from "found but never
// became stable" from "found but disabled".
type TimeoutError struct {
	Timeout    time.Duration
	LastReason string
}

func (e *TimeoutError) Error() string {
	if e.LastReason == "" {
		return fmt.Sprintf("timeout %s exceeded", e.Timeout)
	}
	return fmt.Sprintf("timeout %s exceeded: %s", e.Timeout, e.LastReason)
}

// Is makes errors.Is(err, ErrTimeoutExceeded) work for wrapped TimeoutErrors.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeoutExceeded }

// NewTimeoutError builds a TimeoutError preserving the last observed reason.
func NewTimeoutError(timeout time.Duration, lastReason string) *TimeoutError {
	return &TimeoutError{Timeout: timeout, LastReason: lastReason}
}

// FixtureError wraps the failure of a named fixture's setup function.
type FixtureError struct {
	Fixture string
	Err     error
}

func (e *FixtureError) Error() string {
	return fmt.Sprintf("setup of fixture %q failed: %v", e.Fixture, e.Err)
}

func (e *FixtureError) Unwrap() error { return e.Err }

func (e *FixtureError) Is(target error) bool { return target == ErrFixtureSetupFailed }

// CycleError reports a fixture dependency cycle with the full path, e.g.
// "a -> b -> c -> a".
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "fixture dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrDependencyCycle }
