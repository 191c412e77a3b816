// internal/retry/soft.go
package retry

import (
	"errors"
	"fmt"
	"sync"
)

// SoftCollector accumulates assertion failures without aborting the
// enclosing unit. All recorded failures are raised together at the end via
// Err. It is safe for concurrent use.
type SoftCollector struct {
	mu       sync.Mutex
	failures []error
}

// NewSoftCollector creates an empty collector.
func NewSoftCollector() *SoftCollector {
	return &SoftCollector{}
}

// Check runs fn and records its error, if any, under the given label.
// The calling sequence continues regardless of the outcome.
func (c *SoftCollector) Check(label string, fn func() error) {
	if err := fn(); err != nil {
		c.record(fmt.Errorf("%s: %w", label, err))
	}
}

// Record adds a failure directly.
func (c *SoftCollector) Record(err error) {
	if err != nil {
		c.record(err)
	}
}

func (c *SoftCollector) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, err)
}

// Failures returns a copy of the recorded failures in occurrence order.
func (c *SoftCollector) Failures() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.failures))
	copy(out, c.failures)
	return out
}

// Err joins all recorded failures, or returns nil when every check passed.
func (c *SoftCollector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) == 0 {
		return nil
	}
	return errors.Join(c.failures...)
}

// Reset clears the collector for reuse by the next attempt.
func (c *SoftCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = nil
}
