// internal/harness/controller.go
package harness

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stagehand/internal/config"
	"github.com/xkilldash9x/stagehand/internal/fixture"
	"github.com/xkilldash9x/stagehand/internal/retry"
)

// TestFunc is the body of a single test unit. It receives a T carrying the
// attempt's fixtures and soft-assertion collector. Returning a non-nil
// error fails the attempt; a panic is recovered and fails it too.
type TestFunc func(ctx context.Context, t *T) error

// T is the per-attempt test handle. Every attempt gets a fresh one: a new
// test-scoped fixture resolver and an empty soft collector, so no state
// leaks between retries.
type T struct {
	Fixtures *fixture.Resolver
	Soft     *retry.SoftCollector
	Logger   *zap.Logger

	attempt int
}

// Attempt returns the 1-based attempt number this T belongs to.
func (t *T) Attempt() int { return t.attempt }

// Fixture resolves a named fixture for this attempt.
func (t *T) Fixture(ctx context.Context, name string) (any, error) {
	return t.Fixtures.Resolve(ctx, name)
}

// Controller runs test units with automatic retries. A unit passes when an
// attempt returns without hard failure and with zero soft failures; a unit
// that exhausts its attempts fails with the last attempt's error.
type Controller struct {
	logger      *zap.Logger
	maxAttempts int
}

// NewController creates a controller from the harness configuration.
func NewController(cfg config.HarnessConfig, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Controller{
		logger:      logger.Named("harness"),
		maxAttempts: maxAttempts,
	}
}

// RunWithRetry executes fn up to the configured number of attempts inside
// the given worker scope. Each attempt runs in a fresh test scope; that
// scope is torn down after the attempt whether it passed or failed, so a
// retried attempt never sees the previous attempt's fixtures. The returned
// result records every attempt; its Err field carries the final attempt's
// failure when the unit never passed.
func (c *Controller) RunWithRetry(ctx context.Context, worker *fixture.Resolver, name string, fn TestFunc) TestResult {
	result := TestResult{Name: name}
	start := time.Now()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := context.Cause(ctx); err != nil {
			result.Err = err
			break
		}

		rec := c.runAttempt(ctx, worker, name, attempt, fn)
		result.Attempts = append(result.Attempts, rec)

		if rec.Error == "" {
			result.Passed = true
			result.Err = nil
			break
		}
		result.Err = rec.err

		if attempt < c.maxAttempts {
			c.logger.Warn("Test attempt failed, retrying.",
				zap.String("test", name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.maxAttempts),
				zap.Error(rec.err))
		}
	}

	result.Duration = time.Since(start)
	if result.Passed {
		c.logger.Info("Test passed.",
			zap.String("test", name),
			zap.Int("attempts", len(result.Attempts)),
			zap.Duration("duration", result.Duration))
	} else {
		c.logger.Error("Test failed.",
			zap.String("test", name),
			zap.Int("attempts", len(result.Attempts)),
			zap.Duration("duration", result.Duration),
			zap.Error(result.Err))
	}
	return result
}

func (c *Controller) runAttempt(ctx context.Context, worker *fixture.Resolver, name string, attempt int, fn TestFunc) AttemptRecord {
	rec := AttemptRecord{Attempt: attempt}
	start := time.Now()

	testScope := worker.NewTestScope()
	t := &T{
		Fixtures: testScope,
		Soft:     retry.NewSoftCollector(),
		Logger:   c.logger.With(zap.String("test", name), zap.Int("attempt", attempt)),
		attempt:  attempt,
	}

	err := c.invoke(ctx, t, fn)

	// Soft failures only surface if the body itself did not hard-fail
	// first; a hard failure already carries the attempt's verdict.
	if err == nil {
		err = t.Soft.Err()
	}

	// Test-scoped fixtures always come down, pass or fail. A teardown
	// failure fails an otherwise green attempt.
	if terr := testScope.Teardown(ctx); terr != nil {
		if err == nil {
			err = terr
		} else {
			c.logger.Warn("Test scope teardown failed.",
				zap.String("test", name), zap.Int("attempt", attempt), zap.Error(terr))
		}
	}

	rec.Duration = time.Since(start)
	if err != nil {
		rec.err = err
		rec.Error = err.Error()
	}
	return rec
}

// invoke runs the test body with panic recovery, so one panicking unit
// cannot take down the whole run.
func (c *Controller) invoke(ctx context.Context, t *T, fn TestFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, t)
}
