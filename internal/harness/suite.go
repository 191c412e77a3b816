// internal/harness/suite.go
package harness

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/stagehand/internal/config"
	"github.com/xkilldash9x/stagehand/internal/fixture"
)

// unit is one registered test: a name plus its body.
type unit struct {
	name string
	fn   TestFunc
}

// Suite owns a set of test units and runs them across worker lanes. Each
// lane holds its own worker-scoped fixture resolver for the lane's
// lifetime; process-scoped fixtures are shared by every lane and torn down
// once, when the whole run ends.
type Suite struct {
	registry    *fixture.Registry
	controller  *Controller
	logger      *zap.Logger
	concurrency int

	units []unit
}

// NewSuite creates a suite backed by the given fixture registry.
func NewSuite(cfg config.HarnessConfig, registry *fixture.Registry, logger *zap.Logger) *Suite {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Suite{
		registry:    registry,
		controller:  NewController(cfg, logger),
		logger:      logger.Named("suite"),
		concurrency: concurrency,
	}
}

// Add registers a test unit. Units run in registration order when the
// suite is single-lane; with multiple lanes only the report order is
// guaranteed to match registration order.
func (s *Suite) Add(name string, fn TestFunc) {
	s.units = append(s.units, unit{name: name, fn: fn})
}

// RunAll executes every registered unit and returns the aggregated report.
// The error is non-nil when any unit ultimately failed, or when fixture
// teardown at worker or process scope failed; the report is returned
// either way.
func (s *Suite) RunAll(ctx context.Context) (*Report, error) {
	startedAt := time.Now()
	process := fixture.NewProcessResolver(s.registry, s.logger)

	results := make([]TestResult, len(s.units))
	queue := make(chan int)

	lanes := s.concurrency
	if lanes > len(s.units) && len(s.units) > 0 {
		lanes = len(s.units)
	}

	s.logger.Info("Starting run.",
		zap.Int("tests", len(s.units)), zap.Int("lanes", lanes))

	g, gctx := errgroup.WithContext(ctx)
	var teardownErrs []error

	for lane := 0; lane < lanes; lane++ {
		lane := lane
		g.Go(func() error {
			worker := process.NewWorkerScope()
			laneLog := s.logger.With(zap.Int("lane", lane))

			for idx := range queue {
				u := s.units[idx]
				laneLog.Debug("Running test.", zap.String("test", u.name))
				results[idx] = s.controller.RunWithRetry(gctx, worker, u.name, u.fn)
			}

			// A cancelled run still tears the lane's fixtures down;
			// teardown uses its own context.
			return worker.Teardown(context.WithoutCancel(gctx))
		})
	}

	feed := func() {
		defer close(queue)
		for idx := range s.units {
			select {
			case queue <- idx:
			case <-gctx.Done():
				return
			}
		}
	}
	if lanes > 0 {
		go feed()
	}

	if err := g.Wait(); err != nil {
		teardownErrs = append(teardownErrs, err)
	}
	if err := process.Teardown(context.WithoutCancel(ctx)); err != nil {
		teardownErrs = append(teardownErrs, err)
	}

	report := buildReport(startedAt, results)

	var errs []error
	errs = append(errs, teardownErrs...)
	for _, r := range results {
		if !r.Passed && r.Err != nil {
			errs = append(errs, r.Err)
		}
	}

	s.logger.Info("Run finished.",
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
		zap.Int("flaky", report.Flaky),
		zap.Duration("duration", report.Duration))

	return report, errors.Join(errs...)
}
