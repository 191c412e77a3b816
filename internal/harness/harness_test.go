// internal/harness/harness_test.go
package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stagehand/internal/config"
	"github.com/xkilldash9x/stagehand/internal/fixture"
)

func workerScope(t *testing.T, r *fixture.Registry) *fixture.Resolver {
	t.Helper()
	return fixture.NewProcessResolver(r, zaptest.NewLogger(t)).NewWorkerScope()
}

func TestRunWithRetryPassesOnLaterAttempt(t *testing.T) {
	c := NewController(config.HarnessConfig{MaxAttempts: 3}, zaptest.NewLogger(t))
	worker := workerScope(t, fixture.NewRegistry())

	var calls int32
	result := c.RunWithRetry(context.Background(), worker, "flaky", func(ctx context.Context, tt *T) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	assert.True(t, result.Passed)
	assert.True(t, result.Flaky())
	assert.NoError(t, result.Err)
	require.Len(t, result.Attempts, 3)
	assert.Equal(t, "not yet", result.Attempts[0].Error)
	assert.Empty(t, result.Attempts[2].Error)
}

func TestRunWithRetryStopsOnFirstPass(t *testing.T) {
	c := NewController(config.HarnessConfig{MaxAttempts: 5}, zaptest.NewLogger(t))
	worker := workerScope(t, fixture.NewRegistry())

	var calls int32
	result := c.RunWithRetry(context.Background(), worker, "steady", func(ctx context.Context, tt *T) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	assert.True(t, result.Passed)
	assert.False(t, result.Flaky())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRunWithRetrySurfacesLastFailure(t *testing.T) {
	c := NewController(config.HarnessConfig{MaxAttempts: 2}, zaptest.NewLogger(t))
	worker := workerScope(t, fixture.NewRegistry())

	result := c.RunWithRetry(context.Background(), worker, "broken", func(ctx context.Context, tt *T) error {
		return fmt.Errorf("attempt %d", tt.Attempt())
	})

	assert.False(t, result.Passed)
	require.Error(t, result.Err)
	assert.Equal(t, "attempt 2", result.Err.Error(), "the final attempt's failure wins")
	assert.Len(t, result.Attempts, 2)
}

func TestEachAttemptGetsFreshScopeAndCollector(t *testing.T) {
	registry := fixture.NewRegistry()
	var setups int32
	require.NoError(t, registry.Register("page", fixture.ScopeTest, nil,
		func(ctx context.Context, d fixture.Deps) (any, error) {
			return atomic.AddInt32(&setups, 1), nil
		}, nil))

	c := NewController(config.HarnessConfig{MaxAttempts: 2}, zaptest.NewLogger(t))
	worker := workerScope(t, registry)

	var values []any
	result := c.RunWithRetry(context.Background(), worker, "isolated", func(ctx context.Context, tt *T) error {
		require.Empty(t, tt.Soft.Failures(), "soft collector must start empty")
		v, err := tt.Fixture(ctx, "page")
		require.NoError(t, err)
		values = append(values, v)
		if tt.Attempt() == 1 {
			tt.Soft.Record(errors.New("first attempt only"))
		}
		return nil
	})

	assert.True(t, result.Passed)
	require.Len(t, values, 2)
	assert.NotEqual(t, values[0], values[1], "each attempt resolves its own fixture instance")
	assert.Equal(t, int32(2), atomic.LoadInt32(&setups))
}

func TestSoftFailuresFailTheAttempt(t *testing.T) {
	c := NewController(config.HarnessConfig{MaxAttempts: 1}, zaptest.NewLogger(t))
	worker := workerScope(t, fixture.NewRegistry())

	result := c.RunWithRetry(context.Background(), worker, "soft", func(ctx context.Context, tt *T) error {
		tt.Soft.Check("header", func() error { return errors.New("missing") })
		tt.Soft.Check("footer", func() error { return errors.New("also missing") })
		return nil
	})

	assert.False(t, result.Passed)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "header")
	assert.Contains(t, result.Err.Error(), "footer")
}

func TestPanicFailsTheAttemptNotTheRun(t *testing.T) {
	c := NewController(config.HarnessConfig{MaxAttempts: 2}, zaptest.NewLogger(t))
	worker := workerScope(t, fixture.NewRegistry())

	var calls int32
	result := c.RunWithRetry(context.Background(), worker, "panicky", func(ctx context.Context, tt *T) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
		return nil
	})

	assert.True(t, result.Passed)
	require.Len(t, result.Attempts, 2)
	assert.Contains(t, result.Attempts[0].Error, "test panicked: boom")
}

func TestTestScopeTornDownAfterEachAttempt(t *testing.T) {
	registry := fixture.NewRegistry()
	var teardowns int32
	require.NoError(t, registry.Register("page", fixture.ScopeTest, nil,
		func(ctx context.Context, d fixture.Deps) (any, error) { return "v", nil },
		func(ctx context.Context, value any) error {
			atomic.AddInt32(&teardowns, 1)
			return nil
		}))

	c := NewController(config.HarnessConfig{MaxAttempts: 2}, zaptest.NewLogger(t))
	worker := workerScope(t, registry)

	result := c.RunWithRetry(context.Background(), worker, "cleanup", func(ctx context.Context, tt *T) error {
		if _, err := tt.Fixture(ctx, "page"); err != nil {
			return err
		}
		if tt.Attempt() == 1 {
			return errors.New("retry me")
		}
		return nil
	})

	assert.True(t, result.Passed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&teardowns), "every attempt tears its scope down")
}

func TestSuiteRunAllAggregatesReport(t *testing.T) {
	registry := fixture.NewRegistry()
	suite := NewSuite(config.HarnessConfig{MaxAttempts: 2, WorkerConcurrency: 2}, registry, zaptest.NewLogger(t))

	var flakyCalls int32
	suite.Add("green", func(ctx context.Context, tt *T) error { return nil })
	suite.Add("flaky", func(ctx context.Context, tt *T) error {
		if atomic.AddInt32(&flakyCalls, 1) == 1 {
			return errors.New("first time fails")
		}
		return nil
	})
	suite.Add("red", func(ctx context.Context, tt *T) error { return errors.New("always fails") })

	report, err := suite.RunAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "always fails")

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Flaky)
	require.Len(t, report.Results, 3)
	assert.Equal(t, "green", report.Results[0].Name, "report order follows registration order")
	assert.Equal(t, "flaky", report.Results[1].Name)
	assert.Equal(t, "red", report.Results[2].Name)
}

func TestSuiteWorkerScopesPerLane(t *testing.T) {
	registry := fixture.NewRegistry()
	var setups, teardowns int32
	require.NoError(t, registry.Register("conn", fixture.ScopeWorker, nil,
		func(ctx context.Context, d fixture.Deps) (any, error) {
			return atomic.AddInt32(&setups, 1), nil
		},
		func(ctx context.Context, value any) error {
			atomic.AddInt32(&teardowns, 1)
			return nil
		}))

	suite := NewSuite(config.HarnessConfig{MaxAttempts: 1, WorkerConcurrency: 1}, registry, zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		suite.Add("unit", func(ctx context.Context, tt *T) error {
			_, err := tt.Fixture(ctx, "conn")
			return err
		})
	}

	report, err := suite.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Passed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&setups), "one lane shares one worker fixture")
	assert.Equal(t, int32(1), atomic.LoadInt32(&teardowns), "worker fixture torn down at lane end")
}

func TestReportSerialization(t *testing.T) {
	registry := fixture.NewRegistry()
	suite := NewSuite(config.HarnessConfig{MaxAttempts: 1, WorkerConcurrency: 1}, registry, zaptest.NewLogger(t))
	suite.Add("only", func(ctx context.Context, tt *T) error { return nil })

	report, err := suite.RunAll(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf))
	out := buf.String()
	assert.Contains(t, out, `"name": "only"`)
	assert.Contains(t, out, `"passed": true`)
	assert.Contains(t, out, `"total": 1`)
}
