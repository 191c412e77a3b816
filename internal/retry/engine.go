// internal/retry/engine.go
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/stagehand/api/schemas"
	"github.com/xkilldash9x/stagehand/internal/clock"
	"github.com/xkilldash9x/stagehand/internal/config"
)

// Probe reads the current state of a target. It is invoked once per poll.
// A returned error is treated as a retryable failure (its message becomes
// the last-known reason) unless it is a session disconnection, which aborts
// the whole operation.
type Probe func(ctx context.Context) (schemas.ProbeResult, error)

// Predicate evaluates one probe observation. When it returns false, the
// second return value is the concrete reason, which the engine preserves
// as the last-known failure on timeout.
type Predicate func(schemas.ProbeResult) (bool, string)

// Options bound a single retryable operation. Zero fields fall back to the
// engine defaults.
type Options struct {
	Timeout         time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// Engine runs retryable operations: poll immediately, then wait with an
// exponentially capped backoff, until the predicate holds or the deadline
// elapses. Many polling loops may run concurrently against one engine; an
// optional rate limiter keeps them from stampeding a single browser process.
type Engine struct {
	clock    clock.Clock
	logger   *zap.Logger
	limiter  *rate.Limiter
	defaults Options
}

// backoffFactor grows the poll interval by half after each failed poll,
// up to MaxPollInterval.
const backoffFactor = 1.5

// NewEngine creates an engine with defaults taken from configuration.
func NewEngine(cfg config.RetryConfig, clk clock.Clock, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.ProbeRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRateLimit), 1)
	}
	return &Engine{
		clock:   clk,
		logger:  logger.Named("retry"),
		limiter: limiter,
		defaults: Options{
			Timeout:         cfg.DefaultTimeout,
			PollInterval:    cfg.PollInterval,
			MaxPollInterval: cfg.MaxPollInterval,
		},
	}
}

// Poll runs one retryable operation to completion. It returns the probe
// result that satisfied the predicate, a TimeoutError carrying the last
// observed failure reason when the deadline elapses, or the cancellation
// cause when ctx is canceled (session close cancels with
// ErrSessionDisconnected).
//
// Polls for one operation are strictly sequential; success stops polling
// immediately.
func (e *Engine) Poll(ctx context.Context, probe Probe, pred Predicate, opts Options) (schemas.ProbeResult, error) {
	opts = e.fill(opts)

	start := e.clock.Now()
	deadline := start.Add(opts.Timeout)
	interval := opts.PollInterval
	lastReason := "target never probed"

	for {
		if err := context.Cause(ctx); err != nil {
			return schemas.ProbeResult{}, err
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return schemas.ProbeResult{}, context.Cause(ctx)
			}
		}

		result, err := probe(ctx)
		switch {
		case err == nil:
			ok, reason := pred(result)
			if ok {
				return result, nil
			}
			lastReason = reason
		case errors.Is(err, schemas.ErrSessionDisconnected):
			return schemas.ProbeResult{}, err
		case context.Cause(ctx) != nil:
			return schemas.ProbeResult{}, context.Cause(ctx)
		default:
			// Transient probe failure; keep its message as the reason.
			lastReason = err.Error()
		}

		now := e.clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			e.logger.Debug("Retryable operation timed out.",
				zap.Duration("timeout", opts.Timeout),
				zap.String("last_reason", lastReason))
			return schemas.ProbeResult{}, schemas.NewTimeoutError(opts.Timeout, lastReason)
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}
		if err := e.clock.Sleep(ctx, wait); err != nil {
			return schemas.ProbeResult{}, err
		}

		interval = time.Duration(float64(interval) * backoffFactor)
		if interval > opts.MaxPollInterval {
			interval = opts.MaxPollInterval
		}
	}
}

// fill applies engine defaults to unset option fields. A caller-supplied
// poll interval is the operation's cadence ceiling: the backoff only grows
// past it when the caller also raises MaxPollInterval explicitly.
func (e *Engine) fill(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = e.defaults.Timeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = e.defaults.PollInterval
		if opts.MaxPollInterval <= 0 {
			opts.MaxPollInterval = e.defaults.MaxPollInterval
		}
	} else if opts.MaxPollInterval <= 0 {
		opts.MaxPollInterval = opts.PollInterval
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval
	}
	return opts
}

// Defaults exposes the engine's effective default options.
func (e *Engine) Defaults() Options { return e.defaults }
