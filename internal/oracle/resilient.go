// resilient.go wraps an Oracle with retry and circuit-breaking.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/marcus/taskmill/internal/ledger"
	"github.com/marcus/taskmill/internal/logging"
	"github.com/marcus/taskmill/internal/tasks"
)

// RetryConfig shapes the exponential backoff applied to generation calls.
type RetryConfig struct {
	InitialInterval     time.Duration // first delay between attempts
	MaxInterval         time.Duration // cap on a single delay
	MaxElapsedTime      time.Duration // total budget across all attempts
	Multiplier          float64       // delay growth per failure
	RandomizationFactor float64       // jitter applied to each delay
}

// DefaultRetryConfig returns retry timing suited to a local CLI oracle:
// a quick first retry, giving up after two minutes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         15 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// withDefaults fills zero fields so a partially specified config never
// produces an unbounded retry loop.
func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = d.MaxElapsedTime
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.RandomizationFactor < 0 {
		c.RandomizationFactor = d.RandomizationFactor
	}
	return c
}

// BreakerConfig configures the circuit breaker shared by all calls.
type BreakerConfig struct {
	FailureThreshold uint32        // Consecutive unavailability errors before the circuit opens (default 3)
	OpenTimeout      time.Duration // How long the circuit stays open before probing (default 30s)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	return c
}

// Resilient decorates an Oracle with exponential-backoff retry on generation
// calls and a circuit breaker across all calls. Execute gets a single
// attempt: a failed execution is a recorded outcome, and retries of a task
// are new tasks, not hidden repeats. Only ErrUnavailable counts toward the
// breaker, so failed executions and caller cancellation never trip it.
type Resilient struct {
	inner   Oracle
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	log     *logging.Logger
}

// NewResilient wraps inner with the given retry and breaker behavior.
// A nil logger disables logging.
func NewResilient(inner Oracle, retry RetryConfig, breaker BreakerConfig, log *logging.Logger) *Resilient {
	if log == nil {
		log = logging.Disabled()
	}
	breaker = breaker.withDefaults()

	r := &Resilient{
		inner: inner,
		retry: retry.withDefaults(),
		log:   log,
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: 1, // single probe in half-open state
		Timeout:     breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WarnCtx("oracle circuit state changed", map[string]any{
				"from": from.String(),
				"to":   to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
	})
	return r
}

// GenerateInitialTasks retries transient failures before giving up.
func (r *Resilient) GenerateInitialTasks(ctx context.Context, goal string) ([]tasks.Task, error) {
	return r.generate(ctx, func() ([]tasks.Task, error) {
		return r.inner.GenerateInitialTasks(ctx, goal)
	})
}

// GenerateAdditionalTasks retries transient failures before giving up.
func (r *Resilient) GenerateAdditionalTasks(ctx context.Context, goal string, records []ledger.ExecutionRecord) ([]tasks.Task, error) {
	return r.generate(ctx, func() ([]tasks.Task, error) {
		return r.inner.GenerateAdditionalTasks(ctx, goal, records)
	})
}

// Execute passes through the breaker with a single attempt.
func (r *Resilient) Execute(ctx context.Context, task tasks.Task, records []ledger.ExecutionRecord) (string, error) {
	out, err := r.breaker.Execute(func() (any, error) {
		return r.inner.Execute(ctx, task, records)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("circuit open: %w", ErrUnavailable)
		}
		return "", err
	}
	return out.(string), nil
}

// generate runs one generation call through the breaker with backoff retry.
func (r *Resilient) generate(ctx context.Context, call func() ([]tasks.Task, error)) ([]tasks.Task, error) {
	var batch []tasks.Task

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		out, err := r.breaker.Execute(func() (any, error) {
			return call()
		})
		if err != nil {
			// An open circuit and caller cancellation are terminal; only
			// transient failures earn another attempt.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("circuit open: %w", ErrUnavailable))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			r.log.WarnCtx("generation attempt failed", map[string]any{"error": err.Error()})
			return err
		}

		batch = out.([]tasks.Task)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return batch, nil
}
