package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marcus/taskmill/internal/ledger"
	"github.com/marcus/taskmill/internal/tasks"
)

// flakyOracle fails a configured number of calls before succeeding.
type flakyOracle struct {
	mu           sync.Mutex
	failuresLeft int
	failWith     error

	batch   []tasks.Task
	summary string

	generateCalls int
	executeCalls  int
}

func (f *flakyOracle) next() error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return f.failWith
	}
	return nil
}

func (f *flakyOracle) GenerateInitialTasks(_ context.Context, _ string) ([]tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	if err := f.next(); err != nil {
		return nil, err
	}
	return f.batch, nil
}

func (f *flakyOracle) GenerateAdditionalTasks(_ context.Context, _ string, _ []ledger.ExecutionRecord) ([]tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	if err := f.next(); err != nil {
		return nil, err
	}
	return f.batch, nil
}

func (f *flakyOracle) Execute(_ context.Context, _ tasks.Task, _ []ledger.ExecutionRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executeCalls++
	if err := f.next(); err != nil {
		return "", err
	}
	return f.summary, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     5 * time.Millisecond,
		MaxInterval:         20 * time.Millisecond,
		MaxElapsedTime:      2 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}

func TestResilient_GenerateRetriesTransientFailures(t *testing.T) {
	inner := &flakyOracle{
		failuresLeft: 2,
		failWith:     fmt.Errorf("transport glitch: %w", ErrUnavailable),
		batch:        []tasks.Task{tasks.New("survivor", 5, 2, 0)},
	}
	r := NewResilient(inner, fastRetry(), BreakerConfig{FailureThreshold: 10}, nil)

	batch, err := r.GenerateInitialTasks(context.Background(), "goal")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(batch) != 1 || batch[0].Description != "survivor" {
		t.Errorf("batch = %+v", batch)
	}
	if inner.generateCalls != 3 {
		t.Errorf("generateCalls = %d, want 3 (2 failures + 1 success)", inner.generateCalls)
	}
}

func TestResilient_ExecuteNotRetried(t *testing.T) {
	inner := &flakyOracle{
		failuresLeft: 1,
		failWith:     errors.New("task went sideways"),
		summary:      "never reached",
	}
	r := NewResilient(inner, fastRetry(), DefaultBreakerConfig(), nil)

	_, err := r.Execute(context.Background(), tasks.New("task", 5, 2, 1), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.executeCalls != 1 {
		t.Errorf("executeCalls = %d, want 1 (no retry)", inner.executeCalls)
	}
}

func TestResilient_BreakerOpensAfterConsecutiveUnavailability(t *testing.T) {
	inner := &flakyOracle{
		failuresLeft: 1000,
		failWith:     fmt.Errorf("down hard: %w", ErrUnavailable),
	}
	retry := fastRetry()
	retry.MaxElapsedTime = 500 * time.Millisecond
	r := NewResilient(inner, retry, BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute}, nil)

	_, err := r.GenerateInitialTasks(context.Background(), "goal")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	// The circuit tripped after two consecutive failures; the retry loop
	// stopped on the open circuit rather than burning the full budget.
	if inner.generateCalls != 2 {
		t.Errorf("generateCalls = %d, want 2 (circuit opens, no further attempts)", inner.generateCalls)
	}

	// With the circuit open, Execute fails fast without touching the inner
	// oracle.
	_, err = r.Execute(context.Background(), tasks.New("task", 5, 2, 1), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while open, got %v", err)
	}
	if inner.executeCalls != 0 {
		t.Errorf("executeCalls = %d, want 0 (circuit open)", inner.executeCalls)
	}
}

func TestResilient_ExecuteFailuresDoNotTripBreaker(t *testing.T) {
	inner := &flakyOracle{
		failuresLeft: 5,
		failWith:     errors.New("task failed"), // not ErrUnavailable
		batch:        []tasks.Task{tasks.New("still planning", 5, 2, 0)},
	}
	r := NewResilient(inner, fastRetry(), BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 5; i++ {
		if _, err := r.Execute(context.Background(), tasks.New("task", 5, 2, 1), nil); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	if inner.executeCalls != 5 {
		t.Fatalf("executeCalls = %d, want 5 (breaker must stay closed)", inner.executeCalls)
	}

	// Generation still goes through: domain failures never open the circuit.
	batch, err := r.GenerateAdditionalTasks(context.Background(), "goal", nil)
	if err != nil {
		t.Fatalf("expected generation to succeed, got %v", err)
	}
	if len(batch) != 1 {
		t.Errorf("len(batch) = %d, want 1", len(batch))
	}
}

func TestResilient_CancelledContextStopsRetry(t *testing.T) {
	inner := &flakyOracle{
		failuresLeft: 1000,
		failWith:     fmt.Errorf("still down: %w", ErrUnavailable),
	}
	retry := RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         200 * time.Millisecond,
		MaxElapsedTime:      10 * time.Second, // long; context should cut this short
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
	r := NewResilient(inner, retry, BreakerConfig{FailureThreshold: 1000}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.GenerateInitialTasks(ctx, "goal")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("deadline expiry did not surface an error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed > time.Second {
		t.Errorf("retry loop ran %v, expected context to stop it quickly", elapsed)
	}
}

func TestResilient_ZeroConfigsGetDefaults(t *testing.T) {
	inner := &flakyOracle{batch: []tasks.Task{tasks.New("ready", 5, 2, 0)}}
	r := NewResilient(inner, RetryConfig{}, BreakerConfig{}, nil)

	if r.retry.MaxElapsedTime != DefaultRetryConfig().MaxElapsedTime {
		t.Errorf("MaxElapsedTime = %v, want default %v", r.retry.MaxElapsedTime, DefaultRetryConfig().MaxElapsedTime)
	}

	batch, err := r.GenerateInitialTasks(context.Background(), "goal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 1 {
		t.Errorf("len(batch) = %d, want 1", len(batch))
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.InitialInterval != 500*time.Millisecond {
		t.Errorf("InitialInterval = %v", cfg.InitialInterval)
	}
	if cfg.MaxElapsedTime != 2*time.Minute {
		t.Errorf("MaxElapsedTime = %v", cfg.MaxElapsedTime)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v", cfg.Multiplier)
	}
}

func TestDefaultBreakerConfig(t *testing.T) {
	cfg := DefaultBreakerConfig()
	if cfg.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.FailureThreshold)
	}
	if cfg.OpenTimeout != 30*time.Second {
		t.Errorf("OpenTimeout = %v, want 30s", cfg.OpenTimeout)
	}
}
