// Package schedule fires taskmill runs on a cron expression or fixed
// interval, optionally gated to a daily time window. It drives daemon
// mode; one-shot runs never touch it.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/taskmill/internal/config"
	"github.com/marcus/taskmill/internal/logging"
)

var (
	// ErrNoSchedule indicates neither a cron expression nor an interval is set.
	ErrNoSchedule = errors.New("no schedule configured")
	// ErrAlreadyRunning indicates Start was called on a running scheduler.
	ErrAlreadyRunning = errors.New("scheduler already running")
	// ErrNotRunning indicates Stop was called on a stopped scheduler.
	ErrNotRunning = errors.New("scheduler not running")
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler triggers registered jobs on a cron or interval schedule.
type Scheduler struct {
	mu       sync.Mutex
	cronExpr string
	schedule cron.Schedule
	interval time.Duration
	window   *Window
	jobs     []Job
	running  bool
	stopCh   chan struct{}
	nextRun  time.Time
	logger   *logging.Logger
}

// New creates an unconfigured scheduler.
func New() *Scheduler {
	return &Scheduler{logger: logging.Component("schedule")}
}

// NewFromConfig builds a scheduler from configuration. Cron takes
// precedence when both trigger kinds are present, though config
// validation rejects that combination upstream.
func NewFromConfig(cfg *config.ScheduleConfig) (*Scheduler, error) {
	if cfg == nil {
		return nil, ErrNoSchedule
	}

	s := New()

	switch {
	case cfg.Cron != "":
		if err := s.SetCron(cfg.Cron); err != nil {
			return nil, err
		}
	case cfg.Interval != "":
		d, err := time.ParseDuration(cfg.Interval)
		if err != nil {
			return nil, fmt.Errorf("parse schedule interval %q: %w", cfg.Interval, err)
		}
		if err := s.SetInterval(d); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoSchedule
	}

	if cfg.Window != nil {
		if err := s.SetWindow(cfg.Window); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SetCron configures a cron trigger, replacing any interval trigger.
func (s *Scheduler) SetCron(expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronExpr = expr
	s.schedule = sched
	s.interval = 0
	return nil
}

// SetInterval configures a fixed-interval trigger, replacing any cron trigger.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %v", d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.cronExpr = ""
	s.schedule = nil
	return nil
}

// SetWindow configures the daily run window. A nil config clears it.
func (s *Scheduler) SetWindow(cfg *config.WindowConfig) error {
	w, err := NewWindow(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = w
	return nil
}

// AddJob registers a job to run on each trigger.
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// ScheduleCron registers a plain callback on a cron trigger.
// Retained for callers predating AddJob.
func (s *Scheduler) ScheduleCron(expr string, fn func()) error {
	if err := s.SetCron(expr); err != nil {
		return err
	}
	s.AddJob(func(context.Context) error {
		fn()
		return nil
	})
	return nil
}

// ScheduleInterval registers a plain callback on an interval trigger.
// Retained for callers predating AddJob.
func (s *Scheduler) ScheduleInterval(d time.Duration, fn func()) error {
	if err := s.SetInterval(d); err != nil {
		return err
	}
	s.AddJob(func(context.Context) error {
		fn()
		return nil
	})
	return nil
}

// Start launches the trigger loop. It returns immediately; jobs run on
// the scheduler's own goroutine until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.schedule == nil && s.interval <= 0 {
		s.mu.Unlock()
		return ErrNoSchedule
	}

	s.running = true
	s.stopCh = make(chan struct{})
	now := time.Now()
	if s.schedule != nil {
		s.nextRun = s.schedule.Next(now)
	} else {
		s.nextRun = now.Add(s.interval)
	}
	stop := s.stopCh
	s.mu.Unlock()

	go s.loop(ctx, stop)
	return nil
}

// Stop halts the trigger loop. Jobs already in flight finish on their own.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}

	close(s.stopCh)
	s.running = false
	return nil
}

// IsRunning reports whether the trigger loop has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next trigger time, zero before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// NextRuns previews the next n trigger times without starting the
// scheduler. Window gating is not applied; these are raw trigger
// instants.
func (s *Scheduler) NextRuns(n int) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == nil && s.interval <= 0 {
		return nil, ErrNoSchedule
	}
	if n <= 0 {
		return nil, nil
	}

	runs := make([]time.Time, 0, n)
	t := time.Now()
	for i := 0; i < n; i++ {
		if s.schedule != nil {
			t = s.schedule.Next(t)
		} else {
			t = t.Add(s.interval)
		}
		runs = append(runs, t)
	}
	return runs, nil
}

// IsInWindow reports whether the instant falls inside the configured
// window. No window means every instant qualifies.
func (s *Scheduler) IsInWindow(t time.Time) bool {
	s.mu.Lock()
	w := s.window
	s.mu.Unlock()

	if w == nil {
		return true
	}
	return w.Contains(t)
}

func (s *Scheduler) loop(ctx context.Context, stop chan struct{}) {
	for {
		s.mu.Lock()
		next := s.nextRun
		s.mu.Unlock()

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if s.IsInWindow(time.Now()) {
			s.runJobs(ctx)
		}

		s.mu.Lock()
		if s.schedule != nil {
			s.nextRun = s.schedule.Next(time.Now())
		} else {
			s.nextRun = time.Now().Add(s.interval)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) runJobs(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		if err := job(ctx); err != nil {
			s.logger.ErrorCtx("scheduled job failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
