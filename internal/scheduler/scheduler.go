// Package scheduler drives the goal loop: decompose a goal into prioritized
// tasks, execute them one at a time through the reasoning oracle, and fold
// newly discovered tasks back into the queue until it drains or the
// iteration budget runs out. Every run ends with a report; the one fatal
// path is a failed initial decomposition, which yields an error instead.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/taskmill/internal/ledger"
	"github.com/marcus/taskmill/internal/logging"
	"github.com/marcus/taskmill/internal/oracle"
	"github.com/marcus/taskmill/internal/reporting"
	"github.com/marcus/taskmill/internal/tasks"
)

// Loop bound defaults.
const (
	DefaultMaxIterations          = 20
	DefaultGenerationCutoffWindow = 5
)

// ErrPlanningFailed marks a run that never started: the oracle could not
// produce the initial task batch, so nothing was executed and no report
// exists. The underlying oracle error is wrapped alongside it.
var ErrPlanningFailed = errors.New("goal planning failed")

// Config bounds a single run.
type Config struct {
	MaxIterations          int // dequeue-execute cycles allowed (default 20)
	GenerationCutoffWindow int // final iterations reserved for execution only (default 5)
}

// DefaultConfig returns the default run bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:          DefaultMaxIterations,
		GenerationCutoffWindow: DefaultGenerationCutoffWindow,
	}
}

// GenerationCutoff returns the last iteration at which replanning may still
// run. New tasks are only generated while iteration <= cutoff; the final
// window iterations are reserved for pure execution so a goal that keeps
// spawning work cannot run forever.
func (c Config) GenerationCutoff() int {
	return c.MaxIterations - c.GenerationCutoffWindow
}

// normalize replaces invalid bounds with defaults. A zero window is legal
// and keeps replanning open through the final iteration; a window larger
// than MaxIterations collapses to MaxIterations, which disables replanning
// entirely.
func (c Config) normalize() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.GenerationCutoffWindow < 0 {
		c.GenerationCutoffWindow = DefaultGenerationCutoffWindow
	}
	if c.GenerationCutoffWindow > c.MaxIterations {
		c.GenerationCutoffWindow = c.MaxIterations
	}
	return c
}

// Scheduler runs goals. It is strictly sequential: each execution and each
// replanning call sees the full ledger of everything before it, so queued
// tasks are never executed in parallel. A Scheduler carries no state across
// Run calls, but must not be shared by concurrent Runs.
type Scheduler struct {
	oracle       oracle.Oracle
	config       Config
	logger       *logging.Logger
	eventHandler EventHandler // optional callback for real-time events
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithOracle sets the reasoning oracle that generates and executes tasks.
func WithOracle(o oracle.Oracle) Option {
	return func(s *Scheduler) {
		s.oracle = o
	}
}

// WithConfig sets the run bounds. Invalid values are normalized to defaults.
func WithConfig(c Config) Option {
	return func(s *Scheduler) {
		s.config = c
	}
}

// WithLogger sets the logger. A nil logger is replaced with a disabled one.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithEventHandler sets an optional callback for real-time scheduler events.
func WithEventHandler(h EventHandler) Option {
	return func(s *Scheduler) {
		s.eventHandler = h
	}
}

// New creates a scheduler with the given options.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		config: DefaultConfig(),
		logger: logging.Component("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Disabled()
	}
	s.config = s.config.normalize()
	return s
}

// Config returns the normalized run bounds.
func (s *Scheduler) Config() Config {
	return s.config
}

// emit stamps the event time and hands it to the handler when one is set.
func (s *Scheduler) emit(e Event) {
	if s.eventHandler != nil {
		e.Time = time.Now()
		s.eventHandler(e)
	}
}

// Run executes one goal to termination. It asks the oracle for an initial
// task batch, then repeats dequeue-execute-replan until the queue drains,
// the iteration cap is hit, or ctx is cancelled. Cancelled and capped runs
// still return a report carrying the partial ledger; only a failed initial
// planning call returns an error, wrapped in ErrPlanningFailed.
func (s *Scheduler) Run(ctx context.Context, goal string) (*reporting.Report, error) {
	if s.oracle == nil {
		return nil, errors.New("no oracle configured")
	}

	cutoff := s.config.GenerationCutoff()

	s.logger.InfoCtx("run starting", map[string]any{
		"goal":           goal,
		"max_iterations": s.config.MaxIterations,
		"cutoff":         cutoff,
	})
	s.emit(Event{Type: EventPlanningStart, Goal: goal, MaxIter: s.config.MaxIterations, Cutoff: cutoff})

	initial, err := s.oracle.GenerateInitialTasks(ctx, goal)
	if err != nil {
		s.logger.ErrorCtx("initial planning failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}

	queue := tasks.NewQueue()
	led := ledger.New()

	batch := stampOrigin(initial, 0)
	queue.Insert(batch)
	s.logger.InfoCtx("initial plan ready", map[string]any{"tasks": len(batch)})
	s.emit(Event{
		Type:       EventTasksGenerated,
		Goal:       goal,
		BatchSize:  len(batch),
		Batch:      append([]tasks.Task(nil), batch...),
		QueueDepth: queue.Len(),
		MaxIter:    s.config.MaxIterations,
	})

	iteration := 0
	for queue.Len() > 0 && iteration < s.config.MaxIterations {
		select {
		case <-ctx.Done():
			s.logger.WarnCtx("run cancelled", map[string]any{"iteration": iteration})
			return s.finish(goal, led, queue, reporting.ReasonCancelled, iteration), nil
		default:
		}

		task, ok := queue.PopHighest()
		if !ok {
			break
		}
		iteration++

		s.emit(Event{
			Type:       EventTaskStart,
			Goal:       goal,
			TaskID:     task.ID,
			TaskDesc:   task.Description,
			Priority:   task.Priority,
			Iteration:  iteration,
			MaxIter:    s.config.MaxIterations,
			QueueDepth: queue.Len(),
		})
		s.logger.InfoCtx("executing task", map[string]any{
			"iteration": iteration,
			"task_id":   task.ID,
			"priority":  task.Priority,
			"pending":   queue.Len(),
		})

		start := time.Now()
		summary, execErr := s.oracle.Execute(ctx, task, led.Snapshot())
		rec := ledger.ExecutionRecord{
			Task:      task,
			Summary:   summary,
			Success:   execErr == nil,
			Iteration: iteration,
		}
		if execErr != nil {
			rec.Summary = fmt.Sprintf("execution failed: %v", execErr)
			s.logger.WarnCtx("task failed", map[string]any{
				"iteration": iteration,
				"task_id":   task.ID,
				"error":     execErr.Error(),
			})
		}
		led.Append(rec)

		s.emit(Event{
			Type:       EventTaskEnd,
			Goal:       goal,
			TaskID:     task.ID,
			TaskDesc:   task.Description,
			Priority:   task.Priority,
			Iteration:  iteration,
			MaxIter:    s.config.MaxIterations,
			QueueDepth: queue.Len(),
			Success:    rec.Success,
			Summary:    rec.Summary,
			Duration:   time.Since(start),
		})

		// Replanning gate. Growth is best-effort: a failed generation call
		// must never stall execution, so errors here warn and continue.
		if iteration <= cutoff {
			discovered, genErr := s.oracle.GenerateAdditionalTasks(ctx, goal, led.Snapshot())
			if genErr != nil {
				s.logger.WarnCtx("replanning failed, continuing", map[string]any{
					"iteration": iteration,
					"error":     genErr.Error(),
				})
			} else if len(discovered) > 0 {
				stamped := stampOrigin(discovered, iteration)
				queue.Insert(stamped)
				s.logger.InfoCtx("discovered new tasks", map[string]any{
					"iteration": iteration,
					"count":     len(stamped),
					"pending":   queue.Len(),
				})
				s.emit(Event{
					Type:       EventTasksGenerated,
					Goal:       goal,
					BatchSize:  len(stamped),
					Batch:      append([]tasks.Task(nil), stamped...),
					Iteration:  iteration,
					MaxIter:    s.config.MaxIterations,
					QueueDepth: queue.Len(),
				})
			}
		}
	}

	reason := reporting.ReasonIterationCapReached
	if queue.Len() == 0 {
		reason = reporting.ReasonQueueDrained
	}
	return s.finish(goal, led, queue, reason, iteration), nil
}

// finish builds the report for a terminated run and emits the final event.
func (s *Scheduler) finish(goal string, led *ledger.Ledger, queue *tasks.Queue, reason reporting.TerminationReason, iterations int) *reporting.Report {
	report := reporting.Build(goal, led.Snapshot(), reason, iterations, s.config.MaxIterations, queue.Len())
	s.logger.InfoCtx("run terminated", map[string]any{
		"reason":     string(reason),
		"iterations": iterations,
		"completed":  report.TasksCompleted,
		"remaining":  report.TasksRemaining,
	})
	s.emit(Event{
		Type:       EventRunEnd,
		Goal:       goal,
		Iteration:  iterations,
		MaxIter:    s.config.MaxIterations,
		QueueDepth: queue.Len(),
		Reason:     reason,
	})
	return report
}

// stampOrigin marks every task in the batch with the iteration that
// generated it, overwriting whatever the oracle put there.
func stampOrigin(batch []tasks.Task, iteration int) []tasks.Task {
	for i := range batch {
		batch[i].OriginIteration = iteration
	}
	return batch
}
