package scheduler

import (
	"time"

	"github.com/marcus/taskmill/internal/reporting"
	"github.com/marcus/taskmill/internal/tasks"
)

// EventType classifies scheduler lifecycle events.
type EventType int

const (
	EventPlanningStart  EventType = iota // initial goal decomposition begins
	EventTasksGenerated                  // a batch of new tasks entered the queue
	EventTaskStart                       // a task was dequeued for execution
	EventTaskEnd                         // task execution finished and was recorded
	EventRunEnd                          // the run terminated
)

// Event carries data about a scheduler lifecycle event.
type Event struct {
	Type       EventType
	Time       time.Time
	Goal       string
	TaskID     string
	TaskDesc   string
	Priority   int
	Iteration  int           // dequeue-execute cycle, 1-based; 0 before the first execution
	MaxIter    int           // iteration cap configured for the run
	Cutoff     int           // for EventPlanningStart: last iteration that may replan
	BatchSize  int           // for EventTasksGenerated: tasks in the inserted batch
	Batch      []tasks.Task  // for EventTasksGenerated: the inserted tasks, insertion order
	QueueDepth int           // pending tasks after the event
	Success    bool          // for EventTaskEnd
	Summary    string        // for EventTaskEnd: recorded result summary
	Duration   time.Duration // for EventTaskEnd: execution wall time

	Reason reporting.TerminationReason // for EventRunEnd
}

// EventHandler is a callback that receives scheduler events. Handlers run
// synchronously on the scheduler's goroutine.
type EventHandler func(Event)
