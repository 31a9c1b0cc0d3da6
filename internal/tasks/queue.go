package tasks

import "sort"

// Queue holds pending tasks ordered by descending priority. Ties keep their
// relative insertion order, so two equal-priority tasks run in the order the
// oracle proposed them. The queue is not safe for concurrent use; the
// scheduler is strictly sequential and each run owns its own queue.
type Queue struct {
	pending  []Task
	inserted int // total tasks ever inserted, for conservation accounting
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Insert merges a batch of new tasks into the pending sequence and re-sorts
// the whole remainder. The full re-sort is deliberate: a newly generated
// high-priority task must be able to overtake work queued earlier.
func (q *Queue) Insert(batch []Task) {
	if len(batch) == 0 {
		return
	}
	q.pending = append(q.pending, batch...)
	q.inserted += len(batch)
	sort.SliceStable(q.pending, func(i, j int) bool {
		return q.pending[i].Priority > q.pending[j].Priority
	})
}

// PopHighest removes and returns the highest-priority pending task.
// ok is false when the queue is empty; that is the normal drain signal,
// not an error.
func (q *Queue) PopHighest() (Task, bool) {
	if len(q.pending) == 0 {
		return Task{}, false
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	return task, true
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	return len(q.pending)
}

// TotalInserted returns how many tasks have ever been inserted, including
// ones already popped. Executed + pending always equals this count.
func (q *Queue) TotalInserted() int {
	return q.inserted
}

// Pending returns a copy of the pending tasks in queue order.
func (q *Queue) Pending() []Task {
	out := make([]Task, len(q.pending))
	copy(out, q.pending)
	return out
}
