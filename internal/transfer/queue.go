package transfer

import (
	"sync"
)

// Queue is the ordered list of pending tasks for one form. Insertion order
// is processing order. Entries leave only from the front, by id, or all at
// once; a removed task is never handed back.
//
// Thread-safe: tasks complete on their own goroutines, so every operation
// takes the lock. The lock is never held while a task runs.
type Queue struct {
	tasks []Task
	mu    sync.Mutex
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{tasks: make([]Task, 0)}
}

// PushBack appends task. Nil tasks are ignored.
func (q *Queue) PushBack(task Task) {
	if task == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// PopFront removes and returns the first task.
func (q *Queue) PopFront() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}

// RemoveByID removes the first task whose ID equals id. Tasks that have not
// assigned themselves an id never match.
func (q *Queue) RemoveByID(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, task := range q.tasks {
		if task.ID() != "" && task.ID() == id {
			q.tasks = append(q.tasks[:i:i], q.tasks[i+1:]...)
			return task, true
		}
	}
	return nil, false
}

// ClearAll drops every pending task and returns how many were dropped.
func (q *Queue) ClearAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tasks)
	q.tasks = make([]Task, 0)
	return n
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Snapshot returns the pending tasks in order.
func (q *Queue) Snapshot() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
