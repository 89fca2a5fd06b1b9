// Package dispatch provides the unbounded single-consumer task queue used to
// serialize state transitions and handler callbacks.
package dispatch

import "sync"

// Task is a unit of work executed on the queue's consumer goroutine.
type Task func()

// Queue runs submitted tasks one at a time, in submission order, on a single
// goroutine. Submit never blocks the caller.
type Queue struct {
    mu     sync.Mutex
    tasks  []Task
    closed bool
    final  Task
    wake   chan struct{}
    done   chan struct{}
}

// New starts a queue and its consumer goroutine.
func New() *Queue {
    q := &Queue{
        wake: make(chan struct{}, 1),
        done: make(chan struct{}),
    }
    go q.run()
    return q
}

// Submit appends t and returns false when the queue is closed.
func (q *Queue) Submit(t Task) bool {
    if t == nil { return false }
    q.mu.Lock()
    if q.closed {
        q.mu.Unlock()
        return false
    }
    q.tasks = append(q.tasks, t)
    q.mu.Unlock()
    q.signal()
    return true
}

// Len reports the number of tasks waiting to start.
func (q *Queue) Len() int {
    q.mu.Lock()
    defer q.mu.Unlock()
    return len(q.tasks)
}

// Close discards tasks that have not started yet. final, when non-nil, runs on
// the consumer goroutine once the in-flight task (if any) returns; it is the
// last task the queue executes. Close does not wait and is safe to call from
// inside a task. Calls after the first are no-ops.
func (q *Queue) Close(final Task) {
    q.mu.Lock()
    if q.closed {
        q.mu.Unlock()
        return
    }
    q.closed = true
    q.tasks = nil
    q.final = final
    q.mu.Unlock()
    q.signal()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
    q.mu.Lock()
    defer q.mu.Unlock()
    return q.closed
}

// Done is closed after the consumer goroutine exits.
func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) signal() {
    select {
    case q.wake <- struct{}{}:
    default:
    }
}

func (q *Queue) run() {
    defer close(q.done)
    for {
        q.mu.Lock()
        if q.closed {
            final := q.final
            q.final = nil
            q.mu.Unlock()
            if final != nil { final() }
            return
        }
        if len(q.tasks) == 0 {
            q.mu.Unlock()
            <-q.wake
            continue
        }
        t := q.tasks[0]
        q.tasks[0] = nil
        q.tasks = q.tasks[1:]
        q.mu.Unlock()
        t()
    }
}
