// Package runloop provides the cooperative task queue that orders all
// text-input protocol work.
//
// The protocol layer is single-threaded by design: registry operations,
// inbound channel dispatch, and deferred platform actions all execute as
// tasks on one loop, so no two dispatches ever interleave. Post is safe to
// call from any goroutine; tasks run on whichever goroutine calls Run or
// Drain, one at a time, in FIFO order.
package runloop

import (
	"context"
	"sync"
)

// Task is a unit of work executed by the loop.
type Task func()

// Loop is a FIFO task queue drained by a single goroutine.
type Loop struct {
	mu    sync.Mutex
	tasks []Task
	wake  chan struct{}
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

// Post appends a task to the queue. It never blocks.
func (l *Loop) Post(t Task) {
	if t == nil {
		return
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Drain runs queued tasks until the queue is empty, including tasks posted
// by the tasks themselves. It returns the number of tasks executed.
// Tests use Drain to pump deferred work deterministically.
func (l *Loop) Drain() int {
	n := 0
	for {
		t := l.next()
		if t == nil {
			return n
		}
		t()
		n++
	}
}

// next pops the head of the queue, or nil when empty.
func (l *Loop) next() Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.tasks) == 0 {
		return nil
	}
	t := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	return t
}

// Run drains the queue whenever tasks arrive, until ctx is cancelled.
// Remaining tasks are discarded on cancellation.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.Drain()

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}
