package session

import "sync"

// taskQueue is a single-worker executor: at most one task runs at a time and
// tasks run in enqueue order. Tasks are expected to handle their own errors;
// a failing task never stops the worker.
type taskQueue struct {
	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
	tasks   chan func()
	done    chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *taskQueue) run() {
	defer close(q.done)
	for t := range q.tasks {
		t()
	}
}

// enqueue schedules t; reports false when the queue is already closed. The
// channel send happens outside the lock so a full backlog never blocks close.
func (q *taskQueue) enqueue(t func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.senders.Add(1)
	q.mu.Unlock()
	q.tasks <- t
	q.senders.Done()
	return true
}

// do runs t on the worker and waits for it to finish. Must not be called
// from the worker itself.
func (q *taskQueue) do(t func()) bool {
	ran := make(chan struct{})
	ok := q.enqueue(func() {
		defer close(ran)
		t()
	})
	if !ok {
		return false
	}
	<-ran
	return true
}

// close stops accepting tasks, waits for in-flight enqueues to land, then
// drains the queue.
func (q *taskQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.senders.Wait()
	close(q.tasks)
	<-q.done
}
