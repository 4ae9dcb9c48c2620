package session

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueRunsTasksInOrder(t *testing.T) {
	q := newTaskQueue()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.enqueue(func() { got = append(got, i) })
	}
	q.close()
	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	q := newTaskQueue()
	q.close()
	if q.enqueue(func() {}) {
		t.Error("enqueue after close must report false")
	}
	if q.do(func() {}) {
		t.Error("do after close must report false")
	}
}

func TestQueueCloseWithFullBacklog(t *testing.T) {
	q := newTaskQueue()
	gate := make(chan struct{})
	q.enqueue(func() { <-gate })

	// Pile senders well past the channel buffer while the worker is stuck.
	var ran int32
	for i := 0; i < 2*cap(q.tasks); i++ {
		go q.enqueue(func() { atomic.AddInt32(&ran, 1) })
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)

	closed := make(chan struct{})
	go func() {
		q.close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close deadlocked behind a full task backlog")
	}
}
