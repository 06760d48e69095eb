package sendq

import (
	"context"
	"fmt"
	"sync"
)

// Queue serializes operations per recipient key. Operations scheduled
// for the same key run strictly in submission order, one at a time;
// operations for different keys run concurrently. This keeps retries
// and corrections from overtaking earlier messages to the same peer on
// the wire.
type Queue struct {
	mu   sync.Mutex
	keys map[string]*keyQueue
}

type keyQueue struct {
	tasks   []*task
	running bool
}

type task struct {
	ctx  context.Context
	op   func(context.Context) error
	done chan error
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{keys: make(map[string]*keyQueue)}
}

// Schedule enqueues op behind any operations already pending for key and
// blocks until op has run, returning its result. A failing operation
// surfaces its error to this caller only; subsequent operations for the
// same key keep running.
//
// ctx cancellation unblocks the caller but does not cancel an operation
// already queued: it still runs in its turn to preserve per-key ordering.
func (q *Queue) Schedule(ctx context.Context, key string, op func(context.Context) error) error {
	t := &task{ctx: ctx, op: op, done: make(chan error, 1)}

	q.mu.Lock()
	kq, ok := q.keys[key]
	if !ok {
		kq = &keyQueue{}
		q.keys[key] = kq
	}
	kq.tasks = append(kq.tasks, t)
	if !kq.running {
		kq.running = true
		go q.run(key, kq)
	}
	q.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of operations queued or running for key.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kq, ok := q.keys[key]
	if !ok {
		return 0
	}
	n := len(kq.tasks)
	if kq.running {
		n++
	}
	return n
}

func (q *Queue) run(key string, kq *keyQueue) {
	for {
		q.mu.Lock()
		if len(kq.tasks) == 0 {
			kq.running = false
			delete(q.keys, key)
			q.mu.Unlock()
			return
		}
		t := kq.tasks[0]
		kq.tasks = kq.tasks[1:]
		q.mu.Unlock()

		t.done <- runTask(t)
	}
}

func runTask(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send operation panicked: %v", r)
		}
	}()
	return t.op(t.ctx)
}
