package lsp

import (
	"context"
	"sync"
	"sync/atomic"
)

// Loop is the consumer concurrency domain. Every Dispatcher, Session and
// Manager registration call runs on it, one function at a time, in the
// order they were posted.
//
// The mailbox is unbounded: Post never blocks, so the transport reader can
// always hand off a message without waiting on the consumer.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	running atomic.Bool

	// Stats
	posted    atomic.Uint64
	processed atomic.Uint64
}

// LoopStats is a snapshot of loop counters.
type LoopStats struct {
	Posted    uint64
	Processed uint64
	Queued    int
}

// NewLoop creates an empty loop. Call Run or RunPending to process it.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn. Safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.posted.Add(1)

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// take removes and returns the queued functions.
func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

// Run processes posted functions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)

	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunPending processes queued functions until the queue is empty, including
// functions posted while draining. It returns how many ran. Hosts with their
// own event loop call it from there; tests use it to step deterministically.
func (l *Loop) RunPending() int {
	n := 0
	for {
		batch := l.take()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
			n++
			l.processed.Add(1)
		}
	}
}

// Call posts fn and waits for it to run. It must not be called from the
// loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Stats returns loop counters.
func (l *Loop) Stats() LoopStats {
	l.mu.Lock()
	queued := len(l.queue)
	l.mu.Unlock()
	return LoopStats{
		Posted:    l.posted.Load(),
		Processed: l.processed.Load(),
		Queued:    queued,
	}
}
