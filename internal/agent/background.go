package agent

import (
	"context"
	"log/slog"
	"sync"
)

type task struct {
	name string
	fn   func(context.Context)
}

// Background is a bounded task set for work that must not block the reply
// path: fact extraction, finalize summaries, flush persistence. When the
// queue is full new tasks are dropped with a warning rather than blocking.
type Background struct {
	queue  chan task
	wg     sync.WaitGroup
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewBackground starts the worker pool.
func NewBackground(workers, queueSize int) *Background {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Background{
		queue:  make(chan task, queueSize),
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	return b
}

func (b *Background) worker(ctx context.Context) {
	defer b.wg.Done()
	for t := range b.queue {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("background.task.panic", "task", t.name, "panic", rec)
				}
			}()
			t.fn(ctx)
		}()
	}
}

// Go enqueues a task. A saturated queue drops it.
func (b *Background) Go(name string, fn func(context.Context)) {
	select {
	case b.queue <- task{name: name, fn: fn}:
	default:
		slog.Warn("background.queue.full", "task", name, "action", "dropped")
	}
}

// Close stops intake and waits for in-flight tasks until ctx expires.
func (b *Background) Close(ctx context.Context) error {
	b.closeOnce.Do(func() { close(b.queue) })

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		return ctx.Err()
	}
}
