package engine

import (
	"context"
	"sync"
)

// workerPool is a fixed-size goroutine pool for one batch pass: submit every
// job, then drain. There is no standing queue between passes.
type workerPool[T any] struct {
	queue   chan T
	process func(ctx context.Context, t T)
	wg      sync.WaitGroup
}

func newWorkerPool[T any](ctx context.Context, n int, fn func(context.Context, T)) *workerPool[T] {
	if n < 1 {
		n = 1
	}
	p := &workerPool[T]{
		queue:   make(chan T, n),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *workerPool[T]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// Submit blocks until a worker picks the job up or the context ends.
func (p *workerPool[T]) Submit(ctx context.Context, t T) {
	select {
	case p.queue <- t:
	case <-ctx.Done():
	}
}

// Drain closes the queue and waits for all workers to finish.
func (p *workerPool[T]) Drain() {
	close(p.queue)
	p.wg.Wait()
}
