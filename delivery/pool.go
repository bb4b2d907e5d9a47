package delivery

import (
	"context"
	"sync"
)

// pool is a fixed set of goroutines consuming a bounded queue.
type pool[T any] struct {
	queue chan T
	fn    func(context.Context, T)
	wg    sync.WaitGroup
}

func newPool[T any](capacity int, fn func(context.Context, T)) *pool[T] {
	return &pool[T]{queue: make(chan T, capacity), fn: fn}
}

// start launches n workers. They exit when the queue is drained or ctx
// is done.
func (p *pool[T]) start(ctx context.Context, n int) {
	for range n {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
}

func (p *pool[T]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.fn(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// submit enqueues without blocking and reports whether there was room.
func (p *pool[T]) submit(t T) bool {
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// drain closes the queue and waits for the workers to finish it.
func (p *pool[T]) drain() {
	close(p.queue)
	p.wg.Wait()
}

// discard closes the queue of a pool that never started and returns what
// was waiting in it.
func (p *pool[T]) discard() []T {
	close(p.queue)
	var left []T
	for t := range p.queue {
		left = append(left, t)
	}
	return left
}

func (p *pool[T]) queueLen() int { return len(p.queue) }
