package ratelimit

import (
	"container/list"
	"context"
	"sync"
)

// tokenPool is a counting resource with FIFO waiters. Unlike a fixed-size
// semaphore it can be drained and refilled past its nominal size, and it
// reports how many tokens are currently free.
type tokenPool struct {
	mu      sync.Mutex
	avail   int64
	waiters list.List
}

type tokenWaiter struct {
	n     int64
	ready chan struct{}
}

func (p *tokenPool) acquire(ctx context.Context, n int64) error {
	p.mu.Lock()
	if p.waiters.Len() == 0 && p.avail >= n {
		p.avail -= n
		p.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return err
	}
	w := &tokenWaiter{n: n, ready: make(chan struct{})}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-w.ready:
			// Granted while we were being cancelled: hand the tokens back.
			p.avail += n
		default:
			p.waiters.Remove(elem)
		}
		p.grantLocked()
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *tokenPool) release(n int64) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	p.avail += n
	p.grantLocked()
	p.mu.Unlock()
}

func (p *tokenPool) grantLocked() {
	for {
		front := p.waiters.Front()
		if front == nil {
			return
		}
		w := front.Value.(*tokenWaiter)
		if p.avail < w.n {
			return
		}
		p.avail -= w.n
		p.waiters.Remove(front)
		close(w.ready)
	}
}

func (p *tokenPool) drain() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.avail
	p.avail = 0
	return n
}

func (p *tokenPool) available() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avail
}

func (p *tokenPool) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}
