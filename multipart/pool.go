package multipart

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// resourcePool is a named counting permit pool.
type resourcePool struct {
	name string
	size int64
	sem  *semaphore.Weighted

	mu    sync.Mutex
	inUse int64
	peak  int64
}

func newResourcePool(name string, size int) *resourcePool {
	if size < 0 {
		size = 0
	}
	return &resourcePool{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Acquire blocks until a permit is free or ctx is done.
func (p *resourcePool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.track(1)
	return nil
}

// TryAcquire takes a permit only if one is free right now.
func (p *resourcePool) TryAcquire() bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.track(1)
	return true
}

func (p *resourcePool) Release() {
	p.track(-1)
	p.sem.Release(1)
}

func (p *resourcePool) Size() int {
	return int(p.size)
}

// Peak returns the highest number of permits held at the same time.
func (p *resourcePool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.peak)
}

func (p *resourcePool) track(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse += delta
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
}
