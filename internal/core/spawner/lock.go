package spawner

import (
	"context"
	"sync"
)

// Lock is a non-reentrant mutual exclusion over a spawner's stored items.
// Holding it is represented by a Permit.
type Lock struct {
	sem chan struct{}
}

func NewLock() *Lock {
	return &Lock{sem: make(chan struct{}, 1)}
}

// TryAcquire never blocks.
func (l *Lock) TryAcquire() (*Permit, bool) {
	select {
	case l.sem <- struct{}{}:
		return &Permit{lock: l}, true
	default:
		return nil, false
	}
}

// Acquire blocks until the lock is free or ctx is done.
func (l *Lock) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case l.sem <- struct{}{}:
		return &Permit{lock: l}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Held reports whether some permit is outstanding.
func (l *Lock) Held() bool {
	return len(l.sem) == 1
}

// Permit proves ownership of a Lock. Release may be called any number of
// times from any goroutine; only the first call frees the lock.
type Permit struct {
	lock *Lock
	once sync.Once
}

func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() { <-p.lock.sem })
}
