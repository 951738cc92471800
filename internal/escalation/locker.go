package escalation

import (
	"context"
	"sync"
)

// LocalLocker serializes zone updates within one process. Deployments running
// more than one engine use the redis zone lock instead.
type LocalLocker struct {
	mu    sync.Mutex
	zones map[string]chan struct{}
}

// NewLocalLocker returns an in-process zone locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{zones: make(map[string]chan struct{})}
}

// Lock blocks until zoneID is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, zoneID string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.zones[zoneID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.zones[zoneID] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}
