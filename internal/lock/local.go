package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. Waiters give up after the configured wait
// with carrier.ErrConcurrencyConflict.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates a Local locker. A zero wait fails fast on contention.
func NewLocal(wait time.Duration) *Local {
	return &Local{
		wait:  wait,
		slots: make(map[string]*slot),
	}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.ref(key)

	select {
	case s.ch <- struct{}{}:
		return l.releaser(key, s), nil
	default:
	}
	if l.wait <= 0 {
		l.unref(key, s)
		return nil, conflict(key)
	}

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return l.releaser(key, s), nil
	case <-timer.C:
		l.unref(key, s)
		return nil, conflict(key)
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
}

// Held reports whether key is currently locked.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	return ok && len(s.ch) > 0
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) releaser(key string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(key, s)
		})
	}
}

var _ Locker = (*Local)(nil)
