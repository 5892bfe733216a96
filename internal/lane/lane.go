// Package lane serializes work per exam code. Every read-modify-write of a
// session document runs inside its code's lane, so concurrent joins,
// answers and timer advances never overwrite each other.
package lane

import (
	"context"
	"sync"
)

// Lanes is a set of per-key single-writer lanes. A lane exists only while
// work for its key is running or waiting.
type Lanes struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	// sem is a one-slot semaphore so waiting can observe ctx.
	sem  chan struct{}
	refs int
}

func New() *Lanes {
	return &Lanes{lanes: make(map[string]*lane)}
}

// Do runs fn with exclusive ownership of key. It returns ctx.Err() if the
// context ends before the lane is acquired.
func (l *Lanes) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ln := l.acquire(key)
	defer l.release(key, ln)

	select {
	case ln.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ln.sem }()

	return fn(ctx)
}

// Active returns the number of keys with running or waiting work.
func (l *Lanes) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

func (l *Lanes) acquire(key string) *lane {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{sem: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.refs++
	return ln
}

func (l *Lanes) release(key string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
}
