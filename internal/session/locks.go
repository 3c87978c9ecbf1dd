package session

import (
	"context"
	"sync"
)

// employeeLocks serialises lifecycle transitions per employee. Acquisition
// honours the caller's context so a stuck holder cannot hang requests past
// their deadline.
type employeeLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newEmployeeLocks() *employeeLocks {
	return &employeeLocks{locks: make(map[string]*lockEntry)}
}

func (l *employeeLocks) acquire(ctx context.Context, employeeID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[employeeID]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[employeeID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(employeeID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(employeeID, e)
		})
	}, nil
}

func (l *employeeLocks) unref(employeeID string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, employeeID)
	}
}

func (l *employeeLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
