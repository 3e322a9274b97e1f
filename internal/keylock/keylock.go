// Package keylock serializes work per key (an appointment id) across the
// webhook path and the scheduler. Two implementations are provided: an
// in-process lock table for single-instance deployments and a Redis lease for
// several instances sharing one database.
package keylock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive hold on key. The returned function releases it
// and must be called exactly once. Lock blocks until the key is free or ctx is
// done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Memory is an in-process Locker. Entries are reference counted and dropped
// when the last holder or waiter leaves, so the table does not grow with the
// number of appointments ever seen.
type Memory struct {
	mu   sync.Mutex
	keys map[string]*entry
}

// NewMemory returns an empty in-process lock table.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*entry)}
}

// Lock implements Locker.
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.keys[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.keys[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.release(key, e)
		})
	}, nil
}

func (m *Memory) release(key string, e *entry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.keys, key)
	}
	m.mu.Unlock()
}

// size reports the number of live entries.
func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
