package syncx

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// readers is the maximum number of concurrent readers of an RWMutex.
const readers = 1 << 20

// RWMutex is a reader/writer mutex whose lock operations honor context
// cancellation.
//
// Waiters are admitted in FIFO order, so a waiting writer blocks readers that
// arrive after it. The zero value is an unlocked mutex.
type RWMutex struct {
	once sync.Once
	sem  *semaphore.Weighted
}

func (m *RWMutex) init() {
	m.once.Do(func() {
		m.sem = semaphore.NewWeighted(readers)
	})
}

// Lock acquires an exclusive lock on the mutex, or returns ctx.Err() if ctx
// is canceled first.
func (m *RWMutex) Lock(ctx context.Context) error {
	m.init()
	return m.sem.Acquire(ctx, readers)
}

// Unlock releases the exclusive lock.
func (m *RWMutex) Unlock() {
	m.sem.Release(readers)
}

// RLock acquires a shared lock on the mutex, or returns ctx.Err() if ctx is
// canceled first.
func (m *RWMutex) RLock(ctx context.Context) error {
	m.init()
	return m.sem.Acquire(ctx, 1)
}

// RUnlock releases a shared lock.
func (m *RWMutex) RUnlock() {
	m.sem.Release(1)
}

// Do calls fn while holding the exclusive lock.
func (m *RWMutex) Do(ctx context.Context, fn func() error) error {
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()

	return fn()
}

// View calls fn while holding a shared lock.
func (m *RWMutex) View(ctx context.Context, fn func() error) error {
	if err := m.RLock(ctx); err != nil {
		return err
	}
	defer m.RUnlock()

	return fn()
}
