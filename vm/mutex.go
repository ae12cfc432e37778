package vm

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ---------------------------------------------------------------------------
// ownedMutex: non-reentrant mutex that knows its holder
// ---------------------------------------------------------------------------

// ownedMutex wraps sync.Mutex and tags it with the holding goroutine so that
// re-entry and unlock-by-stranger are caught as programming errors instead of
// deadlocking or corrupting state.
type ownedMutex struct {
	mu    sync.Mutex
	owner atomic.Int64 // goroutine id, 0 when free
}

func (m *ownedMutex) Lock() {
	g := goid.Get()
	if m.owner.Load() == g {
		panic(ErrLockReentered)
	}
	m.mu.Lock()
	m.owner.Store(g)
}

func (m *ownedMutex) Unlock() {
	if m.owner.Load() != goid.Get() {
		panic(ErrLockNotHeld)
	}
	m.owner.Store(0)
	m.mu.Unlock()
}

// heldByCaller reports whether the calling goroutine holds the lock.
func (m *ownedMutex) heldByCaller() bool {
	return m.owner.Load() == goid.Get()
}

func (m *ownedMutex) assertHeld() {
	if !m.heldByCaller() {
		panic(ErrLockNotHeld)
	}
}

// wait blocks on c, whose L must be &m.mu. The owner tag is dropped for the
// duration of the wait and restored once the lock is re-acquired.
func (m *ownedMutex) wait(c *sync.Cond) {
	g := m.owner.Load()
	m.owner.Store(0)
	c.Wait()
	m.owner.Store(g)
}
