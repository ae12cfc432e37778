package vm

import (
	"context"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/benbjohnson/clock"
)

// ---------------------------------------------------------------------------
// WaiterList: shared memory index -> wait queue
// ---------------------------------------------------------------------------

// WaiterList maps the cells of one shared memory block to their wait queues.
// Entries are created lazily on first use. The atomic section makes a
// sequence of operations across the whole map appear atomic.
type WaiterList struct {
	entries *haxmap.Map[uint64, *WaiterListEntry]
	atomic  ownedMutex
	clock   clock.Clock
}

// WaiterListOption configures a WaiterList.
type WaiterListOption func(*WaiterList)

// WithWaiterClock replaces the monotonic clock used for timeouts.
func WithWaiterClock(c clock.Clock) WaiterListOption {
	return func(l *WaiterList) { l.clock = c }
}

// NewWaiterList creates an empty waiter list.
func NewWaiterList(opts ...WaiterListOption) *WaiterList {
	l := &WaiterList{
		entries: haxmap.New[uint64, *WaiterListEntry](),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Clock returns the clock timeouts are measured with.
func (l *WaiterList) Clock() clock.Clock { return l.clock }

// GetOrCreateEntry returns the wait queue for index, creating it if needed.
// Concurrent first access from several agents yields a single entry.
func (l *WaiterList) GetOrCreateEntry(index uint64) *WaiterListEntry {
	e, _ := l.entries.GetOrCompute(index, func() *WaiterListEntry {
		return newWaiterListEntry(l, index)
	})
	return e
}

// Entry returns the wait queue for index if one exists.
func (l *WaiterList) Entry(index uint64) (*WaiterListEntry, bool) {
	return l.entries.Get(index)
}

// EnterAtomicSection takes the list-wide lock. Re-entering from the goroutine
// that already holds it panics.
func (l *WaiterList) EnterAtomicSection() { l.atomic.Lock() }

// LeaveAtomicSection releases the list-wide lock.
func (l *WaiterList) LeaveAtomicSection() { l.atomic.Unlock() }

// PendingCount returns the number of records queued across every entry, as
// one consistent snapshot.
func (l *WaiterList) PendingCount() int {
	l.EnterAtomicSection()
	defer l.LeaveAtomicSection()
	n := 0
	l.entries.ForEach(func(_ uint64, e *WaiterListEntry) bool {
		e.EnterCriticalSection()
		n += len(e.waiters)
		e.LeaveCriticalSection()
		return true
	})
	return n
}

// AddWaiter appends a new record for agent to e. The caller must hold e's
// critical section. A negative timeout never expires.
func (l *WaiterList) AddWaiter(e *WaiterListEntry, agent *Agent, timeout time.Duration, capability PromiseCapability) *WaiterRecord {
	e.lock.assertHeld()
	if timeout < 0 {
		timeout = Forever
	}
	rec := &WaiterRecord{
		signifier:  agent.Signifier(),
		agent:      agent,
		entry:      e,
		timeout:    timeout,
		created:    l.clock.Now(),
		capability: capability,
	}
	e.waiters = append(e.waiters, rec)
	return rec
}

// Wait blocks the calling goroutine until the record it registers on index
// is notified, times out, or ctx is done. Only agents that may block can
// wait.
func (l *WaiterList) Wait(ctx context.Context, agent *Agent, index uint64, timeout time.Duration) (WaitResult, error) {
	if !agent.CanBlock() {
		return WaitTimedOut, ErrCannotBlock
	}
	e := l.GetOrCreateEntry(index)
	e.EnterCriticalSection()
	defer e.LeaveCriticalSection()
	rec := l.AddWaiter(e, agent, timeout, nil)
	return e.Suspend(ctx, rec)
}

// WaitAsync registers a wait whose resolution runs later on agent's own
// goroutine, during job draining. capability receives the result string.
func (l *WaiterList) WaitAsync(agent *Agent, index uint64, timeout time.Duration, capability PromiseCapability) *WaiterRecord {
	e := l.GetOrCreateEntry(index)
	e.EnterCriticalSection()
	rec := l.AddWaiter(e, agent, timeout, capability)
	e.LeaveCriticalSection()
	agent.EnqueueWaitAsyncJob(rec)
	return rec
}

// Notify marks up to count waiters on index as notified, oldest first, and
// returns how many it marked. A negative count notifies every waiter.
func (l *WaiterList) Notify(index uint64, count int) int {
	e, ok := l.Entry(index)
	if !ok {
		return 0
	}
	e.EnterCriticalSection()
	n, agents := e.notify(count)
	e.cond.Broadcast()
	e.LeaveCriticalSection()
	for _, a := range agents {
		a.Wake()
	}
	return n
}

// ---------------------------------------------------------------------------
// WaiterListEntry: one cell's wait queue
// ---------------------------------------------------------------------------

// WaiterListEntry is the ordered wait queue of a single shared memory cell,
// with its critical section and condition variable.
type WaiterListEntry struct {
	list    *WaiterList
	index   uint64
	lock    ownedMutex
	cond    *sync.Cond
	waiters []*WaiterRecord
}

func newWaiterListEntry(l *WaiterList, index uint64) *WaiterListEntry {
	e := &WaiterListEntry{list: l, index: index}
	e.cond = sync.NewCond(&e.lock.mu)
	return e
}

// Index returns the cell index this entry guards.
func (e *WaiterListEntry) Index() uint64 { return e.index }

// EnterCriticalSection takes the entry lock. It is not reentrant.
func (e *WaiterListEntry) EnterCriticalSection() { e.lock.Lock() }

// LeaveCriticalSection releases the entry lock.
func (e *WaiterListEntry) LeaveCriticalSection() { e.lock.Unlock() }

// Len returns the number of queued records. Critical section held.
func (e *WaiterListEntry) Len() int {
	e.lock.assertHeld()
	return len(e.waiters)
}

// Waiters returns a snapshot of the queue. Critical section held.
func (e *WaiterListEntry) Waiters() []*WaiterRecord {
	e.lock.assertHeld()
	return append([]*WaiterRecord(nil), e.waiters...)
}

// Suspend parks the caller on the condition variable until rec is ready to
// resolve or ctx is done, then removes rec and returns its result. The
// critical section must be held and is held again on return.
func (e *WaiterListEntry) Suspend(ctx context.Context, rec *WaiterRecord) (WaitResult, error) {
	e.lock.assertHeld()
	if rec.timeout >= 0 {
		t := e.list.clock.AfterFunc(rec.timeout, e.broadcast)
		defer t.Stop()
	}
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, e.broadcast)
		defer stop()
	}
	for !rec.IsReadyToResolve() {
		if err := ctx.Err(); err != nil {
			e.remove(rec)
			return WaitTimedOut, err
		}
		e.lock.wait(e.cond)
	}
	e.Resolve(rec)
	return rec.result, nil
}

// Resolve removes a ready record and fixes its result. Critical section held.
func (e *WaiterListEntry) Resolve(rec *WaiterRecord) {
	e.lock.assertHeld()
	rec.settle()
	e.remove(rec)
}

func (e *WaiterListEntry) broadcast() {
	e.lock.Lock()
	e.cond.Broadcast()
	e.lock.Unlock()
}

func (e *WaiterListEntry) remove(rec *WaiterRecord) bool {
	for i, w := range e.waiters {
		if w == rec {
			copy(e.waiters[i:], e.waiters[i+1:])
			e.waiters[len(e.waiters)-1] = nil
			e.waiters = e.waiters[:len(e.waiters)-1]
			rec.removed = true
			return true
		}
	}
	return false
}

// notify marks up to count un-notified records and returns the number marked
// and the owners of async records that need waking.
func (e *WaiterListEntry) notify(count int) (int, []*Agent) {
	n := 0
	var agents []*Agent
	for _, rec := range e.waiters {
		if count >= 0 && n >= count {
			break
		}
		if rec.notified {
			continue
		}
		rec.notified = true
		n++
		if rec.capability != nil {
			agents = append(agents, rec.agent)
		}
	}
	return n, agents
}
