package vm

import (
	"fmt"
	"time"
)

// Forever is the timeout of a wait that never times out.
const Forever time.Duration = -1

// WaitResult is the outcome of a wait.
type WaitResult uint8

const (
	WaitOK WaitResult = iota
	WaitTimedOut
	WaitNotEqual
)

func (r WaitResult) String() string {
	switch r {
	case WaitOK:
		return "ok"
	case WaitTimedOut:
		return "timed-out"
	case WaitNotEqual:
		return "not-equal"
	}
	return fmt.Sprintf("WaitResult(%d)", r)
}

// WaiterRecord is one pending wait on a shared memory cell.
//
// A record moves Pending -> {Notified, TimedOut} -> Removed -> Resolved.
// The notified flag is guarded by the entry's critical section; the
// remaining identity fields are immutable after creation.
type WaiterRecord struct {
	signifier  uint64
	agent      *Agent
	entry      *WaiterListEntry
	timeout    time.Duration
	created    time.Time
	capability PromiseCapability

	notified bool
	removed  bool
	result   WaitResult
}

// Signifier returns the waiting agent's signifier.
func (r *WaiterRecord) Signifier() uint64 { return r.signifier }

// Agent returns the waiting agent.
func (r *WaiterRecord) Agent() *Agent { return r.agent }

// Entry returns the wait queue the record belongs to.
func (r *WaiterRecord) Entry() *WaiterListEntry { return r.entry }

// Capability returns the resolution handle of an async wait, nil for a
// blocking wait.
func (r *WaiterRecord) Capability() PromiseCapability { return r.capability }

// Deadline returns the absolute deadline, if the wait has one.
func (r *WaiterRecord) Deadline() (time.Time, bool) {
	if r.timeout < 0 {
		return time.Time{}, false
	}
	return r.created.Add(r.timeout), true
}

// Notified reports whether a notifier has marked the record. The caller
// must hold the entry's critical section.
func (r *WaiterRecord) Notified() bool {
	r.entry.lock.assertHeld()
	return r.notified
}

// IsTimedOut reports whether the deadline has passed. It must only be asked
// of a record that has not been notified, with the critical section held.
func (r *WaiterRecord) IsTimedOut() bool {
	r.entry.lock.assertHeld()
	if r.notified {
		panic("vm: IsTimedOut called on a notified waiter")
	}
	if r.timeout < 0 {
		return false
	}
	return r.entry.list.clock.Since(r.created) >= r.timeout
}

// IsReadyToResolve reports whether the record has been notified or has timed
// out. Notification wins when both hold. The critical section must be held.
func (r *WaiterRecord) IsReadyToResolve() bool {
	r.entry.lock.assertHeld()
	if r.notified {
		return true
	}
	return r.IsTimedOut()
}

// Result returns the outcome of a removed record.
func (r *WaiterRecord) Result() WaitResult {
	return r.result
}

// settle fixes the result from the notified flag. Critical section held.
func (r *WaiterRecord) settle() {
	if r.notified {
		r.result = WaitOK
	} else {
		r.result = WaitTimedOut
	}
}
