package vm

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Atomics on Int32 views
// ---------------------------------------------------------------------------

// int32Cell validates ta as an Int32 view and returns element i as an atomic
// cell together with its byte address in the buffer.
func int32Cell(ta *TypedArray, i int) (*atomic.Int32, uint64, error) {
	if ta.Kind != Int32Elements {
		return nil, 0, ThrowError(TypeError, "atomics require an Int32Array, got %s", ta.Kind)
	}
	if ab, ok := ta.buffer.(*ArrayBuffer); ok && ab.Detached() {
		return nil, 0, ThrowError(TypeError, "cannot perform atomics on a detached ArrayBuffer")
	}
	b, ok := ta.cell(i)
	if !ok {
		return nil, 0, ThrowError(RangeError, "invalid atomic access index %d", i)
	}
	addr := uint64(ta.byteOffset + i*4)
	return (*atomic.Int32)(unsafe.Pointer(&b[0])), addr, nil
}

func sharedWaiters(ta *TypedArray) (*WaiterList, error) {
	sab, ok := ta.buffer.(*SharedArrayBuffer)
	if !ok {
		return nil, ThrowError(TypeError, "atomics wait requires a shared Int32Array")
	}
	return sab.block.waiters, nil
}

// AtomicsLoad reads element i.
func AtomicsLoad(ta *TypedArray, i int) (int32, error) {
	c, _, err := int32Cell(ta, i)
	if err != nil {
		return 0, err
	}
	return c.Load(), nil
}

// AtomicsStore writes element i and returns the stored value.
func AtomicsStore(ta *TypedArray, i int, v int32) (int32, error) {
	c, _, err := int32Cell(ta, i)
	if err != nil {
		return 0, err
	}
	c.Store(v)
	return v, nil
}

// AtomicsAdd adds delta to element i and returns the previous value.
func AtomicsAdd(ta *TypedArray, i int, delta int32) (int32, error) {
	c, _, err := int32Cell(ta, i)
	if err != nil {
		return 0, err
	}
	return c.Add(delta) - delta, nil
}

// AtomicsCompareExchange stores replacement if element i equals expected and
// returns the previous value either way.
func AtomicsCompareExchange(ta *TypedArray, i int, expected, replacement int32) (int32, error) {
	c, _, err := int32Cell(ta, i)
	if err != nil {
		return 0, err
	}
	for {
		old := c.Load()
		if old != expected {
			return old, nil
		}
		if c.CompareAndSwap(old, replacement) {
			return old, nil
		}
	}
}

// AtomicsWait blocks agent until element i of a shared Int32 view is
// notified or timeout elapses. The element is compared with expected inside
// the cell's critical section; a mismatch returns WaitNotEqual at once.
func AtomicsWait(ctx context.Context, agent *Agent, ta *TypedArray, i int, expected int32, timeout time.Duration) (WaitResult, error) {
	list, err := sharedWaiters(ta)
	if err != nil {
		return WaitTimedOut, err
	}
	c, addr, err := int32Cell(ta, i)
	if err != nil {
		return WaitTimedOut, err
	}
	if !agent.CanBlock() {
		return WaitTimedOut, ErrCannotBlock
	}
	e := list.GetOrCreateEntry(addr)
	e.EnterCriticalSection()
	defer e.LeaveCriticalSection()
	if c.Load() != expected {
		return WaitNotEqual, nil
	}
	if timeout == 0 {
		return WaitTimedOut, nil
	}
	rec := list.AddWaiter(e, agent, timeout, nil)
	return e.Suspend(ctx, rec)
}

// AtomicsWaitAsync registers an asynchronous wait and returns a promise for
// its result string. Not-equal and zero-timeout outcomes resolve without
// queueing a waiter.
func AtomicsWaitAsync(agent *Agent, ta *TypedArray, i int, expected int32, timeout time.Duration) (*Promise, error) {
	list, err := sharedWaiters(ta)
	if err != nil {
		return nil, err
	}
	c, addr, err := int32Cell(ta, i)
	if err != nil {
		return nil, err
	}
	e := list.GetOrCreateEntry(addr)
	e.EnterCriticalSection()
	if c.Load() != expected {
		e.LeaveCriticalSection()
		return ResolvedPromise(agent, String(WaitNotEqual.String())), nil
	}
	if timeout == 0 {
		e.LeaveCriticalSection()
		return ResolvedPromise(agent, String(WaitTimedOut.String())), nil
	}
	p := NewPromise(agent)
	rec := list.AddWaiter(e, agent, timeout, p)
	e.LeaveCriticalSection()
	agent.EnqueueWaitAsyncJob(rec)
	return p, nil
}

// AtomicsNotify wakes up to count waiters on element i, oldest first. A
// negative count wakes all of them. Non-shared views have no waiters.
func AtomicsNotify(ta *TypedArray, i int, count int) (int, error) {
	_, addr, err := int32Cell(ta, i)
	if err != nil {
		return 0, err
	}
	sab, ok := ta.buffer.(*SharedArrayBuffer)
	if !ok {
		return 0, nil
	}
	return sab.block.waiters.Notify(addr, count), nil
}
