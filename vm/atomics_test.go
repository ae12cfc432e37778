package vm

import (
	"context"
	"testing"
	"time"
)

func sharedInt32(t *testing.T, n int) *TypedArray {
	t.Helper()
	sab := NewSharedArrayBuffer(n * 4)
	ta, err := NewTypedArray(Int32Elements, sab, 0, LengthAuto)
	if err != nil {
		t.Fatalf("NewTypedArray: %v", err)
	}
	return ta
}

func TestAtomicsArithmetic(t *testing.T) {
	ta := sharedInt32(t, 4)

	if _, err := AtomicsStore(ta, 1, 40); err != nil {
		t.Fatalf("AtomicsStore: %v", err)
	}
	if old, _ := AtomicsAdd(ta, 1, 2); old != 40 {
		t.Errorf("AtomicsAdd returned %d, want 40", old)
	}
	if v, _ := AtomicsLoad(ta, 1); v != 42 {
		t.Errorf("AtomicsLoad = %d, want 42", v)
	}
	if old, _ := AtomicsCompareExchange(ta, 1, 7, 9); old != 42 {
		t.Errorf("failed CompareExchange returned %d, want 42", old)
	}
	if old, _ := AtomicsCompareExchange(ta, 1, 42, 9); old != 42 {
		t.Errorf("CompareExchange returned %d, want 42", old)
	}
	if got := ta.Get(1); got != Int(9) {
		t.Errorf("element = %v, want 9", Display(got))
	}
}

func TestAtomicsRejectsBadAccess(t *testing.T) {
	ta := sharedInt32(t, 2)
	if _, err := AtomicsLoad(ta, 2); err == nil {
		t.Error("out of range load succeeded")
	}

	u8, _ := NewTypedArray(Uint8Elements, NewSharedArrayBuffer(8), 0, LengthAuto)
	if _, err := AtomicsLoad(u8, 0); err == nil {
		t.Error("load on a Uint8Array succeeded")
	}

	plain, _ := NewTypedArray(Int32Elements, NewArrayBuffer(8), 0, LengthAuto)
	if _, err := AtomicsWait(context.Background(), NewAgent(), plain, 0, 0, time.Millisecond); err == nil {
		t.Error("wait on a non-shared view succeeded")
	}
}

func TestAtomicsWaitNotEqual(t *testing.T) {
	ta := sharedInt32(t, 1)
	AtomicsStore(ta, 0, 5)

	r, err := AtomicsWait(context.Background(), NewAgent(), ta, 0, 4, Forever)
	if err != nil {
		t.Fatalf("AtomicsWait: %v", err)
	}
	if r != WaitNotEqual {
		t.Errorf("result = %v, want not-equal", r)
	}
}

func TestAtomicsWaitZeroTimeout(t *testing.T) {
	ta := sharedInt32(t, 1)
	r, err := AtomicsWait(context.Background(), NewAgent(), ta, 0, 0, 0)
	if err != nil {
		t.Fatalf("AtomicsWait: %v", err)
	}
	if r != WaitTimedOut {
		t.Errorf("result = %v, want timed-out", r)
	}
}

func TestAtomicsWaitAndNotifyAcrossAgents(t *testing.T) {
	ta := sharedInt32(t, 2)
	sab := ta.Buffer().(*SharedArrayBuffer)

	done := make(chan WaitResult, 1)
	go func() {
		r, err := AtomicsWait(context.Background(), NewAgent(), ta, 1, 0, Forever)
		if err != nil {
			t.Errorf("AtomicsWait: %v", err)
		}
		done <- r
	}()

	// Element 1 lives at byte address 4.
	waitForLen(t, sab.Block().Waiters(), 4, 1)
	AtomicsStore(ta, 1, 1)
	if n, _ := AtomicsNotify(ta, 1, 1); n != 1 {
		t.Fatalf("AtomicsNotify = %d, want 1", n)
	}

	select {
	case r := <-done:
		if r != WaitOK {
			t.Errorf("result = %v, want ok", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestAtomicsWaitAsyncImmediateResults(t *testing.T) {
	a := NewAgent()
	ta := sharedInt32(t, 1)
	AtomicsStore(ta, 0, 3)

	ne, err := AtomicsWaitAsync(a, ta, 0, 0, Forever)
	if err != nil {
		t.Fatalf("AtomicsWaitAsync: %v", err)
	}
	to, err := AtomicsWaitAsync(a, ta, 0, 3, 0)
	if err != nil {
		t.Fatalf("AtomicsWaitAsync: %v", err)
	}
	if ne.Result() != String("not-equal") {
		t.Errorf("not-equal result = %v", Display(ne.Result()))
	}
	if to.Result() != String("timed-out") {
		t.Errorf("zero timeout result = %v", Display(to.Result()))
	}
	if a.PendingWaiters() != 0 {
		t.Errorf("PendingWaiters = %d, want 0", a.PendingWaiters())
	}
}

func TestAtomicsWaitAsyncNotifiedFromAnotherAgent(t *testing.T) {
	a := NewAgent()
	ta := sharedInt32(t, 1)

	p, err := AtomicsWaitAsync(a, ta, 0, 0, Forever)
	if err != nil {
		t.Fatalf("AtomicsWaitAsync: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		AtomicsNotify(ta, 0, -1)
	}()

	if err := a.ProcessAllPromiseJobs(false); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if p.State() != PromiseFulfilled || p.Result() != String("ok") {
		t.Errorf("promise = %v %v, want fulfilled \"ok\"", p.State(), Display(p.Result()))
	}
}
