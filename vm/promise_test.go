package vm

import (
	"testing"
)

type trackerLog struct {
	rejected  []*Promise
	handled   []*Promise
	processed int
}

func (l *trackerLog) Rejected(p *Promise)     { l.rejected = append(l.rejected, p) }
func (l *trackerLog) Handled(p *Promise)      { l.handled = append(l.handled, p) }
func (l *trackerLog) ReactionJobsProcessed() { l.processed++ }

func TestPromiseReactionsRunAsJobs(t *testing.T) {
	a := NewAgent()
	p := NewPromise(a)

	var got []Value
	p.Then(func(v Value) (Value, error) {
		got = append(got, v)
		return Int(2), nil
	}, nil).Then(func(v Value) (Value, error) {
		got = append(got, v)
		return Undefined, nil
	}, nil)

	p.Resolve(Int(1))
	if len(got) != 0 {
		t.Fatal("reaction ran synchronously")
	}
	if err := a.ProcessAllPromiseJobs(false); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if len(got) != 2 || got[0] != Int(1) || got[1] != Int(2) {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestPromiseSettlesOnce(t *testing.T) {
	a := NewAgent()
	p := NewPromise(a)
	p.Resolve(String("first"))
	p.Reject(String("second"))
	p.Resolve(String("third"))

	if p.State() != PromiseFulfilled || p.Result() != String("first") {
		t.Errorf("promise = %v %v, want fulfilled \"first\"", p.State(), Display(p.Result()))
	}
}

func TestPromiseHandlerErrorRejectsDerived(t *testing.T) {
	a := NewAgent()
	derived := ResolvedPromise(a, Undefined).Then(func(Value) (Value, error) {
		return nil, ThrowError(RangeError, "bad")
	}, nil)

	var reason Value
	derived.Then(nil, func(v Value) (Value, error) {
		reason = v
		return Undefined, nil
	})

	if err := a.ProcessAllPromiseJobs(false); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	e, ok := reason.(*ErrorObject)
	if !ok || e.Type != RangeError || e.MessageText() != "bad" {
		t.Errorf("reason = %v, want RangeError: bad", Display(reason))
	}
}

func TestPromiseAdoptsPromise(t *testing.T) {
	a := NewAgent()
	inner := NewPromise(a)
	outer := NewPromise(a)
	outer.Resolve(inner)

	if err := a.ProcessAllPromiseJobs(false); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if outer.State() != PromisePending {
		t.Fatalf("outer settled before inner: %v", outer.State())
	}

	inner.Resolve(String("done"))
	if err := a.ProcessAllPromiseJobs(false); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if outer.State() != PromiseFulfilled || outer.Result() != String("done") {
		t.Errorf("outer = %v %v, want fulfilled \"done\"", outer.State(), Display(outer.Result()))
	}
}

func TestPromiseSelfResolutionRejects(t *testing.T) {
	a := NewAgent()
	p := NewPromise(a)
	p.Resolve(p)

	if p.State() != PromiseRejected {
		t.Fatalf("State = %v, want rejected", p.State())
	}
	if e, ok := p.Result().(*ErrorObject); !ok || e.Type != TypeError {
		t.Errorf("reason = %v, want TypeError", Display(p.Result()))
	}
}

func TestRejectionTracker(t *testing.T) {
	log := &trackerLog{}
	a := NewAgent(WithRejectionTracker(log))

	p := RejectedPromise(a, String("nope"))
	if len(log.rejected) != 1 || log.rejected[0] != p {
		t.Fatalf("rejected = %v, want [p]", log.rejected)
	}

	p.Then(nil, func(Value) (Value, error) { return Undefined, nil })
	if len(log.handled) != 1 || log.handled[0] != p {
		t.Fatalf("handled = %v, want [p]", log.handled)
	}

	if err := a.ProcessAllPromiseJobs(false); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if log.processed != 1 {
		t.Errorf("processed = %d, want 1", log.processed)
	}
}

func TestRejectionWithHandlerIsNotReported(t *testing.T) {
	log := &trackerLog{}
	a := NewAgent(WithRejectionTracker(log))

	p := NewPromise(a)
	p.Then(nil, func(Value) (Value, error) { return Undefined, nil })
	p.Reject(String("nope"))

	if len(log.rejected) != 0 {
		t.Errorf("rejected = %d, want 0", len(log.rejected))
	}
}

func TestThenCallInvokesFunction(t *testing.T) {
	a := NewAgent()
	var got Value
	fn := NewFunction("onFulfilled", func(this Value, args []Value) (Value, error) {
		got = Arg(args, 0)
		return Undefined, nil
	})
	ResolvedPromise(a, String("x")).ThenCall(fn, Undefined)

	if err := a.ProcessAllPromiseJobs(false); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if got != String("x") {
		t.Errorf("got %v, want \"x\"", Display(got))
	}
}
