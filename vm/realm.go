package vm

import (
	"context"
	"errors"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Realm: an isolated execution environment
// ---------------------------------------------------------------------------

// Realm is an isolated environment: a global object plus a cancellation
// context. Code evaluated in a realm polls Interrupted at its safepoints;
// Close cancels the context so the running code and any goroutine blocked on
// the realm's behalf can unwind.
type Realm struct {
	agent   *Agent
	globals *Object
	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// NewRealm creates a realm whose active agent is agent. The realm's context
// derives from ctx.
func NewRealm(ctx context.Context, agent *Agent) *Realm {
	ctx, cancel := context.WithCancel(ctx)
	return &Realm{
		agent:   agent,
		globals: NewObject(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Agent returns the realm's active agent.
func (r *Realm) Agent() *Agent { return r.agent }

// SetAgent installs agent as the active agent. Workers call it from their
// own goroutine before evaluating anything.
func (r *Realm) SetAgent(agent *Agent) { r.agent = agent }

// Globals returns the global object.
func (r *Realm) Globals() *Object { return r.globals }

// Context is cancelled when the realm is closed.
func (r *Realm) Context() context.Context { return r.ctx }

// Close force-closes the realm. Safe to call more than once and from any
// goroutine.
func (r *Realm) Close() {
	if r.closed.CompareAndSwap(false, true) {
		r.cancel()
	}
}

// Closed reports whether Close has been called.
func (r *Realm) Closed() bool { return r.closed.Load() }

// Interrupted returns ErrInterrupted once the realm has been closed.
func (r *Realm) Interrupted() error {
	if r.ctx.Err() != nil {
		return ErrInterrupted
	}
	return nil
}

// IsInterrupt reports whether err is an interrupt signal rather than a
// runtime failure.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled) || errors.Is(err, ErrAgentTerminated)
}

// MessageHandler returns the global onmessage callable, if one is installed.
func (r *Realm) MessageHandler() (*Function, bool) {
	fn, ok := r.globals.Get("onmessage").(*Function)
	return fn, ok
}

// Define installs a global binding.
func (r *Realm) Define(name string, v Value) { r.globals.Set(name, v) }

// DefineFunction installs a native global function.
func (r *Realm) DefineFunction(name string, fn NativeFunc) *Function {
	f := NewFunction(name, fn)
	r.globals.Set(name, f)
	return f
}

// CallFromHost invokes fn from outside script code. When the script stack
// becomes empty on return the agent's promise jobs are drained.
func (r *Realm) CallFromHost(fn Value, this Value, args ...Value) (Value, error) {
	if err := r.Interrupted(); err != nil {
		return Undefined, err
	}
	r.agent.InteropEnter()
	v, err := Call(fn, this, args...)
	if r.agent.InteropExit() && err == nil {
		err = r.agent.ProcessAllPromiseJobs(true)
	}
	return v, err
}
