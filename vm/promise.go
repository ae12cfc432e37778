package vm

// ---------------------------------------------------------------------------
// Promise
// ---------------------------------------------------------------------------

// PromiseCapability is the handle used to settle a promise from outside,
// such as the resolution of an async wait.
type PromiseCapability interface {
	Resolve(v Value) error
	Reject(reason Value) error
}

// PromiseState is the settlement state of a promise.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

func (s PromiseState) String() string {
	switch s {
	case PromiseFulfilled:
		return "fulfilled"
	case PromiseRejected:
		return "rejected"
	}
	return "pending"
}

// Handler is a Go-level promise reaction. Returning an error rejects the
// derived promise with the thrown value.
type Handler func(v Value) (Value, error)

type reaction struct {
	derived     *Promise
	onFulfilled Handler
	onRejected  Handler
}

// Promise is a promise owned by one agent. Reactions run as that agent's
// promise jobs, so a Promise must only be touched from the agent's goroutine.
type Promise struct {
	agent     *Agent
	state     PromiseState
	result    Value
	reactions []reaction
	handled   bool
	resolved  bool
}

func (*Promise) isValue() {}

// NewPromise creates a pending promise owned by agent.
func NewPromise(agent *Agent) *Promise {
	return &Promise{agent: agent, result: Undefined}
}

// ResolvedPromise returns a promise resolved with v.
func ResolvedPromise(agent *Agent, v Value) *Promise {
	p := NewPromise(agent)
	_ = p.Resolve(v)
	return p
}

// RejectedPromise returns a promise rejected with reason.
func RejectedPromise(agent *Agent, reason Value) *Promise {
	p := NewPromise(agent)
	_ = p.Reject(reason)
	return p
}

// State returns the settlement state.
func (p *Promise) State() PromiseState { return p.state }

// Result returns the fulfillment value or rejection reason.
func (p *Promise) Result() Value { return p.result }

// Resolve resolves the promise. Resolving with another promise adopts its
// eventual state through a promise job. Later calls are ignored.
func (p *Promise) Resolve(v Value) error {
	if p.resolved {
		return nil
	}
	p.resolved = true
	p.resolve(v)
	return nil
}

func (p *Promise) resolve(v Value) {
	if v == Value(p) {
		p.settle(PromiseRejected, NewError(TypeError, "chaining cycle detected for promise"))
		return
	}
	if other, ok := v.(*Promise); ok {
		p.agent.EnqueuePromiseJob(func() error {
			other.then(p, nil, nil)
			return nil
		})
		return
	}
	p.settle(PromiseFulfilled, v)
}

// Reject rejects the promise. Later calls are ignored.
func (p *Promise) Reject(reason Value) error {
	if p.resolved {
		return nil
	}
	p.resolved = true
	p.settle(PromiseRejected, reason)
	return nil
}

func (p *Promise) settle(state PromiseState, v Value) {
	if p.state != PromisePending {
		return
	}
	p.state = state
	p.result = v
	reactions := p.reactions
	p.reactions = nil
	if state == PromiseRejected && !p.handled && p.agent.tracker != nil {
		p.agent.tracker.Rejected(p)
	}
	for _, r := range reactions {
		p.enqueueReaction(r)
	}
}

// Then registers Go handlers and returns the derived promise. A nil handler
// passes the settlement through.
func (p *Promise) Then(onFulfilled, onRejected Handler) *Promise {
	derived := NewPromise(p.agent)
	p.then(derived, onFulfilled, onRejected)
	return derived
}

// ThenCall registers script functions as handlers.
func (p *Promise) ThenCall(onFulfilled, onRejected Value) *Promise {
	return p.Then(functionHandler(onFulfilled), functionHandler(onRejected))
}

func functionHandler(v Value) Handler {
	fn, ok := v.(*Function)
	if !ok {
		return nil
	}
	return func(arg Value) (Value, error) {
		return fn.Call(Undefined, arg)
	}
}

func (p *Promise) then(derived *Promise, onFulfilled, onRejected Handler) {
	r := reaction{derived: derived, onFulfilled: onFulfilled, onRejected: onRejected}
	switch p.state {
	case PromisePending:
		p.reactions = append(p.reactions, r)
	case PromiseRejected:
		if !p.handled && p.agent.tracker != nil {
			p.agent.tracker.Handled(p)
		}
		p.enqueueReaction(r)
	default:
		p.enqueueReaction(r)
	}
	p.handled = true
}

func (p *Promise) enqueueReaction(r reaction) {
	state, result := p.state, p.result
	p.agent.EnqueuePromiseJob(func() error {
		handler := r.onFulfilled
		if state == PromiseRejected {
			handler = r.onRejected
		}
		if handler == nil {
			if r.derived == nil {
				return nil
			}
			if state == PromiseRejected {
				r.derived.settle(PromiseRejected, result)
			} else {
				r.derived.resolve(result)
			}
			return nil
		}
		v, err := handler(result)
		if r.derived == nil {
			return err
		}
		if err != nil {
			r.derived.settle(PromiseRejected, ThrownValue(err))
			return nil
		}
		r.derived.resolve(v)
		return nil
	})
}
