package vm

import (
	"sync"
	"weak"
)

// ---------------------------------------------------------------------------
// Weak handles
// ---------------------------------------------------------------------------

// weakHandle dereferences a weak pointer; it returns nil once the target has
// been collected.
type weakHandle func() Value

func weakOf[T any, P interface {
	*T
	Value
}](p P) weakHandle {
	wp := weak.Make((*T)(p))
	return func() Value {
		if q := wp.Value(); q != nil {
			return P(q)
		}
		return nil
	}
}

// makeWeak creates a weak handle to a value that can be held weakly: any
// object, or a symbol that is not registered. Registered symbols and other
// primitives live forever and are rejected.
func makeWeak(v Value) (weakHandle, error) {
	switch t := v.(type) {
	case *Object:
		return weakOf(t), nil
	case *Array:
		return weakOf(t), nil
	case *Map:
		return weakOf(t), nil
	case *Set:
		return weakOf(t), nil
	case *Date:
		return weakOf(t), nil
	case *RegExp:
		return weakOf(t), nil
	case *PrimitiveWrapper:
		return weakOf(t), nil
	case *ErrorObject:
		return weakOf(t), nil
	case *Function:
		return weakOf(t), nil
	case *Promise:
		return weakOf(t), nil
	case *ArrayBuffer:
		return weakOf(t), nil
	case *SharedArrayBuffer:
		return weakOf(t), nil
	case *TypedArray:
		return weakOf(t), nil
	case *DataView:
		return weakOf(t), nil
	case *WeakRef:
		return weakOf(t), nil
	case *FinalizationRegistry:
		return weakOf(t), nil
	case *WasmMemory:
		return weakOf(t), nil
	case *WasmModule:
		return weakOf(t), nil
	case *HostObject:
		return weakOf(t), nil
	case *Symbol:
		if !t.Registered() {
			return weakOf(t), nil
		}
	}
	return nil, ThrowError(TypeError, "invalid weak target: %s", TypeName(v))
}

// CanBeHeldWeakly reports whether v may be a WeakRef target, a registry
// target or an unregister token.
func CanBeHeldWeakly(v Value) bool {
	_, err := makeWeak(v)
	return err == nil
}

// ---------------------------------------------------------------------------
// WeakRef
// ---------------------------------------------------------------------------

// WeakRef references an object without keeping it alive. A successful Deref
// keeps the target alive until the agent clears its kept objects at the end
// of the current drain.
type WeakRef struct {
	agent  *Agent
	target weakHandle
}

func (*WeakRef) isValue() {}

// NewWeakRef creates a weak reference to target.
func NewWeakRef(agent *Agent, target Value) (*WeakRef, error) {
	h, err := makeWeak(target)
	if err != nil {
		return nil, err
	}
	agent.AddToKeptObjects(target)
	return &WeakRef{agent: agent, target: h}, nil
}

// Deref returns the target, or Undefined when it has been collected.
func (w *WeakRef) Deref() Value {
	v := w.target()
	if v == nil {
		return Undefined
	}
	w.agent.AddToKeptObjects(v)
	return v
}

// AddToKeptObjects holds v strongly until the next ClearKeptObjects.
func (a *Agent) AddToKeptObjects(v Value) {
	a.kept = append(a.kept, v)
}

// ClearKeptObjects releases everything held by AddToKeptObjects.
func (a *Agent) ClearKeptObjects() {
	a.kept = nil
}

// KeptObjects returns the number of values currently held alive.
func (a *Agent) KeptObjects() int { return len(a.kept) }

// ---------------------------------------------------------------------------
// FinalizationRegistry
// ---------------------------------------------------------------------------

type finalizationCell struct {
	target weakHandle
	held   Value
	token  weakHandle
}

// FinalizationRegistry runs a cleanup callback for registered targets after
// they have been collected. Cleanup happens during the owning agent's drain,
// never from a Go finalizer goroutine.
type FinalizationRegistry struct {
	agent   *Agent
	cleanup *Function
	mu      sync.Mutex
	cells   []*finalizationCell
}

func (*FinalizationRegistry) isValue() {}

// NewFinalizationRegistry creates a registry and registers it with agent as a
// cleanup target. The agent holds it only weakly.
func NewFinalizationRegistry(agent *Agent, cleanup *Function) *FinalizationRegistry {
	r := &FinalizationRegistry{agent: agent, cleanup: cleanup}
	agent.RegisterCleanupTarget(r)
	return r
}

// Register watches target; held is passed to the cleanup callback once
// target is collected. token, if not Undefined, can later unregister the cell.
func (r *FinalizationRegistry) Register(target, held, token Value) error {
	if target == held {
		return ThrowError(TypeError, "target and held value must not be the same")
	}
	th, err := makeWeak(target)
	if err != nil {
		return err
	}
	cell := &finalizationCell{target: th, held: held}
	if token != Undefined {
		if cell.token, err = makeWeak(token); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.cells = append(r.cells, cell)
	r.mu.Unlock()
	return nil
}

// Unregister removes every cell registered with token.
func (r *FinalizationRegistry) Unregister(token Value) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	kept := r.cells[:0]
	for _, c := range r.cells {
		if c.token != nil && c.token() == token {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(r.cells); i++ {
		r.cells[i] = nil
	}
	r.cells = kept
	return removed
}

// Len returns the number of live cells.
func (r *FinalizationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

// CleanupSome invokes callback, or the registry's cleanup function when
// callback is nil, with the held value of every cell whose target has been
// collected. Cells are removed before callbacks run.
func (r *FinalizationRegistry) CleanupSome(callback *Function) error {
	if callback == nil {
		callback = r.cleanup
	}
	r.mu.Lock()
	var dead []*finalizationCell
	live := r.cells[:0]
	for _, c := range r.cells {
		if c.target() == nil {
			dead = append(dead, c)
			continue
		}
		live = append(live, c)
	}
	for i := len(live); i < len(r.cells); i++ {
		r.cells[i] = nil
	}
	r.cells = live
	r.mu.Unlock()

	if callback == nil {
		return nil
	}
	for _, c := range dead {
		if _, err := callback.Call(Undefined, c.held); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCleanupTarget adds a registry to the set cleaned up by
// ProcessAllPromiseJobs(true). The registry is held weakly.
func (a *Agent) RegisterCleanupTarget(r *FinalizationRegistry) {
	a.cleanup = append(a.cleanup, weak.Make(r))
}

// cleanupFinalizationRegistries runs cleanup for every registry still alive
// and forgets the collected ones.
func (a *Agent) cleanupFinalizationRegistries() error {
	live := a.cleanup[:0]
	var targets []*FinalizationRegistry
	for _, wp := range a.cleanup {
		if r := wp.Value(); r != nil {
			live = append(live, wp)
			targets = append(targets, r)
		}
	}
	for i := len(live); i < len(a.cleanup); i++ {
		a.cleanup[i] = weak.Pointer[FinalizationRegistry]{}
	}
	a.cleanup = live
	for _, r := range targets {
		if err := r.CleanupSome(nil); err != nil {
			return err
		}
	}
	return nil
}
