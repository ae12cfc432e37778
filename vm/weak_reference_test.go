package vm

import (
	"runtime"
	"testing"
)

//go:noinline
func newWeakRefToFresh(a *Agent) *WeakRef {
	obj := NewObject()
	obj.Set("x", Int(1))
	w, err := NewWeakRef(a, obj)
	if err != nil {
		panic(err)
	}
	return w
}

func TestWeakRefKeptUntilDrainEnds(t *testing.T) {
	a := NewAgent()
	w := newWeakRefToFresh(a)

	runtime.GC()
	if w.Deref() == Undefined {
		t.Fatal("target collected while in the kept set")
	}
	if a.KeptObjects() == 0 {
		t.Fatal("Deref did not keep the target")
	}

	if err := a.ProcessAllPromiseJobs(true); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if a.KeptObjects() != 0 {
		t.Errorf("KeptObjects = %d after drain, want 0", a.KeptObjects())
	}

	runtime.GC()
	runtime.GC()
	if v := w.Deref(); v != Undefined {
		t.Errorf("Deref = %v after collection, want undefined", Display(v))
	}
}

func TestWeakRefRejectsPrimitives(t *testing.T) {
	if _, err := NewWeakRef(NewAgent(), Int(1)); err == nil {
		t.Fatal("NewWeakRef accepted a primitive")
	}
}

func TestEveryObjectKindCanBeHeldWeakly(t *testing.T) {
	a := NewAgent()
	buf := NewArrayBuffer(8)
	ta, _ := NewTypedArray(Uint8Elements, buf, 0, LengthAuto)
	dv, _ := NewDataView(buf, 0, LengthAuto)
	boxed, _ := NewPrimitiveWrapper(WrapperString, String("s"))
	inner, _ := NewWeakRef(a, NewObject())

	targets := []Value{
		NewObject(), NewArray(), NewMap(), NewSet(), NewDate(0), NewRegExp("a", "g"),
		boxed, NewError(TypeError, "e"), NewFunction("f", nil), NewPromise(a),
		buf, NewSharedArrayBuffer(4), ta, dv, inner, NewFinalizationRegistry(a, nil),
		&WasmMemory{}, &WasmModule{}, &HostObject{}, NewSymbol("unique"),
	}
	for _, target := range targets {
		if !CanBeHeldWeakly(target) {
			t.Errorf("%s cannot be held weakly", TypeName(target))
		}
		w, err := NewWeakRef(a, target)
		if err != nil {
			t.Errorf("NewWeakRef(%s): %v", TypeName(target), err)
			continue
		}
		if w.Deref() != target {
			t.Errorf("Deref of %s returned a different value", TypeName(target))
		}
	}

	r := NewFinalizationRegistry(a, nil)
	for _, token := range []Value{ta, NewSymbol("token")} {
		if err := r.Register(NewObject(), Int(1), token); err != nil {
			t.Errorf("Register with %s token: %v", TypeName(token), err)
		}
	}
}

func TestPrimitivesCannotBeHeldWeakly(t *testing.T) {
	for _, v := range []Value{Undefined, Null, True, Int(1), Number(1.5), String("s"), BigIntFromInt64(1), SymbolFor("registered")} {
		if CanBeHeldWeakly(v) {
			t.Errorf("%s can be held weakly", TypeName(v))
		}
	}
}

//go:noinline
func registerFresh(t *testing.T, r *FinalizationRegistry, held Value) {
	if err := r.Register(NewObject(), held, Undefined); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestFinalizationRegistryCleanupDuringDrain(t *testing.T) {
	a := NewAgent()

	var got []Value
	r := NewFinalizationRegistry(a, NewFunction("cleanup", func(this Value, args []Value) (Value, error) {
		got = append(got, Arg(args, 0))
		return Undefined, nil
	}))
	registerFresh(t, r, String("held"))

	// Cleanup only happens in a drain that processes weak refs.
	runtime.GC()
	runtime.GC()
	if err := a.ProcessAllPromiseJobs(false); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if len(got) != 0 {
		t.Fatal("cleanup ran without processWeakRefs")
	}

	if err := a.ProcessAllPromiseJobs(true); err != nil {
		t.Fatalf("ProcessAllPromiseJobs: %v", err)
	}
	if len(got) != 1 || got[0] != String("held") {
		t.Errorf("cleanup got %v, want [\"held\"]", got)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	runtime.KeepAlive(r)
}

func TestFinalizationRegistryUnregister(t *testing.T) {
	a := NewAgent()
	r := NewFinalizationRegistry(a, nil)
	target := NewObject()
	token := NewObject()

	if err := r.Register(target, String("held"), token); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Unregister(token) {
		t.Fatal("Unregister reported nothing removed")
	}
	if r.Unregister(token) {
		t.Error("second Unregister removed something")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	runtime.KeepAlive(target)
}

func TestFinalizationRegistryRejectsSameTargetAndHeld(t *testing.T) {
	r := NewFinalizationRegistry(NewAgent(), nil)
	obj := NewObject()
	if err := r.Register(obj, obj, Undefined); err == nil {
		t.Fatal("Register accepted target == held")
	}
}
