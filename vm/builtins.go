package vm

import (
	"fmt"
	"time"
)

// Date is a point in time, stored as milliseconds since the Unix epoch.
// NaN marks an invalid date.
type Date struct {
	Millis float64
}

func (*Date) isValue() {}

// NewDate creates a Date from epoch milliseconds.
func NewDate(millis float64) *Date {
	return &Date{Millis: millis}
}

// DateFromTime creates a Date from a Go time.
func DateFromTime(t time.Time) *Date {
	return &Date{Millis: float64(t.UnixMilli())}
}

// RegExp carries a regular expression's source and flags. Matching is the
// interpreter's business; the core only moves them around.
type RegExp struct {
	Source string
	Flags  string
}

func (*RegExp) isValue() {}

// NewRegExp creates a RegExp.
func NewRegExp(source, flags string) *RegExp {
	return &RegExp{Source: source, Flags: flags}
}

// ---------------------------------------------------------------------------
// Boxed primitives
// ---------------------------------------------------------------------------

// WrapperKind identifies the primitive type held by a PrimitiveWrapper.
type WrapperKind uint8

const (
	WrapperBoolean WrapperKind = iota + 1
	WrapperNumber
	WrapperBigInt
	WrapperString
)

func (k WrapperKind) String() string {
	switch k {
	case WrapperBoolean:
		return "Boolean"
	case WrapperNumber:
		return "Number"
	case WrapperBigInt:
		return "BigInt"
	case WrapperString:
		return "String"
	}
	return fmt.Sprintf("WrapperKind(%d)", k)
}

// PrimitiveWrapper is a boxed primitive (new Number(1), new String("x")).
type PrimitiveWrapper struct {
	Kind  WrapperKind
	Inner Value
}

func (*PrimitiveWrapper) isValue() {}

// NewPrimitiveWrapper boxes raw as kind. raw must have the matching
// primitive type.
func NewPrimitiveWrapper(kind WrapperKind, raw Value) (*PrimitiveWrapper, error) {
	ok := false
	switch kind {
	case WrapperBoolean:
		_, ok = raw.(Bool)
	case WrapperNumber:
		_, ok = ToNumber(raw)
	case WrapperBigInt:
		_, ok = raw.(*BigInt)
	case WrapperString:
		_, ok = raw.(String)
	}
	if !ok {
		return nil, ThrowError(TypeError, "cannot box %s as %s", TypeName(raw), kind)
	}
	return &PrimitiveWrapper{Kind: kind, Inner: raw}, nil
}

// IsWrapperOf reports whether v is a boxed primitive of the given kind.
func IsWrapperOf(v Value, kind WrapperKind) bool {
	w, ok := v.(*PrimitiveWrapper)
	return ok && w.Kind == kind
}

// ---------------------------------------------------------------------------
// Callables and host values
// ---------------------------------------------------------------------------

// NativeFunc is the Go implementation behind a Function.
type NativeFunc func(this Value, args []Value) (Value, error)

// Function is a callable value. Script functions are supplied by the
// interpreter as NativeFuncs that close over its own state.
type Function struct {
	Name string
	fn   NativeFunc
}

func (*Function) isValue() {}

// NewFunction wraps fn as a callable value.
func NewFunction(name string, fn NativeFunc) *Function {
	return &Function{Name: name, fn: fn}
}

// Call invokes the function.
func (f *Function) Call(this Value, args ...Value) (Value, error) {
	v, err := f.fn(this, args)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return Undefined, nil
	}
	return v, nil
}

// Call invokes callee with (this, args), throwing a TypeError when callee is
// not callable.
func Call(callee, this Value, args ...Value) (Value, error) {
	fn, ok := callee.(*Function)
	if !ok {
		return nil, ThrowError(TypeError, "%s is not a function", TypeName(callee))
	}
	return fn.Call(this, args...)
}

// Arg returns args[i], or Undefined when missing.
func Arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// HostObject wraps an arbitrary Go value owned by the embedder. Host objects
// never cross agent boundaries.
type HostObject struct {
	Data any
}

func (*HostObject) isValue() {}

// WasmMemory is an opaque WebAssembly.Memory handle owned by the embedder's
// wasm engine.
type WasmMemory struct {
	Handle any
}

func (*WasmMemory) isValue() {}

// WasmModule is an opaque compiled WebAssembly.Module handle.
type WasmModule struct {
	Handle any
}

func (*WasmModule) isValue() {}
