package vm

import (
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/alphadose/haxmap"
)

// Value is anything a script can hold. The set of variants is closed: every
// implementation lives in this package, so a type switch over Value is
// exhaustive when it covers the types declared here.
type Value interface {
	isValue()
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

// UndefinedType is the type of Undefined.
type UndefinedType struct{}

// NullType is the type of Null.
type NullType struct{}

// Bool is a boolean primitive.
type Bool bool

// Int is an integral number primitive. It compares equal to a Number holding
// the same mathematical value.
type Int int64

// Number is a floating point number primitive.
type Number float64

// String is a string primitive.
type String string

var (
	Undefined = UndefinedType{}
	Null      = NullType{}
	True      = Bool(true)
	False     = Bool(false)
)

func (UndefinedType) isValue() {}
func (NullType) isValue()      {}
func (Bool) isValue()          {}
func (Int) isValue()           {}
func (Number) isValue()        {}
func (String) isValue()        {}
func (*BigInt) isValue()       {}
func (*Symbol) isValue()       {}

// BigInt is an arbitrary precision integer primitive. It is immutable once
// created, so it can be shared between agents.
type BigInt struct {
	v *big.Int
}

// NewBigInt copies x into a new BigInt.
func NewBigInt(x *big.Int) *BigInt {
	return &BigInt{v: new(big.Int).Set(x)}
}

// BigIntFromInt64 returns a BigInt holding n.
func BigIntFromInt64(n int64) *BigInt {
	return &BigInt{v: big.NewInt(n)}
}

// Big returns a copy of the integer.
func (b *BigInt) Big() *big.Int {
	return new(big.Int).Set(b.v)
}

func (b *BigInt) String() string {
	return b.v.String()
}

// Symbol is a symbol primitive. Registered symbols are interned by key in a
// process-wide table and are the only symbols that survive a structured clone.
type Symbol struct {
	description string
	key        string
	registered bool
}

var symbolRegistry = haxmap.New[string, *Symbol]()

// NewSymbol creates a unique symbol.
func NewSymbol(description string) *Symbol {
	return &Symbol{description: description}
}

// SymbolFor returns the registered symbol for key, creating it on first use.
func SymbolFor(key string) *Symbol {
	sym, _ := symbolRegistry.GetOrCompute(key, func() *Symbol {
		return &Symbol{description: key, key: key, registered: true}
	})
	return sym
}

// Description returns the symbol description.
func (s *Symbol) Description() string { return s.description }

// Registered reports whether the symbol came from SymbolFor.
func (s *Symbol) Registered() bool { return s.registered }

// Key returns the registry key of a registered symbol.
func (s *Symbol) Key() string { return s.key }

// IsPrimitive reports whether v is a primitive value.
func IsPrimitive(v Value) bool {
	switch v.(type) {
	case UndefinedType, NullType, Bool, Int, Number, String, *BigInt, *Symbol:
		return true
	}
	return false
}

// TypeName returns a short human readable name for the kind of v, used in
// error messages and logs.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "<nil>"
	case UndefinedType:
		return "undefined"
	case NullType:
		return "null"
	case Bool:
		return "boolean"
	case Int, Number:
		return "number"
	case String:
		return "string"
	case *BigInt:
		return "bigint"
	case *Symbol:
		return "symbol"
	case *Object:
		return "Object"
	case *Array:
		return "Array"
	case *Map:
		return "Map"
	case *Set:
		return "Set"
	case *Date:
		return "Date"
	case *RegExp:
		return "RegExp"
	case *PrimitiveWrapper:
		return "PrimitiveWrapper"
	case *ErrorObject:
		return "Error"
	case *ArrayBuffer:
		return "ArrayBuffer"
	case *SharedArrayBuffer:
		return "SharedArrayBuffer"
	case *TypedArray:
		return "TypedArray"
	case *DataView:
		return "DataView"
	case *WasmMemory:
		return "WebAssembly.Memory"
	case *WasmModule:
		return "WebAssembly.Module"
	case *Function:
		return "Function"
	case *Promise:
		return "Promise"
	case *HostObject:
		return "HostObject"
	case *WeakRef:
		return "WeakRef"
	case *FinalizationRegistry:
		return "FinalizationRegistry"
	}
	return fmt.Sprintf("%T", v)
}

// ToNumber converts an Int or Number to float64.
func ToNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Number:
		return float64(n), true
	}
	return 0, false
}

// SameValueZero implements the equality used for Map keys and Set members:
// NaN equals NaN, and +0 equals -0.
func SameValueZero(a, b Value) bool {
	return keyOf(a) == keyOf(b)
}

type nanKey struct{}

type bigKey string

// keyOf normalizes v into a comparable Go value with SameValueZero semantics.
func keyOf(v Value) any {
	switch n := v.(type) {
	case Int:
		return float64(n)
	case Number:
		f := float64(n)
		if math.IsNaN(f) {
			return nanKey{}
		}
		if f == 0 {
			return float64(0)
		}
		return f
	case *BigInt:
		return bigKey(n.v.String())
	}
	return v
}

// Display renders v for diagnostics. It does not follow cycles.
func Display(v Value) string {
	switch t := v.(type) {
	case UndefinedType:
		return "undefined"
	case NullType:
		return "null"
	case Bool:
		return strconv.FormatBool(bool(t))
	case Int:
		return strconv.FormatInt(int64(t), 10)
	case Number:
		return strconv.FormatFloat(float64(t), 'g', -1, 64)
	case String:
		return strconv.Quote(string(t))
	case *BigInt:
		return t.String() + "n"
	case *Symbol:
		return "Symbol(" + t.description + ")"
	case *ErrorObject:
		return t.Type.String() + ": " + t.MessageText()
	}
	return "[" + TypeName(v) + "]"
}
