// Package clone implements structured cloning: the value-graph serialization
// used to pass messages between agents. A value is flattened into an
// Envelope, a preorder stream of records in which shared and cyclic
// references are expressed as Duplicate records pointing back at an earlier
// id.
package clone

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/chazu/relay/vm"
)

// Kind identifies a record in an envelope.
type Kind uint8

const (
	KindPrimitive Kind = iota + 1
	KindDuplicate
	KindBoolean
	KindNumber
	KindBigInt
	KindString
	KindDate
	KindRegExp
	KindSharedArrayBuffer
	KindArrayBuffer
	KindArrayBufferView
	KindDataView
	KindMap
	KindSet
	KindError
	KindArray
	KindObject
	KindWasmMemory
	KindWasmModule
)

var kindNames = [...]string{
	KindPrimitive:         "Primitive",
	KindDuplicate:         "Duplicate",
	KindBoolean:           "Boolean",
	KindNumber:            "Number",
	KindBigInt:            "BigInt",
	KindString:            "String",
	KindDate:              "Date",
	KindRegExp:            "RegExp",
	KindSharedArrayBuffer: "SharedArrayBuffer",
	KindArrayBuffer:       "ArrayBuffer",
	KindArrayBufferView:   "ArrayBufferView",
	KindDataView:          "DataView",
	KindMap:               "Map",
	KindSet:               "Set",
	KindError:             "Error",
	KindArray:             "Array",
	KindObject:            "Object",
	KindWasmMemory:        "WebAssemblyMemory",
	KindWasmModule:        "WebAssemblyModule",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Record is one instruction of an envelope. The set of records is closed;
// nested values follow their container's record in the stream.
type Record interface {
	Kind() Kind
	isRecord()
}

// PrimitiveRecord carries a primitive inline. Primitives never get an id.
type PrimitiveRecord struct {
	Value vm.Value
}

// DuplicateRecord refers back to the value with the given id.
type DuplicateRecord struct {
	ID int `cbor:"1,keyasint"`
}

// BoxedRecord is a boxed primitive; its Kind follows the wrapper kind.
type BoxedRecord struct {
	Wrapper vm.WrapperKind
	Value   vm.Value
}

// DateRecord is a Date in epoch milliseconds.
type DateRecord struct {
	Millis float64 `cbor:"1,keyasint"`
}

// RegExpRecord is a regular expression's pattern and flags.
type RegExpRecord struct {
	Source string `cbor:"1,keyasint"`
	Flags  string `cbor:"2,keyasint"`
}

// SharedArrayBufferRecord carries the handles of a shared block. The
// receiver shares every one of them with the sender.
type SharedArrayBufferRecord struct {
	Data          []byte
	ByteLength    *atomic.Uint64
	MaxByteLength int
	Waiters       *vm.WaiterList
}

// ArrayBufferRecord carries a buffer's bytes. Content is a private copy,
// or the sender's own slice for a transferred buffer.
type ArrayBufferRecord struct {
	Content       []byte `cbor:"1,keyasint"`
	ByteLength    int    `cbor:"2,keyasint"`
	MaxByteLength int    `cbor:"3,keyasint"`
}

// ArrayBufferViewRecord is a typed array; its buffer follows.
type ArrayBufferViewRecord struct {
	Element    vm.ElementKind `cbor:"1,keyasint"`
	Length     int            `cbor:"2,keyasint"` // vm.LengthAuto when tracking
	ByteOffset int            `cbor:"3,keyasint"`
}

// DataViewRecord is a DataView; its buffer follows.
type DataViewRecord struct {
	Length     int `cbor:"1,keyasint"` // vm.LengthAuto when tracking
	ByteOffset int `cbor:"2,keyasint"`
}

// MapRecord is followed by Count key, value pairs.
type MapRecord struct {
	Count int `cbor:"1,keyasint"`
}

// SetRecord is followed by Count members.
type SetRecord struct {
	Count int `cbor:"1,keyasint"`
}

// ErrorRecord is followed by the message, the stack and the cause, each of
// which may be undefined. HasCause separates an undefined cause from none.
type ErrorRecord struct {
	Type     vm.ErrorType `cbor:"1,keyasint"`
	HasCause bool         `cbor:"2,keyasint"`
}

// ArrayRecord is followed by PropertyCount key, value pairs. Length is
// explicit since arrays may be sparse.
type ArrayRecord struct {
	Length        uint64 `cbor:"1,keyasint"`
	PropertyCount int    `cbor:"2,keyasint"`
}

// ObjectRecord is followed by PropertyCount key, value pairs.
type ObjectRecord struct {
	PropertyCount int `cbor:"1,keyasint"`
}

// WasmMemoryRecord carries an opaque memory handle.
type WasmMemoryRecord struct {
	Handle any
}

// WasmModuleRecord carries an opaque module handle.
type WasmModuleRecord struct {
	Handle any
}

func (PrimitiveRecord) Kind() Kind         { return KindPrimitive }
func (DuplicateRecord) Kind() Kind         { return KindDuplicate }
func (DateRecord) Kind() Kind              { return KindDate }
func (RegExpRecord) Kind() Kind            { return KindRegExp }
func (SharedArrayBufferRecord) Kind() Kind { return KindSharedArrayBuffer }
func (ArrayBufferRecord) Kind() Kind       { return KindArrayBuffer }
func (ArrayBufferViewRecord) Kind() Kind   { return KindArrayBufferView }
func (DataViewRecord) Kind() Kind          { return KindDataView }
func (MapRecord) Kind() Kind               { return KindMap }
func (SetRecord) Kind() Kind               { return KindSet }
func (ErrorRecord) Kind() Kind             { return KindError }
func (ArrayRecord) Kind() Kind             { return KindArray }
func (ObjectRecord) Kind() Kind            { return KindObject }
func (WasmMemoryRecord) Kind() Kind        { return KindWasmMemory }
func (WasmModuleRecord) Kind() Kind        { return KindWasmModule }

func (r BoxedRecord) Kind() Kind {
	switch r.Wrapper {
	case vm.WrapperBoolean:
		return KindBoolean
	case vm.WrapperNumber:
		return KindNumber
	case vm.WrapperBigInt:
		return KindBigInt
	}
	return KindString
}

func (PrimitiveRecord) isRecord()         {}
func (DuplicateRecord) isRecord()         {}
func (BoxedRecord) isRecord()             {}
func (DateRecord) isRecord()              {}
func (RegExpRecord) isRecord()            {}
func (SharedArrayBufferRecord) isRecord() {}
func (ArrayBufferRecord) isRecord()       {}
func (ArrayBufferViewRecord) isRecord()   {}
func (DataViewRecord) isRecord()          {}
func (MapRecord) isRecord()               {}
func (SetRecord) isRecord()               {}
func (ErrorRecord) isRecord()             {}
func (ArrayRecord) isRecord()             {}
func (ObjectRecord) isRecord()            {}
func (WasmMemoryRecord) isRecord()        {}
func (WasmModuleRecord) isRecord()        {}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope is a serialized message: TransferCount transferred buffers
// followed by the root value, all as one record stream.
//
// The first Deserialize takes ownership of the buffer contents in the
// records; later calls copy them, so every value graph gets its own memory.
type Envelope struct {
	TransferCount int
	Records       []Record

	adopted atomic.Bool
}

// Portable reports whether the envelope can leave the process. Shared
// memory and wasm handles only make sense inside it.
func (e *Envelope) Portable() bool {
	for _, r := range e.Records {
		switch r.(type) {
		case SharedArrayBufferRecord, WasmMemoryRecord, WasmModuleRecord:
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrDataClone is the condition every clone failure wraps.
	ErrDataClone = errors.New("clone: value could not be cloned")
	// ErrMalformedEnvelope is returned when a record stream cannot be replayed.
	ErrMalformedEnvelope = errors.New("clone: malformed envelope")
	// ErrNotPortable is returned when marshaling an envelope that holds
	// process-local handles.
	ErrNotPortable = errors.New("clone: envelope is not portable")
)

// Error describes why a value could not be cloned.
type Error struct {
	Type   string // the offending value's type name
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("clone: %s could not be cloned", e.Type)
	}
	return fmt.Sprintf("clone: %s could not be cloned: %s", e.Type, e.Reason)
}

func (e *Error) Unwrap() error { return ErrDataClone }

func uncloneable(v vm.Value, reason string) error {
	return &Error{Type: vm.TypeName(v), Reason: reason}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, fmt.Sprintf(format, args...))
}
