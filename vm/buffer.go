package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"
)

// NotResizable is the max-byte-length of a fixed-length buffer.
const NotResizable = -1

// ---------------------------------------------------------------------------
// ArrayBuffer
// ---------------------------------------------------------------------------

// ArrayBuffer is a block of bytes owned by one agent. It can be detached
// when transferred to another agent, after which it is zero length and
// unusable.
type ArrayBuffer struct {
	data          []byte
	maxByteLength int
	detached      bool
}

func (*ArrayBuffer) isValue() {}

// NewArrayBuffer allocates a zeroed fixed-length buffer.
func NewArrayBuffer(n int) *ArrayBuffer {
	return &ArrayBuffer{data: make([]byte, n), maxByteLength: NotResizable}
}

// NewArrayBufferFrom creates a fixed-length buffer holding a copy of b.
func NewArrayBufferFrom(b []byte) *ArrayBuffer {
	return &ArrayBuffer{data: append([]byte(nil), b...), maxByteLength: NotResizable}
}

// AdoptArrayBuffer creates a buffer that takes ownership of data without
// copying it. A resizable buffer is reallocated when data lacks capacity.
func AdoptArrayBuffer(data []byte, max int) (*ArrayBuffer, error) {
	if max == NotResizable {
		return &ArrayBuffer{data: data, maxByteLength: NotResizable}, nil
	}
	if len(data) > max {
		return nil, ThrowError(RangeError, "byte length %d exceeds max byte length %d", len(data), max)
	}
	if cap(data) < max {
		grown := make([]byte, len(data), max)
		copy(grown, data)
		data = grown
	}
	return &ArrayBuffer{data: data, maxByteLength: max}, nil
}

// NewResizableArrayBuffer allocates a buffer that can be resized up to max.
func NewResizableArrayBuffer(n, max int) (*ArrayBuffer, error) {
	if n < 0 || n > max {
		return nil, ThrowError(RangeError, "byte length %d exceeds max byte length %d", n, max)
	}
	return &ArrayBuffer{data: make([]byte, n, max), maxByteLength: max}, nil
}

// Bytes returns the live contents. Nil once detached.
func (b *ArrayBuffer) Bytes() []byte { return b.data }

// ByteLength returns the current length, zero once detached.
func (b *ArrayBuffer) ByteLength() int { return len(b.data) }

// MaxByteLength returns the max length of a resizable buffer, or NotResizable.
func (b *ArrayBuffer) MaxByteLength() int { return b.maxByteLength }

// Resizable reports whether the buffer was created resizable.
func (b *ArrayBuffer) Resizable() bool { return b.maxByteLength != NotResizable }

// Detached reports whether the buffer has been detached.
func (b *ArrayBuffer) Detached() bool { return b.detached }

// Detach releases the contents. Views over the buffer see length zero.
func (b *ArrayBuffer) Detach() {
	b.data = nil
	b.detached = true
}

// Resize changes the length of a resizable buffer, zero filling growth.
func (b *ArrayBuffer) Resize(n int) error {
	switch {
	case b.detached:
		return ThrowError(TypeError, "cannot resize a detached ArrayBuffer")
	case !b.Resizable():
		return ThrowError(TypeError, "ArrayBuffer is not resizable")
	case n < 0 || n > b.maxByteLength:
		return ThrowError(RangeError, "invalid length %d", n)
	}
	old := len(b.data)
	b.data = b.data[:n]
	for i := old; i < n; i++ {
		b.data[i] = 0
	}
	return nil
}

// ---------------------------------------------------------------------------
// SharedArrayBuffer
// ---------------------------------------------------------------------------

// SharedBlock is memory shared by every SharedArrayBuffer that was cloned
// from the same original. The byte slice is allocated at its maximum length
// up front so growth never moves it; the byte-length cell is read and grown
// atomically.
type SharedBlock struct {
	data          []byte
	byteLength    *atomic.Uint64
	maxByteLength int
	waiters       *WaiterList
}

// NewSharedBlock allocates a shared block of n bytes, growable up to max
// (or fixed when max is NotResizable).
func NewSharedBlock(n, max int, opts ...WaiterListOption) (*SharedBlock, error) {
	capacity := n
	if max != NotResizable {
		if n < 0 || n > max {
			return nil, ThrowError(RangeError, "byte length %d exceeds max byte length %d", n, max)
		}
		capacity = max
	}
	length := new(atomic.Uint64)
	length.Store(uint64(n))
	return &SharedBlock{
		data:          make([]byte, capacity),
		byteLength:    length,
		maxByteLength: max,
		waiters:       NewWaiterList(opts...),
	}, nil
}

// SharedBlockFromParts reassembles a block from the handles carried by a
// structured clone record. Every part is shared with the original.
func SharedBlockFromParts(data []byte, byteLength *atomic.Uint64, max int, waiters *WaiterList) *SharedBlock {
	return &SharedBlock{data: data, byteLength: byteLength, maxByteLength: max, waiters: waiters}
}

// Data returns the full backing slice, including not yet grown bytes.
func (s *SharedBlock) Data() []byte { return s.data }

// ByteLengthCell returns the shared length cell.
func (s *SharedBlock) ByteLengthCell() *atomic.Uint64 { return s.byteLength }

// MaxByteLength returns the growth limit, or NotResizable.
func (s *SharedBlock) MaxByteLength() int { return s.maxByteLength }

// Waiters returns the waiter list guarding this block's cells.
func (s *SharedBlock) Waiters() *WaiterList { return s.waiters }

// SharedArrayBuffer is one agent's handle onto a SharedBlock.
type SharedArrayBuffer struct {
	block *SharedBlock
}

func (*SharedArrayBuffer) isValue() {}

// NewSharedArrayBuffer allocates a fixed-length shared buffer.
func NewSharedArrayBuffer(n int, opts ...WaiterListOption) *SharedArrayBuffer {
	block, _ := NewSharedBlock(n, NotResizable, opts...)
	return &SharedArrayBuffer{block: block}
}

// NewGrowableSharedArrayBuffer allocates a shared buffer growable up to max.
func NewGrowableSharedArrayBuffer(n, max int, opts ...WaiterListOption) (*SharedArrayBuffer, error) {
	block, err := NewSharedBlock(n, max, opts...)
	if err != nil {
		return nil, err
	}
	return &SharedArrayBuffer{block: block}, nil
}

// SharedArrayBufferOf wraps an existing block in a new handle.
func SharedArrayBufferOf(block *SharedBlock) *SharedArrayBuffer {
	return &SharedArrayBuffer{block: block}
}

// Block returns the shared block.
func (b *SharedArrayBuffer) Block() *SharedBlock { return b.block }

// ByteLength returns the current length.
func (b *SharedArrayBuffer) ByteLength() int { return int(b.block.byteLength.Load()) }

// Bytes returns the current contents. Concurrent agents may be writing.
func (b *SharedArrayBuffer) Bytes() []byte { return b.block.data[:b.ByteLength()] }

// Growable reports whether the buffer can grow.
func (b *SharedArrayBuffer) Growable() bool { return b.block.maxByteLength != NotResizable }

// Grow raises the length. Shrinking is not allowed.
func (b *SharedArrayBuffer) Grow(n int) error {
	if !b.Growable() {
		return ThrowError(TypeError, "SharedArrayBuffer is not growable")
	}
	if n > b.block.maxByteLength {
		return ThrowError(RangeError, "invalid length %d", n)
	}
	for {
		cur := b.block.byteLength.Load()
		if uint64(n) < cur {
			return ThrowError(RangeError, "cannot shrink SharedArrayBuffer")
		}
		if b.block.byteLength.CompareAndSwap(cur, uint64(n)) {
			return nil
		}
	}
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// BufferSource is a buffer a view can sit on.
type BufferSource interface {
	Value
	ByteLength() int
	Bytes() []byte
}

// LengthAuto marks a view whose length tracks its buffer.
const LengthAuto = -1

// ElementKind is the element type of a typed array.
type ElementKind uint8

const (
	Int8Elements ElementKind = iota
	Uint8Elements
	Uint8ClampedElements
	Int16Elements
	Uint16Elements
	Int32Elements
	Uint32Elements
	Float32Elements
	Float64Elements
	BigInt64Elements
	BigUint64Elements
)

var elementSizes = [...]int{1, 1, 1, 2, 2, 4, 4, 4, 8, 8, 8}

var elementNames = [...]string{
	"Int8Array", "Uint8Array", "Uint8ClampedArray", "Int16Array", "Uint16Array",
	"Int32Array", "Uint32Array", "Float32Array", "Float64Array",
	"BigInt64Array", "BigUint64Array",
}

// Valid reports whether k names a known element type.
func (k ElementKind) Valid() bool { return int(k) < len(elementSizes) }

// Size returns the element size in bytes.
func (k ElementKind) Size() int { return elementSizes[k] }

func (k ElementKind) String() string {
	if k.Valid() {
		return elementNames[k]
	}
	return fmt.Sprintf("ElementKind(%d)", k)
}

// TypedArray is a typed view over a buffer.
type TypedArray struct {
	Kind       ElementKind
	buffer     BufferSource
	byteOffset int
	length     int
}

func (*TypedArray) isValue() {}

// NewTypedArray creates a view of length elements starting at byteOffset.
// LengthAuto makes the view track the buffer's length.
func NewTypedArray(kind ElementKind, buf BufferSource, byteOffset, length int) (*TypedArray, error) {
	if !kind.Valid() {
		return nil, ThrowError(TypeError, "invalid element kind %d", kind)
	}
	size := kind.Size()
	if byteOffset < 0 || byteOffset%size != 0 {
		return nil, ThrowError(RangeError, "start offset of %s should be a multiple of %d", kind, size)
	}
	if length != LengthAuto {
		if length < 0 || byteOffset+length*size > buf.ByteLength() {
			return nil, ThrowError(RangeError, "invalid typed array length %d", length)
		}
	} else if byteOffset > buf.ByteLength() {
		return nil, ThrowError(RangeError, "start offset %d is outside the bounds of the buffer", byteOffset)
	}
	return &TypedArray{Kind: kind, buffer: buf, byteOffset: byteOffset, length: length}, nil
}

// Buffer returns the underlying buffer.
func (t *TypedArray) Buffer() BufferSource { return t.buffer }

// ByteOffset returns the offset into the buffer.
func (t *TypedArray) ByteOffset() int { return t.byteOffset }

// LengthTracking reports whether the length follows the buffer.
func (t *TypedArray) LengthTracking() bool { return t.length == LengthAuto }

// FixedLength returns the declared length, or LengthAuto.
func (t *TypedArray) FixedLength() int { return t.length }

// Length returns the current element count; zero when out of bounds.
func (t *TypedArray) Length() int {
	avail := t.buffer.ByteLength() - t.byteOffset
	if avail < 0 {
		return 0
	}
	if t.length == LengthAuto {
		return avail / t.Kind.Size()
	}
	if t.length*t.Kind.Size() > avail {
		return 0
	}
	return t.length
}

// OutOfBounds reports whether the view no longer fits its buffer, as after
// a resizable buffer shrinks below it.
func (t *TypedArray) OutOfBounds() bool {
	n := t.buffer.ByteLength()
	if t.length == LengthAuto {
		return t.byteOffset > n
	}
	return t.byteOffset+t.length*t.Kind.Size() > n
}

func (t *TypedArray) cell(i int) ([]byte, bool) {
	if i < 0 || i >= t.Length() {
		return nil, false
	}
	start := t.byteOffset + i*t.Kind.Size()
	return t.buffer.Bytes()[start : start+t.Kind.Size()], true
}

// Get reads element i. Out of range reads yield Undefined.
func (t *TypedArray) Get(i int) Value {
	b, ok := t.cell(i)
	if !ok {
		return Undefined
	}
	le := binary.LittleEndian
	switch t.Kind {
	case Int8Elements:
		return Int(int8(b[0]))
	case Uint8Elements, Uint8ClampedElements:
		return Int(b[0])
	case Int16Elements:
		return Int(int16(le.Uint16(b)))
	case Uint16Elements:
		return Int(le.Uint16(b))
	case Int32Elements:
		return Int(int32(le.Uint32(b)))
	case Uint32Elements:
		return Int(le.Uint32(b))
	case Float32Elements:
		return Number(math.Float32frombits(le.Uint32(b)))
	case Float64Elements:
		return Number(math.Float64frombits(le.Uint64(b)))
	case BigInt64Elements:
		return BigIntFromInt64(int64(le.Uint64(b)))
	case BigUint64Elements:
		return NewBigInt(new(big.Int).SetUint64(le.Uint64(b)))
	}
	return Undefined
}

// Set writes element i. Out of range writes are ignored.
func (t *TypedArray) Set(i int, v Value) error {
	if t.Kind == BigInt64Elements || t.Kind == BigUint64Elements {
		n, ok := v.(*BigInt)
		if !ok {
			return ThrowError(TypeError, "cannot convert %s to a BigInt", TypeName(v))
		}
		bits := n.v.Uint64()
		if n.v.Sign() < 0 {
			bits = uint64(n.v.Int64())
		}
		if b, ok := t.cell(i); ok {
			binary.LittleEndian.PutUint64(b, bits)
		}
		return nil
	}
	f, ok := ToNumber(v)
	if !ok {
		return ThrowError(TypeError, "cannot convert %s to a number", TypeName(v))
	}
	b, ok := t.cell(i)
	if !ok {
		return nil
	}
	le := binary.LittleEndian
	switch t.Kind {
	case Int8Elements, Uint8Elements:
		b[0] = byte(int64(f))
	case Uint8ClampedElements:
		b[0] = byte(math.Max(0, math.Min(255, math.RoundToEven(f))))
	case Int16Elements, Uint16Elements:
		le.PutUint16(b, uint16(int64(f)))
	case Int32Elements, Uint32Elements:
		le.PutUint32(b, uint32(int64(f)))
	case Float32Elements:
		le.PutUint32(b, math.Float32bits(float32(f)))
	case Float64Elements:
		le.PutUint64(b, math.Float64bits(f))
	}
	return nil
}

// DataView is an untyped view over a buffer.
type DataView struct {
	buffer     BufferSource
	byteOffset int
	byteLength int
}

func (*DataView) isValue() {}

// NewDataView creates a view of byteLength bytes at byteOffset, or a length
// tracking view when byteLength is LengthAuto.
func NewDataView(buf BufferSource, byteOffset, byteLength int) (*DataView, error) {
	if byteOffset < 0 || byteOffset > buf.ByteLength() {
		return nil, ThrowError(RangeError, "start offset %d is outside the bounds of the buffer", byteOffset)
	}
	if byteLength != LengthAuto && (byteLength < 0 || byteOffset+byteLength > buf.ByteLength()) {
		return nil, ThrowError(RangeError, "invalid DataView length %d", byteLength)
	}
	return &DataView{buffer: buf, byteOffset: byteOffset, byteLength: byteLength}, nil
}

// Buffer returns the underlying buffer.
func (d *DataView) Buffer() BufferSource { return d.buffer }

// ByteOffset returns the offset into the buffer.
func (d *DataView) ByteOffset() int { return d.byteOffset }

// FixedLength returns the declared byte length, or LengthAuto.
func (d *DataView) FixedLength() int { return d.byteLength }

// OutOfBounds reports whether the view no longer fits its buffer.
func (d *DataView) OutOfBounds() bool {
	n := d.buffer.ByteLength()
	if d.byteLength == LengthAuto {
		return d.byteOffset > n
	}
	return d.byteOffset+d.byteLength > n
}

// ByteLength returns the current view length.
func (d *DataView) ByteLength() int {
	avail := d.buffer.ByteLength() - d.byteOffset
	if avail < 0 {
		return 0
	}
	if d.byteLength == LengthAuto {
		return avail
	}
	if d.byteLength > avail {
		return 0
	}
	return d.byteLength
}
