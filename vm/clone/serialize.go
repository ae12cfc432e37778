package clone

import (
	"github.com/chazu/relay/vm"
)

type serializer struct {
	memory      map[vm.Value]int
	records     []Record
	transferred map[*vm.ArrayBuffer]bool
}

// Serialize flattens v into an envelope. Every value in transfer must be an
// ArrayBuffer; those buffers are written first and detached from the sender
// once the whole graph has been serialized. On failure no envelope is
// returned and nothing is detached.
func Serialize(v vm.Value, transfer []vm.Value) (*Envelope, error) {
	s := &serializer{
		memory:      make(map[vm.Value]int),
		transferred: make(map[*vm.ArrayBuffer]bool, len(transfer)),
	}

	buffers := make([]*vm.ArrayBuffer, 0, len(transfer))
	for _, t := range transfer {
		switch b := t.(type) {
		case *vm.ArrayBuffer:
			if s.transferred[b] {
				return nil, uncloneable(b, "duplicate entry in transfer list")
			}
			if b.Detached() {
				return nil, uncloneable(b, "already detached")
			}
			s.transferred[b] = true
			buffers = append(buffers, b)
		case *vm.SharedArrayBuffer:
			return nil, uncloneable(b, "shared memory cannot be transferred")
		default:
			return nil, uncloneable(t, "not transferable")
		}
	}

	for _, b := range buffers {
		if err := s.write(b); err != nil {
			return nil, err
		}
	}
	if err := s.write(v); err != nil {
		return nil, err
	}

	for _, b := range buffers {
		b.Detach()
	}
	return &Envelope{TransferCount: len(buffers), Records: s.records}, nil
}

func (s *serializer) emit(r Record) {
	s.records = append(s.records, r)
}

func (s *serializer) write(v vm.Value) error {
	if v == nil {
		v = vm.Undefined
	}
	if vm.IsPrimitive(v) {
		if sym, ok := v.(*vm.Symbol); ok && !sym.Registered() {
			return uncloneable(v, "unique symbol")
		}
		s.emit(PrimitiveRecord{Value: v})
		return nil
	}
	if id, ok := s.memory[v]; ok {
		s.emit(DuplicateRecord{ID: id})
		return nil
	}
	s.memory[v] = len(s.memory)

	switch t := v.(type) {
	case *vm.PrimitiveWrapper:
		if sym, ok := t.Inner.(*vm.Symbol); ok && !sym.Registered() {
			return uncloneable(v, "boxed unique symbol")
		}
		s.emit(BoxedRecord{Wrapper: t.Kind, Value: t.Inner})
	case *vm.Date:
		s.emit(DateRecord{Millis: t.Millis})
	case *vm.RegExp:
		s.emit(RegExpRecord{Source: t.Source, Flags: t.Flags})
	case *vm.SharedArrayBuffer:
		b := t.Block()
		s.emit(SharedArrayBufferRecord{
			Data:          b.Data(),
			ByteLength:    b.ByteLengthCell(),
			MaxByteLength: b.MaxByteLength(),
			Waiters:       b.Waiters(),
		})
	case *vm.ArrayBuffer:
		if t.Detached() {
			return uncloneable(v, "detached")
		}
		content := t.Bytes()
		if !s.transferred[t] {
			content = append([]byte(nil), content...)
		}
		s.emit(ArrayBufferRecord{
			Content:       content,
			ByteLength:    t.ByteLength(),
			MaxByteLength: t.MaxByteLength(),
		})
	case *vm.TypedArray:
		if t.OutOfBounds() {
			return uncloneable(v, "out of bounds")
		}
		s.emit(ArrayBufferViewRecord{
			Element:    t.Kind,
			Length:     t.FixedLength(),
			ByteOffset: t.ByteOffset(),
		})
		return s.write(t.Buffer())
	case *vm.DataView:
		if t.OutOfBounds() {
			return uncloneable(v, "out of bounds")
		}
		s.emit(DataViewRecord{Length: t.FixedLength(), ByteOffset: t.ByteOffset()})
		return s.write(t.Buffer())
	case *vm.Map:
		return s.writeMap(t)
	case *vm.Set:
		return s.writeSet(t)
	case *vm.ErrorObject:
		return s.writeError(t)
	case *vm.Array:
		keys := t.EnumerableKeys()
		s.emit(ArrayRecord{Length: t.Length(), PropertyCount: len(keys)})
		return s.writeProperties(&t.Object, keys)
	case *vm.Object:
		keys := t.EnumerableKeys()
		s.emit(ObjectRecord{PropertyCount: len(keys)})
		return s.writeProperties(t, keys)
	case *vm.WasmMemory:
		s.emit(WasmMemoryRecord{Handle: t.Handle})
	case *vm.WasmModule:
		s.emit(WasmModuleRecord{Handle: t.Handle})
	default:
		return uncloneable(v, "")
	}
	return nil
}

func (s *serializer) writeProperties(o *vm.Object, keys []string) error {
	for _, k := range keys {
		s.emit(PrimitiveRecord{Value: vm.String(k)})
		if err := s.write(o.Get(k)); err != nil {
			return err
		}
	}
	return nil
}

func (s *serializer) writeMap(m *vm.Map) error {
	var pairs [][2]vm.Value
	m.Range(func(k, v vm.Value) bool {
		pairs = append(pairs, [2]vm.Value{k, v})
		return true
	})
	s.emit(MapRecord{Count: len(pairs)})
	for _, p := range pairs {
		if err := s.write(p[0]); err != nil {
			return err
		}
		if err := s.write(p[1]); err != nil {
			return err
		}
	}
	return nil
}

func (s *serializer) writeSet(set *vm.Set) error {
	var members []vm.Value
	set.Range(func(v vm.Value) bool {
		members = append(members, v)
		return true
	})
	s.emit(SetRecord{Count: len(members)})
	for _, m := range members {
		if err := s.write(m); err != nil {
			return err
		}
	}
	return nil
}

// writeError keeps the subtype, a textual message and stack, and the cause.
// Other own properties are dropped.
func (s *serializer) writeError(e *vm.ErrorObject) error {
	s.emit(ErrorRecord{Type: e.Type, HasCause: e.HasCause})
	var message vm.Value = vm.Undefined
	if m, ok := e.Message.(vm.String); ok {
		message = m
	}
	s.emit(PrimitiveRecord{Value: message})
	var stack vm.Value = vm.Undefined
	if st, ok := e.Stack.(vm.String); ok {
		stack = st
	}
	s.emit(PrimitiveRecord{Value: stack})
	if !e.HasCause {
		s.emit(PrimitiveRecord{Value: vm.Undefined})
		return nil
	}
	return s.write(e.Cause)
}
