package clone

import (
	"github.com/chazu/relay/vm"
)

type deserializer struct {
	records []Record
	pos     int
	values  []vm.Value
	adopt   bool
}

// Deserialize replays the envelope into a fresh value graph. Ids are handed
// out in the order the serializer assigned them, and containers claim
// theirs before their children are read so cycles resolve to the instance
// under construction.
func (e *Envelope) Deserialize() (vm.Value, error) {
	d := &deserializer{records: e.Records, adopt: e.adopted.CompareAndSwap(false, true)}
	for i := 0; i < e.TransferCount; i++ {
		v, err := d.read()
		if err != nil {
			return nil, err
		}
		if _, ok := v.(*vm.ArrayBuffer); !ok {
			return nil, malformed("transferred value %d is %s", i, vm.TypeName(v))
		}
	}
	v, err := d.read()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.records) {
		return nil, malformed("%d trailing records", len(d.records)-d.pos)
	}
	return v, nil
}

func (d *deserializer) next() (Record, error) {
	if d.pos >= len(d.records) {
		return nil, malformed("unexpected end of stream")
	}
	r := d.records[d.pos]
	d.pos++
	return r, nil
}

// reserve claims the next id; set fills it in.
func (d *deserializer) reserve() int {
	d.values = append(d.values, nil)
	return len(d.values) - 1
}

func (d *deserializer) set(id int, v vm.Value) vm.Value {
	d.values[id] = v
	return v
}

func (d *deserializer) store(v vm.Value) vm.Value {
	return d.set(d.reserve(), v)
}

func (d *deserializer) read() (vm.Value, error) {
	rec, err := d.next()
	if err != nil {
		return nil, err
	}
	switch r := rec.(type) {
	case PrimitiveRecord:
		if r.Value == nil || !vm.IsPrimitive(r.Value) {
			return nil, malformed("primitive record holds %s", vm.TypeName(r.Value))
		}
		return r.Value, nil
	case DuplicateRecord:
		if r.ID < 0 || r.ID >= len(d.values) || d.values[r.ID] == nil {
			return nil, malformed("duplicate of unknown id %d", r.ID)
		}
		return d.values[r.ID], nil
	case BoxedRecord:
		w, err := vm.NewPrimitiveWrapper(r.Wrapper, r.Value)
		if err != nil {
			return nil, malformed("boxed %s: %v", r.Wrapper, err)
		}
		return d.store(w), nil
	case DateRecord:
		return d.store(vm.NewDate(r.Millis)), nil
	case RegExpRecord:
		return d.store(vm.NewRegExp(r.Source, r.Flags)), nil
	case SharedArrayBufferRecord:
		if r.Data == nil || r.ByteLength == nil || r.Waiters == nil {
			return nil, malformed("incomplete shared buffer record")
		}
		block := vm.SharedBlockFromParts(r.Data, r.ByteLength, r.MaxByteLength, r.Waiters)
		return d.store(vm.SharedArrayBufferOf(block)), nil
	case ArrayBufferRecord:
		if len(r.Content) != r.ByteLength {
			return nil, malformed("buffer holds %d bytes, declares %d", len(r.Content), r.ByteLength)
		}
		content := r.Content
		if !d.adopt {
			content = append([]byte(nil), content...)
		}
		b, err := vm.AdoptArrayBuffer(content, r.MaxByteLength)
		if err != nil {
			return nil, malformed("buffer: %v", err)
		}
		return d.store(b), nil
	case ArrayBufferViewRecord:
		id := d.reserve()
		buf, err := d.readBuffer()
		if err != nil {
			return nil, err
		}
		ta, err := vm.NewTypedArray(r.Element, buf, r.ByteOffset, r.Length)
		if err != nil {
			return nil, malformed("typed array: %v", err)
		}
		return d.set(id, ta), nil
	case DataViewRecord:
		id := d.reserve()
		buf, err := d.readBuffer()
		if err != nil {
			return nil, err
		}
		dv, err := vm.NewDataView(buf, r.ByteOffset, r.Length)
		if err != nil {
			return nil, malformed("data view: %v", err)
		}
		return d.set(id, dv), nil
	case MapRecord:
		m := vm.NewMap()
		d.store(m)
		for i := 0; i < r.Count; i++ {
			k, err := d.read()
			if err != nil {
				return nil, err
			}
			v, err := d.read()
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	case SetRecord:
		s := vm.NewSet()
		d.store(s)
		for i := 0; i < r.Count; i++ {
			v, err := d.read()
			if err != nil {
				return nil, err
			}
			s.Add(v)
		}
		return s, nil
	case ErrorRecord:
		return d.readError(r)
	case ArrayRecord:
		arr := vm.NewArray()
		d.store(arr)
		if err := d.readProperties(r.PropertyCount, arr.Set); err != nil {
			return nil, err
		}
		if err := arr.SetLength(r.Length); err != nil {
			return nil, malformed("array: %v", err)
		}
		return arr, nil
	case ObjectRecord:
		obj := vm.NewObject()
		d.store(obj)
		if err := d.readProperties(r.PropertyCount, obj.Set); err != nil {
			return nil, err
		}
		return obj, nil
	case WasmMemoryRecord:
		return d.store(&vm.WasmMemory{Handle: r.Handle}), nil
	case WasmModuleRecord:
		return d.store(&vm.WasmModule{Handle: r.Handle}), nil
	}
	return nil, malformed("unknown record %T", rec)
}

func (d *deserializer) readBuffer() (vm.BufferSource, error) {
	v, err := d.read()
	if err != nil {
		return nil, err
	}
	buf, ok := v.(vm.BufferSource)
	if !ok {
		return nil, malformed("view over %s", vm.TypeName(v))
	}
	return buf, nil
}

func (d *deserializer) readProperties(n int, set func(string, vm.Value)) error {
	for i := 0; i < n; i++ {
		k, err := d.read()
		if err != nil {
			return err
		}
		key, ok := k.(vm.String)
		if !ok {
			return malformed("property key is %s", vm.TypeName(k))
		}
		v, err := d.read()
		if err != nil {
			return err
		}
		set(string(key), v)
	}
	return nil
}

func (d *deserializer) readError(r ErrorRecord) (vm.Value, error) {
	e := vm.NewErrorObject(r.Type)
	d.store(e)
	message, err := d.read()
	if err != nil {
		return nil, err
	}
	stack, err := d.read()
	if err != nil {
		return nil, err
	}
	cause, err := d.read()
	if err != nil {
		return nil, err
	}
	if _, ok := message.(vm.String); ok {
		e.Message = message
	}
	if _, ok := stack.(vm.String); ok {
		e.Stack = stack
	}
	if r.HasCause {
		e.SetCause(cause)
	}
	return e, nil
}
