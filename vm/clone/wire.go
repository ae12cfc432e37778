package clone

import (
	"fmt"
	"math/big"

	"github.com/chazu/relay/vm"
	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical encoding so equal envelopes marshal to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("clone: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireEnvelope struct {
	TransferCount int          `cbor:"1,keyasint"`
	Records       []wireRecord `cbor:"2,keyasint"`
}

type wireRecord struct {
	Kind Kind            `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

type primTag uint8

const (
	primUndefined primTag = iota
	primNull
	primBool
	primInt
	primNumber
	primBigInt
	primString
	primSymbol
)

// wirePrimitive is the portable form of a primitive value. BigInts travel
// as decimal text and registered symbols by key.
type wirePrimitive struct {
	Tag   primTag `cbor:"1,keyasint"`
	Bool  bool    `cbor:"2,keyasint,omitempty"`
	Int   int64   `cbor:"3,keyasint,omitempty"`
	Float float64 `cbor:"4,keyasint"`
	Text  string  `cbor:"5,keyasint,omitempty"`
}

type wireBoxed struct {
	Wrapper vm.WrapperKind `cbor:"1,keyasint"`
	Value   wirePrimitive  `cbor:"2,keyasint"`
}

func toWirePrimitive(v vm.Value) (wirePrimitive, error) {
	switch t := v.(type) {
	case vm.UndefinedType:
		return wirePrimitive{Tag: primUndefined}, nil
	case vm.NullType:
		return wirePrimitive{Tag: primNull}, nil
	case vm.Bool:
		return wirePrimitive{Tag: primBool, Bool: bool(t)}, nil
	case vm.Int:
		return wirePrimitive{Tag: primInt, Int: int64(t)}, nil
	case vm.Number:
		return wirePrimitive{Tag: primNumber, Float: float64(t)}, nil
	case *vm.BigInt:
		return wirePrimitive{Tag: primBigInt, Text: t.Big().String()}, nil
	case vm.String:
		return wirePrimitive{Tag: primString, Text: string(t)}, nil
	case *vm.Symbol:
		if t.Registered() {
			return wirePrimitive{Tag: primSymbol, Text: t.Key()}, nil
		}
	}
	return wirePrimitive{}, fmt.Errorf("%w: %s primitive", ErrNotPortable, vm.TypeName(v))
}

func (p wirePrimitive) value() (vm.Value, error) {
	switch p.Tag {
	case primUndefined:
		return vm.Undefined, nil
	case primNull:
		return vm.Null, nil
	case primBool:
		return vm.Bool(p.Bool), nil
	case primInt:
		return vm.Int(p.Int), nil
	case primNumber:
		return vm.Number(p.Float), nil
	case primBigInt:
		n, ok := new(big.Int).SetString(p.Text, 10)
		if !ok {
			return nil, malformed("bigint %q", p.Text)
		}
		return vm.NewBigInt(n), nil
	case primString:
		return vm.String(p.Text), nil
	case primSymbol:
		return vm.SymbolFor(p.Text), nil
	}
	return nil, malformed("primitive tag %d", p.Tag)
}

// MarshalEnvelope encodes a portable envelope as CBOR.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	w := wireEnvelope{TransferCount: e.TransferCount, Records: make([]wireRecord, 0, len(e.Records))}
	for _, r := range e.Records {
		var body any
		switch t := r.(type) {
		case PrimitiveRecord:
			p, err := toWirePrimitive(t.Value)
			if err != nil {
				return nil, err
			}
			body = p
		case BoxedRecord:
			p, err := toWirePrimitive(t.Value)
			if err != nil {
				return nil, err
			}
			body = wireBoxed{Wrapper: t.Wrapper, Value: p}
		case SharedArrayBufferRecord, WasmMemoryRecord, WasmModuleRecord:
			return nil, fmt.Errorf("%w: holds a %s", ErrNotPortable, r.Kind())
		default:
			body = t
		}
		raw, err := cborEncMode.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("clone: marshal %s record: %w", r.Kind(), err)
		}
		w.Records = append(w.Records, wireRecord{Kind: r.Kind(), Body: raw})
	}
	return cborEncMode.Marshal(w)
}

// UnmarshalEnvelope decodes an envelope produced by MarshalEnvelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("clone: unmarshal envelope: %w", err)
	}
	e := &Envelope{TransferCount: w.TransferCount, Records: make([]Record, 0, len(w.Records))}
	for i, wr := range w.Records {
		r, err := decodeRecord(wr)
		if err != nil {
			return nil, fmt.Errorf("clone: record %d: %w", i, err)
		}
		e.Records = append(e.Records, r)
	}
	return e, nil
}

func decodeRecord(wr wireRecord) (Record, error) {
	switch wr.Kind {
	case KindPrimitive:
		var p wirePrimitive
		if err := cbor.Unmarshal(wr.Body, &p); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		return PrimitiveRecord{Value: v}, nil
	case KindBoolean, KindNumber, KindBigInt, KindString:
		var b wireBoxed
		if err := cbor.Unmarshal(wr.Body, &b); err != nil {
			return nil, err
		}
		v, err := b.Value.value()
		if err != nil {
			return nil, err
		}
		return BoxedRecord{Wrapper: b.Wrapper, Value: v}, nil
	case KindDuplicate:
		return decodeInto[DuplicateRecord](wr.Body)
	case KindDate:
		return decodeInto[DateRecord](wr.Body)
	case KindRegExp:
		return decodeInto[RegExpRecord](wr.Body)
	case KindArrayBuffer:
		return decodeInto[ArrayBufferRecord](wr.Body)
	case KindArrayBufferView:
		return decodeInto[ArrayBufferViewRecord](wr.Body)
	case KindDataView:
		return decodeInto[DataViewRecord](wr.Body)
	case KindMap:
		return decodeInto[MapRecord](wr.Body)
	case KindSet:
		return decodeInto[SetRecord](wr.Body)
	case KindError:
		return decodeInto[ErrorRecord](wr.Body)
	case KindArray:
		return decodeInto[ArrayRecord](wr.Body)
	case KindObject:
		return decodeInto[ObjectRecord](wr.Body)
	}
	return nil, malformed("kind %s cannot appear on the wire", wr.Kind)
}

func decodeInto[R Record](body []byte) (Record, error) {
	var r R
	if err := cbor.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	return r, nil
}
