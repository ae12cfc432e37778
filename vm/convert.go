package vm

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"
)

// FromGo converts decoded JSON-like Go data into values. Maps become plain
// objects with their keys sorted, slices become arrays.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return NewBigInt(new(big.Int).SetUint64(t)), nil
		}
		return Int(t), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 && !(t == 0 && math.Signbit(t)) {
			return Int(t), nil
		}
		return Number(t), nil
	case string:
		return String(t), nil
	case *big.Int:
		return NewBigInt(t), nil
	case time.Time:
		return DateFromTime(t), nil
	case []byte:
		return NewArrayBufferFrom(t), nil
	case []any:
		arr := NewArray()
		for _, e := range t {
			v, err := FromGo(e)
			if err != nil {
				return nil, err
			}
			arr.Push(v)
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			v, err := FromGo(t[k])
			if err != nil {
				return nil, err
			}
			obj.Set(k, v)
		}
		return obj, nil
	}
	return nil, fmt.Errorf("vm: cannot convert %T to a value", x)
}

// ToGo converts a value into JSON-friendly Go data. Cycles are cut with
// "[Circular]" so the result can always be encoded.
func ToGo(v Value) any {
	return toGo(v, map[Value]bool{})
}

func toGo(v Value, seen map[Value]bool) any {
	if !IsPrimitive(v) {
		if seen[v] {
			return "[Circular]"
		}
		seen[v] = true
		defer delete(seen, v)
	}
	switch t := v.(type) {
	case UndefinedType, NullType:
		return nil
	case Bool:
		return bool(t)
	case Int:
		return int64(t)
	case Number:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Display(t)
		}
		return f
	case String:
		return string(t)
	case *BigInt:
		return t.String()
	case *Symbol:
		return Display(t)
	case *Array:
		out := make([]any, t.Length())
		for i := range out {
			out[i] = toGo(t.Index(uint64(i)), seen)
		}
		return out
	case *ErrorObject:
		return map[string]any{
			"name":    t.Type.String(),
			"message": t.MessageText(),
		}
	case *Object:
		out := map[string]any{}
		for _, k := range t.EnumerableKeys() {
			out[k] = toGo(t.Get(k), seen)
		}
		return out
	case *Map:
		var out [][2]any
		t.Range(func(k, val Value) bool {
			out = append(out, [2]any{toGo(k, seen), toGo(val, seen)})
			return true
		})
		return out
	case *Set:
		var out []any
		t.Range(func(e Value) bool {
			out = append(out, toGo(e, seen))
			return true
		})
		return out
	case *Date:
		return time.UnixMilli(int64(t.Millis)).UTC().Format(time.RFC3339Nano)
	case *PrimitiveWrapper:
		return toGo(t.Inner, seen)
	case BufferSource:
		return append([]byte(nil), t.Bytes()...)
	}
	return Display(v)
}
