package vm

import (
	"math"
	"math/big"
	"testing"
)

func TestObjectEnumerationOrder(t *testing.T) {
	o := NewObject()
	o.Set("b", Int(1))
	o.Set("2", Int(2))
	o.Set("a", Int(3))
	o.Set("0", Int(4))
	o.DefineHidden("hidden", Int(5))

	got := o.EnumerableKeys()
	want := []string{"0", "2", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("EnumerableKeys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("EnumerableKeys = %v, want %v", got, want)
		}
	}
	if !o.Has("hidden") {
		t.Error("hidden property missing")
	}
}

func TestArrayLengthIsExplicit(t *testing.T) {
	arr := NewArray(Int(1), Int(2))
	arr.SetIndex(9, String("x"))

	if arr.Length() != 10 {
		t.Errorf("Length = %d, want 10", arr.Length())
	}
	if arr.HasIndex(5) {
		t.Error("hole reported as present")
	}
	if arr.Index(5) != Undefined {
		t.Errorf("hole = %v, want undefined", Display(arr.Index(5)))
	}

	if err := arr.SetLength(1); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	if arr.HasIndex(1) || arr.HasIndex(9) {
		t.Error("SetLength did not truncate")
	}
}

func TestArrayIndexBound(t *testing.T) {
	arr := NewArray()
	arr.Set("4294967294", Int(1))
	if arr.Length() != MaxArrayLength {
		t.Errorf("Length = %d, want %d", arr.Length(), uint64(MaxArrayLength))
	}

	arr.Set("4294967295", Int(2))
	if arr.Length() != MaxArrayLength {
		t.Errorf("key 2^32-1 grew length to %d", arr.Length())
	}
	if arr.Get("4294967295") != Int(2) {
		t.Error("key 2^32-1 not kept as a named property")
	}
	keys := arr.OwnKeys()
	if len(keys) != 2 || keys[0] != "4294967294" || keys[1] != "4294967295" {
		t.Errorf("keys = %v", keys)
	}

	if err := arr.SetLength(MaxArrayLength + 1); err == nil {
		t.Error("length past MaxArrayLength accepted")
	}
	if arr.Length() != MaxArrayLength {
		t.Errorf("rejected SetLength changed length to %d", arr.Length())
	}
}

func TestMapUsesSameValueZero(t *testing.T) {
	m := NewMap()
	m.Set(Number(math.NaN()), String("nan"))
	m.Set(Number(math.Copysign(0, -1)), String("zero"))
	m.Set(Int(1), String("one"))

	if v, ok := m.Get(Number(math.NaN())); !ok || v != String("nan") {
		t.Errorf("NaN lookup = %v, %v", Display(v), ok)
	}
	if v, ok := m.Get(Int(0)); !ok || v != String("zero") {
		t.Errorf("+0 lookup = %v, %v", Display(v), ok)
	}
	if v, ok := m.Get(Number(1)); !ok || v != String("one") {
		t.Errorf("1.0 lookup = %v, %v", Display(v), ok)
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d, want 3", m.Len())
	}
}

func TestSetKeepsInsertionOrder(t *testing.T) {
	s := NewSet()
	s.Add(String("c"))
	s.Add(String("a"))
	s.Add(String("c"))
	s.Add(NewBigInt(big.NewInt(7)))

	var got []Value
	s.Range(func(v Value) bool {
		got = append(got, v)
		return true
	})
	if len(got) != 3 || got[0] != String("c") || got[1] != String("a") {
		t.Errorf("Range = %v", got)
	}
	if !s.Has(BigIntFromInt64(7)) {
		t.Error("BigInt member not found by value")
	}
}

func TestRegisteredSymbolsAreShared(t *testing.T) {
	if SymbolFor("app.key") != SymbolFor("app.key") {
		t.Error("SymbolFor returned distinct symbols")
	}
	if NewSymbol("x") == NewSymbol("x") {
		t.Error("NewSymbol returned the same symbol twice")
	}
}

func TestTypedArrayReadWrite(t *testing.T) {
	buf := NewArrayBuffer(16)
	f64, err := NewTypedArray(Float64Elements, buf, 8, 1)
	if err != nil {
		t.Fatalf("NewTypedArray: %v", err)
	}
	f64.Set(0, Number(1.5))
	if got := f64.Get(0); got != Number(1.5) {
		t.Errorf("Get = %v, want 1.5", Display(got))
	}

	i64, _ := NewTypedArray(BigInt64Elements, buf, 0, 1)
	if err := i64.Set(0, BigIntFromInt64(-2)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := i64.Get(0).(*BigInt); got.Big().Int64() != -2 {
		t.Errorf("Get = %s, want -2", got)
	}

	if _, err := NewTypedArray(Int32Elements, buf, 2, 1); err == nil {
		t.Error("misaligned offset accepted")
	}

	buf.Detach()
	if f64.Length() != 0 {
		t.Errorf("Length after detach = %d, want 0", f64.Length())
	}
}

func TestGrowableSharedArrayBuffer(t *testing.T) {
	sab, err := NewGrowableSharedArrayBuffer(4, 16)
	if err != nil {
		t.Fatalf("NewGrowableSharedArrayBuffer: %v", err)
	}
	view := SharedArrayBufferOf(sab.Block())
	tracking, _ := NewTypedArray(Uint8Elements, sab, 0, LengthAuto)

	if err := sab.Grow(12); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if view.ByteLength() != 12 {
		t.Errorf("other handle sees %d bytes, want 12", view.ByteLength())
	}
	if tracking.Length() != 12 {
		t.Errorf("tracking view length = %d, want 12", tracking.Length())
	}
	if err := sab.Grow(8); err == nil {
		t.Error("shrinking Grow succeeded")
	}
	if err := sab.Grow(32); err == nil {
		t.Error("Grow past max succeeded")
	}
}

func TestResizableArrayBuffer(t *testing.T) {
	buf, err := NewResizableArrayBuffer(2, 8)
	if err != nil {
		t.Fatalf("NewResizableArrayBuffer: %v", err)
	}
	if err := buf.Resize(6); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if buf.ByteLength() != 6 {
		t.Errorf("ByteLength = %d, want 6", buf.ByteLength())
	}
	if err := buf.Resize(9); err == nil {
		t.Error("Resize past max succeeded")
	}
}

func TestPrimitiveWrapperValidatesKind(t *testing.T) {
	w, err := NewPrimitiveWrapper(WrapperString, String("s"))
	if err != nil {
		t.Fatalf("NewPrimitiveWrapper: %v", err)
	}
	if !IsWrapperOf(w, WrapperString) || IsWrapperOf(w, WrapperNumber) {
		t.Error("IsWrapperOf disagrees with kind")
	}
	if _, err := NewPrimitiveWrapper(WrapperNumber, String("s")); err == nil {
		t.Error("string accepted as a Number box")
	}
}

func TestCallNonCallableThrowsTypeError(t *testing.T) {
	_, err := Call(Int(1), Undefined)
	e, ok := ThrownValue(err).(*ErrorObject)
	if !ok || e.Type != TypeError {
		t.Errorf("err = %v, want TypeError", err)
	}
}

func TestFromGoAndBack(t *testing.T) {
	v, err := FromGo(map[string]any{
		"name":  "relay",
		"count": float64(3),
		"ratio": 0.5,
		"tags":  []any{"a", true, nil},
	})
	if err != nil {
		t.Fatalf("FromGo: %v", err)
	}
	obj := v.(*Object)
	if obj.Get("count") != Int(3) {
		t.Errorf("count = %v, want 3", Display(obj.Get("count")))
	}
	if obj.Get("ratio") != Number(0.5) {
		t.Errorf("ratio = %v, want 0.5", Display(obj.Get("ratio")))
	}

	back := ToGo(v).(map[string]any)
	tags := back["tags"].([]any)
	if len(tags) != 3 || tags[0] != "a" || tags[1] != true || tags[2] != nil {
		t.Errorf("tags = %v", tags)
	}
	if back["name"] != "relay" {
		t.Errorf("name = %v", back["name"])
	}
}

func TestToGoCutsCycles(t *testing.T) {
	o := NewObject()
	o.Set("self", o)
	got := ToGo(o).(map[string]any)
	if got["self"] != "[Circular]" {
		t.Errorf("self = %v, want [Circular]", got["self"])
	}
}
