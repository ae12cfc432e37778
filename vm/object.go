package vm

import (
	"sort"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ---------------------------------------------------------------------------
// Object: ordered bag of named properties
// ---------------------------------------------------------------------------

type property struct {
	value      Value
	enumerable bool
}

// Object is a plain object with string-keyed own data properties.
// Property order follows the language rules: integer index keys ascending,
// then the remaining keys in insertion order.
type Object struct {
	props *orderedmap.OrderedMap[string, *property]
}

func (*Object) isValue() {}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{props: orderedmap.New[string, *property]()}
}

func (o *Object) properties() *orderedmap.OrderedMap[string, *property] {
	if o.props == nil {
		o.props = orderedmap.New[string, *property]()
	}
	return o.props
}

// Get returns the property value, or Undefined when absent.
func (o *Object) Get(key string) Value {
	if p, ok := o.properties().Get(key); ok {
		return p.value
	}
	return Undefined
}

// Lookup returns the property value and whether it exists.
func (o *Object) Lookup(key string) (Value, bool) {
	p, ok := o.properties().Get(key)
	if !ok {
		return Undefined, false
	}
	return p.value, true
}

// Has reports whether key is an own property.
func (o *Object) Has(key string) bool {
	_, ok := o.properties().Get(key)
	return ok
}

// Set creates or updates an enumerable property. An existing property keeps
// its enumerability.
func (o *Object) Set(key string, v Value) {
	if p, ok := o.properties().Get(key); ok {
		p.value = v
		return
	}
	o.properties().Set(key, &property{value: v, enumerable: true})
}

// DefineHidden creates or replaces a non-enumerable property.
func (o *Object) DefineHidden(key string, v Value) {
	o.properties().Set(key, &property{value: v})
}

// Delete removes an own property.
func (o *Object) Delete(key string) bool {
	_, ok := o.properties().Delete(key)
	return ok
}

// Len returns the number of own properties, enumerable or not.
func (o *Object) Len() int {
	return o.properties().Len()
}

// OwnKeys returns all own property keys in enumeration order.
func (o *Object) OwnKeys() []string {
	return o.keys(false)
}

// EnumerableKeys returns the enumerable own property keys in enumeration order.
func (o *Object) EnumerableKeys() []string {
	return o.keys(true)
}

func (o *Object) keys(enumerableOnly bool) []string {
	var indices []uint64
	var named []string
	for pair := o.properties().Oldest(); pair != nil; pair = pair.Next() {
		if enumerableOnly && !pair.Value.enumerable {
			continue
		}
		if idx, ok := arrayIndex(pair.Key); ok {
			indices = append(indices, idx)
			continue
		}
		named = append(named, pair.Key)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	out := make([]string, 0, len(indices)+len(named))
	for _, idx := range indices {
		out = append(out, strconv.FormatUint(idx, 10))
	}
	return append(out, named...)
}

// MaxArrayLength is the largest length an array can have. Index keys are
// below it; larger integer keys are ordinary named properties.
const MaxArrayLength = 1<<32 - 1

// arrayIndex parses key as a canonical integer index.
func arrayIndex(key string) (uint64, bool) {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 64)
	if err != nil || n >= MaxArrayLength {
		return 0, false
	}
	return n, true
}

// ---------------------------------------------------------------------------
// Array: sparse, with an explicit length
// ---------------------------------------------------------------------------

// Array is an ordinary object whose integer index properties are its
// elements. Length is tracked separately because arrays can be sparse.
type Array struct {
	Object
	length uint64
}

func (*Array) isValue() {}

// NewArray creates a dense array holding elems.
func NewArray(elems ...Value) *Array {
	a := &Array{Object: Object{props: orderedmap.New[string, *property]()}}
	for _, e := range elems {
		a.Push(e)
	}
	return a
}

// Length returns the array length.
func (a *Array) Length() uint64 { return a.length }

// SetLength changes the length, deleting elements at or past the new end.
// Lengths above MaxArrayLength are a RangeError.
func (a *Array) SetLength(n uint64) error {
	if n > MaxArrayLength {
		return ThrowError(RangeError, "invalid array length %d", n)
	}
	if n < a.length {
		for _, key := range a.OwnKeys() {
			if idx, ok := arrayIndex(key); ok && idx >= n {
				a.Object.Delete(key)
			}
		}
	}
	a.length = n
	return nil
}

// Index returns the element at i, or Undefined for holes.
func (a *Array) Index(i uint64) Value {
	return a.Object.Get(strconv.FormatUint(i, 10))
}

// HasIndex reports whether i holds an element (is not a hole).
func (a *Array) HasIndex(i uint64) bool {
	return a.Object.Has(strconv.FormatUint(i, 10))
}

// SetIndex stores v at i, growing the length when needed. An i at or past
// MaxArrayLength is stored as a named property.
func (a *Array) SetIndex(i uint64, v Value) {
	a.Object.Set(strconv.FormatUint(i, 10), v)
	if i < MaxArrayLength && i >= a.length {
		a.length = i + 1
	}
}

// Push appends v.
func (a *Array) Push(v Value) {
	a.SetIndex(a.length, v)
}

// Set stores a property; index keys grow the length like SetIndex.
func (a *Array) Set(key string, v Value) {
	if idx, ok := arrayIndex(key); ok {
		a.SetIndex(idx, v)
		return
	}
	a.Object.Set(key, v)
}
