package plist

import (
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/elliotchance/orderedmap/v3"
)

type dictEntry struct {
	key   Value
	value Value
}

// Dict is an insertion-ordered dictionary. Keys may be any Value and are
// compared structurally; setting an existing key replaces its value in place.
type Dict struct {
	entries *orderedmap.OrderedMap[string, dictEntry]
}

func NewDict() *Dict {
	return &Dict{entries: orderedmap.NewOrderedMap[string, dictEntry]()}
}

func newDictWithCapacity(n int) *Dict {
	return &Dict{entries: orderedmap.NewOrderedMapWithCapacity[string, dictEntry](n)}
}

func (*Dict) Kind() Kind { return KindDict }

func (d *Dict) Len() int {
	if d == nil || d.entries == nil {
		return 0
	}
	return d.entries.Len()
}

func (d *Dict) Set(key, value Value) {
	if d.entries == nil {
		d.entries = orderedmap.NewOrderedMap[string, dictEntry]()
	}
	d.entries.Set(valueKey(key), dictEntry{key: key, value: value})
}

func (d *Dict) Get(key Value) (Value, bool) {
	if d.Len() == 0 {
		return nil, false
	}
	e, ok := d.entries.Get(valueKey(key))
	return e.value, ok
}

// Lookup returns the value stored under the string key name.
func (d *Dict) Lookup(name string) (Value, bool) {
	return d.Get(Text(name))
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value {
	keys := make([]Value, 0, d.Len())
	for k := range d.All() {
		keys = append(keys, k)
	}
	return keys
}

// All iterates over the entries in insertion order.
func (d *Dict) All() iter.Seq2[Value, Value] {
	return func(yield func(Value, Value) bool) {
		if d.Len() == 0 {
			return
		}
		for _, e := range d.entries.AllFromFront() {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// valueKey encodes v so that structurally equal values map to equal strings.
func valueKey(v Value) string {
	var b strings.Builder
	writeValueKey(&b, v)
	return b.String()
}

func writeValueKey(b *strings.Builder, v Value) {
	switch v := v.(type) {
	case nil, Null:
		b.WriteByte('n')
	case Bool:
		if v {
			b.WriteString("b1")
		} else {
			b.WriteString("b0")
		}
	case Int:
		b.WriteByte('i')
		b.WriteString(v.String())
	case Real:
		b.WriteByte('r')
		b.WriteString(strconv.FormatUint(math.Float64bits(float64(v)), 16))
	case Date:
		b.WriteByte('d')
		b.WriteString(v.Time().UTC().Format(time.RFC3339Nano))
	case Data:
		writeSized(b, 'x', string(v))
	case Text:
		writeSized(b, 's', string(v))
	case UID:
		b.WriteByte('u')
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	case Array:
		b.WriteByte('a')
		b.WriteString(strconv.Itoa(len(v)))
		for _, item := range v {
			writeSized(b, ':', valueKey(item))
		}
	case *Dict:
		b.WriteByte('m')
		b.WriteString(strconv.Itoa(v.Len()))
		for k, item := range v.All() {
			writeSized(b, ':', valueKey(k))
			writeSized(b, '=', valueKey(item))
		}
	}
}

func writeSized(b *strings.Builder, prefix byte, s string) {
	b.WriteByte(prefix)
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte('|')
	b.WriteString(s)
}
