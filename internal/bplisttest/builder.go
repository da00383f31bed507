// Package bplisttest assembles binary property lists object by object, for
// tests that need exact control over the encoded bytes.
package bplisttest

import (
	"encoding/binary"
	"math"
	"unicode/utf16"
)

// Builder collects encoded objects. Object indices are assigned in the order
// objects are added.
type Builder struct {
	objects [][]byte

	// RefSize is the width of object references; 1 when zero.
	RefSize int
	// OffsetSize is the width of offset table entries; the smallest width
	// that fits when zero.
	OffsetSize int
}

func New() *Builder {
	return &Builder{}
}

// Next returns the index the next added object will get.
func (b *Builder) Next() int {
	return len(b.objects)
}

// Add appends an already encoded object.
func (b *Builder) Add(raw ...byte) int {
	b.objects = append(b.objects, raw)
	return len(b.objects) - 1
}

func (b *Builder) Null() int {
	return b.Add(0x00)
}

func (b *Builder) Bool(v bool) int {
	if v {
		return b.Add(0x09)
	}
	return b.Add(0x08)
}

// Int adds an integer object using the narrowest width CoreFoundation would
// choose; negative values always take 8 bytes.
func (b *Builder) Int(v int64) int {
	switch {
	case v >= 0 && v <= math.MaxUint8:
		return b.Add(0x10, byte(v))
	case v >= 0 && v <= math.MaxUint16:
		return b.Add(append([]byte{0x11}, be(uint64(v), 2)...)...)
	case v >= 0 && v <= math.MaxUint32:
		return b.Add(append([]byte{0x12}, be(uint64(v), 4)...)...)
	}
	return b.Add(append([]byte{0x13}, be(uint64(v), 8)...)...)
}

func (b *Builder) Real(v float64) int {
	return b.Add(append([]byte{0x23}, be(math.Float64bits(v), 8)...)...)
}

func (b *Builder) Real32(v float32) int {
	return b.Add(append([]byte{0x22}, be(uint64(math.Float32bits(v)), 4)...)...)
}

// Date adds a date object holding seconds since 2001-01-01T00:00:00Z.
func (b *Builder) Date(secs float64) int {
	return b.Add(append([]byte{0x33}, be(math.Float64bits(secs), 8)...)...)
}

func (b *Builder) Data(v []byte) int {
	return b.Add(append(Header(0x4, len(v)), v...)...)
}

func (b *Builder) ASCII(s string) int {
	return b.Add(append(Header(0x5, len(s)), s...)...)
}

func (b *Builder) UTF16(s string) int {
	units := utf16.Encode([]rune(s))
	raw := Header(0x6, len(units))
	for _, u := range units {
		raw = append(raw, byte(u>>8), byte(u))
	}
	return b.Add(raw...)
}

func (b *Builder) UID(v uint64) int {
	n := 1
	for n < 8 && v>>(8*n) != 0 {
		n++
	}
	return b.Add(append([]byte{0x80 | byte(n-1)}, be(v, n)...)...)
}

func (b *Builder) Array(refs ...int) int {
	raw := Header(0xA, len(refs))
	for _, r := range refs {
		raw = append(raw, be(uint64(r), b.refSize())...)
	}
	return b.Add(raw...)
}

// Dict adds a dictionary; keys and vals are paired by position.
func (b *Builder) Dict(keys, vals []int) int {
	raw := Header(0xD, len(keys))
	for _, r := range keys {
		raw = append(raw, be(uint64(r), b.refSize())...)
	}
	for _, r := range vals {
		raw = append(raw, be(uint64(r), b.refSize())...)
	}
	return b.Add(raw...)
}

// StringDict adds a dictionary with ASCII string keys, in the given order.
func (b *Builder) StringDict(keys []string, vals []int) int {
	krefs := make([]int, len(keys))
	for i, k := range keys {
		krefs[i] = b.ASCII(k)
	}
	return b.Dict(krefs, vals)
}

func (b *Builder) refSize() int {
	if b.RefSize == 0 {
		return 1
	}
	return b.RefSize
}

// Bytes lays out the header, objects, offset table and trailer with top as
// the top object.
func (b *Builder) Bytes(top int) []byte {
	buf := []byte("bplist00")
	offsets := make([]uint64, len(b.objects))
	for i, obj := range b.objects {
		offsets[i] = uint64(len(buf))
		buf = append(buf, obj...)
	}
	tableOffset := uint64(len(buf))

	offSize := b.OffsetSize
	if offSize == 0 {
		offSize = 1
		for offSize < 8 && tableOffset>>(8*offSize) != 0 {
			offSize++
		}
	}
	for _, off := range offsets {
		buf = append(buf, be(off, offSize)...)
	}

	trailer := make([]byte, 32)
	trailer[6] = byte(offSize)
	trailer[7] = byte(b.refSize())
	binary.BigEndian.PutUint64(trailer[8:], uint64(len(b.objects)))
	binary.BigEndian.PutUint64(trailer[16:], uint64(top))
	binary.BigEndian.PutUint64(trailer[24:], tableOffset)
	return append(buf, trailer...)
}

// Header encodes a type nibble with a count, spilling counts of 15 and more
// into a trailing integer.
func Header(typ byte, n int) []byte {
	if n < 0xF {
		return []byte{typ<<4 | byte(n)}
	}
	switch {
	case n <= math.MaxUint8:
		return []byte{typ<<4 | 0xF, 0x10, byte(n)}
	case n <= math.MaxUint16:
		return append([]byte{typ<<4 | 0xF, 0x11}, be(uint64(n), 2)...)
	}
	return append([]byte{typ<<4 | 0xF, 0x12}, be(uint64(n), 4)...)
}

func be(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
