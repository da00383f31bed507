package plist

import (
	"strconv"
	"time"

	"github.com/holiman/uint256"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindDate
	KindData
	KindText
	KindUID
	KindArray
	KindDict
)

var kindNames = [...]string{
	KindNull:  "null",
	KindBool:  "boolean",
	KindInt:   "integer",
	KindReal:  "real",
	KindDate:  "date",
	KindData:  "data",
	KindText:  "string",
	KindUID:   "UID",
	KindArray: "array",
	KindDict:  "dictionary",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a node of a decoded property list: one of Null, Bool, Int, Real,
// Date, Data, Text, UID, Array or *Dict.
type Value interface {
	Kind() Kind
}

type Null struct{}

func (Null) Kind() Kind { return KindNull }

type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Int holds an integer object. Objects up to 8 bytes wide fit in an int64;
// 1, 2 and 4 byte objects are unsigned, 8 byte objects are signed. 16 byte
// objects are kept as 128-bit unsigned values.
type Int struct {
	v    int64
	wide *uint256.Int
}

func NewInt(v int64) Int {
	return Int{v: v}
}

// NewWideInt returns an Int for a 16 byte integer object.
func NewWideInt(v *uint256.Int) Int {
	return Int{wide: new(uint256.Int).Set(v)}
}

func (Int) Kind() Kind { return KindInt }

// IsWide reports whether i came from a 16 byte integer object.
func (i Int) IsWide() bool {
	return i.wide != nil
}

// Int64 returns i as an int64 and whether it fits.
func (i Int) Int64() (int64, bool) {
	if i.wide == nil {
		return i.v, true
	}
	if i.wide.IsUint64() && i.wide.Uint64() <= 1<<63-1 {
		return int64(i.wide.Uint64()), true
	}
	return 0, false
}

// Uint64 returns i as a uint64 and whether it fits.
func (i Int) Uint64() (uint64, bool) {
	if i.wide == nil {
		return uint64(i.v), i.v >= 0
	}
	return i.wide.Uint64(), i.wide.IsUint64()
}

// Wide returns i as a 256-bit integer; negative values are not representable
// and report false.
func (i Int) Wide() (*uint256.Int, bool) {
	if i.wide != nil {
		return new(uint256.Int).Set(i.wide), true
	}
	if i.v < 0 {
		return nil, false
	}
	return uint256.NewInt(uint64(i.v)), true
}

func (i Int) String() string {
	if i.wide != nil {
		return i.wide.Dec()
	}
	return strconv.FormatInt(i.v, 10)
}

type Real float64

func (Real) Kind() Kind { return KindReal }

type Date time.Time

func (Date) Kind() Kind { return KindDate }

func (d Date) Time() time.Time {
	return time.Time(d)
}

type Data []byte

func (Data) Kind() Kind { return KindData }

type Text string

func (Text) Kind() Kind { return KindText }

// A UID represents a unique object identifier, as used by keyed archives.
// It is never resolved to the object it names.
type UID uint64

func (UID) Kind() Kind { return KindUID }

type Array []Value

func (Array) Kind() Kind { return KindArray }
