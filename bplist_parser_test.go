package plist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"

	"github.com/zdypro888/bplist/internal/bplisttest"
)

func mustParse(t *testing.T, buf []byte, opts ...Option) Value {
	t.Helper()
	v, err := Parse(buf, opts...)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return v
}

func singleObject(raw ...byte) []byte {
	b := bplisttest.New()
	return b.Bytes(b.Add(raw...))
}

func expectFormatError(t *testing.T, err error, sentinel error) *FormatError {
	t.Helper()
	var ferr *FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *FormatError, got %T (%v)", err, err)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %v, got %v", sentinel, err)
	}
	return ferr
}

func TestDictionaryKeepsKeyOrder(t *testing.T) {
	b := bplisttest.New()
	one := b.Int(1)
	hello := b.ASCII("hello")
	top := b.StringDict([]string{"a", "b"}, []int{one, hello})

	v := mustParse(t, b.Bytes(top))
	dict, ok := v.(*Dict)
	if !ok {
		t.Fatalf("top object is %T, want *Dict", v)
	}
	if diff := cmp.Diff([]Value{Text("a"), Text("b")}, dict.Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	a, _ := dict.Lookup("a")
	if n, ok := a.(Int); !ok || n.String() != "1" {
		t.Errorf("a = %#v, want Int(1)", a)
	}
	if got, _ := dict.Lookup("b"); got != Text("hello") {
		t.Errorf("b = %#v, want Text(hello)", got)
	}
}

func TestIntegers(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"one byte is unsigned", []byte{0x10, 0xFF}, "255"},
		{"two bytes", []byte{0x11, 0x01, 0x00}, "256"},
		{"four bytes is unsigned", []byte{0x12, 0xFF, 0xFF, 0xFF, 0xFF}, "4294967295"},
		{"eight bytes is signed", []byte{0x13, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, "-1"},
		{"sixteen bytes", append([]byte{0x14}, bytes.Repeat([]byte{0xFF}, 16)...), "340282366920938463463374607431768211455"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := mustParse(t, singleObject(tt.raw...))
			n, ok := v.(Int)
			if !ok {
				t.Fatalf("got %T, want Int", v)
			}
			if n.String() != tt.want {
				t.Errorf("got %s, want %s", n, tt.want)
			}
		})
	}
}

func TestWideIntegerFitsUint64(t *testing.T) {
	raw := append([]byte{0x14}, make([]byte, 8)...)
	raw = append(raw, 0, 0, 0, 0, 0, 0, 0x01, 0x00)
	n := mustParse(t, singleObject(raw...)).(Int)
	if !n.IsWide() {
		t.Fatal("expected a wide integer")
	}
	if u, ok := n.Uint64(); !ok || u != 256 {
		t.Errorf("Uint64() = %d, %v", u, ok)
	}
	w, ok := n.Wide()
	if !ok || !w.Eq(uint256.NewInt(256)) {
		t.Errorf("Wide() = %v, %v", w, ok)
	}
	if got := Native(n); got != uint64(256) {
		t.Errorf("Native = %#v", got)
	}
}

func TestIllegalIntegerWidth(t *testing.T) {
	_, err := Parse(singleObject(0x15, 0x00))
	expectFormatError(t, err, ErrIllegalSize)
}

func TestSimpleObjects(t *testing.T) {
	b := bplisttest.New()
	top := b.Array(b.Null(), b.Bool(false), b.Bool(true), b.Add(0x0F))
	want := Array{Null{}, Bool(false), Bool(true), Null{}}
	if diff := cmp.Diff(want, mustParse(t, b.Bytes(top))); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	_, err := Parse(singleObject(0x01))
	ferr := expectFormatError(t, err, ErrUnknownSimple)
	if !ferr.HasTag || ferr.Tag != 0x01 {
		t.Errorf("error tag = 0x%02x", ferr.Tag)
	}
}

func TestReals(t *testing.T) {
	b := bplisttest.New()
	top := b.Array(b.Real(3.25), b.Real32(1.5))
	want := Array{Real(3.25), Real(1.5)}
	if diff := cmp.Diff(want, mustParse(t, b.Bytes(top))); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	_, err := Parse(singleObject(0x21, 0x00, 0x00))
	expectFormatError(t, err, ErrIllegalSize)
}

func TestDates(t *testing.T) {
	b := bplisttest.New()
	top := b.Array(b.Date(0), b.Date(86400.5), b.Date(-1))
	got := mustParse(t, b.Bytes(top)).(Array)

	want := []time.Time{
		time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2001, 1, 2, 0, 0, 0, int(500*time.Millisecond), time.UTC),
		time.Date(2000, 12, 31, 23, 59, 59, 0, time.UTC),
	}
	for i, w := range want {
		if d := got[i].(Date).Time(); !d.Equal(w) {
			t.Errorf("date %d = %v, want %v", i, d, w)
		}
	}
}

func TestDateWithUnexpectedInfoIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	raw := append([]byte{0x31}, make([]byte, 8)...)

	v := mustParse(t, singleObject(raw...), WithLogger(logger))
	if !v.(Date).Time().Equal(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", v)
	}
	if !strings.Contains(logs.String(), "unexpected date type") {
		t.Errorf("no warning logged: %q", logs.String())
	}
}

func TestDataIsCopied(t *testing.T) {
	buf := singleObject(0x43, 'a', 'b', 'c')
	v := mustParse(t, buf)
	buf[9] = 'z'
	if diff := cmp.Diff(Data("abc"), v); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestStrings(t *testing.T) {
	long := strings.Repeat("x", 300)
	b := bplisttest.New()
	top := b.Array(
		b.ASCII("plain"),
		b.ASCII(long),
		b.Add(0x62, 0x00, 0x48, 0x00, 0x69),
		b.UTF16("snow ☃ 𝄞"),
		b.Add(0x52, 0x63, 0xE9),
	)
	want := Array{Text("plain"), Text(long), Text("Hi"), Text("snow ☃ 𝄞"), Text("cé")}
	if diff := cmp.Diff(want, mustParse(t, b.Bytes(top))); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLengthWithWrongIntegerType(t *testing.T) {
	_, err := Parse(singleObject(0x5F, 0x20, 0x01, 'a'))
	expectFormatError(t, err, ErrLengthType)
	if !strings.Contains(err.Error(), "real (0x2)") {
		t.Errorf("error does not name the length type: %v", err)
	}
}

func TestForgedLengthIsRejected(t *testing.T) {
	raw := []byte{0x4F, 0x13, 0x7F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	_, err := Parse(singleObject(raw...))
	expectFormatError(t, err, ErrOutOfBounds)

	b := bplisttest.New()
	top := b.Add(0xAF, 0x12, 0xFF, 0xFF, 0xFF, 0xFF)
	_, err = Parse(b.Bytes(top))
	expectFormatError(t, err, ErrOutOfBounds)
}

func TestUIDIsNotResolved(t *testing.T) {
	b := bplisttest.New()
	b.ASCII("target")
	top := b.Array(b.UID(0), b.UID(70000))
	want := Array{UID(0), UID(70000)}
	if diff := cmp.Diff(want, mustParse(t, b.Bytes(top))); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestUnknownType(t *testing.T) {
	_, err := Parse(singleObject(0x70))
	ferr := expectFormatError(t, err, ErrUnknownType)
	if !strings.Contains(err.Error(), "unknown (0x7)") {
		t.Errorf("error does not name the type: %v", err)
	}
	if ferr.Offset != 8 || ferr.Tag != 0x70 {
		t.Errorf("offset 0x%x tag 0x%02x", ferr.Offset, ferr.Tag)
	}
}

func TestBadMagic(t *testing.T) {
	buf := singleObject(0x09)
	copy(buf, "xplist")
	v, err := Parse(buf)
	expectFormatError(t, err, ErrBadMagic)
	if v != nil {
		t.Errorf("partial value returned: %#v", v)
	}

	_, err = Parse([]byte("bp"))
	expectFormatError(t, err, ErrBadMagic)
}

func TestTruncatedTrailer(t *testing.T) {
	_, err := Parse([]byte("bplist00\x09"))
	expectFormatError(t, err, ErrTruncated)
}

func TestObjectReferenceOutOfRange(t *testing.T) {
	b := bplisttest.New()
	top := b.Array(b.Bool(true), 5)
	_, err := Parse(b.Bytes(top))
	expectFormatError(t, err, ErrObjectRange)
}

func TestTopObjectOutOfRange(t *testing.T) {
	b := bplisttest.New()
	b.Bool(true)
	_, err := Parse(b.Bytes(3))
	expectFormatError(t, err, ErrObjectRange)
}

func TestBadTrailerWidths(t *testing.T) {
	buf := singleObject(0x09)
	buf[len(buf)-32+6] = 0
	_, err := Parse(buf)
	expectFormatError(t, err, ErrBadTrailer)

	buf = singleObject(0x09)
	buf[len(buf)-32+7] = 9
	_, err = Parse(buf)
	expectFormatError(t, err, ErrBadTrailer)
}

func TestSelfReferentialArray(t *testing.T) {
	for _, cache := range []int{0, DefaultCacheSize} {
		b := bplisttest.New()
		top := b.Array(b.Next())

		v, err := Parse(b.Bytes(top), WithCacheSize(cache))
		var cerr *CycleError
		if !errors.As(err, &cerr) {
			t.Fatalf("cache %d: expected *CycleError, got %v", cache, err)
		}
		if v != nil {
			t.Errorf("partial value returned: %#v", v)
		}
		if diff := cmp.Diff([]uint64{0, 0}, cerr.Chain); diff != "" {
			t.Errorf("chain (-want +got):\n%s", diff)
		}
	}
}

func TestIndirectCycle(t *testing.T) {
	b := bplisttest.New()
	key := b.ASCII("k")
	// dict#1 -> array#2 -> dict#1
	b.Dict([]int{key}, []int{2})
	b.Array(1)
	_, err := Parse(b.Bytes(1))
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if cerr.Object != 1 {
		t.Errorf("cycle object = %d", cerr.Object)
	}
}

func TestDepthLimit(t *testing.T) {
	b := bplisttest.New()
	inner := b.Null()
	for i := 0; i < 10; i++ {
		inner = b.Array(inner)
	}
	buf := b.Bytes(inner)

	_, err := Parse(buf, WithMaxDepth(5))
	var lerr *LimitError
	if !errors.As(err, &lerr) || lerr.Limit != "depth" {
		t.Fatalf("expected depth LimitError, got %v", err)
	}
	if _, err := Parse(buf, WithMaxDepth(10)); err != nil {
		t.Errorf("depth 10: %v", err)
	}
}

func TestObjectLimit(t *testing.T) {
	b := bplisttest.New()
	top := b.Array(b.Int(1), b.Int(2), b.Int(3))
	_, err := Parse(b.Bytes(top), WithMaxObjects(3))
	var lerr *LimitError
	if !errors.As(err, &lerr) || lerr.Limit != "object" {
		t.Fatalf("expected object LimitError, got %v", err)
	}
}

// doublingChain builds levels arrays where each one holds the previous
// level twice, so the decoded tree has 2^(levels+1)-1 nodes.
func doublingChain(b *bplisttest.Builder, levels int) int {
	inner := b.Null()
	for i := 0; i < levels; i++ {
		inner = b.Array(inner, inner)
	}
	return inner
}

func TestObjectLimitCountsSharedSubtrees(t *testing.T) {
	b := bplisttest.New()
	top := doublingChain(b, 40)
	buf := b.Bytes(top)

	_, err := Parse(buf)
	var lerr *LimitError
	if !errors.As(err, &lerr) || lerr.Limit != "object" {
		t.Fatalf("expected object LimitError, got %v", err)
	}

	if _, err := ConvertToJSON(buf); !errors.As(err, &lerr) {
		t.Fatalf("ConvertToJSON: expected *LimitError, got %v", err)
	}
}

func TestObjectLimitCountsSharedDictKeys(t *testing.T) {
	b := bplisttest.New()
	key := doublingChain(b, 40)
	top := b.Dict([]int{key}, []int{b.Bool(true)})

	_, err := Parse(b.Bytes(top))
	var lerr *LimitError
	if !errors.As(err, &lerr) || lerr.Limit != "object" {
		t.Fatalf("expected object LimitError, got %v", err)
	}
}

func TestObjectLimitIgnoresCacheSize(t *testing.T) {
	b := bplisttest.New()
	buf := b.Bytes(doublingChain(b, 9)) // 1023 nodes

	for _, cache := range []int{0, 2, DefaultCacheSize} {
		if _, err := Parse(buf, WithCacheSize(cache), WithMaxObjects(1023)); err != nil {
			t.Errorf("cache %d: %v", cache, err)
		}
		_, err := Parse(buf, WithCacheSize(cache), WithMaxObjects(1022))
		var lerr *LimitError
		if !errors.As(err, &lerr) {
			t.Errorf("cache %d: expected *LimitError, got %v", cache, err)
		}
	}
}

func TestSharedObjects(t *testing.T) {
	b := bplisttest.New()
	shared := b.StringDict([]string{"x"}, []int{b.Bool(true)})
	top := b.Array(shared, shared)

	for _, cache := range []int{0, 16} {
		arr := mustParse(t, b.Bytes(top), WithCacheSize(cache)).(Array)
		if len(arr) != 2 {
			t.Fatalf("len = %d", len(arr))
		}
		if diff := cmp.Diff(Native(arr[0]), Native(arr[1])); diff != "" {
			t.Errorf("cache %d: members differ:\n%s", cache, diff)
		}
	}
}

func TestDuplicateKeysOverwrite(t *testing.T) {
	b := bplisttest.New()
	a1, a2 := b.ASCII("a"), b.ASCII("a")
	c := b.ASCII("c")
	top := b.Dict([]int{a1, c, a2}, []int{b.Int(1), b.Int(3), b.Int(2)})

	dict := mustParse(t, b.Bytes(top)).(*Dict)
	if dict.Len() != 2 {
		t.Fatalf("len = %d", dict.Len())
	}
	if diff := cmp.Diff([]Value{Text("a"), Text("c")}, dict.Keys()); diff != "" {
		t.Errorf("keys (-want +got):\n%s", diff)
	}
	if v, _ := dict.Lookup("a"); v.(Int).String() != "2" {
		t.Errorf("a = %v", v)
	}
}

func TestNonStringKeys(t *testing.T) {
	b := bplisttest.New()
	top := b.Dict([]int{b.Int(7), b.UTF16("k")}, []int{b.ASCII("seven"), b.Bool(true)})

	dict := mustParse(t, b.Bytes(top)).(*Dict)
	if v, ok := dict.Get(NewInt(7)); !ok || v != Text("seven") {
		t.Errorf("Get(7) = %v, %v", v, ok)
	}
	if v, ok := dict.Lookup("k"); !ok || v != Bool(true) {
		t.Errorf("Lookup(k) = %v, %v", v, ok)
	}
	want := map[string]interface{}{"7": "seven", "k": true}
	if diff := cmp.Diff(want, Native(dict)); diff != "" {
		t.Errorf("native (-want +got):\n%s", diff)
	}
}

func TestTrailerFieldWidth(t *testing.T) {
	b := bplisttest.New()
	top := b.Array(b.Bool(true))
	buf := b.Bytes(top)
	// junk in the high half of numObjects
	buf[len(buf)-32+8] = 0x01

	_, err := Parse(buf)
	expectFormatError(t, err, ErrOutOfBounds)

	v := mustParse(t, buf, WithTruncatedTrailer())
	if diff := cmp.Diff(Array{Bool(true)}, v); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestParseDocument(t *testing.T) {
	b := bplisttest.New()
	top := b.StringDict([]string{"n"}, []int{b.Int(math.MaxUint16)})
	doc, _, err := ParseDocument(b.Bytes(top))
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(doc.OffsetTable)) != doc.NumObjects {
		t.Errorf("offset table has %d entries for %d objects", len(doc.OffsetTable), doc.NumObjects)
	}
	if doc.TopObject >= doc.NumObjects || doc.TopObject != uint64(top) {
		t.Errorf("top object %d of %d", doc.TopObject, doc.NumObjects)
	}
	if doc.Version != "00" {
		t.Errorf("version %q", doc.Version)
	}
	if doc.OffsetTable[0] != 8 {
		t.Errorf("first object at 0x%x", doc.OffsetTable[0])
	}
}

func TestWideOffsetsAndRefs(t *testing.T) {
	b := bplisttest.New()
	b.RefSize = 2
	b.OffsetSize = 4
	top := b.Array(b.ASCII("wide"), b.Int(-5))
	arr := mustParse(t, b.Bytes(top)).(Array)
	if arr[0] != Text("wide") || arr[1].(Int).String() != "-5" {
		t.Errorf("got %#v", arr)
	}
}

func TestObjectInsideOffsetTable(t *testing.T) {
	buf := singleObject(0x09)
	tableOffset := binary.BigEndian.Uint64(buf[len(buf)-8:])
	buf[tableOffset] = byte(tableOffset)
	_, err := Parse(buf)
	expectFormatError(t, err, ErrOutOfBounds)
}

func TestDebugLogging(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mustParse(t, singleObject(0x09), WithDebug(), WithLogger(logger))
	out := logs.String()
	if !strings.Contains(out, "bplist trailer") || !strings.Contains(out, "bplist offset") {
		t.Errorf("debug output missing: %q", out)
	}
}

func FuzzParse(f *testing.F) {
	b := bplisttest.New()
	top := b.StringDict([]string{"a", "b"}, []int{b.Int(1), b.Array(b.UTF16("hi"), b.Date(1), b.Data([]byte{1, 2}))})
	f.Add(b.Bytes(top))
	f.Add(singleObject(0x13, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF))
	f.Add([]byte("bplist00"))
	f.Fuzz(func(t *testing.T, data []byte) {
		v, err := Parse(data, WithMaxObjects(1<<12))
		if err != nil && v != nil {
			t.Fatalf("value returned with error %v", err)
		}
	})
}
