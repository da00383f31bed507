package plist

import (
	"encoding/binary"
	"log/slog"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const (
	bplistHeaderSize = 8

	// Seconds between the Unix epoch and 2001-01-01T00:00:00Z.
	appleEpochOffset = 978307200
)

// Document describes the layout of a decoded binary property list.
type Document struct {
	Version           string
	OffsetIntSize     uint8
	ObjectRefSize     uint8
	NumObjects        uint64
	TopObject         uint64
	OffsetTableOffset uint64

	// OffsetTable maps object index to the byte offset of its tag.
	OffsetTable []uint64
}

// bplistParser holds the state of one decode call.
type bplistParser struct {
	buffer []byte
	opts   *Options
	log    *slog.Logger

	version       string
	trailer       bplistTrailer
	trailerOffset uint64
	offsetTable   []uint64

	cache *lru.Cache[uint64, cachedObject]

	// containers being decoded, outermost first
	containerStack []uint64
	inProgress     map[uint64]struct{}

	// nodes in the decoded tree so far, shared subtrees counted once per
	// reference
	materialized int
}

// cachedObject is a decoded object and the number of tree nodes it spans.
type cachedObject struct {
	value Value
	nodes int
}

func newBplistParser(buf []byte, opts *Options) *bplistParser {
	p := &bplistParser{
		buffer:     buf,
		opts:       opts,
		log:        opts.Logger,
		inProgress: make(map[uint64]struct{}),
	}
	if opts.CacheSize > 0 {
		// only fails for a non-positive size
		p.cache, _ = lru.New[uint64, cachedObject](opts.CacheSize)
	}
	return p
}

func (p *bplistParser) parseDocument() (Value, error) {
	if err := p.readHeader(); err != nil {
		return nil, err
	}
	if err := p.readTrailer(); err != nil {
		return nil, err
	}
	if err := p.buildOffsetTable(); err != nil {
		return nil, err
	}
	return p.objectAtIndex(p.trailer.TopObject)
}

func (p *bplistParser) document() *Document {
	return &Document{
		Version:           p.version,
		OffsetIntSize:     p.trailer.OffsetIntSize,
		ObjectRefSize:     p.trailer.ObjectRefSize,
		NumObjects:        p.trailer.NumObjects,
		TopObject:         p.trailer.TopObject,
		OffsetTableOffset: p.trailer.OffsetTableOffset,
		OffsetTable:       p.offsetTable,
	}
}

func (p *bplistParser) readHeader() error {
	if len(p.buffer) < len(bplistMagic) || string(p.buffer[:len(bplistMagic)]) != bplistMagic {
		return formatErrorf(0, ErrBadMagic, "expected %q at offset 0", bplistMagic)
	}
	if len(p.buffer) >= bplistHeaderSize {
		p.version = string(p.buffer[len(bplistMagic):bplistHeaderSize])
	}
	return nil
}

func (p *bplistParser) readTrailer() error {
	l := uint64(len(p.buffer))
	if l < bplistTrailerSize {
		return formatErrorf(0, ErrTruncated, "%d bytes is shorter than the %d byte trailer", l, bplistTrailerSize)
	}

	p.trailerOffset = l - bplistTrailerSize
	t := p.buffer[p.trailerOffset:]
	p.trailer = bplistTrailer{
		SortVersion:       t[5],
		OffsetIntSize:     t[6],
		ObjectRefSize:     t[7],
		NumObjects:        binary.BigEndian.Uint64(t[8:]),
		TopObject:         binary.BigEndian.Uint64(t[16:]),
		OffsetTableOffset: binary.BigEndian.Uint64(t[24:]),
	}
	if p.opts.TruncatedTrailer {
		p.trailer.NumObjects &= math.MaxUint32
		p.trailer.TopObject &= math.MaxUint32
		p.trailer.OffsetTableOffset &= math.MaxUint32
	}

	if p.opts.Debug {
		p.log.Debug("bplist trailer",
			"version", p.version,
			"offsetIntSize", p.trailer.OffsetIntSize,
			"objectRefSize", p.trailer.ObjectRefSize,
			"numObjects", p.trailer.NumObjects,
			"topObject", p.trailer.TopObject,
			"offsetTableOffset", p.trailer.OffsetTableOffset)
	}

	return p.validateDocumentTrailer()
}

func (p *bplistParser) validateDocumentTrailer() error {
	t := &p.trailer
	if t.OffsetIntSize < 1 || t.OffsetIntSize > 8 {
		return formatErrorf(p.trailerOffset+6, ErrBadTrailer, "offset size %d", t.OffsetIntSize)
	}
	if t.ObjectRefSize < 1 || t.ObjectRefSize > 8 {
		return formatErrorf(p.trailerOffset+7, ErrBadTrailer, "object reference size %d", t.ObjectRefSize)
	}
	if t.TopObject >= t.NumObjects {
		return formatErrorf(p.trailerOffset+16, ErrObjectRange, "top object #%d (only %d exist)", t.TopObject, t.NumObjects)
	}
	if t.OffsetTableOffset < bplistHeaderSize {
		return formatErrorf(p.trailerOffset+24, ErrBadTrailer, "offset table begins inside header (0x%x)", t.OffsetTableOffset)
	}
	if t.OffsetTableOffset > p.trailerOffset ||
		t.NumObjects > (p.trailerOffset-t.OffsetTableOffset)/uint64(t.OffsetIntSize) {
		return formatErrorf(t.OffsetTableOffset, ErrOutOfBounds, "offset table for %d objects runs past trailer@0x%x", t.NumObjects, p.trailerOffset)
	}
	return nil
}

func (p *bplistParser) buildOffsetTable() error {
	n := p.trailer.NumObjects
	size := uint64(p.trailer.OffsetIntSize)
	p.offsetTable = make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		at := p.trailer.OffsetTableOffset + i*size
		off, err := p.uintAt(at, size, p.trailerOffset)
		if err != nil {
			return err
		}
		if off < bplistHeaderSize || off >= p.trailer.OffsetTableOffset {
			return formatErrorf(at, ErrOutOfBounds, "object #%d at 0x%x lies outside the object area", i, off)
		}
		p.offsetTable[i] = off
		if p.opts.Debug {
			p.log.Debug("bplist offset", "object", i, "offset", off)
		}
	}
	return nil
}

// span returns n bytes at off, failing if they extend past limit.
func (p *bplistParser) span(off, n, limit uint64) ([]byte, error) {
	if off > limit || n > limit-off {
		return nil, formatErrorf(off, ErrOutOfBounds, "%d bytes at 0x%x exceed limit 0x%x", n, off, limit)
	}
	return p.buffer[off : off+n], nil
}

// objectBytes returns n bytes of object data at off; object data ends where
// the offset table starts.
func (p *bplistParser) objectBytes(off, n uint64) ([]byte, error) {
	return p.span(off, n, p.trailer.OffsetTableOffset)
}

// uintAt reads an n byte big-endian unsigned integer, n <= 8.
func (p *bplistParser) uintAt(off, n, limit uint64) (uint64, error) {
	b, err := p.span(off, n, limit)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func (p *bplistParser) objectAtIndex(index uint64) (Value, error) {
	if index >= p.trailer.NumObjects {
		return nil, formatErrorf(0, ErrObjectRange, "invalid object #%d (max %d)", index, p.trailer.NumObjects)
	}
	if p.cache != nil {
		if c, ok := p.cache.Get(index); ok {
			if err := p.countNodes(c.nodes); err != nil {
				return nil, err
			}
			return c.value, nil
		}
	}
	if _, busy := p.inProgress[index]; busy {
		chain := append(append([]uint64(nil), p.containerStack...), index)
		return nil, &CycleError{Object: index, Chain: chain}
	}

	before := p.materialized
	if err := p.countNodes(1); err != nil {
		return nil, err
	}
	v, err := p.parseTagAtOffset(index, p.offsetTable[index])
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Add(index, cachedObject{value: v, nodes: p.materialized - before})
	}
	return v, nil
}

// countNodes adds n nodes to the decoded tree size. A cache hit adds the
// whole size of the reused subtree, so the bound is the same with or
// without the cache.
func (p *bplistParser) countNodes(n int) error {
	if n > math.MaxInt-p.materialized {
		p.materialized = math.MaxInt
	} else {
		p.materialized += n
	}
	if p.opts.MaxObjects > 0 && p.materialized > p.opts.MaxObjects {
		return &LimitError{Limit: "object", Max: p.opts.MaxObjects}
	}
	return nil
}

func (p *bplistParser) pushContainer(index uint64) error {
	if p.opts.MaxDepth > 0 && len(p.containerStack) >= p.opts.MaxDepth {
		return &LimitError{Limit: "depth", Max: p.opts.MaxDepth}
	}
	p.containerStack = append(p.containerStack, index)
	p.inProgress[index] = struct{}{}
	return nil
}

func (p *bplistParser) popContainer() {
	last := p.containerStack[len(p.containerStack)-1]
	p.containerStack = p.containerStack[:len(p.containerStack)-1]
	delete(p.inProgress, last)
}

func (p *bplistParser) parseTagAtOffset(index, off uint64) (Value, error) {
	tag := p.buffer[off]
	typ, info := splitTag(tag)

	switch typ {
	case objSimple:
		switch info {
		case bpSimpleNull, bpSimpleFiller:
			return Null{}, nil
		case bpSimpleFalse:
			return Bool(false), nil
		case bpSimpleTrue:
			return Bool(true), nil
		}
		return nil, tagErrorf(off, tag, ErrUnknownSimple, "0x%x", info)
	case objInteger:
		return p.parseIntegerAtOffset(off, tag, info)
	case objReal:
		return p.parseRealAtOffset(off, tag, info)
	case objDate:
		return p.parseDateAtOffset(off, tag, info)
	case objData:
		b, err := p.parseDataAtOffset(off, tag, info)
		if err != nil {
			return nil, err
		}
		return Data(append([]byte{}, b...)), nil
	case objASCIIString:
		return p.parseASCIIStringAtOffset(off, tag, info)
	case objUTF16String:
		return p.parseUTF16StringAtOffset(off, tag, info)
	case objUID:
		// the low nibble is nbytes-1 here, not log2(nbytes)
		n := uint64(info) + 1
		if n > 8 {
			return nil, tagErrorf(off, tag, ErrIllegalSize, "UID of %d bytes", n)
		}
		v, err := p.uintAt(off+1, n, p.trailer.OffsetTableOffset)
		if err != nil {
			return nil, err
		}
		return UID(v), nil
	case objArray:
		return p.parseArrayAtOffset(index, off, tag, info)
	case objDictionary:
		return p.parseDictionaryAtOffset(index, off, tag, info)
	}
	return nil, tagErrorf(off, tag, ErrUnknownType, "%s (0x%x)", typ, uint8(typ))
}

func (p *bplistParser) parseIntegerAtOffset(off uint64, tag byte, info uint8) (Value, error) {
	if info > 4 {
		return nil, tagErrorf(off, tag, ErrIllegalSize, "integer of 2^%d bytes", info)
	}
	n := uint64(1) << info
	b, err := p.objectBytes(off+1, n)
	if err != nil {
		return nil, err
	}
	if n == 16 {
		return NewWideInt(new(uint256.Int).SetBytes(b)), nil
	}
	// 1, 2 and 4 byte integers are unsigned; 8 byte integers are two's
	// complement and come out signed from the conversion below.
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return NewInt(int64(v)), nil
}

func (p *bplistParser) parseRealAtOffset(off uint64, tag byte, info uint8) (Value, error) {
	switch info {
	case 2:
		b, err := p.objectBytes(off+1, 4)
		if err != nil {
			return nil, err
		}
		return Real(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 3:
		b, err := p.objectBytes(off+1, 8)
		if err != nil {
			return nil, err
		}
		return Real(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	}
	return nil, tagErrorf(off, tag, ErrIllegalSize, "real of 2^%d bytes", info)
}

func (p *bplistParser) parseDateAtOffset(off uint64, tag byte, info uint8) (Value, error) {
	if info != 0x3 {
		p.log.Warn("unexpected date type, decoding anyway", "offset", off, "info", info)
	}
	b, err := p.objectBytes(off+1, 8)
	if err != nil {
		return nil, err
	}
	return Date(appleTime(math.Float64frombits(binary.BigEndian.Uint64(b)))), nil
}

// appleTime converts seconds since 2001-01-01T00:00:00Z to a UTC time.
func appleTime(secs float64) time.Time {
	sec, frac := math.Modf(secs)
	return time.Unix(int64(sec)+appleEpochOffset, int64(frac*float64(time.Second))).UTC()
}

// countForTagAtOffset decodes the size of a data, string, array or
// dictionary object and returns it with the offset of its payload.
func (p *bplistParser) countForTagAtOffset(off uint64, tag byte, info uint8) (uint64, uint64, error) {
	if info != bpExtendedCount {
		return uint64(info), off + 1, nil
	}
	b, err := p.objectBytes(off+1, 1)
	if err != nil {
		return 0, 0, err
	}
	intType, intInfo := splitTag(b[0])
	if intType != objInteger {
		return 0, 0, tagErrorf(off, tag, ErrLengthType, "%s (0x%x)", intType, uint8(intType))
	}
	if intInfo > 3 {
		return 0, 0, tagErrorf(off, tag, ErrIllegalSize, "length of 2^%d bytes", intInfo)
	}
	n := uint64(1) << intInfo
	cnt, err := p.uintAt(off+2, n, p.trailer.OffsetTableOffset)
	if err != nil {
		return 0, 0, err
	}
	return cnt, off + 2 + n, nil
}

func (p *bplistParser) parseDataAtOffset(off uint64, tag byte, info uint8) ([]byte, error) {
	cnt, start, err := p.countForTagAtOffset(off, tag, info)
	if err != nil {
		return nil, err
	}
	return p.objectBytes(start, cnt)
}

func (p *bplistParser) parseASCIIStringAtOffset(off uint64, tag byte, info uint8) (Value, error) {
	b, err := p.parseDataAtOffset(off, tag, info)
	if err != nil {
		return nil, err
	}
	for _, c := range b {
		if c >= 0x80 {
			s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
			if err != nil {
				return nil, &FormatError{Offset: off, Tag: tag, HasTag: true, Err: err}
			}
			return Text(s), nil
		}
	}
	return Text(b), nil
}

func (p *bplistParser) parseUTF16StringAtOffset(off uint64, tag byte, info uint8) (Value, error) {
	cnt, start, err := p.countForTagAtOffset(off, tag, info)
	if err != nil {
		return nil, err
	}
	if cnt > math.MaxUint64/2 {
		return nil, tagErrorf(off, tag, ErrIllegalSize, "utf16 string of %d characters", cnt)
	}
	b, err := p.objectBytes(start, cnt*2)
	if err != nil {
		return nil, err
	}
	s, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return nil, &FormatError{Offset: off, Tag: tag, HasTag: true, Err: err}
	}
	return Text(s), nil
}

// objectRefs reads cnt object references starting at off.
func (p *bplistParser) objectRefs(off, cnt uint64) ([]uint64, error) {
	size := uint64(p.trailer.ObjectRefSize)
	if cnt > p.trailer.OffsetTableOffset/size {
		return nil, formatErrorf(off, ErrOutOfBounds, "list of %d references runs past the offset table at 0x%x", cnt, p.trailer.OffsetTableOffset)
	}
	b, err := p.objectBytes(off, cnt*size)
	if err != nil {
		return nil, err
	}
	refs := make([]uint64, cnt)
	for i := range refs {
		var v uint64
		for _, c := range b[uint64(i)*size : uint64(i+1)*size] {
			v = v<<8 | uint64(c)
		}
		refs[i] = v
	}
	return refs, nil
}

func (p *bplistParser) parseArrayAtOffset(index, off uint64, tag byte, info uint8) (Value, error) {
	cnt, start, err := p.countForTagAtOffset(off, tag, info)
	if err != nil {
		return nil, err
	}
	refs, err := p.objectRefs(start, cnt)
	if err != nil {
		return nil, err
	}

	if err := p.pushContainer(index); err != nil {
		return nil, err
	}
	defer p.popContainer()

	arr := make(Array, len(refs))
	for i, ref := range refs {
		if arr[i], err = p.objectAtIndex(ref); err != nil {
			return nil, err
		}
	}
	return arr, nil
}

func (p *bplistParser) parseDictionaryAtOffset(index, off uint64, tag byte, info uint8) (Value, error) {
	// a dictionary is an object list of [key key key val val val]
	cnt, start, err := p.countForTagAtOffset(off, tag, info)
	if err != nil {
		return nil, err
	}
	if cnt > math.MaxUint64/2 {
		return nil, tagErrorf(off, tag, ErrIllegalSize, "dictionary of %d entries", cnt)
	}
	refs, err := p.objectRefs(start, cnt*2)
	if err != nil {
		return nil, err
	}

	if err := p.pushContainer(index); err != nil {
		return nil, err
	}
	defer p.popContainer()

	dict := newDictWithCapacity(int(cnt))
	for i := uint64(0); i < cnt; i++ {
		key, err := p.objectAtIndex(refs[i])
		if err != nil {
			return nil, err
		}
		val, err := p.objectAtIndex(refs[cnt+i])
		if err != nil {
			return nil, err
		}
		dict.Set(key, val)
	}
	return dict, nil
}
