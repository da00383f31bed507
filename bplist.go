package plist

const (
	bplistMagic       = "bplist"
	bplistTrailerSize = 32
)

type bplistTrailer struct {
	Unused            [5]uint8
	SortVersion       uint8
	OffsetIntSize     uint8
	ObjectRefSize     uint8
	NumObjects        uint64
	TopObject         uint64
	OffsetTableOffset uint64
}

// objType is the high nibble of an object's tag byte.
type objType uint8

const (
	objSimple      objType = 0x0
	objInteger     objType = 0x1
	objReal        objType = 0x2
	objDate        objType = 0x3
	objData        objType = 0x4
	objASCIIString objType = 0x5
	objUTF16String objType = 0x6
	objUID         objType = 0x8
	objArray       objType = 0xA
	objDictionary  objType = 0xD
)

// Low nibble values of simple objects.
const (
	bpSimpleNull   uint8 = 0x0
	bpSimpleFalse  uint8 = 0x8
	bpSimpleTrue   uint8 = 0x9
	bpSimpleFiller uint8 = 0xF
)

// bpExtendedCount marks a count stored in a trailing integer object.
const bpExtendedCount uint8 = 0xF

func splitTag(tag byte) (objType, uint8) {
	return objType(tag >> 4), tag & 0x0F
}

func (t objType) String() string {
	switch t {
	case objSimple:
		return "simple"
	case objInteger:
		return "integer"
	case objReal:
		return "real"
	case objDate:
		return "date"
	case objData:
		return "data"
	case objASCIIString:
		return "ascii string"
	case objUTF16String:
		return "utf16 string"
	case objUID:
		return "UID"
	case objArray:
		return "array"
	case objDictionary:
		return "dictionary"
	}
	return "unknown"
}
