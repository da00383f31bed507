package plist

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadMagic      = errors.New("incomprehensible magic")
	ErrTruncated     = errors.New("not enough data")
	ErrObjectRange   = errors.New("object reference out of range")
	ErrUnknownType   = errors.New("unhandled type")
	ErrUnknownSimple = errors.New("unhandled simple type")
	ErrLengthType    = errors.New("unexpected length-int type")
	ErrOutOfBounds   = errors.New("read past end of buffer")
	ErrIllegalSize   = errors.New("illegal size")
	ErrBadTrailer    = errors.New("invalid trailer")
)

// FormatError reports malformed binary property list input. Offset is the byte
// offset being decoded and Tag, when HasTag is set, the tag byte found there.
type FormatError struct {
	Offset uint64
	Tag    byte
	HasTag bool
	Err    error
}

func (e *FormatError) Error() string {
	s := "plist: invalid binary property list"
	if e.HasTag {
		s += fmt.Sprintf(" at 0x%x (tag 0x%02x)", e.Offset, e.Tag)
	} else {
		s += fmt.Sprintf(" at 0x%x", e.Offset)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErrorf(off uint64, sentinel error, format string, args ...interface{}) error {
	return &FormatError{Offset: off, Err: fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)}
}

func tagErrorf(off uint64, tag byte, sentinel error, format string, args ...interface{}) error {
	return &FormatError{Offset: off, Tag: tag, HasTag: true, Err: fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)}
}

// CycleError is returned when a container references itself, directly or
// through one of its members. Chain lists the object indices being decoded,
// outermost first, ending with the repeated one.
type CycleError struct {
	Object uint64
	Chain  []uint64
}

func (e *CycleError) Error() string {
	ids := make([]string, 0, len(e.Chain))
	for _, id := range e.Chain {
		ids = append(ids, fmt.Sprintf("#%d", id))
	}
	return fmt.Sprintf("plist: self-referential collection #%d (%s) cannot be decoded", e.Object, strings.Join(ids, " > "))
}

// LimitError is returned when decoding exceeds a configured bound.
type LimitError struct {
	Limit string
	Max   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("plist: %s limit of %d exceeded", e.Limit, e.Max)
}
