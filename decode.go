package plist

import (
	"errors"
	"io"
	"reflect"
)

// Parse decodes a binary property list held entirely in buf and returns its
// top object. buf is not retained by the result.
func Parse(buf []byte, opts ...Option) (Value, error) {
	_, v, err := ParseDocument(buf, opts...)
	return v, err
}

// ParseDocument is like Parse but also returns the document layout read from
// the trailer and offset table.
func ParseDocument(buf []byte, opts ...Option) (*Document, Value, error) {
	p := newBplistParser(buf, applyOptions(opts))
	v, err := p.parseDocument()
	if err != nil {
		return nil, nil, err
	}
	return p.document(), v, nil
}

// A Decoder reads a binary property list from an input stream. The whole
// stream is read before decoding starts.
type Decoder struct {
	reader io.Reader
	opts   []Option
}

// NewDecoder returns a Decoder that reads from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	return &Decoder{reader: r, opts: opts}
}

// DecodeValue reads the stream and returns its top object.
func (d *Decoder) DecodeValue() (Value, error) {
	buf, err := io.ReadAll(d.reader)
	if err != nil {
		return nil, err
	}
	return Parse(buf, d.opts...)
}

// Decode reads the stream and stores the property list in the value pointed
// to by v. A *Value receives the tree as is; anything else is filled the way
// Unmarshal describes.
func (d *Decoder) Decode(v interface{}) error {
	pval, err := d.DecodeValue()
	if err != nil {
		return err
	}
	return unmarshalInto(pval, v)
}

// Unmarshal parses a binary property list and stores the result in the value
// pointed to by v.
//
// Values are converted with Native first, so an interface{} target receives
// one of:
//
//	string, bool, uint64, int64, float64, time.Time, nil
//	plist.UID for keyed archiver UIDs
//	[]byte, for plist data
//	[]interface{}, for plist arrays
//	map[string]interface{}, for plist dictionaries
//
// Structs are filled by field name or `plist:"name"` tag.
func Unmarshal(data []byte, v interface{}, opts ...Option) error {
	pval, err := Parse(data, opts...)
	if err != nil {
		return err
	}
	return unmarshalInto(pval, v)
}

func unmarshalInto(pval Value, v interface{}) error {
	if tree, ok := v.(*Value); ok {
		*tree = pval
		return nil
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return errors.New("plist: Unmarshal target must be a non-nil pointer")
	}
	return unmarshalNative(Native(pval), val)
}
