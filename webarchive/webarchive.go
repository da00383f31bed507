// Package webarchive reads Safari .webarchive files, which are binary
// property lists holding the page's main resource, its subresources and the
// archives of its subframes.
package webarchive

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	plist "github.com/zdypro888/bplist"
)

// Keys used by Safari for the main resource of an archive.
const (
	MainResourceKey     = "WebMainResource"
	TextEncodingNameKey = "WebResourceTextEncodingName"
	ResourceDataKey     = "WebResourceData"
)

// MissingFieldError reports a key that is absent from the decoded archive or
// holds a value of the wrong kind.
type MissingFieldError struct {
	Path  string
	Want  plist.Kind
	Found plist.Value
}

func (e *MissingFieldError) Error() string {
	if e.Found == nil {
		return fmt.Sprintf("webarchive: missing %s field %q", e.Want, e.Path)
	}
	return fmt.Sprintf("webarchive: field %q is a %s, want %s", e.Path, e.Found.Kind(), e.Want)
}

// Resource is one archived resource.
type Resource struct {
	URL              string `plist:"WebResourceURL"`
	MIMEType         string `plist:"WebResourceMIMEType"`
	TextEncodingName string `plist:"WebResourceTextEncodingName,omitempty"`
	FrameName        string `plist:"WebResourceFrameName,omitempty"`
	Data             []byte `plist:"WebResourceData"`
}

// Text decodes the resource data with its declared text encoding.
func (r *Resource) Text() (string, error) {
	return DecodeText(r.Data, r.TextEncodingName)
}

// Archive is the typed view of a webarchive document.
type Archive struct {
	MainResource     Resource   `plist:"WebMainResource"`
	Subresources     []Resource `plist:"WebSubresources,omitempty"`
	SubframeArchives []Archive  `plist:"WebSubframeArchives,omitempty"`
}

// Decode parses a webarchive into its typed form.
func Decode(buf []byte, opts ...plist.Option) (*Archive, error) {
	archive := &Archive{}
	if err := plist.Unmarshal(buf, archive, opts...); err != nil {
		return nil, err
	}
	return archive, nil
}

// MainResourceText returns the text of the archive's main resource, using the
// key names Safari writes.
func MainResourceText(buf []byte, opts ...plist.Option) (string, error) {
	return ExtractResourceText(buf, MainResourceKey, TextEncodingNameKey, ResourceDataKey, opts...)
}

// ExtractResourceText decodes buf, finds the dictionary stored under
// resourceKey in the top object and decodes its dataKey bytes with the
// encoding named by its encodingKey string.
func ExtractResourceText(buf []byte, resourceKey, encodingKey, dataKey string, opts ...plist.Option) (string, error) {
	root, err := plist.Parse(buf, opts...)
	if err != nil {
		return "", err
	}
	top, ok := root.(*plist.Dict)
	if !ok {
		return "", &MissingFieldError{Path: "top object", Want: plist.KindDict, Found: root}
	}
	resource, err := field[*plist.Dict](top, resourceKey, resourceKey, plist.KindDict)
	if err != nil {
		return "", err
	}
	name, err := field[plist.Text](resource, encodingKey, resourceKey+"."+encodingKey, plist.KindText)
	if err != nil {
		return "", err
	}
	data, err := field[plist.Data](resource, dataKey, resourceKey+"."+dataKey, plist.KindData)
	if err != nil {
		return "", err
	}
	return DecodeText(data, string(name))
}

func field[T plist.Value](d *plist.Dict, key, path string, want plist.Kind) (T, error) {
	var zero T
	v, ok := d.Lookup(key)
	if !ok {
		return zero, &MissingFieldError{Path: path, Want: want}
	}
	t, ok := v.(T)
	if !ok {
		return zero, &MissingFieldError{Path: path, Want: want, Found: v}
	}
	return t, nil
}

// DecodeText converts data from the named encoding to a Go string. Names are
// WHATWG encoding labels and match case-insensitively; an empty name means
// UTF-8. Invalid input sequences become U+FFFD.
func DecodeText(data []byte, name string) (string, error) {
	enc, err := lookupEncoding(name)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("webarchive: decoding %s text: %w", name, err)
	}
	return string(out), nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("webarchive: unknown text encoding %q: %w", name, err)
	}
	return enc, nil
}
