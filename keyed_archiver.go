package plist

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"
)

type archiverDate struct {
	Time  float64 `plist:"NS.time"`
	Class UID     `plist:"$class"`
}
type archiverData struct {
	Data  []byte `plist:"NS.data"`
	Class UID    `plist:"$class"`
}
type archiverString struct {
	String string `plist:"NS.string"`
	Class  UID    `plist:"$class"`
}
type archiverUUID struct {
	Bytes []byte `plist:"NS.uuidbytes"`
	Class UID    `plist:"$class"`
}
type archiverArray struct {
	Objects []interface{} `plist:"NS.objects"`
	Class   UID           `plist:"$class"`
}
type archiverTable struct {
	Keys    []interface{} `plist:"NS.keys"`
	Objects []interface{} `plist:"NS.objects"`
	Class   UID           `plist:"$class"`
}

type archiverClass struct {
	ClassName string   `plist:"$classname"`
	Classes   []string `plist:"$classes"`
}

func (c *archiverClass) isDictionary() bool {
	return c.ClassName == "NSMutableDictionary" || c.ClassName == "NSDictionary"
}
func (c *archiverClass) isArray() bool {
	switch c.ClassName {
	case "NSMutableArray", "NSArray", "NSMutableSet", "NSSet", "NSOrderedSet", "NSMutableOrderedSet":
		return true
	}
	return false
}
func (c *archiverClass) isData() bool {
	return c.ClassName == "NSMutableData" || c.ClassName == "NSData"
}
func (c *archiverClass) isString() bool {
	return c.ClassName == "NSMutableString" || c.ClassName == "NSString"
}
func (c *archiverClass) isUUID() bool {
	return c.ClassName == "NSUUID"
}
func (c *archiverClass) isDate() bool {
	return c.ClassName == "NSDate"
}

const archiverNull = "$null"

var (
	archiverDateType = reflect.TypeOf(time.Time{})
	archiverUUIDType = reflect.TypeOf(uuid.UUID{})

	errArchiverNoRoot = errors.New("plist: keyed archive has no root object")
)

type archiverTop struct {
	Root UID `plist:"root"`
}

// Archiver reads NSKeyedArchiver documents: a dictionary holding a flat
// $objects table whose entries refer to each other through UIDs.
type Archiver struct {
	Version  int           `plist:"$version"`
	Objects  []interface{} `plist:"$objects"`
	Archiver string        `plist:"$archiver"`
	Top      *archiverTop  `plist:"$top"`

	// objects being unmarshalled or printed, to stop on reference cycles
	visiting map[UID]bool
}

// ReadFromZipData reads a gzip compressed archive.
func (a *Archiver) ReadFromZipData(data []byte, opts ...Option) error {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer reader.Close()
	return a.ReadFromReader(reader, opts...)
}

func (a *Archiver) ReadFromData(data []byte, opts ...Option) error {
	return a.ReadFromReader(bytes.NewReader(data), opts...)
}

func (a *Archiver) ReadFromReader(reader io.Reader, opts ...Option) error {
	if err := NewDecoder(reader, opts...).Decode(a); err != nil {
		return err
	}
	if a.Top == nil {
		return errArchiverNoRoot
	}
	if _, err := a.object(a.Top.Root); err != nil {
		return err
	}
	return nil
}

func (a *Archiver) object(uid UID) (interface{}, error) {
	if uint64(uid) >= uint64(len(a.Objects)) {
		return nil, fmt.Errorf("plist: archive UID %d out of range (%d objects)", uid, len(a.Objects))
	}
	return a.Objects[uid], nil
}

// deref follows v if it is a UID.
func (a *Archiver) deref(v interface{}) (interface{}, error) {
	if uid, ok := v.(UID); ok {
		return a.object(uid)
	}
	return v, nil
}

func (a *Archiver) getClass(dict map[string]interface{}) (*archiverClass, error) {
	ref, ok := dict["$class"].(UID)
	if !ok {
		return nil, errors.New("plist: archived object has no $class")
	}
	obj, err := a.object(ref)
	if err != nil {
		return nil, err
	}
	classDict, ok := obj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("plist: $class %d is a %T, not a dictionary", ref, obj)
	}
	class := &archiverClass{}
	if err := Dictionary(classDict).Unmarshal(class); err != nil {
		return nil, err
	}
	return class, nil
}

func (a *Archiver) enter(uid UID) error {
	if a.visiting == nil {
		a.visiting = make(map[UID]bool)
	}
	if a.visiting[uid] {
		return fmt.Errorf("plist: archive object %d references itself", uid)
	}
	a.visiting[uid] = true
	return nil
}

func (a *Archiver) leave(uid UID) {
	delete(a.visiting, uid)
}

// Unmarshal stores the root object of the archive in v.
func (a *Archiver) Unmarshal(v interface{}) error {
	if a.Top == nil {
		return errArchiverNoRoot
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return errors.New("plist: Unmarshal target must be a non-nil pointer")
	}
	return a.unmarshal(a.Top.Root, val)
}

func (a *Archiver) unmarshal(v interface{}, val reflect.Value) error {
	if uid, ok := v.(UID); ok {
		if err := a.enter(uid); err != nil {
			return err
		}
		defer a.leave(uid)
		obj, err := a.object(uid)
		if err != nil {
			return err
		}
		v = obj
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			val.Set(reflect.New(val.Type().Elem()))
		}
		val = val.Elem()
	}

	switch pval := v.(type) {
	case string:
		if pval == archiverNull {
			val.Set(reflect.Zero(val.Type()))
			return nil
		}
		return unmarshalNative(pval, val)
	case []interface{}:
		if val.Kind() == reflect.Interface && val.NumMethod() == 0 {
			list, err := a.resolveList(pval)
			if err != nil {
				return err
			}
			val.Set(reflect.ValueOf(list))
			return nil
		}
		if val.Kind() != reflect.Slice {
			return fmt.Errorf("not slice field: %v", val.Type())
		}
		return a.unmarshalList(pval, val)
	case map[string]interface{}:
		if _, archived := pval["$class"]; !archived {
			return unmarshalNative(pval, val)
		}
		return a.unmarshalObject(pval, val)
	}
	return unmarshalNative(v, val)
}

func (a *Archiver) unmarshalObject(pval map[string]interface{}, val reflect.Value) error {
	class, err := a.getClass(pval)
	if err != nil {
		return err
	}
	if val.Kind() == reflect.Interface && val.NumMethod() == 0 {
		resolved, err := a.resolveObject(class, pval)
		if err != nil {
			return err
		}
		val.Set(reflect.ValueOf(resolved))
		return nil
	}
	switch {
	case class.isDate():
		if val.Type() != archiverDateType {
			return fmt.Errorf("not date field: %v", val.Type())
		}
		date := &archiverDate{}
		if err := Dictionary(pval).Unmarshal(date); err != nil {
			return err
		}
		val.Set(reflect.ValueOf(appleTime(date.Time)))
		return nil
	case class.isUUID():
		id, err := a.uuidOf(pval)
		if err != nil {
			return err
		}
		if val.Type() == archiverUUIDType {
			val.Set(reflect.ValueOf(id))
			return nil
		}
		if val.Kind() == reflect.String {
			val.SetString(id.String())
			return nil
		}
		return fmt.Errorf("not uuid field: %v", val.Type())
	case class.isData():
		data := &archiverData{}
		if err := Dictionary(pval).Unmarshal(data); err != nil {
			return err
		}
		return unmarshalNative(data.Data, val)
	case class.isString():
		str := &archiverString{}
		if err := Dictionary(pval).Unmarshal(str); err != nil {
			return err
		}
		return unmarshalNative(str.String, val)
	case class.isArray():
		if val.Kind() != reflect.Slice {
			return fmt.Errorf("not slice field for %s: %v", class.ClassName, val.Type())
		}
		arr := &archiverArray{}
		if err := Dictionary(pval).Unmarshal(arr); err != nil {
			return err
		}
		return a.unmarshalList(arr.Objects, val)
	case class.isDictionary():
		return a.unmarshalTable(pval, val)
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("unknown object type: %s(%v)", class.ClassName, val.Type())
	}
	return a.unmarshalNSType(pval, val)
}

func (a *Archiver) uuidOf(pval map[string]interface{}) (uuid.UUID, error) {
	id := &archiverUUID{}
	if err := Dictionary(pval).Unmarshal(id); err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(id.Bytes)
}

func (a *Archiver) unmarshalList(items []interface{}, val reflect.Value) error {
	slice := reflect.MakeSlice(val.Type(), len(items), len(items))
	for i, item := range items {
		if err := a.unmarshal(item, slice.Index(i)); err != nil {
			return err
		}
	}
	val.Set(slice)
	return nil
}

// table reads the NS.keys / NS.objects pairs of a dictionary object.
func (a *Archiver) table(dict map[string]interface{}) ([]string, []interface{}, error) {
	tab := &archiverTable{}
	if err := Dictionary(dict).Unmarshal(tab); err != nil {
		return nil, nil, err
	}
	if len(tab.Keys) != len(tab.Objects) {
		return nil, nil, fmt.Errorf("plist: dictionary has %d keys and %d objects", len(tab.Keys), len(tab.Objects))
	}
	keys := make([]string, len(tab.Keys))
	for i, k := range tab.Keys {
		obj, err := a.deref(k)
		if err != nil {
			return nil, nil, err
		}
		key, ok := obj.(string)
		if !ok {
			return nil, nil, fmt.Errorf("plist: dictionary key %d is a %T", i, obj)
		}
		keys[i] = key
	}
	return keys, tab.Objects, nil
}

func (a *Archiver) unmarshalTable(dict map[string]interface{}, val reflect.Value) error {
	keys, objects, err := a.table(dict)
	if err != nil {
		return err
	}
	switch val.Kind() {
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("map key is not a string: %v", val.Type())
		}
		m := reflect.MakeMapWithSize(val.Type(), len(keys))
		for i, k := range keys {
			item := reflect.New(val.Type().Elem()).Elem()
			if err := a.unmarshal(objects[i], item); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(val.Type().Key()), item)
		}
		val.Set(m)
		return nil
	case reflect.Struct:
		kvs := make(map[string]interface{}, len(keys))
		for i, k := range keys {
			kvs[k] = objects[i]
		}
		return a.unmarshalFields(kvs, val)
	}
	return fmt.Errorf("not map or struct field: %v", val.Type())
}

// unmarshalNSType fills a struct from the coder keys of a custom class.
func (a *Archiver) unmarshalNSType(pval map[string]interface{}, val reflect.Value) error {
	return a.unmarshalFields(pval, val)
}

func (a *Archiver) unmarshalFields(kvs map[string]interface{}, val reflect.Value) error {
	tinfo, err := GetTypeInfo(val.Type())
	if err != nil {
		return err
	}
	for _, finfo := range tinfo.Fields {
		value, ok := kvs[finfo.Name]
		if !ok {
			continue
		}
		if err := a.unmarshal(value, finfo.Value(val)); err != nil {
			return fmt.Errorf("field %s: %w", finfo.Name, err)
		}
	}
	return nil
}

// Resolve returns the root object with every UID replaced by the object it
// names. Foundation classes become plain Go values; other objects become a
// map of their coder keys plus "$classname".
func (a *Archiver) Resolve() (interface{}, error) {
	if a.Top == nil {
		return nil, errArchiverNoRoot
	}
	var out interface{}
	if err := a.unmarshal(a.Top.Root, reflect.ValueOf(&out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Archiver) resolve(v interface{}) (interface{}, error) {
	var out interface{}
	if err := a.unmarshal(v, reflect.ValueOf(&out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Archiver) resolveList(items []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(items))
	for i, item := range items {
		r, err := a.resolve(item)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (a *Archiver) resolveObject(class *archiverClass, pval map[string]interface{}) (interface{}, error) {
	switch {
	case class.isDate():
		date := &archiverDate{}
		if err := Dictionary(pval).Unmarshal(date); err != nil {
			return nil, err
		}
		return appleTime(date.Time), nil
	case class.isUUID():
		return a.uuidOf(pval)
	case class.isData():
		data := &archiverData{}
		err := Dictionary(pval).Unmarshal(data)
		return data.Data, err
	case class.isString():
		str := &archiverString{}
		err := Dictionary(pval).Unmarshal(str)
		return str.String, err
	case class.isArray():
		arr := &archiverArray{}
		if err := Dictionary(pval).Unmarshal(arr); err != nil {
			return nil, err
		}
		return a.resolveList(arr.Objects)
	case class.isDictionary():
		keys, objects, err := a.table(pval)
		if err != nil {
			return nil, err
		}
		out := make(map[string]interface{}, len(keys))
		for i, k := range keys {
			if out[k], err = a.resolve(objects[i]); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	out := map[string]interface{}{"$classname": class.ClassName}
	for k, v := range pval {
		if k == "$class" {
			continue
		}
		r, err := a.resolve(v)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}

// Print renders the resolved root object for inspection.
func (a *Archiver) Print() (string, error) {
	root, err := a.Resolve()
	if err != nil {
		return "", err
	}
	b := &strings.Builder{}
	printObject(b, root, 0)
	return b.String(), nil
}

func printObject(b *strings.Builder, v interface{}, depth int) {
	indent := strings.Repeat("\t", depth+1)
	switch pval := v.(type) {
	case nil:
		b.WriteString("nil")
	case string:
		fmt.Fprintf(b, "string(%v)", pval)
	case int64:
		fmt.Fprintf(b, "int64(%v)", pval)
	case uint64:
		fmt.Fprintf(b, "uint64(%v)", pval)
	case float64:
		fmt.Fprintf(b, "float64(%v)", pval)
	case bool:
		fmt.Fprintf(b, "bool(%v)", pval)
	case []byte:
		fmt.Fprintf(b, "[]byte(%x)", pval)
	case time.Time:
		fmt.Fprintf(b, "time(%v)", pval.Format(time.RFC3339Nano))
	case uuid.UUID:
		fmt.Fprintf(b, "uuid(%v)", pval)
	case []interface{}:
		b.WriteString("array{\n")
		for i, item := range pval {
			fmt.Fprintf(b, "%s[%d]: ", indent, i)
			printObject(b, item, depth+1)
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("\t", depth) + "}")
	case map[string]interface{}:
		name := "dict"
		if cn, ok := pval["$classname"].(string); ok {
			name = cn
		}
		keys := make([]string, 0, len(pval))
		for k := range pval {
			if k != "$classname" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		b.WriteString(name + "{\n")
		for _, k := range keys {
			fmt.Fprintf(b, "%s[%s]: ", indent, k)
			printObject(b, pval[k], depth+1)
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("\t", depth) + "}")
	default:
		fmt.Fprintf(b, "%T(%v)", pval, pval)
	}
}
