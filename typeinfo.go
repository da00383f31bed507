package plist

import (
	"reflect"
	"strings"
	"sync"
)

// TypeInfo lists the fields of a struct type that take part in unmarshalling.
type TypeInfo struct {
	Fields []FieldInfo
}

// FieldInfo describes one struct field and the dictionary key it reads.
type FieldInfo struct {
	idx       []int
	Name      string
	OmitEmpty bool
}

var typeInfoCache sync.Map // map[reflect.Type]*TypeInfo

// GetTypeInfo returns the field layout of typ, flattening embedded structs.
// Results are cached.
func GetTypeInfo(typ reflect.Type) (*TypeInfo, error) {
	if cached, ok := typeInfoCache.Load(typ); ok {
		return cached.(*TypeInfo), nil
	}
	tinfo := &TypeInfo{}
	if typ.Kind() == reflect.Struct {
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if f.Tag.Get("plist") == "-" || (!f.Anonymous && !f.IsExported()) {
				continue
			}
			if f.Anonymous {
				et := f.Type
				if et.Kind() == reflect.Ptr {
					et = et.Elem()
				}
				if et.Kind() == reflect.Struct && f.Tag.Get("plist") == "" {
					inner, err := GetTypeInfo(et)
					if err != nil {
						return nil, err
					}
					for _, finfo := range inner.Fields {
						finfo.idx = append([]int{i}, finfo.idx...)
						tinfo.add(finfo)
					}
					continue
				}
				if !f.IsExported() {
					continue
				}
			}
			tinfo.add(parseFieldTag(&f))
		}
	}
	actual, _ := typeInfoCache.LoadOrStore(typ, tinfo)
	return actual.(*TypeInfo), nil
}

func parseFieldTag(f *reflect.StructField) FieldInfo {
	finfo := FieldInfo{idx: f.Index, Name: f.Name}
	name, flags, _ := strings.Cut(f.Tag.Get("plist"), ",")
	if name != "" {
		finfo.Name = name
	}
	for _, flag := range strings.Split(flags, ",") {
		if flag == "omitempty" {
			finfo.OmitEmpty = true
		}
	}
	return finfo
}

// add appends finfo unless a shallower field already uses its name. Deeper
// fields with the same name are dropped, as with Go's embedding rules.
func (tinfo *TypeInfo) add(finfo FieldInfo) {
	kept := tinfo.Fields[:0]
	for _, old := range tinfo.Fields {
		if old.Name == finfo.Name {
			if len(old.idx) <= len(finfo.idx) {
				return
			}
			continue
		}
		kept = append(kept, old)
	}
	tinfo.Fields = append(kept, finfo)
}

// Value returns the field of v described by finfo, allocating nil embedded
// struct pointers on the way.
func (finfo *FieldInfo) Value(v reflect.Value) reflect.Value {
	for i, x := range finfo.idx {
		if i > 0 && v.Kind() == reflect.Ptr && v.Type().Elem().Kind() == reflect.Struct {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}
