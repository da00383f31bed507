package plist

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/holiman/uint256"
)

// Dictionary is a decoded plist dictionary in its Native form.
type Dictionary map[string]interface{}

var (
	timeType    = reflect.TypeOf(time.Time{})
	uidType     = reflect.TypeOf(UID(0))
	wideIntType = reflect.TypeOf(uint256.Int{})
)

// Unmarshal stores the dictionary into the struct or map pointed to by v.
func (m Dictionary) Unmarshal(v interface{}) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return errors.New("plist: Dictionary.Unmarshal target must be a non-nil pointer")
	}
	return unmarshalNative(map[string]interface{}(m), val)
}

func unmarshalNative(v interface{}, val reflect.Value) error {
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			if !val.CanSet() {
				return fmt.Errorf("plist: cannot unmarshal into nil %v", val.Type())
			}
			val.Set(reflect.New(val.Type().Elem()))
		}
		val = val.Elem()
	}
	if val.Kind() == reflect.Interface && val.NumMethod() == 0 {
		if v == nil {
			val.Set(reflect.Zero(val.Type()))
		} else {
			val.Set(reflect.ValueOf(v))
		}
		return nil
	}

	switch pval := v.(type) {
	case nil:
		val.Set(reflect.Zero(val.Type()))
	case string:
		if val.Kind() != reflect.String {
			return fmt.Errorf("not string field: %v", val.Type())
		}
		val.SetString(pval)
	case int64:
		return setInteger(val, pval, uint64(pval), pval >= 0)
	case uint64:
		return setInteger(val, int64(pval), pval, true)
	case UID:
		if val.Type() == uidType {
			val.Set(reflect.ValueOf(pval))
			return nil
		}
		return setInteger(val, int64(pval), uint64(pval), true)
	case *uint256.Int:
		if val.Type() != wideIntType {
			return fmt.Errorf("not 128-bit integer field: %v", val.Type())
		}
		val.Set(reflect.ValueOf(*pval))
	case float64:
		if val.Kind() != reflect.Float32 && val.Kind() != reflect.Float64 {
			return fmt.Errorf("not float field: %v", val.Type())
		}
		val.SetFloat(pval)
	case bool:
		if val.Kind() != reflect.Bool {
			return fmt.Errorf("not bool field: %v", val.Type())
		}
		val.SetBool(pval)
	case time.Time:
		if val.Type() != timeType {
			return fmt.Errorf("not date field: %v", val.Type())
		}
		val.Set(reflect.ValueOf(pval))
	case []byte:
		if val.Kind() != reflect.Slice || val.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("not data field: %v", val.Type())
		}
		val.SetBytes(append([]byte(nil), pval...))
	case []interface{}:
		if val.Kind() != reflect.Slice {
			return fmt.Errorf("not slice field: %v", val.Type())
		}
		return unmarshalSlice(pval, val)
	case map[string]interface{}:
		switch val.Kind() {
		case reflect.Map:
			return unmarshalMap(pval, val)
		case reflect.Struct:
			return unmarshalStruct(pval, val)
		}
		return fmt.Errorf("not map or struct field: %v", val.Type())
	default:
		return fmt.Errorf("not plist type: %T", v)
	}
	return nil
}

func setInteger(val reflect.Value, i int64, u uint64, nonNegative bool) error {
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if (nonNegative && u > 1<<63-1) || val.OverflowInt(i) {
			return fmt.Errorf("integer %d overflows %v", u, val.Type())
		}
		val.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if !nonNegative || val.OverflowUint(u) {
			return fmt.Errorf("integer %d overflows %v", i, val.Type())
		}
		val.SetUint(u)
	case reflect.Float32, reflect.Float64:
		if nonNegative {
			val.SetFloat(float64(u))
		} else {
			val.SetFloat(float64(i))
		}
	default:
		return fmt.Errorf("not integer field: %v", val.Type())
	}
	return nil
}

func unmarshalSlice(array []interface{}, val reflect.Value) error {
	slice := reflect.MakeSlice(val.Type(), len(array), len(array))
	for i, v := range array {
		if err := unmarshalNative(v, slice.Index(i)); err != nil {
			return err
		}
	}
	val.Set(slice)
	return nil
}

func unmarshalMap(dict map[string]interface{}, val reflect.Value) error {
	typ := val.Type()
	if typ.Key().Kind() != reflect.String {
		return fmt.Errorf("map key is not a string: %v", typ)
	}
	m := reflect.MakeMapWithSize(typ, len(dict))
	for k, v := range dict {
		item := reflect.New(typ.Elem()).Elem()
		if err := unmarshalNative(v, item); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		m.SetMapIndex(reflect.ValueOf(k).Convert(typ.Key()), item)
	}
	val.Set(m)
	return nil
}

func unmarshalStruct(dict map[string]interface{}, val reflect.Value) error {
	tinfo, err := GetTypeInfo(val.Type())
	if err != nil {
		return err
	}
	for _, finfo := range tinfo.Fields {
		dval, ok := dict[finfo.Name]
		if !ok {
			continue
		}
		if err := unmarshalNative(dval, finfo.Value(val)); err != nil {
			return fmt.Errorf("field %s: %w", finfo.Name, err)
		}
	}
	return nil
}

// ConvertToJSON decodes a binary property list and renders it as JSON.
func ConvertToJSON(data []byte, opts ...Option) ([]byte, error) {
	pval, err := Parse(data, opts...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Native(pval))
}
