package plist

import "fmt"

// Native converts a Value tree into plain Go values. Dictionaries become
// map[string]interface{}; keys that are not strings are formatted with
// KeyString. 16 byte integers that do not fit a uint64 are returned as
// *uint256.Int.
func Native(v Value) interface{} {
	switch v := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(v)
	case Int:
		if !v.IsWide() {
			n, _ := v.Int64()
			if n < 0 {
				return n
			}
			return uint64(n)
		}
		if u, ok := v.Uint64(); ok {
			return u
		}
		w, _ := v.Wide()
		return w
	case Real:
		return float64(v)
	case Date:
		return v.Time()
	case Data:
		return []byte(v)
	case Text:
		return string(v)
	case UID:
		return v
	case Array:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Native(item)
		}
		return out
	case *Dict:
		out := make(map[string]interface{}, v.Len())
		for k, item := range v.All() {
			out[KeyString(k)] = Native(item)
		}
		return out
	}
	return fmt.Sprintf("%v", v)
}

// KeyString renders a dictionary key as a string.
func KeyString(k Value) string {
	switch k := k.(type) {
	case Text:
		return string(k)
	case Int:
		return k.String()
	case Date:
		return k.Time().Format("2006-01-02T15:04:05Z07:00")
	}
	return fmt.Sprint(Native(k))
}
