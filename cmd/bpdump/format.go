package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kr/pretty"
	"gopkg.in/yaml.v2"

	plist "github.com/zdypro888/bplist"
)

func render(w io.Writer, format string, v plist.Value) error {
	switch format {
	case "json":
		out, err := json.MarshalIndent(plist.Native(v), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	case "yaml":
		out, err := yaml.Marshal(yamlValue(v))
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "pretty":
		_, err := pretty.Fprintf(w, "%# v\n", plist.Native(v))
		return err
	case "text", "":
		b := &strings.Builder{}
		writeText(b, v, 0)
		b.WriteByte('\n')
		_, err := io.WriteString(w, b.String())
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}

// yamlValue keeps dictionary order by emitting yaml.MapSlice.
func yamlValue(v plist.Value) interface{} {
	switch v := v.(type) {
	case plist.Array:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = yamlValue(item)
		}
		return out
	case *plist.Dict:
		out := make(yaml.MapSlice, 0, v.Len())
		for k, item := range v.All() {
			out = append(out, yaml.MapItem{Key: yamlValue(k), Value: yamlValue(item)})
		}
		return out
	case plist.Int:
		if v.IsWide() {
			return v.String()
		}
	case plist.UID:
		return fmt.Sprintf("UID(%d)", uint64(v))
	}
	return plist.Native(v)
}

func writeText(b *strings.Builder, v plist.Value, depth int) {
	indent := strings.Repeat("\t", depth+1)
	switch v := v.(type) {
	case plist.Null:
		b.WriteString("null")
	case plist.Bool:
		b.WriteString(strconv.FormatBool(bool(v)))
	case plist.Int:
		b.WriteString(v.String())
	case plist.Real:
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 64))
	case plist.Date:
		b.WriteString(v.Time().Format(time.RFC3339Nano))
	case plist.Data:
		fmt.Fprintf(b, "<%x>", []byte(v))
	case plist.Text:
		b.WriteString(strconv.Quote(string(v)))
	case plist.UID:
		fmt.Fprintf(b, "UID(%d)", uint64(v))
	case plist.Array:
		if len(v) == 0 {
			b.WriteString("()")
			return
		}
		b.WriteString("(\n")
		for _, item := range v {
			b.WriteString(indent)
			writeText(b, item, depth+1)
			b.WriteString(",\n")
		}
		b.WriteString(strings.Repeat("\t", depth) + ")")
	case *plist.Dict:
		if v.Len() == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{\n")
		for k, item := range v.All() {
			b.WriteString(indent)
			writeText(b, k, depth+1)
			b.WriteString(" = ")
			writeText(b, item, depth+1)
			b.WriteString(";\n")
		}
		b.WriteString(strings.Repeat("\t", depth) + "}")
	}
}
