package server

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// splitFields parses a comma separated field list, dropping blanks.
func splitFields(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for f := range strings.SplitSeq(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// project keeps only the given gjson paths of a document. Objects are
// projected directly, arrays element by element. Missing paths are omitted
// and anything that is neither an object nor an array is returned unchanged.
func project(data []byte, fields []string) []byte {
	if len(fields) == 0 {
		return data
	}
	doc := gjson.ParseBytes(data)
	switch {
	case doc.IsObject():
		var buf bytes.Buffer
		projectObject(&buf, doc, fields)
		return buf.Bytes()
	case doc.IsArray():
		var buf bytes.Buffer
		buf.WriteByte('[')
		i := 0
		doc.ForEach(func(_, el gjson.Result) bool {
			if i > 0 {
				buf.WriteByte(',')
			}
			if el.IsObject() {
				projectObject(&buf, el, fields)
			} else {
				buf.WriteString(el.Raw)
			}
			i++
			return true
		})
		buf.WriteByte(']')
		return buf.Bytes()
	default:
		return data
	}
}

func projectObject(buf *bytes.Buffer, obj gjson.Result, fields []string) {
	buf.WriteByte('{')
	n := 0
	for _, f := range fields {
		v := obj.Get(f)
		if !v.Exists() {
			continue
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		// Marshalling a string cannot fail.
		key, _ := json.Marshal(f)
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(v.Raw)
		n++
	}
	buf.WriteByte('}')
}
