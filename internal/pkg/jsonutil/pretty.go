package jsonutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Pretty indents the JSON carried by raw, keeping key order. Prose around a
// fenced or embedded object is dropped; raw without any JSON comes back trimmed.
func Pretty(raw string) string {
	raw = strings.TrimSpace(raw)
	block, ok := ExtractJSON(raw)
	if !ok {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(block), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}
