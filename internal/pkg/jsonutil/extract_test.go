package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"fenced with tag", "text\n```json\n{\"decisions\":[]}\n```\nmore", `{"decisions":[]}`, true},
		{"embedded", `Here you go: {"action":"BUY","note":"use [x] }"} thanks`, `{"action":"BUY","note":"use [x] }"}`, true},
		{"array first", `[{"a":1}] and {"b":2}`, `[{"a":1}]`, true},
		{"object wrapping array", `{"decisions":[{"a":1}],"x":2}`, `{"decisions":[{"a":1}],"x":2}`, true},
		{"unbalanced", `{"a":[1}`, "", false},
		{"none", "no json here", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "{\n  \"b\": 1,\n  \"a\": [\n    2\n  ]\n}", Pretty("```json\n{\"b\":1,\"a\":[2]}\n```"))
	assert.Equal(t, "no json here", Pretty("  no json here "))
	assert.Equal(t, "", Pretty(""))
}
