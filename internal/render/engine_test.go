package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextEngine_Render(t *testing.T) {
	e := NewTextEngine()
	data := map[string]any{
		"name":    "hello",
		"project": "svc",
		"tags":    []any{"a", "b"},
		"vars":    map[string]any{"ENV": "prod"},
		"empty":   "",
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain field", `{{.name}}`, "hello"},
		{"json helper", `{{json .vars}}`, `{"ENV":"prod"}`},
		{"yaml helper", `{{yaml .tags}}`, "- a\n- b"},
		{"first", `{{first .tags}}`, "a"},
		{"default on empty", `{{default "fallback" .empty}}`, "fallback"},
		{"default on missing", `{{default "fallback" (index . "absent")}}`, "fallback"},
		{"default keeps value", `{{default "fallback" .name}}`, "hello"},
		{"quote", `{{quote .name}}`, `"hello"`},
		{"upper lower", `{{upper .name}}-{{lower "X"}}`, "HELLO-x"},
		{"join", `{{join "," .tags}}`, "a,b"},
		{"no actions", `metadata: {}`, `metadata: {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.tmpl, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextEngine_MissingKeyFails(t *testing.T) {
	_, err := NewTextEngine().Render(`{{.absent}}`, map[string]any{"name": "x"})
	require.Error(t, err)

	// default only sees values that exist; a bare missing field fails first.
	_, err = NewTextEngine().Render(`{{default "x" .absent}}`, map[string]any{"name": "x"})
	require.Error(t, err)
	_, err = NewTextEngine().Render(`{{.absent | default "x"}}`, map[string]any{"name": "x"})
	require.Error(t, err)
}

func TestTextEngine_ParseError(t *testing.T) {
	_, err := NewTextEngine().Render(`{{.name`, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse template")
}

func TestTextEngine_Deterministic(t *testing.T) {
	e := NewTextEngine()
	data := map[string]any{"vars": map[string]any{"b": 2, "a": 1, "c": 3}}
	first, err := e.Render(`{{json .vars}}`, data)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := e.Render(`{{json .vars}}`, data)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
