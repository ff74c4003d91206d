// Package render turns template bodies into pipeline documents.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Engine renders a template against a data payload.
// Implementations must be pure: same inputs, same output.
type Engine interface {
	Render(tmpl string, data map[string]any) (string, error)
}

// TextEngine implements Engine with text/template.
// Missing keys are an error rather than "<no value>" so that a manifest
// lacking a field fails generation instead of producing a broken spec.
//
// The error is raised when the field is evaluated, before any helper sees
// it: `{{default "x" .absent}}` fails. Optional fields are read with index,
// which yields nil for a missing key: `{{default "x" (index . "absent")}}`.
type TextEngine struct {
	funcs template.FuncMap
}

func NewTextEngine() *TextEngine {
	return &TextEngine{funcs: tmplFuncs}
}

// Render implements Engine.
func (e *TextEngine) Render(tmpl string, data map[string]any) (string, error) {
	t, err := template.New("").Option("missingkey=error").Funcs(e.funcs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

var tmplFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	"yaml": func(v any) (string, error) {
		b, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(string(b), "\n"), nil
	},
	"first": func(v any) any {
		switch s := v.(type) {
		case []any:
			if len(s) > 0 {
				return s[0]
			}
		case []string:
			if len(s) > 0 {
				return s[0]
			}
		}
		return nil
	},
	// default replaces nil and empty values. Pair it with index for keys
	// that may be absent.
	"default": func(def, v any) any {
		if isEmpty(v) {
			return def
		}
		return v
	},
	"quote": func(v any) string {
		b, _ := json.Marshal(fmt.Sprint(v))
		return string(b)
	},
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"join": func(sep string, v any) string {
		switch s := v.(type) {
		case []string:
			return strings.Join(s, sep)
		case []any:
			parts := make([]string, len(s))
			for i, p := range s {
				parts[i] = fmt.Sprint(p)
			}
			return strings.Join(parts, sep)
		}
		return fmt.Sprint(v)
	},
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case bool:
		return !t
	}
	return false
}
