// Package spec holds the pipeline specification document and the
// operations the generator and reconciler apply to it.
package spec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentic-research/cfsync/api"
	"github.com/ohler55/ojg/jp"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedTemplateType = errors.New("unsupported template type")
	ErrUnparsableSpec          = errors.New("unparsable spec")
)

// Spec is a rendered pipeline definition. It stays semi-structured:
// templates may emit any field the platform accepts.
type Spec map[string]any

var (
	metadataPath    = jp.MustParseString("metadata")
	namePath        = jp.MustParseString("metadata.name")
	projectPath     = jp.MustParseString("metadata.project")
	descriptionPath = jp.MustParseString("metadata.description")
	labelsPath      = jp.MustParseString("metadata.labels")
)

// Decode parses rendered template output according to the template type.
// An empty YAML document decodes to an empty document.
func Decode(text string, typ api.TemplateType) (any, error) {
	switch typ {
	case api.TemplateJSON:
		var doc any
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrUnparsableSpec, err)
		}
		return doc, nil
	case api.TemplateYAML:
		var doc any
		if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrUnparsableSpec, err)
		}
		if doc == nil {
			return map[string]any{}, nil
		}
		return normalize(doc), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTemplateType, typ)
	}
}

// normalize converts map[any]any produced by YAML for non-string keys into
// map[string]any, so every document has the same shape as decoded JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

// Name returns metadata.name, or "" when absent.
func (s Spec) Name() string {
	return lookupString(map[string]any(s), namePath)
}

// Project returns metadata.project, or "" when absent.
func (s Spec) Project() string {
	return lookupString(map[string]any(s), projectPath)
}

func lookupString(doc any, x jp.Expr) string {
	v, _ := x.First(doc).(string)
	return v
}

func metadata(s Spec) map[string]any {
	m, _ := metadataPath.First(map[string]any(s)).(map[string]any)
	return m
}
