package spec

import (
	"encoding/json"
	"fmt"

	"github.com/agentic-research/cfsync/api"
	"gopkg.in/yaml.v3"
)

// Encode serializes s in the given format.
func Encode(s Spec, typ api.TemplateType) ([]byte, error) {
	switch typ {
	case api.TemplateJSON:
		b, err := json.MarshalIndent(map[string]any(s), "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case api.TemplateYAML:
		return yaml.Marshal(map[string]any(s))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTemplateType, typ)
	}
}

// Clone returns a deep copy of s. Values are copied through JSON, which is
// the only shape a spec ever takes on the wire.
func (s Spec) Clone() (Spec, error) {
	b, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return Spec(out), nil
}
