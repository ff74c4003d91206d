package ingest

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/agentic-research/cfsync/api"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// hclManifest is the HCL form of a manifest:
//
//	data = {
//	  name    = "hello"
//	  project = "services"
//	}
//
//	template "ci/build" {
//	  alias = "build"
//	}
type hclManifest struct {
	Data      cty.Value        `hcl:"data,optional"`
	Templates []hclTemplateRef `hcl:"template,block"`
}

type hclTemplateRef struct {
	Name  string `hcl:"name,label"`
	Alias string `hcl:"alias,optional"`
}

func decodeHCLManifest(rel string, raw []byte) (api.ManifestContent, error) {
	var m hclManifest
	if err := hclsimple.Decode(path.Base(rel), raw, nil, &m); err != nil {
		return api.ManifestContent{}, fmt.Errorf("parse manifest %s: %w", rel, err)
	}

	if m.Data.IsNull() {
		return api.ManifestContent{}, fmt.Errorf("%w: data must be an object", ErrInvalidManifest)
	}
	ty := m.Data.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return api.ManifestContent{}, fmt.Errorf("%w: data must be an object", ErrInvalidManifest)
	}

	// Round-trip through JSON so HCL and JSON manifests hand the template
	// engine identical Go values.
	b, err := ctyjson.Marshal(m.Data, ty)
	if err != nil {
		return api.ManifestContent{}, fmt.Errorf("%w: data: %v", ErrInvalidManifest, err)
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return api.ManifestContent{}, fmt.Errorf("%w: data: %v", ErrInvalidManifest, err)
	}

	content := api.ManifestContent{
		Data:      data,
		Templates: make([]api.TemplateRef, 0, len(m.Templates)),
	}
	for _, t := range m.Templates {
		content.Templates = append(content.Templates, api.TemplateRef{Name: t.Name, Alias: t.Alias})
	}
	return content, nil
}
