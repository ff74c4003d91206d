// Package generator renders manifests through their templates into
// checksummed pipeline specs.
package generator

import (
	"errors"
	"fmt"
	"path"

	"github.com/agentic-research/cfsync/api"
	"github.com/agentic-research/cfsync/internal/render"
	"github.com/agentic-research/cfsync/internal/spec"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrTemplateNotFound = errors.New("template not found")

// Generator builds specs from manifests. It holds no state between calls.
type Generator struct {
	engine render.Engine
	logger *zap.Logger
}

func New(engine render.Engine, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{engine: engine, logger: logger}
}

// Generated is a spec together with where it came from.
type Generated struct {
	Spec     spec.Spec
	Manifest string // manifest path
	Template string // template name
}

// GenerateSpecs produces one spec per template reference of m, in
// reference order. A reference to a template missing from templates fails
// the whole manifest.
func (g *Generator) GenerateSpecs(m api.Manifest, templates []api.Template) ([]spec.Spec, error) {
	index := indexTemplates(templates)
	specs := make([]spec.Spec, 0, len(m.File.Content.Templates))
	for _, ref := range m.File.Content.Templates {
		t, ok := index[ref.Name]
		if !ok {
			g.logger.Debug("template not found",
				zap.String("manifest", m.Path),
				zap.String("template", ref.Name))
			return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, ref.Name)
		}
		s, err := g.GenerateSpec(m, t, aliasFor(ref))
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// GenerateSpec renders t against the data of m, validates the result and
// stamps the fingerprint and the alias-derived name on it.
func (g *Generator) GenerateSpec(m api.Manifest, t api.Template, alias string) (spec.Spec, error) {
	if t.File.Type != api.TemplateJSON && t.File.Type != api.TemplateYAML {
		return nil, fmt.Errorf("template %q: %w: %q", t.Name, spec.ErrUnsupportedTemplateType, t.File.Type)
	}

	rendered, err := g.engine.Render(t.File.Content, m.File.Content.Data)
	if err != nil {
		return nil, fmt.Errorf("render template %q: %w", t.Name, err)
	}

	doc, err := spec.Decode(rendered, t.File.Type)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", t.Name, err)
	}

	v := spec.Validate(doc)
	if !v.Valid() {
		return nil, fmt.Errorf("template %q: %w", t.Name, v.Reason)
	}
	s := v.Spec

	fp := api.Fingerprint{
		ChecksumManifest: m.File.Checksum,
		ChecksumTemplate: t.File.Checksum,
	}
	if err := spec.Annotate(s, fp); err != nil {
		return nil, err
	}
	if err := spec.Rename(s, alias); err != nil {
		return nil, err
	}

	g.logger.Debug("spec generated",
		zap.String("manifest", m.Path),
		zap.String("template", t.Name),
		zap.String("pipeline", s.Name()))
	return s, nil
}

// GenerateAll generates the specs of every manifest. A manifest that fails
// is logged and left out; its error is part of the returned aggregate, and
// the specs of the other manifests are still returned.
func (g *Generator) GenerateAll(manifests []api.Manifest, templates []api.Template) ([]Generated, error) {
	var (
		out  []Generated
		errs error
	)
	for _, m := range manifests {
		specs, err := g.GenerateSpecs(m, templates)
		if err != nil {
			g.logger.Error("manifest skipped", zap.String("manifest", m.Path), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("manifest %s: %w", m.Path, err))
			continue
		}
		for i, s := range specs {
			out = append(out, Generated{
				Spec:     s,
				Manifest: m.Path,
				Template: m.File.Content.Templates[i].Name,
			})
		}
	}
	return out, errs
}

// indexTemplates maps names to templates. The first template with a given
// name wins.
func indexTemplates(templates []api.Template) map[string]api.Template {
	index := make(map[string]api.Template, len(templates))
	for _, t := range templates {
		if _, dup := index[t.Name]; !dup {
			index[t.Name] = t
		}
	}
	return index
}

// aliasFor defaults the alias to the last segment of the template name.
func aliasFor(ref api.TemplateRef) string {
	if ref.Alias != "" {
		return ref.Alias
	}
	return path.Base(ref.Name)
}
