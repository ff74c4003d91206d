package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentic-research/cfsync/api"
	"github.com/bmatcuk/doublestar/v4"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"
)

// ErrInvalidManifest marks a manifest that parsed but does not have the
// expected structure. Such manifests are skipped, not fatal.
var ErrInvalidManifest = errors.New("invalid manifest")

var manifestPatterns = []string{"**/manifest.json", "**/manifest.hcl"}

type templatePattern struct {
	glob   string
	suffix string
	typ    api.TemplateType
}

// JSON templates are listed first: when a JSON and a YAML template share a
// name, lookups resolve to the JSON one.
var templatePatterns = []templatePattern{
	{glob: "**/*.json.njk", suffix: ".json.njk", typ: api.TemplateJSON},
	{glob: "**/*.yaml.njk", suffix: ".yaml.njk", typ: api.TemplateYAML},
	{glob: "**/*.yml.njk", suffix: ".yml.njk", typ: api.TemplateYAML},
}

// Loader reads manifests and templates from a filesystem.
type Loader struct {
	fs     billy.Filesystem
	logger *zap.Logger
}

// NewLoader creates a loader over fs. Roots passed to the Load methods are
// interpreted relative to fs.
func NewLoader(fs billy.Filesystem, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fs: fs, logger: logger}
}

// LoadManifests finds every manifest.json / manifest.hcl below root.
// Files that fail to parse abort the load; files that parse but are
// structurally invalid are logged and skipped.
func (l *Loader) LoadManifests(root string) ([]api.Manifest, error) {
	files, err := l.find(root, manifestPatterns...)
	if err != nil {
		return nil, err
	}

	result := make([]api.Manifest, 0, len(files))
	for _, f := range files {
		raw, err := util.ReadFile(l.fs, f.path)
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", f.rel, err)
		}

		content, err := decodeManifest(f.rel, raw)
		if errors.Is(err, ErrInvalidManifest) {
			l.logger.Warn("skipping invalid manifest", zap.String("path", f.rel), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}

		result = append(result, api.Manifest{
			Path: f.rel,
			File: api.ManifestFile{
				Checksum: Checksum(raw),
				Content:  content,
			},
		})
	}
	l.logger.Debug("manifests loaded", zap.String("root", root), zap.Int("count", len(result)))
	return result, nil
}

// LoadTemplates finds every *.json.njk, *.yaml.njk and *.yml.njk template
// below root.
func (l *Loader) LoadTemplates(root string) ([]api.Template, error) {
	var result []api.Template
	for _, p := range templatePatterns {
		files, err := l.find(root, p.glob)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			raw, err := util.ReadFile(l.fs, f.path)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", f.rel, err)
			}
			result = append(result, api.Template{
				Name: strings.TrimSuffix(f.rel, p.suffix),
				File: api.TemplateFile{
					Type:     p.typ,
					Content:  string(raw),
					Checksum: Checksum(raw),
				},
			})
		}
	}
	l.logger.Debug("templates loaded", zap.String("root", root), zap.Int("count", len(result)))
	return result, nil
}

type fileMatch struct {
	path string // path within the filesystem
	rel  string // slash-separated path relative to the search root
}

// find walks root and returns the files matching any of the patterns,
// sorted by relative path.
func (l *Loader) find(root string, patterns ...string) ([]fileMatch, error) {
	var out []fileMatch
	err := util.Walk(l.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range patterns {
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return fmt.Errorf("pattern %q: %w", pattern, err)
			}
			if ok {
				out = append(out, fileMatch{path: p, rel: rel})
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

func decodeManifest(rel string, raw []byte) (api.ManifestContent, error) {
	if path.Ext(rel) == ".hcl" {
		return decodeHCLManifest(rel, raw)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return api.ManifestContent{}, fmt.Errorf("parse manifest %s: %w", rel, err)
	}
	return manifestContent(doc)
}

// manifestContent validates a decoded JSON document and converts it into
// a ManifestContent.
func manifestContent(doc any) (api.ManifestContent, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return api.ManifestContent{}, fmt.Errorf("%w: document is not an object", ErrInvalidManifest)
	}
	data, ok := obj["data"].(map[string]any)
	if !ok {
		return api.ManifestContent{}, fmt.Errorf("%w: data must be an object", ErrInvalidManifest)
	}
	refs, ok := obj["templates"].([]any)
	if !ok {
		return api.ManifestContent{}, fmt.Errorf("%w: templates must be an array", ErrInvalidManifest)
	}

	content := api.ManifestContent{
		Data:      data,
		Templates: make([]api.TemplateRef, 0, len(refs)),
	}
	for i, r := range refs {
		ref, ok := r.(map[string]any)
		if !ok {
			return api.ManifestContent{}, fmt.Errorf("%w: templates[%d] must be an object", ErrInvalidManifest, i)
		}
		name, _ := ref["name"].(string)
		if name == "" {
			return api.ManifestContent{}, fmt.Errorf("%w: templates[%d].name must be a non-empty string", ErrInvalidManifest, i)
		}
		var alias string
		if v, present := ref["alias"]; present {
			if alias, ok = v.(string); !ok {
				return api.ManifestContent{}, fmt.Errorf("%w: templates[%d].alias must be a string", ErrInvalidManifest, i)
			}
		}
		content.Templates = append(content.Templates, api.TemplateRef{Name: name, Alias: alias})
	}
	return content, nil
}
