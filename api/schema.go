package api

// TemplateType is the document format a template renders into.
type TemplateType string

const (
	TemplateJSON TemplateType = "JSON"
	TemplateYAML TemplateType = "YAML"
)

// Manifest describes one desired pipeline family.
// Every template reference in the manifest yields one pipeline spec.
type Manifest struct {
	// Path of the manifest file relative to the manifests root.
	Path string `json:"path,omitempty"`
	// File holds the parsed content and the checksum of the raw bytes.
	File ManifestFile `json:"file"`
}

// ManifestFile is the loaded form of a manifest file.
type ManifestFile struct {
	Checksum string          `json:"checksum"`
	Content  ManifestContent `json:"content"`
}

// ManifestContent is the user-authored part of a manifest.
type ManifestContent struct {
	// Data is the rendering context handed to every referenced template.
	Data map[string]any `json:"data"`
	// Templates lists the template variants to render, in order.
	Templates []TemplateRef `json:"templates"`
}

// TemplateRef points at a template by name.
type TemplateRef struct {
	Name string `json:"name"`
	// Alias distinguishes specs rendered from the same manifest.
	// It becomes the suffix of the generated pipeline name.
	Alias string `json:"alias,omitempty"`
}

// Template is a named, typed and checksummed template body.
type Template struct {
	// Name is the file path relative to the templates root, without
	// the .json.njk / .yaml.njk suffix.
	Name string       `json:"name"`
	File TemplateFile `json:"file"`
}

// TemplateFile is the loaded form of a template file.
type TemplateFile struct {
	Type     TemplateType `json:"type"`
	Content  string       `json:"content"`
	Checksum string       `json:"checksum"`
}

// Fingerprint is the change-detection payload stamped on every spec.
type Fingerprint struct {
	ChecksumManifest string `json:"checksumManifest"`
	ChecksumTemplate string `json:"checksumTemplate"`
}
