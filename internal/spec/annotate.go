package spec

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/agentic-research/cfsync/api"
)

var nonWord = regexp.MustCompile(`\W+`)

// SanitizeAlias collapses every run of non-word characters to a single "-".
func SanitizeAlias(alias string) string {
	return nonWord.ReplaceAllString(alias, "-")
}

// Annotate stores fp as a JSON string in metadata.description.
func Annotate(s Spec, fp api.Fingerprint) error {
	m := metadata(s)
	if m == nil {
		return ErrMissingMetadata
	}
	b, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}
	m["description"] = string(b)
	return nil
}

// Rename appends the sanitized alias to metadata.name.
func Rename(s Spec, alias string) error {
	m := metadata(s)
	if m == nil {
		return ErrMissingMetadata
	}
	name, _ := m["name"].(string)
	if name == "" {
		return ErrMissingName
	}
	m["name"] = name + "-" + SanitizeAlias(alias)
	return nil
}

// FingerprintOf reads the fingerprint from a generated spec or a remote
// pipeline. metadata.description is authoritative; metadata.labels is read
// for pipelines written before checksums moved into the description.
// Missing fields are left empty.
func FingerprintOf(doc map[string]any) api.Fingerprint {
	var fp api.Fingerprint
	if d := lookupString(doc, descriptionPath); d != "" {
		// The description may be free text set by hand on the platform.
		_ = json.Unmarshal([]byte(d), &fp)
	}
	if labels, ok := labelsPath.First(doc).(map[string]any); ok {
		if fp.ChecksumManifest == "" {
			fp.ChecksumManifest, _ = labels["checksumManifest"].(string)
		}
		if fp.ChecksumTemplate == "" {
			fp.ChecksumTemplate, _ = labels["checksumTemplate"].(string)
		}
	}
	return fp
}
