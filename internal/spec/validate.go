package spec

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedSpec   = errors.New("malformed spec")
	ErrMissingMetadata = fmt.Errorf("%w: metadata must be an object", ErrMalformedSpec)
	ErrMissingName     = fmt.Errorf("%w: metadata.name must be a non-empty string", ErrMalformedSpec)
	ErrMissingProject  = fmt.Errorf("%w: metadata.project must be a non-empty string", ErrMalformedSpec)
)

// Validation is the outcome of checking a decoded document.
// Exactly one of Spec and Reason is set.
type Validation struct {
	Spec   Spec
	Reason error
}

// Valid reports whether the document passed validation.
func (v Validation) Valid() bool {
	return v.Reason == nil
}

// Validate checks that doc carries the fields every pipeline needs.
// Checks run in a fixed order and the first failure is reported.
func Validate(doc any) Validation {
	obj, ok := doc.(map[string]any)
	if !ok {
		return Validation{Reason: ErrMissingMetadata}
	}
	if _, ok := metadataPath.First(obj).(map[string]any); !ok {
		return Validation{Reason: ErrMissingMetadata}
	}
	if lookupString(obj, namePath) == "" {
		return Validation{Reason: ErrMissingName}
	}
	if lookupString(obj, projectPath) == "" {
		return Validation{Reason: ErrMissingProject}
	}
	return Validation{Spec: Spec(obj)}
}
