// Package config reads run settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/cfsync/internal/platform"
	"go.uber.org/multierr"
)

// Environment variables.
const (
	EnvManifestsPath  = "CA_MANIFESTS_PATH"
	EnvTemplatesPath  = "CA_TEMPLATES_PATH"
	EnvAPIURL         = "CF_URL"
	EnvAPIKey         = "CF_API_KEY"
	EnvTimeout        = "CA_TIMEOUT"
	EnvRate           = "CA_RATE"
	EnvConcurrency    = "CA_CONCURRENCY"
	EnvManageProjects = "CA_MANAGE_PROJECTS"
	EnvErrorRules     = "CA_ERROR_RULES"
	EnvJournal        = "CA_JOURNAL"
)

const (
	DefaultAPIURL      = platform.DefaultURL
	DefaultTimeout     = 30 * time.Second
	DefaultRate        = 10
	DefaultConcurrency = 1
)

// Config holds everything a run needs.
type Config struct {
	ManifestsPath  string
	TemplatesPath  string
	APIURL         string
	APIKey         string
	Timeout        time.Duration
	Rate           float64
	Concurrency    int
	ManageProjects bool
	ErrorRules     string
	Journal        string
}

// Load builds a Config from the environment, applying defaults for unset
// variables. Malformed values are reported together.
func Load() (Config, error) {
	cfg := Config{
		ManifestsPath: String(EnvManifestsPath, ""),
		TemplatesPath: String(EnvTemplatesPath, ""),
		APIURL:        String(EnvAPIURL, DefaultAPIURL),
		APIKey:        String(EnvAPIKey, ""),
		ErrorRules:    String(EnvErrorRules, ""),
		Journal:       String(EnvJournal, ""),
	}

	var errs, err error
	if cfg.Timeout, err = Duration(EnvTimeout, DefaultTimeout); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.Rate, err = Float(EnvRate, DefaultRate); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.Concurrency, err = Int(EnvConcurrency, DefaultConcurrency); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.ManageProjects, err = Bool(EnvManageProjects, true); err != nil {
		errs = multierr.Append(errs, err)
	}
	return cfg, errs
}

// ErrMissing is wrapped by every error Validate reports for an unset value.
var ErrMissing = errors.New("missing required setting")

// Validate checks required settings. The API key is only required when
// the run talks to the platform.
func (c Config) Validate(remote bool) error {
	var errs error
	if c.ManifestsPath == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: manifests path (--manifests or %s)", ErrMissing, EnvManifestsPath))
	}
	if c.TemplatesPath == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: templates path (--templates or %s)", ErrMissing, EnvTemplatesPath))
	}
	if !remote {
		return errs
	}
	if c.APIURL == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: api url (--api-url or %s)", ErrMissing, EnvAPIURL))
	}
	if c.APIKey == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: api key (--api-key or %s)", ErrMissing, EnvAPIKey))
	}
	if c.Timeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.Concurrency < 1 {
		errs = multierr.Append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	return errs
}
