// Package cli wires loading, generation and reconciliation into one run.
package cli

import (
	"context"
	"fmt"

	"github.com/agentic-research/cfsync/api"
	"github.com/agentic-research/cfsync/internal/codefresh"
	"github.com/agentic-research/cfsync/internal/generator"
	"github.com/agentic-research/cfsync/internal/spec"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Loader interface {
	LoadManifests(root string) ([]api.Manifest, error)
	LoadTemplates(root string) ([]api.Template, error)
}

type Generator interface {
	GenerateAll(manifests []api.Manifest, templates []api.Template) ([]generator.Generated, error)
}

type Reconciler interface {
	CreateProjects(ctx context.Context, specs []spec.Spec) codefresh.Result
	CreatePipelines(ctx context.Context, specs []spec.Spec) codefresh.Result
	UpdatePipelines(ctx context.Context, specs []spec.Spec) codefresh.Result
}

type Parameters struct {
	ManifestsPath  string
	TemplatesPath  string
	ManageProjects bool
}

// Report is the outcome of one run.
type Report struct {
	Specs       []generator.Generated
	GenerateErr error
	Projects    codefresh.Result
	Created     codefresh.Result
	Updated     codefresh.Result
}

// Err aggregates generation failures and every failed item.
func (r Report) Err() error {
	return multierr.Combine(r.GenerateErr, r.Projects.Err(), r.Created.Err(), r.Updated.Err())
}

type Cli struct {
	loader     Loader
	generator  Generator
	reconciler Reconciler
	logger     *zap.Logger
}

func New(loader Loader, gen Generator, rec Reconciler, logger *zap.Logger) *Cli {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cli{loader: loader, generator: gen, reconciler: rec, logger: logger}
}

// Generate loads the inputs and generates every spec. A loading failure
// aborts. Manifests that fail generation are left out of the report's
// specs and recorded in its GenerateErr.
func (c *Cli) Generate(p Parameters) (Report, error) {
	manifests, err := c.loader.LoadManifests(p.ManifestsPath)
	if err != nil {
		return Report{}, fmt.Errorf("load manifests: %w", err)
	}
	templates, err := c.loader.LoadTemplates(p.TemplatesPath)
	if err != nil {
		return Report{}, fmt.Errorf("load templates: %w", err)
	}
	c.logger.Info("inputs loaded",
		zap.Int("manifests", len(manifests)),
		zap.Int("templates", len(templates)))

	gen, genErr := c.generator.GenerateAll(manifests, templates)
	c.warnCollisions(gen)
	return Report{Specs: gen, GenerateErr: genErr}, nil
}

// Exec runs load, generate, projects, create and update in that order.
// Item failures are part of the report; only loading failures abort.
func (c *Cli) Exec(ctx context.Context, p Parameters) (Report, error) {
	report, err := c.Generate(p)
	if err != nil {
		return Report{}, err
	}

	specs := make([]spec.Spec, len(report.Specs))
	for i, g := range report.Specs {
		specs[i] = g.Spec
	}

	if p.ManageProjects {
		report.Projects = c.reconciler.CreateProjects(ctx, specs)
	}
	report.Created = c.reconciler.CreatePipelines(ctx, specs)
	report.Updated = c.reconciler.UpdatePipelines(ctx, pendingUpdate(specs, report.Created))

	c.logger.Info("sync finished",
		zap.Int("specs", len(specs)),
		zap.Int("projects_created", report.Projects.Count(codefresh.ActionCreated)),
		zap.Int("created", report.Created.Count(codefresh.ActionCreated)),
		zap.Int("updated", report.Updated.Count(codefresh.ActionUpdated)),
		zap.Int("unchanged", report.Updated.Count(codefresh.ActionUnchanged)),
		zap.Int("failed", len(report.Created.Failed())+len(report.Updated.Failed())+len(report.Projects.Failed())))
	return report, nil
}

// pendingUpdate keeps the specs whose create step found them already
// present. Specs created in this run already carry their fingerprint, and
// failed or dry-run creations do not exist remotely, so checking them again
// would report the same item twice. Outcomes are matched by position, which
// lets a colliding spec with a repeated name still reach the update step.
func pendingUpdate(specs []spec.Spec, created codefresh.Result) []spec.Spec {
	out := make([]spec.Spec, 0, len(specs))
	for i, s := range specs {
		if i < len(created.Outcomes) && created.Outcomes[i].Action != codefresh.ActionExists {
			continue
		}
		out = append(out, s)
	}
	return out
}

// warnCollisions logs every spec whose final name was already produced
// earlier in the batch. The later spec overwrites the earlier one remotely.
func (c *Cli) warnCollisions(gen []generator.Generated) {
	first := make(map[string]generator.Generated, len(gen))
	for _, g := range gen {
		name := g.Spec.Name()
		prev, dup := first[name]
		if !dup {
			first[name] = g
			continue
		}
		c.logger.Warn("duplicate pipeline name",
			zap.String("pipeline", name),
			zap.String("manifest", g.Manifest),
			zap.String("template", g.Template),
			zap.String("first_manifest", prev.Manifest),
			zap.String("first_template", prev.Template))
	}
}
