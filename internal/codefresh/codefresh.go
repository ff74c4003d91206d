// Package codefresh reconciles generated pipeline specs against the
// platform. Remote objects are created when absent and updated when their
// checksum fingerprint differs; they are never deleted.
package codefresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentic-research/cfsync/api"
	"github.com/agentic-research/cfsync/internal/spec"
	"github.com/moby/locker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPipelineNotFound        = errors.New("pipeline not found")
	ErrProjectNotFound         = errors.New("project not found")
	ErrMalformedRemotePipeline = errors.New("malformed remote pipeline")
	ErrMalformedRemoteProject  = errors.New("malformed remote project")
)

// Client is the subset of the platform API the reconciler needs.
type Client interface {
	GetPipeline(ctx context.Context, name string) (map[string]any, error)
	CreatePipeline(ctx context.Context, s spec.Spec) error
	UpdatePipeline(ctx context.Context, name string, s spec.Spec) error
	GetProject(ctx context.Context, name string) (map[string]any, error)
	CreateProject(ctx context.Context, name string) error
}

// Recorder receives every outcome decided by a batch.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// Codefresh reconciles specs against a Client.
type Codefresh struct {
	client           Client
	logger           *zap.Logger
	pipelineNotFound *Classifier
	projectNotFound  *Classifier
	recorder         Recorder
	dryRun           bool
	concurrency      int
	locks            *locker.Locker
}

type Option func(*Codefresh)

// WithClassifiers replaces the not-found classifiers. A nil classifier
// keeps the default for its family.
func WithClassifiers(pipeline, project *Classifier) Option {
	return func(c *Codefresh) {
		if pipeline != nil {
			c.pipelineNotFound = pipeline
		}
		if project != nil {
			c.projectNotFound = project
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Codefresh) { c.recorder = r }
}

// WithDryRun performs every read and decision but no write.
func WithDryRun(dryRun bool) Option {
	return func(c *Codefresh) { c.dryRun = dryRun }
}

// WithConcurrency bounds how many items a batch reconciles at once.
// Values below 1 mean sequential.
func WithConcurrency(n int) Option {
	return func(c *Codefresh) {
		if n < 1 {
			n = 1
		}
		c.concurrency = n
	}
}

func New(client Client, logger *zap.Logger, opts ...Option) *Codefresh {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRules()
	c := &Codefresh{
		client:           client,
		logger:           logger,
		pipelineNotFound: mustClassifier(def.Pipeline),
		projectNotFound:  mustClassifier(def.Project),
		concurrency:      1,
		locks:            locker.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePipeline creates the pipeline when the platform has no pipeline of
// that name. An existing pipeline is left alone whatever its fingerprint.
func (c *Codefresh) CreatePipeline(ctx context.Context, s spec.Spec) (Action, error) {
	name := s.Name()
	_, err := c.getPipeline(ctx, name)
	switch {
	case errors.Is(err, ErrPipelineNotFound):
		if !c.dryRun {
			if err := c.client.CreatePipeline(ctx, s); err != nil {
				return ActionFailed, fmt.Errorf("create pipeline %s: %w", name, err)
			}
		}
		c.logger.Info("pipeline created", zap.String("pipeline", name), zap.Bool("dry_run", c.dryRun))
		return ActionCreated, nil
	case err != nil:
		return ActionFailed, err
	}
	c.logger.Debug("pipeline exists", zap.String("pipeline", name))
	return ActionExists, nil
}

// UpdatePipeline replaces the remote pipeline when its fingerprint differs
// from the one on s. It never creates: a missing pipeline is reported as
// ErrPipelineNotFound.
func (c *Codefresh) UpdatePipeline(ctx context.Context, s spec.Spec) (Action, error) {
	name := s.Name()
	remote, err := c.getPipeline(ctx, name)
	if err != nil {
		return ActionFailed, err
	}

	reason := changeReason(spec.FingerprintOf(s), spec.FingerprintOf(remote))
	if reason == "" {
		c.logger.Info("pipeline unchanged", zap.String("pipeline", name))
		return ActionUnchanged, nil
	}
	if !c.dryRun {
		if err := c.client.UpdatePipeline(ctx, name, s); err != nil {
			return ActionFailed, fmt.Errorf("update pipeline %s: %w", name, err)
		}
	}
	c.logger.Info("pipeline updated",
		zap.String("pipeline", name),
		zap.String("changed", reason),
		zap.Bool("dry_run", c.dryRun))
	return ActionUpdated, nil
}

// CreateProject creates the project of s when it does not exist yet.
// Projects have no update path.
func (c *Codefresh) CreateProject(ctx context.Context, s spec.Spec) (Action, error) {
	name := s.Project()
	err := c.getProject(ctx, name)
	switch {
	case errors.Is(err, ErrProjectNotFound):
		if !c.dryRun {
			if err := c.client.CreateProject(ctx, name); err != nil {
				return ActionFailed, fmt.Errorf("create project %s: %w", name, err)
			}
		}
		c.logger.Info("project created", zap.String("project", name), zap.Bool("dry_run", c.dryRun))
		return ActionCreated, nil
	case err != nil:
		return ActionFailed, err
	}
	c.logger.Debug("project exists", zap.String("project", name))
	return ActionExists, nil
}

func (c *Codefresh) getPipeline(ctx context.Context, name string) (map[string]any, error) {
	remote, err := c.client.GetPipeline(ctx, name)
	if err != nil {
		if c.pipelineNotFound.Match(err) {
			c.logger.Debug("pipeline not found", zap.String("pipeline", name))
			return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
		}
		return nil, fmt.Errorf("get pipeline %s: %w", name, err)
	}
	if spec.Spec(remote).Name() == "" {
		return nil, fmt.Errorf("%w: %s: metadata.name missing", ErrMalformedRemotePipeline, name)
	}
	return remote, nil
}

func (c *Codefresh) getProject(ctx context.Context, name string) error {
	remote, err := c.client.GetProject(ctx, name)
	if err != nil {
		if c.projectNotFound.Match(err) {
			c.logger.Debug("project not found", zap.String("project", name))
			return fmt.Errorf("%w: %s", ErrProjectNotFound, name)
		}
		return fmt.Errorf("get project %s: %w", name, err)
	}
	if _, ok := remote["projectName"].(string); !ok {
		return fmt.Errorf("%w: %s: projectName missing", ErrMalformedRemoteProject, name)
	}
	return nil
}

// changeReason names the first checksum that differs, manifest first.
// An empty checksum on either side counts as a difference.
func changeReason(local, remote api.Fingerprint) string {
	switch {
	case changed(local.ChecksumManifest, remote.ChecksumManifest):
		return "manifest"
	case changed(local.ChecksumTemplate, remote.ChecksumTemplate):
		return "template"
	default:
		return ""
	}
}

func changed(local, remote string) bool {
	return local == "" || remote == "" || local != remote
}

// CreatePipelines runs CreatePipeline over specs. Failures are logged and
// recorded; they never stop the other items.
func (c *Codefresh) CreatePipelines(ctx context.Context, specs []spec.Spec) Result {
	return c.batch(ctx, KindPipeline, specs, spec.Spec.Name, c.CreatePipeline)
}

// UpdatePipelines runs UpdatePipeline over specs with the same failure
// handling as CreatePipelines.
func (c *Codefresh) UpdatePipelines(ctx context.Context, specs []spec.Spec) Result {
	return c.batch(ctx, KindPipeline, specs, spec.Spec.Name, c.UpdatePipeline)
}

// CreateProjects ensures the project of every spec exists. Each project is
// handled once, in order of first appearance.
func (c *Codefresh) CreateProjects(ctx context.Context, specs []spec.Spec) Result {
	seen := make(map[string]bool)
	var unique []spec.Spec
	for _, s := range specs {
		if p := s.Project(); !seen[p] {
			seen[p] = true
			unique = append(unique, s)
		}
	}
	return c.batch(ctx, KindProject, unique, spec.Spec.Project, c.CreateProject)
}

type operation func(context.Context, spec.Spec) (Action, error)

func (c *Codefresh) batch(ctx context.Context, kind string, specs []spec.Spec, key func(spec.Spec) string, op operation) Result {
	outcomes := make([]Outcome, len(specs))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, s := range specs {
		g.Go(func() error {
			outcomes[i] = c.apply(ctx, kind, key(s), s, op)
			return nil
		})
	}
	_ = g.Wait()
	return Result{Outcomes: outcomes}
}

// apply runs op with the name locked, so no two requests for the same
// object are in flight at once.
func (c *Codefresh) apply(ctx context.Context, kind, name string, s spec.Spec, op operation) Outcome {
	lockKey := kind + ":" + name
	c.locks.Lock(lockKey)
	defer func() { _ = c.locks.Unlock(lockKey) }()

	o := Outcome{Kind: kind, Name: name, Project: s.Project(), DryRun: c.dryRun}
	if kind == KindPipeline {
		o.Fingerprint = spec.FingerprintOf(s)
	}
	o.Action, o.Err = op(ctx, s)
	if o.Err != nil {
		o.Action = ActionFailed
		log := c.logger.Error
		if errors.Is(o.Err, ErrPipelineNotFound) {
			log = c.logger.Warn
		}
		log(kind+" failed", zap.String(kind, name), zap.Error(o.Err))
	}

	if c.recorder != nil {
		if err := c.recorder.Record(ctx, o); err != nil {
			c.logger.Warn("journal write failed", zap.String(kind, name), zap.Error(err))
		}
	}
	return o
}
