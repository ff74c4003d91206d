package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/agentic-research/cfsync/api"
	"github.com/agentic-research/cfsync/internal/codefresh"
	"github.com/agentic-research/cfsync/internal/generator"
	"github.com/agentic-research/cfsync/internal/ingest"
	"github.com/agentic-research/cfsync/internal/platform"
	"github.com/agentic-research/cfsync/internal/render"
	"github.com/agentic-research/cfsync/internal/spec"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const buildTemplate = `{
  "version": "1.0",
  "kind": "pipeline",
  "metadata": {"name": "{{.project}}/{{.name}}", "project": "{{.project}}"},
  "spec": {"steps": {"build": {"image": "{{.image}}"}}}
}`

const deployTemplate = `version: "1.0"
kind: pipeline
metadata:
  name: {{.project}}/{{.name}}
  project: {{.project}}
spec:
  steps:
    deploy:
      image: {{.image}}
`

func workspace(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	base := map[string]string{
		"templates/ci/build.json.njk":  buildTemplate,
		"templates/ci/deploy.yaml.njk": deployTemplate,
	}
	for name, content := range base {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

var params = Parameters{ManifestsPath: "manifests", TemplatesPath: "templates", ManageProjects: true}

func newCli(fs billy.Filesystem, client codefresh.Client, logger *zap.Logger, opts ...codefresh.Option) *Cli {
	return New(
		ingest.NewLoader(fs, logger),
		generator.New(render.NewTextEngine(), logger),
		codefresh.New(client, logger, opts...),
		logger,
	)
}

func TestExec_CreatesThenConverges(t *testing.T) {
	fs := workspace(t, map[string]string{
		"manifests/api/manifest.json": `{"data":{"name":"api","project":"svc","image":"golang:1.25"},
			"templates":[{"name":"ci/build"},{"name":"ci/deploy","alias":"prod"}]}`,
		"manifests/web/manifest.json": `{"data":{"name":"web","project":"front","image":"node:22"},
			"templates":[{"name":"ci/build"}]}`,
	})
	mem := platform.NewMemoryPlatform()
	ctx := context.Background()

	report, err := newCli(fs, mem, nil).Exec(ctx, params)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Len(t, report.Specs, 3)
	assert.Equal(t, []string{"svc", "front"}, report.Projects.Names(codefresh.ActionCreated))
	assert.Equal(t, []string{"svc/api-build", "svc/api-prod", "front/web-build"}, report.Created.Names(codefresh.ActionCreated))
	assert.Empty(t, report.Updated.Outcomes, "pipelines created in this run are not checked again")
	assert.Empty(t, mem.CallsTo(platform.OpUpdatePipeline))

	stored, ok := mem.Pipeline("svc/api-prod")
	require.True(t, ok)
	assert.Equal(t, "golang:1.25", stored["spec"].(map[string]any)["steps"].(map[string]any)["deploy"].(map[string]any)["image"])

	// A second run over the same inputs writes nothing.
	writes := len(mem.CallsTo(platform.OpCreatePipeline)) + len(mem.CallsTo(platform.OpUpdatePipeline))
	report, err = newCli(fs, mem, nil).Exec(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Created.Count(codefresh.ActionExists))
	assert.Equal(t, 3, report.Updated.Count(codefresh.ActionUnchanged))
	assert.Equal(t, writes, len(mem.CallsTo(platform.OpCreatePipeline))+len(mem.CallsTo(platform.OpUpdatePipeline)))

	// Editing a manifest updates only its pipelines.
	require.NoError(t, util.WriteFile(fs, "manifests/web/manifest.json",
		[]byte(`{"data":{"name":"web","project":"front","image":"node:24"},"templates":[{"name":"ci/build"}]}`), 0o644))
	report, err = newCli(fs, mem, nil).Exec(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"front/web-build"}, report.Updated.Names(codefresh.ActionUpdated))
	assert.Equal(t, 2, report.Updated.Count(codefresh.ActionUnchanged))
}

func TestExec_TemplateChangeUpdatesEveryUser(t *testing.T) {
	fs := workspace(t, map[string]string{
		"manifests/a/manifest.json": `{"data":{"name":"a","project":"p","image":"x"},"templates":[{"name":"ci/build"}]}`,
		"manifests/b/manifest.json": `{"data":{"name":"b","project":"p","image":"x"},"templates":[{"name":"ci/build"},{"name":"ci/deploy"}]}`,
	})
	mem := platform.NewMemoryPlatform()
	ctx := context.Background()
	_, err := newCli(fs, mem, nil).Exec(ctx, params)
	require.NoError(t, err)

	require.NoError(t, util.WriteFile(fs, "templates/ci/build.json.njk", []byte(buildTemplate+"\n"), 0o644))
	report, err := newCli(fs, mem, nil).Exec(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"p/a-build", "p/b-build"}, report.Updated.Names(codefresh.ActionUpdated))
	assert.Equal(t, []string{"p/b-deploy"}, report.Updated.Names(codefresh.ActionUnchanged))
}

func TestExec_FailedManifestNeverReachesPlatform(t *testing.T) {
	fs := workspace(t, map[string]string{
		"manifests/good/manifest.json":    `{"data":{"name":"good","project":"p","image":"x"},"templates":[{"name":"ci/build"}]}`,
		"manifests/missing/manifest.json": `{"data":{"name":"missing","project":"p"},"templates":[{"name":"ci/nope"}]}`,
		"manifests/noproj/manifest.json":  `{"data":{"name":"noproj","project":"","image":"x"},"templates":[{"name":"ci/build"}]}`,
	})
	mem := platform.NewMemoryPlatform()

	report, err := newCli(fs, mem, nil).Exec(context.Background(), params)
	require.NoError(t, err)
	assert.ErrorIs(t, report.GenerateErr, generator.ErrTemplateNotFound)
	assert.ErrorIs(t, report.GenerateErr, spec.ErrMissingProject)
	assert.ErrorIs(t, report.Err(), generator.ErrTemplateNotFound)

	require.Len(t, report.Specs, 1)
	for _, c := range mem.Calls() {
		assert.Contains(t, []string{"p", "p/good-build"}, c.Name)
	}
}

func TestExec_ItemFailureDoesNotStopBatch(t *testing.T) {
	fs := workspace(t, map[string]string{
		"manifests/a/manifest.json": `{"data":{"name":"a","project":"p","image":"x"},"templates":[{"name":"ci/build"}]}`,
		"manifests/b/manifest.json": `{"data":{"name":"b","project":"p","image":"x"},"templates":[{"name":"ci/build"}]}`,
	})
	mem := platform.NewMemoryPlatform()
	mem.FailOn(platform.OpCreatePipeline, "p/a-build", errors.New("quota exceeded"))

	report, err := newCli(fs, mem, nil).Exec(context.Background(), params)
	require.NoError(t, err)
	require.Error(t, report.Err())
	assert.Contains(t, report.Err().Error(), "quota exceeded")
	assert.Equal(t, []string{"p/b-build"}, report.Created.Names(codefresh.ActionCreated))
	_, ok := mem.Pipeline("p/b-build")
	assert.True(t, ok)
}

func TestExec_ProjectsOptional(t *testing.T) {
	fs := workspace(t, map[string]string{
		"manifests/a/manifest.json": `{"data":{"name":"a","project":"p","image":"x"},"templates":[{"name":"ci/build"}]}`,
	})
	mem := platform.NewMemoryPlatform()
	p := params
	p.ManageProjects = false

	report, err := newCli(fs, mem, nil).Exec(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, report.Projects.Outcomes)
	assert.Empty(t, mem.CallsTo(platform.OpGetProject))
	assert.Empty(t, mem.Projects())
}

func TestExec_DryRun(t *testing.T) {
	fs := workspace(t, map[string]string{
		"manifests/a/manifest.json": `{"data":{"name":"a","project":"p","image":"x"},"templates":[{"name":"ci/build"}]}`,
	})
	mem := platform.NewMemoryPlatform()

	report, err := newCli(fs, mem, nil, codefresh.WithDryRun(true)).Exec(context.Background(), params)
	require.NoError(t, err)
	require.NoError(t, report.Err(), "planned creations are not update failures")
	assert.Equal(t, []string{"p/a-build"}, report.Created.Names(codefresh.ActionCreated))
	assert.Empty(t, report.Updated.Outcomes)
	assert.Empty(t, mem.CallsTo(platform.OpCreatePipeline))
	assert.Empty(t, mem.CallsTo(platform.OpCreateProject))
}

func TestGenerate_WarnsOnCollision(t *testing.T) {
	fs := workspace(t, map[string]string{
		"manifests/one/manifest.json": `{"data":{"name":"app","project":"p","image":"x"},"templates":[{"name":"ci/build"}]}`,
		"manifests/two/manifest.json": `{"data":{"name":"app","project":"p","image":"y"},"templates":[{"name":"ci/build"}]}`,
	})
	core, logs := observer.New(zapcore.WarnLevel)

	report, err := newCli(fs, platform.NewMemoryPlatform(), zap.New(core)).Generate(params)
	require.NoError(t, err)
	assert.Len(t, report.Specs, 2, "collisions are reported, not rejected")

	warnings := logs.FilterMessage("duplicate pipeline name").All()
	require.Len(t, warnings, 1)
	fields := warnings[0].ContextMap()
	assert.Equal(t, "p/app-build", fields["pipeline"])
	assert.Equal(t, "two/manifest.json", fields["manifest"])
	assert.Equal(t, "one/manifest.json", fields["first_manifest"])
}

func TestExec_CollidingSpecReachesUpdate(t *testing.T) {
	fs := workspace(t, map[string]string{
		"manifests/one/manifest.json": `{"data":{"name":"app","project":"p","image":"x"},"templates":[{"name":"ci/build"}]}`,
		"manifests/two/manifest.json": `{"data":{"name":"app","project":"p","image":"y"},"templates":[{"name":"ci/build"}]}`,
	})
	mem := platform.NewMemoryPlatform()

	report, err := newCli(fs, mem, nil).Exec(context.Background(), params)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"p/app-build"}, report.Created.Names(codefresh.ActionCreated))
	assert.Equal(t, []string{"p/app-build"}, report.Created.Names(codefresh.ActionExists))
	assert.Equal(t, []string{"p/app-build"}, report.Updated.Names(codefresh.ActionUpdated))

	stored, ok := mem.Pipeline("p/app-build")
	require.True(t, ok)
	assert.Equal(t, "y", stored["spec"].(map[string]any)["steps"].(map[string]any)["build"].(map[string]any)["image"])
}

type failingLoader struct{ err error }

func (l failingLoader) LoadManifests(string) ([]api.Manifest, error) { return nil, l.err }
func (l failingLoader) LoadTemplates(string) ([]api.Template, error) { return nil, nil }

func TestExec_LoadFailureAborts(t *testing.T) {
	boom := errors.New("permission denied")
	mem := platform.NewMemoryPlatform()
	c := New(failingLoader{boom}, generator.New(render.NewTextEngine(), nil), codefresh.New(mem, nil), nil)

	_, err := c.Exec(context.Background(), params)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, mem.Calls())
}
