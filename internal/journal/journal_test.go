package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentic-research/cfsync/api"
	"github.com/agentic-research/cfsync/internal/codefresh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndRead(t *testing.T) {
	ctx := context.Background()
	j := openTemp(t, filepath.Join(t.TempDir(), "journal.db"))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return at }

	fp := api.Fingerprint{ChecksumManifest: "m", ChecksumTemplate: "t"}
	require.NoError(t, j.Record(ctx, codefresh.Outcome{
		Kind: codefresh.KindPipeline, Name: "p/a", Project: "p",
		Action: codefresh.ActionCreated, Fingerprint: fp,
	}))
	require.NoError(t, j.Record(ctx, codefresh.Outcome{
		Kind: codefresh.KindPipeline, Name: "p/b", Project: "p",
		Action: codefresh.ActionFailed, DryRun: true, Err: errors.New("boom"),
	}))

	entries, err := j.Entries(ctx, j.RunID())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, Entry{
		RunID: j.RunID(), At: at, Kind: "pipeline", Name: "p/a", Project: "p",
		Action: codefresh.ActionCreated, ChecksumManifest: "m", ChecksumTemplate: "t",
	}, entries[0])
	assert.Equal(t, codefresh.ActionFailed, entries[1].Action)
	assert.True(t, entries[1].DryRun)
	assert.Equal(t, "boom", entries[1].Error)
}

func TestJournal_RunsAreSeparate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, codefresh.Outcome{Kind: "project", Name: "p", Action: codefresh.ActionCreated}))
	firstRun := first.RunID()
	require.NoError(t, first.Close())

	second := openTemp(t, path)
	assert.NotEqual(t, firstRun, second.RunID())
	require.NoError(t, second.Record(ctx, codefresh.Outcome{Kind: "project", Name: "q", Action: codefresh.ActionExists}))

	last, err := second.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.RunID(), last)

	latest, err := second.Entries(ctx, "")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "q", latest[0].Name)

	older, err := second.Entries(ctx, firstRun)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "p", older[0].Name)
}

func TestJournal_Empty(t *testing.T) {
	j := openTemp(t, filepath.Join(t.TempDir(), "journal.db"))
	entries, err := j.Entries(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_RecordsAfterCancel(t *testing.T) {
	j := openTemp(t, filepath.Join(t.TempDir(), "journal.db"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Record(ctx, codefresh.Outcome{Kind: "pipeline", Name: "p/a", Action: codefresh.ActionFailed, Err: ctx.Err()}))

	entries, err := j.Entries(context.Background(), j.RunID())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
