package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/pkg/ingestion"
)

// memorySink counts submissions as units.
type memorySink struct {
	units     int
	submitted []string
	failOn    string
}

func (m *memorySink) Ping(context.Context) error { return nil }

func (m *memorySink) Submit(_ context.Context, content string) error {
	if m.failOn != "" && content == m.failOn {
		return fmt.Errorf("mindsdb: embedding failed")
	}
	m.submitted = append(m.submitted, content)
	m.units++
	return nil
}

func (m *memorySink) Count(context.Context) (int, error) { return m.units, nil }

func TestOverrideSourceDir(t *testing.T) {
	sources := ingestion.DefaultSources()

	got := overrideSourceDir(sources, "prds", "./docs")
	require.Len(t, got, 2)
	assert.Equal(t, "./docs", got[0].Dir)
	assert.Equal(t, []string{".txt", ".md"}, got[0].Extensions)
	assert.Equal(t, "./data/prds", sources[0].Dir, "input must not be modified")

	trimmed := []ingestion.Source{{Name: "prds", Dir: "./p", Extensions: []string{".md"}}}
	got = overrideSourceDir(trimmed, "designs", "./d")
	require.Len(t, got, 2)
	assert.Equal(t, "designs", got[1].Name)
	assert.Equal(t, []string{".json"}, got[1].Extensions)

	got = overrideSourceDir(trimmed, "other", "./x")
	assert.Len(t, got, 1)
}

func TestIngestOptionsApply(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := DefaultConfig()
	cfg.root = mustGetwd(t)

	opts := ingestOptions{host: "db", port: 1, prdsDir: "in/prds", designsDir: "/abs/designs"}
	opts.apply(cfg)

	assert.Equal(t, "db", cfg.Sink.Host)
	assert.Equal(t, 1, cfg.Sink.Port)
	assert.Equal(t, "./in/prds", cfg.Sources[0].Dir)
	assert.Equal(t, "/abs/designs", cfg.Sources[1].Dir)
}

func TestIngestOnce_EndToEnd(t *testing.T) {
	projectDir(t)
	writeDoc(t, "data/prds/a.md", "alpha")
	writeDoc(t, "data/prds/b.md", "beta")
	writeDoc(t, "data/designs/c.json", `{"screen": "home"}`)

	cfg := DefaultConfig()
	sink := &memorySink{failOn: "beta"}
	globals := GlobalFlags{Quiet: true}

	summary, err := ingestOnce(context.Background(), newEngine(cfg, sink, false, false, nil), globals, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Ingested)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, errors.ExitFailures, exitCode(summary))

	var buf bytes.Buffer
	printSummary(&buf, summary)
	out := buf.String()
	assert.Contains(t, out, "data/prds/b.md: submit: mindsdb: embedding failed")
	assert.Contains(t, out, "Ingested: 2  Skipped: 0  Failed: 1")
	assert.Contains(t, out, "Knowledge base units: 2")
	assert.Contains(t, out, "Tracked documents: 2")

	// The failed document is retried; the others are skipped.
	sink.failOn = ""
	summary, err = ingestOnce(context.Background(), newEngine(cfg, sink, false, false, nil), globals, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Ingested)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, errors.ExitOK, exitCode(summary))
	assert.Equal(t, []string{"alpha", `{"screen": "home"}`, "beta"}, sink.submitted)

	// Force re-submits everything.
	summary, err = ingestOnce(context.Background(), newEngine(cfg, sink, true, false, nil), globals, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Ingested)
}

func TestNewIngestJSON(t *testing.T) {
	s := &ingestion.RunSummary{
		Ingested:        1,
		Failed:          1,
		UnitsCreated:    4,
		TotalUnits:      10,
		TotalUnitsKnown: true,
		Tracked:         1,
		Duration:        1500 * time.Millisecond,
		Results: []ingestion.FileResult{
			{Path: "data/prds/a.md", Source: "prds", Outcome: ingestion.OutcomeIngested, Fingerprint: "abc", UnitsCreated: 4},
			{Path: "data/prds/b.md", Source: "prds", Outcome: ingestion.OutcomeFailed, Err: fmt.Errorf("boom")},
		},
	}

	var buf bytes.Buffer
	outputIngestJSON(&buf, s, false)

	var got ingestJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.False(t, got.Aborted)
	assert.Equal(t, 4, got.UnitsCreated)
	require.NotNil(t, got.TotalUnits)
	assert.Equal(t, 10, *got.TotalUnits)
	assert.Equal(t, int64(1500), got.DurationMS)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "failed", got.Files[1].Outcome)
	assert.Equal(t, "boom", got.Files[1].Error)

	unknown := newIngestJSON(&ingestion.RunSummary{}, true)
	assert.True(t, unknown.Aborted)
	assert.Nil(t, unknown.TotalUnits)
	assert.NotNil(t, unknown.Files)
}

func TestRunError(t *testing.T) {
	cfg := DefaultConfig()

	assert.NoError(t, runError(cfg, nil))
	assert.NoError(t, runError(cfg, fmt.Errorf("%w: %w", ingestion.ErrAborted, context.Canceled)))

	tests := []struct {
		err  error
		cat  errors.Category
		exit int
	}{
		{fmt.Errorf("%w: dial tcp", ingestion.ErrSinkUnreachable), errors.CategoryNetwork, errors.ExitNetwork},
		{fmt.Errorf("load tracking: %w", &ingestion.CorruptTrackingError{Path: "x", Err: fmt.Errorf("bad")}), errors.CategoryDatabase, errors.ExitDatabase},
		{fmt.Errorf("%w: lock held", ingestion.ErrRunInProgress), errors.CategoryInput, errors.ExitInput},
		{fmt.Errorf("save tracking: disk full"), errors.CategoryDatabase, errors.ExitDatabase},
	}
	for _, tt := range tests {
		ue := errors.AsUserError(runError(cfg, tt.err))
		assert.Equal(t, tt.cat, ue.Category, tt.err.Error())
		assert.Equal(t, tt.exit, ue.ExitCode(), tt.err.Error())
	}
}

func mustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return wd
}
