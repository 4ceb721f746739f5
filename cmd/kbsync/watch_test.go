package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kbsync/pkg/ingestion"
)

func TestRelevantEvent(t *testing.T) {
	sources := ingestion.DefaultSources()

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"prd write", fsnotify.Event{Name: "data/prds/a.md", Op: fsnotify.Write}, true},
		{"design create", fsnotify.Event{Name: "data/designs/home.json", Op: fsnotify.Create}, true},
		{"removal", fsnotify.Event{Name: "data/prds/a.txt", Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: "data/prds/a.md", Op: fsnotify.Chmod}, false},
		{"swap file", fsnotify.Event{Name: "data/prds/.a.md.swp", Op: fsnotify.Write}, false},
		{"json in prds", fsnotify.Event{Name: "data/prds/a.json", Op: fsnotify.Write}, false},
		{"other dir", fsnotify.Event{Name: "notes/a.md", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevantEvent(tt.ev, sources))
		})
	}
}

func TestWatchSources_SkipsMissing(t *testing.T) {
	dir := t.TempDir()
	w, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	sources := []ingestion.Source{
		{Name: "prds", Dir: dir, Extensions: []string{".md"}},
		{Name: "dup", Dir: dir + "/", Extensions: []string{".txt"}},
		{Name: "designs", Dir: filepath.Join(dir, "missing"), Extensions: []string{".json"}},
	}
	assert.Equal(t, 1, watchSources(w, sources, discardLogger()))
}

func TestWatchLoop_DebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.NoError(t, w.Add(dir))

	sources := []ingestion.Source{{Name: "prds", Dir: dir, Extensions: []string{".md"}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	triggered := make(chan int, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchLoop(ctx, w, 100*time.Millisecond, sources, discardLogger(), func(events int) {
			triggered <- events
		})
	}()

	for _, name := range []string{"a.md", "b.md", "ignored.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	select {
	case n := <-triggered:
		assert.GreaterOrEqual(t, n, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("watch loop did not trigger")
	}

	select {
	case n := <-triggered:
		t.Fatalf("unexpected second trigger with %d events", n)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not stop on cancel")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
