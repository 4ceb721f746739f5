package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInitConfig(t *testing.T) {
	cfg := createInitConfig(initFlags{
		host:          "db.lan",
		port:          48000,
		knowledgeBase: "docs_kb",
		prdsDir:       "./docs/prds",
	})
	assert.Equal(t, "db.lan", cfg.Sink.Host)
	assert.Equal(t, 48000, cfg.Sink.Port)
	assert.Equal(t, "docs_kb", cfg.Sink.KnowledgeBase)
	assert.Equal(t, "./docs/prds", cfg.Sources[0].Dir)
	assert.Equal(t, "./data/designs", cfg.Sources[1].Dir)
}

func TestRunInteractiveConfig(t *testing.T) {
	cfg := DefaultConfig()
	in := bufio.NewReader(strings.NewReader("mindsdb.local\n\nkb_two\n./docs\n\n"))
	var out bytes.Buffer

	runInteractiveConfig(in, &out, cfg)

	assert.Equal(t, "mindsdb.local", cfg.Sink.Host)
	assert.Equal(t, 47334, cfg.Sink.Port, "empty answer keeps the default")
	assert.Equal(t, "kb_two", cfg.Sink.KnowledgeBase)
	assert.Equal(t, "./docs", cfg.Sources[0].Dir)
	assert.Equal(t, "./data/designs", cfg.Sources[1].Dir)
	assert.Contains(t, out.String(), "MindsDB host [localhost]: ")
}

func TestPrompt_EOFKeepsDefault(t *testing.T) {
	var out bytes.Buffer
	got := prompt(bufio.NewReader(strings.NewReader("")), &out, "Knowledge base", "prd_knowledge_base")
	assert.Equal(t, "prd_knowledge_base", got)
}

func TestAddToGitignore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("bin/\n/.env"), 0o644))

	added := addToGitignore(dir, gitignoreEntries(DefaultConfig()))
	assert.Equal(t, []string{".kbsync/ingest.lock", ".kbsync/ingest.log"}, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bin/\n/.env\n\n# kbsync\n.kbsync/ingest.lock\n.kbsync/ingest.log\n", string(data))

	// Second call is a no-op.
	assert.Empty(t, addToGitignore(dir, gitignoreEntries(DefaultConfig())))
}

func TestAddToGitignore_NoFile(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, addToGitignore(dir, []string{".env"}))
	_, err := os.Stat(filepath.Join(dir, ".gitignore"))
	assert.True(t, os.IsNotExist(err))
}
