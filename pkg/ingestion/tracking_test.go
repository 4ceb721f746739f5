package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("5d41402abc4b2a76b9719d911017c592"), ComputeFingerprint([]byte("hello")))
	assert.Equal(t, Fingerprint("d41d8cd98f00b204e9800998ecf8427e"), ComputeFingerprint(nil))
	assert.NotEqual(t, ComputeFingerprint([]byte("hello")), ComputeFingerprint([]byte("hellp")))
}

func TestFingerprintFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	fp, err := FingerprintFile(path)
	require.NoError(t, err)
	assert.Equal(t, ComputeFingerprint([]byte("hello")), fp)

	_, err = FingerprintFile(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}

func TestTrackingStore_LoadMissingIsEmpty(t *testing.T) {
	s := NewTrackingStore(filepath.Join(t.TempDir(), DefaultTrackingFile))
	tr, err := s.Load()
	require.NoError(t, err)
	assert.NotNil(t, tr)
	assert.Empty(t, tr)
}

func TestTrackingStore_LoadCorrupt(t *testing.T) {
	cases := map[string]string{
		"empty file":     "",
		"truncated":      `{"a.md": "abc`,
		"wrong type":     `["a.md"]`,
		"non-string val": `{"a.md": 42}`,
		"empty value":    `{"a.md": ""}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultTrackingFile)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			_, err := NewTrackingStore(path).Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorruptTracking))
			var cte *CorruptTrackingError
			require.True(t, errors.As(err, &cte))
			assert.Equal(t, path, cte.Path)
		})
	}
}

func TestTrackingStore_LoadNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultTrackingFile)
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o644))

	tr, err := NewTrackingStore(path).Load()
	require.NoError(t, err)
	assert.Empty(t, tr)
}

func TestTrackingStore_SaveFormatAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", DefaultTrackingFile)
	s := NewTrackingStore(path)

	in := Tracking{
		"data/prds/b.md":      "bbbb",
		"data/designs/a.json": "aaaa",
	}
	require.NoError(t, s.Save(in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"data/designs/a.json\": \"aaaa\",\n  \"data/prds/b.md\": \"bbbb\"\n}\n", string(data))

	out, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultTrackingFile, entries[0].Name())
}

func TestTrackingStore_SaveOverwrites(t *testing.T) {
	s := NewTrackingStore(filepath.Join(t.TempDir(), DefaultTrackingFile))
	require.NoError(t, s.Save(Tracking{"a": "1", "b": "2"}))
	require.NoError(t, s.Save(Tracking{"c": "3"}))

	out, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Tracking{"c": "3"}, out)
}

func TestTrackingStore_Clear(t *testing.T) {
	s := NewTrackingStore(filepath.Join(t.TempDir(), DefaultTrackingFile))

	existed, err := s.Clear()
	require.NoError(t, err)
	assert.False(t, existed)

	require.NoError(t, s.Save(Tracking{"a": "1"}))
	existed, err = s.Clear()
	require.NoError(t, err)
	assert.True(t, existed)

	tr, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, tr)
}

func TestTracking_Clone(t *testing.T) {
	orig := Tracking{"a": "1"}
	c := orig.Clone()
	c["b"] = "2"
	assert.Len(t, orig, 1)
}
