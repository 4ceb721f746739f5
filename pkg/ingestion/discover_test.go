package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(cs []CandidateFile) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Path
	}
	return out
}

func TestDiscover_OrderAndFiltering(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.prds, "z.md", "")
	f.write(t, f.prds, "a.txt", "")
	f.write(t, f.prds, "m.MD", "")
	f.write(t, f.prds, "notes.md.bak", "")
	f.write(t, f.designs, "b.json", "{}")
	f.write(t, f.designs, "a.json", "{}")
	require.NoError(t, os.Mkdir(filepath.Join(f.prds, "dir.md"), 0o755))

	got, err := Discover(f.sources, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(f.prds, "a.txt"),
		filepath.Join(f.prds, "z.md"),
		filepath.Join(f.designs, "a.json"),
		filepath.Join(f.designs, "b.json"),
	}, paths(got))
	assert.Equal(t, "prds", got[0].Source)
	assert.Equal(t, "designs", got[3].Source)
}

func TestDiscover_RelativeIdentity(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.prds, "a.md", "")
	t.Chdir(f.root)

	got, err := Discover(DefaultSources(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("data", "prds", "a.md")}, paths(got))
}

func TestDiscover_MissingDirIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.designs, "a.json", "{}")
	sources := []Source{
		{Name: "prds", Dir: filepath.Join(f.root, "absent"), Extensions: []string{".md"}},
		f.sources[1],
	}

	got, err := Discover(sources, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(f.designs, "a.json")}, paths(got))
}

func TestDiscover_NotADirectoryIsFatal(t *testing.T) {
	f := newFixture(t)
	file := f.write(t, f.prds, "a.md", "")

	_, err := Discover([]Source{{Name: "bad", Dir: file, Extensions: []string{".md"}}}, nil)
	assert.Error(t, err)
}

func TestDiscover_DuplicateSourcesListedOnce(t *testing.T) {
	f := newFixture(t)
	f.write(t, f.prds, "a.md", "")
	sources := []Source{
		{Name: "first", Dir: f.prds, Extensions: []string{".md"}},
		{Name: "second", Dir: f.prds + string(filepath.Separator), Extensions: []string{".md"}},
	}

	got, err := Discover(sources, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Source)
}

func TestBuildPlan(t *testing.T) {
	f := newFixture(t)
	unchanged := f.write(t, f.prds, "a.md", "same")
	changed := f.write(t, f.prds, "b.md", "new text")
	added := f.write(t, f.prds, "c.md", "brand new")
	require.NoError(t, os.Symlink(filepath.Join(f.root, "gone"), filepath.Join(f.prds, "d.md")))

	tracking := Tracking{
		unchanged:                       ComputeFingerprint([]byte("same")),
		changed:                         ComputeFingerprint([]byte("old text")),
		filepath.Join(f.prds, "old.md"): "ffff",
	}
	candidates, err := Discover(f.sources, nil)
	require.NoError(t, err)

	plan := BuildPlan(candidates, tracking)
	kinds := map[string]ChangeKind{}
	for _, pf := range plan.Files {
		kinds[pf.Path] = pf.Kind
	}
	assert.Equal(t, ChangeUnchanged, kinds[unchanged])
	assert.Equal(t, ChangeModified, kinds[changed])
	assert.Equal(t, ChangeNew, kinds[added])
	assert.Equal(t, ChangeUnreadable, kinds[filepath.Join(f.prds, "d.md")])
	assert.Equal(t, []string{filepath.Join(f.prds, "old.md")}, plan.Stale)
	assert.Equal(t, 2, plan.Pending())
}

func TestRunLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ingest.lock")

	lock, err := AcquireRunLock(path)
	require.NoError(t, err)

	_, err = AcquireRunLock(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunInProgress))
	assert.Contains(t, err.Error(), "held by pid")

	require.NoError(t, lock.Release())
	lock, err = AcquireRunLock(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	require.NoError(t, (*RunLock)(nil).Release())
}

func TestAppendIngestLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	AppendIngestLog(dir, "ingested a.md units=2")
	AppendIngestLog(dir, "skipped b.md")
	AppendIngestLog("", "ignored")

	data, err := os.ReadFile(filepath.Join(dir, IngestLogName))
	require.NoError(t, err)
	assert.Regexp(t, `^\S+ ingested a\.md units=2\n\S+ skipped b\.md\n$`, string(data))
}
