package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/kbsync/pkg/ingestion"
	"github.com/kraklabs/kbsync/pkg/mindsdb"
)

// fakeMindsDB keeps a set of existing objects and answers the statements the
// orchestrator issues.
type fakeMindsDB struct {
	mu      sync.Mutex
	objects map[string]bool
	queries []string

	// failOn returns an error for a statement prefix.
	failOn map[string]error
	// modelStatuses is consumed one per status poll; the last value sticks.
	modelStatuses []string
}

func newFakeMindsDB() *fakeMindsDB {
	return &fakeMindsDB{objects: map[string]bool{}, failOn: map[string]error{}}
}

func notExist(kind, name string) error {
	return &mindsdb.QueryError{Message: fmt.Sprintf("%s '%s' does not exist", kind, name)}
}

func table(rows ...[]any) *mindsdb.QueryResult {
	return &mindsdb.QueryResult{Type: mindsdb.ResultTable, Data: rows}
}

func (f *fakeMindsDB) Query(_ context.Context, sql string) (*mindsdb.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)

	for prefix, err := range f.failOn {
		if strings.HasPrefix(sql, prefix) {
			return nil, err
		}
	}

	fields := strings.Fields(strings.TrimSuffix(sql, ";"))
	ok := &mindsdb.QueryResult{Type: mindsdb.ResultOK}
	switch {
	case strings.HasPrefix(sql, "DROP "):
		key := fields[1] + ":" + fields[2]
		if !f.objects[key] {
			return nil, notExist(fields[1], fields[2])
		}
		delete(f.objects, key)
		return ok, nil
	case strings.HasPrefix(sql, "CREATE "):
		key := fields[1] + ":" + fields[2]
		if f.objects[key] {
			return nil, &mindsdb.QueryError{Message: fields[2] + " already exists"}
		}
		f.objects[key] = true
		return ok, nil
	case strings.Contains(sql, ".models WHERE"):
		status := "complete"
		if len(f.modelStatuses) > 0 {
			status = f.modelStatuses[0]
			if len(f.modelStatuses) > 1 {
				f.modelStatuses = f.modelStatuses[1:]
			}
		}
		var errMsg any
		if status == "error" {
			errMsg = "invalid api key"
		}
		return table([]any{status, errMsg}), nil
	case strings.HasPrefix(sql, "SELECT COUNT(*)"):
		name := fields[len(fields)-1]
		if !f.objects["KNOWLEDGE_BASE:"+name] {
			return nil, notExist("knowledge base", name)
		}
		return table([]any{json.Number("0")}), nil
	case strings.Contains(sql, ".agents WHERE"):
		for key := range f.objects {
			if strings.HasPrefix(key, "AGENT:") {
				return table([]any{strings.TrimPrefix(key, "AGENT:")}), nil
			}
		}
		return table(), nil
	}
	return nil, fmt.Errorf("unexpected statement: %s", sql)
}

func testConfig() Config {
	return Config{
		APIKey:       "sk-test",
		PollInterval: time.Millisecond,
		ReadyTimeout: time.Second,
	}
}

func newTracking(t *testing.T) *ingestion.TrackingStore {
	t.Helper()
	store := ingestion.NewTrackingStore(filepath.Join(t.TempDir(), ingestion.DefaultTrackingFile))
	require.NoError(t, store.Save(ingestion.Tracking{"data/prds/a.md": "abc"}))
	return store
}

func statuses(r *Report) map[string]StepStatus {
	out := map[string]StepStatus{}
	for _, s := range r.Steps {
		out[s.Name] = s.Status
	}
	return out
}

func TestRun_FromEmptySink(t *testing.T) {
	db := newFakeMindsDB()
	store := newTracking(t)

	var seen []string
	o := New(db, testConfig(), store, nil)
	o.SetStepCallback(func(r StepResult) { seen = append(seen, r.Name) })

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.Failed())
	assert.Equal(t, StepNames(), seen)

	st := statuses(report)
	assert.Equal(t, StatusAbsent, st[StepDropAgent])
	assert.Equal(t, StatusAbsent, st[StepDropKnowledgeBase])
	assert.Equal(t, StatusAbsent, st[StepDropEmbeddingModel])
	assert.Equal(t, StatusDone, st[StepCreateEmbeddingModel])
	assert.Equal(t, StatusDone, st[StepCreateKnowledgeBase])
	assert.Equal(t, StatusDone, st[StepCreateAgent])
	assert.Equal(t, StatusDone, st[StepClearTracking])

	tr, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, tr)

	assert.True(t, db.objects["AGENT:tidal"])
	assert.True(t, db.objects["KNOWLEDGE_BASE:prd_knowledge_base"])
	assert.True(t, db.objects["MODEL:kb_embedding_prd_knowledge_base"])
}

func TestRun_TwiceIsIdempotent(t *testing.T) {
	db := newFakeMindsDB()
	store := newTracking(t)
	o := New(db, testConfig(), store, nil)

	for i := 0; i < 2; i++ {
		report, err := o.Run(context.Background())
		require.NoError(t, err, "run %d", i+1)
		for _, name := range []string{StepDropAgent, StepDropKnowledgeBase, StepDropEmbeddingModel} {
			assert.True(t, report.Step(name).Succeeded(), "run %d step %s", i+1, name)
		}
	}

	report, err := New(db, testConfig(), store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDone, report.Step(StepDropAgent).Status)
	assert.Equal(t, StatusAbsent, report.Step(StepClearTracking).Status)
}

func TestRun_OtherErrorAborts(t *testing.T) {
	db := newFakeMindsDB()
	db.failOn["DROP KNOWLEDGE_BASE"] = &mindsdb.QueryError{Message: "permission denied for project mindsdb"}
	store := newTracking(t)

	report, err := New(db, testConfig(), store, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), StepDropKnowledgeBase)
	assert.Contains(t, err.Error(), "permission denied")

	failed := report.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, StepDropKnowledgeBase, failed.Name)

	st := statuses(report)
	assert.Equal(t, StatusAbsent, st[StepDropAgent])
	for _, name := range []string{StepDropEmbeddingModel, StepCreateEmbeddingModel, StepCreateKnowledgeBase, StepCreateAgent, StepClearTracking} {
		assert.Equal(t, StatusSkipped, st[name], name)
	}

	tr, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, tr, 1)
}

func TestRun_TransportErrorAborts(t *testing.T) {
	db := newFakeMindsDB()
	db.failOn["DROP AGENT"] = &mindsdb.HTTPError{StatusCode: 502}

	report, err := New(db, testConfig(), nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StepDropAgent, report.Failed().Name)
	assert.Len(t, db.queries, 1)
}

func TestRun_MissingAPIKey(t *testing.T) {
	db := newFakeMindsDB()
	cfg := testConfig()
	cfg.APIKey = ""

	_, err := New(db, cfg, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
	assert.Empty(t, db.queries)
}

func TestRun_InvalidIdentifier(t *testing.T) {
	db := newFakeMindsDB()
	cfg := testConfig()
	cfg.Agent = "tidal; DROP DATABASE x"

	_, err := New(db, cfg, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, db.queries)
}

func TestRun_WaitsForModel(t *testing.T) {
	db := newFakeMindsDB()
	db.modelStatuses = []string{"generating", "training", "complete"}

	report, err := New(db, testConfig(), nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDone, report.Step(StepCreateEmbeddingModel).Status)

	polls := 0
	for _, q := range db.queries {
		if strings.Contains(q, ".models WHERE") {
			polls++
		}
	}
	assert.Equal(t, 3, polls)
}

func TestRun_ModelErrorIsPermanent(t *testing.T) {
	db := newFakeMindsDB()
	db.modelStatuses = []string{"error"}

	report, err := New(db, testConfig(), nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, StepCreateEmbeddingModel, report.Failed().Name)
	assert.Equal(t, StatusSkipped, report.Step(StepCreateKnowledgeBase).Status)
}

func TestRun_ReadyTimeout(t *testing.T) {
	db := newFakeMindsDB()
	db.modelStatuses = []string{"generating"}
	cfg := testConfig()
	cfg.ReadyTimeout = 20 * time.Millisecond

	_, err := New(db, cfg, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestStatements(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "sk-'quoted'"
	cfg.applyDefaults()

	agent := createAgentSQL(cfg)
	assert.True(t, strings.HasPrefix(agent, "CREATE AGENT tidal\n"))
	assert.Contains(t, agent, "api_key = 'sk-''quoted'''")
	assert.Contains(t, agent, "knowledge_bases = ['mindsdb.prd_knowledge_base'];")
	assert.Contains(t, agent, "Answer the user''s question")

	model := createModelSQL(cfg)
	assert.Contains(t, model, "CREATE MODEL kb_embedding_prd_knowledge_base\nPREDICT embeddings")
	assert.Contains(t, model, "model_name = 'text-embedding-3-large'")

	assert.Equal(t, "SELECT name FROM mindsdb.agents WHERE name = 'tidal';", agentProbeSQL(cfg))
	assert.Equal(t, "DROP KNOWLEDGE_BASE prd_knowledge_base;", dropKnowledgeBaseSQL(cfg))
}
