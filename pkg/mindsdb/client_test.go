package mindsdb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sqlServer answers every query with handler(query).
func sqlServer(t *testing.T, handler func(query string) (int, any)) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case statusPath:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"environment":"local"}`))
		case queryPath:
			require.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var body struct {
				Query string `json:"query"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			seen = append(seen, body.Query)
			code, payload := handler(body.Query)
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestResolveBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:47334", resolveBaseURL(Config{}))
	assert.Equal(t, "https://db.internal:8443", resolveBaseURL(Config{Scheme: "https", Host: "db.internal", Port: 8443}))
	assert.Equal(t, "http://x:1", resolveBaseURL(Config{BaseURL: "http://x:1/", Host: "ignored"}))
}

func TestClient_QueryTable(t *testing.T) {
	srv, seen := sqlServer(t, func(string) (int, any) {
		return http.StatusOK, map[string]any{
			"type":         "table",
			"column_names": []string{"count"},
			"data":         [][]any{{13}},
		}
	})
	c := NewClient(Config{BaseURL: srv.URL})

	res, err := c.Query(context.Background(), "SELECT COUNT(*) AS count FROM kb;")
	require.NoError(t, err)
	assert.Equal(t, ResultTable, res.Type)
	assert.Equal(t, []string{"count"}, res.ColumnNames)

	n, err := res.Int(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, []string{"SELECT COUNT(*) AS count FROM kb;"}, *seen)
}

func TestClient_QueryErrorEnvelope(t *testing.T) {
	srv, _ := sqlServer(t, func(string) (int, any) {
		return http.StatusOK, map[string]any{
			"type":          "error",
			"error_message": "Agent 'prd_agent' does not exist",
		}
	})
	c := NewClient(Config{BaseURL: srv.URL})

	res, err := c.Query(context.Background(), "DROP AGENT prd_agent;")
	require.Error(t, err)
	require.NotNil(t, res)

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Contains(t, qe.Message, "does not exist")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmtWrap(err)))
}

func fmtWrap(err error) error { return errors.Join(errors.New("drop agent"), err) }

func TestClient_HTTPError(t *testing.T) {
	srv, _ := sqlServer(t, func(string) (int, any) {
		return http.StatusInternalServerError, map[string]any{"detail": "boom"}
	})
	c := NewClient(Config{BaseURL: srv.URL})

	_, err := c.Query(context.Background(), "SELECT 1;")
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusInternalServerError, he.StatusCode)
	assert.Contains(t, he.Body, "boom")
	assert.False(t, IsNotFound(err))
}

func TestClient_QueryTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	c := NewClient(Config{BaseURL: srv.URL, QueryTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.Query(context.Background(), "SELECT 1;")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_Status(t *testing.T) {
	srv, _ := sqlServer(t, nil)
	require.NoError(t, NewClient(Config{BaseURL: srv.URL}).Status(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	err := NewClient(Config{BaseURL: down.URL}).Status(context.Background())
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusServiceUnavailable, he.StatusCode)
}

func TestClient_StatusUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient(Config{BaseURL: url, StatusTimeout: time.Second}).Status(context.Background())
	assert.Error(t, err)
}

func TestQueryResult_Int(t *testing.T) {
	res := &QueryResult{Data: [][]any{{json.Number("7"), "12", 3.0, nil}}}

	n, err := res.Int(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = res.Int(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = res.Int(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = res.Int(0, 3)
	assert.Error(t, err)
	_, err = res.Int(1, 0)
	assert.Error(t, err)
}
