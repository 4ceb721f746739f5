// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mindsdb is a small client for the MindsDB HTTP SQL API.
//
// Every statement is sent as POST /api/sql/query with a JSON body
// {"query": "..."}. The server answers with a typed envelope:
//
//	{"type": "table", "column_names": [...], "data": [[...], ...]}
//	{"type": "ok"}
//	{"type": "error", "error_message": "..."}
//
// GET /api/status is used as a liveness probe.
package mindsdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHost          = "localhost"
	DefaultPort          = 47334
	DefaultQueryTimeout  = 30 * time.Second
	DefaultStatusTimeout = 5 * time.Second

	queryPath  = "/api/sql/query"
	statusPath = "/api/status"

	// maxErrorBody bounds how much of a non-200 body is kept for diagnostics.
	maxErrorBody = 2048
)

// Result envelope types.
const (
	ResultTable = "table"
	ResultOK    = "ok"
	ResultError = "error"
)

// Config configures a Client. BaseURL wins over Scheme/Host/Port when set.
type Config struct {
	BaseURL       string
	Scheme        string
	Host          string
	Port          int
	QueryTimeout  time.Duration
	StatusTimeout time.Duration

	// HTTPClient is optional; timeouts are applied per request via context.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to one MindsDB instance.
type Client struct {
	baseURL       string
	http          *http.Client
	queryTimeout  time.Duration
	statusTimeout time.Duration
	logger        *slog.Logger
}

// NewClient creates a client, filling in defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:       resolveBaseURL(cfg),
		http:          cfg.HTTPClient,
		queryTimeout:  cfg.QueryTimeout,
		statusTimeout: cfg.StatusTimeout,
		logger:        cfg.Logger,
	}
}

func resolveBaseURL(cfg Config) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// BaseURL returns the server root, e.g. http://localhost:47334.
func (c *Client) BaseURL() string { return c.baseURL }

// QueryResult is the decoded response envelope.
type QueryResult struct {
	Type         string   `json:"type"`
	ColumnNames  []string `json:"column_names,omitempty"`
	Data         [][]any  `json:"data,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	ErrorCode    any      `json:"error_code,omitempty"`
}

// QueryError is an application-level error reported by the server
// in a 200 response with type "error".
type QueryError struct {
	Message string
	Code    any
}

func (e *QueryError) Error() string {
	return "mindsdb: " + e.Message
}

// HTTPError is returned for responses other than 200 OK.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("mindsdb: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("mindsdb: http status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a server error about a missing object,
// e.g. dropping an agent that was never created.
func IsNotFound(err error) bool {
	var qe *QueryError
	if !errors.As(err, &qe) {
		return false
	}
	return strings.Contains(strings.ToLower(qe.Message), "does not exist")
}

// Status probes GET /api/status. Any non-200 answer or transport error
// means the server is not usable.
func (c *Client) Status(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusPath, nil)
	if err != nil {
		return fmt.Errorf("build status request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Query executes one SQL statement.
//
// A "type: error" envelope is returned together with a *QueryError so callers
// can inspect both. Deadline and transport failures are wrapped as-is.
func (c *Client) Query(ctx context.Context, sql string) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": sql})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+queryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var result QueryResult
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	c.logger.Debug("mindsdb.query",
		"type", result.Type,
		"rows", len(result.Data),
		"bytes", len(body),
		"duration", time.Since(start),
	)

	if result.Type == ResultError {
		return &result, &QueryError{Message: result.ErrorMessage, Code: result.ErrorCode}
	}
	return &result, nil
}

// Exec runs a statement and discards the result envelope.
func (c *Client) Exec(ctx context.Context, sql string) error {
	_, err := c.Query(ctx, sql)
	return err
}

// Int reads an integer cell. Numbers may arrive as JSON numbers or strings.
func (r *QueryResult) Int(row, col int) (int, error) {
	v, err := r.Cell(row, col)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("cell [%d][%d]: %w", row, col, err)
		}
		return int(f), nil
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("cell [%d][%d]: %w", row, col, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cell [%d][%d]: unexpected type %T", row, col, v)
	}
}

// String reads a cell as text. nil becomes "".
func (r *QueryResult) String(row, col int) (string, error) {
	v, err := r.Cell(row, col)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// Cell returns the raw value at row, col.
func (r *QueryResult) Cell(row, col int) (any, error) {
	if row < 0 || row >= len(r.Data) {
		return nil, fmt.Errorf("row %d out of range (%d rows)", row, len(r.Data))
	}
	if col < 0 || col >= len(r.Data[row]) {
		return nil, fmt.Errorf("column %d out of range (%d columns)", col, len(r.Data[row]))
	}
	return r.Data[row][col], nil
}
