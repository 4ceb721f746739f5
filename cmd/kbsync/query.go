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

package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/pkg/mindsdb"
)

// runQuery executes the 'query' CLI command, running one SQL statement
// against MindsDB.
//
// Useful for inspecting the knowledge base or asking the agent directly.
//
// Command-specific flags:
//   - --timeout: Query timeout duration (default: 30s)
//   - --limit: Append LIMIT n to SELECT statements without one
//
// Examples:
//
//	kbsync query "SELECT COUNT(*) FROM prd_knowledge_base"
//	kbsync query "SELECT answer FROM tidal WHERE question = 'What is Tidal?'"
func runQuery(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	timeout := fs.Duration("timeout", mindsdb.DefaultQueryTimeout, "Query timeout")
	limit := fs.Int("limit", 0, "Append LIMIT to SELECT statements without one (0 = no limit)")
	host := fs.String("host", "", "MindsDB host (overrides config and KBSYNC_HOST)")
	port := fs.Int("port", 0, "MindsDB HTTP port (overrides config and KBSYNC_PORT)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbsync query [options] <sql>

Description:
  Execute a SQL statement against MindsDB over its HTTP API.

  Results are printed as a table (default) or JSON with --json.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Count units in the knowledge base
  kbsync query "SELECT COUNT(*) AS count FROM prd_knowledge_base"

  # Semantic search over ingested documents
  kbsync query "SELECT chunk_content FROM prd_knowledge_base WHERE content = 'onboarding'" --limit 5

  # Ask the agent
  kbsync query "SELECT answer FROM tidal WHERE question = 'Summarize the checkout PRD'" --timeout 2m

  # Output as JSON for scripting
  kbsync --json query "SHOW KNOWLEDGE_BASES" | jq '.rows'

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() == 0 {
		fs.Usage()
		errors.FatalError(errors.NewInputError(
			"SQL argument required",
			"No SQL statement provided",
			"Provide a statement: kbsync query 'SELECT COUNT(*) FROM prd_knowledge_base'",
		), globals.JSON)
	}
	sql := applyLimit(strings.Join(fs.Args(), " "), *limit)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if *host != "" {
		cfg.Sink.Host = *host
	}
	if *port != 0 {
		cfg.Sink.Port = *port
	}
	cfg.Sink.QueryTimeout = *timeout

	logger := newLogger(globals, false)
	client := newClient(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := client.Query(ctx, sql)
	if err != nil {
		errors.FatalError(queryError(cfg, err), globals.JSON)
	}

	if result.Type == mindsdb.ResultTable && len(result.Data) == 0 && !globals.JSON {
		fmt.Fprintf(os.Stderr, "Warning: Query returned no results\n")
	}

	if globals.JSON {
		outputQueryJSON(os.Stdout, result)
	} else {
		printQueryResult(os.Stdout, result)
	}
}

var limitRe = regexp.MustCompile(`(?i)\blimit\s+\d+`)

// applyLimit appends LIMIT n to a SELECT without one.
func applyLimit(sql string, n int) string {
	sql = strings.TrimSpace(sql)
	if n <= 0 {
		return sql
	}
	trimmed := strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") || limitRe.MatchString(trimmed) {
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d;", trimmed, n)
}

func queryError(cfg *Config, err error) error {
	var qe *mindsdb.QueryError
	if stderrors.As(err, &qe) {
		return errors.NewInputError(
			"Query failed",
			qe.Message,
			"Check the statement syntax and object names ('SHOW KNOWLEDGE_BASES', 'SHOW AGENTS')",
		)
	}
	var he *mindsdb.HTTPError
	if stderrors.As(err, &he) {
		return errors.NewDatabaseError(
			"MindsDB returned an HTTP error",
			he.Error(),
			"Check the MindsDB logs",
			err,
		)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewNetworkError(
			"Query timed out",
			"MindsDB did not answer in time",
			"Increase --timeout for slow statements such as agent questions",
			err,
		)
	}
	return errors.NewNetworkError(
		"Cannot reach MindsDB",
		fmt.Sprintf("Request to %s failed", sinkAddress(cfg)),
		"Start MindsDB or set KBSYNC_HOST / KBSYNC_PORT",
		err,
	)
}

// outputQueryJSON writes query results as formatted JSON.
func outputQueryJSON(w io.Writer, result *mindsdb.QueryResult) {
	rows := result.Data
	if rows == nil {
		rows = [][]any{}
	}
	headers := result.ColumnNames
	if headers == nil {
		headers = []string{}
	}
	output := map[string]any{
		"type":    result.Type,
		"headers": headers,
		"rows":    rows,
		"count":   len(rows),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(output)
}

// printQueryResult prints query results as a tab-aligned table.
func printQueryResult(out io.Writer, result *mindsdb.QueryResult) {
	if result.Type == mindsdb.ResultOK {
		_, _ = fmt.Fprintln(out, "OK")
		return
	}
	if len(result.Data) == 0 {
		_, _ = fmt.Fprintln(out, "No results")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	for i, h := range result.ColumnNames {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, strings.ToUpper(h))
	}
	_, _ = fmt.Fprintln(w)

	for i := range result.ColumnNames {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, "---")
	}
	_, _ = fmt.Fprintln(w)

	for _, row := range result.Data {
		for i, cell := range row {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\t")
			}
			_, _ = fmt.Fprint(w, formatCell(cell))
		}
		_, _ = fmt.Fprintln(w)
	}

	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n(%d rows)\n", len(result.Data))
}

const maxCellWidth = 60

// formatCell formats a single cell value for the result table. Newlines are
// flattened so multi-line chunk content stays on one row.
func formatCell(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "<null>"
	case string:
		s = val
	case json.Number:
		return val.String()
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	default:
		s = fmt.Sprintf("%v", val)
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxCellWidth {
		r := []rune(s)
		return string(r[:maxCellWidth-3]) + "..."
	}
	return s
}
