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
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/internal/ui"
	"github.com/kraklabs/kbsync/pkg/ingestion"
)

// StatusResult represents the sync status for JSON output.
type StatusResult struct {
	KnowledgeBase string    `json:"knowledge_base"`
	Sink          string    `json:"sink"`
	Reachable     bool      `json:"reachable"`
	Units         *int      `json:"units"`
	TrackingFile  string    `json:"tracking_file"`
	Tracked       int       `json:"tracked"`
	Candidates    int       `json:"candidates"`
	New           int       `json:"new"`
	Changed       int       `json:"changed"`
	Unchanged     int       `json:"unchanged"`
	Unreadable    int       `json:"unreadable"`
	Pending       []string  `json:"pending"`
	Stale         []string  `json:"stale"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// statusSink is the read-only part of the knowledge base status needs.
type statusSink interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// runStatus executes the 'status' CLI command.
//
// It reports whether MindsDB answers, how many units the knowledge base
// holds, and what the next 'kbsync ingest' would do. Nothing is written.
//
// Examples:
//
//	kbsync status           Display formatted status
//	kbsync status --json    Output as JSON for programmatic use
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var opts ingestOptions
	opts.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbsync status [options]

Description:
  Show knowledge base health and pending changes without ingesting.

  Reports whether MindsDB is reachable, the number of units (chunks) in
  the knowledge base, and for every document whether the next ingest
  would submit it (new, changed) or skip it (unchanged). Tracked paths
  whose files no longer exist are listed as stale.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Show human-readable status
  kbsync status

  # Output as JSON for programmatic use
  kbsync --json status

  # List documents the next run would submit
  kbsync --json status | jq -r '.pending[]'

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if err := enterProjectRoot(cfg); err != nil {
		errors.FatalError(err, globals.JSON)
	}

	logger := newLogger(globals, opts.debug)
	ctx, cancel := signalContext(logger)
	defer cancel()

	kb := newKnowledgeBase(cfg, newClient(cfg, logger))
	result, err := collectStatus(ctx, cfg, kb, logger)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if globals.JSON {
		outputStatusJSON(os.Stdout, result)
	} else {
		printStatus(result)
	}
}

// collectStatus gathers sink health and the ingestion plan. An unreachable
// sink is reported in the result, not returned as an error; a corrupt
// tracking file is an error.
func collectStatus(ctx context.Context, cfg *Config, sink statusSink, logger *slog.Logger) (*StatusResult, error) {
	result := &StatusResult{
		KnowledgeBase: cfg.Sink.KnowledgeBase,
		Sink:          sinkAddress(cfg),
		TrackingFile:  cfg.Tracking.Path,
		Pending:       []string{},
		Stale:         []string{},
		Timestamp:     time.Now(),
	}

	if err := sink.Ping(ctx); err != nil {
		result.Error = fmt.Sprintf("MindsDB is not reachable: %v", err)
	} else {
		result.Reachable = true
		if n, err := sink.Count(ctx); err != nil {
			result.Error = fmt.Sprintf("Cannot count knowledge base units: %v", err)
		} else {
			result.Units = &n
		}
	}

	tracking, err := ingestion.NewTrackingStore(cfg.Tracking.Path).Load()
	if err != nil {
		return nil, runError(cfg, err)
	}
	result.Tracked = len(tracking)

	candidates, err := ingestion.Discover(cfg.Sources, logger)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot read document sources",
			err.Error(),
			"Check the directories listed under 'sources' in .kbsync/project.yaml",
			err,
		)
	}

	plan := ingestion.BuildPlan(candidates, tracking)
	result.Candidates = len(plan.Files)
	result.New = plan.Count(ingestion.ChangeNew)
	result.Changed = plan.Count(ingestion.ChangeModified)
	result.Unchanged = plan.Count(ingestion.ChangeUnchanged)
	result.Unreadable = plan.Count(ingestion.ChangeUnreadable)
	for _, f := range plan.Files {
		if f.Kind == ingestion.ChangeNew || f.Kind == ingestion.ChangeModified {
			result.Pending = append(result.Pending, f.Path)
		}
	}
	result.Stale = append(result.Stale, plan.Stale...)
	return result, nil
}

// outputStatusJSON writes the status result as formatted JSON.
func outputStatusJSON(w io.Writer, result *StatusResult) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}

// printStatus prints the status result as formatted text to stdout.
func printStatus(result *StatusResult) {
	ui.Header("Knowledge Base Status")
	fmt.Printf("%s  %s\n", ui.Label("Knowledge base:"), result.KnowledgeBase)
	fmt.Printf("%s            %s\n", ui.Label("MindsDB:"), ui.DimText(result.Sink))
	if result.Reachable {
		fmt.Printf("%s          %s\n", ui.Label("Reachable:"), ui.Green.Sprint("yes"))
	} else {
		fmt.Printf("%s          %s\n", ui.Label("Reachable:"), ui.Red.Sprint("no"))
	}
	if result.Units != nil {
		fmt.Printf("%s              %s\n", ui.Label("Units:"), ui.CountText(*result.Units))
	} else {
		fmt.Printf("%s              %s\n", ui.Label("Units:"), ui.DimText("unknown"))
	}
	fmt.Println()

	ui.SubHeader("Documents:")
	fmt.Printf("  Tracking file: %s\n", ui.DimText(result.TrackingFile))
	fmt.Printf("  Tracked:       %s\n", ui.CountText(result.Tracked))
	fmt.Printf("  Candidates:    %s\n", ui.CountText(result.Candidates))
	fmt.Printf("  New:           %s\n", ui.CountText(result.New))
	fmt.Printf("  Changed:       %s\n", ui.CountText(result.Changed))
	fmt.Printf("  Unchanged:     %s\n", ui.CountText(result.Unchanged))
	if result.Unreadable > 0 {
		fmt.Printf("  Unreadable:    %s\n", ui.Red.Sprint(result.Unreadable))
	}

	if len(result.Pending) > 0 {
		fmt.Println()
		ui.SubHeader("Pending:")
		for _, p := range result.Pending {
			fmt.Printf("  %s\n", p)
		}
	}
	if len(result.Stale) > 0 {
		fmt.Println()
		ui.SubHeader("Stale (tracked, file missing):")
		for _, p := range result.Stale {
			fmt.Printf("  %s\n", ui.DimText(p))
		}
	}

	if result.Error != "" {
		fmt.Println()
		ui.Warning(result.Error)
	}
}
