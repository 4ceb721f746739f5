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
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/internal/ui"
	"github.com/kraklabs/kbsync/pkg/ingestion"
)

// ingestOptions are the per-command overrides shared by ingest and watch.
type ingestOptions struct {
	host        string
	port        int
	prdsDir     string
	designsDir  string
	force       bool
	noLock      bool
	debug       bool
	metricsAddr string
}

func (o *ingestOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.host, "host", "", "MindsDB host (overrides config and KBSYNC_HOST)")
	fs.IntVar(&o.port, "port", 0, "MindsDB HTTP port (overrides config and KBSYNC_PORT)")
	fs.StringVar(&o.prdsDir, "prds-dir", "", "Directory of PRDs (.txt, .md)")
	fs.StringVar(&o.designsDir, "designs-dir", "", "Directory of design specs (.json)")
	fs.BoolVar(&o.noLock, "no-lock", false, "Do not take the run lock in the state directory")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
}

// apply folds the flags into cfg. Called before enterProjectRoot, so
// directory flags are still relative to the caller's working directory.
func (o *ingestOptions) apply(cfg *Config) {
	if o.host != "" {
		cfg.Sink.Host = o.host
	}
	if o.port != 0 {
		cfg.Sink.Port = o.port
	}
	if o.prdsDir != "" {
		cfg.Sources = overrideSourceDir(cfg.Sources, "prds", rootRelative(cfg.root, o.prdsDir))
	}
	if o.designsDir != "" {
		cfg.Sources = overrideSourceDir(cfg.Sources, "designs", rootRelative(cfg.root, o.designsDir))
	}
}

// overrideSourceDir replaces the directory of the named source, keeping its
// extensions. An unknown name is appended with the default extensions for
// that name so a trimmed config still honours the flag.
func overrideSourceDir(sources []ingestion.Source, name, dir string) []ingestion.Source {
	out := make([]ingestion.Source, 0, len(sources)+1)
	found := false
	for _, s := range sources {
		if s.Name == name {
			s.Dir = dir
			found = true
		}
		out = append(out, s)
	}
	if found {
		return out
	}
	for _, s := range ingestion.DefaultSources() {
		if s.Name == name {
			s.Dir = dir
			out = append(out, s)
		}
	}
	return out
}

// runIngest executes the 'ingest' CLI command.
//
// It submits every new or changed document to the knowledge base and records
// the accepted fingerprints in the tracking file. Documents that fail are
// reported and retried on the next run.
//
// Flags:
//   - --force: Re-submit every document, ignoring the tracking file
//   - --host, --port: MindsDB address overrides
//   - --prds-dir, --designs-dir: Source directory overrides
//   - --no-lock: Skip the run lock
//   - --debug: Enable debug logging
//   - --metrics-addr: HTTP address for Prometheus metrics
//
// Exit status is 1 when any document failed.
func runIngest(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	var opts ingestOptions
	fs.BoolVar(&opts.force, "force", false, "Re-submit every document, ignoring the tracking file")
	opts.register(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbsync ingest [options]

Description:
  Submit new and changed documents to the MindsDB knowledge base.

  Each document is fingerprinted (MD5 of its bytes) and compared with
  .ingested_files.json. Unchanged documents are skipped. A document whose
  submission fails is not recorded and is retried on the next run.

  Design specs (.json) are syntax-checked before submission; problems are
  reported as warnings and the document is still submitted.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Ingest new and changed documents
  kbsync ingest

  # Re-submit everything (duplicates content already in the knowledge base)
  kbsync ingest --force

  # Use another MindsDB instance and document folder
  kbsync ingest --host mindsdb.internal --prds-dir ~/docs/prds

  # Enable debug logging and expose metrics
  kbsync ingest --debug --metrics-addr :9090

Exit status:
  0  every document was ingested or skipped
  1  at least one document failed, or the run was interrupted

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		errors.FatalError(errors.NewInputError(
			"Unexpected arguments",
			fmt.Sprintf("ingest takes no positional arguments, got %v", fs.Args()),
			"Use --prds-dir / --designs-dir to choose directories",
		), globals.JSON)
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
	startMetricsServer(opts.metricsAddr, logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	kb := newKnowledgeBase(cfg, newClient(cfg, logger))
	engine := newEngine(cfg, kb, opts.force, opts.noLock, logger)

	if !globals.Quiet {
		ui.Infof("Ingesting into %s at %s", kb.Name(), sinkAddress(cfg))
		if opts.force {
			ui.Warning("Force mode: every document is re-submitted")
		}
	}

	summary, err := ingestOnce(ctx, engine, globals, logger)
	if ue := runError(cfg, err); ue != nil {
		errors.FatalError(ue, globals.JSON)
	}
	aborted := stderrors.Is(err, ingestion.ErrAborted)

	if globals.JSON {
		outputIngestJSON(os.Stdout, summary, aborted)
	} else {
		if aborted {
			ui.Warning("Interrupted: tracking file left unchanged")
		}
		printSummary(os.Stdout, summary)
	}

	if aborted {
		os.Exit(errors.ExitFailures)
	}
	os.Exit(exitCode(summary))
}

// ingestOnce runs the engine with a progress bar attached.
func ingestOnce(ctx context.Context, engine *ingestion.Engine, globals GlobalFlags, logger *slog.Logger) (*ingestion.RunSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	progressCfg := ui.NewProgressConfig(globals.Quiet)
	var currentBar *progressbar.ProgressBar
	var currentPhase string

	engine.SetProgressCallback(func(current, total int64, phase string) {
		if phase != currentPhase {
			if currentBar != nil {
				_ = currentBar.Finish()
			}
			currentPhase = phase
			currentBar = ui.NewProgressBar(progressCfg, total, phaseDescription(phase))
		}
		if currentBar != nil {
			_ = currentBar.Set64(current)
		}
	})
	engine.SetResultCallback(func(r ingestion.FileResult) {
		logger.Debug("ingest.file.done",
			"path", r.Path,
			"outcome", r.Outcome,
			"units", r.UnitsCreated,
			"duration", r.Duration,
		)
	})

	summary, err := engine.Run(ctx)

	if currentBar != nil {
		_ = currentBar.Finish()
	}
	return summary, err
}

// phaseDescription returns a human-readable description for each engine phase.
func phaseDescription(phase string) string {
	switch phase {
	case "ingest":
		return "Ingesting documents"
	default:
		return phase
	}
}

type ingestFileJSON struct {
	Path         string `json:"path"`
	Source       string `json:"source"`
	Outcome      string `json:"outcome"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	UnitsCreated int    `json:"units_created"`
	Inconsistent bool   `json:"count_inconsistent,omitempty"`
	Warning      string `json:"warning,omitempty"`
	Error        string `json:"error,omitempty"`
}

type ingestJSON struct {
	Aborted         bool             `json:"aborted"`
	Force           bool             `json:"force"`
	Ingested        int              `json:"ingested"`
	Skipped         int              `json:"skipped"`
	Failed          int              `json:"failed"`
	UnitsCreated    int              `json:"units_created"`
	Inconsistencies int              `json:"count_inconsistencies"`
	TotalUnits      *int             `json:"total_units"`
	Tracked         int              `json:"tracked"`
	DurationMS      int64            `json:"duration_ms"`
	Files           []ingestFileJSON `json:"files"`
}

func newIngestJSON(s *ingestion.RunSummary, aborted bool) ingestJSON {
	out := ingestJSON{Aborted: aborted, Files: []ingestFileJSON{}}
	if s == nil {
		return out
	}
	out.Force = s.Force
	out.Ingested = s.Ingested
	out.Skipped = s.Skipped
	out.Failed = s.Failed
	out.UnitsCreated = s.UnitsCreated
	out.Inconsistencies = s.Inconsistencies
	out.Tracked = s.Tracked
	out.DurationMS = s.Duration.Milliseconds()
	if s.TotalUnitsKnown {
		n := s.TotalUnits
		out.TotalUnits = &n
	}
	for _, r := range s.Results {
		f := ingestFileJSON{
			Path:         r.Path,
			Source:       r.Source,
			Outcome:      string(r.Outcome),
			Fingerprint:  string(r.Fingerprint),
			UnitsCreated: r.UnitsCreated,
			Inconsistent: r.CountInconsistent,
			Warning:      r.Warning,
		}
		if r.Err != nil {
			f.Error = r.Err.Error()
		}
		out.Files = append(out.Files, f)
	}
	return out
}

func outputIngestJSON(w io.Writer, s *ingestion.RunSummary, aborted bool) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newIngestJSON(s, aborted)); err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot encode JSON output",
			"Failed to marshal ingest summary",
			"This is a bug. Please report it",
			err,
		), false)
	}
}
