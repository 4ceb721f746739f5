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
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/internal/ui"
	"github.com/kraklabs/kbsync/pkg/ingestion"
	"github.com/kraklabs/kbsync/pkg/provision"
)

// runReset executes the 'reset' CLI command.
//
// It drops and recreates the agent, the knowledge base and its embedding
// model, then deletes the tracking file so the next ingest submits every
// document again. Missing objects are not an error, so reset can be run on
// an empty MindsDB.
func runReset(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")
	readyTimeout := fs.Duration("ready-timeout", 0, "How long to wait for each object to become ready (default from config, 2m)")
	host := fs.String("host", "", "MindsDB host (overrides config and KBSYNC_HOST)")
	port := fs.Int("port", 0, "MindsDB HTTP port (overrides config and KBSYNC_PORT)")
	keepTracking := fs.Bool("keep-tracking", false, "Do not delete the tracking file")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbsync reset [options]

Description:
  WARNING: This is a destructive operation that deletes every unit in the
  knowledge base.

  Runs these steps in order, stopping at the first failure:
  - DROP AGENT, DROP KNOWLEDGE_BASE, DROP MODEL (missing objects are fine)
  - CREATE MODEL for embeddings and wait until it is trained
  - CREATE KNOWLEDGE_BASE and wait until it answers
  - CREATE AGENT bound to the knowledge base and wait until it is listed
  - delete .ingested_files.json

  The provider key is read from OPENAI_API_KEY or a .env file in the
  project root. Run 'kbsync ingest' afterwards to repopulate.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Recreate everything
  kbsync reset --yes

  # Give slow embedding models more time
  kbsync reset --yes --ready-timeout 5m

Notes:
  Configuration (.kbsync/project.yaml) is not deleted.

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*confirm {
		errors.FatalError(errors.NewInputError(
			"Confirmation required",
			"The --yes flag is required to confirm this destructive operation",
			"Run 'kbsync reset --yes' to drop and recreate the knowledge base, model and agent",
		), globals.JSON)
	}

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
	if *readyTimeout > 0 {
		cfg.Provision.ReadyTimeout = *readyTimeout
	}
	if err := enterProjectRoot(cfg); err != nil {
		errors.FatalError(err, globals.JSON)
	}

	logger := newLogger(globals, *debug)
	ctx, cancel := signalContext(logger)
	defer cancel()

	var tracker provision.TrackingClearer
	if !*keepTracking {
		tracker = ingestion.NewTrackingStore(cfg.Tracking.Path)
	}

	orch := provision.New(newClient(cfg, logger), provisionConfig(cfg), tracker, logger)
	if !globals.Quiet {
		ui.Infof("Resetting %s at %s", cfg.Sink.KnowledgeBase, sinkAddress(cfg))
		orch.SetStepCallback(func(r provision.StepResult) {
			printStep(ui.Out, r)
		})
	}

	report, err := resetLocked(ctx, cfg, orch)
	if err == nil {
		ingestion.AppendIngestLog(stateDir(cfg), "reset completed")
	}

	if globals.JSON {
		outputResetJSON(os.Stdout, report, err)
		if err != nil {
			os.Exit(errors.AsUserError(resetError(cfg, err)).ExitCode())
		}
		return
	}
	if err != nil {
		errors.FatalError(resetError(cfg, err), false)
	}

	fmt.Println()
	ui.Success("Reset complete")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  kbsync ingest    Repopulate the knowledge base")
}

func provisionConfig(cfg *Config) provision.Config {
	p := cfg.Provision
	return provision.Config{
		Project:            cfg.Sink.Project,
		KnowledgeBase:      cfg.Sink.KnowledgeBase,
		Agent:              p.Agent,
		EmbeddingModel:     p.EmbeddingModel,
		EmbeddingEngine:    p.EmbeddingEngine,
		EmbeddingModelName: p.EmbeddingModelName,
		AgentModel:         p.AgentModel,
		AgentProvider:      p.AgentProvider,
		PromptTemplate:     p.PromptTemplate,
		APIKey:             p.APIKey,
		PollInterval:       p.PollInterval,
		ReadyTimeout:       p.ReadyTimeout,
	}
}

func printStep(w io.Writer, r provision.StepResult) {
	d := ui.DimText(r.Duration.Round(time.Millisecond).String())
	switch r.Status {
	case provision.StatusDone:
		_, _ = fmt.Fprintf(w, "  %s %-24s %s\n", ui.Green.Sprint("✓"), r.Name, d)
	case provision.StatusAbsent:
		_, _ = fmt.Fprintf(w, "  %s %-24s %s\n", ui.Dim.Sprint("-"), r.Name, ui.DimText("not present"))
	case provision.StatusFailed:
		_, _ = fmt.Fprintf(w, "  %s %-24s %v\n", failMark(), r.Name, r.Err)
	case provision.StatusSkipped:
		_, _ = fmt.Fprintf(w, "  %s %-24s %s\n", ui.Dim.Sprint("·"), r.Name, ui.DimText("skipped"))
	}
}

// resetLocked runs orch while holding the ingestion run lock, so a reset and
// an ingest never overlap.
func resetLocked(ctx context.Context, cfg *Config, orch *provision.Orchestrator) (*provision.Report, error) {
	lock, err := ingestion.AcquireRunLock(lockPath(cfg))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()
	return orch.Run(ctx)
}

func resetError(cfg *Config, err error) error {
	switch {
	case stderrors.Is(err, ingestion.ErrRunInProgress):
		return runError(cfg, err)
	case stderrors.Is(err, provision.ErrMissingAPIKey):
		return errors.NewConfigError(
			"Provider API key is missing",
			"OPENAI_API_KEY is not set",
			"Export OPENAI_API_KEY or add it to .env in the project root",
			err,
		)
	case stderrors.Is(err, provision.ErrNotReady):
		return errors.NewDatabaseError(
			"MindsDB object did not become ready",
			err.Error(),
			"Check the MindsDB logs, then re-run with a longer --ready-timeout",
			err,
		)
	default:
		return errors.NewDatabaseError(
			"Reset failed",
			err.Error(),
			"Fix the cause and re-run 'kbsync reset --yes'; completed steps are safe to repeat",
			err,
		)
	}
}

type resetStepJSON struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func outputResetJSON(w io.Writer, report *provision.Report, runErr error) {
	out := struct {
		OK    bool            `json:"ok"`
		Steps []resetStepJSON `json:"steps"`
		Error string          `json:"error,omitempty"`
	}{OK: runErr == nil, Steps: []resetStepJSON{}}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	if report != nil {
		for _, s := range report.Steps {
			step := resetStepJSON{
				Name:       s.Name,
				Status:     string(s.Status),
				DurationMS: s.Duration.Milliseconds(),
			}
			if s.Err != nil {
				step.Error = s.Err.Error()
			}
			out.Steps = append(out.Steps, step)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
