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
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/internal/ui"
	"github.com/kraklabs/kbsync/pkg/ingestion"
)

const defaultWatchDebounce = 2 * time.Second

// runWatch executes the 'watch' CLI command. It runs one ingest at start,
// then another after each quiet period following a change in a source
// directory, until interrupted. Runs never overlap.
func runWatch(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var opts ingestOptions
	opts.register(fs)
	debounce := fs.Duration("debounce", defaultWatchDebounce, "Quiet period after the last change before ingesting")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: kbsync watch [options]

Description:
  Watch the document directories and ingest new and changed files as
  they appear. Changes are batched: a run starts once no file has changed
  for the debounce period. Press Ctrl+C to stop; an interrupted run leaves
  the tracking file unchanged.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Watch with defaults
  kbsync watch

  # Batch editor saves more aggressively
  kbsync watch --debounce 10s

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
	startMetricsServer(opts.metricsAddr, logger)

	ctx, cancel := signalContext(logger)
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot start file watcher",
			"fsnotify could not be initialized",
			"Check the inotify limits (fs.inotify.max_user_instances)",
			err,
		), globals.JSON)
	}
	defer func() { _ = watcher.Close() }()

	watched := watchSources(watcher, cfg.Sources, logger)
	if watched == 0 {
		errors.FatalError(errors.NewConfigError(
			"Nothing to watch",
			"None of the configured source directories exist",
			"Create the directories or fix 'sources' in .kbsync/project.yaml",
			nil,
		), globals.JSON)
	}

	kb := newKnowledgeBase(cfg, newClient(cfg, logger))
	run := func(reason string) {
		engine := newEngine(cfg, kb, false, opts.noLock, logger)
		summary, err := ingestOnce(ctx, engine, globals, logger)
		if stderrors.Is(err, ingestion.ErrAborted) {
			return
		}
		if ue := runError(cfg, err); ue != nil {
			// Keep watching: MindsDB may come back, the lock may be released.
			ui.Failuref("%s: %v", reason, errors.AsUserError(ue).Title)
			logger.Warn("watch.run.failed", "reason", reason, "err", err)
			return
		}
		if !globals.Quiet {
			ui.Infof("%s: ingested %d, skipped %d, failed %d, units %d",
				reason, summary.Ingested, summary.Skipped, summary.Failed, summary.UnitsCreated)
			printProblems(os.Stdout, summary)
		}
	}

	if !globals.Quiet {
		ui.Infof("Watching %d director%s (debounce %s). Press Ctrl+C to stop.", watched, plural(watched, "y", "ies"), *debounce)
	}
	run("initial sync")

	watchLoop(ctx, watcher, *debounce, cfg.Sources, logger, func(events int) {
		ingestion.AppendIngestLog(stateDir(cfg), fmt.Sprintf("ingest triggered (watch) events=%d", events))
		run(fmt.Sprintf("%d change(s)", events))
	})

	if !globals.Quiet {
		ui.Info("Stopped watching")
	}
}

// watchSources adds every existing source directory and returns how many
// were added. Missing directories are logged and skipped.
func watchSources(w *fsnotify.Watcher, sources []ingestion.Source, logger *slog.Logger) int {
	seen := map[string]bool{}
	n := 0
	for _, s := range sources {
		dir := filepath.Clean(s.Dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := w.Add(dir); err != nil {
			logger.Warn("watch.add.failed", "dir", dir, "err", err)
			continue
		}
		logger.Info("watch.add", "dir", dir)
		n++
	}
	return n
}

// watchLoop calls trigger once events have been quiet for debounce. It
// returns when ctx is done or the watcher closes. trigger runs on this
// goroutine, so events that arrive during a run are coalesced into the next.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration, sources []ingestion.Source, logger *slog.Logger, trigger func(events int)) {
	var debounceTimer *time.Timer
	var timerCh <-chan time.Time // nil while idle
	pending := 0

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !relevantEvent(event, sources) {
				continue
			}
			pending++
			logger.Debug("watch.event", "path", event.Name, "op", event.Op.String())
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(debounce)
			timerCh = debounceTimer.C
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watch.error", "err", err)
		case <-timerCh:
			timerCh = nil
			events := pending
			pending = 0
			logger.Info("watch.debounce.fired", "events", events)
			trigger(events)
		}
	}
}

// relevantEvent filters out chmod-only events and files no source would
// pick up, such as editor swap files.
func relevantEvent(ev fsnotify.Event, sources []ingestion.Source) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	dir := filepath.Clean(filepath.Dir(ev.Name))
	for _, s := range sources {
		if filepath.Clean(s.Dir) == dir && s.Matches(base) {
			return true
		}
	}
	return false
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
