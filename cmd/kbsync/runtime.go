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
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/kbsync/internal/errors"
	"github.com/kraklabs/kbsync/internal/ui"
	"github.com/kraklabs/kbsync/pkg/ingestion"
	"github.com/kraklabs/kbsync/pkg/mindsdb"
)

// newLogger writes structured logs to stderr so stdout stays free for
// summaries and JSON. --debug or -vv enables debug, -v enables info, and the
// default only shows warnings.
func newLogger(globals GlobalFlags, debug bool) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case debug || globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose == 1:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("shutdown.signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// startMetricsServer exposes /metrics when addr is set.
func startMetricsServer(addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()
}

func newClient(cfg *Config, logger *slog.Logger) *mindsdb.Client {
	return mindsdb.NewClient(mindsdb.Config{
		Scheme:        cfg.Sink.Scheme,
		Host:          cfg.Sink.Host,
		Port:          cfg.Sink.Port,
		QueryTimeout:  cfg.Sink.QueryTimeout,
		StatusTimeout: cfg.Sink.StatusTimeout,
		Logger:        logger,
	})
}

func newKnowledgeBase(cfg *Config, client *mindsdb.Client) *mindsdb.KnowledgeBase {
	kb, err := mindsdb.NewKnowledgeBase(client, cfg.Sink.KnowledgeBase)
	if err != nil {
		// Validate already checked the name.
		errors.FatalError(errors.NewConfigError(
			"Invalid knowledge base name",
			err.Error(),
			"Set sink.knowledge_base to a plain SQL identifier",
			err,
		), false)
	}
	return kb
}

func newEngine(cfg *Config, sink ingestion.Sink, force, noLock bool, logger *slog.Logger) *ingestion.Engine {
	ec := ingestion.EngineConfig{
		Sources: cfg.Sources,
		Force:   force,
		LogDir:  stateDir(cfg),
	}
	if !noLock {
		ec.LockPath = lockPath(cfg)
	}
	return ingestion.NewEngine(ec, sink, ingestion.NewTrackingStore(cfg.Tracking.Path), logger)
}

// runError translates engine errors into user-facing errors. It returns nil
// for ErrAborted, which callers report separately.
func runError(cfg *Config, err error) error {
	switch {
	case err == nil, stderrors.Is(err, ingestion.ErrAborted):
		return nil
	case stderrors.Is(err, ingestion.ErrSinkUnreachable):
		return errors.NewNetworkError(
			"Cannot reach MindsDB",
			fmt.Sprintf("No answer from %s", sinkAddress(cfg)),
			"Start MindsDB (docker compose up -d) or set KBSYNC_HOST / KBSYNC_PORT",
			err,
		)
	case stderrors.Is(err, ingestion.ErrCorruptTracking):
		return errors.NewDatabaseError(
			"Tracking file is corrupt",
			fmt.Sprintf("%s is not a valid path-to-fingerprint mapping", cfg.Tracking.Path),
			"Fix the file by hand, or delete it to re-ingest every document",
			err,
		)
	case stderrors.Is(err, ingestion.ErrRunInProgress):
		return errors.NewInputError(
			"Another ingestion run is in progress",
			err.Error(),
			fmt.Sprintf("Wait for it to finish, or remove %s if no run is active", lockPath(cfg)),
		)
	default:
		return errors.NewDatabaseError(
			"Ingestion failed",
			"The run stopped before the tracking file was saved",
			"Check the error details above and re-run 'kbsync ingest'",
			err,
		)
	}
}

func sinkAddress(cfg *Config) string {
	scheme := cfg.Sink.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Sink.Host, cfg.Sink.Port)
}

// printSummary lists failed and warned documents, then the totals.
func printSummary(w io.Writer, s *ingestion.RunSummary) {
	printProblems(w, s)
	if s.Inconsistencies > 0 {
		fmt.Fprintf(w, "  %s %d document(s) had an unexpected unit count\n", warnMark(), s.Inconsistencies)
	}

	fmt.Fprintf(w, "\nIngested: %d  Skipped: %d  Failed: %d\n", s.Ingested, s.Skipped, s.Failed)
	fmt.Fprintf(w, "Units created: %d\n", s.UnitsCreated)
	if s.TotalUnitsKnown {
		fmt.Fprintf(w, "Knowledge base units: %d\n", s.TotalUnits)
	} else {
		fmt.Fprintf(w, "Knowledge base units: unknown\n")
	}
	fmt.Fprintf(w, "Tracked documents: %d\n", s.Tracked)
	fmt.Fprintf(w, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}

func printProblems(w io.Writer, s *ingestion.RunSummary) {
	for _, r := range s.Results {
		switch {
		case r.Outcome == ingestion.OutcomeFailed:
			fmt.Fprintf(w, "  %s %s: %v\n", failMark(), r.Path, r.Err)
		case r.Warning != "":
			fmt.Fprintf(w, "  %s %s: %s\n", warnMark(), r.Path, r.Warning)
		}
	}
}

func failMark() string { return ui.Red.Sprint("✗") }
func warnMark() string { return ui.Yellow.Sprint("!") }

// exitCode is 0 when every document was ingested or skipped.
func exitCode(s *ingestion.RunSummary) int {
	if s != nil && s.HasFailures() {
		return errors.ExitFailures
	}
	return errors.ExitOK
}
