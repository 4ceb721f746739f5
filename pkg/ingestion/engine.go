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

// Package ingestion keeps a knowledge base in sync with local document
// directories. Each run hashes every candidate document, submits only new or
// changed ones, and records accepted fingerprints in a tracking file that is
// written once at the end of the run.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"
)

var (
	// ErrSinkUnreachable aborts a run before the tracking file is read.
	ErrSinkUnreachable = errors.New("knowledge base is unreachable")

	// ErrAborted is returned when the context is cancelled mid-run. The
	// tracking file is left exactly as it was before the run.
	ErrAborted = errors.New("ingestion aborted")
)

// Sink is the knowledge base a run writes to.
type Sink interface {
	// Ping is a cheap liveness probe.
	Ping(ctx context.Context) error
	// Submit inserts one document's full text.
	Submit(ctx context.Context, content string) error
	// Count returns the total number of stored units (chunks).
	Count(ctx context.Context) (int, error)
}

// StateStore persists the tracking mapping. *TrackingStore implements it.
type StateStore interface {
	Load() (Tracking, error)
	Save(Tracking) error
}

// Outcome is the per-document result of a run.
type Outcome string

const (
	OutcomeIngested Outcome = "ingested"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// ProgressCallback is called to report progress during a run.
// Parameters:
//   - current: documents processed so far
//   - total: number of candidate documents
//   - phase: "ingest"
type ProgressCallback func(current, total int64, phase string)

// ResultCallback receives each document's result as soon as it is known.
type ResultCallback func(FileResult)

// FileResult describes what happened to one document.
type FileResult struct {
	Path        string
	Source      string
	Outcome     Outcome
	Fingerprint Fingerprint

	// UnitsCreated is after-count minus before-count, never negative.
	UnitsCreated int

	// CountInconsistent is set when UnitsCreated could not be measured: the
	// count went backwards or one of the counts failed.
	CountInconsistent bool

	// Warning carries non-fatal findings such as design syntax errors.
	Warning string

	// Err is set for failed outcomes.
	Err      error
	Duration time.Duration
}

// RunSummary aggregates one run.
type RunSummary struct {
	Force bool

	Ingested int
	Skipped  int
	Failed   int

	UnitsCreated    int
	Inconsistencies int

	// TotalUnits is the knowledge base count after the run. TotalUnitsKnown
	// is false when that final count failed.
	TotalUnits      int
	TotalUnitsKnown bool

	// Tracked is the number of entries in the saved tracking file.
	Tracked int

	Results  []FileResult
	Duration time.Duration
}

// Candidates is the number of documents considered.
func (s *RunSummary) Candidates() int { return s.Ingested + s.Skipped + s.Failed }

// HasFailures reports whether any document failed. It drives the exit code.
func (s *RunSummary) HasFailures() bool { return s.Failed > 0 }

func (s *RunSummary) record(r FileResult) {
	switch r.Outcome {
	case OutcomeIngested:
		s.Ingested++
		s.UnitsCreated += r.UnitsCreated
		if r.CountInconsistent {
			s.Inconsistencies++
		}
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Sources are processed in order.
	Sources []Source

	// Force compares against an empty mapping so every document is
	// resubmitted. The tracking file is overwritten at the end of the run.
	Force bool

	// LockPath, when set, serializes runs through an exclusive lock file.
	LockPath string

	// LogDir receives ingest.log. Empty disables it.
	LogDir string

	// DisablePreflight skips the design syntax check.
	DisablePreflight bool
}

// Engine runs incremental ingestion. It is not safe for concurrent use.
type Engine struct {
	cfg       EngineConfig
	sink      Sink
	store     StateStore
	logger    *slog.Logger
	preflight *DesignPreflight

	onProgress ProgressCallback
	onResult   ResultCallback
}

// NewEngine creates an engine. The sink address and tracking location are
// carried by sink and store, so several engines can target different
// knowledge bases in one process.
func NewEngine(cfg EngineConfig, sink Sink, store StateStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	e := &Engine{
		cfg:    cfg,
		sink:   sink,
		store:  store,
		logger: logger,
	}
	if !cfg.DisablePreflight {
		e.preflight = NewDesignPreflight()
	}
	return e
}

// SetProgressCallback sets an optional progress callback.
func (e *Engine) SetProgressCallback(cb ProgressCallback) { e.onProgress = cb }

// SetResultCallback sets an optional per-document callback.
func (e *Engine) SetResultCallback(cb ResultCallback) { e.onResult = cb }

func (e *Engine) reportProgress(current, total int64, phase string) {
	if e.onProgress != nil {
		e.onProgress(current, total, phase)
	}
}

func (e *Engine) log(message string) {
	AppendIngestLog(e.cfg.LogDir, message)
}

// Run executes one ingestion pass:
//
//  1. probe the sink (fatal if unreachable)
//  2. load tracking, or start empty in force mode
//  3. discover candidates
//  4. per document: hash, skip if unchanged, else count, submit, count
//  5. save tracking once
//  6. read the final count for the summary
//
// Per-document errors never stop the run. Fatal errors are returned with a
// nil or partial summary; the tracking file is not written in that case.
func (e *Engine) Run(ctx context.Context) (summary *RunSummary, err error) {
	start := time.Now()
	summary = &RunSummary{Force: e.cfg.Force}

	defer func() {
		summary.Duration = time.Since(start)
		switch {
		case errors.Is(err, ErrAborted):
			runsTotal.WithLabelValues(runResultAborted).Inc()
		case err != nil:
			runsTotal.WithLabelValues(runResultFatal).Inc()
		case summary.HasFailures():
			runsTotal.WithLabelValues(runResultFailures).Inc()
		default:
			runsTotal.WithLabelValues(runResultOK).Inc()
		}
	}()

	if e.cfg.LockPath != "" {
		lock, err := AcquireRunLock(e.cfg.LockPath)
		if err != nil {
			return summary, err
		}
		defer func() {
			if rerr := lock.Release(); rerr != nil {
				e.logger.Warn("ingest.lock.release_failed", "path", e.cfg.LockPath, "err", rerr)
			}
		}()
	}

	e.logger.Info("ingest.start", "force", e.cfg.Force, "sources", len(e.cfg.Sources))

	// Step 1: the sink must be reachable before any state is touched.
	if err := e.sink.Ping(ctx); err != nil {
		e.logger.Error("ingest.sink.unreachable", "err", err)
		return summary, fmt.Errorf("%w: %w", ErrSinkUnreachable, err)
	}

	// Step 2: tracking.
	var tracking Tracking
	if e.cfg.Force {
		tracking = Tracking{}
		e.logger.Info("ingest.tracking.force", "msg", "ignoring stored fingerprints")
	} else {
		tracking, err = e.store.Load()
		if err != nil {
			return summary, fmt.Errorf("load tracking: %w", err)
		}
	}
	e.logger.Info("ingest.tracking.loaded", "entries", len(tracking))

	// Step 3: discovery.
	candidates, err := Discover(e.cfg.Sources, e.logger)
	if err != nil {
		return summary, fmt.Errorf("discover documents: %w", err)
	}
	total := int64(len(candidates))
	e.logger.Info("ingest.discover.complete", "candidates", total)
	e.log(fmt.Sprintf("run started candidates=%d force=%t", total, e.cfg.Force))
	e.reportProgress(0, total, "ingest")

	// Step 4: per document, strictly sequential.
	for i, c := range candidates {
		if ctx.Err() != nil {
			return summary, e.abort(ctx, summary)
		}

		res := e.processFile(ctx, c, tracking)
		if res.Outcome == OutcomeFailed && ctx.Err() != nil {
			// The failure is the cancellation itself, not the document.
			return summary, e.abort(ctx, summary)
		}

		summary.record(res)
		e.observe(res)
		if e.onResult != nil {
			e.onResult(res)
		}
		e.reportProgress(int64(i+1), total, "ingest")
	}

	// Step 5: persist once.
	if err := e.store.Save(tracking); err != nil {
		return summary, fmt.Errorf("save tracking: %w", err)
	}
	summary.Tracked = len(tracking)

	// Step 6: final count is informational only.
	if n, cerr := e.sink.Count(ctx); cerr != nil {
		e.logger.Warn("ingest.count.final_failed", "err", cerr)
	} else {
		summary.TotalUnits = n
		summary.TotalUnitsKnown = true
		knowledgeBaseUnits.Set(float64(n))
	}

	e.logger.Info("ingest.complete",
		"ingested", summary.Ingested,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"units_created", summary.UnitsCreated,
		"inconsistencies", summary.Inconsistencies,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	e.log(fmt.Sprintf("run completed ingested=%d skipped=%d failed=%d units=%d",
		summary.Ingested, summary.Skipped, summary.Failed, summary.UnitsCreated))

	return summary, nil
}

func (e *Engine) abort(ctx context.Context, summary *RunSummary) error {
	e.logger.Warn("ingest.aborted",
		"processed", summary.Candidates(),
		"ingested_unsaved", summary.Ingested,
	)
	e.log(fmt.Sprintf("run aborted processed=%d ingested_unsaved=%d", summary.Candidates(), summary.Ingested))
	return fmt.Errorf("%w: %w", ErrAborted, context.Cause(ctx))
}

// processFile produces exactly one result for c and updates tracking only on
// a successful submit.
func (e *Engine) processFile(ctx context.Context, c CandidateFile, tracking Tracking) FileResult {
	start := time.Now()
	res := FileResult{Path: c.Path, Source: c.Source}
	fail := func(err error) FileResult {
		res.Outcome = OutcomeFailed
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	content, err := os.ReadFile(c.Path) //nolint:gosec // G304: path from discovery
	if err != nil {
		return fail(fmt.Errorf("read document: %w", err))
	}
	res.Fingerprint = ComputeFingerprint(content)

	if stored, ok := tracking[c.Path]; ok && stored == res.Fingerprint {
		res.Outcome = OutcomeSkipped
		res.Duration = time.Since(start)
		return res
	}

	if !utf8.Valid(content) {
		return fail(errors.New("document is not valid UTF-8 text"))
	}

	if e.preflight != nil && e.preflight.Applies(c.Path) {
		warning, perr := e.preflight.Check(ctx, content)
		if perr != nil {
			e.logger.Debug("ingest.preflight.error", "path", c.Path, "err", perr)
		}
		res.Warning = warning
	}

	before, beforeErr := e.sink.Count(ctx)

	submitStart := time.Now()
	if err := e.sink.Submit(ctx, string(content)); err != nil {
		return fail(fmt.Errorf("submit: %w", err))
	}
	submitDuration.Observe(time.Since(submitStart).Seconds())

	after, afterErr := e.sink.Count(ctx)

	switch {
	case beforeErr != nil || afterErr != nil:
		res.CountInconsistent = true
		e.logger.Warn("ingest.count.unavailable",
			"path", c.Path,
			"before_err", beforeErr,
			"after_err", afterErr,
		)
	case after < before:
		res.CountInconsistent = true
		e.logger.Warn("ingest.count.decreased",
			"path", c.Path,
			"before", before,
			"after", after,
		)
	default:
		res.UnitsCreated = after - before
	}

	tracking[c.Path] = res.Fingerprint
	res.Outcome = OutcomeIngested
	res.Duration = time.Since(start)
	return res
}

// observe logs, records metrics and appends ingest.log for one result.
func (e *Engine) observe(r FileResult) {
	filesProcessed.WithLabelValues(string(r.Outcome)).Inc()

	switch r.Outcome {
	case OutcomeIngested:
		unitsCreated.Add(float64(r.UnitsCreated))
		if r.CountInconsistent {
			countInconsistencies.Inc()
		}
		e.logger.Info("ingest.file.ingested",
			"path", r.Path,
			"units", r.UnitsCreated,
			"count_inconsistent", r.CountInconsistent,
			"duration_ms", r.Duration.Milliseconds(),
		)
		e.log(fmt.Sprintf("ingested %s units=%d", r.Path, r.UnitsCreated))
	case OutcomeSkipped:
		e.logger.Debug("ingest.file.skipped", "path", r.Path)
		e.log(fmt.Sprintf("skipped %s", r.Path))
	case OutcomeFailed:
		e.logger.Warn("ingest.file.failed", "path", r.Path, "err", r.Err)
		e.log(fmt.Sprintf("failed %s: %v", r.Path, r.Err))
	}

	if r.Warning != "" {
		e.logger.Warn("ingest.preflight.warning", "path", r.Path, "warning", r.Warning)
		e.log(fmt.Sprintf("warning %s: %s", r.Path, r.Warning))
	}
}
