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

// Package provision tears down and recreates the MindsDB objects behind the
// knowledge base (agent, knowledge base, embedding model) and clears the
// local tracking file so the next ingestion starts from scratch.
//
// Teardown is idempotent: dropping an object that does not exist counts as
// success. Any other failure stops the remaining steps.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kraklabs/kbsync/pkg/mindsdb"
)

// Querier runs one SQL statement. *mindsdb.Client implements it.
type Querier interface {
	Query(ctx context.Context, sql string) (*mindsdb.QueryResult, error)
}

// TrackingClearer deletes the local tracking file.
// *ingestion.TrackingStore implements it.
type TrackingClearer interface {
	Clear() (bool, error)
}

// ErrMissingAPIKey is returned before any step runs when no provider key is set.
var ErrMissingAPIKey = errors.New("provider API key is not set")

// Defaults for a fresh deployment.
const (
	DefaultProject            = "mindsdb"
	DefaultAgent              = "tidal"
	DefaultEmbeddingEngine    = "openai"
	DefaultEmbeddingModelName = "text-embedding-3-large"
	DefaultAgentModel         = "gpt-4o"
	DefaultAgentProvider      = "openai"
	DefaultPollInterval       = 2 * time.Second
	DefaultReadyTimeout       = 2 * time.Minute
)

// Config names the objects to recreate and how.
type Config struct {
	Project       string
	KnowledgeBase string
	Agent         string

	// EmbeddingModel is the MindsDB model object. MindsDB looks for
	// kb_embedding_<knowledge base> by default.
	EmbeddingModel     string
	EmbeddingEngine    string
	EmbeddingModelName string

	AgentModel     string
	AgentProvider  string
	PromptTemplate string

	APIKey string

	PollInterval time.Duration
	ReadyTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Project == "" {
		c.Project = DefaultProject
	}
	if c.KnowledgeBase == "" {
		c.KnowledgeBase = mindsdb.DefaultKnowledgeBase
	}
	if c.Agent == "" {
		c.Agent = DefaultAgent
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "kb_embedding_" + c.KnowledgeBase
	}
	if c.EmbeddingEngine == "" {
		c.EmbeddingEngine = DefaultEmbeddingEngine
	}
	if c.EmbeddingModelName == "" {
		c.EmbeddingModelName = DefaultEmbeddingModelName
	}
	if c.AgentModel == "" {
		c.AgentModel = DefaultAgentModel
	}
	if c.AgentProvider == "" {
		c.AgentProvider = DefaultAgentProvider
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = DefaultPromptTemplate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
}

// Validate checks the key and every identifier that is interpolated unquoted.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	for label, name := range map[string]string{
		"project":         c.Project,
		"knowledge base":  c.KnowledgeBase,
		"agent":           c.Agent,
		"embedding model": c.EmbeddingModel,
	} {
		if err := mindsdb.ValidateIdentifier(name); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
	}
	return nil
}

// Step names, in execution order.
const (
	StepDropAgent            = "drop_agent"
	StepDropKnowledgeBase    = "drop_knowledge_base"
	StepDropEmbeddingModel   = "drop_embedding_model"
	StepCreateEmbeddingModel = "create_embedding_model"
	StepCreateKnowledgeBase  = "create_knowledge_base"
	StepCreateAgent          = "create_agent"
	StepClearTracking        = "clear_tracking"
)

// StepStatus is the result of one step.
type StepStatus string

const (
	// StatusDone means the step changed something.
	StatusDone StepStatus = "done"
	// StatusAbsent means there was nothing to drop or clear.
	StatusAbsent  StepStatus = "absent"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
)

// StepResult records one step.
type StepResult struct {
	Name     string
	Status   StepStatus
	Err      error
	Duration time.Duration
}

// Succeeded reports done or absent.
func (r StepResult) Succeeded() bool {
	return r.Status == StatusDone || r.Status == StatusAbsent
}

// Report lists every step, including those skipped after a failure.
type Report struct {
	Steps    []StepResult
	Duration time.Duration
}

// Failed returns the failed step, or nil.
func (r *Report) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StatusFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// Step returns the named step result, or nil.
func (r *Report) Step(name string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}

// StepCallback is called after each step finishes or is skipped.
type StepCallback func(StepResult)

type step struct {
	name string
	run  func(ctx context.Context) (StepStatus, error)
}

// Orchestrator runs the reset workflow.
type Orchestrator struct {
	q       Querier
	cfg     Config
	tracker TrackingClearer
	logger  *slog.Logger
	onStep  StepCallback
}

// New creates an orchestrator. tracker may be nil when there is no local state.
func New(q Querier, cfg Config, tracker TrackingClearer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Orchestrator{q: q, cfg: cfg, tracker: tracker, logger: logger}
}

// Config returns the effective configuration with defaults applied.
func (o *Orchestrator) Config() Config { return o.cfg }

// SetStepCallback sets an optional per-step callback.
func (o *Orchestrator) SetStepCallback(cb StepCallback) { o.onStep = cb }

// StepNames lists the steps in execution order.
func StepNames() []string {
	return []string{
		StepDropAgent,
		StepDropKnowledgeBase,
		StepDropEmbeddingModel,
		StepCreateEmbeddingModel,
		StepCreateKnowledgeBase,
		StepCreateAgent,
		StepClearTracking,
	}
}

func (o *Orchestrator) steps() []step {
	return []step{
		{StepDropAgent, func(ctx context.Context) (StepStatus, error) {
			return o.drop(ctx, dropAgentSQL(o.cfg))
		}},
		{StepDropKnowledgeBase, func(ctx context.Context) (StepStatus, error) {
			return o.drop(ctx, dropKnowledgeBaseSQL(o.cfg))
		}},
		{StepDropEmbeddingModel, func(ctx context.Context) (StepStatus, error) {
			return o.drop(ctx, dropModelSQL(o.cfg))
		}},
		{StepCreateEmbeddingModel, o.createEmbeddingModel},
		{StepCreateKnowledgeBase, o.createKnowledgeBase},
		{StepCreateAgent, o.createAgent},
		{StepClearTracking, o.clearTracking},
	}
}

// Run executes every step in order. On failure the remaining steps are
// reported as skipped and the returned error names the failed step; the
// sink may be left half-provisioned.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	if err := o.cfg.Validate(); err != nil {
		return report, err
	}

	o.logger.Info("provision.start",
		"project", o.cfg.Project,
		"knowledge_base", o.cfg.KnowledgeBase,
		"agent", o.cfg.Agent,
		"model", o.cfg.EmbeddingModel,
	)

	var runErr error
	for _, s := range o.steps() {
		if runErr != nil {
			o.record(report, StepResult{Name: s.name, Status: StatusSkipped})
			continue
		}

		stepStart := time.Now()
		o.logger.Info("provision.step.start", "step", s.name)
		status, err := s.run(ctx)
		res := StepResult{Name: s.name, Status: status, Err: err, Duration: time.Since(stepStart)}
		if err != nil {
			res.Status = StatusFailed
			runErr = fmt.Errorf("%s: %w", s.name, err)
			o.logger.Error("provision.step.failed", "step", s.name, "err", err)
		} else {
			o.logger.Info("provision.step.done",
				"step", s.name,
				"status", status,
				"duration_ms", res.Duration.Milliseconds(),
			)
		}
		o.record(report, res)
	}

	report.Duration = time.Since(start)
	if runErr != nil {
		return report, runErr
	}
	o.logger.Info("provision.complete", "duration_ms", report.Duration.Milliseconds())
	return report, nil
}

func (o *Orchestrator) record(report *Report, res StepResult) {
	report.Steps = append(report.Steps, res)
	if o.onStep != nil {
		o.onStep(res)
	}
}

// drop treats "does not exist" as success.
func (o *Orchestrator) drop(ctx context.Context, sql string) (StepStatus, error) {
	if _, err := o.q.Query(ctx, sql); err != nil {
		if mindsdb.IsNotFound(err) {
			return StatusAbsent, nil
		}
		return StatusFailed, err
	}
	return StatusDone, nil
}

func (o *Orchestrator) createEmbeddingModel(ctx context.Context) (StepStatus, error) {
	if _, err := o.q.Query(ctx, createModelSQL(o.cfg)); err != nil {
		return StatusFailed, err
	}
	err := o.waitReady(ctx, "model", func(ctx context.Context) (bool, error) {
		res, err := o.q.Query(ctx, modelStatusSQL(o.cfg))
		if err != nil {
			return false, err
		}
		return modelReady(res)
	})
	if err != nil {
		return StatusFailed, err
	}
	return StatusDone, nil
}

func (o *Orchestrator) createKnowledgeBase(ctx context.Context) (StepStatus, error) {
	if _, err := o.q.Query(ctx, createKnowledgeBaseSQL(o.cfg)); err != nil {
		return StatusFailed, err
	}
	err := o.waitReady(ctx, "knowledge base", func(ctx context.Context) (bool, error) {
		if _, err := o.q.Query(ctx, knowledgeBaseProbeSQL(o.cfg)); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return StatusFailed, err
	}
	return StatusDone, nil
}

func (o *Orchestrator) createAgent(ctx context.Context) (StepStatus, error) {
	if _, err := o.q.Query(ctx, createAgentSQL(o.cfg)); err != nil {
		return StatusFailed, err
	}
	err := o.waitReady(ctx, "agent", func(ctx context.Context) (bool, error) {
		res, err := o.q.Query(ctx, agentProbeSQL(o.cfg))
		if err != nil {
			return false, err
		}
		return len(res.Data) > 0, nil
	})
	if err != nil {
		return StatusFailed, err
	}
	return StatusDone, nil
}

func (o *Orchestrator) clearTracking(context.Context) (StepStatus, error) {
	if o.tracker == nil {
		return StatusAbsent, nil
	}
	existed, err := o.tracker.Clear()
	if err != nil {
		return StatusFailed, err
	}
	if !existed {
		return StatusAbsent, nil
	}
	return StatusDone, nil
}
