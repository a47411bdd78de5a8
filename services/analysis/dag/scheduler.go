// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag runs domain pipelines against a request.
//
// The Scheduler orders a pipeline's stages topologically, binds each stage
// to the first request modality whose processor satisfies the stage's
// capability, threads completed dependency results into the stage context,
// and runs the stage under its deadline.
//
// Stage failures are recorded and the run continues; a downstream stage
// sees a gap in its dependencies instead of failing. WithFailFast switches
// to aborting on the first failure.
package dag

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/analysis/pipelines"
	"github.com/AleutianAI/mosaic/services/analysis/processors"
)

var (
	tracer = otel.Tracer("mosaic.dag")
	meter  = otel.Meter("mosaic.dag")
)

// DefaultStageTimeout applies to stages that declare no timeout.
const DefaultStageTimeout = 30 * time.Second

// Binder binds a capability to the first matching request modality.
// *processors.Registry implements it.
type Binder interface {
	Bind(capability string, items []datatypes.ModalityItem) (processors.Binding, bool)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultStageTimeout sets the timeout for stages without their own.
func WithDefaultStageTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.defaultStageTimeout = d
		}
	}
}

// WithFailFast aborts a run on the first stage failure. Stages not yet
// started are reported as not run and Run returns a *StageError.
func WithFailFast() Option {
	return func(s *Scheduler) {
		s.failFast = true
	}
}

// Scheduler executes pipelines.
//
// Thread Safety:
//
//	Scheduler is safe for concurrent use. Each Run keeps its own state.
type Scheduler struct {
	binder              Binder
	logger              *slog.Logger
	defaultStageTimeout time.Duration
	failFast            bool

	// Metrics (initialized lazily)
	metricsOnce     sync.Once
	stageLatency    metric.Float64Histogram
	stageOutcomes   metric.Int64Counter
	activeStages    metric.Int64UpDownCounter
	pipelineLatency metric.Float64Histogram
}

// NewScheduler creates a Scheduler that binds stages through binder.
func NewScheduler(binder Binder, opts ...Option) *Scheduler {
	s := &Scheduler{
		binder:              binder,
		logger:              slog.Default(),
		defaultStageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (s *Scheduler) initMetrics() {
	s.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		s.stageLatency, err = meter.Float64Histogram("mosaic_stage_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		s.stageOutcomes, err = meter.Int64Counter("mosaic_stage_outcomes_total",
			metric.WithDescription("Stage outcomes by status"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_outcomes: "+err.Error())
		}

		s.activeStages, err = meter.Int64UpDownCounter("mosaic_active_stages",
			metric.WithDescription("Number of currently executing stages"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_stages: "+err.Error())
		}

		s.pipelineLatency, err = meter.Float64Histogram("mosaic_pipeline_duration_seconds",
			metric.WithDescription("Total pipeline run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "pipeline_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			s.logger.Error("failed to initialize some scheduler metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes p for req and returns the produced results in completion
// order.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	p - The pipeline. It is validated before any stage runs.
//	req - The request supplying the modalities.
//	pctx - Request-level processor context; stage fields are filled per stage.
//
// Outputs:
//
//	[]datatypes.Result - Results of completed stages.
//	error - *datatypes.CycleDetectedError or an invalid pipeline error
//	        before any stage runs; *datatypes.TimeoutError when the
//	        pipeline timeout expires; ctx.Err() when ctx ends; *StageError
//	        in fail-fast mode. Stage failures are otherwise absorbed.
func (s *Scheduler) Run(ctx context.Context, p pipelines.Pipeline, req datatypes.Request,
	pctx processors.Context) ([]datatypes.Result, error) {

	report, err := s.RunWithReport(ctx, p, req, pctx)
	if report == nil {
		return nil, err
	}
	return report.Results, err
}

// RunWithReport is Run returning per-stage detail. The report is non-nil
// whenever validation passed, even if err is non-nil.
func (s *Scheduler) RunWithReport(ctx context.Context, p pipelines.Pipeline, req datatypes.Request,
	pctx processors.Context) (*RunReport, error) {

	if ctx == nil {
		return nil, ErrNilContext
	}
	// Structure and cycles are checked before anything executes.
	if err := p.Validate(); err != nil {
		return nil, err
	}
	order, err := p.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	s.initMetrics()

	sequential := !p.Parallel || req.EffectivePriority() == datatypes.PriorityCritical

	ctx, span := tracer.Start(ctx, "dag.Pipeline",
		trace.WithAttributes(
			attribute.String("dag.name", p.Name),
			attribute.Int("dag.stage_count", len(p.Stages)),
			attribute.Bool("dag.sequential", sequential),
			attribute.String("request.id", req.ID),
		),
	)
	defer span.End()

	runCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	run := &runState{
		report: &RunReport{
			RunID:    uuid.NewString()[:12],
			Pipeline: p.Name,
		},
		produced: make(map[string]datatypes.Result, len(order)),
		settled:  make(map[string]bool, len(order)),
	}
	start := time.Now()

	s.logger.Info("pipeline started",
		slog.String("pipeline", p.Name),
		slog.String("run_id", run.report.RunID),
		slog.String("request_id", req.ID),
		slog.Int("stages", len(order)),
		slog.Bool("sequential", sequential),
	)

	if sequential {
		err = s.runSequential(runCtx, order, req, pctx, run)
	} else {
		err = s.runWaves(runCtx, order, req, pctx, run)
	}

	// Stages that never started.
	for _, st := range order {
		if !run.settled[st.ID] {
			run.report.Stages = append(run.report.Stages, StageReport{StageID: st.ID, Status: StageNotRun})
		}
	}

	// A deadline that cost the run a stage fails the run, and reports the
	// tighter scope.
	settledOK := run.report.Count(StageCompleted) + run.report.Count(StageSkipped)
	if err == nil && runCtx.Err() != nil && settledOK < len(order) {
		err = runCtx.Err()
	}
	if err != nil && ctx.Err() == nil && runCtx.Err() == context.DeadlineExceeded {
		err = datatypes.NewTimeoutError("pipeline", p.Name, p.Timeout)
	}

	duration := time.Since(start)
	run.report.Duration = duration
	if s.pipelineLatency != nil {
		s.pipelineLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("pipeline", p.Name)),
		)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("pipeline aborted",
			slog.String("pipeline", p.Name),
			slog.String("run_id", run.report.RunID),
			slog.Int("completed", run.report.Count(StageCompleted)),
			slog.String("error", err.Error()),
		)
		return run.report, err
	}

	span.SetStatus(codes.Ok, "")
	s.logger.Info("pipeline completed",
		slog.String("pipeline", p.Name),
		slog.String("run_id", run.report.RunID),
		slog.Duration("duration", duration),
		slog.Int("completed", run.report.Count(StageCompleted)),
		slog.Int("failed", run.report.Count(StageFailed)),
		slog.Int("skipped", run.report.Count(StageSkipped)),
	)
	return run.report, nil
}

// runState is the mutable state of one run.
type runState struct {
	mu       sync.Mutex
	report   *RunReport
	produced map[string]datatypes.Result
	settled  map[string]bool
}

// dependencies returns the produced results of the stage's dependencies.
// Dependencies that failed, were skipped or have not run are absent.
func (r *runState) dependencies(st pipelines.Stage) map[string]datatypes.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	deps := make(map[string]datatypes.Result, len(st.DependsOn))
	for _, id := range st.DependsOn {
		if res, ok := r.produced[id]; ok {
			deps[id] = res
		}
	}
	return deps
}

func (r *runState) settle(sr StageReport, res *datatypes.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled[sr.StageID] = true
	r.report.Stages = append(r.report.Stages, sr)
	if res != nil {
		r.produced[sr.StageID] = *res
		r.report.Results = append(r.report.Results, *res)
	}
}

func (r *runState) isSettled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled[id]
}

// runSequential runs stages one at a time in topological order.
func (s *Scheduler) runSequential(ctx context.Context, order []pipelines.Stage, req datatypes.Request,
	pctx processors.Context, run *runState) error {

	for _, st := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runStage(ctx, st, req, pctx, run); err != nil && s.failFast {
			return err
		}
	}
	return nil
}

// runWaves runs every stage whose dependencies have settled concurrently,
// wave after wave. A stage never starts before all its dependencies have
// settled.
func (s *Scheduler) runWaves(ctx context.Context, order []pipelines.Stage, req datatypes.Request,
	pctx processors.Context, run *runState) error {

	pending := order
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ready, rest []pipelines.Stage
		for _, st := range pending {
			if allSettled(st.DependsOn, run) {
				ready = append(ready, st)
			} else {
				rest = append(rest, st)
			}
		}
		// Validated pipelines are acyclic, so a wave is never empty.
		if len(ready) == 0 {
			return errors.New("no stage ready to run")
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, st := range ready {
			g.Go(func() error {
				err := s.runStage(gctx, st, req, pctx, run)
				if s.failFast {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		pending = rest
	}
	return nil
}

func allSettled(ids []string, run *runState) bool {
	for _, id := range ids {
		if !run.isSettled(id) {
			return false
		}
	}
	return true
}

// runStage binds, executes and settles one stage. The returned error is
// the stage failure, wrapped in *StageError.
func (s *Scheduler) runStage(ctx context.Context, st pipelines.Stage, req datatypes.Request,
	pctx processors.Context, run *runState) error {

	binding, ok := s.binder.Bind(st.Capability, req.Modalities)
	if !ok {
		s.logger.Debug("stage skipped, no modality satisfies capability",
			slog.String("stage", st.ID),
			slog.String("capability", st.Capability),
		)
		s.recordOutcome(ctx, st.ID, StageSkipped)
		run.settle(StageReport{StageID: st.ID, Status: StageSkipped}, nil)
		return nil
	}

	ctx, span := tracer.Start(ctx, "dag.Stage."+st.ID,
		trace.WithAttributes(
			attribute.String("dag.stage", st.ID),
			attribute.String("dag.capability", st.Capability),
			attribute.StringSlice("dag.dependencies", st.DependsOn),
			attribute.String("dag.modality", string(binding.Item.Kind)),
		),
	)
	defer span.End()

	if s.activeStages != nil {
		s.activeStages.Add(ctx, 1)
		defer s.activeStages.Add(ctx, -1)
	}

	spctx := pctx
	spctx.Capability = st.Capability
	spctx.StageID = st.ID
	spctx.StageName = st.Name
	spctx.StageConfig = st.Config
	spctx.Dependencies = run.dependencies(st)

	timeout := st.Timeout
	if timeout <= 0 {
		timeout = s.defaultStageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := processors.SafeProcess(stageCtx, binding.Processor, req.ID, binding.Item, spctx)
	duration := time.Since(start)

	if s.stageLatency != nil {
		s.stageLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("stage", st.ID)),
		)
	}

	sr := StageReport{
		StageID:  st.ID,
		Modality: binding.Item.Kind,
		Started:  start,
		Duration: duration,
	}

	if err != nil {
		// Only the stage's own deadline is a stage timeout; an expired
		// parent is reported by the run.
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = datatypes.NewTimeoutError("stage", st.ID, timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordOutcome(ctx, st.ID, StageFailed)

		sr.Status = StageFailed
		sr.Err = err
		run.settle(sr, nil)

		s.logger.Warn("stage failed",
			slog.String("stage", st.ID),
			slog.String("request_id", req.ID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return &StageError{Stage: st.ID, Err: err}
	}

	res.StageID = st.ID
	span.SetStatus(codes.Ok, "")
	s.recordOutcome(ctx, st.ID, StageCompleted)
	sr.Status = StageCompleted
	run.settle(sr, &res)

	s.logger.Debug("stage completed",
		slog.String("stage", st.ID),
		slog.Duration("duration", duration),
	)
	return nil
}

func (s *Scheduler) recordOutcome(ctx context.Context, stage string, status StageStatus) {
	if s.stageOutcomes != nil {
		s.stageOutcomes.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("stage", stage),
				attribute.String("status", string(status)),
			),
		)
	}
}
