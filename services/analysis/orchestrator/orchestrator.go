// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator is the entry point of the analysis core.
//
// Process validates a request, fingerprints it, serves it from the result
// cache when possible, joins an identical computation already in flight,
// and otherwise runs the request's domain pipeline or processes its
// modalities directly. Only validation errors, pipeline cycles and an
// exceeded request or pipeline deadline fail a call; every other failure
// shortens the result list.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/mosaic/services/analysis/cache"
	"github.com/AleutianAI/mosaic/services/analysis/dag"
	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/analysis/fingerprint"
	"github.com/AleutianAI/mosaic/services/analysis/pipelines"
	"github.com/AleutianAI/mosaic/services/analysis/processors"
	"github.com/AleutianAI/mosaic/services/analysis/telemetry"
)

var tracer = otel.Tracer("mosaic.orchestrator")

// ErrNilContext is returned when Process is called with a nil context.
var ErrNilContext = errors.New("context must not be nil")

// Config holds orchestrator settings.
type Config struct {
	// FingerprintMode selects how payloads enter the fingerprint.
	FingerprintMode fingerprint.Mode

	// CacheTTL is the lifetime of cached result sets. 0 uses the store default.
	CacheTTL time.Duration

	// DefaultStageTimeout applies to pipeline stages without a timeout.
	DefaultStageTimeout time.Duration

	// MinAnalysisLength is the shortest analysis text the cache accepts.
	MinAnalysisLength int

	// FailFast aborts a pipeline on its first stage failure.
	FailFast bool
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		FingerprintMode:     fingerprint.ModeContentDigest,
		DefaultStageTimeout: dag.DefaultStageTimeout,
		MinAnalysisLength:   cache.DefaultMinAnalysisLength,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStore replaces the default in-memory result store.
func WithStore(store cache.Store) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithPolicy replaces the default cache policy.
func WithPolicy(policy *cache.Policy) Option {
	return func(o *Orchestrator) {
		if policy != nil {
			o.policy = policy
		}
	}
}

// WithConfig sets the orchestrator settings.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// Stats is a snapshot of orchestrator state.
type Stats struct {
	CacheSize      int                      `json:"cache_size"`
	ActiveInFlight int                      `json:"active_in_flight"`
	ProcessorKinds []datatypes.ModalityKind `json:"processor_kinds"`
	PipelineNames  []string                 `json:"pipeline_names"`
}

// Orchestrator routes requests to pipelines or processors.
//
// Thread Safety:
//
//	Orchestrator is safe for concurrent use. The result store and the
//	in-flight tracker are its only shared mutable state; both synchronize
//	internally. The registries are sealed by New.
type Orchestrator struct {
	processors *processors.Registry
	pipelines  *pipelines.Registry
	scheduler  *dag.Scheduler
	hasher     *fingerprint.Fingerprinter
	store      cache.Store
	inflight   *cache.InFlight
	policy     *cache.Policy
	logger     *slog.Logger
	cfg        Config
}

// New creates an Orchestrator and seals both registries.
//
// Description:
//
//	After New returns, no processor or pipeline can be registered. Pipeline
//	stages whose capability no registered processor supports are logged;
//	at run time those stages are skipped.
//
// Inputs:
//
//	procs - The processor registry. Must not be nil.
//	pipes - The pipeline registry. Must not be nil.
//	opts - Optional settings.
//
// Outputs:
//
//	*Orchestrator - Ready to serve.
//	error - Non-nil when a registry is missing or the cache policy cannot
//	        be built.
func New(procs *processors.Registry, pipes *pipelines.Registry, opts ...Option) (*Orchestrator, error) {
	if procs == nil {
		return nil, errors.New("processor registry must not be nil")
	}
	if pipes == nil {
		return nil, errors.New("pipeline registry must not be nil")
	}

	o := &Orchestrator{
		processors: procs,
		pipelines:  pipes,
		inflight:   cache.NewInFlight(),
		logger:     slog.Default(),
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.cfg.FingerprintMode == "" {
		o.cfg.FingerprintMode = fingerprint.ModeContentDigest
	}
	o.hasher = fingerprint.New(o.cfg.FingerprintMode)

	if o.store == nil {
		var memOpts []cache.MemoryOption
		if o.cfg.CacheTTL > 0 {
			memOpts = append(memOpts, cache.WithTTL(o.cfg.CacheTTL))
		}
		o.store = cache.NewMemoryStore(memOpts...)
	}
	if o.policy == nil {
		policy, err := cache.NewPolicy(o.cfg.MinAnalysisLength)
		if err != nil {
			return nil, fmt.Errorf("building cache policy: %w", err)
		}
		o.policy = policy
	}

	schedOpts := []dag.Option{
		dag.WithLogger(o.logger),
		dag.WithDefaultStageTimeout(o.cfg.DefaultStageTimeout),
	}
	if o.cfg.FailFast {
		schedOpts = append(schedOpts, dag.WithFailFast())
	}
	o.scheduler = dag.NewScheduler(procs, schedOpts...)

	procs.Seal()
	pipes.Seal()

	for _, p := range pipes.All() {
		for _, st := range p.Stages {
			if !procs.Supports(st.Capability) {
				o.logger.Warn("pipeline stage has no capable processor and will be skipped",
					slog.String("pipeline", p.Name),
					slog.String("stage", st.ID),
					slog.String("capability", st.Capability),
				)
			}
		}
	}

	o.logger.Info("orchestrator ready",
		slog.Any("processors", procs.Kinds()),
		slog.Any("pipelines", pipes.Names()),
		slog.String("fingerprint_mode", string(o.cfg.FingerprintMode)),
	)
	return o, nil
}

// Process analyzes req and returns its results.
//
// Description:
//
//	 1. Validates req.
//	 2. Computes its fingerprint.
//	 3. With caching enabled, returns a cached result set if one exists.
//	 4. Otherwise joins the computation already running for the same
//	    fingerprint, or starts one: the pipeline named by the request's
//	    domain when registered, else direct per-modality processing.
//	 5. Stores the results when caching is enabled and the cache policy
//	    accepts them.
//
//	Each caller waits at most its own MaxProcessingTime, whether it started
//	the computation or joined it. The computation itself is bounded by the
//	pipeline's timeout and is cancelled once no caller is waiting for it.
//
// Inputs:
//
//	ctx - Context for cancellation. Cancelling it ends this caller's wait
//	      only; a shared computation continues for other callers.
//	req - The request.
//
// Outputs:
//
//	[]datatypes.Result - Results, each carrying req.ID.
//	error - *datatypes.ValidationError, *datatypes.CycleDetectedError,
//	        *datatypes.TimeoutError, or ctx.Err().
func (o *Orchestrator) Process(ctx context.Context, req datatypes.Request) ([]datatypes.Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	start := time.Now()
	if err := req.Validate(); err != nil {
		recordRequest("rejected", "error", time.Since(start).Seconds())
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "orchestrator.Process",
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.Int("request.modalities", len(req.Modalities)),
			attribute.String("request.domain", req.Domain()),
			attribute.String("request.priority", string(req.EffectivePriority())),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, o.logger)

	fp := o.hasher.Fingerprint(req)
	span.SetAttributes(attribute.String("request.fingerprint", fp))

	if req.Caching() {
		cached, found, err := o.store.Get(ctx, fp)
		if err != nil {
			logger.Warn("cache lookup failed",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()),
			)
		}
		if found {
			span.SetAttributes(attribute.String("request.path", "cache"))
			logger.Debug("request served from cache",
				slog.String("request_id", req.ID),
				slog.String("fingerprint", fp),
			)
			recordRequest("cache", "ok", time.Since(start).Seconds())
			return o.finish(req, cached), nil
		}
	}

	pipeline, hasPipeline := o.selectPipeline(req)
	path := "direct"
	if hasPipeline {
		path = "pipeline"
	}

	timeout := req.Options.MaxProcessingTime
	results, joined, err := o.inflight.Do(ctx, fp, timeout, func(runCtx context.Context) ([]datatypes.Result, error) {
		return o.compute(runCtx, req, fp, pipeline, hasPipeline)
	})
	if joined {
		path = "inflight"
	}
	span.SetAttributes(attribute.String("request.path", path), attribute.Bool("request.joined", joined))

	if err != nil {
		err = o.mapError(ctx, req, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordRequest(path, "error", time.Since(start).Seconds())
		logger.Error("request failed",
			slog.String("request_id", req.ID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	recordRequest(path, "ok", time.Since(start).Seconds())
	logger.Info("request completed",
		slog.String("request_id", req.ID),
		slog.String("path", path),
		slog.Int("results", len(results)),
		slog.Int("modalities", len(req.Modalities)),
		slog.Duration("duration", time.Since(start)),
	)
	return o.finish(req, results), nil
}

// compute runs the request once for every caller sharing fp.
func (o *Orchestrator) compute(ctx context.Context, req datatypes.Request, fp string,
	pipeline pipelines.Pipeline, hasPipeline bool) ([]datatypes.Result, error) {

	pctx := processors.NewContext(req)

	var (
		results []datatypes.Result
		err     error
	)
	if hasPipeline {
		results, err = o.scheduler.Run(ctx, pipeline, req, pctx)
	} else {
		results, err = o.runDirect(ctx, req, pctx)
	}
	if err != nil {
		return nil, err
	}

	if req.Caching() {
		o.cacheResults(ctx, "request", fp, results)
	}
	return results, nil
}

// selectPipeline returns the pipeline registered for the request's domain.
func (o *Orchestrator) selectPipeline(req datatypes.Request) (pipelines.Pipeline, bool) {
	domain := req.Domain()
	if domain == "" {
		return pipelines.Pipeline{}, false
	}
	p, err := o.pipelines.Get(domain)
	if err != nil {
		o.logger.Debug("no pipeline for domain, processing modalities directly",
			slog.String("request_id", req.ID),
			slog.String("domain", domain),
		)
		return pipelines.Pipeline{}, false
	}
	return p, true
}

// cacheResults stores results under key when the policy accepts them.
func (o *Orchestrator) cacheResults(ctx context.Context, scope, key string, results []datatypes.Result) {
	if ok, reason := o.policy.ShouldCache(results); !ok {
		cacheWrites.WithLabelValues(scope, "rejected").Inc()
		o.logger.Debug("results not cached",
			slog.String("scope", scope),
			slog.String("reason", reason),
		)
		return
	}
	if err := o.store.Set(ctx, key, results, o.cfg.CacheTTL); err != nil {
		cacheWrites.WithLabelValues(scope, "error").Inc()
		o.logger.Warn("cache write failed",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)
		return
	}
	cacheWrites.WithLabelValues(scope, "stored").Inc()
}

// mapError turns an expired request deadline into a *datatypes.TimeoutError.
func (o *Orchestrator) mapError(ctx context.Context, req datatypes.Request, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, datatypes.ErrTimeout) {
		return datatypes.NewTimeoutError("request", req.ID, req.Options.MaxProcessingTime)
	}
	return err
}

// finish stamps results with the caller's request id.
func (o *Orchestrator) finish(req datatypes.Request, results []datatypes.Result) []datatypes.Result {
	out := lo.Map(results, func(r datatypes.Result, _ int) datatypes.Result {
		r.RequestID = req.ID
		return r
	})
	for _, r := range out {
		resultsTotal.WithLabelValues(string(r.Modality)).Inc()
	}
	return out
}

// GetStats returns a snapshot of the orchestrator state.
func (o *Orchestrator) GetStats() Stats {
	return Stats{
		CacheSize:      o.store.Len(),
		ActiveInFlight: o.inflight.Active(),
		ProcessorKinds: o.processors.Kinds(),
		PipelineNames:  o.pipelines.Names(),
	}
}

// ClearCache removes every cached result set. Computations in flight are
// not affected.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	if err := o.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	o.logger.Info("result cache cleared")
	return nil
}

// Pipelines returns the registered pipelines.
func (o *Orchestrator) Pipelines() []pipelines.Pipeline {
	return o.pipelines.All()
}

// Close releases the result store.
func (o *Orchestrator) Close() error {
	return o.store.Close()
}
