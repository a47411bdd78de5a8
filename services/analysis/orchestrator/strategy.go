// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/analysis/processors"
)

// Strategy is how modalities are processed when no pipeline applies.
type Strategy string

const (
	// StrategySequential processes modalities one at a time in input order.
	StrategySequential Strategy = "sequential"

	// StrategyConcurrent fans out every modality and waits for all.
	StrategyConcurrent Strategy = "concurrent"
)

// SelectStrategy returns the strategy for a request without a pipeline.
// Critical requests are serialized end to end.
func SelectStrategy(req datatypes.Request) Strategy {
	if req.EffectivePriority() == datatypes.PriorityCritical {
		return StrategySequential
	}
	return StrategyConcurrent
}

// runDirect processes each modality with its kind's processor.
//
// Description:
//
//	Results come back in input order whatever the strategy. A modality
//	that fails yields no result. With caching enabled each modality first
//	tries its per-item cache entry, and fresh results are written back.
//
// Outputs:
//
//	[]datatypes.Result - The results produced.
//	error - ctx.Err() when the deadline cost a modality, nil otherwise.
func (o *Orchestrator) runDirect(ctx context.Context, req datatypes.Request, pctx processors.Context) ([]datatypes.Result, error) {
	slots := make([]*datatypes.Result, len(req.Modalities))

	switch SelectStrategy(req) {
	case StrategySequential:
		for i, item := range req.Modalities {
			if ctx.Err() != nil {
				break
			}
			slots[i] = o.processItem(ctx, req, item, pctx)
		}
	default:
		g, gctx := errgroup.WithContext(ctx)
		for i, item := range req.Modalities {
			g.Go(func() error {
				slots[i] = o.processItem(gctx, req, item, pctx)
				return nil
			})
		}
		_ = g.Wait()
	}

	results := make([]datatypes.Result, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	if err := ctx.Err(); err != nil && len(results) < len(req.Modalities) {
		return results, err
	}
	return results, nil
}

// processItem runs one modality. It returns nil when the modality failed.
func (o *Orchestrator) processItem(ctx context.Context, req datatypes.Request, item datatypes.ModalityItem,
	pctx processors.Context) *datatypes.Result {

	caching := req.Caching()
	var itemKey string
	if caching {
		itemKey = o.hasher.ItemFingerprint(item, req.Context)
		cached, found, err := o.store.Get(ctx, itemKey)
		if err != nil {
			o.logger.Warn("item cache lookup failed", slog.String("error", err.Error()))
		}
		if found && len(cached) == 1 {
			r := cached[0]
			r.RequestID = req.ID
			o.logger.Debug("modality served from cache",
				slog.String("request_id", req.ID),
				slog.String("modality", string(item.Kind)),
			)
			return &r
		}
	}

	start := time.Now()
	res, err := o.processors.Process(ctx, req.ID, item, pctx)
	if err != nil {
		reason := failureReason(err)
		modalityFailures.WithLabelValues(string(item.Kind), reason).Inc()
		o.logger.Warn("modality failed",
			slog.String("request_id", req.ID),
			slog.String("modality", string(item.Kind)),
			slog.String("reason", reason),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if caching {
		o.cacheResults(ctx, "item", itemKey, []datatypes.Result{res})
	}
	return &res
}

// failureReason classifies a modality error for metrics and logs.
func failureReason(err error) string {
	switch {
	case errors.Is(err, datatypes.ErrProcessorUnavailable):
		return "unavailable"
	case errors.Is(err, datatypes.ErrProvider):
		return "provider"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, datatypes.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
