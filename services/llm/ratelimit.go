// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Backend with a token bucket shared by all callers.
//
// # Thread Safety
//
// Safe for concurrent use. rate.Limiter is goroutine-safe.
type RateLimited struct {
	next    Backend
	limiter *rate.Limiter
}

// NewRateLimited allows rps calls per second with the given burst. A burst
// below one is raised to one.
func NewRateLimited(next Backend, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Name returns the wrapped backend's name.
func (r *RateLimited) Name() string {
	return r.next.Name()
}

// Complete waits for a token, then delegates.
func (r *RateLimited) Complete(ctx context.Context, prompt, modelHint string,
	temperature float32, maxTokens int) (Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Complete(ctx, prompt, modelHint, temperature, maxTokens)
}

// VisionComplete waits for a token, then delegates.
func (r *RateLimited) VisionComplete(ctx context.Context, imageRef, prompt,
	modelHint string) (VisionResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return VisionResult{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.VisionComplete(ctx, imageRef, prompt, modelHint)
}
