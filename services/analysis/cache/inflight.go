// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

// ComputeFunc produces the result set for a fingerprint.
type ComputeFunc func(ctx context.Context) ([]datatypes.Result, error)

// InFlight deduplicates concurrent computations by key.
//
// Description:
//
//	The first caller for a key starts the computation; callers arriving
//	while it runs join it and receive the same outcome. The entry is
//	removed when the computation ends, whatever the outcome, so the next
//	caller starts afresh.
//
//	The computation runs on a context detached from the callers'
//	cancellation and deadlines. Each caller waits at most its own timeout;
//	a caller whose wait ends gets the wait's error while the computation
//	keeps running for the others. When the last waiting caller leaves
//	before the computation ends, the computation is cancelled and the key
//	is forgotten.
//
// Thread Safety:
//
//	InFlight is safe for concurrent use. The check-then-insert of an entry
//	happens under singleflight's mutex; waiter bookkeeping under mu.
type InFlight struct {
	group  singleflight.Group
	active atomic.Int64

	mu      sync.Mutex
	flights map[string]*flight
}

// flight tracks the callers waiting on one key.
type flight struct {
	waiters int
	cancel  context.CancelFunc
}

// NewInFlight creates an empty tracker.
func NewInFlight() *InFlight {
	return &InFlight{flights: make(map[string]*flight)}
}

// Do runs fn once per key among concurrent callers.
//
// Inputs:
//
//	ctx - The caller's context. Its values are kept for fn; its
//	      cancellation only ends this caller's wait.
//	key - The request fingerprint.
//	timeout - Upper bound for this caller's wait. 0 means no bound.
//	fn - The computation.
//
// Outputs:
//
//	[]datatypes.Result - A copy of the shared result set.
//	bool - True when this caller joined a computation another caller started.
//	error - fn's error, or the wait context's error if the caller stopped
//	        waiting (context.DeadlineExceeded once timeout elapses).
func (f *InFlight) Do(ctx context.Context, key string, timeout time.Duration, fn ComputeFunc) ([]datatypes.Result, bool, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fl := f.join(key)
	started := false
	ch := f.group.DoChan(key, func() (interface{}, error) {
		started = true
		f.active.Add(1)
		defer f.active.Add(-1)

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		if !f.attach(fl, cancel) {
			cancel()
		}
		return fn(runCtx)
	})

	select {
	case <-waitCtx.Done():
		f.leave(key, fl, true)
		return nil, false, waitCtx.Err()
	case res := <-ch:
		f.leave(key, fl, false)
		joined := res.Shared && !started
		if joined {
			recordJoin(ctx)
		}
		if res.Err != nil {
			return nil, joined, res.Err
		}
		results, _ := res.Val.([]datatypes.Result)
		return datatypes.CloneResults(results), joined, nil
	}
}

func (f *InFlight) join(key string) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.flights[key]
	if !ok {
		fl = &flight{}
		f.flights[key] = fl
	}
	fl.waiters++
	return fl
}

// attach records the computation's cancel func. It reports false when
// every caller already left.
func (f *InFlight) attach(fl *flight, cancel context.CancelFunc) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.cancel = cancel
	return fl.waiters > 0
}

func (f *InFlight) leave(key string, fl *flight, abandoned bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	if f.flights[key] == fl {
		delete(f.flights, key)
	}
	if abandoned {
		if fl.cancel != nil {
			fl.cancel()
		}
		f.group.Forget(key)
	}
}

// Active returns the number of computations currently running.
func (f *InFlight) Active() int {
	return int(f.active.Load())
}

// Forget drops key so the next caller starts a new computation even if
// one is still running.
func (f *InFlight) Forget(key string) {
	f.group.Forget(key)
}
