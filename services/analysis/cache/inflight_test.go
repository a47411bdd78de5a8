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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

func TestInFlight_DeduplicatesConcurrentCallers(t *testing.T) {
	f := NewInFlight()
	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})

	fn := func(ctx context.Context) ([]datatypes.Result, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return sampleResults("shared analysis result"), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]datatypes.Result, callers)
	joined := make([]bool, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], joined[0], errs[0] = f.Do(context.Background(), "fp", 0, fn)
	}()
	<-entered
	assert.Equal(t, 1, f.Active())

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], joined[i], errs[i] = f.Do(context.Background(), "fp", 0, fn)
		}(i)
	}
	// Give the joiners time to attach before the computation ends.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, joined[0], "the first caller started the computation")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
		if i > 0 {
			assert.True(t, joined[i])
		}
	}
	assert.Equal(t, 0, f.Active())
}

func TestInFlight_EntryRemovedAfterCompletion(t *testing.T) {
	f := NewInFlight()
	var calls atomic.Int32
	boom := errors.New("backend exploded")
	fn := func(ctx context.Context) ([]datatypes.Result, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return sampleResults("second attempt works"), nil
	}

	_, _, err := f.Do(context.Background(), "fp", 0, fn)
	assert.ErrorIs(t, err, boom)

	res, joined, err := f.Do(context.Background(), "fp", 0, fn)
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Len(t, res, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInFlight_CallerCancellationDoesNotCancelComputation(t *testing.T) {
	f := NewInFlight()
	release := make(chan struct{})
	entered := make(chan struct{})
	finished := make(chan error, 1)

	fn := func(ctx context.Context) ([]datatypes.Result, error) {
		close(entered)
		select {
		case <-release:
			finished <- nil
			return sampleResults("completed after caller left"), nil
		case <-ctx.Done():
			finished <- ctx.Err()
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := f.Do(ctx, "fp", 0, fn)
		done <- err
	}()
	<-entered

	// A second caller joins the running computation before the first leaves.
	joinDone := make(chan []datatypes.Result, 1)
	go func() {
		res, _, _ := f.Do(context.Background(), "fp", 0, fn)
		joinDone <- res
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	close(release)

	assert.NoError(t, <-finished)
	res := <-joinDone
	require.Len(t, res, 1)
	assert.Equal(t, "completed after caller left", res[0].Payload.Analysis)
}

func TestInFlight_AbandonedComputationIsCancelled(t *testing.T) {
	f := NewInFlight()
	var calls atomic.Int32
	entered := make(chan struct{}, 2)
	finished := make(chan error, 1)

	slow := func(ctx context.Context) ([]datatypes.Result, error) {
		calls.Add(1)
		entered <- struct{}{}
		<-ctx.Done()
		finished <- ctx.Err()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := f.Do(ctx, "fp", 0, slow)
		done <- err
	}()
	<-entered
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.ErrorIs(t, <-finished, context.Canceled)

	res, joined, err := f.Do(context.Background(), "fp", 0, func(ctx context.Context) ([]datatypes.Result, error) {
		calls.Add(1)
		return sampleResults("fresh computation"), nil
	})
	require.NoError(t, err)
	assert.False(t, joined)
	require.Len(t, res, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInFlight_EachCallerWaitsItsOwnTimeout(t *testing.T) {
	f := NewInFlight()
	release := make(chan struct{})
	entered := make(chan struct{})
	fn := func(ctx context.Context) ([]datatypes.Result, error) {
		close(entered)
		select {
		case <-release:
			return sampleResults("patient caller gets this"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	patient := make(chan error, 1)
	go func() {
		_, _, err := f.Do(context.Background(), "fp", 0, fn)
		patient <- err
	}()
	<-entered

	start := time.Now()
	_, joined, err := f.Do(context.Background(), "fp", 30*time.Millisecond, fn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, joined)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	assert.NoError(t, <-patient)
}

func TestInFlight_Timeout(t *testing.T) {
	f := NewInFlight()
	fn := func(ctx context.Context) ([]datatypes.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	start := time.Now()
	_, _, err := f.Do(context.Background(), "fp", 30*time.Millisecond, fn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestInFlight_ContextValuesReachComputation(t *testing.T) {
	type key struct{}
	f := NewInFlight()
	ctx := context.WithValue(context.Background(), key{}, "trace-me")
	var seen any
	_, _, err := f.Do(ctx, "fp", 0, func(ctx context.Context) ([]datatypes.Result, error) {
		seen = ctx.Value(key{})
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "trace-me", seen)
}

func TestInFlight_DistinctKeysRunIndependently(t *testing.T) {
	f := NewInFlight()
	var calls atomic.Int32
	fn := func(ctx context.Context) ([]datatypes.Result, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return sampleResults("independent analysis"), nil
	}
	var wg sync.WaitGroup
	for _, k := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, _, err := f.Do(context.Background(), k, 0, fn)
			assert.NoError(t, err)
		}(k)
	}
	wg.Wait()
	assert.Equal(t, int32(3), calls.Load())
}
