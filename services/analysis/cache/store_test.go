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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

func sampleResults(analysis string) []datatypes.Result {
	return []datatypes.Result{{
		ID:         "r1",
		RequestID:  "req-1",
		Modality:   datatypes.ModalityText,
		StageID:    "summary",
		Confidence: 0.85,
		Payload: datatypes.Payload{
			Analysis: analysis,
			Insights: []string{"first insight"},
			Data:     map[string]any{"capability": "summarization"},
		},
		Metadata: datatypes.ResultMetadata{
			Model:     "llama3.2",
			Provider:  "ollama",
			Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	cfg := BadgerConfig{InMemory: true}
	bs, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": bs,
	}
}

// =============================================================================
// Store contract
// =============================================================================

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, found)

			want := sampleResults("a long enough analysis")
			require.NoError(t, store.Set(ctx, "fp-1", want, 0))
			assert.Equal(t, 1, store.Len())

			got, found, err := store.Get(ctx, "fp-1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, want, got)

			require.NoError(t, store.Set(ctx, "fp-2", want, 0))
			assert.Equal(t, 2, store.Len())

			require.NoError(t, store.Delete(ctx, "fp-1"))
			require.NoError(t, store.Delete(ctx, "never-set"))
			_, found, _ = store.Get(ctx, "fp-1")
			assert.False(t, found)

			require.NoError(t, store.Clear(ctx))
			assert.Equal(t, 0, store.Len())

			assert.ErrorIs(t, store.Set(ctx, "", want, 0), ErrEmptyKey)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := sampleResults("original analysis text")
	require.NoError(t, s.Set(ctx, "k", in, 0))

	in[0].Payload.Analysis = "mutated by caller"
	in[0].Payload.Insights[0] = "mutated insight"

	got, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "original analysis text", got[0].Payload.Analysis)
	assert.Equal(t, "first insight", got[0].Payload.Insights[0])

	got[0].Payload.Data["capability"] = "changed"
	again, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "summarization", again[0].Payload.Data["capability"])
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithMaxEntries(2), WithTTL(0))
	require.NoError(t, s.Set(ctx, "a", sampleResults("analysis a text"), 0))
	require.NoError(t, s.Set(ctx, "b", sampleResults("analysis b text"), 0))

	// Touch a so b becomes the least recently used.
	_, found, _ := s.Get(ctx, "a")
	require.True(t, found)

	require.NoError(t, s.Set(ctx, "c", sampleResults("analysis c text"), 0))
	assert.Equal(t, 2, s.Len())

	_, found, _ = s.Get(ctx, "b")
	assert.False(t, found, "b should have been evicted")
	_, found, _ = s.Get(ctx, "a")
	assert.True(t, found)
	_, found, _ = s.Get(ctx, "c")
	assert.True(t, found)

	assert.Equal(t, int64(1), s.Stats().Evictions)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(WithTTL(time.Minute), WithClock(clock.Now))

	require.NoError(t, s.Set(ctx, "default", sampleResults("analysis text here"), 0))
	require.NoError(t, s.Set(ctx, "long", sampleResults("analysis text here"), time.Hour))

	clock.Advance(59 * time.Second)
	_, found, _ := s.Get(ctx, "default")
	assert.True(t, found)

	clock.Advance(2 * time.Second)
	_, found, _ = s.Get(ctx, "default")
	assert.False(t, found)
	_, found, _ = s.Get(ctx, "long")
	assert.True(t, found)

	assert.Equal(t, 1, s.Len())
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Set(ctx, "k", sampleResults("some analysis"), 0), ErrStoreClosed)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithMaxEntries(16))
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%20)
			_ = s.Set(ctx, key, sampleResults("concurrent analysis"), 0)
			_, _, _ = s.Get(ctx, key)
			if i%7 == 0 {
				_ = s.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 16)
}

func TestBadgerStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	// badger TTLs have one second resolution.
	require.NoError(t, s.Set(ctx, "short", sampleResults("analysis text here"), time.Second))
	require.NoError(t, s.Set(ctx, "forever", sampleResults("analysis text here"), 0))

	_, found, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, found)

	require.Eventually(t, func() bool {
		_, found, _ := s.Get(ctx, "short")
		return !found
	}, 5*time.Second, 100*time.Millisecond)

	_, found, _ = s.Get(ctx, "forever")
	assert.True(t, found)
	assert.Equal(t, 1, s.Len())
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultBadgerConfig(t.TempDir())
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	s, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "fp", sampleResults("persisted analysis"), 0))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	reopened, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()
	got, found, err := reopened.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "persisted analysis", got[0].Payload.Analysis)
	assert.Equal(t, int64(1), reopened.Stats().Hits)
}

func TestBadgerStore_ClosedAndConfig(t *testing.T) {
	_, err := OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err, "persistent store needs a path")

	s, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, _, err = s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
