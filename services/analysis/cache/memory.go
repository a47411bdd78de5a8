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
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

const (
	// DefaultMaxEntries is the default capacity of a MemoryStore.
	DefaultMaxEntries = 1024

	// DefaultTTL is how long entries live when Set is given no ttl.
	DefaultTTL = time.Hour
)

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	// MaxEntries is the capacity. The least recently used entry is evicted
	// when it is exceeded.
	MaxEntries int

	// TTL is the default entry lifetime. 0 means entries never expire.
	TTL time.Duration

	// Now returns the current time.
	Now func() time.Time
}

// DefaultMemoryOptions returns the default options.
func DefaultMemoryOptions() MemoryOptions {
	return MemoryOptions{
		MaxEntries: DefaultMaxEntries,
		TTL:        DefaultTTL,
		Now:        time.Now,
	}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryOptions)

// WithMaxEntries sets the capacity.
func WithMaxEntries(n int) MemoryOption {
	return func(o *MemoryOptions) {
		if n > 0 {
			o.MaxEntries = n
		}
	}
}

// WithTTL sets the default entry lifetime. 0 disables expiry.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(o *MemoryOptions) {
		if ttl >= 0 {
			o.TTL = ttl
		}
	}
}

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *MemoryOptions) {
		if now != nil {
			o.Now = now
		}
	}
}

type memoryEntry struct {
	key       string
	results   []datatypes.Result
	expiresAt time.Time
}

// MemoryStore is an in-process LRU store with per-entry expiry.
//
// Thread Safety:
//
//	MemoryStore is safe for concurrent use. A single mutex guards the
//	entry map and the LRU list; counters are atomic.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	options MemoryOptions
	closed  bool

	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	options := DefaultMemoryOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &MemoryStore{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		options: options,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]datatypes.Result, bool, error) {
	start := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrStoreClosed
	}
	elem, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		s.misses.Add(1)
		recordGet(ctx, "memory", time.Since(start), false)
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if s.expiredLocked(entry) {
		s.removeLocked(elem)
		s.mu.Unlock()
		s.expirations.Add(1)
		s.misses.Add(1)
		recordEviction(ctx, "expired")
		recordGet(ctx, "memory", time.Since(start), false)
		return nil, false, nil
	}
	s.lru.MoveToFront(elem)
	results := datatypes.CloneResults(entry.results)
	s.mu.Unlock()

	s.hits.Add(1)
	recordGet(ctx, "memory", time.Since(start), true)
	return results, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, results []datatypes.Result, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = s.options.TTL
	}
	entry := &memoryEntry{key: key, results: datatypes.CloneResults(results)}
	if ttl > 0 {
		entry.expiresAt = s.options.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if elem, ok := s.entries[key]; ok {
		elem.Value = entry
		s.lru.MoveToFront(elem)
	} else {
		s.entries[key] = s.lru.PushFront(entry)
		s.evictIfNeededLocked(ctx)
	}
	s.sets.Add(1)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if elem, ok := s.entries[key]; ok {
		s.removeLocked(elem)
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.entries = make(map[string]*list.Element)
	s.lru.Init()
	return nil
}

// Len implements Store. Expired entries not yet collected are excluded.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, elem := range s.entries {
		if !s.expiredLocked(elem.Value.(*memoryEntry)) {
			n++
		}
	}
	return n
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	s.lru.Init()
	return nil
}

// Stats returns the store counters.
func (s *MemoryStore) Stats() Stats {
	return Stats{
		Entries:     s.Len(),
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Sets:        s.sets.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
	}
}

func (s *MemoryStore) expiredLocked(e *memoryEntry) bool {
	return !e.expiresAt.IsZero() && !s.options.Now().Before(e.expiresAt)
}

func (s *MemoryStore) removeLocked(elem *list.Element) {
	delete(s.entries, elem.Value.(*memoryEntry).key)
	s.lru.Remove(elem)
}

// evictIfNeededLocked drops expired entries first, then the least recently
// used ones, until the store is within capacity. Caller holds s.mu.
func (s *MemoryStore) evictIfNeededLocked(ctx context.Context) {
	if len(s.entries) <= s.options.MaxEntries {
		return
	}
	for elem := s.lru.Back(); elem != nil && len(s.entries) > s.options.MaxEntries; {
		prev := elem.Prev()
		if s.expiredLocked(elem.Value.(*memoryEntry)) {
			s.removeLocked(elem)
			s.expirations.Add(1)
			recordEviction(ctx, "expired")
		}
		elem = prev
	}
	for len(s.entries) > s.options.MaxEntries {
		s.removeLocked(s.lru.Back())
		s.evictions.Add(1)
		recordEviction(ctx, "capacity")
	}
}
