// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the result cache and the in-flight tracker.
//
// A Store maps request fingerprints to result sets. MemoryStore is the
// default; BadgerStore keeps entries in an embedded badger database.
// InFlight guarantees at most one computation per fingerprint at a time,
// and Policy decides which result sets may be stored at all.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

var (
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("cache store is closed")

	// ErrEmptyKey is returned when a key is empty.
	ErrEmptyKey = errors.New("cache key must not be empty")
)

// Store is a key/value store for result sets.
//
// Implementations must be safe for concurrent use. Get returns a copy the
// caller may modify; Set stores a copy.
type Store interface {
	// Get returns the result set for key. found is false on a miss or
	// when the entry has expired.
	Get(ctx context.Context, key string) (results []datatypes.Result, found bool, err error)

	// Set stores results under key. ttl <= 0 uses the store's default.
	Set(ctx context.Context, key string, results []datatypes.Result, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Len returns the number of live entries.
	Len() int

	// Close releases resources held by the store.
	Close() error
}

// Stats are counters shared by the store implementations.
type Stats struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}
