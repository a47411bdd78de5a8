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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
)

// keyPrefix namespaces result entries inside the database.
var keyPrefix = []byte("mosaic:results:")

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string

	// InMemory keeps the database in memory. Useful for tests.
	InMemory bool

	// SyncWrites enables synchronous writes.
	SyncWrites bool

	// TTL is the default entry lifetime. 0 means entries never expire.
	TTL time.Duration

	// GCInterval is how often value log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio that triggers GC.
	GCDiscardRatio float64

	// Logger receives badger's internal logs. nil disables them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		TTL:            DefaultTTL,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// badgerValue is the stored JSON document.
type badgerValue struct {
	Results []datatypes.Result `json:"results"`
}

// BadgerStore keeps result sets in an embedded badger database. Entry
// expiry uses badger's native TTL.
//
// Thread Safety:
//
//	BadgerStore is safe for concurrent use.
type BadgerStore struct {
	db  *badger.DB
	cfg BadgerConfig

	closeOnce sync.Once
	stopGC    chan struct{}
	gcDone    chan struct{}

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// OpenBadgerStore opens the database described by cfg.
//
// Description:
//
//	Creates the directory when needed, opens badger and, for persistent
//	databases with a GC interval, starts value log garbage collection.
//
// Outputs:
//
//	*BadgerStore - The store. Caller must call Close when done.
//	error - Non-nil if the path is missing or badger cannot open.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	s := &BadgerStore{db: db, cfg: cfg}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC()
	}
	return s, nil
}

func badgerKey(key string) []byte {
	return append(append([]byte(nil), keyPrefix...), key...)
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]datatypes.Result, bool, error) {
	start := time.Now()
	var value badgerValue
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &value)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		s.misses.Add(1)
		recordGet(ctx, "badger", time.Since(start), false)
		return nil, false, nil
	case errors.Is(err, badger.ErrDBClosed):
		return nil, false, ErrStoreClosed
	case err != nil:
		return nil, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	s.hits.Add(1)
	recordGet(ctx, "badger", time.Since(start), true)
	return value.Results, true, nil
}

// Set implements Store.
func (s *BadgerStore) Set(_ context.Context, key string, results []datatypes.Result, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := json.Marshal(badgerValue{Results: results})
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}
	entry := badger.NewEntry(badgerKey(key), data)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrStoreClosed
	}
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	s.sets.Add(1)
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(key))
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrStoreClosed
	}
	return err
}

// Clear implements Store.
func (s *BadgerStore) Clear(_ context.Context) error {
	if err := s.db.DropPrefix(keyPrefix); err != nil {
		return fmt.Errorf("badger clear: %w", err)
	}
	return nil
}

// Len implements Store. It scans keys, so it is O(entries).
func (s *BadgerStore) Len() int {
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(keyPrefix); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Stats returns the store counters.
func (s *BadgerStore) Stats() Stats {
	return Stats{
		Entries: s.Len(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
	}
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}

// runGC runs value log GC every interval until Close.
func (s *BadgerStore) runGC() {
	defer close(s.gcDone)
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	ratio := s.cfg.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// Repeat while GC rewrites a file.
			for s.db.RunValueLogGC(ratio) == nil {
			}
		}
	}
}
