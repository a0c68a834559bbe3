// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"sync"
)

// CheckpointStore durably stores terminal activity results.
//
// # Description
//
// The store is an explicit key-value interface passed into the
// Executor, keyed by (run id, activity key) — never a process-wide
// singleton. It provides at-most-one-execution-per-key semantics for
// resumed runs: Put must be first-terminal-write-wins, returning the
// canonical record, so two concurrent resumes of the same run id
// converge on one result even if both raced to execute.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across keys.
// Writers for the same key must serialize inside Put.
type CheckpointStore interface {
	// Get returns the stored record for the key, or nil when absent.
	Get(ctx context.Context, runID, key string) (*Record, error)

	// Put commits a terminal record. If a terminal record already
	// exists for the key, the existing record is kept and returned.
	Put(ctx context.Context, runID, key string, rec Record) (Record, error)

	// DropRun removes every record of a finished run.
	DropRun(ctx context.Context, runID string) error
}

// MemoryStore is an in-process CheckpointStore.
//
// # Description
//
// Useful for tests and for callers that do not need durability across
// process restarts. Records survive only as long as the process.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]map[string]Record)}
}

// Get implements CheckpointStore.
func (s *MemoryStore) Get(ctx context.Context, runID, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID][key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put implements CheckpointStore with first-terminal-write-wins.
func (s *MemoryStore) Put(ctx context.Context, runID, key string, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[runID]
	if run == nil {
		run = make(map[string]Record)
		s.runs[runID] = run
	}
	if existing, ok := run[key]; ok && existing.Status.Terminal() {
		return existing, nil
	}
	run[key] = rec
	return rec, nil
}

// DropRun implements CheckpointStore.
func (s *MemoryStore) DropRun(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}
