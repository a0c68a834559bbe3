// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/harbormaster/workflow"
)

// Store is the BadgerDB-backed workflow.CheckpointStore.
//
// # Description
//
// Records are keyed "run/<runID>/<activityKey>" and JSON-encoded.
// Put runs inside a read-check-write transaction, so the
// first-terminal-write-wins contract holds even for concurrent
// resumes of the same run id from separate goroutines: Badger's
// serializable transactions conflict-check the read key.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db *badger.DB
}

var _ workflow.CheckpointStore = (*Store)(nil)

// NewStore creates a checkpoint store on an opened database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// OpenStore opens a database with the given config and wraps it.
//
// Outputs:
//
//	*Store - The store; Close() releases the database.
//	error - Non-nil if the database cannot be opened.
func OpenStore(cfg Config) (*Store, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(runID, key string) []byte {
	return []byte("run/" + runID + "/" + key)
}

func runPrefix(runID string) []byte {
	return []byte("run/" + runID + "/")
}

// Get implements workflow.CheckpointStore.
func (s *Store) Get(ctx context.Context, runID, key string) (*workflow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *workflow.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(runID, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r workflow.Record
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode checkpoint %s/%s: %w", runID, key, err)
			}
			rec = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put implements workflow.CheckpointStore with first-terminal-write-
// wins semantics. Transaction conflicts are retried, re-reading the
// key, so the loser of a race observes the winner's record.
func (s *Store) Put(ctx context.Context, runID, key string, rec workflow.Record) (workflow.Record, error) {
	k := recordKey(runID, key)

	for {
		if err := ctx.Err(); err != nil {
			return workflow.Record{}, err
		}

		canonical := rec
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(k)
			if err == nil {
				var existing workflow.Record
				if verr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &existing)
				}); verr != nil {
					return fmt.Errorf("decode checkpoint %s/%s: %w", runID, key, verr)
				}
				if existing.Status.Terminal() {
					canonical = existing
					return nil
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode checkpoint %s/%s: %w", runID, key, err)
			}
			return txn.Set(k, data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return workflow.Record{}, err
		}
		return canonical, nil
	}
}

// DropRun implements workflow.CheckpointStore, deleting every record
// of a finished run.
func (s *Store) DropRun(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefix := runPrefix(runID)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}
