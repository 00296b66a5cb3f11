// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package metadb persists journal checkpoint state in a small bbolt
// database. Opening the database takes bbolt's exclusive file lock, which
// doubles as part of the journal's single-process directory ownership.
package metadb

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/dreamsxin/temporal/types"
)

var (
	metaBucket = []byte("meta")
	stateKey   = []byte("state")
)

// DB is a bbolt-backed types.MetaStore.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the meta database at path. If another process
// holds the lock the open waits up to one second, then fails with a storage
// error.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open meta db %s: %v", types.ErrStorage, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init meta db: %v", types.ErrStorage, err)
	}
	return &DB{db: db}, nil
}

// Load returns the last committed state, or the zero state for a fresh
// database.
func (d *DB) Load() (types.PersistentState, error) {
	var state types.PersistentState
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(metaBucket).Get(stateKey)
		if raw == nil {
			return nil
		}
		if err := msgpack.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("%w: decode meta state: %v", types.ErrSerialization, err)
		}
		return nil
	})
	if err != nil {
		return types.PersistentState{}, err
	}
	return state, nil
}

// Commit durably replaces the persisted state.
func (d *DB) Commit(state types.PersistentState) error {
	raw, err := msgpack.Marshal(&state)
	if err != nil {
		return fmt.Errorf("%w: encode meta state: %v", types.ErrSerialization, err)
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(stateKey, raw)
	})
	if err != nil {
		return fmt.Errorf("%w: commit meta state: %v", types.ErrStorage, err)
	}
	return nil
}

// Close releases the database and its file lock.
func (d *DB) Close() error {
	return d.db.Close()
}
