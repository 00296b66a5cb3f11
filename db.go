// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"github.com/dreamsxin/temporal/types"
)

// ValueChangedEvent is the event type DB.Insert records.
const ValueChangedEvent = "value.changed"

// DB is the user-facing temporal database: an event journal plus a
// materialized view of the latest value per entity. Values are stored as
// JSON payloads of value.changed events.
type DB struct {
	journal types.EventJournal
	view    *MemoryView
}

// OpenDB opens a durable database rooted at dir. The materialized view is
// rebuilt from the journal during recovery.
func OpenDB(dir string, opts ...Option) (*DB, error) {
	view := NewMemoryView()
	opts = append(opts, WithMaterializedView(view))
	j, err := Open(dir, opts...)
	if err != nil {
		return nil, err
	}
	return &DB{journal: j, view: view}, nil
}

// NewInMemoryDB creates a database with no durability.
func NewInMemoryDB() *DB {
	view := NewMemoryView()
	return &DB{journal: NewMemoryJournal(view), view: view}
}

// Journal exposes the underlying event journal.
func (db *DB) Journal() types.EventJournal { return db.journal }

// Insert records a new value for an entity at the given valid time.
func (db *DB) Insert(entityID string, value any, ts types.Timestamp) error {
	payload, err := types.JSONPayload(value)
	if err != nil {
		return err
	}
	return db.journal.Append(types.NewEvent(ValueChangedEvent, ts, entityID, payload))
}

// InsertEvent records a fully formed event.
func (db *DB) InsertEvent(e *types.Event) error {
	return db.journal.Append(e)
}

// QueryAsOf decodes into out the value the entity had at the given time:
// the payload of the greatest-timestamp event with timestamp <= at.
// Returns false if the entity had no value yet.
func (db *DB) QueryAsOf(entityID string, at types.Timestamp, out any) (bool, error) {
	e, err := db.journal.GetLatestEvent(entityID, at)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	if err := e.Payload.Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

// QueryRange returns the entity's events with timestamps in [start, end).
func (db *DB) QueryRange(entityID string, start, end types.Timestamp) ([]*types.Event, error) {
	return db.journal.GetEvents(entityID, start, end)
}

// Events returns the entity's full history in timestamp order.
func (db *DB) Events(entityID string) ([]*types.Event, error) {
	return db.journal.GetEntityEvents(entityID)
}

// GetCurrent decodes the most recently applied value for the entity from
// the materialized view. Returns false if the entity has never been seen.
func (db *DB) GetCurrent(entityID string, out any) (bool, error) {
	data, ok, err := db.view.GetCurrentRaw(entityID)
	if err != nil || !ok {
		return false, err
	}
	if err := (types.Payload{Data: data, Format: types.FormatJSON}).Decode(out); err != nil {
		return false, err
	}
	return true, nil
}

// Flush pushes pending writes to disk.
func (db *DB) Flush() error {
	return db.journal.Flush()
}

// Checkpoint seals pending data into segments and truncates the WAL when
// the journal is durable; for an in-memory journal it is a plain flush.
func (db *DB) Checkpoint() error {
	if j, ok := db.journal.(*Journal); ok {
		return j.Checkpoint()
	}
	return db.journal.Flush()
}

// Close releases the journal.
func (db *DB) Close() error {
	return db.journal.Close()
}
