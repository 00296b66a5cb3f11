// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package types

// WriteAheadLog records events durably before any other state change.
// Implementations are not required to be safe for concurrent use; the
// journal serializes all calls behind its write lock.
type WriteAheadLog interface {
	// Append writes one record. The record is handed to the OS but not
	// necessarily fsynced; Flush provides the durability barrier.
	Append(e *Event) error

	// Flush forces buffered data to stable storage. After Flush returns,
	// every previously appended record survives a crash.
	Flush() error

	// Replay yields every well-formed record in append order. It stops
	// cleanly at a torn tail record and fails with ErrCorrupt if an
	// interior record's checksum does not match.
	Replay(fn func(e *Event) error) error

	// Clear truncates the log after a durable checkpoint.
	Clear() error

	Close() error
}

// EventJournal is the append-and-query surface of an event store.
type EventJournal interface {
	// Append durably records one event and makes it visible to queries.
	Append(e *Event) error

	// AppendBatch appends events in order.
	AppendBatch(events []*Event) error

	// GetEvents returns an entity's events in the half-open range
	// [start, end) in timestamp order.
	GetEvents(entityID string, start, end Timestamp) ([]*Event, error)

	// GetEntityEvents returns an entity's whole timeline in timestamp order.
	GetEntityEvents(entityID string) ([]*Event, error)

	// GetEventsByType returns events of a type in [start, end).
	GetEventsByType(eventType string, start, end Timestamp) ([]*Event, error)

	// GetLatestEvent returns the greatest-timestamp event with
	// timestamp <= at, or nil if the entity has no such event.
	GetLatestEvent(entityID string, at Timestamp) (*Event, error)

	// Flush pushes pending writes to disk.
	Flush() error

	Close() error
}

// MaterializedView maintains the latest payload per entity from the event
// stream. Implementations must be internally synchronized: readers never
// observe a partially applied entry.
type MaterializedView interface {
	ApplyEvent(e *Event) error

	// GetCurrentRaw returns the latest payload bytes for the entity, or
	// ok=false when the entity has never been seen.
	GetCurrentRaw(entityID string) (data []byte, ok bool, err error)
}

// PersistentState is the journal metadata committed at each checkpoint.
type PersistentState struct {
	// NextSegmentID is the next id the segment manager will allocate.
	NextSegmentID uint64 `msgpack:"next_segment_id"`

	// SealedSegments is the number of finalized segments in the catalog.
	SealedSegments uint64 `msgpack:"sealed_segments"`

	// LastCheckpoint is when the WAL was last cleared.
	LastCheckpoint Timestamp `msgpack:"last_checkpoint"`
}

// MetaStore persists PersistentState across restarts. Opening a meta store
// also asserts exclusive ownership of the journal directory.
type MetaStore interface {
	Load() (PersistentState, error)
	Commit(state PersistentState) error
	Close() error
}
