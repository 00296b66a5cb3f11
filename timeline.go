// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"fmt"

	"github.com/benbjohnson/immutable"

	"github.com/dreamsxin/temporal/types"
)

// Timeline is the ordered event history of a single entity. Events are
// keyed by valid time; events sharing a timestamp keep their insertion
// order in a tie bucket. The version counter increments once per appended
// event.
//
// A Timeline is not internally synchronized. Inside the journal it is
// cloned under the write lock before mutation so readers of an older state
// snapshot never observe a change.
type Timeline struct {
	entityID string
	events   *immutable.SortedMap[int64, []*types.Event]
	version  uint64
	size     int
}

// NewTimeline creates an empty timeline for an entity.
func NewTimeline(entityID string) *Timeline {
	return &Timeline{
		entityID: entityID,
		events:   immutable.NewSortedMap[int64, []*types.Event](nil),
	}
}

// EntityID returns the entity this timeline belongs to.
func (t *Timeline) EntityID() string { return t.entityID }

// Append inserts one event and bumps the version.
func (t *Timeline) Append(e *types.Event) {
	key := e.Timestamp.Nanos()
	bucket, _ := t.events.Get(key)
	t.events = t.events.Set(key, append(bucket, e))
	t.version++
	t.size++
}

// AppendMany appends events in order.
func (t *Timeline) AppendMany(events []*types.Event) {
	for _, e := range events {
		t.Append(e)
	}
}

// Events returns all events in non-decreasing timestamp order.
func (t *Timeline) Events() []*types.Event {
	out := make([]*types.Event, 0, t.size)
	it := t.events.Iterator()
	it.First()
	for !it.Done() {
		_, bucket, _ := it.Next()
		out = append(out, bucket...)
	}
	return out
}

// EventsInRange returns events with start <= ts < end in timestamp order.
func (t *Timeline) EventsInRange(start, end types.Timestamp) []*types.Event {
	var out []*types.Event
	it := t.events.Iterator()
	it.Seek(start.Nanos())
	for !it.Done() {
		key, bucket, _ := it.Next()
		if key >= end.Nanos() {
			break
		}
		out = append(out, bucket...)
	}
	return out
}

// EventsUpTo returns events with ts <= at (inclusive upper bound).
func (t *Timeline) EventsUpTo(at types.Timestamp) []*types.Event {
	var out []*types.Event
	it := t.events.Iterator()
	it.First()
	for !it.Done() {
		key, bucket, _ := it.Next()
		if key > at.Nanos() {
			break
		}
		out = append(out, bucket...)
	}
	return out
}

// LatestBefore returns the greatest-timestamp event with ts <= at; ties
// resolve to the last event appended at that timestamp. Returns nil if no
// event qualifies.
func (t *Timeline) LatestBefore(at types.Timestamp) *types.Event {
	it := t.events.Iterator()
	it.Seek(at.Nanos())
	if it.Done() {
		it.Last()
	}
	for !it.Done() {
		key, bucket, _ := it.Prev()
		if key <= at.Nanos() {
			return bucket[len(bucket)-1]
		}
	}
	return nil
}

// EarliestAfter returns the smallest-timestamp event with ts >= at; ties
// resolve to the first event appended at that timestamp. Returns nil if no
// event qualifies.
func (t *Timeline) EarliestAfter(at types.Timestamp) *types.Event {
	it := t.events.Iterator()
	it.Seek(at.Nanos())
	if it.Done() {
		return nil
	}
	_, bucket, _ := it.Next()
	return bucket[0]
}

// Version returns the number of events ever appended.
func (t *Timeline) Version() uint64 { return t.version }

// Len returns the number of events currently held.
func (t *Timeline) Len() int { return t.size }

// IsEmpty reports whether the timeline has no events.
func (t *Timeline) IsEmpty() bool { return t.size == 0 }

// FirstTimestamp returns the earliest timestamp, if any.
func (t *Timeline) FirstTimestamp() (types.Timestamp, bool) {
	it := t.events.Iterator()
	it.First()
	if it.Done() {
		return 0, false
	}
	key, _, _ := it.Next()
	return types.Timestamp(key), true
}

// LastTimestamp returns the latest timestamp, if any.
func (t *Timeline) LastTimestamp() (types.Timestamp, bool) {
	it := t.events.Iterator()
	it.Last()
	if it.Done() {
		return 0, false
	}
	key, _, _ := it.Next()
	return types.Timestamp(key), true
}

// Merge folds another timeline for the same entity into this one. Events
// already present (same id in the same tie bucket) are skipped.
func (t *Timeline) Merge(other *Timeline) error {
	if other.entityID != t.entityID {
		return fmt.Errorf("cannot merge timeline for %q into %q", other.entityID, t.entityID)
	}
	it := other.events.Iterator()
	it.First()
	for !it.Done() {
		key, bucket, _ := it.Next()
		existing, _ := t.events.Get(key)
		for _, e := range bucket {
			if containsEventID(existing, e.ID) {
				continue
			}
			t.Append(e)
			existing, _ = t.events.Get(key)
		}
	}
	return nil
}

func containsEventID(events []*types.Event, id types.EventID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// clone returns a shallow copy sharing the immutable event map. The clone
// can be mutated without affecting readers of the original.
func (t *Timeline) clone() *Timeline {
	c := *t
	return &c
}
