// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package types contains the event model shared by the WAL, segment files
// and the journal, along with the capability interfaces the storage layers
// implement.
package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	nanosPerMicro  = 1_000
	nanosPerMilli  = 1_000_000
	nanosPerSecond = 1_000_000_000
)

// Timestamp is a point in time with nanosecond precision, stored as a
// signed 64-bit count of nanoseconds since the Unix epoch. The whole
// representable range is a valid timestamp.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixNano())
}

// TimestampFromNanos creates a Timestamp from nanoseconds since the epoch.
func TimestampFromNanos(ns int64) Timestamp { return Timestamp(ns) }

// TimestampFromMicros creates a Timestamp from microseconds since the epoch.
func TimestampFromMicros(us int64) Timestamp { return Timestamp(us * nanosPerMicro) }

// TimestampFromMillis creates a Timestamp from milliseconds since the epoch.
func TimestampFromMillis(ms int64) Timestamp { return Timestamp(ms * nanosPerMilli) }

// TimestampFromSecs creates a Timestamp from seconds since the epoch.
func TimestampFromSecs(s int64) Timestamp { return Timestamp(s * nanosPerSecond) }

// TimestampFromTime converts a time.Time.
func TimestampFromTime(t time.Time) Timestamp { return Timestamp(t.UnixNano()) }

// Nanos returns nanoseconds since the epoch.
func (t Timestamp) Nanos() int64 { return int64(t) }

// Micros returns microseconds since the epoch, truncated toward zero.
func (t Timestamp) Micros() int64 { return int64(t) / nanosPerMicro }

// Millis returns milliseconds since the epoch, truncated toward zero.
func (t Timestamp) Millis() int64 { return int64(t) / nanosPerMilli }

// Secs returns seconds since the epoch, truncated toward zero.
func (t Timestamp) Secs() int64 { return int64(t) / nanosPerSecond }

// Time converts to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// AddNanos returns the timestamp shifted forward by ns nanoseconds.
func (t Timestamp) AddNanos(ns int64) Timestamp { return Timestamp(int64(t) + ns) }

// SubNanos returns the timestamp shifted backward by ns nanoseconds.
func (t Timestamp) SubNanos(ns int64) Timestamp { return Timestamp(int64(t) - ns) }

func (t Timestamp) String() string {
	return t.Time().Format(time.RFC3339Nano)
}

// EventID uniquely identifies an event across the whole system.
type EventID uuid.UUID

// NewEventID generates a random event id.
func NewEventID() EventID {
	return EventID(uuid.New())
}

// EventIDFromUUID wraps an existing UUID.
func EventIDFromUUID(u uuid.UUID) EventID { return EventID(u) }

// ParseEventID parses the canonical string form.
func ParseEventID(s string) (EventID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, err
	}
	return EventID(u), nil
}

// IsZero reports whether the id is the all-zero id.
func (id EventID) IsZero() bool { return id == EventID{} }

func (id EventID) String() string { return uuid.UUID(id).String() }

// Payload is opaque serialized event data tagged with the format it was
// produced in (e.g. "json", "msgpack").
type Payload struct {
	Data   []byte `msgpack:"data"`
	Format string `msgpack:"format"`
}

// Event is an immutable record of something that happened to an entity.
// Timestamp is the valid time (when the fact holds in the modeled domain),
// TransactionTime is when the event was recorded. Fields must never be
// mutated after construction.
type Event struct {
	ID              EventID   `msgpack:"id"`
	Type            string    `msgpack:"type"`
	Timestamp       Timestamp `msgpack:"ts"`
	TransactionTime Timestamp `msgpack:"tx_ts"`
	EntityID        string    `msgpack:"entity_id"`
	CorrelationID   string    `msgpack:"correlation_id,omitempty"`
	CausationID     *EventID  `msgpack:"causation_id"`
	Actor           string    `msgpack:"actor,omitempty"`
	Tags            []string  `msgpack:"tags,omitempty"`
	Payload         Payload   `msgpack:"payload"`
}

// EventOption customizes optional event metadata at construction time.
type EventOption func(*Event)

// WithCorrelationID sets the correlation id used for tracing.
func WithCorrelationID(id string) EventOption {
	return func(e *Event) { e.CorrelationID = id }
}

// WithCausationID records the event that caused this one.
func WithCausationID(id EventID) EventOption {
	return func(e *Event) { e.CausationID = &id }
}

// WithActor records the user or system that produced the event.
func WithActor(actor string) EventOption {
	return func(e *Event) { e.Actor = actor }
}

// WithTags appends tags used for filtering.
func WithTags(tags ...string) EventOption {
	return func(e *Event) { e.Tags = append(e.Tags, tags...) }
}

// NewEvent creates an event with a fresh id and the transaction time set to
// the current wall clock.
func NewEvent(eventType string, ts Timestamp, entityID string, payload Payload, opts ...EventOption) *Event {
	e := &Event{
		ID:              NewEventID(),
		Type:            eventType,
		Timestamp:       ts,
		TransactionTime: Now(),
		EntityID:        entityID,
		Payload:         payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
