// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"github.com/benbjohnson/immutable"

	"github.com/dreamsxin/temporal/types"
)

// state is an immutable snapshot of the journal's in-memory indexes. It is
// published through an atomic.Value: readers load it without a lock and
// see either the pre- or post-state of any append, never a torn view. Only
// the writer, holding writeMu, builds the next snapshot.
type state struct {
	// timelines maps entity id to its event timeline.
	timelines *immutable.Map[string, *Timeline]

	// byType maps event type to events in append order. The slices are
	// append-only: readers hold a fixed-length header while the writer
	// extends the shared backing array past it.
	byType *immutable.Map[string, []*types.Event]

	// events is the total number of indexed events.
	events uint64
}

func newState() *state {
	return &state{
		timelines: immutable.NewMap[string, *Timeline](nil),
		byType:    immutable.NewMap[string, []*types.Event](nil),
	}
}

// withEvent returns the successor snapshot with e indexed. The receiver is
// not modified.
func (s *state) withEvent(e *types.Event) *state {
	tl, ok := s.timelines.Get(e.EntityID)
	if ok {
		tl = tl.clone()
	} else {
		tl = NewTimeline(e.EntityID)
	}
	tl.Append(e)

	typed, _ := s.byType.Get(e.Type)

	return &state{
		timelines: s.timelines.Set(e.EntityID, tl),
		byType:    s.byType.Set(e.Type, append(typed, e)),
		events:    s.events + 1,
	}
}

func (s *state) timeline(entityID string) (*Timeline, bool) {
	return s.timelines.Get(entityID)
}

func (s *state) eventsByType(eventType string) []*types.Event {
	events, _ := s.byType.Get(eventType)
	return events
}
