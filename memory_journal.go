// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dreamsxin/temporal/types"
)

// MemoryJournal is a types.EventJournal with no durability: it keeps only
// the in-memory indexes. Useful for tests and as the backing store of an
// in-memory database.
type MemoryJournal struct {
	closed  uint32
	view    types.MaterializedView
	s       atomic.Value // *state
	writeMu sync.Mutex
}

// NewMemoryJournal creates an empty in-memory journal. view may be nil.
func NewMemoryJournal(view types.MaterializedView) *MemoryJournal {
	j := &MemoryJournal{view: view}
	j.s.Store(newState())
	return j
}

func (j *MemoryJournal) loadState() *state {
	return j.s.Load().(*state)
}

func (j *MemoryJournal) checkClosed() error {
	if atomic.LoadUint32(&j.closed) != 0 {
		return types.ErrClosed
	}
	return nil
}

func (j *MemoryJournal) Append(e *types.Event) error {
	if err := j.checkClosed(); err != nil {
		return err
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	j.s.Store(j.loadState().withEvent(e))
	if j.view != nil {
		return j.view.ApplyEvent(e)
	}
	return nil
}

func (j *MemoryJournal) AppendBatch(events []*types.Event) error {
	for _, e := range events {
		if err := j.Append(e); err != nil {
			return err
		}
	}
	return nil
}

func (j *MemoryJournal) GetEvents(entityID string, start, end types.Timestamp) ([]*types.Event, error) {
	if err := j.checkClosed(); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("%w: malformed time range [%d, %d)", types.ErrTemporal, start.Nanos(), end.Nanos())
	}
	tl, ok := j.loadState().timeline(entityID)
	if !ok {
		return nil, nil
	}
	return tl.EventsInRange(start, end), nil
}

func (j *MemoryJournal) GetEntityEvents(entityID string) ([]*types.Event, error) {
	if err := j.checkClosed(); err != nil {
		return nil, err
	}
	tl, ok := j.loadState().timeline(entityID)
	if !ok {
		return nil, nil
	}
	return tl.Events(), nil
}

func (j *MemoryJournal) GetEventsByType(eventType string, start, end types.Timestamp) ([]*types.Event, error) {
	if err := j.checkClosed(); err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("%w: malformed time range [%d, %d)", types.ErrTemporal, start.Nanos(), end.Nanos())
	}
	var out []*types.Event
	for _, e := range j.loadState().eventsByType(eventType) {
		if e.Timestamp >= start && e.Timestamp < end {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *MemoryJournal) GetLatestEvent(entityID string, at types.Timestamp) (*types.Event, error) {
	if err := j.checkClosed(); err != nil {
		return nil, err
	}
	tl, ok := j.loadState().timeline(entityID)
	if !ok {
		return nil, nil
	}
	return tl.LatestBefore(at), nil
}

func (j *MemoryJournal) Flush() error {
	return j.checkClosed()
}

func (j *MemoryJournal) Close() error {
	atomic.StoreUint32(&j.closed, 1)
	return nil
}
