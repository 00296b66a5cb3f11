// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"sync"

	"github.com/dreamsxin/temporal/types"
)

// MemoryView is an in-memory types.MaterializedView holding the latest
// payload per entity. It records the most recently *applied* event, which
// under monotonic append order is also the temporally latest; point-in-time
// truth is always the journal's, not the view's.
type MemoryView struct {
	mu    sync.RWMutex
	state map[string][]byte
}

// NewMemoryView returns an empty view.
func NewMemoryView() *MemoryView {
	return &MemoryView{state: make(map[string][]byte)}
}

// ApplyEvent replaces the entity's entry with the event payload.
func (v *MemoryView) ApplyEvent(e *types.Event) error {
	v.mu.Lock()
	v.state[e.EntityID] = e.Payload.Data
	v.mu.Unlock()
	return nil
}

// GetCurrentRaw returns the latest payload bytes for the entity.
func (v *MemoryView) GetCurrentRaw(entityID string) ([]byte, bool, error) {
	v.mu.RLock()
	data, ok := v.state[entityID]
	v.mu.RUnlock()
	return data, ok, nil
}

// Len returns the number of entities tracked.
func (v *MemoryView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.state)
}
