// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package wal

import (
	"sync"

	"github.com/dreamsxin/temporal/types"
)

// Memory is an in-memory WriteAheadLog used by tests and by configurations
// that trade durability for speed. Records never survive the process.
type Memory struct {
	mu     sync.Mutex
	events []*types.Event
	closed bool
}

// NewMemory returns an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(e *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrClosed
	}
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrClosed
	}
	return nil
}

func (m *Memory) Replay(fn func(e *types.Event) error) error {
	m.mu.Lock()
	events := make([]*types.Event, len(m.events))
	copy(events, m.events)
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return types.ErrClosed
	}
	for _, e := range events {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrClosed
	}
	m.events = nil
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of records currently held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
