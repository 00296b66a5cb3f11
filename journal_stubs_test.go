// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/temporal/types"
)

// testWAL stubs types.WriteAheadLog so journal logic can be exercised
// without touching WAL files. Errors can be injected per call.
type testWAL struct {
	mu     sync.Mutex
	events []*types.Event
	calls  map[string]int

	appendErr, flushErr, clearErr error
}

func newTestWAL() *testWAL {
	return &testWAL{calls: make(map[string]int)}
}

func (w *testWAL) recordCall(name string) {
	w.calls[name]++
}

func (w *testWAL) Append(e *types.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordCall("Append")
	if w.appendErr != nil {
		return w.appendErr
	}
	w.events = append(w.events, e)
	return nil
}

func (w *testWAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordCall("Flush")
	return w.flushErr
}

func (w *testWAL) Replay(fn func(e *types.Event) error) error {
	w.mu.Lock()
	events := make([]*types.Event, len(w.events))
	copy(events, w.events)
	w.recordCall("Replay")
	w.mu.Unlock()
	for _, e := range events {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (w *testWAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordCall("Clear")
	if w.clearErr != nil {
		return w.clearErr
	}
	w.events = nil
	return nil
}

func (w *testWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recordCall("Close")
	return nil
}

func (w *testWAL) numEvents() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func (w *testWAL) numCalls(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[name]
}

// testMeta stubs types.MetaStore with an in-memory state.
type testMeta struct {
	mu      sync.Mutex
	state   types.PersistentState
	commits int

	loadErr, commitErr error
}

func newTestMeta() *testMeta {
	return &testMeta{}
}

func (m *testMeta) Load() (types.PersistentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.loadErr
}

func (m *testMeta) Commit(state types.PersistentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.state = state
	m.commits++
	return nil
}

func (m *testMeta) Close() error { return nil }

func (m *testMeta) committed() (types.PersistentState, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.commits
}

// openTestJournal opens a journal over a temp dir with the stub WAL and
// meta store plugged in.
func openTestJournal(t *testing.T, opts ...Option) (*Journal, *testWAL, *testMeta) {
	t.Helper()
	tw := newTestWAL()
	tm := newTestMeta()
	opts = append([]Option{WithWAL(tw), WithMetaStore(tm)}, opts...)
	j, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, tw, tm
}
