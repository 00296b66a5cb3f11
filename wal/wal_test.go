// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/temporal/types"
)

func testEvent(t *testing.T, i int) *types.Event {
	t.Helper()
	payload, err := types.JSONPayload(fmt.Sprintf("value-%d", i))
	require.NoError(t, err)
	return types.NewEvent("test.event", types.TimestampFromSecs(int64(1000+i)), "entity:1", payload)
}

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wal.log")
	w, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func replayAll(t *testing.T, w *WAL) []*types.Event {
	t.Helper()
	var events []*types.Event
	require.NoError(t, w.Replay(func(e *types.Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

func TestWALRoundTrip(t *testing.T) {
	w, _ := openTestWAL(t)

	var appended []*types.Event
	for i := 0; i < 10; i++ {
		e := testEvent(t, i)
		appended = append(appended, e)
		require.NoError(t, w.Append(e))
	}
	require.NoError(t, w.Flush())

	replayed := replayAll(t, w)
	require.Len(t, replayed, len(appended))
	for i, e := range replayed {
		require.Equal(t, appended[i].ID, e.ID)
		require.Equal(t, appended[i].Timestamp, e.Timestamp)
	}
}

func TestWALSurvivesReopen(t *testing.T) {
	w, path := openTestWAL(t)
	e := testEvent(t, 1)
	require.NoError(t, w.Append(e))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	replayed := replayAll(t, w2)
	require.Len(t, replayed, 1)
	require.Equal(t, e.ID, replayed[0].ID)
}

func TestWALTornTailPayload(t *testing.T) {
	w, path := openTestWAL(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(testEvent(t, i)))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	// Chop into the last record's payload. Replay must yield the first two
	// records and no error.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()
	require.Len(t, replayAll(t, w2), 2)
}

func TestWALTornTailHeader(t *testing.T) {
	w, path := openTestWAL(t)
	require.NoError(t, w.Append(testEvent(t, 0)))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	// Leave only half the record header of the single record.
	require.NoError(t, os.Truncate(path, 4))

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()
	require.Empty(t, replayAll(t, w2))
}

func TestWALInteriorCorruption(t *testing.T) {
	w, path := openTestWAL(t)
	require.NoError(t, w.Append(testEvent(t, 0)))
	require.NoError(t, w.Append(testEvent(t, 1)))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	// Flip a payload byte of the first (non-tail) record.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	var b [1]byte
	_, err = f.ReadAt(b[:], recordHeaderLen+2)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b[:], recordHeaderLen+2)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	err = w2.Replay(func(e *types.Event) error { return nil })
	require.ErrorIs(t, err, types.ErrCorrupt)
}

func TestWALClear(t *testing.T) {
	w, _ := openTestWAL(t)
	require.NoError(t, w.Append(testEvent(t, 0)))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Clear())
	require.Empty(t, replayAll(t, w))

	// Still usable after a clear.
	require.NoError(t, w.Append(testEvent(t, 1)))
	require.Len(t, replayAll(t, w), 1)
}

func TestWALClosed(t *testing.T) {
	w, _ := openTestWAL(t)
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Append(testEvent(t, 0)), types.ErrClosed)
	require.ErrorIs(t, w.Flush(), types.ErrClosed)
	require.ErrorIs(t, w.Clear(), types.ErrClosed)
}

func TestMemoryWAL(t *testing.T) {
	m := NewMemory()
	e := testEvent(t, 0)
	require.NoError(t, m.Append(e))
	require.NoError(t, m.Flush())
	require.Equal(t, 1, m.Len())

	var replayed []*types.Event
	require.NoError(t, m.Replay(func(e *types.Event) error {
		replayed = append(replayed, e)
		return nil
	}))
	require.Len(t, replayed, 1)
	require.Equal(t, e.ID, replayed[0].ID)

	require.NoError(t, m.Clear())
	require.Equal(t, 0, m.Len())

	require.NoError(t, m.Close())
	require.ErrorIs(t, m.Append(e), types.ErrClosed)
}
