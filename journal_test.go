// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package temporal

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/dreamsxin/temporal/types"
	"github.com/dreamsxin/temporal/wal"
)

func TestJournalAppendAndQuery(t *testing.T) {
	j, tw, _ := openTestJournal(t)

	e1 := makeEvent(t, "user:1", 1000)
	e2 := makeEvent(t, "user:1", 2000)
	e3 := makeEvent(t, "user:2", 1500)
	require.NoError(t, j.Append(e1))
	require.NoError(t, j.Append(e2))
	require.NoError(t, j.Append(e3))

	// Every append hit the WAL first.
	require.Equal(t, 3, tw.numEvents())

	events, err := j.GetEntityEvents("user:1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, e1.ID, events[0].ID)
	require.Equal(t, e2.ID, events[1].ID)

	events, err = j.GetEvents("user:1", types.TimestampFromSecs(1500), types.TimestampFromSecs(2500))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, e2.ID, events[0].ID)

	latest, err := j.GetLatestEvent("user:1", types.TimestampFromSecs(1500))
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, e1.ID, latest.ID)

	latest, err = j.GetLatestEvent("user:1", types.TimestampFromSecs(500))
	require.NoError(t, err)
	require.Nil(t, latest)

	latest, err = j.GetLatestEvent("user:404", types.TimestampFromSecs(5000))
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestJournalEventsByType(t *testing.T) {
	j, _, _ := openTestJournal(t)

	payload, err := types.JSONPayload("x")
	require.NoError(t, err)
	a := types.NewEvent("type.a", types.TimestampFromSecs(1000), "user:1", payload)
	b := types.NewEvent("type.b", types.TimestampFromSecs(1500), "user:1", payload)
	c := types.NewEvent("type.a", types.TimestampFromSecs(2000), "user:2", payload)
	require.NoError(t, j.AppendBatch([]*types.Event{a, b, c}))

	events, err := j.GetEventsByType("type.a", types.TimestampFromSecs(0), types.TimestampFromSecs(9000))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, a.ID, events[0].ID)
	require.Equal(t, c.ID, events[1].ID)

	// [start, end) filtering.
	events, err = j.GetEventsByType("type.a", types.TimestampFromSecs(0), types.TimestampFromSecs(2000))
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = j.GetEventsByType("type.missing", types.TimestampFromSecs(0), types.TimestampFromSecs(9000))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestJournalMalformedRange(t *testing.T) {
	j, _, _ := openTestJournal(t)
	_, err := j.GetEvents("user:1", types.TimestampFromSecs(2000), types.TimestampFromSecs(1000))
	require.ErrorIs(t, err, types.ErrTemporal)
	_, err = j.GetEventsByType("type.a", types.TimestampFromSecs(2000), types.TimestampFromSecs(1000))
	require.ErrorIs(t, err, types.ErrTemporal)
}

func TestJournalWALFirst(t *testing.T) {
	j, tw, _ := openTestJournal(t)

	tw.appendErr = errors.New("disk full")
	err := j.Append(makeEvent(t, "user:1", 1000))
	require.Error(t, err)

	// A failed WAL write leaves no trace anywhere.
	events, err := j.GetEntityEvents("user:1")
	require.NoError(t, err)
	require.Empty(t, events)
	require.Empty(t, j.Segments())
}

func TestJournalFlushSealsSegment(t *testing.T) {
	j, tw, _ := openTestJournal(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, j.Append(makeEvent(t, "user:1", int64(1000+i))))
	}
	require.Empty(t, j.Segments())

	require.NoError(t, j.Flush())
	require.GreaterOrEqual(t, tw.numCalls("Flush"), 1)

	segments := j.Segments()
	require.Len(t, segments, 1)
	require.Equal(t, uint32(3), segments[0].EventCount)
	require.True(t, segments[0].Compressed())
}

func TestJournalCheckpoint(t *testing.T) {
	j, tw, tm := openTestJournal(t)

	require.NoError(t, j.Append(makeEvent(t, "user:1", 1000)))
	require.NoError(t, j.Checkpoint())

	// The WAL is truncated only after the segment flush and the meta
	// commit.
	require.Equal(t, 1, tw.numCalls("Clear"))
	require.Equal(t, 0, tw.numEvents())

	state, commits := tm.committed()
	require.Equal(t, 1, commits)
	require.Equal(t, uint64(2), state.NextSegmentID)
	require.Equal(t, uint64(1), state.SealedSegments)
	require.NotZero(t, state.LastCheckpoint)
}

func TestJournalRecovery(t *testing.T) {
	dir := t.TempDir()
	logger := log.NewNopLogger()

	j, err := Open(dir, WithLogger(logger))
	require.NoError(t, err)

	var ids []types.EventID
	for i := 0; i < 3; i++ {
		e := makeEvent(t, "user:1", int64(1000+i))
		ids = append(ids, e.ID)
		require.NoError(t, j.Append(e))
	}
	// Seal the first three into a segment; the WAL still holds them.
	require.NoError(t, j.Flush())

	for i := 3; i < 5; i++ {
		e := makeEvent(t, "user:1", int64(1000+i))
		ids = append(ids, e.ID)
		require.NoError(t, j.Append(e))
	}
	require.NoError(t, j.wal.Flush())

	// Simulate a crash: release files without sealing the active segment.
	require.NoError(t, j.releaseResources())

	// Recovery replays 3 events from the sealed segment and re-applies the
	// 2 WAL-only events, deduplicating the overlap by event id.
	j2, err := Open(dir, WithLogger(logger))
	require.NoError(t, err)
	defer j2.Close()

	events, err := j2.GetEntityEvents("user:1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, e := range events {
		require.Equal(t, ids[i], e.ID)
	}

	// A checkpoint lands the WAL-only events in segments; recovery then
	// needs no WAL at all.
	require.NoError(t, j2.Checkpoint())
	require.NoError(t, j2.Close())

	j3, err := Open(dir, WithLogger(logger))
	require.NoError(t, err)
	defer j3.Close()
	events, err = j3.GetEntityEvents("user:1")
	require.NoError(t, err)
	require.Len(t, events, 5)
}

func TestJournalRecoveryContinuesSegmentIDs(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(makeEvent(t, "user:1", 1000)))
	require.NoError(t, j.Flush())
	require.NoError(t, j.Append(makeEvent(t, "user:1", 2000)))
	require.NoError(t, j.Flush())
	segments := j.Segments()
	require.Len(t, segments, 2)
	require.Equal(t, uint64(1), segments[0].ID)
	require.Equal(t, uint64(2), segments[1].ID)
	require.NoError(t, j.Close())

	j2, err := Open(dir)
	require.NoError(t, err)
	defer j2.Close()
	require.NoError(t, j2.Append(makeEvent(t, "user:1", 3000)))
	require.NoError(t, j2.Flush())
	segments = j2.Segments()
	require.Len(t, segments, 3)
	require.Equal(t, uint64(3), segments[2].ID)
}

func TestJournalDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	require.NoError(t, err)
	defer j.Close()

	_, err = Open(dir)
	require.ErrorIs(t, err, types.ErrStorage)
}

func TestJournalClosed(t *testing.T) {
	j, _, _ := openTestJournal(t)
	require.NoError(t, j.Close())

	require.ErrorIs(t, j.Append(makeEvent(t, "user:1", 1000)), types.ErrClosed)
	require.ErrorIs(t, j.Flush(), types.ErrClosed)
	require.ErrorIs(t, j.Checkpoint(), types.ErrClosed)
	_, err := j.GetEntityEvents("user:1")
	require.ErrorIs(t, err, types.ErrClosed)

	// Double close is a no-op.
	require.NoError(t, j.Close())
}

func TestJournalMaterializedView(t *testing.T) {
	view := NewMemoryView()
	j, _, _ := openTestJournal(t, WithMaterializedView(view))

	require.NoError(t, j.Append(makeEvent(t, "user:1", 1000)))
	require.NoError(t, j.Append(makeEvent(t, "user:1", 2000)))

	data, ok, err := view.GetCurrentRaw("user:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `"v@2000"`, string(data))
}

func TestJournalViewRebuiltOnRecovery(t *testing.T) {
	dir := t.TempDir()

	view := NewMemoryView()
	j, err := Open(dir, WithMaterializedView(view))
	require.NoError(t, err)
	require.NoError(t, j.Append(makeEvent(t, "user:1", 1000)))
	require.NoError(t, j.Append(makeEvent(t, "user:1", 2000)))
	require.NoError(t, j.Close())

	view2 := NewMemoryView()
	j2, err := Open(dir, WithMaterializedView(view2))
	require.NoError(t, err)
	defer j2.Close()

	data, ok, err := view2.GetCurrentRaw("user:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `"v@2000"`, string(data))
}

func TestJournalConcurrentReaders(t *testing.T) {
	j, _, _ := openTestJournal(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := j.Append(makeEvent(t, "user:1", int64(1000+i))); err != nil {
				panic(err)
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				events, err := j.GetEntityEvents("user:1")
				if err != nil {
					panic(err)
				}
				// A reader sees a prefix of the append sequence, never a
				// torn view.
				for k := 1; k < len(events); k++ {
					if events[k-1].Timestamp > events[k].Timestamp {
						panic(fmt.Sprintf("unordered snapshot at %d", k))
					}
				}
			}
		}()
	}
	wg.Wait()

	events, err := j.GetEntityEvents("user:1")
	require.NoError(t, err)
	require.Len(t, events, 200)
}

func TestJournalRotationThroughAppend(t *testing.T) {
	j, _, _ := openTestJournal(t, WithSegmentLimits(100, 0))

	for i := 0; i < 250; i++ {
		require.NoError(t, j.Append(makeEvent(t, "user:1", int64(1000+i))))
	}
	require.NoError(t, j.Flush())

	segments := j.Segments()
	require.Len(t, segments, 3)
	require.Equal(t, uint32(100), segments[0].EventCount)
	require.Equal(t, uint32(100), segments[1].EventCount)
	require.Equal(t, uint32(50), segments[2].EventCount)

	events, err := j.GetEntityEvents("user:1")
	require.NoError(t, err)
	require.Len(t, events, 250)
}

func BenchmarkJournalAppend(b *testing.B) {
	for _, size := range []int{10, 1024} {
		b.Run(fmt.Sprintf("payloadSize=%d", size), func(b *testing.B) {
			j, err := Open(b.TempDir(), WithWAL(wal.NewMemory()), WithMetaStore(newTestMeta()))
			if err != nil {
				b.Fatal(err)
			}
			defer j.Close()

			payload := types.Payload{Data: make([]byte, size), Format: types.FormatJSON}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				e := types.NewEvent("bench.event", types.TimestampFromNanos(int64(i)), "entity:1", payload)
				if err := j.Append(e); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
