// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package temporal implements the durable storage core of an event-sourced
// temporal database: a write-ahead log feeding compressed immutable
// segment files, with indexed in-memory timelines answering point-in-time
// and range queries.
package temporal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/etcd/pkg/fileutil"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreamsxin/temporal/metadb"
	"github.com/dreamsxin/temporal/segment"
	"github.com/dreamsxin/temporal/types"
	"github.com/dreamsxin/temporal/wal"
)

const (
	walFileName  = "wal.log"
	metaFileName = "meta.db"
	lockFileName = "LOCK"
	segmentsDir  = "segments"
)

// Journal is the disk-backed types.EventJournal. Every append goes to the
// WAL first, then to the active segment writer, then into the in-memory
// indexes, so a crash at any point can be recovered by replaying segments
// and the WAL.
//
// The journal is single-writer: Append, Flush, Checkpoint and Close
// serialize on writeMu. Queries are lock-free against an immutable state
// snapshot and may run concurrently with a writer.
type Journal struct {
	closed uint32 // atomically accessed, keep first for alignment.

	dir     string
	wal     types.WriteAheadLog
	meta    types.MetaStore
	manager *segment.Manager
	view    types.MaterializedView
	lock    *fileutil.LockedFile

	reg     prometheus.Registerer
	metrics *journalMetrics
	logger  log.Logger

	segMaxEvents uint32
	segMaxBytes  uint32

	// s is the current index snapshot, readable without a lock. writeMu
	// must be held while replacing it or touching the WAL or segments.
	s       atomic.Value // *state
	writeMu sync.Mutex
}

// Open opens (or initializes) the journal rooted at dir. The directory is
// locked for exclusive use by this process. Existing segments and WAL
// records are replayed into the in-memory indexes; the WAL is left intact
// until the next Checkpoint.
func Open(dir string, opts ...Option) (*Journal, error) {
	j := &Journal{dir: dir}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create journal dir: %v", types.ErrStorage, err)
	}

	ok := false
	defer func() {
		if !ok {
			j.releaseResources()
		}
	}()

	lock, err := fileutil.TryLockFile(filepath.Join(dir, lockFileName),
		os.O_CREATE|os.O_WRONLY, fileutil.PrivateFileMode)
	if err != nil {
		if errors.Is(err, fileutil.ErrLocked) {
			return nil, fmt.Errorf("%w: journal directory %s locked by another process", types.ErrStorage, dir)
		}
		return nil, fmt.Errorf("%w: lock journal dir: %v", types.ErrStorage, err)
	}
	j.lock = lock

	if j.meta == nil {
		m, err := metadb.Open(filepath.Join(dir, metaFileName))
		if err != nil {
			return nil, err
		}
		j.meta = m
	}
	if j.wal == nil {
		w, err := wal.Open(filepath.Join(dir, walFileName))
		if err != nil {
			return nil, err
		}
		j.wal = w
	}

	j.manager, err = segment.NewManager(filepath.Join(dir, segmentsDir), j.logger)
	if err != nil {
		return nil, err
	}
	j.manager.SetLimits(j.segMaxEvents, j.segMaxBytes)

	persisted, err := j.meta.Load()
	if err != nil {
		return nil, err
	}
	// The file scan is authoritative; the persisted id guards against a
	// catalog wiped between checkpoints.
	j.manager.EnsureNextID(persisted.NextSegmentID)

	if err := j.recover(); err != nil {
		return nil, err
	}

	ok = true
	st := j.loadState()
	level.Info(j.logger).Log("msg", "journal opened", "dir", dir,
		"segments", j.manager.SealedCount(), "events", st.events)
	return j, nil
}

// recover rebuilds the in-memory indexes: all sealed segments in catalog
// order, then WAL records not already present in a segment (matched by
// event identity). Replayed WAL events are also re-fed to the segment
// manager so the next checkpoint lands them in a segment.
func (j *Journal) recover() error {
	st := newState()

	segEvents, err := j.manager.ReadAllEvents()
	if err != nil {
		return err
	}
	seen := make(map[types.EventID]struct{}, len(segEvents))
	for _, e := range segEvents {
		st = st.withEvent(e)
		seen[e.ID] = struct{}{}
		if err := j.applyView(e); err != nil {
			return err
		}
	}

	replayed := 0
	err = j.wal.Replay(func(e *types.Event) error {
		if _, dup := seen[e.ID]; dup {
			return nil
		}
		if _, err := j.manager.AppendEvent(e); err != nil {
			return err
		}
		st = st.withEvent(e)
		replayed++
		j.metrics.walRecordsReplayed.Inc()
		return j.applyView(e)
	})
	if err != nil {
		return err
	}
	if replayed > 0 {
		level.Info(j.logger).Log("msg", "replayed wal records", "count", replayed)
	}

	j.s.Store(st)
	return nil
}

func (j *Journal) applyView(e *types.Event) error {
	if j.view == nil {
		return nil
	}
	return j.view.ApplyEvent(e)
}

func (j *Journal) loadState() *state {
	return j.s.Load().(*state)
}

func (j *Journal) checkClosed() error {
	if atomic.LoadUint32(&j.closed) != 0 {
		return types.ErrClosed
	}
	return nil
}

// Append durably records one event and makes it visible to queries. The
// WAL write happens before any other observable effect: if it fails, the
// event is not visible anywhere.
func (j *Journal) Append(e *types.Event) error {
	if err := j.checkClosed(); err != nil {
		return err
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	return j.appendLocked(e)
}

// AppendBatch appends events in order under a single acquisition of the
// write lock.
func (j *Journal) AppendBatch(events []*types.Event) error {
	if err := j.checkClosed(); err != nil {
		return err
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	for _, e := range events {
		if err := j.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) appendLocked(e *types.Event) error {
	if err := j.wal.Append(e); err != nil {
		return err
	}
	j.metrics.eventsWritten.Inc()
	j.metrics.payloadBytesWritten.Add(float64(len(e.Payload.Data)))

	activeSince := j.manager.ActiveSince()
	rotated, err := j.manager.AppendEvent(e)
	if err != nil {
		// The event is durable in the WAL; the indexes are rebuilt from it
		// on the next open. Surface the segment failure to the caller.
		level.Error(j.logger).Log("msg", "segment append failed", "err", err)
		return err
	}

	j.s.Store(j.loadState().withEvent(e))
	if err := j.applyView(e); err != nil {
		return err
	}

	j.metrics.appends.Inc()
	if rotated {
		j.metrics.segmentRotations.Inc()
		if !activeSince.IsZero() {
			j.metrics.lastSegmentAgeSeconds.Set(time.Since(activeSince).Seconds())
		}
	}
	return nil
}

// GetEvents returns the entity's events in the half-open range
// [start, end) in timestamp order.
func (j *Journal) GetEvents(entityID string, start, end types.Timestamp) ([]*types.Event, error) {
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
	events := tl.EventsInRange(start, end)
	j.metrics.eventsRead.Add(float64(len(events)))
	return events, nil
}

// GetEntityEvents returns the entity's whole timeline in timestamp order.
func (j *Journal) GetEntityEvents(entityID string) ([]*types.Event, error) {
	if err := j.checkClosed(); err != nil {
		return nil, err
	}
	tl, ok := j.loadState().timeline(entityID)
	if !ok {
		return nil, nil
	}
	events := tl.Events()
	j.metrics.eventsRead.Add(float64(len(events)))
	return events, nil
}

// GetEventsByType returns events of the given type with timestamps in
// [start, end), in append order.
func (j *Journal) GetEventsByType(eventType string, start, end types.Timestamp) ([]*types.Event, error) {
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
	j.metrics.eventsRead.Add(float64(len(out)))
	return out, nil
}

// GetLatestEvent returns the greatest-timestamp event for the entity with
// timestamp <= at, or nil if there is none.
func (j *Journal) GetLatestEvent(entityID string, at types.Timestamp) (*types.Event, error) {
	if err := j.checkClosed(); err != nil {
		return nil, err
	}
	tl, ok := j.loadState().timeline(entityID)
	if !ok {
		return nil, nil
	}
	e := tl.LatestBefore(at)
	if e != nil {
		j.metrics.eventsRead.Inc()
	}
	return e, nil
}

// Flush fsyncs the WAL and finalizes the active segment.
func (j *Journal) Flush() error {
	if err := j.checkClosed(); err != nil {
		return err
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	if err := j.flushLocked(); err != nil {
		return err
	}
	j.metrics.flushes.Inc()
	return nil
}

func (j *Journal) flushLocked() error {
	if err := j.wal.Flush(); err != nil {
		return err
	}
	return j.manager.Flush()
}

// Checkpoint makes all appended events durable in sealed segments, commits
// the catalog state to the meta store, and truncates the WAL. After a
// checkpoint, recovery needs only the segment files.
func (j *Journal) Checkpoint() error {
	if err := j.checkClosed(); err != nil {
		return err
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	if err := j.flushLocked(); err != nil {
		return err
	}
	err := j.meta.Commit(types.PersistentState{
		NextSegmentID:  j.manager.NextID(),
		SealedSegments: uint64(j.manager.SealedCount()),
		LastCheckpoint: types.Now(),
	})
	if err != nil {
		return err
	}
	if err := j.wal.Clear(); err != nil {
		return err
	}
	j.metrics.checkpoints.Inc()
	return nil
}

// Segments returns the catalog of sealed segment headers in id order.
func (j *Journal) Segments() []segment.Header {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	return j.manager.Segments()
}

// Dir returns the journal directory.
func (j *Journal) Dir() string { return j.dir }

// Close flushes pending writes, seals the active segment and releases the
// WAL, meta store and directory lock. The journal must not be used again.
// Calling Close more than once is a no-op.
func (j *Journal) Close() error {
	if old := atomic.SwapUint32(&j.closed, 1); old != 0 {
		return nil
	}
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	var firstErr error
	if err := j.wal.Flush(); err != nil && !errors.Is(err, types.ErrClosed) {
		level.Error(j.logger).Log("msg", "flush wal on close", "err", err)
		firstErr = err
	}
	if err := j.manager.Flush(); err != nil {
		level.Error(j.logger).Log("msg", "seal segment on close", "err", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := j.releaseResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// releaseResources closes whatever has been acquired so far. Used by both
// Close and the Open error path.
func (j *Journal) releaseResources() error {
	var firstErr error
	if j.manager != nil {
		if err := j.manager.Close(); err != nil {
			firstErr = err
		}
	}
	if j.wal != nil {
		if err := j.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if j.meta != nil {
		if err := j.meta.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if j.lock != nil {
		if err := j.lock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		j.lock = nil
	}
	return firstErr
}
