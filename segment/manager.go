// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/dreamsxin/temporal/types"
)

// Manager owns a directory of segment files: an ordered catalog of sealed
// headers plus at most one active writer. It is driven entirely by the
// journal's write lock and is not safe for concurrent use on its own.
type Manager struct {
	dir    string
	logger log.Logger

	active      *Writer
	activeSince time.Time
	nextID      uint64
	segments    []Header

	// maxEvents and maxBytes are the rotation thresholds. They default to
	// the format constants; tests lower them to exercise rotation.
	maxEvents uint32
	maxBytes  uint32
}

// NewManager opens dir, scans any existing segment files, rebuilds the
// catalog sorted by id and continues id allocation at max(existing)+1.
func NewManager(dir string, logger log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create segment dir: %v", types.ErrStorage, err)
	}

	m := &Manager{
		dir:       dir,
		logger:    logger,
		nextID:    1,
		maxEvents: MaxEventsPerSegment,
		maxBytes:  MaxSegmentBytes,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list segment dir: %v", types.ErrStorage, err)
	}
	for _, entry := range entries {
		id, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		r, err := Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("scan segment %d: %w", id, err)
		}
		header := r.Header()
		if err := r.Close(); err != nil {
			return nil, fmt.Errorf("%w: close segment %d: %v", types.ErrStorage, id, err)
		}
		m.segments = append(m.segments, header)
		if id >= m.nextID {
			m.nextID = id + 1
		}
	}
	sort.Slice(m.segments, func(i, j int) bool { return m.segments[i].ID < m.segments[j].ID })

	return m, nil
}

// SetLimits overrides the rotation thresholds. The defaults are the format
// constants; embedders and tests lower them to rotate more often.
func (m *Manager) SetLimits(maxEvents, maxBytes uint32) {
	if maxEvents > 0 {
		m.maxEvents = maxEvents
	}
	if maxBytes > 0 {
		m.maxBytes = maxBytes
	}
}

// EnsureNextID raises the next allocated id to at least id. Used to
// reconcile the file scan with the persisted checkpoint state.
func (m *Manager) EnsureNextID(id uint64) {
	if id > m.nextID {
		m.nextID = id
	}
}

// NextID returns the id the next opened segment will get.
func (m *Manager) NextID() uint64 { return m.nextID }

func (m *Manager) segmentPath(id uint64) string {
	return filepath.Join(m.dir, FileName(id))
}

func (m *Manager) openNewSegment() error {
	id := m.nextID
	// Segment bounds stay at the full timestamp domain; tighter bounds are
	// not derived from incoming events.
	w, err := Create(m.segmentPath(id), id, MinTime, MaxTime)
	if err != nil {
		return err
	}
	m.nextID++
	m.active = w
	m.activeSince = time.Now()
	m.syncDir()
	level.Debug(m.logger).Log("msg", "opened segment", "id", id)
	return nil
}

// AppendEvent routes one event into the active writer, opening a fresh
// segment first if none is active, then rotates if the writer crossed a
// threshold. It reports whether a rotation sealed a segment.
func (m *Manager) AppendEvent(e *types.Event) (rotated bool, err error) {
	if m.active == nil {
		if err := m.openNewSegment(); err != nil {
			return false, err
		}
	}
	if err := m.active.Append(e); err != nil {
		if !errors.Is(err, types.ErrTemporal) {
			// The writer is in an undefined state after a flush failure;
			// drop it. Flushed blocks stay on disk and the events are
			// recovered from the WAL.
			m.active.Close()
			m.active = nil
		}
		return false, err
	}
	return m.rotateIfNeeded()
}

func (m *Manager) rotateIfNeeded() (bool, error) {
	if m.active == nil {
		return false, nil
	}
	header := m.active.Header()
	if header.EventCount < m.maxEvents && header.CompressedSize < m.maxBytes {
		return false, nil
	}
	if err := m.sealActive(); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) sealActive() error {
	w := m.active
	m.active = nil
	header, err := w.Finalize()
	if err != nil {
		w.Close()
		return err
	}
	m.segments = append(m.segments, header)
	m.syncDir()
	level.Info(m.logger).Log("msg", "sealed segment", "id", header.ID,
		"events", header.EventCount, "bytes", header.CompressedSize)
	return nil
}

// Flush finalizes the active writer, if any, and pushes its header into
// the catalog. The next append opens a fresh segment.
func (m *Manager) Flush() error {
	if m.active == nil {
		return nil
	}
	return m.sealActive()
}

// ActiveSince returns when the active segment was opened, or zero time if
// no writer is active.
func (m *Manager) ActiveSince() time.Time {
	if m.active == nil {
		return time.Time{}
	}
	return m.activeSince
}

// SealedCount returns the number of sealed segments in the catalog.
func (m *Manager) SealedCount() int { return len(m.segments) }

// Segments returns a copy of the catalog in id order.
func (m *Manager) Segments() []Header {
	out := make([]Header, len(m.segments))
	copy(out, m.segments)
	return out
}

// ReadAllEvents iterates the catalog in order and concatenates the events
// of every sealed segment. Used for recovery and cold reads.
func (m *Manager) ReadAllEvents() ([]*types.Event, error) {
	var all []*types.Event
	for _, header := range m.segments {
		r, err := Open(m.segmentPath(header.ID))
		if err != nil {
			return nil, err
		}
		events, err := r.ReadEvents()
		closeErr := r.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, fmt.Errorf("%w: close segment %d: %v", types.ErrStorage, header.ID, closeErr)
		}
		all = append(all, events...)
	}
	return all, nil
}

// Close abandons the active writer without sealing it. Buffered events are
// lost from the segment but remain in the WAL.
func (m *Manager) Close() error {
	if m.active == nil {
		return nil
	}
	err := m.active.Close()
	m.active = nil
	return err
}

// Dir returns the segment directory.
func (m *Manager) Dir() string { return m.dir }

// syncDir fsyncs the directory entry so freshly created or sealed files
// survive power loss. Failure is logged, not fatal.
func (m *Manager) syncDir() {
	d, err := os.Open(m.dir)
	if err != nil {
		level.Error(m.logger).Log("msg", "open segment dir for fsync", "err", err)
		return
	}
	if err := d.Sync(); err != nil {
		level.Error(m.logger).Log("msg", "fsync segment dir", "err", err)
	}
	d.Close()
}
