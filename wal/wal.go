// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package wal implements the file-backed write-ahead log. Records are
// framed as [u32 crc32][u32 payload_len][payload] in little-endian order,
// where the payload is one encoded event and the CRC covers the payload
// only. The fixed 8-byte header lets replay issue a single bounded read
// before allocating the payload buffer, and makes a trailing partial
// record recognizable by a short read.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/coreos/etcd/pkg/fileutil"

	"github.com/dreamsxin/temporal/types"
)

const recordHeaderLen = 8

// WAL is an append-only record log backed by a single file. It implements
// types.WriteAheadLog. Calls must be externally serialized by the owning
// journal; the internal mutex only protects against misuse.
type WAL struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	closed bool
}

// Open opens (or creates) the WAL file at path. Parent directories are
// created as needed. Existing records are left untouched; use Replay to
// read them back.
func Open(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create wal dir: %v", types.ErrStorage, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal %s: %v", types.ErrStorage, path, err)
	}
	return &WAL{path: path, f: f}, nil
}

// Append writes one record. The bytes are handed to the OS in a single
// write; durability requires a subsequent Flush.
func (w *WAL) Append(e *types.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrClosed
	}

	payload, err := types.EncodeEvent(e)
	if err != nil {
		return err
	}

	buf := make([]byte, recordHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[recordHeaderLen:], payload)

	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("%w: wal append: %v", types.ErrStorage, err)
	}
	return nil
}

// Flush fsyncs the file. All previously appended records survive a process
// or OS crash once Flush returns.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrClosed
	}
	if err := fileutil.Fsync(w.f); err != nil {
		return fmt.Errorf("%w: wal fsync: %v", types.ErrStorage, err)
	}
	return nil
}

// Replay reads records from the beginning in append order and passes each
// decoded event to fn. A torn record at the tail (incomplete header or
// payload) is treated as never committed and ends replay cleanly. A CRC
// mismatch on any other record fails with ErrCorrupt.
func (w *WAL) Replay(fn func(e *types.Event) error) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return types.ErrClosed
	}
	path := w.path
	w.mu.Unlock()

	// Fresh read handle so replay doesn't disturb the append offset.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open wal for replay: %v", types.ErrStorage, err)
	}
	defer f.Close()

	header := make([]byte, recordHeaderLen)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				// Clean end, or a torn header from a crash mid-write.
				return nil
			}
			return fmt.Errorf("%w: wal read: %v", types.ErrStorage, err)
		}
		crc := binary.LittleEndian.Uint32(header[0:4])
		payloadLen := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				// Torn payload at the tail: the append was never
				// acknowledged as durable, elide it.
				return nil
			}
			return fmt.Errorf("%w: wal read: %v", types.ErrStorage, err)
		}

		if actual := crc32.ChecksumIEEE(payload); actual != crc {
			return fmt.Errorf("%w: wal record crc mismatch: expected %08x, got %08x",
				types.ErrCorrupt, crc, actual)
		}

		e, err := types.DecodeEvent(payload)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Clear truncates the log after a durable checkpoint. A following Replay
// yields the empty sequence.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return types.ErrClosed
	}
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("%w: wal truncate: %v", types.ErrStorage, err)
	}
	if err := fileutil.Fsync(w.f); err != nil {
		return fmt.Errorf("%w: wal fsync: %v", types.ErrStorage, err)
	}
	return nil
}

// Close releases the file handle. The WAL content is left on disk for the
// next Open.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

// Path returns the backing file path.
func (w *WAL) Path() string { return w.path }
