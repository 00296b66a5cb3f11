// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/coreos/etcd/pkg/fileutil"
	"github.com/klauspost/compress/zstd"

	"github.com/dreamsxin/temporal/types"
)

// Writer builds a segment file. Events accumulate in an in-memory buffer
// and are compressed into a block each time the buffer reaches the flush
// threshold; Finalize compresses the remainder, rewrites the header with
// the final counters and checksum, and seals the file.
//
// A Writer is single-owner and not safe for concurrent use.
type Writer struct {
	path   string
	f      *os.File
	enc    *zstd.Encoder
	header Header
	buf    []*types.Event
	offset int64
	crc    hash.Hash32
	sealed bool
}

// Create creates a segment file at path, writing an initial header with
// zero counters. Events appended later must have valid time within
// [start, end).
func Create(path string, id uint64, start, end types.Timestamp) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create segment dir: %v", types.ErrStorage, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create segment %s: %v", types.ErrStorage, path, err)
	}

	header := newHeader(id, start, end)
	if _, err := f.Write(encodeHeader(header)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: write segment header: %v", types.ErrStorage, err)
	}
	if err := fileutil.Fsync(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: fsync segment header: %v", types.ErrStorage, err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(ZstdLevel)))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: init zstd encoder: %v", types.ErrStorage, err)
	}

	return &Writer{
		path:   path,
		f:      f,
		enc:    enc,
		header: header,
		offset: HeaderSize,
		crc:    crc32.NewIEEE(),
	}, nil
}

// Append buffers one event. Events with valid time outside the segment's
// [start, end) bounds are rejected without mutating the writer.
func (w *Writer) Append(e *types.Event) error {
	if w.sealed {
		return types.ErrSealed
	}
	if e.Timestamp < w.header.StartTime || e.Timestamp >= w.header.EndTime {
		return fmt.Errorf("%w: event timestamp %d outside segment range [%d, %d)",
			types.ErrTemporal, e.Timestamp.Nanos(), w.header.StartTime.Nanos(), w.header.EndTime.Nanos())
	}

	w.buf = append(w.buf, e)
	w.header.EventCount++

	if len(w.buf) >= flushThreshold {
		return w.flushBuffer()
	}
	return nil
}

// flushBuffer serializes the buffered events with length prefixes,
// compresses them into one block, folds the compressed bytes into the
// rolling checksum and writes the block to the file. A failure here leaves
// the writer in an undefined state; the caller must drop it.
func (w *Writer) flushBuffer() error {
	if len(w.buf) == 0 {
		return nil
	}

	var raw []byte
	var lenBuf [4]byte
	for _, e := range w.buf {
		payload, err := types.EncodeEvent(e)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		raw = append(raw, lenBuf[:]...)
		raw = append(raw, payload...)
	}

	compressed := w.enc.EncodeAll(raw, nil)
	w.crc.Write(compressed)

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := w.f.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: write block length: %v", types.ErrStorage, err)
	}
	if _, err := w.f.Write(compressed); err != nil {
		return fmt.Errorf("%w: write block: %v", types.ErrStorage, err)
	}
	w.offset += 4 + int64(len(compressed))

	w.header.Flags |= FlagCompressed
	w.header.CompressedSize = uint32(w.offset - HeaderSize)
	w.buf = w.buf[:0]
	return nil
}

// Finalize flushes the remaining buffer, rewrites the header with the
// final checksum and fsyncs. The file never changes after Finalize
// returns; the sealed header is returned for the catalog.
func (w *Writer) Finalize() (Header, error) {
	if w.sealed {
		return Header{}, types.ErrSealed
	}
	if err := w.flushBuffer(); err != nil {
		return Header{}, err
	}

	w.header.Checksum = w.crc.Sum32()

	if _, err := w.f.Seek(0, 0); err != nil {
		return Header{}, fmt.Errorf("%w: seek segment header: %v", types.ErrStorage, err)
	}
	if _, err := w.f.Write(encodeHeader(w.header)); err != nil {
		return Header{}, fmt.Errorf("%w: rewrite segment header: %v", types.ErrStorage, err)
	}
	if err := fileutil.Fsync(w.f); err != nil {
		return Header{}, fmt.Errorf("%w: fsync segment: %v", types.ErrStorage, err)
	}
	w.sealed = true

	err := w.f.Close()
	w.enc.Close()
	if err != nil {
		return Header{}, fmt.Errorf("%w: close segment: %v", types.ErrStorage, err)
	}
	return w.header, nil
}

// Close abandons the writer without finalizing. Blocks already flushed
// remain on disk; the header keeps its zero counters so readers treat the
// file as empty and recovery re-derives the events from the WAL.
func (w *Writer) Close() error {
	if w.sealed {
		return nil
	}
	w.sealed = true
	w.enc.Close()
	return w.f.Close()
}

// Header returns a snapshot of the writer's current header, including
// events still in the buffer.
func (w *Writer) Header() Header { return w.header }

// Path returns the segment file path.
func (w *Writer) Path() string { return w.path }
