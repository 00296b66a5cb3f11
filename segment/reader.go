// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/dreamsxin/temporal/types"
)

// Reader reads events back out of a sealed segment file.
type Reader struct {
	path   string
	f      *os.File
	dec    *zstd.Decoder
	header Header
}

// Open opens a segment file and validates its header. A wrong magic or an
// unsupported version is a storage error.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open segment %s: %v", types.ErrStorage, path, err)
	}

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read segment header: %v", types.ErrStorage, err)
	}
	header, err := decodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: init zstd decoder: %v", types.ErrStorage, err)
	}

	return &Reader{path: path, f: f, dec: dec, header: header}, nil
}

// ReadEvents returns every event in the segment in write order. For
// compressed segments the rolling CRC over the compressed blocks is
// verified against the header checksum; a mismatch or a truncated block is
// an error. Uncompressed segments (the legacy layout) are parsed as bare
// length-prefixed events without a checksum.
func (r *Reader) ReadEvents() ([]*types.Event, error) {
	if _, err := r.f.Seek(HeaderSize, 0); err != nil {
		return nil, fmt.Errorf("%w: seek past header: %v", types.ErrStorage, err)
	}

	if !r.header.Compressed() {
		if r.header.EventCount == 0 {
			// Empty or never-finalized segment: the header says there is
			// nothing to read. Anything in the body belongs to a writer
			// that died before finalize and is recovered from the WAL.
			return nil, nil
		}
		return r.readLegacy()
	}

	var events []*types.Event
	crc := crc32.NewIEEE()
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r.f, lenBuf[:]); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("%w: read block length: %v", types.ErrStorage, err)
		}
		blockLen := binary.LittleEndian.Uint32(lenBuf[:])

		block := make([]byte, blockLen)
		if _, err := io.ReadFull(r.f, block); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: truncated segment block", types.ErrCorrupt)
			}
			return nil, fmt.Errorf("%w: read block: %v", types.ErrStorage, err)
		}
		crc.Write(block)

		raw, err := r.dec.DecodeAll(block, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decompression failed: %v", types.ErrStorage, err)
		}

		blockEvents, err := parseEvents(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, blockEvents...)
	}

	if actual := crc.Sum32(); actual != r.header.Checksum {
		return nil, fmt.Errorf("%w: segment checksum mismatch: expected %08x, got %08x",
			types.ErrCorrupt, r.header.Checksum, actual)
	}
	return events, nil
}

// readLegacy parses an uncompressed body of bare length-prefixed events.
func (r *Reader) readLegacy() ([]*types.Event, error) {
	var events []*types.Event
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r.f, lenBuf[:]); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return events, nil
			}
			return nil, fmt.Errorf("%w: read event length: %v", types.ErrStorage, err)
		}
		eventLen := binary.LittleEndian.Uint32(lenBuf[:])

		payload := make([]byte, eventLen)
		if _, err := io.ReadFull(r.f, payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: truncated event record", types.ErrCorrupt)
			}
			return nil, fmt.Errorf("%w: read event: %v", types.ErrStorage, err)
		}

		e, err := types.DecodeEvent(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
}

// parseEvents splits a decompressed block into its length-prefixed events.
func parseEvents(raw []byte) ([]*types.Event, error) {
	var events []*types.Event
	offset := 0
	for offset < len(raw) {
		if offset+4 > len(raw) {
			return nil, fmt.Errorf("%w: truncated event length in block", types.ErrCorrupt)
		}
		eventLen := int(binary.LittleEndian.Uint32(raw[offset : offset+4]))
		offset += 4
		if offset+eventLen > len(raw) {
			return nil, fmt.Errorf("%w: truncated event data in block", types.ErrCorrupt)
		}
		e, err := types.DecodeEvent(raw[offset : offset+eventLen])
		if err != nil {
			return nil, err
		}
		events = append(events, e)
		offset += eventLen
	}
	return events, nil
}

// Header returns the segment's validated header.
func (r *Reader) Header() Header { return r.header }

// Path returns the segment file path.
func (r *Reader) Path() string { return r.path }

// Close implements io.Closer.
func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
