// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package segment implements the immutable on-disk event containers: a
// 64-byte header followed by length-framed ZSTD-compressed blocks of
// encoded events, plus the manager that allocates and rotates them.
package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dreamsxin/temporal/types"
)

// On-disk format constants. All multi-byte fields are little-endian.
const (
	// HeaderSize is the fixed size of the segment file header.
	HeaderSize = 64

	// Version is the only supported segment format version.
	Version = 1

	// MaxEventsPerSegment triggers rotation when an active segment reaches
	// this many events.
	MaxEventsPerSegment = 1_000_000

	// MaxSegmentBytes triggers rotation when the compressed body reaches
	// this size.
	MaxSegmentBytes = 100 * 1024 * 1024

	// ZstdLevel is the compression level for data blocks.
	ZstdLevel = 3

	// flushThreshold is how many buffered events a writer accumulates
	// before compressing them into a block.
	flushThreshold = 1000

	// FlagCompressed marks a segment whose body is ZSTD block framed.
	FlagCompressed uint8 = 0x01

	fileSuffix = ".seg"
)

var magic = [5]byte{'T', 'E', 'M', 'P', '0'}

// Full timestamp domain used for segments whose bounds are not derived
// from their contents.
const (
	MinTime = types.Timestamp(math.MinInt64 + 1)
	MaxTime = types.Timestamp(math.MaxInt64)
)

// Header describes a segment file. After finalize the header fields match
// the block stream and never change again.
type Header struct {
	ID             uint64
	StartTime      types.Timestamp
	EndTime        types.Timestamp
	EventCount     uint32
	CompressedSize uint32
	Checksum       uint32
	Flags          uint8
}

func newHeader(id uint64, start, end types.Timestamp) Header {
	return Header{ID: id, StartTime: start, EndTime: end}
}

// Compressed reports whether the body is block-compressed.
func (h Header) Compressed() bool {
	return h.Flags&FlagCompressed != 0
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:5], magic[:])
	buf[5] = Version
	// buf[6:8] reserved, zero.
	binary.LittleEndian.PutUint64(buf[8:16], h.ID)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.StartTime))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.EndTime))
	binary.LittleEndian.PutUint32(buf[32:36], h.EventCount)
	binary.LittleEndian.PutUint32(buf[36:40], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[40:44], h.Checksum)
	buf[44] = h.Flags
	// buf[45:64] padding, zero.
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: segment header too short: %d bytes", types.ErrStorage, len(buf))
	}
	if !bytes.Equal(buf[0:5], magic[:]) {
		return Header{}, fmt.Errorf("%w: bad segment magic %q", types.ErrStorage, buf[0:5])
	}
	if buf[5] != Version {
		return Header{}, fmt.Errorf("%w: unsupported segment version %d", types.ErrStorage, buf[5])
	}
	return Header{
		ID:             binary.LittleEndian.Uint64(buf[8:16]),
		StartTime:      types.Timestamp(binary.LittleEndian.Uint64(buf[16:24])),
		EndTime:        types.Timestamp(binary.LittleEndian.Uint64(buf[24:32])),
		EventCount:     binary.LittleEndian.Uint32(buf[32:36]),
		CompressedSize: binary.LittleEndian.Uint32(buf[36:40]),
		Checksum:       binary.LittleEndian.Uint32(buf[40:44]),
		Flags:          buf[44],
	}, nil
}

// FileName returns the canonical file name for a segment id, zero-padded so
// that lexicographic order equals numeric order.
func FileName(id uint64) string {
	return fmt.Sprintf("segment-%020d%s", id, fileSuffix)
}

// ParseFileName extracts the segment id from a canonical file name.
func ParseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "segment-") || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "segment-"), fileSuffix)
	if len(digits) != 20 {
		return 0, false
	}
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
