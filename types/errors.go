// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package types

import "errors"

// Error kinds. Operations return one of these wrapped with context via
// fmt.Errorf("%w: ..."); callers match with errors.Is.
var (
	// ErrStorage indicates file I/O failures, invalid headers, failed
	// decompression and other faults of the durable layer.
	ErrStorage = errors.New("storage error")

	// ErrCorrupt indicates data that is present but fails integrity
	// verification: a CRC mismatch or a truncated interior block.
	ErrCorrupt = errors.New("corrupt data")

	// ErrSerialization indicates an event could not be encoded or decoded.
	ErrSerialization = errors.New("serialization error")

	// ErrTemporal indicates a timestamp outside the accepted bounds or a
	// malformed time range.
	ErrTemporal = errors.New("temporal error")

	// ErrNotFound indicates the requested entity or event does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSealed indicates an append to a finalized segment.
	ErrSealed = errors.New("segment sealed")

	// ErrClosed indicates use of a journal or log after Close.
	ErrClosed = errors.New("closed")
)
