// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package crdt defines the conflict-free replicated data type contracts the
// distributed layer merges timelines with, plus the reference register,
// set and counter implementations.
package crdt

import (
	"github.com/dreamsxin/temporal/types"
)

// CRDT is the capability contract: merging two replicas must be
// commutative, associative and idempotent.
type CRDT[T any] interface {
	Merge(other T)
}

// Resolve merges a remote replica into the local one.
func Resolve[T CRDT[T]](local, remote T) {
	local.Merge(remote)
}

// LWWRegister is a last-writer-wins register: the value with the greatest
// timestamp survives a merge, ties favoring the incoming write.
type LWWRegister[T any] struct {
	value T
	ts    types.Timestamp
}

// NewLWWRegister creates a register holding value as of ts.
func NewLWWRegister[T any](value T, ts types.Timestamp) *LWWRegister[T] {
	return &LWWRegister[T]{value: value, ts: ts}
}

// Value returns the current value.
func (r *LWWRegister[T]) Value() T { return r.value }

// Timestamp returns when the current value was written.
func (r *LWWRegister[T]) Timestamp() types.Timestamp { return r.ts }

// Set replaces the value if ts is not older than the current write.
func (r *LWWRegister[T]) Set(value T, ts types.Timestamp) {
	if ts >= r.ts {
		r.value = value
		r.ts = ts
	}
}

// Merge implements CRDT.
func (r *LWWRegister[T]) Merge(other *LWWRegister[T]) {
	if other.ts >= r.ts {
		r.value = other.value
		r.ts = other.ts
	}
}

// GSet is a grow-only set.
type GSet[T comparable] struct {
	elems map[T]struct{}
}

// NewGSet creates an empty set.
func NewGSet[T comparable]() *GSet[T] {
	return &GSet[T]{elems: make(map[T]struct{})}
}

// Add inserts an element.
func (s *GSet[T]) Add(elem T) {
	s.elems[elem] = struct{}{}
}

// Contains reports membership.
func (s *GSet[T]) Contains(elem T) bool {
	_, ok := s.elems[elem]
	return ok
}

// Len returns the number of elements.
func (s *GSet[T]) Len() int { return len(s.elems) }

// Elements returns the members in unspecified order.
func (s *GSet[T]) Elements() []T {
	out := make([]T, 0, len(s.elems))
	for e := range s.elems {
		out = append(out, e)
	}
	return out
}

// Merge implements CRDT as set union.
func (s *GSet[T]) Merge(other *GSet[T]) {
	for e := range other.elems {
		s.elems[e] = struct{}{}
	}
}

// GCounter is a grow-only counter with one slot per node.
type GCounter struct {
	counts map[string]uint64
}

// NewGCounter creates a zero counter.
func NewGCounter() *GCounter {
	return &GCounter{counts: make(map[string]uint64)}
}

// Increment adds delta to the given node's slot.
func (c *GCounter) Increment(node string, delta uint64) {
	c.counts[node] += delta
}

// Value returns the sum over all nodes.
func (c *GCounter) Value() uint64 {
	var total uint64
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Merge implements CRDT as the element-wise maximum.
func (c *GCounter) Merge(other *GCounter) {
	for node, n := range other.counts {
		if n > c.counts[node] {
			c.counts[node] = n
		}
	}
}
