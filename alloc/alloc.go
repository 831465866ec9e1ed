// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package alloc defines the capability shared by all the allocation
// strategies in this repository, together with a few wrappers that work
// on top of any of them.
//
// An Allocator hands out raw memory as unsafe.Pointer values. A nil
// result from Allocate or AllocateAligned means out of memory; nothing
// else is retried or reported.
//
// Allocators are not safe for concurrent use unless wrapped with
// Synchronized.
package alloc

import "unsafe"

// DefaultAlignment is the alignment used by Allocate.
const DefaultAlignment = 8

// Allocator is the interface implemented by every allocation strategy.
type Allocator interface {
	// Allocate returns a block of at least numBytes, aligned to
	// DefaultAlignment, or nil if the request cannot be satisfied.
	Allocate(numBytes uint64) unsafe.Pointer

	// AllocateAligned returns a block of at least numBytes whose address
	// is a multiple of alignment (a power of 2), or nil.
	AllocateAligned(numBytes, alignment uint64) unsafe.Pointer

	// Free returns the block p to the allocator. Free(nil) is a no-op.
	Free(p unsafe.Pointer)

	// GetBlockSize returns the usable size of the block p.
	// p must be a live pointer returned by the same allocator.
	GetBlockSize(p unsafe.Pointer) uint64
}

// Bytes returns a byte slice covering the whole usable area of the
// block p, or nil if p is nil.
func Bytes(a Allocator, p unsafe.Pointer) []byte {
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), a.GetBlockSize(p))
}
