// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"unsafe"
)

// block is the header placed in the heap buffer in front of every
// block payload, free or in use.
type block struct {
	next uint64 // offset of the next free block, noBlock if last or in use
	size uint64 // payload size, the lowest bit is the in-use flag
}

// Granularity is the alignment of every block and of every block size.
const Granularity = 8

const blockSizeof = uint64(unsafe.Sizeof(block{}))

// HeaderSize is the per-block overhead: the header size rounded up to
// Granularity.
const HeaderSize = (blockSizeof + Granularity - 1) &^ (Granularity - 1)

// MinAllocSize is the smallest footprint worth splitting off a block.
const MinAllocSize = HeaderSize + HeaderSize

const (
	// sizes are multiples of Granularity, so bit 0 is free to use as
	// the in-use flag: 1 in use, 0 free
	usedBit uint64 = 0x01

	// end of list marker (an offset that can never be inside the heap)
	noBlock = ^uint64(0)
)

// isFree returns true if the block is not allocated.
func (b *block) isFree() bool { return b.size&usedBit == 0 }

// payloadSize returns the block size without the in-use flag.
func (b *block) payloadSize() uint64 { return b.size &^ usedBit }

// hdr returns the header of the block starting at offset off.
func (fl *FreeList) hdr(off uint64) *block {
	return (*block)(unsafe.Pointer(&fl.mem[off]))
}

// payload returns the address handed out for the block at off.
func (fl *FreeList) payload(off uint64) unsafe.Pointer {
	return unsafe.Pointer(&fl.mem[off+HeaderSize])
}

// blockEnd returns the offset right after the block at off.
func (fl *FreeList) blockEnd(off uint64) uint64 {
	return off + HeaderSize + fl.hdr(off).payloadSize()
}

// base returns the address of the heap buffer.
func (fl *FreeList) base() uintptr {
	return uintptr(unsafe.Pointer(&fl.mem[0]))
}

// blockOf recovers the header offset from a payload pointer returned by
// AllocateAligned. It is the only place a pointer is turned back into a
// heap offset; p is trusted unless FLChecks is set.
func (fl *FreeList) blockOf(p unsafe.Pointer) uint64 {
	return uint64(uintptr(p)-fl.base()) - HeaderSize
}
