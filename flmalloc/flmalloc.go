// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package flmalloc provides a fixed size heap allocator based on an
// address ordered free list.
//
// The whole heap is one byte buffer. Every block, free or allocated,
// starts with a small header holding its size; free blocks are linked
// together through their headers, sorted by address. Allocation takes
// the first free block large enough (first fit), splitting off the
// unused tail. Freeing puts the block back in address order and merges
// it with free neighbours, so a heap whose blocks are all freed always
// ends up as a single free block.
//
// A FreeList is not safe for concurrent use (see alloc.Synchronized).
package flmalloc

import (
	"fmt"
	"os"
	"strings"
	"unsafe"

	"github.com/intuitivelabs/mallocs/alloc"
	"github.com/intuitivelabs/mallocs/memutil"
	"github.com/intuitivelabs/mallocs/rawmem"
)

const NAME = "flmalloc"

// MUsed contains the memory usage statistics.
type MUsed struct {
	Used        uint64 // total payload size allocated
	RealUsed    uint64 // Used + block headers
	MaxRealUsed uint64
}

// Options encodes various configuration flags for FreeList.
type Options uint32

const (
	FLDebug          Options = 1 << iota // check the whole heap after each op
	FLChecks                             // panic on double free & bad pointers
	FLDumpStatsShort                     // dump only the totals in DumpStatus
	FLDefaultOptions Options = 0
)

// OptionsEnv is the environment variable read by OptionsFromEnv.
const OptionsEnv = "FLMALLOC_OPTIONS"

// OptionsFromEnv returns def with the flags named in the FLMALLOC_OPTIONS
// environment variable added. The variable holds a comma separated list
// of "debug", "checks" and "short"; unknown names are logged and ignored.
func OptionsFromEnv(def Options) Options {
	opts := def
	for _, name := range strings.Split(os.Getenv(OptionsEnv), ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "debug":
			opts |= FLDebug
		case "checks":
			opts |= FLChecks
		case "short":
			opts |= FLDumpStatsShort
		default:
			WARN("unknown option %q in %s\n", name, OptionsEnv)
		}
	}
	return opts
}

// FreeList is the heap: the memory area used, the head of the free
// list and the usage statistics.
type FreeList struct {
	options Options

	start    uint64 // offset of the first block
	end      uint64 // offset after the last block
	head     uint64 // first free block (lowest address), noBlock if none
	capacity uint64 // payload size of the initial block

	used MUsed

	src rawmem.Source // nil when the memory belongs to the caller
	mem []byte        // actual memory used
}

var _ alloc.Allocator = (*FreeList)(nil)

// Debug returns true if heap verification is turned on.
func (fl *FreeList) Debug() bool { return fl.options&FLDebug != 0 }

// Checks returns true if pointer and double free checks are turned on.
func (fl *FreeList) Checks() bool { return fl.options&FLChecks != 0 }

// New allocates a heapSize bytes buffer from the Go heap and returns an
// allocator managing it.
func New(heapSize uint64, options Options) (*FreeList, error) {
	return NewFrom(rawmem.Go, heapSize, options)
}

// NewFrom is like New, but acquires the heap buffer from src.
// The buffer is given back to src by Destroy.
func NewFrom(src rawmem.Source, heapSize uint64, options Options) (*FreeList, error) {
	mem, err := src.Acquire(heapSize)
	if err != nil {
		return nil, fmt.Errorf("flmalloc: acquire %d bytes heap: %w",
			heapSize, err)
	}
	fl := &FreeList{}
	if !fl.Init(mem, options) {
		if rerr := src.Release(mem); rerr != nil {
			ERR("releasing rejected heap: %s\n", rerr)
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrHeapTooSmall, heapSize)
	}
	fl.src = src
	return fl, nil
}

// Init initialises the allocator on top of mem, which stays owned by the
// caller (Destroy will not release it). The whole buffer, from its
// first Granularity aligned byte, becomes a single free block.
// It returns false if mem cannot hold a block header.
func (fl *FreeList) Init(mem []byte, options Options) bool {
	*fl = FreeList{head: noBlock} // zero, in case of re-init
	if len(mem) == 0 {
		return false
	}
	start := memutil.Padding(uint64(uintptr(unsafe.Pointer(&mem[0]))),
		Granularity)
	if uint64(len(mem)) < start+HeaderSize {
		return false
	}
	// keep the size a multiple of Granularity, the lowest bit is a flag
	size := memutil.AlignDown(uint64(len(mem))-start-HeaderSize,
		Granularity)

	fl.mem = mem
	fl.options = options
	fl.start = start
	fl.end = start + HeaderSize + size
	fl.capacity = size

	first := fl.hdr(start)
	first.next = noBlock
	first.size = size
	fl.head = start
	return true
}

// Destroy releases the heap buffer. Afterwards the allocator is inert:
// allocations fail and any other call is a bug.
func (fl *FreeList) Destroy() error {
	if fl.mem == nil {
		return ErrDestroyed
	}
	if fl.used.Used != 0 && DBGon() {
		DBG("Destroy: %d bytes still allocated\n", fl.used.Used)
	}
	mem, src := fl.mem, fl.src
	*fl = FreeList{head: noBlock}
	if src == nil {
		return nil
	}
	return src.Release(mem)
}

// addUsed accounts for a newly allocated block with the given payload size.
func (fl *FreeList) addUsed(size uint64) {
	fl.used.Used += size
	fl.used.RealUsed += size + HeaderSize
	if fl.used.MaxRealUsed < fl.used.RealUsed {
		fl.used.MaxRealUsed = fl.used.RealUsed
	}
}

// subUsed accounts for a freed block with the given payload size.
func (fl *FreeList) subUsed(size uint64) {
	fl.used.Used -= size
	fl.used.RealUsed -= size + HeaderSize
}

// MUsage returns current memory usage values.
func (fl *FreeList) MUsage() MUsed {
	return fl.used
}

// Capacity returns the payload size of the heap when empty, i.e. the
// largest allocation a fresh heap could satisfy.
func (fl *FreeList) Capacity() uint64 {
	return fl.capacity
}

// Available returns how many bytes are not taken by allocated blocks
// (free block headers included). Fragmentation may make the largest
// possible allocation much smaller, see LargestFree.
func (fl *FreeList) Available() uint64 {
	if fl.mem == nil {
		return 0
	}
	return fl.capacity + HeaderSize - fl.used.RealUsed
}

// Owns returns whether or not p lies inside the usable part of the heap.
// Behaviour is undefined if p was Free()d.
func (fl *FreeList) Owns(p unsafe.Pointer) bool {
	if fl.mem == nil || p == nil {
		return false
	}
	base := fl.base()
	return uintptr(p) >= base+uintptr(fl.start+HeaderSize) &&
		uintptr(p) < base+uintptr(fl.end)
}

// checkPtr panics if p cannot be a payload pointer handed out by fl.
func (fl *FreeList) checkPtr(p unsafe.Pointer, op string) {
	if fl.mem == nil {
		PANIC("BUG: %s(%p) called on a destroyed heap\n", op, p)
	}
	if !fl.Owns(p) {
		PANIC("BUG: %s called with pointer %p out of heap"+
			" (useable range %#x-%#x)\n", op, p,
			fl.base()+uintptr(fl.start+HeaderSize), fl.base()+uintptr(fl.end))
	}
	if !memutil.IsAligned(uint64(uintptr(p)-fl.base())-fl.start, Granularity) {
		PANIC("BUG: %s called with misaligned pointer %p\n", op, p)
	}
}

// alignGap returns how far the header of the block at off must be moved
// so that its payload is aligned to alignment. A non-zero gap is always
// at least MinAllocSize, so that it can become a free block on its own.
func (fl *FreeList) alignGap(off, alignment uint64) uint64 {
	if alignment <= Granularity {
		return 0
	}
	addr := uint64(fl.base()) + off + HeaderSize
	gap := memutil.Padding(addr, alignment)
	for gap != 0 && gap < MinAllocSize {
		gap += alignment
	}
	return gap
}

// Allocate allocates numBytes of memory aligned to alloc.DefaultAlignment
// and returns a pointer to it, or nil if out of memory.
func (fl *FreeList) Allocate(numBytes uint64) unsafe.Pointer {
	return fl.AllocateAligned(numBytes, alloc.DefaultAlignment)
}

// AllocateAligned allocates numBytes of memory starting at a multiple of
// alignment, which must be a power of 2.
// It uses the first free block (lowest address) big enough, splitting it
// if the rest can hold another allocation.
// On failure (out of memory) it returns nil and the heap is untouched.
func (fl *FreeList) AllocateAligned(numBytes, alignment uint64) unsafe.Pointer {
	if fl.mem == nil {
		return nil
	}
	if !memutil.IsPow2(alignment) {
		if ERRon() {
			ERR("AllocateAligned(%d, %d): alignment is not a power of 2\n",
				numBytes, alignment)
		}
		return nil
	}
	if alignment < Granularity {
		// block sizes must stay multiples of Granularity
		alignment = Granularity
	}
	// tiny allocations still take a header worth of payload: this
	// allocator is not meant for them
	if numBytes < HeaderSize {
		numBytes = HeaderSize
	}
	sizeNeeded, ok := memutil.AlignAdd(numBytes, alignment, HeaderSize)
	if !ok {
		return nil
	}

	// first fit
	prev := noBlock
	off := fl.head
	var gap uint64
	for off != noBlock {
		b := fl.hdr(off)
		gap = fl.alignGap(off, alignment)
		if gap <= b.size && sizeNeeded <= b.size-gap {
			break
		}
		prev = off
		off = b.next
	}
	if off == noBlock {
		// no block large enough
		return nil
	}
	if !fl.hdr(off).isFree() {
		fl.DumpStatus()
		PANIC("BUG: free list block at offset %d is in use\n", off)
	}

	if gap != 0 {
		// leave the unaligned front on the free list as its own block
		front := fl.hdr(off)
		rest := off + gap
		r := fl.hdr(rest)
		r.next = front.next
		r.size = front.size - gap
		front.next = rest
		front.size = gap - HeaderSize
		prev, off = off, rest
	}

	b := fl.hdr(off)
	if sizeNeeded+MinAllocSize <= b.size {
		// split: the tail becomes a new free block in b's list position
		n := off + sizeNeeded
		nb := fl.hdr(n)
		nb.next = b.next
		nb.size = b.size - sizeNeeded
		b.next = n
		b.size = sizeNeeded - HeaderSize
	}

	// detach b from the free list
	if prev != noBlock {
		fl.hdr(prev).next = b.next
	} else {
		fl.head = b.next
	}
	b.next = noBlock
	b.size |= usedBit
	fl.addUsed(b.payloadSize())

	if fl.Debug() {
		fl.debugCheck("AllocateAligned")
	}
	return fl.payload(off)
}

// Free releases the memory associated with p (p must have been
// previously allocated by fl). Free(nil) does nothing.
// Freeing an already free block is ignored (logged as a warning), unless
// FLChecks is set, in which case it panics.
func (fl *FreeList) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	if fl.Checks() {
		fl.checkPtr(p, "Free")
	}
	off := fl.blockOf(p)
	b := fl.hdr(off)
	if b.isFree() {
		if fl.Checks() {
			PANIC("BUG: attempt to free already freed pointer %p\n", p)
		}
		if WARNon() {
			WARN("Free(%p): block already free, ignored\n", p)
		}
		return
	}
	b.size &^= usedBit
	fl.subUsed(b.size)

	// find the free neighbours by address
	prev := noBlock
	next := fl.head
	for next != noBlock && next < off {
		prev = next
		next = fl.hdr(next).next
	}

	if prev != noBlock {
		pb := fl.hdr(prev)
		pb.next = off
		if prev+HeaderSize+pb.size == off {
			// join with the previous block, which then takes b's place
			// for a possible join with next
			pb.size += b.size + HeaderSize
			pb.next = next
			off, b = prev, pb
		}
	} else {
		// lowest free address: new list head
		fl.head = off
	}

	b.next = next
	if next != noBlock && off+HeaderSize+b.size == next {
		nb := fl.hdr(next)
		b.size += nb.size + HeaderSize
		b.next = nb.next
	}

	if fl.Debug() {
		fl.debugCheck("Free")
	}
}

// GetBlockSize returns the usable size of the block p points to, which
// is at least the size requested when allocating it.
// p must be a live pointer returned by fl.
func (fl *FreeList) GetBlockSize(p unsafe.Pointer) uint64 {
	if p == nil {
		PANIC("BUG: GetBlockSize called with a nil pointer\n")
	}
	if fl.Checks() {
		fl.checkPtr(p, "GetBlockSize")
	}
	return fl.hdr(fl.blockOf(p)).payloadSize()
}
