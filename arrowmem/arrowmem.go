// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package arrowmem lets Apache Arrow build its buffers out of any
// alloc.Allocator, e.g. a fixed size flmalloc heap.
package arrowmem

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/intuitivelabs/mallocs/alloc"
)

// Alignment is the buffer alignment arrow expects.
const Alignment = 64

// ErrOutOfMemory is the panic value used when the underlying allocator
// cannot satisfy a request: arrow allocators have no way to return an
// error.
var ErrOutOfMemory = errors.New("arrowmem: out of memory")

// Allocator implements memory.Allocator on top of an alloc.Allocator.
// Returned slices have len == cap == requested size and are zeroed.
// Reallocate and Free must be passed the slices exactly as returned.
type Allocator struct {
	mem alloc.Allocator
}

var _ memory.Allocator = (*Allocator)(nil)

// NewAllocator returns an arrow allocator drawing memory from mem.
func NewAllocator(mem alloc.Allocator) *Allocator {
	return &Allocator{mem: mem}
}

func (a *Allocator) Allocate(size int) []byte {
	if size < 0 {
		panic(fmt.Sprintf("arrowmem: negative allocation size %d", size))
	}
	if size == 0 {
		return []byte{}
	}
	p := a.mem.AllocateAligned(uint64(size), Alignment)
	if p == nil {
		panic(fmt.Errorf("%w: %d bytes", ErrOutOfMemory, size))
	}
	b := unsafe.Slice((*byte)(p), size)
	clear(b)
	return b
}

func (a *Allocator) Reallocate(size int, b []byte) []byte {
	if cap(b) == 0 {
		return a.Allocate(size)
	}
	if size == 0 {
		a.Free(b)
		return []byte{}
	}
	p := unsafe.Pointer(unsafe.SliceData(b))
	if uint64(size) <= a.mem.GetBlockSize(p) {
		// fits in place
		out := unsafe.Slice((*byte)(p), size)
		if size > len(b) {
			clear(out[len(b):])
		}
		return out
	}
	out := a.Allocate(size)
	copy(out, b)
	a.mem.Free(p)
	return out
}

func (a *Allocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	a.mem.Free(unsafe.Pointer(unsafe.SliceData(b)))
}
