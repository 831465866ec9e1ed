// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rawmem

import (
	"sync"

	"modernc.org/memory"
)

// Offheap is a Source backed by a modernc.org/memory allocator: buffers
// are carved from mmap-ed pages the garbage collector never scans.
type Offheap struct {
	mu sync.Mutex
	a  memory.Allocator
	n  int // buffers not yet released
}

// NewOffheap returns a new, empty off-heap source.
func NewOffheap() *Offheap {
	return &Offheap{}
}

func (o *Offheap) Acquire(size uint64) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	b, err := o.a.Malloc(int(size))
	if err != nil {
		return nil, err
	}
	o.n++
	return b, nil
}

// Release frees b. Once every buffer has been released the pages held by
// the underlying allocator are returned to the OS.
func (o *Offheap) Release(b []byte) error {
	if b == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.a.Free(b); err != nil {
		return err
	}
	o.n--
	if o.n == 0 {
		return o.a.Close()
	}
	return nil
}

// Outstanding returns the number of acquired buffers not yet released.
func (o *Offheap) Outstanding() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}
