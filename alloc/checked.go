// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloc

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"unsafe"
)

// Checked wraps an Allocator and keeps track of every live block, so
// that tests can find leaks.
type Checked struct {
	a Allocator

	mu     sync.Mutex
	sz     uint64
	allocs map[uintptr]liveBlock
}

type liveBlock struct {
	pc   uintptr
	line int
	sz   uint64
}

// number of frames skipped when recording the allocation site,
// overridable with MALLOCS_CHECKED_FRAMES.
var allocFrames = 2

func init() {
	if val, ok := os.LookupEnv("MALLOCS_CHECKED_FRAMES"); ok {
		if f, err := strconv.Atoi(val); err == nil {
			allocFrames = f
		}
	}
}

// NewChecked returns a leak-tracking wrapper around a.
func NewChecked(a Allocator) *Checked {
	return &Checked{a: a, allocs: make(map[uintptr]liveBlock)}
}

// CurrentAlloc returns the number of requested bytes still allocated.
func (c *Checked) CurrentAlloc() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sz
}

// Live returns the number of blocks not yet freed.
func (c *Checked) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.allocs)
}

func (c *Checked) Allocate(numBytes uint64) unsafe.Pointer {
	return c.track(c.a.Allocate(numBytes), numBytes)
}

func (c *Checked) AllocateAligned(numBytes, alignment uint64) unsafe.Pointer {
	return c.track(c.a.AllocateAligned(numBytes, alignment), numBytes)
}

func (c *Checked) track(p unsafe.Pointer, numBytes uint64) unsafe.Pointer {
	if p == nil {
		return nil
	}
	lb := liveBlock{sz: numBytes}
	if pc, _, l, ok := runtime.Caller(allocFrames); ok {
		lb.pc, lb.line = pc, l
	}
	c.mu.Lock()
	c.allocs[uintptr(p)] = lb
	c.sz += numBytes
	c.mu.Unlock()
	return p
}

func (c *Checked) Free(p unsafe.Pointer) {
	if p != nil {
		c.mu.Lock()
		if lb, ok := c.allocs[uintptr(p)]; ok {
			c.sz -= lb.sz
			delete(c.allocs, uintptr(p))
		}
		c.mu.Unlock()
	}
	c.a.Free(p)
}

func (c *Checked) GetBlockSize(p unsafe.Pointer) uint64 {
	return c.a.GetBlockSize(p)
}

// TestingT is the subset of testing.TB used by AssertSize.
type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

// AssertSize fails t if the number of allocated bytes differs from sz,
// reporting every live block with its allocation site.
func (c *Checked) AssertSize(t TestingT, sz uint64) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sz == sz {
		return
	}
	for p, lb := range c.allocs {
		name := "unknown"
		if f := runtime.FuncForPC(lb.pc); f != nil {
			name = f.Name()
		}
		t.Errorf("LEAK of %d bytes at %#x FROM %s line %d\n",
			lb.sz, p, name, lb.line)
	}
	t.Errorf("invalid memory size exp=%d, got=%d", sz, c.sz)
}

var (
	_ Allocator = (*Checked)(nil)
	_ Allocator = (*locked)(nil)
)
