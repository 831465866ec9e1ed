// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloc

import (
	"sync"
	"unsafe"
)

// locked serializes all the calls to an Allocator.
type locked struct {
	mu sync.Mutex
	a  Allocator
}

// Synchronized returns an Allocator that can be shared between
// goroutines: every call to a is made while holding a single mutex.
func Synchronized(a Allocator) Allocator {
	if l, ok := a.(*locked); ok {
		return l
	}
	return &locked{a: a}
}

func (l *locked) Allocate(numBytes uint64) unsafe.Pointer {
	l.mu.Lock()
	p := l.a.Allocate(numBytes)
	l.mu.Unlock()
	return p
}

func (l *locked) AllocateAligned(numBytes, alignment uint64) unsafe.Pointer {
	l.mu.Lock()
	p := l.a.AllocateAligned(numBytes, alignment)
	l.mu.Unlock()
	return p
}

func (l *locked) Free(p unsafe.Pointer) {
	l.mu.Lock()
	l.a.Free(p)
	l.mu.Unlock()
}

func (l *locked) GetBlockSize(p unsafe.Pointer) uint64 {
	l.mu.Lock()
	sz := l.a.GetBlockSize(p)
	l.mu.Unlock()
	return sz
}
