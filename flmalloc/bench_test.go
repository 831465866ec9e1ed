// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"fmt"
	"math/rand"
	"testing"
	"unsafe"
)

func BenchmarkAllocateFree(b *testing.B) {
	for _, size := range []uint64{16, 128, 1024} {
		b.Run(fmt.Sprintf("%dB", size), func(b *testing.B) {
			fl := newHeap(b, 1<<20, FLDefaultOptions)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				p := fl.Allocate(size)
				fl.Free(p)
			}
		})
	}
}

// BenchmarkFragmented measures first fit on a heap with many holes.
func BenchmarkFragmented(b *testing.B) {
	fl := newHeap(b, 1<<20, FLDefaultOptions)
	rnd := rand.New(rand.NewSource(1))
	live := make([]unsafe.Pointer, 0, 4096)
	for {
		p := fl.Allocate(uint64(16 + rnd.Intn(240)))
		if p == nil {
			break
		}
		live = append(live, p)
	}
	// free every other block
	for i := 0; i < len(live); i += 2 {
		fl.Free(live[i])
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p := fl.Allocate(200)
		if p != nil {
			fl.Free(p)
		}
	}
}
