// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package memutil holds the small integer helpers shared by the
// allocators: power-of-two rounding and overflow aware size math.
package memutil

import (
	"math"

	"github.com/JohnCGriffin/overflow"
	"golang.org/x/exp/constraints"
)

// Align rounds value up to the next multiple of alignment.
// alignment must be a power of 2.
func Align[T constraints.Unsigned](value, alignment T) T {
	mask := alignment - 1
	return (value + mask) &^ mask
}

// AlignDown rounds value down to a multiple of alignment (a power of 2).
func AlignDown[T constraints.Unsigned](value, alignment T) T {
	return value &^ (alignment - 1)
}

// IsPow2 returns true if v is a non-zero power of 2.
func IsPow2[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}

// IsAligned returns true if value is a multiple of alignment (a power of 2).
func IsAligned[T constraints.Unsigned](value, alignment T) bool {
	return value&(alignment-1) == 0
}

// Padding returns how many bytes must be added to offset to reach the
// next multiple of alignment.
func Padding(offset, alignment uint64) uint64 {
	mask := alignment - 1
	return (alignment - (offset & mask)) & mask
}

// AlignAdd returns Align(value, alignment) + extra.
// The second return value is false if the result does not fit in an
// int64, in which case the first one is meaningless.
func AlignAdd(value, alignment, extra uint64) (uint64, bool) {
	if value > math.MaxInt64 || alignment > math.MaxInt64 ||
		extra > math.MaxInt64 {
		return 0, false
	}
	rounded, ok := overflow.Add64(int64(value), int64(alignment-1))
	if !ok {
		return 0, false
	}
	rounded &^= int64(alignment - 1)
	res, ok := overflow.Add64(rounded, int64(extra))
	if !ok {
		return 0, false
	}
	return uint64(res), true
}
