// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package rawmem

import (
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseSource(t *testing.T, src Source) {
	t.Helper()
	for _, size := range []uint64{1, 64, 4096, 1 << 20} {
		b, err := src.Acquire(size)
		require.NoError(t, err)
		require.Len(t, b, int(size))
		// the whole buffer must be writable
		for i := range b {
			b[i] = byte(i)
		}
		assert.Equal(t, byte(size-1), b[size-1])
		require.NoError(t, src.Release(b))
	}
}

func TestGoSource(t *testing.T) {
	exerciseSource(t, Go)
}

func TestMmapSource(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		_, err := Mmap.Acquire(64)
		require.ErrorIs(t, err, ErrUnsupported)
		return
	}
	exerciseSource(t, Mmap)
}

func TestOffheapSource(t *testing.T) {
	src := NewOffheap()
	exerciseSource(t, src)
	assert.Zero(t, src.Outstanding())

	a, err := src.Acquire(128)
	require.NoError(t, err)
	b, err := src.Acquire(256)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Outstanding())
	require.NoError(t, src.Release(a))
	require.NoError(t, src.Release(b))
	assert.Zero(t, src.Outstanding())
}

func TestAcquireBadSize(t *testing.T) {
	for name, src := range map[string]Source{"go": Go, "offheap": NewOffheap()} {
		t.Run(name, func(t *testing.T) {
			_, err := src.Acquire(0)
			assert.ErrorIs(t, err, ErrZeroSize)
			_, err = src.Acquire(math.MaxUint64)
			assert.ErrorIs(t, err, ErrTooLarge)
		})
	}
}

func TestByName(t *testing.T) {
	src, err := ByName("go")
	require.NoError(t, err)
	assert.Equal(t, Go, src)

	src, err = ByName("")
	require.NoError(t, err)
	assert.Equal(t, Go, src)

	src, err = ByName("mmap")
	require.NoError(t, err)
	assert.Equal(t, Mmap, src)

	src, err = ByName("offheap")
	require.NoError(t, err)
	assert.IsType(t, &Offheap{}, src)

	_, err = ByName("sbrk")
	assert.Error(t, err)
}
