// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package rawmem provides the raw byte buffers allocators carve up.
//
// A Source hands out one buffer per Acquire call and takes it back with
// Release. The allocators in this repository acquire exactly one buffer
// when created and release it when destroyed.
package rawmem

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrZeroSize is returned when acquiring an empty buffer.
	ErrZeroSize = errors.New("rawmem: zero size buffer")

	// ErrTooLarge is returned when the size does not fit in an int.
	ErrTooLarge = errors.New("rawmem: buffer too large")

	// ErrUnsupported is returned by sources not available on this platform.
	ErrUnsupported = errors.New("rawmem: source not supported on this platform")
)

// Source acquires and releases raw memory buffers.
type Source interface {
	// Acquire returns a buffer of exactly size bytes. Its contents are
	// unspecified.
	Acquire(size uint64) ([]byte, error)
	// Release gives back a buffer previously returned by Acquire.
	Release(b []byte) error
}

func checkSize(size uint64) error {
	if size == 0 {
		return ErrZeroSize
	}
	if size > math.MaxInt {
		return fmt.Errorf("%w (%d bytes)", ErrTooLarge, size)
	}
	return nil
}

type goSource struct{}

// Go is the Source backed by the Go heap. Released buffers are simply
// dropped and left to the garbage collector.
var Go Source = goSource{}

func (goSource) Acquire(size uint64) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

func (goSource) Release([]byte) error { return nil }

// ByName returns the source called name: "go", "mmap" or "offheap".
// Each "offheap" lookup returns a new, independent source.
func ByName(name string) (Source, error) {
	switch name {
	case "", "go":
		return Go, nil
	case "mmap":
		return Mmap, nil
	case "offheap":
		return NewOffheap(), nil
	}
	return nil, fmt.Errorf("rawmem: unknown source %q", name)
}
