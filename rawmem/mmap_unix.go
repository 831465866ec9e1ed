// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux || darwin || freebsd

package rawmem

import (
	"errors"

	"golang.org/x/sys/unix"
)

type mmapSource struct{}

// Mmap is the Source backed by private anonymous memory mappings.
// Buffers are page aligned and live outside the Go heap.
var Mmap Source = mmapSource{}

func (mmapSource) Acquire(size uint64) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (mmapSource) Release(b []byte) error {
	if b == nil {
		return nil
	}
	err := unix.Munmap(b)
	if errors.Is(err, unix.EINVAL) {
		// already unmapped
		return nil
	}
	return err
}
