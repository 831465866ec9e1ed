// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build !linux && !darwin && !freebsd

package rawmem

type mmapSource struct{}

// Mmap is not available on this platform, every Acquire fails.
var Mmap Source = mmapSource{}

func (mmapSource) Acquire(uint64) ([]byte, error) { return nil, ErrUnsupported }

func (mmapSource) Release([]byte) error { return ErrUnsupported }
