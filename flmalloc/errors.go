// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import "errors"

var (
	// ErrHeapTooSmall indicates the heap cannot hold even one block header.
	ErrHeapTooSmall = errors.New("flmalloc: heap too small")

	// ErrDestroyed is returned when destroying an allocator twice.
	ErrDestroyed = errors.New("flmalloc: allocator already destroyed")

	// ErrCorrupt is wrapped by the errors returned from Check.
	ErrCorrupt = errors.New("flmalloc: heap corrupted")
)
