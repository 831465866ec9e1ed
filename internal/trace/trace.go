// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package trace parses allocation traces and replays them against an
// alloc.Allocator.
//
// A trace is a text file with one operation per line:
//
//	alloc <id> <size> [align]
//	free <id>
//	check
//
// Blank lines and everything after a '#' are ignored. Ids are arbitrary
// words naming the blocks; an id can be reused once its block is freed.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unsafe"

	"github.com/intuitivelabs/mallocs/alloc"
	"github.com/intuitivelabs/mallocs/memutil"
)

// Kind is the type of a trace operation.
type Kind uint8

const (
	Alloc Kind = iota
	Free
	Check
)

func (k Kind) String() string {
	switch k {
	case Alloc:
		return "alloc"
	case Free:
		return "free"
	case Check:
		return "check"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Op is one trace operation.
type Op struct {
	Kind  Kind
	ID    string
	Size  uint64
	Align uint64 // 0 for the allocator default
	Line  int
}

var (
	// ErrSyntax is wrapped by all the parse errors.
	ErrSyntax = errors.New("trace: syntax error")

	// ErrReplay is wrapped by errors caused by an inconsistent trace.
	ErrReplay = errors.New("trace: bad operation")
)

// Parse reads a whole trace.
func Parse(r io.Reader) ([]Op, error) {
	var ops []Op
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		op, err := parseOp(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %s", ErrSyntax, line, err)
		}
		op.Line = line
		ops = append(ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trace: read: %w", err)
	}
	return ops, nil
}

func parseOp(fields []string) (Op, error) {
	var op Op
	switch strings.ToLower(fields[0]) {
	case "alloc":
		if len(fields) != 3 && len(fields) != 4 {
			return op, errors.New("usage: alloc <id> <size> [align]")
		}
		size, err := strconv.ParseUint(fields[2], 0, 64)
		if err != nil {
			return op, fmt.Errorf("bad size %q", fields[2])
		}
		op = Op{Kind: Alloc, ID: fields[1], Size: size}
		if len(fields) == 4 {
			op.Align, err = strconv.ParseUint(fields[3], 0, 64)
			if err != nil || !memutil.IsPow2(op.Align) {
				return op, fmt.Errorf("bad alignment %q", fields[3])
			}
		}
	case "free":
		if len(fields) != 2 {
			return op, errors.New("usage: free <id>")
		}
		op = Op{Kind: Free, ID: fields[1]}
	case "check":
		if len(fields) != 1 {
			return op, errors.New("usage: check")
		}
		op = Op{Kind: Check}
	default:
		return op, fmt.Errorf("unknown operation %q", fields[0])
	}
	return op, nil
}

// Checker is implemented by allocators able to verify their own state.
type Checker interface {
	Check() error
}

// Report sums up a replay.
type Report struct {
	Allocs        int    `json:"allocs"`
	FailedAllocs  int    `json:"failed_allocs"`
	Frees         int    `json:"frees"`
	Checks        int    `json:"checks"`
	LiveBlocks    int    `json:"live_blocks"`
	LiveBytes     uint64 `json:"live_bytes"` // requested, still allocated
	BlockBytes    uint64 `json:"block_bytes"`
	PeakLiveBytes uint64 `json:"peak_live_bytes"`
}

type liveBlock struct {
	p    unsafe.Pointer
	size uint64
}

// Replay runs ops against a. Allocation failures are counted, not
// returned as errors. Freeing an unknown id, reusing a live id or a
// failed check stop the replay with an error; the report up to that
// point is returned anyway. Blocks still live at the end are not freed.
func Replay(a alloc.Allocator, ops []Op) (Report, error) {
	var rep Report
	live := make(map[string]liveBlock)
	for _, op := range ops {
		switch op.Kind {
		case Alloc:
			if _, ok := live[op.ID]; ok {
				return rep, fmt.Errorf("%w: line %d: %q already allocated",
					ErrReplay, op.Line, op.ID)
			}
			rep.Allocs++
			var p unsafe.Pointer
			if op.Align == 0 {
				p = a.Allocate(op.Size)
			} else {
				p = a.AllocateAligned(op.Size, op.Align)
			}
			if p == nil {
				rep.FailedAllocs++
				continue
			}
			align := op.Align
			if align == 0 {
				align = alloc.DefaultAlignment
			}
			if uintptr(p)%uintptr(align) != 0 {
				return rep, fmt.Errorf("%w: line %d: %q at %p not aligned"+
					" to %d", ErrReplay, op.Line, op.ID, p, align)
			}
			live[op.ID] = liveBlock{p: p, size: op.Size}
			rep.LiveBytes += op.Size
			if rep.LiveBytes > rep.PeakLiveBytes {
				rep.PeakLiveBytes = rep.LiveBytes
			}
		case Free:
			lb, ok := live[op.ID]
			if !ok {
				return rep, fmt.Errorf("%w: line %d: free of unknown block %q",
					ErrReplay, op.Line, op.ID)
			}
			a.Free(lb.p)
			delete(live, op.ID)
			rep.Frees++
			rep.LiveBytes -= lb.size
		case Check:
			rep.Checks++
			if c, ok := a.(Checker); ok {
				if err := c.Check(); err != nil {
					return rep, fmt.Errorf("line %d: %w", op.Line, err)
				}
			}
		}
	}
	rep.LiveBlocks = len(live)
	for _, lb := range live {
		rep.BlockBytes += a.GetBlockSize(lb.p)
	}
	return rep, nil
}
