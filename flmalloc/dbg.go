// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"fmt"

	"github.com/intuitivelabs/slog"
)

// BlockInfo describes one block of the heap.
type BlockInfo struct {
	Offset uint64 // header offset from the start of the heap buffer
	Size   uint64 // payload size
	Used   bool
}

// End returns the offset right after the block.
func (bi BlockInfo) End() uint64 { return bi.Offset + HeaderSize + bi.Size }

// FreeBlocks returns a snapshot of the free list, in list order.
func (fl *FreeList) FreeBlocks() []BlockInfo {
	var res []BlockInfo
	if fl.mem == nil {
		return res
	}
	for off := fl.head; off != noBlock; off = fl.hdr(off).next {
		b := fl.hdr(off)
		res = append(res, BlockInfo{Offset: off, Size: b.payloadSize(),
			Used: !b.isFree()})
		if len(res) > len(fl.mem)/int(MinAllocSize)+1 {
			BUG("free list loop detected at offset %d\n", off)
			break
		}
	}
	return res
}

// Blocks returns all the blocks in the heap, free and used, by address.
func (fl *FreeList) Blocks() []BlockInfo {
	var res []BlockInfo
	if fl.mem == nil {
		return res
	}
	for off := fl.start; off < fl.end; {
		b := fl.hdr(off)
		res = append(res, BlockInfo{Offset: off, Size: b.payloadSize(),
			Used: !b.isFree()})
		next := fl.blockEnd(off)
		if next <= off || next > fl.end {
			BUG("block at offset %d overflows the heap (size %d)\n",
				off, b.payloadSize())
			break
		}
		off = next
	}
	return res
}

// LargestFree returns the payload size of the largest free block.
func (fl *FreeList) LargestFree() uint64 {
	var largest uint64
	for _, bi := range fl.FreeBlocks() {
		if bi.Size > largest {
			largest = bi.Size
		}
	}
	return largest
}

// Fragmentation returns 1 - largest free block / total free payload:
// 0 when all the free memory is in one block, close to 1 when it is
// scattered in many small ones.
func (fl *FreeList) Fragmentation() float64 {
	var total, largest uint64
	for _, bi := range fl.FreeBlocks() {
		total += bi.Size
		if bi.Size > largest {
			largest = bi.Size
		}
	}
	if total == 0 {
		return 0
	}
	return 1 - float64(largest)/float64(total)
}

// Check verifies the heap invariants: the blocks tile the heap, no two
// free blocks are adjacent, the free list is sorted by address and holds
// exactly the free blocks. It returns an error wrapping ErrCorrupt on
// the first violation found.
func (fl *FreeList) Check() error {
	if fl.mem == nil {
		return nil
	}
	var (
		nFree    int
		prevFree bool
		off      = fl.start
	)
	for off < fl.end {
		b := fl.hdr(off)
		if b.payloadSize()%Granularity != 0 {
			return fmt.Errorf("%w: block at %d has unaligned size %d",
				ErrCorrupt, off, b.payloadSize())
		}
		next := fl.blockEnd(off)
		if next > fl.end {
			return fmt.Errorf("%w: block at %d (size %d) ends at %d, past"+
				" the heap end %d", ErrCorrupt, off, b.payloadSize(),
				next, fl.end)
		}
		if b.isFree() {
			if prevFree {
				return fmt.Errorf("%w: adjacent free blocks at %d",
					ErrCorrupt, off)
			}
			nFree++
		}
		prevFree = b.isFree()
		off = next
	}
	if off != fl.end {
		return fmt.Errorf("%w: blocks end at %d instead of %d",
			ErrCorrupt, off, fl.end)
	}

	n := 0
	last := noBlock
	for off := fl.head; off != noBlock; off = fl.hdr(off).next {
		if off < fl.start || off >= fl.end ||
			(off-fl.start)%Granularity != 0 {
			return fmt.Errorf("%w: free list entry %d has bad offset %d",
				ErrCorrupt, n, off)
		}
		if last != noBlock && off <= last {
			return fmt.Errorf("%w: free list not sorted (%d after %d)",
				ErrCorrupt, off, last)
		}
		if !fl.hdr(off).isFree() {
			return fmt.Errorf("%w: free list entry at %d is in use",
				ErrCorrupt, off)
		}
		n++
		if n > nFree {
			return fmt.Errorf("%w: free list longer than the %d free blocks",
				ErrCorrupt, nFree)
		}
		last = off
	}
	if n != nFree {
		return fmt.Errorf("%w: %d free blocks, but only %d on the free list",
			ErrCorrupt, nFree, n)
	}
	return nil
}

// debugCheck runs Check and panics with a heap dump on failure.
func (fl *FreeList) debugCheck(op string) {
	if err := fl.Check(); err != nil {
		fl.DumpStatus()
		PANIC("BUG: after %s: %s\n", op, err)
	}
}

// DumpStatus writes the current heap status in the log.
func (fl *FreeList) DumpStatus() {
	const lev = slog.LDBG
	const prefix = "fl_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", fl)
	if fl == nil {
		return
	}
	Log.LLog(lev, 0, prefix, "heap size= %d (usable %d, header %d)\n",
		len(fl.mem), fl.end-fl.start, HeaderSize)
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		fl.used.Used, fl.used.RealUsed, fl.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n",
		fl.used.MaxRealUsed)
	if fl.options&FLDumpStatsShort != 0 || fl.mem == nil {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping all alloc'ed blocks:\n")
	for i, bi := range fl.Blocks() {
		if bi.Used {
			Log.LLog(lev, 0, prefix,
				"   %3d.    offset=%d address=%p size=%d\n",
				i, bi.Offset, fl.payload(bi.Offset), bi.Size)
		}
	}
	Log.LLog(lev, 0, prefix, "dumping free list:\n")
	for i, bi := range fl.FreeBlocks() {
		Log.LLog(lev, 0, prefix, "   %3d.    offset=%d size=%d\n",
			i, bi.Offset, bi.Size)
	}
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}
