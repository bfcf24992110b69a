// Package alloc implements the block and inode allocators: run-length
// search over a bitmap.Bitmap, with no free list.
package alloc

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/bbanerjeerichards/blockfs/bitmap"
	"github.com/bbanerjeerichards/blockfs/errs"
	"github.com/bbanerjeerichards/blockfs/layout"
)

// BlockAllocator reserves and releases blocks from the block bitmap.
type BlockAllocator struct {
	bm         *bitmap.Bitmap
	blockCount uint64
}

// NewBlockAllocator builds an allocator over an already-loaded block bitmap.
func NewBlockAllocator(bm *bitmap.Bitmap, blockCount uint64) *BlockAllocator {
	return &BlockAllocator{bm: bm, blockCount: blockCount}
}

// AllocateBlocks reserves n blocks, returned as one or more BlockSequence
// runs whose lengths sum to n. It repeatedly takes the longest currently
// available run (capped to the remaining need); if the bitmap can't supply
// n blocks in total, every bit it set during the call is rolled back and it
// fails with errs.NoBitmapRunFound.
func (a *BlockAllocator) AllocateBlocks(n uint64) ([]layout.BlockSequence, error) {
	if n == 0 {
		return nil, nil
	}

	var out []layout.BlockSequence
	remaining := n

	for remaining > 0 {
		start, length, ok := a.bm.LongestRunOfZeros()
		if !ok || length == 0 {
			a.rollback(out)
			return nil, errs.New(errs.NoBitmapRunFound)
		}

		take := length
		if take > remaining {
			take = remaining
		}
		for i := uint64(0); i < take; i++ {
			a.bm.Write(start+i, true)
		}

		out = append(out, layout.BlockSequence{Start: start, Length: take})
		remaining -= take
	}

	return out, nil
}

func (a *BlockAllocator) rollback(runs []layout.BlockSequence) {
	for _, r := range runs {
		for i := uint64(0); i < r.Length; i++ {
			a.bm.Write(r.Start+i, false)
		}
	}
}

// FreeBlocks clears the bits covered by every run. Runs that are already
// clear are a no-op, not an error. A run whose bounds exceed the bitmap is
// reported but doesn't stop the rest of the runs from being freed; all such
// problems are collected and returned together.
func (a *BlockAllocator) FreeBlocks(runs []layout.BlockSequence) error {
	var result *multierror.Error
	for _, r := range runs {
		if r.Start+r.Length > a.blockCount {
			result = multierror.Append(result, fmt.Errorf(
				"run start=%d length=%d exceeds block count %d", r.Start, r.Length, a.blockCount))
			continue
		}
		for i := uint64(0); i < r.Length; i++ {
			a.bm.Write(r.Start+i, false)
		}
	}
	return result.ErrorOrNil()
}

// InodeAllocator reserves and releases inode numbers from the inode bitmap.
type InodeAllocator struct {
	bm    *bitmap.Bitmap
	count uint64
}

// NewInodeAllocator builds an allocator over an already-loaded inode bitmap.
func NewInodeAllocator(bm *bitmap.Bitmap, count uint64) *InodeAllocator {
	return &InodeAllocator{bm: bm, count: count}
}

// AllocateInode performs a 1-bit run search starting from index 1 (inode 0
// is reserved to mean "unallocated").
func (a *InodeAllocator) AllocateInode() (uint64, error) {
	for i := uint64(1); i < a.count; i++ {
		if !a.bm.Read(i) {
			a.bm.Write(i, true)
			return i, nil
		}
	}
	return 0, errs.New(errs.NoBitmapRunFound)
}

// FreeInode clears the bit for inode number n. Freeing an already-free inode
// is a no-op.
func (a *InodeAllocator) FreeInode(n uint64) {
	a.bm.Write(n, false)
}
