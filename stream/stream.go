// Package stream materializes the ordered list of BlockSequence runs backing
// an inode's payload, walking direct pointers and any indirect blocks.
package stream

import (
	"encoding/binary"

	"github.com/bbanerjeerichards/blockfs/device"
	"github.com/bbanerjeerichards/blockfs/errs"
	"github.com/bbanerjeerichards/blockfs/layout"
)

// Reader materializes run lists by reading indirect blocks off a device.
type Reader struct {
	dev *device.BlockDevice
}

// NewReader builds a Reader over the given block device.
func NewReader(dev *device.BlockDevice) *Reader {
	return &Reader{dev: dev}
}

func ceilDivBlocks(size uint64) uint64 {
	return (size + layout.BlockSize - 1) / layout.BlockSize
}

// Result is the materialized address stream for one inode: the ordered data
// runs that hold its payload, and the block numbers used as indirect
// metadata (which must be freed alongside the data runs on a rewrite, but
// are not part of the inode's logical byte stream).
type Result struct {
	DataRuns   []layout.BlockSequence
	MetaBlocks []uint64
}

// Materialize produces the authoritative, ordered run list for inode, per
// spec.md §4.6: direct entries first, then single-, double-, and
// triple-indirect in turn, each stopping at its first empty/zero entry. It
// fails with errs.Corrupt if the total block count of the result disagrees
// with ⌈inode.Size / BlockSize⌉.
func (r *Reader) Materialize(inode layout.Inode) (Result, error) {
	var res Result

	for _, d := range inode.DirectBlocks {
		if !d.IsEmpty() {
			res.DataRuns = append(res.DataRuns, d)
		}
	}

	if inode.SingleIndirect != 0 {
		runs, err := r.readIndirectBlock(inode.SingleIndirect)
		if err != nil {
			return Result{}, err
		}
		res.MetaBlocks = append(res.MetaBlocks, inode.SingleIndirect)
		res.DataRuns = append(res.DataRuns, runs...)
	}

	if inode.DoubleIndirect != 0 {
		runs, metas, err := r.readDoubleIndirect(inode.DoubleIndirect)
		if err != nil {
			return Result{}, err
		}
		res.MetaBlocks = append(res.MetaBlocks, inode.DoubleIndirect)
		res.MetaBlocks = append(res.MetaBlocks, metas...)
		res.DataRuns = append(res.DataRuns, runs...)
	}

	if inode.TripleIndirect != 0 {
		runs, metas, err := r.readTripleIndirect(inode.TripleIndirect)
		if err != nil {
			return Result{}, err
		}
		res.MetaBlocks = append(res.MetaBlocks, inode.TripleIndirect)
		res.MetaBlocks = append(res.MetaBlocks, metas...)
		res.DataRuns = append(res.DataRuns, runs...)
	}

	var total uint64
	for _, run := range res.DataRuns {
		total += run.Length
	}
	if total != ceilDivBlocks(inode.Size) {
		return Result{}, errs.Corrupt.WithMessage(
			"materialized run list does not cover ⌈size/BLOCK_SIZE⌉ blocks")
	}

	return res, nil
}

// readIndirectBlock decodes up to IndirectNumBlockSequence packed
// BlockSequence entries from one block, stopping at the first empty entry.
func (r *Reader) readIndirectBlock(blockNum uint64) ([]layout.BlockSequence, error) {
	data, err := r.dev.ReadWindow(int64(blockNum)*layout.BlockSize, layout.BlockSize)
	if err != nil {
		return nil, err
	}

	var runs []layout.BlockSequence
	for i := 0; i < layout.IndirectNumBlockSequence; i++ {
		off := i * layout.IndirectEntrySize
		start := binary.LittleEndian.Uint32(data[off:])
		length := binary.LittleEndian.Uint32(data[off+4:])
		if start == 0 && length == 0 {
			break
		}
		runs = append(runs, layout.BlockSequence{Start: uint64(start), Length: uint64(length)})
	}
	return runs, nil
}

// readPointerBlock decodes a packed array of u64 block-number pointers,
// stopping at the first zero pointer.
func (r *Reader) readPointerBlock(blockNum uint64) ([]uint64, error) {
	data, err := r.dev.ReadWindow(int64(blockNum)*layout.BlockSize, layout.BlockSize)
	if err != nil {
		return nil, err
	}

	var ptrs []uint64
	for i := 0; i < layout.PointersPerBlock; i++ {
		ptr := binary.LittleEndian.Uint64(data[i*layout.PointerEntrySize:])
		if ptr == 0 {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	return ptrs, nil
}

func (r *Reader) readDoubleIndirect(blockNum uint64) ([]layout.BlockSequence, []uint64, error) {
	ptrs, err := r.readPointerBlock(blockNum)
	if err != nil {
		return nil, nil, err
	}

	var runs []layout.BlockSequence
	var metas []uint64
	for _, ptr := range ptrs {
		seqs, err := r.readIndirectBlock(ptr)
		if err != nil {
			return nil, nil, err
		}
		metas = append(metas, ptr)
		runs = append(runs, seqs...)
	}
	return runs, metas, nil
}

func (r *Reader) readTripleIndirect(blockNum uint64) ([]layout.BlockSequence, []uint64, error) {
	ptrs, err := r.readPointerBlock(blockNum)
	if err != nil {
		return nil, nil, err
	}

	var runs []layout.BlockSequence
	var metas []uint64
	for _, ptr := range ptrs {
		subRuns, subMetas, err := r.readDoubleIndirect(ptr)
		if err != nil {
			return nil, nil, err
		}
		metas = append(metas, ptr)
		metas = append(metas, subMetas...)
		runs = append(runs, subRuns...)
	}
	return runs, metas, nil
}
