// Package file implements the scatter/gather read and replace-all write
// engine: it reassembles an inode's payload from its run list, and on write
// reallocates every block and rewrites the inode's pointer set from scratch.
package file

import (
	"encoding/binary"

	"github.com/bbanerjeerichards/blockfs/alloc"
	"github.com/bbanerjeerichards/blockfs/device"
	"github.com/bbanerjeerichards/blockfs/errs"
	"github.com/bbanerjeerichards/blockfs/layout"
	"github.com/bbanerjeerichards/blockfs/stream"
)

// Engine reads and writes file payloads against a block device, allocating
// and freeing blocks as needed.
type Engine struct {
	dev    *device.BlockDevice
	reader *stream.Reader
	blocks *alloc.BlockAllocator
	region layout.Region
}

// NewEngine builds a file engine over the given device, address-stream
// reader, and block allocator.
func NewEngine(dev *device.BlockDevice, reader *stream.Reader, blocks *alloc.BlockAllocator, region layout.Region) *Engine {
	return &Engine{dev: dev, reader: reader, blocks: blocks, region: region}
}

// ReadRuns concatenates disk_read(run.Start*BlockSize, run.Length*BlockSize)
// for every run into a single buffer. If stripToSize, the result is
// truncated to size bytes.
func (e *Engine) ReadRuns(runs []layout.BlockSequence, stripToSize bool, size uint64) ([]byte, error) {
	var buf []byte
	for _, run := range runs {
		data, err := e.dev.ReadWindow(int64(run.Start)*layout.BlockSize, int(run.Length)*layout.BlockSize)
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)
	}

	if stripToSize {
		if uint64(len(buf)) < size {
			return nil, errs.New(errs.InvalidMemoryAccess)
		}
		buf = buf[:size]
	}
	return buf, nil
}

// ReadInode reads and deserializes the inode at number n.
func (e *Engine) ReadInode(n uint64) (layout.Inode, error) {
	blockAddr := e.region.InodeAddrToDiskBlockAddr(n)
	block, err := e.dev.ReadWindow(int64(blockAddr)*layout.BlockSize, layout.BlockSize)
	if err != nil {
		return layout.Inode{}, err
	}
	off := layout.InodeByteOffsetInBlock(n)
	inode, err := layout.DeserializeInode(block[off : off+layout.InodeSize])
	if err != nil {
		return layout.Inode{}, err
	}
	if !inode.IsAllocated() {
		return layout.Inode{}, errs.New(errs.InodeNotFound)
	}
	return inode, nil
}

// WriteInode serializes and writes inode into its on-disk slot.
func (e *Engine) WriteInode(inode layout.Inode) error {
	blockAddr := e.region.InodeAddrToDiskBlockAddr(uint64(inode.InodeNumber))
	block, err := e.dev.ReadWindow(int64(blockAddr)*layout.BlockSize, layout.BlockSize)
	if err != nil {
		return err
	}
	off := layout.InodeByteOffsetInBlock(uint64(inode.InodeNumber))
	copy(block[off:off+layout.InodeSize], inode.Serialize())
	return e.dev.WriteWindow(int64(blockAddr)*layout.BlockSize, block)
}

// WriteFile replaces the entire contents of inodeNumber with data. The new
// blocks are fully allocated, populated, and committed to the inode before
// the old pointer set's blocks are freed: if anything fails along the way
// (allocation runs out of space, an indirect block write fails, the inode
// rewrite fails), every block this call allocated is rolled back and the
// original inode and its data are left untouched. Only once the new pointer
// set is written to disk are the blocks the old pointer set held reclaimed.
func (e *Engine) WriteFile(inodeNumber uint64, data []byte, now uint64) error {
	inode, err := e.ReadInode(inodeNumber)
	if err != nil {
		return err
	}

	old, err := e.reader.Materialize(inode)
	if err != nil {
		return err
	}

	need := (uint64(len(data)) + layout.BlockSize - 1) / layout.BlockSize
	runs, err := e.blocks.AllocateBlocks(need)
	if err != nil {
		return err
	}

	var direct [layout.DirectBlockNum]layout.BlockSequence
	nDirect := len(runs)
	if nDirect > layout.DirectBlockNum {
		nDirect = layout.DirectBlockNum
	}
	copy(direct[:nDirect], runs[:nDirect])
	overflow := runs[nDirect:]

	single, double, triple, metaBlocks, err := e.buildIndirectChain(overflow)
	if err != nil {
		e.blocks.FreeBlocks(runs)
		return err
	}

	// The caller's data may end partway through the final run; the trailing
	// bytes of that run are left as whatever the freshly allocated blocks
	// already held on disk, which spec.md leaves undefined so long as it
	// stays within the run's own blocks.
	if err := e.writePayload(runs, data); err != nil {
		e.blocks.FreeBlocks(runs)
		e.freeMetaBlocks(metaBlocks)
		return err
	}

	inode.Size = uint64(len(data))
	inode.TimeLastModified = now
	inode.DirectBlocks = direct
	inode.SingleIndirect = single
	inode.DoubleIndirect = double
	inode.TripleIndirect = triple

	if err := e.WriteInode(inode); err != nil {
		e.blocks.FreeBlocks(runs)
		e.freeMetaBlocks(metaBlocks)
		return err
	}

	if err := e.blocks.FreeBlocks(old.DataRuns); err != nil {
		return err
	}
	return e.freeMetaBlocks(old.MetaBlocks)
}

// freeMetaBlocks frees a list of single-block indirect/pointer blocks,
// expressed as BlockSequence runs of length 1 each.
func (e *Engine) freeMetaBlocks(blocks []uint64) error {
	if len(blocks) == 0 {
		return nil
	}
	runs := make([]layout.BlockSequence, len(blocks))
	for i, b := range blocks {
		runs[i] = layout.BlockSequence{Start: b, Length: 1}
	}
	return e.blocks.FreeBlocks(runs)
}

// writePayload scatters data across runs in order, writing only as many
// bytes into each run as data still has remaining.
func (e *Engine) writePayload(runs []layout.BlockSequence, data []byte) error {
	pos := 0
	for _, run := range runs {
		capacity := int(run.Length) * layout.BlockSize
		chunk := data[pos:]
		if len(chunk) > capacity {
			chunk = chunk[:capacity]
		}
		if len(chunk) > 0 {
			if err := e.dev.WriteWindow(int64(run.Start)*layout.BlockSize, chunk); err != nil {
				return err
			}
		}
		pos += len(chunk)
	}
	return nil
}

// buildIndirectChain serializes the overflow runs (those that didn't fit in
// the 6 direct pointers) into single-, double-, or triple-indirect blocks as
// needed, returning the block number stored in whichever of the inode's
// three indirect pointer fields applies (the other two are 0), plus every
// meta block it allocated along the way. On failure it frees every meta
// block it allocated itself before returning, so the caller only ever has
// to roll back the data runs it passed in.
func (e *Engine) buildIndirectChain(runs []layout.BlockSequence) (single, double, triple uint64, metaBlocks []uint64, err error) {
	if len(runs) == 0 {
		return 0, 0, 0, nil, nil
	}

	var allocated []uint64
	allocBlock := func() (uint64, error) {
		blk, err := e.allocMetaBlock()
		if err != nil {
			return 0, err
		}
		allocated = append(allocated, blk)
		return blk, nil
	}
	rollback := func() {
		e.freeMetaBlocks(allocated)
	}

	if len(runs) <= layout.IndirectNumBlockSequence {
		blk, err := allocBlock()
		if err != nil {
			return 0, 0, 0, allocated, err
		}
		if err := e.writeIndirectBlock(blk, runs); err != nil {
			rollback()
			return 0, 0, 0, allocated, err
		}
		return blk, 0, 0, allocated, nil
	}

	chunks := chunkRuns(runs, layout.IndirectNumBlockSequence)
	if len(chunks) <= layout.PointersPerBlock {
		ptrs, err := e.writeIndirectChunksTracked(chunks, allocBlock)
		if err != nil {
			rollback()
			return 0, 0, 0, allocated, err
		}
		dbl, err := allocBlock()
		if err != nil {
			rollback()
			return 0, 0, 0, allocated, err
		}
		if err := e.writePointerBlock(dbl, ptrs); err != nil {
			rollback()
			return 0, 0, 0, allocated, err
		}
		return 0, dbl, 0, allocated, nil
	}

	chunkGroups := chunkOfChunks(chunks, layout.PointersPerBlock)
	if len(chunkGroups) > layout.PointersPerBlock {
		return 0, 0, 0, allocated, errs.New(errs.NoBitmapRunFound)
	}

	var triplePtrs []uint64
	for _, group := range chunkGroups {
		ptrs, err := e.writeIndirectChunksTracked(group, allocBlock)
		if err != nil {
			rollback()
			return 0, 0, 0, allocated, err
		}
		dbl, err := allocBlock()
		if err != nil {
			rollback()
			return 0, 0, 0, allocated, err
		}
		if err := e.writePointerBlock(dbl, ptrs); err != nil {
			rollback()
			return 0, 0, 0, allocated, err
		}
		triplePtrs = append(triplePtrs, dbl)
	}

	top, err := allocBlock()
	if err != nil {
		rollback()
		return 0, 0, 0, allocated, err
	}
	if err := e.writePointerBlock(top, triplePtrs); err != nil {
		rollback()
		return 0, 0, 0, allocated, err
	}
	return 0, 0, top, allocated, nil
}

func (e *Engine) writeIndirectChunksTracked(chunks [][]layout.BlockSequence, allocBlock func() (uint64, error)) ([]uint64, error) {
	var ptrs []uint64
	for _, chunk := range chunks {
		blk, err := allocBlock()
		if err != nil {
			return nil, err
		}
		if err := e.writeIndirectBlock(blk, chunk); err != nil {
			return nil, err
		}
		ptrs = append(ptrs, blk)
	}
	return ptrs, nil
}

func (e *Engine) allocMetaBlock() (uint64, error) {
	runs, err := e.blocks.AllocateBlocks(1)
	if err != nil {
		return 0, err
	}
	return runs[0].Start, nil
}

func (e *Engine) writeIndirectBlock(blockNum uint64, runs []layout.BlockSequence) error {
	buf := make([]byte, layout.BlockSize)
	for i, run := range runs {
		off := i * layout.IndirectEntrySize
		binary.LittleEndian.PutUint32(buf[off:], uint32(run.Start))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(run.Length))
	}
	return e.dev.WriteWindow(int64(blockNum)*layout.BlockSize, buf)
}

func (e *Engine) writePointerBlock(blockNum uint64, ptrs []uint64) error {
	buf := make([]byte, layout.BlockSize)
	for i, ptr := range ptrs {
		binary.LittleEndian.PutUint64(buf[i*layout.PointerEntrySize:], ptr)
	}
	return e.dev.WriteWindow(int64(blockNum)*layout.BlockSize, buf)
}

func chunkRuns(runs []layout.BlockSequence, size int) [][]layout.BlockSequence {
	var out [][]layout.BlockSequence
	for len(runs) > 0 {
		n := size
		if n > len(runs) {
			n = len(runs)
		}
		out = append(out, runs[:n])
		runs = runs[n:]
	}
	return out
}

func chunkOfChunks(chunks [][]layout.BlockSequence, size int) [][][]layout.BlockSequence {
	var out [][][]layout.BlockSequence
	for len(chunks) > 0 {
		n := size
		if n > len(chunks) {
			n = len(chunks)
		}
		out = append(out, chunks[:n])
		chunks = chunks[n:]
	}
	return out
}
