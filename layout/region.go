package layout

// BlockSequence is a run of contiguous blocks.
type BlockSequence struct {
	Start  uint64
	Length uint64
}

// IsEmpty reports whether the sequence carries no blocks at all.
func (s BlockSequence) IsEmpty() bool {
	return s.Start == 0 && s.Length == 0
}

func roundUpToBlock(n uint64) uint64 {
	rem := n % BlockSize
	if rem == 0 {
		return n
	}
	return n + (BlockSize - rem)
}

// Region describes the block-aligned on-disk layout computed from the fixed
// constants in this package:
//
//	[0]            superblock       (1 block)
//	[after SB]     inode_bitmap     (block-padded)
//	[next]         block_bitmap     (block-padded)
//	[next]         inode_table      (block-padded)
//	[next ... end] data_region      (remaining blocks)
type Region struct {
	SuperblockOffset  uint64
	SuperblockSize    uint64
	InodeBitmapOffset uint64
	InodeBitmapSize   uint64
	BlockBitmapOffset uint64
	BlockBitmapSize   uint64
	InodeTableOffset  uint64
	InodeTableSize    uint64
	DataRegionOffset  uint64
	DataRegionSize    uint64
}

// ComputeRegion derives every region offset and padded size from the fixed
// constants. The result is the same for every disk image this package ever
// produces, since block/inode counts never vary at runtime.
func ComputeRegion() Region {
	inodeBitmapRaw := (uint64(InodeCount) + 7) / 8
	blockBitmapRaw := (uint64(BlockCount) + 7) / 8
	inodeTableRaw := uint64(InodeCount) * InodeSize

	r := Region{
		SuperblockOffset: 0,
		SuperblockSize:   roundUpToBlock(1),
	}
	r.InodeBitmapOffset = r.SuperblockOffset + r.SuperblockSize
	r.InodeBitmapSize = roundUpToBlock(inodeBitmapRaw)

	r.BlockBitmapOffset = r.InodeBitmapOffset + r.InodeBitmapSize
	r.BlockBitmapSize = roundUpToBlock(blockBitmapRaw)

	r.InodeTableOffset = r.BlockBitmapOffset + r.BlockBitmapSize
	r.InodeTableSize = roundUpToBlock(inodeTableRaw)

	r.DataRegionOffset = r.InodeTableOffset + r.InodeTableSize
	r.DataRegionSize = DiskSize - r.DataRegionOffset

	return r
}

// InodeAddrToDiskBlockAddr returns the block index holding inode number n's
// record, given the already-computed region layout.
func (r Region) InodeAddrToDiskBlockAddr(n uint64) uint64 {
	firstInodeTableBlock := r.InodeTableOffset / BlockSize
	return firstInodeTableBlock + (n*InodeSize)/BlockSize
}

// InodeByteOffsetInBlock returns the byte offset of inode n's record within
// the block returned by InodeAddrToDiskBlockAddr.
func InodeByteOffsetInBlock(n uint64) uint64 {
	inodesPerBlock := uint64(BlockSize / InodeSize)
	return (n % inodesPerBlock) * InodeSize
}
