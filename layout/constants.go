// Package layout defines the on-disk binary layout: the superblock, the
// inode format, block sequences, and the fixed-offset arithmetic that locates
// every region of a disk image. Nothing in this package touches the host
// filesystem; it only knows how to turn structures into bytes and back.
package layout

const (
	// DiskSize is the fixed size of a backing file, in bytes.
	DiskSize = 1 << 20 // 1 MiB

	// BlockSize is the fixed size of one addressable block, in bytes.
	BlockSize = 512

	// InodeSize is the fixed on-disk size of one inode record, in bytes.
	InodeSize = 128

	// DirectBlockNum is the number of direct BlockSequence pointers an inode
	// carries inline.
	DirectBlockNum = 6

	// IndirectEntrySize is the on-disk size of one BlockSequence entry inside
	// an indirect block. It's encoded as (start u32, length u32), the same
	// width the inode's direct pointers use on disk, so that a 512-byte block
	// holds exactly BlockSize/8 = 64 of them -- see DESIGN.md for why this
	// width was chosen over u64 fields.
	IndirectEntrySize = 8

	// IndirectNumBlockSequence is the number of BlockSequence entries packed
	// into one indirect block.
	IndirectNumBlockSequence = BlockSize / IndirectEntrySize // 64

	// PointerEntrySize is the on-disk size of one block-number pointer inside
	// a double- or triple-indirect block.
	PointerEntrySize = 8

	// PointersPerBlock is the number of u64 pointers packed into one double-
	// or triple-indirect block.
	PointersPerBlock = BlockSize / PointerEntrySize // 64

	// BlockCount is the total number of blocks in a disk image.
	BlockCount = DiskSize / BlockSize // 2048

	// InodeCount mirrors BlockCount: one inode bitmap bit per possible inode
	// slot.
	InodeCount = BlockCount

	// RootInodeNumber is the fixed inode number of the filesystem root. Inode
	// number 0 is reserved to mean "unallocated".
	RootInodeNumber = 1

	SuperblockMagic1 uint32 = 0xA1B2C3D4
	SuperblockMagic2 uint32 = 0xAD34FB5E
	CurrentVersion   uint16 = 0x0001

	InodeMagic uint32 = 0x98765432

	// InodeFlagIsDirectory is bit 0 of Inode.Flags.
	InodeFlagIsDirectory uint16 = 0x1
)
