package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/bbanerjeerichards/blockfs/errs"
)

// Superblock is the fixed-size record at block 0 of a disk image.
type Superblock struct {
	Magic1          uint32
	Magic2          uint32
	Version         uint16
	BlockSize       uint32
	InodeSize       uint32
	InodeCount      uint64
	BlockCount      uint64
	InodeBitmapSize uint64 // bytes, block-padded
	BlockBitmapSize uint64 // bytes, block-padded
	InodeTableSize  uint64 // bytes, block-padded
	DataRegionSize  uint64 // bytes
}

// NewSuperblock builds the superblock that a fresh format writes out.
func NewSuperblock(r Region) Superblock {
	return Superblock{
		Magic1:          SuperblockMagic1,
		Magic2:          SuperblockMagic2,
		Version:         CurrentVersion,
		BlockSize:       BlockSize,
		InodeSize:       InodeSize,
		InodeCount:      InodeCount,
		BlockCount:      BlockCount,
		InodeBitmapSize: r.InodeBitmapSize,
		BlockBitmapSize: r.BlockBitmapSize,
		InodeTableSize:  r.InodeTableSize,
		DataRegionSize:  r.DataRegionSize,
	}
}

// Serialize writes the superblock into a zero-filled BlockSize buffer.
func (sb Superblock) Serialize() []byte {
	out := make([]byte, BlockSize)
	w := bytewriter.New(out)
	binary.Write(w, binary.LittleEndian, sb.Magic1)
	binary.Write(w, binary.LittleEndian, sb.Magic2)
	binary.Write(w, binary.LittleEndian, sb.Version)
	binary.Write(w, binary.LittleEndian, sb.BlockSize)
	binary.Write(w, binary.LittleEndian, sb.InodeSize)
	binary.Write(w, binary.LittleEndian, sb.InodeCount)
	binary.Write(w, binary.LittleEndian, sb.BlockCount)
	binary.Write(w, binary.LittleEndian, sb.InodeBitmapSize)
	binary.Write(w, binary.LittleEndian, sb.BlockBitmapSize)
	binary.Write(w, binary.LittleEndian, sb.InodeTableSize)
	binary.Write(w, binary.LittleEndian, sb.DataRegionSize)
	return out
}

// DeserializeSuperblock parses a BlockSize buffer into a Superblock and
// verifies both magic numbers and the version field.
func DeserializeSuperblock(data []byte) (Superblock, error) {
	if len(data) < int(BlockSize) {
		return Superblock{}, errs.New(errs.InvalidMemoryAccess)
	}

	r := bytes.NewReader(data)
	var sb Superblock
	fields := []any{
		&sb.Magic1, &sb.Magic2, &sb.Version, &sb.BlockSize, &sb.InodeSize,
		&sb.InodeCount, &sb.BlockCount, &sb.InodeBitmapSize,
		&sb.BlockBitmapSize, &sb.InodeTableSize, &sb.DataRegionSize,
	}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Superblock{}, errs.FileAccessFailed.WrapError(err)
		}
	}

	if sb.Magic1 != SuperblockMagic1 || sb.Magic2 != SuperblockMagic2 {
		return Superblock{}, errs.Corrupt.WithMessage("bad superblock magic")
	}
	if sb.Version != CurrentVersion {
		return Superblock{}, errs.Corrupt.WithMessage("unsupported superblock version")
	}
	return sb, nil
}
