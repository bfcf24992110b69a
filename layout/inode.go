package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/bbanerjeerichards/blockfs/errs"
)

// Inode is the fixed-size on-disk metadata and pointer record for one file
// or directory.
//
// On disk, the direct block pointers and the three indirect pointers are
// packed as uint32, not uint64: taking every field in spec.md's Inode layout
// at its stated u64 width sums to 164 bytes, which doesn't fit in the
// spec-mandated 128-byte InodeSize. A 2048-block image never needs more than
// 11 bits to address a block, so u32 loses nothing and brings the record
// down to 104 bytes (see DESIGN.md). In memory these still widen to uint64
// via BlockSequence so the rest of the code never has to think about the
// on-disk width.
type Inode struct {
	Magic            uint32
	InodeNumber      uint32
	Uid              uint32
	Gid              uint32
	Flags            uint16
	Size             uint64
	TimeCreated      uint64
	TimeLastModified uint64
	Preallocation    uint16
	DirectBlocks     [DirectBlockNum]BlockSequence
	SingleIndirect   uint64
	DoubleIndirect   uint64
	TripleIndirect   uint64
}

// IsDirectory reports whether bit 0 of Flags is set.
func (i Inode) IsDirectory() bool {
	return i.Flags&InodeFlagIsDirectory != 0
}

// IsAllocated reports whether this inode slot is currently in use.
func (i Inode) IsAllocated() bool {
	return i.Magic == InodeMagic
}

// NewInode returns a freshly allocated inode with zeroed pointers, stamped
// with the current time.
func NewInode(number uint32, isDirectory bool, uid, gid uint32, now uint64) Inode {
	var flags uint16
	if isDirectory {
		flags |= InodeFlagIsDirectory
	}
	return Inode{
		Magic:            InodeMagic,
		InodeNumber:      number,
		Uid:              uid,
		Gid:              gid,
		Flags:            flags,
		TimeCreated:      now,
		TimeLastModified: now,
	}
}

// Serialize writes the inode into a zero-filled InodeSize buffer. Trailing
// bytes beyond the fields below stay zero.
func (i Inode) Serialize() []byte {
	out := make([]byte, InodeSize)
	w := bytewriter.New(out)
	binary.Write(w, binary.LittleEndian, i.Magic)
	binary.Write(w, binary.LittleEndian, i.InodeNumber)
	binary.Write(w, binary.LittleEndian, i.Uid)
	binary.Write(w, binary.LittleEndian, i.Gid)
	binary.Write(w, binary.LittleEndian, i.Flags)
	binary.Write(w, binary.LittleEndian, i.Size)
	binary.Write(w, binary.LittleEndian, i.TimeCreated)
	binary.Write(w, binary.LittleEndian, i.TimeLastModified)
	binary.Write(w, binary.LittleEndian, i.Preallocation)
	for _, bs := range i.DirectBlocks {
		binary.Write(w, binary.LittleEndian, uint32(bs.Start))
		binary.Write(w, binary.LittleEndian, uint32(bs.Length))
	}
	binary.Write(w, binary.LittleEndian, uint32(i.SingleIndirect))
	binary.Write(w, binary.LittleEndian, uint32(i.DoubleIndirect))
	binary.Write(w, binary.LittleEndian, uint32(i.TripleIndirect))
	return out
}

// DeserializeInode parses an InodeSize buffer into an Inode. An unallocated
// slot (Magic != InodeMagic) is returned without error; callers check
// IsAllocated themselves, matching the §8 invariant that allocation state is
// derived from the magic, not taken on faith from the bitmap alone.
func DeserializeInode(data []byte) (Inode, error) {
	if len(data) < InodeSize {
		return Inode{}, errs.New(errs.InvalidMemoryAccess)
	}

	r := bytes.NewReader(data)
	var i Inode
	read := func(dst any) error {
		return binary.Read(r, binary.LittleEndian, dst)
	}

	for _, dst := range []any{&i.Magic, &i.InodeNumber, &i.Uid, &i.Gid} {
		if err := read(dst); err != nil {
			return Inode{}, errs.FileAccessFailed.WrapError(err)
		}
	}
	if err := read(&i.Flags); err != nil {
		return Inode{}, errs.FileAccessFailed.WrapError(err)
	}
	for _, dst := range []any{&i.Size, &i.TimeCreated, &i.TimeLastModified} {
		if err := read(dst); err != nil {
			return Inode{}, errs.FileAccessFailed.WrapError(err)
		}
	}
	if err := read(&i.Preallocation); err != nil {
		return Inode{}, errs.FileAccessFailed.WrapError(err)
	}
	for idx := range i.DirectBlocks {
		var start, length uint32
		if err := read(&start); err != nil {
			return Inode{}, errs.FileAccessFailed.WrapError(err)
		}
		if err := read(&length); err != nil {
			return Inode{}, errs.FileAccessFailed.WrapError(err)
		}
		i.DirectBlocks[idx] = BlockSequence{Start: uint64(start), Length: uint64(length)}
	}
	var single, double, triple uint32
	for _, dst := range []any{&single, &double, &triple} {
		if err := read(dst); err != nil {
			return Inode{}, errs.FileAccessFailed.WrapError(err)
		}
	}
	i.SingleIndirect = uint64(single)
	i.DoubleIndirect = uint64(double)
	i.TripleIndirect = uint64(triple)
	return i, nil
}
