// Package blockfs implements a single-file, block-structured filesystem: it
// formats a fixed-size backing file as a disk image and offers file and
// directory operations over it.
package blockfs

import (
	"time"

	"github.com/bbanerjeerichards/blockfs/alloc"
	"github.com/bbanerjeerichards/blockfs/bitmap"
	"github.com/bbanerjeerichards/blockfs/device"
	"github.com/bbanerjeerichards/blockfs/dir"
	"github.com/bbanerjeerichards/blockfs/errs"
	"github.com/bbanerjeerichards/blockfs/file"
	"github.com/bbanerjeerichards/blockfs/layout"
	"github.com/bbanerjeerichards/blockfs/stream"
)

type mountState int

const (
	stateUnmounted mountState = iota
	stateMounted
	stateRemoved
)

// Disk is a mounted disk image. It exclusively owns its bitmaps, superblock,
// and backing file handle from mount to unmount; no operation may be called
// concurrently against the same Disk, and multiple Disk handles open on the
// same backing file are undefined behavior.
type Disk struct {
	path  string
	state mountState

	dev    *device.BlockDevice
	region layout.Region
	sb     layout.Superblock

	blockBitmap *bitmap.Bitmap
	inodeBitmap *bitmap.Bitmap

	blockAlloc *alloc.BlockAllocator
	inodeAlloc *alloc.InodeAllocator
	reader     *stream.Reader
	engine     *file.Engine
}

func now() uint64 {
	return uint64(time.Now().Unix())
}

func (d *Disk) requireMounted() error {
	if d.state != stateMounted {
		return errs.New(errs.DiskNotMounted)
	}
	return nil
}

// FormatAndMount formats a fresh disk image at path and mounts it. Format
// computes the region layout, serializes a superblock to block 0, writes two
// zeroed bitmaps, leaves the inode table and data region zeroed, marks every
// block ahead of the data region as used in the block bitmap, then reserves
// the root inode (inode_bitmap[1]=1) and writes a directory-flagged
// inode #1 of size 0 with all direct entries empty.
func FormatAndMount(path string) (*Disk, error) {
	dev, err := device.Create(path, layout.DiskSize)
	if err != nil {
		return nil, err
	}

	region := layout.ComputeRegion()
	sb := layout.NewSuperblock(region)

	if err := dev.WriteWindow(int64(region.SuperblockOffset), sb.Serialize()); err != nil {
		dev.Close()
		return nil, err
	}

	zeroInodeBitmap := make([]byte, region.InodeBitmapSize)
	if err := dev.WriteWindow(int64(region.InodeBitmapOffset), zeroInodeBitmap); err != nil {
		dev.Close()
		return nil, err
	}

	zeroBlockBitmap := make([]byte, region.BlockBitmapSize)
	if err := dev.WriteWindow(int64(region.BlockBitmapOffset), zeroBlockBitmap); err != nil {
		dev.Close()
		return nil, err
	}

	zeroInodeTable := make([]byte, region.InodeTableSize)
	if err := dev.WriteWindow(int64(region.InodeTableOffset), zeroInodeTable); err != nil {
		dev.Close()
		return nil, err
	}

	d := &Disk{
		path:        path,
		state:       stateMounted,
		dev:         dev,
		region:      region,
		sb:          sb,
		blockBitmap: bitmap.New(layout.BlockCount),
		inodeBitmap: bitmap.New(layout.InodeCount),
	}
	// The superblock, both bitmaps and the inode table occupy every block
	// ahead of the data region; mark them used so file data is never
	// allocated on top of them.
	for b := uint64(0); b < region.DataRegionOffset/layout.BlockSize; b++ {
		d.blockBitmap.Write(b, true)
	}
	d.wireAllocators()

	if err := d.reserveRootInode(); err != nil {
		dev.Close()
		return nil, err
	}

	return d, nil
}

// reserveRootInode marks inode 1 as allocated and writes it as an empty
// directory, mirroring original_source/src/api.c's two-step mount sequence:
// format the image, then separately pin the root inode's bitmap bit.
func (d *Disk) reserveRootInode() error {
	d.inodeBitmap.Write(layout.RootInodeNumber, true)

	root := layout.NewInode(layout.RootInodeNumber, true, 0, 0, now())
	if err := d.engine.WriteInode(root); err != nil {
		return err
	}
	return d.flushBitmaps()
}

func (d *Disk) wireAllocators() {
	d.blockAlloc = alloc.NewBlockAllocator(d.blockBitmap, layout.BlockCount)
	d.inodeAlloc = alloc.NewInodeAllocator(d.inodeBitmap, layout.InodeCount)
	d.reader = stream.NewReader(d.dev)
	d.engine = file.NewEngine(d.dev, d.reader, d.blockAlloc, d.region)
}

// Mount opens an existing backing file, verifies its superblock, and loads
// both bitmaps into memory. Bitmap writes during the session are buffered
// in memory and flushed to disk on Unmount.
func Mount(path string) (*Disk, error) {
	dev, err := device.Open(path)
	if err != nil {
		return nil, err
	}

	region := layout.ComputeRegion()
	sbBytes, err := dev.ReadWindow(int64(region.SuperblockOffset), layout.BlockSize)
	if err != nil {
		dev.Close()
		return nil, err
	}
	sb, err := layout.DeserializeSuperblock(sbBytes)
	if err != nil {
		dev.Close()
		return nil, err
	}

	inodeBitmapBytes, err := dev.ReadWindow(int64(region.InodeBitmapOffset), int(region.InodeBitmapSize))
	if err != nil {
		dev.Close()
		return nil, err
	}
	blockBitmapBytes, err := dev.ReadWindow(int64(region.BlockBitmapOffset), int(region.BlockBitmapSize))
	if err != nil {
		dev.Close()
		return nil, err
	}

	blockBitmap, err := bitmap.FromBytes(blockBitmapBytes, layout.BlockCount)
	if err != nil {
		dev.Close()
		return nil, err
	}
	inodeBitmap, err := bitmap.FromBytes(inodeBitmapBytes, layout.InodeCount)
	if err != nil {
		dev.Close()
		return nil, err
	}

	d := &Disk{
		path:        path,
		state:       stateMounted,
		dev:         dev,
		region:      region,
		sb:          sb,
		blockBitmap: blockBitmap,
		inodeBitmap: inodeBitmap,
	}
	d.wireAllocators()
	return d, nil
}

func (d *Disk) flushBitmaps() error {
	if err := d.dev.WriteWindow(int64(d.region.InodeBitmapOffset), d.inodeBitmap.Bytes()); err != nil {
		return err
	}
	return d.dev.WriteWindow(int64(d.region.BlockBitmapOffset), d.blockBitmap.Bytes())
}

// Unmount flushes the in-memory bitmaps and superblock to disk and releases
// the file handle. The Disk must not be used for I/O afterward.
func (d *Disk) Unmount() error {
	if err := d.requireMounted(); err != nil {
		return err
	}
	if err := d.flushBitmaps(); err != nil {
		return err
	}
	if err := d.dev.WriteWindow(int64(d.region.SuperblockOffset), d.sb.Serialize()); err != nil {
		return err
	}
	if err := d.dev.Close(); err != nil {
		return err
	}
	d.state = stateUnmounted
	return nil
}

// Remove deletes the backing file. It's only valid from the Unmounted
// state.
func (d *Disk) Remove() error {
	if d.state != stateUnmounted {
		return errs.New(errs.DiskNotMounted)
	}
	if err := device.Remove(d.path); err != nil {
		return err
	}
	d.state = stateRemoved
	return nil
}

// ReadAll reads an inode's complete payload, reassembling it from whatever
// discontiguous block runs its address stream materializes.
func (d *Disk) ReadAll(inodeNumber uint32) ([]byte, error) {
	if err := d.requireMounted(); err != nil {
		return nil, err
	}
	inode, err := d.engine.ReadInode(uint64(inodeNumber))
	if err != nil {
		return nil, err
	}
	result, err := d.reader.Materialize(inode)
	if err != nil {
		return nil, err
	}
	return d.engine.ReadRuns(result.DataRuns, true, inode.Size)
}

// WriteFile replaces the complete contents of inodeNumber with data.
func (d *Disk) WriteFile(inodeNumber uint32, data []byte) error {
	if err := d.requireMounted(); err != nil {
		return err
	}
	return d.engine.WriteFile(uint64(inodeNumber), data, now())
}

// fetchDirectoryPayload implements dir.Lookaside by reading an inode and, if
// it's a directory, its full decoded payload.
func (d *Disk) fetchDirectoryPayload(inodeNumber uint32) ([]byte, bool, error) {
	inode, err := d.engine.ReadInode(uint64(inodeNumber))
	if err != nil {
		return nil, false, err
	}
	if !inode.IsDirectory() {
		return nil, false, nil
	}
	result, err := d.reader.Materialize(inode)
	if err != nil {
		return nil, false, err
	}
	payload, err := d.engine.ReadRuns(result.DataRuns, true, inode.Size)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Resolve walks path (no leading '/') from the root directory and returns
// the inode number it names. An empty path resolves to the root inode.
func (d *Disk) Resolve(path string) (uint32, error) {
	if err := d.requireMounted(); err != nil {
		return 0, err
	}

	rootPayload, _, err := d.fetchDirectoryPayload(layout.RootInodeNumber)
	if err != nil {
		return 0, err
	}

	entry, err := dir.Walk(d.fetchDirectoryPayload, layout.RootInodeNumber, rootPayload, []byte(path))
	if err != nil {
		return 0, err
	}
	return entry.InodeNumber, nil
}

// resolveDirectory resolves parentPath to the payload of the directory it
// names, and the inode number that directory lives at. An empty path means
// the root directory.
func (d *Disk) resolveDirectory(parentPath string) (payload []byte, inodeNumber uint32, err error) {
	if parentPath == "" {
		payload, _, err = d.fetchDirectoryPayload(layout.RootInodeNumber)
		return payload, layout.RootInodeNumber, err
	}

	rootPayload, _, err := d.fetchDirectoryPayload(layout.RootInodeNumber)
	if err != nil {
		return nil, 0, err
	}
	entry, err := dir.Walk(d.fetchDirectoryPayload, layout.RootInodeNumber, rootPayload, []byte(parentPath))
	if err != nil {
		return nil, 0, err
	}
	payload, isDir, err := d.fetchDirectoryPayload(entry.InodeNumber)
	if err != nil {
		return nil, 0, err
	}
	if !isDir {
		return nil, 0, errs.New(errs.InodeNotFound)
	}
	return payload, entry.InodeNumber, nil
}

// CreateFile allocates a new inode under parentPath, adds a directory entry
// for it named name, and returns the new inode number. parentPath == ""
// creates the entry at the root.
func (d *Disk) CreateFile(parentPath string, name string, isDir bool) (uint32, error) {
	if err := d.requireMounted(); err != nil {
		return 0, err
	}
	if len(name) > dir.MaxNameLen {
		return 0, errs.New(errs.InodeNameTooLarge)
	}

	parentPayload, parentInode, err := d.resolveDirectory(parentPath)
	if err != nil {
		return 0, err
	}

	inodeNumber, err := d.inodeAlloc.AllocateInode()
	if err != nil {
		return 0, err
	}

	newInode := layout.NewInode(uint32(inodeNumber), isDir, 0, 0, now())
	if err := d.engine.WriteInode(newInode); err != nil {
		d.inodeAlloc.FreeInode(inodeNumber)
		return 0, err
	}

	updatedParent, err := dir.AddEntry(parentPayload, dir.Entry{
		InodeNumber: uint32(inodeNumber),
		Name:        []byte(name),
	})
	if err != nil {
		d.inodeAlloc.FreeInode(inodeNumber)
		return 0, err
	}

	if err := d.engine.WriteFile(uint64(parentInode), updatedParent, now()); err != nil {
		d.inodeAlloc.FreeInode(inodeNumber)
		return 0, err
	}

	return uint32(inodeNumber), nil
}

// RemoveEntry removes the directory record named name from parentPath and
// returns the directory's new payload after the splice.
func (d *Disk) RemoveEntry(parentPath string, name string) ([]byte, error) {
	if err := d.requireMounted(); err != nil {
		return nil, err
	}

	parentPayload, parentInode, err := d.resolveDirectory(parentPath)
	if err != nil {
		return nil, err
	}

	updated, err := dir.RemoveEntry(parentPayload, []byte(name))
	if err != nil {
		return nil, err
	}

	if err := d.engine.WriteFile(uint64(parentInode), updated, now()); err != nil {
		return nil, err
	}
	return updated, nil
}
