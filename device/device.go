// Package device implements the block device: opening, creating, and closing
// a fixed-size backing file, and doing positioned reads and writes against
// it. It is the only package that touches the host filesystem directly.
package device

import (
	"io"
	"os"

	"github.com/xaionaro-go/bytesextra"

	"github.com/bbanerjeerichards/blockfs/errs"
)

// BlockDevice wraps a single regular file used as the backing store for a
// disk image.
type BlockDevice struct {
	path string
	file *os.File
	size int64
}

// Create creates a new backing file at path, pre-sized to size bytes filled
// with zeros.
func Create(path string, size int64) (*BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.FileAccessFailed.WrapError(err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errs.FileAccessFailed.WrapError(err)
	}
	return &BlockDevice{path: path, file: f, size: size}, nil
}

// Open opens an existing backing file for reading and writing.
func Open(path string) (*BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.FileAccessFailed.WrapError(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.FileAccessFailed.WrapError(err)
	}
	return &BlockDevice{path: path, file: f, size: info.Size()}, nil
}

// Close releases the underlying file handle.
func (d *BlockDevice) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	if err != nil {
		return errs.FileAccessFailed.WrapError(err)
	}
	return nil
}

// Remove deletes the backing file. The device must already be closed.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return errs.FileAccessFailed.WrapError(err)
	}
	return nil
}

// Size returns the total size of the backing file in bytes.
func (d *BlockDevice) Size() int64 {
	return d.size
}

// ReadAt reads exactly length bytes starting at offset. A short read is
// reported as errs.PartialFileWrite.
func (d *BlockDevice) ReadAt(offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+int64(length) > d.size {
		return nil, errs.New(errs.InvalidMemoryAccess)
	}
	buf := make([]byte, length)
	n, err := d.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, errs.FileAccessFailed.WrapError(err)
	}
	if n != length {
		return nil, errs.New(errs.PartialFileWrite)
	}
	return buf, nil
}

// WriteAt writes all of data starting at offset. A short write is reported
// as errs.PartialFileWrite.
func (d *BlockDevice) WriteAt(offset int64, data []byte) error {
	if offset < 0 || offset+int64(len(data)) > d.size {
		return errs.New(errs.InvalidMemoryAccess)
	}
	n, err := d.file.WriteAt(data, offset)
	if err != nil {
		return errs.FileAccessFailed.WrapError(err)
	}
	if n != len(data) {
		return errs.New(errs.PartialFileWrite)
	}
	return nil
}

// offsetView narrows ReadAt/WriteAt access to a [offset, offset+length)
// window of the backing file so that it can be handed to bytesextra as an
// independently seekable region.
type offsetView struct {
	dev    *BlockDevice
	offset int64
	length int64
}

func (v *offsetView) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > v.length {
		return 0, errs.New(errs.InvalidMemoryAccess)
	}
	return v.dev.file.ReadAt(p, v.offset+off)
}

func (v *offsetView) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > v.length {
		return 0, errs.New(errs.InvalidMemoryAccess)
	}
	return v.dev.file.WriteAt(p, v.offset+off)
}

// Window returns a seekable view over [offset, offset+length) of the backing
// file, for callers that want to decode or fill a region sequentially with
// encoding/binary or io.ReadFull instead of doing their own offset
// arithmetic on every field.
func (d *BlockDevice) Window(offset, length int64) (io.ReadWriteSeeker, error) {
	if offset < 0 || length < 0 || offset+length > d.size {
		return nil, errs.New(errs.InvalidMemoryAccess)
	}
	view := &offsetView{dev: d, offset: offset, length: length}
	return bytesextra.NewReadWriteSeeker(view), nil
}

// ReadWindow reads exactly length bytes starting at offset through a
// bytesextra-backed seeker rather than a raw ReadAt call. This is the read
// path every real caller (the file engine, the address-stream reader, Mount's
// superblock/bitmap load) uses; ReadAt itself stays around only as the
// primitive offsetView is built on.
func (d *BlockDevice) ReadWindow(offset int64, length int) ([]byte, error) {
	w, err := d.Window(offset, int64(length))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(w, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errs.FileAccessFailed.WrapError(err)
	}
	if n != length {
		return nil, errs.New(errs.PartialFileWrite)
	}
	return buf, nil
}

// WriteWindow writes all of data starting at offset through a
// bytesextra-backed seeker rather than a raw WriteAt call. See ReadWindow.
func (d *BlockDevice) WriteWindow(offset int64, data []byte) error {
	w, err := d.Window(offset, int64(len(data)))
	if err != nil {
		return err
	}
	n, err := w.Write(data)
	if err != nil {
		return errs.FileAccessFailed.WrapError(err)
	}
	if n != len(data) {
		return errs.New(errs.PartialFileWrite)
	}
	return nil
}
