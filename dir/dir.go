// Package dir encodes and decodes packed directory records and walks
// '/'-separated paths through them.
package dir

import (
	"bytes"
	"encoding/binary"

	"github.com/bbanerjeerichards/blockfs/errs"
)

// MaxNameLen is the largest name length a directory record can hold.
const MaxNameLen = 255

// entryHeaderSize is the size, in bytes, of a record's fixed-width prefix:
// inode_number (u32 LE) followed by name_len (u8).
const entryHeaderSize = 5

// Entry is one decoded directory record.
type Entry struct {
	InodeNumber uint32
	Name        []byte
}

// AddEntry appends a new record to the end of dir and returns the grown
// buffer. It fails with errs.InodeNameTooLarge if the name exceeds
// MaxNameLen.
func AddEntry(dir []byte, e Entry) ([]byte, error) {
	if len(e.Name) > MaxNameLen {
		return nil, errs.New(errs.InodeNameTooLarge)
	}

	record := make([]byte, entryHeaderSize+len(e.Name))
	binary.LittleEndian.PutUint32(record, e.InodeNumber)
	record[4] = byte(len(e.Name))
	copy(record[entryHeaderSize:], e.Name)

	out := make([]byte, 0, len(dir)+len(record))
	out = append(out, dir...)
	out = append(out, record...)
	return out, nil
}

// ReadNextEntry parses one record starting at start, returning the decoded
// entry and the offset of the record immediately after it.
func ReadNextEntry(dir []byte, start int) (Entry, int, error) {
	if start < 0 || start+entryHeaderSize > len(dir) {
		return Entry{}, 0, errs.New(errs.InvalidMemoryAccess)
	}

	inodeNumber := binary.LittleEndian.Uint32(dir[start:])
	nameLen := int(dir[start+4])
	end := start + entryHeaderSize + nameLen
	if end > len(dir) {
		return Entry{}, 0, errs.New(errs.InvalidMemoryAccess)
	}

	name := make([]byte, nameLen)
	copy(name, dir[start+entryHeaderSize:end])
	return Entry{InodeNumber: inodeNumber, Name: name}, end, nil
}

// Lookup linearly scans dir for a record with the given name and returns its
// inode number. It fails with errs.InodeNotFound if the scan completes
// without a match.
func Lookup(dir []byte, name []byte) (uint32, error) {
	pos := 0
	for pos < len(dir) {
		entry, next, err := ReadNextEntry(dir, pos)
		if err != nil {
			return 0, err
		}
		if bytes.Equal(entry.Name, name) {
			return entry.InodeNumber, nil
		}
		pos = next
	}
	return 0, errs.New(errs.InodeNotFound)
}

// RemoveEntry produces a new buffer equal to dir minus the record matching
// name, preserving the order of surviving records. Unlike the C source this
// was distilled from -- whose "not found" branch fell through without
// returning -- a scan that completes without a match returns
// errs.InodeNotFound.
func RemoveEntry(dir []byte, name []byte) ([]byte, error) {
	pos := 0
	for pos < len(dir) {
		entry, next, err := ReadNextEntry(dir, pos)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(entry.Name, name) {
			out := make([]byte, 0, len(dir)-(next-pos))
			out = append(out, dir[:pos]...)
			out = append(out, dir[next:]...)
			return out, nil
		}
		pos = next
	}
	return nil, errs.New(errs.InodeNotFound)
}

// FindNextPathName scans path forward from start up to the next '/' or the
// end of the string. end reports whether start was already the termination
// signal (start == len(path)), replacing the original implementation's habit
// of overloading errs.InvalidMemoryAccess for end-of-path.
func FindNextPathName(path []byte, start int) (name []byte, nextStart int, end bool, err error) {
	if start < 0 || start > len(path) {
		return nil, 0, false, errs.New(errs.InvalidMemoryAccess)
	}
	if start == len(path) {
		return nil, start, true, nil
	}

	i := start
	for i < len(path) && path[i] != '/' {
		i++
	}

	// Only skip past an actual separator. If the loop instead ran off the
	// end of path, nextStart must land exactly on len(path) so the next call
	// sees start == len(path) and reports end-of-path, rather than running
	// past it into the out-of-range branch above.
	next := i
	if i < len(path) {
		next = i + 1
	}
	return path[start:i], next, false, nil
}
