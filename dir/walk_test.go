package dir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFS is an in-memory directory tree used to exercise Walk without any
// device I/O: inode number -> (payload, isDirectory).
type fakeFS struct {
	payloads map[uint32][]byte
	isDir    map[uint32]bool
}

func (f *fakeFS) fetch(inodeNumber uint32) ([]byte, bool, error) {
	return f.payloads[inodeNumber], f.isDir[inodeNumber], nil
}

func buildFakeFS(t *testing.T) (*fakeFS, uint32) {
	t.Helper()
	fs := &fakeFS{payloads: map[uint32][]byte{}, isDir: map[uint32]bool{}}

	const (
		rootInode = 1
		dir1Inode = 2
		dir2Inode = 3
		leafInode = 4
	)

	fs.isDir[rootInode] = true
	fs.isDir[dir1Inode] = true
	fs.isDir[dir2Inode] = true
	fs.isDir[leafInode] = false

	dir2Payload := buildDir(t, Entry{InodeNumber: leafInode, Name: []byte("leaf")})
	fs.payloads[dir2Inode] = dir2Payload

	dir1Payload := buildDir(t, Entry{InodeNumber: dir2Inode, Name: []byte("dir2")})
	fs.payloads[dir1Inode] = dir1Payload

	rootPayload := buildDir(t, Entry{InodeNumber: dir1Inode, Name: []byte("dir1")})
	fs.payloads[rootInode] = rootPayload

	return fs, rootInode
}

func TestWalkResolvesMultiSegmentPath(t *testing.T) {
	fs, root := buildFakeFS(t)
	entry, err := Walk(fs.fetch, root, fs.payloads[root], []byte("dir1/dir2/leaf"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, entry.InodeNumber)
	assert.Equal(t, "leaf", string(entry.Name))
}

func TestWalkEmptyPathResolvesToStartingDirectory(t *testing.T) {
	fs, root := buildFakeFS(t)
	entry, err := Walk(fs.fetch, root, fs.payloads[root], []byte(""))
	require.NoError(t, err)
	assert.Equal(t, root, entry.InodeNumber)
}

func TestWalkMissingSegmentFails(t *testing.T) {
	fs, root := buildFakeFS(t)
	_, err := Walk(fs.fetch, root, fs.payloads[root], []byte("dir1/missing"))
	assert.Error(t, err)
}

func TestWalkThroughNonDirectorySegmentFails(t *testing.T) {
	fs, root := buildFakeFS(t)
	_, err := Walk(fs.fetch, root, fs.payloads[root], []byte("dir1/dir2/leaf/extra"))
	assert.Error(t, err)
}
