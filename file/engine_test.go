package file

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbanerjeerichards/blockfs/alloc"
	"github.com/bbanerjeerichards/blockfs/bitmap"
	"github.com/bbanerjeerichards/blockfs/device"
	"github.com/bbanerjeerichards/blockfs/layout"
	"github.com/bbanerjeerichards/blockfs/stream"
)

func newTestEngineWithBitmap(t *testing.T) (*Engine, *bitmap.Bitmap) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := device.Create(path, layout.DiskSize)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	region := layout.ComputeRegion()
	bm := bitmap.New(layout.BlockCount)
	// Mirror a formatted image: the blocks ahead of the data region hold
	// metadata (including the inode table WriteInode writes into), so they
	// are never handed out for file data.
	for i := uint64(0); i < region.DataRegionOffset/layout.BlockSize; i++ {
		bm.Write(i, true)
	}
	blocks := alloc.NewBlockAllocator(bm, layout.BlockCount)
	reader := stream.NewReader(dev)
	return NewEngine(dev, reader, blocks, region), bm
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, _ := newTestEngineWithBitmap(t)
	return e
}

func writeAndReadBack(t *testing.T, e *Engine, inodeNumber uint64, data []byte) []byte {
	t.Helper()
	in := layout.NewInode(uint32(inodeNumber), false, 0, 0, 1)
	require.NoError(t, e.WriteInode(in))
	require.NoError(t, e.WriteFile(inodeNumber, data, 2))

	got, err := e.ReadInode(inodeNumber)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), got.Size)

	reader := stream.NewReader(e.dev)
	result, err := reader.Materialize(got)
	require.NoError(t, err)

	buf, err := e.ReadRuns(result.DataRuns, true, got.Size)
	require.NoError(t, err)
	return buf
}

func TestWriteFileSmallPayloadRoundTrips(t *testing.T) {
	e := newTestEngine(t)
	data := []byte("hello, blockfs")
	got := writeAndReadBack(t, e, 1, data)
	assert.Equal(t, data, got)
}

func TestWriteFileMultiBlockPayloadRoundTrips(t *testing.T) {
	e := newTestEngine(t)
	data := bytes.Repeat([]byte("x"), 2049)
	got := writeAndReadBack(t, e, 1, data)
	assert.Equal(t, data, got)
}

func TestWriteFileCrossesIntoIndirectBlocks(t *testing.T) {
	e, bm := newTestEngineWithBitmap(t)
	// Each direct pointer holds one run of any length, so only a write that
	// needs more runs than there are direct pointers overflows them.
	// Pre-allocate every other block so each free run is a single block, then
	// write well past layout.DirectBlockNum blocks to exercise the
	// single-indirect overflow path.
	for i := uint64(0); i < layout.BlockCount; i += 2 {
		bm.Write(i, true)
	}
	size := (layout.DirectBlockNum+10)*layout.BlockSize + 37
	data := bytes.Repeat([]byte("y"), size)
	got := writeAndReadBack(t, e, 1, data)
	assert.Equal(t, data, got)
}

func TestWriteFileFragmentedAllocationUsesIndirectChain(t *testing.T) {
	e, bm := newTestEngineWithBitmap(t)

	// Salt the bitmap so every other block is pre-allocated: no free run is
	// ever longer than 1 block, so a write needing more than
	// layout.DirectBlockNum blocks is forced to spill more than
	// DirectBlockNum single-block runs into the single-indirect chain.
	for i := uint64(0); i < layout.BlockCount; i += 2 {
		bm.Write(i, true)
	}

	blockCount := layout.DirectBlockNum + 3
	data := bytes.Repeat([]byte("z"), blockCount*layout.BlockSize)
	got := writeAndReadBack(t, e, 1, data)
	assert.Equal(t, data, got)
}

func TestWriteFileReplacesPreviousContents(t *testing.T) {
	e := newTestEngine(t)
	first := bytes.Repeat([]byte("a"), 3000)
	writeAndReadBack(t, e, 1, first)

	second := []byte("shorter")
	got := writeAndReadBack(t, e, 1, second)
	assert.Equal(t, second, got)
}

func TestReadInodeFailsForUnallocatedSlot(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ReadInode(5)
	assert.Error(t, err)
}

func countSetBits(bm *bitmap.Bitmap) uint64 {
	var n uint64
	for i := uint64(0); i < bm.Len(); i++ {
		if bm.Read(i) {
			n++
		}
	}
	return n
}

// TestWriteFileRollsBackOnAllocationFailure covers the §8 boundary: a write
// that can't find enough free space for its new blocks must leave the
// bitmap's set-bit count, and the inode's existing contents, exactly as they
// were before the call.
func TestWriteFileRollsBackOnAllocationFailure(t *testing.T) {
	e, bm := newTestEngineWithBitmap(t)

	original := bytes.Repeat([]byte("a"), 3*layout.BlockSize)
	got := writeAndReadBack(t, e, 1, original)
	require.Equal(t, original, got)

	setBefore := countSetBits(bm)

	// Consume every remaining free bit so the next AllocateBlocks call has
	// nowhere to put even a single new block.
	for i := uint64(0); i < bm.Len(); i++ {
		if !bm.Read(i) {
			bm.Write(i, true)
		}
	}
	setAfterSaturation := countSetBits(bm)

	err := e.WriteFile(1, bytes.Repeat([]byte("b"), 5*layout.BlockSize), 3)
	assert.Error(t, err)

	// WriteFile must not have freed or leaked any bits while failing.
	assert.Equal(t, setAfterSaturation, countSetBits(bm))

	// Undo the saturation and confirm the original file survived untouched.
	for i := e.region.DataRegionOffset / layout.BlockSize; i < bm.Len(); i++ {
		bm.Write(i, false)
	}
	for _, r := range mustMaterializeRuns(t, e, 1) {
		for i := uint64(0); i < r.Length; i++ {
			bm.Write(r.Start+i, true)
		}
	}
	assert.Equal(t, setBefore, countSetBits(bm))

	inode, err := e.ReadInode(1)
	require.NoError(t, err)
	reader := stream.NewReader(e.dev)
	result, err := reader.Materialize(inode)
	require.NoError(t, err)
	buf, err := e.ReadRuns(result.DataRuns, true, inode.Size)
	require.NoError(t, err)
	assert.Equal(t, original, buf)
}

func mustMaterializeRuns(t *testing.T, e *Engine, inodeNumber uint64) []layout.BlockSequence {
	t.Helper()
	inode, err := e.ReadInode(inodeNumber)
	require.NoError(t, err)
	reader := stream.NewReader(e.dev)
	result, err := reader.Materialize(inode)
	require.NoError(t, err)
	runs := append([]layout.BlockSequence{}, result.DataRuns...)
	for _, b := range result.MetaBlocks {
		runs = append(runs, layout.BlockSequence{Start: b, Length: 1})
	}
	return runs
}

// TestWriteFileRollsBackWhenIndirectMetaBlockAllocationFails exercises the
// deeper rollback path: data runs succeed but the indirect chain can't find
// a block for its own pointer block, so the freshly allocated data runs must
// be freed again before WriteFile returns.
func TestWriteFileRollsBackWhenIndirectMetaBlockAllocationFails(t *testing.T) {
	e, bm := newTestEngineWithBitmap(t)

	in := layout.NewInode(1, false, 0, 0, 1)
	require.NoError(t, e.WriteInode(in))

	// Leave exactly need free blocks, no two of them adjacent: the data
	// allocation then succeeds as need single-block runs, more than the
	// direct pointers hold, and no block is left for the single-indirect
	// block.
	need := uint64(layout.DirectBlockNum + 2)
	dataStart := e.region.DataRegionOffset / layout.BlockSize
	for i := uint64(0); i < layout.BlockCount; i++ {
		bm.Write(i, true)
	}
	for i := uint64(0); i < need; i++ {
		bm.Write(dataStart+2*i, false)
	}
	setBefore := countSetBits(bm)

	data := bytes.Repeat([]byte("z"), int(need)*layout.BlockSize)
	err := e.WriteFile(1, data, 2)
	assert.Error(t, err)

	assert.Equal(t, setBefore, countSetBits(bm))

	inode, err := e.ReadInode(1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, inode.Size)
}
