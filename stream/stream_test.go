package stream

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbanerjeerichards/blockfs/device"
	"github.com/bbanerjeerichards/blockfs/layout"
)

func newTestDevice(t *testing.T) *device.BlockDevice {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := device.Create(path, layout.DiskSize)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestMaterializeDirectOnly(t *testing.T) {
	dev := newTestDevice(t)
	r := NewReader(dev)

	in := layout.NewInode(1, false, 0, 0, 0)
	in.DirectBlocks[0] = layout.BlockSequence{Start: 10, Length: 2}
	in.Size = 2 * layout.BlockSize

	res, err := r.Materialize(in)
	require.NoError(t, err)
	assert.Equal(t, []layout.BlockSequence{{Start: 10, Length: 2}}, res.DataRuns)
	assert.Empty(t, res.MetaBlocks)
}

func TestMaterializeSingleIndirect(t *testing.T) {
	dev := newTestDevice(t)
	r := NewReader(dev)

	indirectBlock := uint64(20)
	runs := []layout.BlockSequence{{Start: 30, Length: 1}, {Start: 32, Length: 3}}
	writeIndirectBlockForTest(t, dev, indirectBlock, runs)

	in := layout.NewInode(2, false, 0, 0, 0)
	in.SingleIndirect = indirectBlock
	in.Size = 4 * layout.BlockSize

	res, err := r.Materialize(in)
	require.NoError(t, err)
	assert.Equal(t, runs, res.DataRuns)
	assert.Equal(t, []uint64{indirectBlock}, res.MetaBlocks)
}

func TestMaterializeRejectsSizeMismatch(t *testing.T) {
	dev := newTestDevice(t)
	r := NewReader(dev)

	in := layout.NewInode(3, false, 0, 0, 0)
	in.DirectBlocks[0] = layout.BlockSequence{Start: 5, Length: 1}
	in.Size = 5 * layout.BlockSize // claims 5 blocks, only 1 block of runs exists

	_, err := r.Materialize(in)
	assert.Error(t, err)
}

func TestMaterializeDoubleIndirect(t *testing.T) {
	dev := newTestDevice(t)
	r := NewReader(dev)

	leaf := uint64(100)
	leafRuns := []layout.BlockSequence{{Start: 200, Length: 2}}
	writeIndirectBlockForTest(t, dev, leaf, leafRuns)

	top := uint64(101)
	writePointerBlockForTest(t, dev, top, []uint64{leaf})

	in := layout.NewInode(4, false, 0, 0, 0)
	in.DoubleIndirect = top
	in.Size = 2 * layout.BlockSize

	res, err := r.Materialize(in)
	require.NoError(t, err)
	assert.Equal(t, leafRuns, res.DataRuns)
	assert.ElementsMatch(t, []uint64{top, leaf}, res.MetaBlocks)
}

func writeIndirectBlockForTest(t *testing.T, dev *device.BlockDevice, blockNum uint64, runs []layout.BlockSequence) {
	t.Helper()
	buf := make([]byte, layout.BlockSize)
	for i, run := range runs {
		off := i * layout.IndirectEntrySize
		putUint32(buf[off:], uint32(run.Start))
		putUint32(buf[off+4:], uint32(run.Length))
	}
	require.NoError(t, dev.WriteAt(int64(blockNum)*layout.BlockSize, buf))
}

func writePointerBlockForTest(t *testing.T, dev *device.BlockDevice, blockNum uint64, ptrs []uint64) {
	t.Helper()
	buf := make([]byte, layout.BlockSize)
	for i, ptr := range ptrs {
		putUint64(buf[i*layout.PointerEntrySize:], ptr)
	}
	require.NoError(t, dev.WriteAt(int64(blockNum)*layout.BlockSize, buf))
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
