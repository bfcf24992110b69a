// Package bitmap implements the bit-addressable allocation bitmap used for
// both the block and inode allocation maps. Bit i lives at byte i/8, bit
// 7-(i%8) (MSB-first within the byte), which is the on-disk convention the
// rest of blockfs depends on for bit-exact layout.
package bitmap

import (
	bm "github.com/boljen/go-bitmap"

	"github.com/bbanerjeerichards/blockfs/errs"
)

// Bitmap is a view over a byte buffer addressed MSB-first within each byte.
//
// The storage itself is allocated through github.com/boljen/go-bitmap, which
// gives us byte-aligned, zero-filled growth for free; its own Get/Set methods
// assume LSB-first bit order, so they're deliberately not used here -- every
// bit access goes through the MSB-first addressing below instead.
type Bitmap struct {
	raw      bm.Bitmap
	sizeBits uint64
}

// New allocates a zero-filled bitmap with room for at least sizeBits bits.
func New(sizeBits uint64) *Bitmap {
	return &Bitmap{raw: bm.New(int(sizeBits)), sizeBits: sizeBits}
}

// FromBytes wraps an existing byte slice (e.g. one just read off disk) as a
// bitmap of sizeBits bits. It enforces the invariant size_bits <= data.size*8.
func FromBytes(data []byte, sizeBits uint64) (*Bitmap, error) {
	if sizeBits > uint64(len(data))*8 {
		return nil, errs.InvalidBitmap.WithMessage("size_bits exceeds backing buffer capacity")
	}
	return &Bitmap{raw: bm.Bitmap(data), sizeBits: sizeBits}, nil
}

// Bytes returns the packed on-disk representation of the bitmap.
func (b *Bitmap) Bytes() []byte {
	return []byte(b.raw)
}

// Len returns the number of addressable bits.
func (b *Bitmap) Len() uint64 {
	return b.sizeBits
}

// Read returns the value of bit i.
func (b *Bitmap) Read(i uint64) bool {
	byteIdx, bitIdx := i/8, 7-(i%8)
	return b.raw[byteIdx]&(1<<bitIdx) != 0
}

// Write sets bit i to the given value.
func (b *Bitmap) Write(i uint64, value bool) {
	byteIdx, bitIdx := i/8, 7-(i%8)
	if value {
		b.raw[byteIdx] |= 1 << bitIdx
	} else {
		b.raw[byteIdx] &^= 1 << bitIdx
	}
}

// FindRunOfZeros scans bit positions [0, Len()) and returns the smallest
// start such that bits [start, start+n) are all zero. The scan is linear
// with an early exit whenever a set bit resets the running counter.
func (b *Bitmap) FindRunOfZeros(n uint64) (uint64, error) {
	if n == 0 {
		return 0, nil
	}

	run := uint64(0)
	var start uint64
	for i := uint64(0); i < b.sizeBits; i++ {
		if b.Read(i) {
			run = 0
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == n {
			return start, nil
		}
	}
	return 0, errs.New(errs.NoBitmapRunFound)
}

// LongestRunOfZeros scans the whole bitmap and returns the start and length
// of the longest contiguous run of zero bits, tie-breaking on the lowest
// start address. ok is false iff every bit is set.
func (b *Bitmap) LongestRunOfZeros() (start uint64, length uint64, ok bool) {
	var curStart, curLen uint64
	inRun := false

	for i := uint64(0); i < b.sizeBits; i++ {
		if b.Read(i) {
			inRun = false
			continue
		}
		if !inRun {
			curStart = i
			curLen = 0
			inRun = true
		}
		curLen++
		if curLen > length {
			length = curLen
			start = curStart
			ok = true
		}
	}
	return start, length, ok
}
