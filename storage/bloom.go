/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package storage

import "io"
import "encoding/binary"

// BloomFilter over 128 bit node ids with key-split double hashing.
//
// The keys are already BLAKE3 hashes, so no re-hashing: the id is split
// into two 64 bit halves h1/h2, h2 is forced odd so it is coprime with
// the power-of-two bit count, probe positions are (h1 + i*h2) mod bits.
//
// Binary format:
//
//	[num_bits u64][num_hashes u32][pad u32 = 0][bits u64 x word_count]
type BloomFilter struct {
	bits      []uint64
	numBits   uint64
	numHashes int
}

const bloomHeaderSize = 16

// NewBloomFilter sizes a filter for numKeys expected insertions:
// 10 bits per key rounded up to a multiple of 64, minimum 64 bits.
// An empty filter (0 keys) is valid and always answers false.
func NewBloomFilter(numKeys int) *BloomFilter {
	raw := numKeys * BloomBitsPerKey
	if raw < 64 {
		raw = 64
	}
	numBits := uint64(raw+63) &^ 63
	return &BloomFilter{
		bits:      make([]uint64, numBits/64),
		numBits:   numBits,
		numHashes: BloomNumHashes,
	}
}

// Insert sets the probe bits for key.
func (f *BloomFilter) Insert(key NodeID) {
	h1 := key.Lo
	h2 := key.Hi | 1 // ensure odd
	for i := uint64(0); i < uint64(f.numHashes); i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
}

// MaybeContains reports false when key is definitely absent,
// true when it is probably present.
func (f *BloomFilter) MaybeContains(key NodeID) bool {
	h1 := key.Lo
	h2 := key.Hi | 1
	for i := uint64(0); i < uint64(f.numHashes); i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// NumBits returns the bit count.
func (f *BloomFilter) NumBits() uint64 {
	return f.numBits
}

// NumHashes returns the probe count.
func (f *BloomFilter) NumHashes() int {
	return f.numHashes
}

// SerializedSize returns the byte size WriteTo produces.
func (f *BloomFilter) SerializedSize() int {
	return bloomHeaderSize + 8*len(f.bits)
}

// WriteTo serializes the filter.
func (f *BloomFilter) WriteTo(w io.Writer) error {
	var hdr [bloomHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], f.numBits)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(f.numHashes))
	// hdr[12:16] stays zero (pad)
	if _, err := w.Write(hdr[:]); err != nil {
		return errIo("bloom filter write", err)
	}
	word := make([]byte, 8)
	for _, v := range f.bits {
		binary.LittleEndian.PutUint64(word, v)
		if _, err := w.Write(word); err != nil {
			return errIo("bloom filter write", err)
		}
	}
	return nil
}

// BloomFilterFromBytes loads a filter from its serialized form.
func BloomFilterFromBytes(b []byte) (*BloomFilter, error) {
	if len(b) < bloomHeaderSize {
		return nil, errInvalidFormat("bloom filter too small")
	}
	numBits := binary.LittleEndian.Uint64(b[0:8])
	numHashes := binary.LittleEndian.Uint32(b[8:12])
	if numBits == 0 {
		return nil, errInvalidFormat("bloom filter has zero bits")
	}
	if numBits%64 != 0 {
		return nil, errInvalidFormat("bloom filter bit count not word aligned")
	}
	wordCount := int(numBits / 64)
	if len(b) < bloomHeaderSize+8*wordCount {
		return nil, errInvalidFormat("bloom filter truncated")
	}
	f := &BloomFilter{
		bits:      make([]uint64, wordCount),
		numBits:   numBits,
		numHashes: int(numHashes),
	}
	pos := bloomHeaderSize
	for i := range f.bits {
		f.bits[i] = binary.LittleEndian.Uint64(b[pos : pos+8])
		pos += 8
	}
	return f, nil
}
