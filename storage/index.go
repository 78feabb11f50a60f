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

import "fmt"
import "sort"
import "encoding/binary"

// Inverted indexes built after compaction: by_type and by_file map a
// key string to the locations of matching records inside L1 segments;
// the global index is one sorted array over all shards for O(log n)
// point lookup without fan-out.
//
// File layout ("RIDX"):
//
//	[IndexFileHeader 32]
//	[string_table_len u32][concatenated keys, sorted]
//	[LookupTableEntry x lookup_count, 16 bytes each]
//	[IndexEntry x entry_count, 32 bytes each, grouped by key]

const (
	IndexMagic   = "RIDX"
	IndexVersion = 1

	indexHeaderSize      = 32
	indexEntrySize       = 32
	lookupTableEntrySize = 16
)

// IndexEntry locates one node record: 32 bytes exactly, with explicit
// padding so an mmap-backed array view is a pointer cast away.
//
//	0  16  node_id u128
//	16  8  segment_id u64
//	24  4  offset u32
//	28  2  shard u16
//	30  2  padding
type IndexEntry struct {
	NodeId    NodeID
	SegmentId uint64
	Offset    uint32
	Shard     uint16
}

func (e *IndexEntry) encode(b []byte) {
	id := e.NodeId.Bytes()
	copy(b[0:16], id[:])
	binary.LittleEndian.PutUint64(b[16:24], e.SegmentId)
	binary.LittleEndian.PutUint32(b[24:28], e.Offset)
	binary.LittleEndian.PutUint16(b[28:30], e.Shard)
	b[30], b[31] = 0, 0
}

func decodeIndexEntry(b []byte) IndexEntry {
	return IndexEntry{
		NodeId:    NodeIDFromBytes(b[0:16]),
		SegmentId: binary.LittleEndian.Uint64(b[16:24]),
		Offset:    binary.LittleEndian.Uint32(b[24:28]),
		Shard:     binary.LittleEndian.Uint16(b[28:30]),
	}
}

type indexFileHeader struct {
	entryCount  uint64
	lookupCount uint32
}

func (h *indexFileHeader) encode() [indexHeaderSize]byte {
	var b [indexHeaderSize]byte
	copy(b[0:4], IndexMagic)
	binary.LittleEndian.PutUint32(b[4:8], IndexVersion)
	binary.LittleEndian.PutUint64(b[8:16], h.entryCount)
	binary.LittleEndian.PutUint32(b[16:20], h.lookupCount)
	// b[20:32] reserved
	return b
}

func parseIndexFileHeader(b []byte) (*indexFileHeader, error) {
	if len(b) < indexHeaderSize {
		return nil, errInvalidFormat("index file too small")
	}
	if string(b[0:4]) != IndexMagic {
		return nil, errInvalidFormat(fmt.Sprintf("not an index file: expected RIDX, got %q", string(b[0:4])))
	}
	version := binary.LittleEndian.Uint32(b[4:8])
	if version != IndexVersion {
		return nil, errInvalidFormat(fmt.Sprintf("unsupported index version: %d", version))
	}
	return &indexFileHeader{
		entryCount:  binary.LittleEndian.Uint64(b[8:16]),
		lookupCount: binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// lookupTableEntry points one key at its slice of the entries array.
//
//	0  4  key_offset u32
//	4  2  key_length u16
//	6  2  padding
//	8  4  entry_offset u32
//	12 4  entry_count u32
type lookupTableEntry struct {
	keyOffset   uint32
	keyLength   uint16
	entryOffset uint32
	entryCount  uint32
}

func (e *lookupTableEntry) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], e.keyOffset)
	binary.LittleEndian.PutUint16(b[4:6], e.keyLength)
	b[6], b[7] = 0, 0
	binary.LittleEndian.PutUint32(b[8:12], e.entryOffset)
	binary.LittleEndian.PutUint32(b[12:16], e.entryCount)
}

func decodeLookupTableEntry(b []byte) lookupTableEntry {
	return lookupTableEntry{
		keyOffset:   binary.LittleEndian.Uint32(b[0:4]),
		keyLength:   binary.LittleEndian.Uint16(b[4:6]),
		entryOffset: binary.LittleEndian.Uint32(b[8:12]),
		entryCount:  binary.LittleEndian.Uint32(b[12:16]),
	}
}

// BuiltIndexes holds the serialized by_type and by_file indexes of one
// compacted shard.
type BuiltIndexes struct {
	ByType []byte
	ByFile []byte
}

// BuildInvertedIndexes groups the sorted, compacted node records of an
// L1 segment into the two inverted indexes.
func BuildInvertedIndexes(records []NodeRecord, shardID uint16, segmentID uint64) (*BuiltIndexes, error) {
	byType := make(map[string][]IndexEntry)
	byFile := make(map[string][]IndexEntry)
	for offset := range records {
		entry := IndexEntry{
			NodeId:    records[offset].Id,
			SegmentId: segmentID,
			Offset:    uint32(offset),
			Shard:     shardID,
		}
		byType[records[offset].NodeType] = append(byType[records[offset].NodeType], entry)
		byFile[records[offset].File] = append(byFile[records[offset].File], entry)
	}
	byTypeBytes, err := serializeIndex(byType)
	if err != nil {
		return nil, err
	}
	byFileBytes, err := serializeIndex(byFile)
	if err != nil {
		return nil, err
	}
	return &BuiltIndexes{ByType: byTypeBytes, ByFile: byFileBytes}, nil
}

func serializeIndex(index map[string][]IndexEntry) ([]byte, error) {
	keys := make([]string, 0, len(index))
	totalEntries := 0
	for k, v := range index {
		keys = append(keys, k)
		totalEntries += len(v)
	}
	sort.Strings(keys)

	stringTableLen := 0
	for _, k := range keys {
		stringTableLen += len(k)
	}

	size := indexHeaderSize + 4 + stringTableLen +
		lookupTableEntrySize*len(keys) + indexEntrySize*totalEntries
	buf := make([]byte, size)
	pos := 0

	hdr := indexFileHeader{entryCount: uint64(totalEntries), lookupCount: uint32(len(keys))}
	hb := hdr.encode()
	copy(buf[pos:], hb[:])
	pos += indexHeaderSize

	binary.LittleEndian.PutUint32(buf[pos:pos+4], uint32(stringTableLen))
	pos += 4
	keyOffsets := make([]uint32, len(keys))
	off := uint32(0)
	for i, k := range keys {
		keyOffsets[i] = off
		copy(buf[pos:], k)
		pos += len(k)
		off += uint32(len(k))
	}

	entryOffset := uint32(0)
	for i, k := range keys {
		lte := lookupTableEntry{
			keyOffset:   keyOffsets[i],
			keyLength:   uint16(len(k)),
			entryOffset: entryOffset,
			entryCount:  uint32(len(index[k])),
		}
		lte.encode(buf[pos : pos+lookupTableEntrySize])
		pos += lookupTableEntrySize
		entryOffset += uint32(len(index[k]))
	}

	for _, k := range keys {
		for i := range index[k] {
			index[k][i].encode(buf[pos : pos+indexEntrySize])
			pos += indexEntrySize
		}
	}
	return buf, nil
}

// InvertedIndex answers key lookups against a serialized index.
type InvertedIndex struct {
	keys    []string
	lookups []lookupTableEntry
	entries []IndexEntry
}

// InvertedIndexFromBytes parses a serialized index.
func InvertedIndexFromBytes(data []byte) (*InvertedIndex, error) {
	hdr, err := parseIndexFileHeader(data)
	if err != nil {
		return nil, err
	}
	pos := indexHeaderSize
	if pos+4 > len(data) {
		return nil, errInvalidFormat("index string table truncated")
	}
	stringTableLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+stringTableLen > len(data) {
		return nil, errInvalidFormat("index string table truncated")
	}
	stringTable := string(data[pos : pos+stringTableLen])
	pos += stringTableLen

	need := lookupTableEntrySize * int(hdr.lookupCount)
	if pos+need > len(data) {
		return nil, errInvalidFormat("index lookup table truncated")
	}
	idx := &InvertedIndex{
		keys:    make([]string, hdr.lookupCount),
		lookups: make([]lookupTableEntry, hdr.lookupCount),
	}
	for i := 0; i < int(hdr.lookupCount); i++ {
		lte := decodeLookupTableEntry(data[pos : pos+lookupTableEntrySize])
		if int(lte.keyOffset)+int(lte.keyLength) > stringTableLen {
			return nil, errInvalidFormat("index lookup key out of bounds")
		}
		idx.lookups[i] = lte
		idx.keys[i] = stringTable[lte.keyOffset : lte.keyOffset+uint32(lte.keyLength)]
		pos += lookupTableEntrySize
	}

	need = indexEntrySize * int(hdr.entryCount)
	if pos+need > len(data) {
		return nil, errInvalidFormat("index entries truncated")
	}
	idx.entries = make([]IndexEntry, hdr.entryCount)
	for i := 0; i < int(hdr.entryCount); i++ {
		idx.entries[i] = decodeIndexEntry(data[pos : pos+indexEntrySize])
		pos += indexEntrySize
	}
	return idx, nil
}

// Lookup returns the entries recorded for key (keys are sorted, so
// binary search).
func (idx *InvertedIndex) Lookup(key string) []IndexEntry {
	i := sort.SearchStrings(idx.keys, key)
	if i >= len(idx.keys) || idx.keys[i] != key {
		return nil
	}
	lte := idx.lookups[i]
	return idx.entries[lte.entryOffset : lte.entryOffset+lte.entryCount]
}

// Keys returns the sorted key list.
func (idx *InvertedIndex) Keys() []string {
	return idx.keys
}

// EntryCount returns the total number of entries.
func (idx *InvertedIndex) EntryCount() int {
	return len(idx.entries)
}

// GlobalIndex is one sorted entry array over all shards, answering
// node_id -> location in O(log n).
type GlobalIndex struct {
	entries []IndexEntry
}

// BuildGlobalIndex sorts the entries by node id.
func BuildGlobalIndex(entries []IndexEntry) *GlobalIndex {
	sorted := append([]IndexEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NodeId.Less(sorted[j].NodeId) })
	return &GlobalIndex{entries: sorted}
}

// Lookup binary searches for a node id.
func (g *GlobalIndex) Lookup(nodeID NodeID) (IndexEntry, bool) {
	i := sort.Search(len(g.entries), func(i int) bool {
		return !g.entries[i].NodeId.Less(nodeID)
	})
	if i < len(g.entries) && g.entries[i].NodeId == nodeID {
		return g.entries[i], true
	}
	return IndexEntry{}, false
}

// Len returns the entry count.
func (g *GlobalIndex) Len() int {
	return len(g.entries)
}

// ToBytes serializes the global index as an entries-only RIDX file.
func (g *GlobalIndex) ToBytes() []byte {
	buf := make([]byte, indexHeaderSize+4+indexEntrySize*len(g.entries))
	hdr := indexFileHeader{entryCount: uint64(len(g.entries)), lookupCount: 0}
	hb := hdr.encode()
	copy(buf, hb[:])
	// empty string table
	pos := indexHeaderSize + 4
	for i := range g.entries {
		g.entries[i].encode(buf[pos : pos+indexEntrySize])
		pos += indexEntrySize
	}
	return buf
}

// GlobalIndexFromBytes parses a serialized global index.
func GlobalIndexFromBytes(data []byte) (*GlobalIndex, error) {
	idx, err := InvertedIndexFromBytes(data)
	if err != nil {
		return nil, err
	}
	return &GlobalIndex{entries: idx.entries}, nil
}
