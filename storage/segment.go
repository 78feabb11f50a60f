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

import "os"
import "encoding/binary"

// column offsets of a node segment, derived purely from record_count
func computeNodeColumnOffsets(n int) (semanticID, nodeType, name, file, metadata, ids, contentHash int) {
	semanticID = HeaderSize
	nodeType = semanticID + 4*n
	name = nodeType + 4*n
	file = name + 4*n
	metadata = file + 4*n
	u32End := metadata + 4*n
	ids = u32End + computePadding(u32End, 16)
	contentHash = ids + 16*n
	return
}

// column offsets of an edge segment
func computeEdgeColumnOffsets(n int) (src, dst, edgeType, metadata int) {
	src = HeaderSize
	dst = src + 16*n
	edgeType = dst + 16*n // 32 + 32N, already 4-byte aligned
	metadata = edgeType + 4*n
	return
}

// NodeSegment is an immutable columnar node segment loaded for reading.
// All accessors are O(1) reads against the raw byte slice.
type NodeSegment struct {
	data        []byte
	recordCount int
	bloom       *BloomFilter
	zoneMap     *ZoneMap
	stringTable *StringTable

	semanticIDOffset  int
	nodeTypeOffset    int
	nameOffset        int
	fileOffset        int
	metadataOffset    int
	idsOffset         int
	contentHashOffset int
}

// OpenNodeSegment reads and validates a node segment file.
func OpenNodeSegment(path string) (*NodeSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errIo("segment open", err)
	}
	return NodeSegmentFromBytes(data)
}

// NodeSegmentFromBytes validates and loads a node segment from bytes.
func NodeSegmentFromBytes(data []byte) (*NodeSegment, error) {
	if len(data) < HeaderSize+FooterIndexSize {
		return nil, errInvalidFormat("file too small for v2 segment")
	}
	hdr, err := parseSegmentHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if hdr.segmentType != SegmentNodes {
		return nil, errInvalidFormat("expected node segment, got edge")
	}
	fi, err := parseFooterIndex(data[len(data)-FooterIndexSize:])
	if err != nil {
		return nil, err
	}
	if hdr.footerOffset >= uint64(len(data)) {
		return nil, errInvalidFormat("footer_offset points past end of file")
	}

	n := int(hdr.recordCount)
	so, to, no, fo, mo, ido, cho := computeNodeColumnOffsets(n)
	expectedDataEnd := uint64(cho + 8*n)
	if fi.dataEndOffset != expectedDataEnd {
		return nil, errInvalidFormat("data_end_offset does not match column layout")
	}
	if fi.bloomOffset > fi.zoneMapsOffset || fi.zoneMapsOffset > fi.stringTableOffset ||
		fi.stringTableOffset > hdr.footerOffset {
		return nil, errInvalidFormat("footer section offsets out of order")
	}

	bloom, err := BloomFilterFromBytes(data[fi.bloomOffset:fi.zoneMapsOffset])
	if err != nil {
		return nil, err
	}
	zoneMap, err := ZoneMapFromBytes(data[fi.zoneMapsOffset:fi.stringTableOffset])
	if err != nil {
		return nil, err
	}
	stringTable, err := StringTableFromBytes(data[fi.stringTableOffset:hdr.footerOffset])
	if err != nil {
		return nil, err
	}

	return &NodeSegment{
		data:              data,
		recordCount:       n,
		bloom:             bloom,
		zoneMap:           zoneMap,
		stringTable:       stringTable,
		semanticIDOffset:  so,
		nodeTypeOffset:    to,
		nameOffset:        no,
		fileOffset:        fo,
		metadataOffset:    mo,
		idsOffset:         ido,
		contentHashOffset: cho,
	}, nil
}

// RecordCount returns the number of records.
func (s *NodeSegment) RecordCount() int {
	return s.recordCount
}

// GetId returns the id of record i.
func (s *NodeSegment) GetId(i int) NodeID {
	off := s.idsOffset + 16*i
	return NodeIDFromBytes(s.data[off : off+16])
}

// GetSemanticId returns the semantic id of record i.
func (s *NodeSegment) GetSemanticId(i int) string {
	return s.readString(s.semanticIDOffset, i)
}

// GetNodeType returns the node type of record i.
func (s *NodeSegment) GetNodeType(i int) string {
	return s.readString(s.nodeTypeOffset, i)
}

// GetName returns the name of record i.
func (s *NodeSegment) GetName(i int) string {
	return s.readString(s.nameOffset, i)
}

// GetFile returns the file of record i.
func (s *NodeSegment) GetFile(i int) string {
	return s.readString(s.fileOffset, i)
}

// GetContentHash returns the content hash of record i.
func (s *NodeSegment) GetContentHash(i int) uint64 {
	off := s.contentHashOffset + 8*i
	return binary.LittleEndian.Uint64(s.data[off : off+8])
}

// GetMetadata returns the metadata JSON of record i ("" = absent).
func (s *NodeSegment) GetMetadata(i int) string {
	return s.readString(s.metadataOffset, i)
}

// GetRecord reconstructs the full record at index i.
func (s *NodeSegment) GetRecord(i int) NodeRecord {
	return NodeRecord{
		SemanticID:  s.GetSemanticId(i),
		Id:          s.GetId(i),
		NodeType:    s.GetNodeType(i),
		Name:        s.GetName(i),
		File:        s.GetFile(i),
		ContentHash: s.GetContentHash(i),
		Metadata:    s.GetMetadata(i),
	}
}

// MaybeContains consults the id bloom filter.
func (s *NodeSegment) MaybeContains(id NodeID) bool {
	return s.bloom.MaybeContains(id)
}

// ContainsNodeType consults the zone map.
func (s *NodeSegment) ContainsNodeType(nodeType string) bool {
	return s.zoneMap.Contains("node_type", nodeType)
}

// ContainsFile consults the zone map.
func (s *NodeSegment) ContainsFile(file string) bool {
	return s.zoneMap.Contains("file", file)
}

func (s *NodeSegment) readString(columnOffset, i int) string {
	off := columnOffset + 4*i
	idx := binary.LittleEndian.Uint32(s.data[off : off+4])
	v, _ := s.stringTable.Get(idx)
	return v
}

// EdgeSegment is an immutable columnar edge segment loaded for reading.
type EdgeSegment struct {
	data        []byte
	recordCount int
	srcBloom    *BloomFilter
	dstBloom    *BloomFilter
	zoneMap     *ZoneMap
	stringTable *StringTable

	srcOffset      int
	dstOffset      int
	edgeTypeOffset int
	metadataOffset int
}

// OpenEdgeSegment reads and validates an edge segment file.
func OpenEdgeSegment(path string) (*EdgeSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errIo("segment open", err)
	}
	return EdgeSegmentFromBytes(data)
}

// EdgeSegmentFromBytes validates and loads an edge segment from bytes.
func EdgeSegmentFromBytes(data []byte) (*EdgeSegment, error) {
	if len(data) < HeaderSize+FooterIndexSize {
		return nil, errInvalidFormat("file too small for v2 segment")
	}
	hdr, err := parseSegmentHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if hdr.segmentType != SegmentEdges {
		return nil, errInvalidFormat("expected edge segment, got node")
	}
	fi, err := parseFooterIndex(data[len(data)-FooterIndexSize:])
	if err != nil {
		return nil, err
	}
	if hdr.footerOffset >= uint64(len(data)) {
		return nil, errInvalidFormat("footer_offset points past end of file")
	}

	n := int(hdr.recordCount)
	so, do, to, mo := computeEdgeColumnOffsets(n)
	expectedDataEnd := uint64(mo + 4*n)
	if fi.dataEndOffset != expectedDataEnd {
		return nil, errInvalidFormat("data_end_offset does not match column layout")
	}
	if fi.bloomOffset > fi.dstBloomOffset || fi.dstBloomOffset > fi.zoneMapsOffset ||
		fi.zoneMapsOffset > fi.stringTableOffset || fi.stringTableOffset > hdr.footerOffset {
		return nil, errInvalidFormat("footer section offsets out of order")
	}

	srcBloom, err := BloomFilterFromBytes(data[fi.bloomOffset:fi.dstBloomOffset])
	if err != nil {
		return nil, err
	}
	dstBloom, err := BloomFilterFromBytes(data[fi.dstBloomOffset:fi.zoneMapsOffset])
	if err != nil {
		return nil, err
	}
	zoneMap, err := ZoneMapFromBytes(data[fi.zoneMapsOffset:fi.stringTableOffset])
	if err != nil {
		return nil, err
	}
	stringTable, err := StringTableFromBytes(data[fi.stringTableOffset:hdr.footerOffset])
	if err != nil {
		return nil, err
	}

	return &EdgeSegment{
		data:           data,
		recordCount:    n,
		srcBloom:       srcBloom,
		dstBloom:       dstBloom,
		zoneMap:        zoneMap,
		stringTable:    stringTable,
		srcOffset:      so,
		dstOffset:      do,
		edgeTypeOffset: to,
		metadataOffset: mo,
	}, nil
}

// RecordCount returns the number of records.
func (s *EdgeSegment) RecordCount() int {
	return s.recordCount
}

// GetSrc returns the source id of record i.
func (s *EdgeSegment) GetSrc(i int) NodeID {
	off := s.srcOffset + 16*i
	return NodeIDFromBytes(s.data[off : off+16])
}

// GetDst returns the destination id of record i.
func (s *EdgeSegment) GetDst(i int) NodeID {
	off := s.dstOffset + 16*i
	return NodeIDFromBytes(s.data[off : off+16])
}

// GetEdgeType returns the edge type of record i.
func (s *EdgeSegment) GetEdgeType(i int) string {
	return s.readString(s.edgeTypeOffset, i)
}

// GetMetadata returns the metadata JSON of record i ("" = absent).
func (s *EdgeSegment) GetMetadata(i int) string {
	return s.readString(s.metadataOffset, i)
}

// GetRecord reconstructs the full record at index i.
func (s *EdgeSegment) GetRecord(i int) EdgeRecord {
	return EdgeRecord{
		Src:      s.GetSrc(i),
		Dst:      s.GetDst(i),
		EdgeType: s.GetEdgeType(i),
		Metadata: s.GetMetadata(i),
	}
}

// MaybeContainsSrc consults the source bloom filter.
func (s *EdgeSegment) MaybeContainsSrc(src NodeID) bool {
	return s.srcBloom.MaybeContains(src)
}

// MaybeContainsDst consults the destination bloom filter.
func (s *EdgeSegment) MaybeContainsDst(dst NodeID) bool {
	return s.dstBloom.MaybeContains(dst)
}

// ContainsEdgeType consults the zone map.
func (s *EdgeSegment) ContainsEdgeType(edgeType string) bool {
	return s.zoneMap.Contains("edge_type", edgeType)
}

func (s *EdgeSegment) readString(columnOffset, i int) string {
	off := columnOffset + 4*i
	idx := binary.LittleEndian.Uint32(s.data[off : off+4])
	v, _ := s.stringTable.Get(idx)
	return v
}
