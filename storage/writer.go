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
import "fmt"
import "encoding/binary"

// segmentHeader is the fixed 32 byte segment file header.
//
//	0   4  magic "SGV2"
//	4   2  version u16 = 2
//	6   1  segment_type u8
//	7   1  reserved
//	8   8  record_count u64
//	16  8  footer_offset u64
//	24  8  reserved
type segmentHeader struct {
	segmentType  SegmentType
	recordCount  uint64
	footerOffset uint64
}

func (h *segmentHeader) encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	copy(b[0:4], MagicV2)
	binary.LittleEndian.PutUint16(b[4:6], FormatVersion)
	b[6] = byte(h.segmentType)
	binary.LittleEndian.PutUint64(b[8:16], h.recordCount)
	binary.LittleEndian.PutUint64(b[16:24], h.footerOffset)
	return b
}

func parseSegmentHeader(b []byte) (*segmentHeader, error) {
	if len(b) < HeaderSize {
		return nil, errInvalidFormat("file too small for v2 segment")
	}
	magic := string(b[0:4])
	if magic == MagicV1 {
		return nil, errInvalidFormat("v1 segment detected (SGRF), run the migration tool")
	}
	if magic != MagicV2 {
		return nil, errInvalidFormat(fmt.Sprintf("not a v2 segment: expected SGV2, got %q", magic))
	}
	version := binary.LittleEndian.Uint16(b[4:6])
	if version != FormatVersion {
		return nil, errInvalidFormat(fmt.Sprintf("unsupported segment version: %d", version))
	}
	st := b[6]
	if st != byte(SegmentNodes) && st != byte(SegmentEdges) {
		return nil, errInvalidFormat(fmt.Sprintf("unknown segment type: %d", st))
	}
	return &segmentHeader{
		segmentType:  SegmentType(st),
		recordCount:  binary.LittleEndian.Uint64(b[8:16]),
		footerOffset: binary.LittleEndian.Uint64(b[16:24]),
	}, nil
}

// footerIndex is the fixed 48 byte trailer ending each segment file.
//
//	+0   8  bloom_offset u64
//	+8   8  dst_bloom_offset u64 (0 for node segments)
//	+16  8  zone_maps_offset u64
//	+24  8  string_table_offset u64
//	+32  8  data_end_offset u64
//	+40  4  footer_index_size u32 (48 for this version)
//	+44  4  magic u32 "FTR2"
//
// The size field makes the trailer forward-extensible: readers accept
// any size >= 48 and ignore the extra bytes.
type footerIndex struct {
	bloomOffset       uint64
	dstBloomOffset    uint64
	zoneMapsOffset    uint64
	stringTableOffset uint64
	dataEndOffset     uint64
	footerIndexSize   uint32
}

func (f *footerIndex) encode() [FooterIndexSize]byte {
	var b [FooterIndexSize]byte
	binary.LittleEndian.PutUint64(b[0:8], f.bloomOffset)
	binary.LittleEndian.PutUint64(b[8:16], f.dstBloomOffset)
	binary.LittleEndian.PutUint64(b[16:24], f.zoneMapsOffset)
	binary.LittleEndian.PutUint64(b[24:32], f.stringTableOffset)
	binary.LittleEndian.PutUint64(b[32:40], f.dataEndOffset)
	binary.LittleEndian.PutUint32(b[40:44], f.footerIndexSize)
	binary.LittleEndian.PutUint32(b[44:48], FooterIndexMagic)
	return b
}

func parseFooterIndex(b []byte) (*footerIndex, error) {
	if len(b) < FooterIndexSize {
		return nil, errInvalidFormat("footer index too small")
	}
	magic := binary.LittleEndian.Uint32(b[44:48])
	if magic != FooterIndexMagic {
		return nil, errInvalidFormat("invalid footer index magic")
	}
	size := binary.LittleEndian.Uint32(b[40:44])
	if size < FooterIndexSize {
		return nil, errInvalidFormat(fmt.Sprintf("footer index size too small: %d", size))
	}
	return &footerIndex{
		bloomOffset:       binary.LittleEndian.Uint64(b[0:8]),
		dstBloomOffset:    binary.LittleEndian.Uint64(b[8:16]),
		zoneMapsOffset:    binary.LittleEndian.Uint64(b[16:24]),
		stringTableOffset: binary.LittleEndian.Uint64(b[24:32]),
		dataEndOffset:     binary.LittleEndian.Uint64(b[32:40]),
		footerIndexSize:   size,
	}, nil
}

// countingWriter tracks the stream position like Rust's stream_position.
type countingWriter struct {
	w   io.Writer
	pos uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.pos += uint64(n)
	return n, err
}

// NodeSegmentWriter accumulates node records and writes an immutable
// columnar node segment on Finish.
type NodeSegmentWriter struct {
	records []NodeRecord
}

// NewNodeSegmentWriter creates an empty writer.
func NewNodeSegmentWriter() *NodeSegmentWriter {
	return &NodeSegmentWriter{}
}

// Add appends a record. The id must be NewNodeID(record.SemanticID);
// this invariant is enforced here because a mismatch poisons every
// downstream index.
func (w *NodeSegmentWriter) Add(record NodeRecord) error {
	if record.Id != NewNodeID(record.SemanticID) {
		return errInvalidFormat(fmt.Sprintf("node id does not match blake3(semantic_id) for %q", record.SemanticID))
	}
	w.records = append(w.records, record)
	return nil
}

// Len returns the number of accumulated records.
func (w *NodeSegmentWriter) Len() int {
	return len(w.records)
}

// Finish writes the segment:
//
//	[header 32][5 u32 columns: semantic_id, node_type, name, file, metadata]
//	[zero padding to 16][id u128 column][content_hash u64 column]
//	[bloom][zone map][string table][footer index 48]
//
// then seeks back to byte 16 to patch the real footer offset. The
// writer is spent afterwards.
func (w *NodeSegmentWriter) Finish(out io.WriteSeeker) (*SegmentMeta, error) {
	n := len(w.records)

	table := NewStringTable()
	semanticIdx := make([]uint32, 0, n)
	typeIdx := make([]uint32, 0, n)
	nameIdx := make([]uint32, 0, n)
	fileIdx := make([]uint32, 0, n)
	metaIdx := make([]uint32, 0, n)

	zoneMap := NewZoneMap()
	nodeTypes := make(map[string]struct{})
	filePaths := make(map[string]struct{})

	for i := range w.records {
		r := &w.records[i]
		semanticIdx = append(semanticIdx, table.Intern(r.SemanticID))
		typeIdx = append(typeIdx, table.Intern(r.NodeType))
		nameIdx = append(nameIdx, table.Intern(r.Name))
		fileIdx = append(fileIdx, table.Intern(r.File))
		metaIdx = append(metaIdx, table.Intern(r.Metadata))
		zoneMap.Add("node_type", r.NodeType)
		zoneMap.Add("file", r.File)
		nodeTypes[r.NodeType] = struct{}{}
		filePaths[r.File] = struct{}{}
	}

	bloom := NewBloomFilter(n)
	for i := range w.records {
		bloom.Insert(w.records[i].Id)
	}

	cw := &countingWriter{w: out}

	hdr := segmentHeader{segmentType: SegmentNodes, recordCount: uint64(n)}
	hb := hdr.encode()
	if _, err := cw.Write(hb[:]); err != nil {
		return nil, errIo("segment header write", err)
	}

	if err := writeU32Column(cw, semanticIdx); err != nil {
		return nil, err
	}
	if err := writeU32Column(cw, typeIdx); err != nil {
		return nil, err
	}
	if err := writeU32Column(cw, nameIdx); err != nil {
		return nil, err
	}
	if err := writeU32Column(cw, fileIdx); err != nil {
		return nil, err
	}
	if err := writeU32Column(cw, metaIdx); err != nil {
		return nil, err
	}

	// pad so the id column is 16-byte aligned for direct access
	var pad [16]byte
	padding := computePadding(HeaderSize+20*n, 16)
	if _, err := cw.Write(pad[:padding]); err != nil {
		return nil, errIo("segment padding write", err)
	}

	idBuf := make([]byte, 16)
	for i := range w.records {
		b := w.records[i].Id.Bytes()
		copy(idBuf, b[:])
		if _, err := cw.Write(idBuf); err != nil {
			return nil, errIo("segment id column write", err)
		}
	}
	hashBuf := make([]byte, 8)
	for i := range w.records {
		binary.LittleEndian.PutUint64(hashBuf, w.records[i].ContentHash)
		if _, err := cw.Write(hashBuf); err != nil {
			return nil, errIo("segment hash column write", err)
		}
	}

	dataEndOffset := cw.pos

	bloomOffset := cw.pos
	if err := bloom.WriteTo(cw); err != nil {
		return nil, err
	}
	zoneMapsOffset := cw.pos
	if err := zoneMap.WriteTo(cw); err != nil {
		return nil, err
	}
	stringTableOffset := cw.pos
	if err := table.WriteTo(cw); err != nil {
		return nil, err
	}

	footerOffset := cw.pos
	fi := footerIndex{
		bloomOffset:       bloomOffset,
		dstBloomOffset:    0, // no dst bloom for nodes
		zoneMapsOffset:    zoneMapsOffset,
		stringTableOffset: stringTableOffset,
		dataEndOffset:     dataEndOffset,
		footerIndexSize:   FooterIndexSize,
	}
	fb := fi.encode()
	if _, err := cw.Write(fb[:]); err != nil {
		return nil, errIo("footer index write", err)
	}
	totalSize := cw.pos

	// patch the real footer offset into header byte 16
	if _, err := out.Seek(16, io.SeekStart); err != nil {
		return nil, errIo("segment seek", err)
	}
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], footerOffset)
	if _, err := out.Write(off[:]); err != nil {
		return nil, errIo("segment footer offset patch", err)
	}

	return &SegmentMeta{
		RecordCount: uint64(n),
		ByteSize:    totalSize,
		SegmentType: SegmentNodes,
		NodeTypes:   nodeTypes,
		FilePaths:   filePaths,
		EdgeTypes:   make(map[string]struct{}),
	}, nil
}

// EdgeSegmentWriter accumulates edge records and writes an immutable
// columnar edge segment on Finish.
type EdgeSegmentWriter struct {
	records []EdgeRecord
}

// NewEdgeSegmentWriter creates an empty writer.
func NewEdgeSegmentWriter() *EdgeSegmentWriter {
	return &EdgeSegmentWriter{}
}

// Add appends a record.
func (w *EdgeSegmentWriter) Add(record EdgeRecord) {
	w.records = append(w.records, record)
}

// Len returns the number of accumulated records.
func (w *EdgeSegmentWriter) Len() int {
	return len(w.records)
}

// Finish writes the segment:
//
//	[header 32][src u128 column][dst u128 column]
//	[edge_type u32 column][metadata u32 column]
//	[src bloom][dst bloom][zone map][string table][footer index 48]
//
// No padding: 32 + 32N keeps the u32 columns 4-byte aligned.
func (w *EdgeSegmentWriter) Finish(out io.WriteSeeker) (*SegmentMeta, error) {
	n := len(w.records)

	table := NewStringTable()
	typeIdx := make([]uint32, 0, n)
	metaIdx := make([]uint32, 0, n)
	zoneMap := NewZoneMap()
	edgeTypes := make(map[string]struct{})

	for i := range w.records {
		r := &w.records[i]
		typeIdx = append(typeIdx, table.Intern(r.EdgeType))
		metaIdx = append(metaIdx, table.Intern(r.Metadata))
		zoneMap.Add("edge_type", r.EdgeType)
		edgeTypes[r.EdgeType] = struct{}{}
	}

	srcBloom := NewBloomFilter(n)
	dstBloom := NewBloomFilter(n)
	for i := range w.records {
		srcBloom.Insert(w.records[i].Src)
		dstBloom.Insert(w.records[i].Dst)
	}

	cw := &countingWriter{w: out}

	hdr := segmentHeader{segmentType: SegmentEdges, recordCount: uint64(n)}
	hb := hdr.encode()
	if _, err := cw.Write(hb[:]); err != nil {
		return nil, errIo("segment header write", err)
	}

	idBuf := make([]byte, 16)
	for i := range w.records {
		b := w.records[i].Src.Bytes()
		copy(idBuf, b[:])
		if _, err := cw.Write(idBuf); err != nil {
			return nil, errIo("segment src column write", err)
		}
	}
	for i := range w.records {
		b := w.records[i].Dst.Bytes()
		copy(idBuf, b[:])
		if _, err := cw.Write(idBuf); err != nil {
			return nil, errIo("segment dst column write", err)
		}
	}
	if err := writeU32Column(cw, typeIdx); err != nil {
		return nil, err
	}
	if err := writeU32Column(cw, metaIdx); err != nil {
		return nil, err
	}

	dataEndOffset := cw.pos

	bloomOffset := cw.pos
	if err := srcBloom.WriteTo(cw); err != nil {
		return nil, err
	}
	dstBloomOffset := cw.pos
	if err := dstBloom.WriteTo(cw); err != nil {
		return nil, err
	}
	zoneMapsOffset := cw.pos
	if err := zoneMap.WriteTo(cw); err != nil {
		return nil, err
	}
	stringTableOffset := cw.pos
	if err := table.WriteTo(cw); err != nil {
		return nil, err
	}

	footerOffset := cw.pos
	fi := footerIndex{
		bloomOffset:       bloomOffset,
		dstBloomOffset:    dstBloomOffset,
		zoneMapsOffset:    zoneMapsOffset,
		stringTableOffset: stringTableOffset,
		dataEndOffset:     dataEndOffset,
		footerIndexSize:   FooterIndexSize,
	}
	fb := fi.encode()
	if _, err := cw.Write(fb[:]); err != nil {
		return nil, errIo("footer index write", err)
	}
	totalSize := cw.pos

	if _, err := out.Seek(16, io.SeekStart); err != nil {
		return nil, errIo("segment seek", err)
	}
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], footerOffset)
	if _, err := out.Write(off[:]); err != nil {
		return nil, errIo("segment footer offset patch", err)
	}

	return &SegmentMeta{
		RecordCount: uint64(n),
		ByteSize:    totalSize,
		SegmentType: SegmentEdges,
		NodeTypes:   make(map[string]struct{}),
		FilePaths:   make(map[string]struct{}),
		EdgeTypes:   edgeTypes,
	}, nil
}

func writeU32Column(w io.Writer, col []uint32) error {
	buf := make([]byte, 4)
	for _, v := range col {
		binary.LittleEndian.PutUint32(buf, v)
		if _, err := w.Write(buf); err != nil {
			return errIo("segment column write", err)
		}
	}
	return nil
}

// memSegmentWriter is an in-memory WriteSeeker for ephemeral shards.
type memSegmentWriter struct {
	buf []byte
	pos int
}

func (m *memSegmentWriter) Write(p []byte) (int, error) {
	if m.pos+len(p) > len(m.buf) {
		grown := make([]byte, m.pos+len(p))
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memSegmentWriter) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = int(offset)
	case io.SeekCurrent:
		m.pos += int(offset)
	case io.SeekEnd:
		m.pos = len(m.buf) + int(offset)
	}
	return int64(m.pos), nil
}
