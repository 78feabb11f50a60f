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
import "encoding/hex"
import "encoding/json"
import "encoding/binary"
import "lukechampine.com/blake3"

// segment format constants
const (
	MagicV2       = "SGV2" // v2 segment files
	MagicV1       = "SGRF" // v1 segments, rejected with a distinct error
	FormatVersion = 2
	HeaderSize    = 32

	FooterIndexMagic = 0x46545232 // "FTR2"
	FooterIndexSize  = 48

	BloomBitsPerKey = 10
	BloomNumHashes  = 7

	// fields with more distinct values than this are dropped from the
	// serialized zone map (treated as "all values possible")
	MaxZoneMapValuesPerField = 10000
)

// SegmentType is stored as u8 in the segment header.
type SegmentType uint8

const (
	SegmentNodes SegmentType = 0
	SegmentEdges SegmentType = 1
)

func (t SegmentType) String() string {
	if t == SegmentEdges {
		return "edges"
	}
	return "nodes"
}

// NodeID is a 128 bit node identifier, the low 16 bytes of
// BLAKE3(semantic_id) interpreted little-endian.
type NodeID struct {
	Lo uint64
	Hi uint64
}

// ZeroID is the all-zero node id.
var ZeroID = NodeID{}

// NewNodeID derives the 128 bit id from a semantic id string.
func NewNodeID(semanticID string) NodeID {
	sum := blake3.Sum256([]byte(semanticID))
	return NodeIDFromBytes(sum[0:16])
}

// HashLow64 returns the low 8 bytes of BLAKE3(s) as uint64.
// Used by the shard planner for directory hashing.
func HashLow64(s string) uint64 {
	sum := blake3.Sum256([]byte(s))
	return binary.LittleEndian.Uint64(sum[0:8])
}

// NodeIDFromBytes reads a little-endian 16 byte id.
func NodeIDFromBytes(b []byte) NodeID {
	return NodeID{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Bytes returns the little-endian 16 byte form.
func (id NodeID) Bytes() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], id.Lo)
	binary.LittleEndian.PutUint64(b[8:16], id.Hi)
	return b
}

// IsZero reports whether the id is all-zero.
func (id NodeID) IsZero() bool {
	return id.Lo == 0 && id.Hi == 0
}

// Less orders ids numerically as 128 bit integers.
func (id NodeID) Less(other NodeID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

// Cmp returns -1, 0 or 1 comparing ids as 128 bit integers.
func (id NodeID) Cmp(other NodeID) int {
	if id == other {
		return 0
	}
	if id.Less(other) {
		return -1
	}
	return 1
}

func (id NodeID) String() string {
	b := id.Bytes()
	return hex.EncodeToString(b[:])
}

// ParseNodeID parses the 32 character hex form produced by String().
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return NodeID{}, errInvalidFormat(fmt.Sprintf("invalid node id: %q", s))
	}
	return NodeIDFromBytes(b), nil
}

// Node ids travel through the manifest and the wire protocol as hex
// strings (JSON numbers cannot hold 128 bits).
func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseNodeID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// EdgeKey is the dedup identity of an edge.
type EdgeKey struct {
	Src  NodeID
	Dst  NodeID
	Type string
}

// NodeRecord is the v2 node shape stored in segments.
//
// The semantic id is THE identity; Id must equal NewNodeID(SemanticID),
// which the segment writer verifies. Metadata is a JSON object string,
// "" meaning absent (not "{}").
type NodeRecord struct {
	SemanticID  string
	Id          NodeID
	NodeType    string
	Name        string
	File        string
	ContentHash uint64 // 0 = not computed
	Metadata    string
}

// EdgeRecord is the v2 edge shape stored in segments.
// Dedup key is (Src, Dst, EdgeType); re-inserting replaces metadata.
type EdgeRecord struct {
	Src      NodeID
	Dst      NodeID
	EdgeType string
	Metadata string
}

// Key returns the edge's dedup key.
func (e *EdgeRecord) Key() EdgeKey {
	return EdgeKey{Src: e.Src, Dst: e.Dst, Type: e.EdgeType}
}

// SegmentMeta describes a written segment, returned by the writers for
// descriptor construction.
type SegmentMeta struct {
	RecordCount uint64
	ByteSize    uint64
	SegmentType SegmentType
	NodeTypes   map[string]struct{}
	FilePaths   map[string]struct{}
	EdgeTypes   map[string]struct{}
}

// CommitDelta summarizes a commit_batch: what changed and how much,
// enough for downstream consumers to decide which enrichment passes to
// re-run.
type CommitDelta struct {
	ChangedFiles     []string            `json:"changed_files"`
	NodesAdded       uint64              `json:"nodes_added"`
	NodesRemoved     uint64              `json:"nodes_removed"`
	NodesModified    uint64              `json:"nodes_modified"`
	RemovedNodeIds   []NodeID            `json:"removed_node_ids"`
	ChangedNodeTypes map[string]struct{} `json:"-"`
	ChangedEdgeTypes map[string]struct{} `json:"-"`
	ManifestVersion  uint64              `json:"manifest_version"`
}

// EnrichmentPrefix marks the synthetic file namespace enrichment
// passes store their output under.
const EnrichmentPrefix = "__enrichment__/"

// EnrichmentFileContext builds the synthetic file path under which
// enrichment data is stored: __enrichment__/{enricher}/{sourceFile}.
// CommitBatch treats these contexts as changed whenever their source
// file is, so stale enrichment output is tombstoned with it.
func EnrichmentFileContext(enricher, sourceFile string) string {
	return EnrichmentPrefix + enricher + "/" + sourceFile
}

// computePadding returns the number of zero bytes needed to align offset.
func computePadding(offset, alignment int) int {
	if alignment == 0 {
		return 0
	}
	rem := offset % alignment
	if rem == 0 {
		return 0
	}
	return alignment - rem
}
