/*
Copyright (C) 2023  Carl-Philip Hänsch

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
import "fmt"
import "path/filepath"

// TombstoneSet records logical deletions per shard. Applied on every
// read path, physically removed at compaction.
type TombstoneSet struct {
	nodes map[NodeID]struct{}
	edges map[EdgeKey]struct{}
}

// NewTombstoneSet creates an empty set.
func NewTombstoneSet() *TombstoneSet {
	return &TombstoneSet{
		nodes: make(map[NodeID]struct{}),
		edges: make(map[EdgeKey]struct{}),
	}
}

// TombstoneSetFromManifest restores the persisted union.
func TombstoneSetFromManifest(m *Manifest) *TombstoneSet {
	t := NewTombstoneSet()
	for _, id := range m.TombstonedNodeIds {
		t.nodes[id] = struct{}{}
	}
	for _, k := range m.TombstoneEdgeKeys() {
		t.edges[k] = struct{}{}
	}
	return t
}

// ContainsNode reports whether id is tombstoned.
func (t *TombstoneSet) ContainsNode(id NodeID) bool {
	_, ok := t.nodes[id]
	return ok
}

// ContainsEdge reports whether the edge key is tombstoned.
func (t *TombstoneSet) ContainsEdge(src, dst NodeID, edgeType string) bool {
	_, ok := t.edges[EdgeKey{Src: src, Dst: dst, Type: edgeType}]
	return ok
}

// AddNodes unions node ids into the set.
func (t *TombstoneSet) AddNodes(ids []NodeID) {
	for _, id := range ids {
		t.nodes[id] = struct{}{}
	}
}

// AddEdges unions edge keys into the set.
func (t *TombstoneSet) AddEdges(keys []EdgeKey) {
	for _, k := range keys {
		t.edges[k] = struct{}{}
	}
}

// NodeCount returns the number of tombstoned node ids.
func (t *TombstoneSet) NodeCount() int {
	return len(t.nodes)
}

// EdgeCount returns the number of tombstoned edge keys.
func (t *TombstoneSet) EdgeCount() int {
	return len(t.edges)
}

// IsEmpty reports whether nothing is tombstoned.
func (t *TombstoneSet) IsEmpty() bool {
	return len(t.nodes) == 0 && len(t.edges) == 0
}

// NodeIDs returns the tombstoned node ids.
func (t *TombstoneSet) NodeIDs() []NodeID {
	out := make([]NodeID, 0, len(t.nodes))
	for id := range t.nodes {
		out = append(out, id)
	}
	return out
}

// EdgeKeys returns the tombstoned edge keys.
func (t *TombstoneSet) EdgeKeys() []EdgeKey {
	out := make([]EdgeKey, 0, len(t.edges))
	for k := range t.edges {
		out = append(out, k)
	}
	return out
}

// FlushResult carries the metadata of the segments one flush produced,
// for manifest descriptor construction by the caller.
type FlushResult struct {
	NodeMeta        *SegmentMeta
	EdgeMeta        *SegmentMeta
	NodeSegmentPath string
	EdgeSegmentPath string
}

// Shard is the unit of read/write parallelism: one write buffer, the
// L0 segment lists (oldest first, aligned with their descriptors), an
// optional L1 node and edge segment, and the tombstone set.
//
// Reads go write buffer, then L0 newest-first, then L1, so newer data
// shadows older data; every hit passes the tombstone filter.
type Shard struct {
	path    string // "" for ephemeral shards
	shardID *uint16

	writeBuffer *WriteBuffer

	nodeSegments    []*NodeSegment
	edgeSegments    []*EdgeSegment
	nodeDescriptors []SegmentDescriptor
	edgeDescriptors []SegmentDescriptor

	tombstones *TombstoneSet

	l1NodeSegment    *NodeSegment
	l1NodeDescriptor *SegmentDescriptor
	l1EdgeSegment    *EdgeSegment
	l1EdgeDescriptor *SegmentDescriptor
}

// CreateShard creates a disk-backed shard directory without an id.
func CreateShard(path string) (*Shard, error) {
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, errIo("shard dir create", err)
	}
	return &Shard{
		path:        path,
		writeBuffer: NewWriteBuffer(),
		tombstones:  NewTombstoneSet(),
	}, nil
}

// CreateShardFor creates a disk-backed shard with a shard id; path is
// the shard directory below <db>/segments/.
func CreateShardFor(path string, shardID uint16) (*Shard, error) {
	s, err := CreateShard(path)
	if err != nil {
		return nil, err
	}
	id := shardID
	s.shardID = &id
	return s, nil
}

// EphemeralShard keeps all segments in memory.
func EphemeralShard() *Shard {
	return &Shard{
		writeBuffer: NewWriteBuffer(),
		tombstones:  NewTombstoneSet(),
	}
}

// OpenShardFor loads a shard's segments from the descriptors of the
// committed manifest. Descriptors come oldest-first (append order).
func OpenShardFor(path, dbPath string, shardID uint16, nodeDescriptors, edgeDescriptors []SegmentDescriptor) (*Shard, error) {
	s := &Shard{
		path:        path,
		writeBuffer: NewWriteBuffer(),
		tombstones:  NewTombstoneSet(),
	}
	id := shardID
	s.shardID = &id
	for i := range nodeDescriptors {
		seg, err := OpenNodeSegment(nodeDescriptors[i].FilePath(dbPath))
		if err != nil {
			return nil, err
		}
		s.nodeSegments = append(s.nodeSegments, seg)
		s.nodeDescriptors = append(s.nodeDescriptors, nodeDescriptors[i])
	}
	for i := range edgeDescriptors {
		seg, err := OpenEdgeSegment(edgeDescriptors[i].FilePath(dbPath))
		if err != nil {
			return nil, err
		}
		s.edgeSegments = append(s.edgeSegments, seg)
		s.edgeDescriptors = append(s.edgeDescriptors, edgeDescriptors[i])
	}
	return s, nil
}

// -- write operations --------------------------------------------------------

// AddNodes upserts nodes into the write buffer; immediately queryable.
func (s *Shard) AddNodes(records []NodeRecord) {
	s.writeBuffer.AddNodes(records)
}

// AddEdges upserts edges into the write buffer; immediately queryable.
func (s *Shard) AddEdges(records []EdgeRecord) {
	s.writeBuffer.UpsertEdges(records)
}

// DeleteNode tombstones a node and every edge touching it in this
// shard (outgoing via the bloom-accelerated src scan, incoming via
// dst scan).
func (s *Shard) DeleteNode(id NodeID) {
	s.tombstones.AddNodes([]NodeID{id})
	srcSet := map[NodeID]struct{}{id: {}}
	s.tombstones.AddEdges(s.FindEdgeKeysBySrcIDs(srcSet))
	for _, e := range s.GetIncomingEdges(id, nil) {
		s.tombstones.AddEdges([]EdgeKey{e.Key()})
	}
}

// DeleteEdge tombstones a single edge key.
func (s *Shard) DeleteEdge(src, dst NodeID, edgeType string) {
	s.tombstones.AddEdges([]EdgeKey{{Src: src, Dst: dst, Type: edgeType}})
}

// -- tombstone state ---------------------------------------------------------

// SetTombstones replaces the whole tombstone set (manifest reload or
// after a commit updated the union).
func (s *Shard) SetTombstones(t *TombstoneSet) {
	s.tombstones = t
}

// Tombstones returns the current tombstone set.
func (s *Shard) Tombstones() *TombstoneSet {
	return s.tombstones
}

// FindEdgeKeysBySrcIDs collects the keys of all edges whose source is
// in the given set, for delete cascades. Segments whose src bloom
// filter rejects every id are skipped without scanning.
func (s *Shard) FindEdgeKeysBySrcIDs(srcIDs map[NodeID]struct{}) []EdgeKey {
	var keys []EdgeKey
	if len(srcIDs) == 0 {
		return keys
	}
	scanSegment := func(seg *EdgeSegment) {
		mayMatch := false
		for id := range srcIDs {
			if seg.MaybeContainsSrc(id) {
				mayMatch = true
				break
			}
		}
		if !mayMatch {
			return
		}
		for j := 0; j < seg.RecordCount(); j++ {
			src := seg.GetSrc(j)
			if _, ok := srcIDs[src]; ok {
				keys = append(keys, EdgeKey{Src: src, Dst: seg.GetDst(j), Type: seg.GetEdgeType(j)})
			}
		}
	}
	for _, seg := range s.edgeSegments {
		scanSegment(seg)
	}
	if s.l1EdgeSegment != nil {
		scanSegment(s.l1EdgeSegment)
	}
	s.writeBuffer.IterEdges(func(e *EdgeRecord) {
		if _, ok := srcIDs[e.Src]; ok {
			keys = append(keys, e.Key())
		}
	})
	return keys
}

// -- L1 accessors + compaction state -----------------------------------------

// L0NodeSegmentCount returns the number of L0 node segments.
func (s *Shard) L0NodeSegmentCount() int {
	return len(s.nodeSegments)
}

// L0EdgeSegmentCount returns the number of L0 edge segments.
func (s *Shard) L0EdgeSegmentCount() int {
	return len(s.edgeSegments)
}

// HasL1 reports whether this shard has been compacted.
func (s *Shard) HasL1() bool {
	return s.l1NodeSegment != nil || s.l1EdgeSegment != nil
}

// ShardID returns the shard id, or nil for standalone shards.
func (s *Shard) ShardID() *uint16 {
	return s.shardID
}

// Path returns the shard directory, "" for ephemeral shards.
func (s *Shard) Path() string {
	return s.path
}

// L0NodeSegments exposes the L0 node segments, oldest first.
func (s *Shard) L0NodeSegments() []*NodeSegment {
	return s.nodeSegments
}

// L0EdgeSegments exposes the L0 edge segments, oldest first.
func (s *Shard) L0EdgeSegments() []*EdgeSegment {
	return s.edgeSegments
}

// L1NodeSegment returns the compacted node segment, if any.
func (s *Shard) L1NodeSegment() *NodeSegment {
	return s.l1NodeSegment
}

// L1EdgeSegment returns the compacted edge segment, if any.
func (s *Shard) L1EdgeSegment() *EdgeSegment {
	return s.l1EdgeSegment
}

// L1NodeDescriptor returns the L1 node descriptor, if any.
func (s *Shard) L1NodeDescriptor() *SegmentDescriptor {
	return s.l1NodeDescriptor
}

// L1EdgeDescriptor returns the L1 edge descriptor, if any.
func (s *Shard) L1EdgeDescriptor() *SegmentDescriptor {
	return s.l1EdgeDescriptor
}

// SetL1Segments installs the compaction output.
func (s *Shard) SetL1Segments(nodeSeg *NodeSegment, nodeDesc *SegmentDescriptor, edgeSeg *EdgeSegment, edgeDesc *SegmentDescriptor) {
	s.l1NodeSegment = nodeSeg
	s.l1NodeDescriptor = nodeDesc
	s.l1EdgeSegment = edgeSeg
	s.l1EdgeDescriptor = edgeDesc
}

// ClearL0AfterCompaction drops the merged L0 segments and resets the
// tombstone set to empty; the caller installs the tombstones that remain.
func (s *Shard) ClearL0AfterCompaction() {
	s.nodeSegments = nil
	s.nodeDescriptors = nil
	s.edgeSegments = nil
	s.edgeDescriptors = nil
	s.tombstones = NewTombstoneSet()
}

// -- flush -------------------------------------------------------------------

// FlushWithIDs drains the write buffer into at most one node and one
// edge segment, appending both to the L0 lists. Segment ids come from
// the manifest store so they are database-unique. Returns nil when the
// buffer is empty.
func (s *Shard) FlushWithIDs(nodeSegmentID, edgeSegmentID *uint64) (*FlushResult, error) {
	if s.writeBuffer.IsEmpty() {
		return nil, nil
	}
	result := &FlushResult{}

	nodes := s.writeBuffer.DrainNodes()
	if len(nodes) > 0 {
		if nodeSegmentID == nil {
			return nil, errCompaction("node segment id required when buffer has nodes")
		}
		writer := NewNodeSegmentWriter()
		for i := range nodes {
			if err := writer.Add(nodes[i]); err != nil {
				return nil, err
			}
		}
		seg, meta, segPath, err := s.finishNodeSegment(writer, *nodeSegmentID)
		if err != nil {
			return nil, err
		}
		result.NodeMeta = meta
		result.NodeSegmentPath = segPath
		desc := DescriptorFromMeta(*nodeSegmentID, SegmentNodes, s.shardID, meta)
		s.nodeSegments = append(s.nodeSegments, seg)
		s.nodeDescriptors = append(s.nodeDescriptors, desc)
	}

	edges := s.writeBuffer.DrainEdges()
	if len(edges) > 0 {
		if edgeSegmentID == nil {
			return nil, errCompaction("edge segment id required when buffer has edges")
		}
		writer := NewEdgeSegmentWriter()
		for i := range edges {
			writer.Add(edges[i])
		}
		seg, meta, segPath, err := s.finishEdgeSegment(writer, *edgeSegmentID)
		if err != nil {
			return nil, err
		}
		result.EdgeMeta = meta
		result.EdgeSegmentPath = segPath
		desc := DescriptorFromMeta(*edgeSegmentID, SegmentEdges, s.shardID, meta)
		s.edgeSegments = append(s.edgeSegments, seg)
		s.edgeDescriptors = append(s.edgeDescriptors, desc)
	}

	return result, nil
}

func (s *Shard) finishNodeSegment(writer *NodeSegmentWriter, segID uint64) (*NodeSegment, *SegmentMeta, string, error) {
	if s.path != "" {
		segPath := segmentFilePath(s.path, segID, "nodes")
		f, err := os.Create(segPath)
		if err != nil {
			return nil, nil, "", errIo("segment create", err)
		}
		meta, err := writer.Finish(f)
		if err != nil {
			f.Close()
			return nil, nil, "", err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, nil, "", errIo("segment sync", err)
		}
		if err := f.Close(); err != nil {
			return nil, nil, "", errIo("segment close", err)
		}
		seg, err := OpenNodeSegment(segPath)
		if err != nil {
			return nil, nil, "", err
		}
		return seg, meta, segPath, nil
	}
	mem := &memSegmentWriter{}
	meta, err := writer.Finish(mem)
	if err != nil {
		return nil, nil, "", err
	}
	seg, err := NodeSegmentFromBytes(mem.buf)
	if err != nil {
		return nil, nil, "", err
	}
	return seg, meta, "", nil
}

func (s *Shard) finishEdgeSegment(writer *EdgeSegmentWriter, segID uint64) (*EdgeSegment, *SegmentMeta, string, error) {
	if s.path != "" {
		segPath := segmentFilePath(s.path, segID, "edges")
		f, err := os.Create(segPath)
		if err != nil {
			return nil, nil, "", errIo("segment create", err)
		}
		meta, err := writer.Finish(f)
		if err != nil {
			f.Close()
			return nil, nil, "", err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, nil, "", errIo("segment sync", err)
		}
		if err := f.Close(); err != nil {
			return nil, nil, "", errIo("segment close", err)
		}
		seg, err := OpenEdgeSegment(segPath)
		if err != nil {
			return nil, nil, "", err
		}
		return seg, meta, segPath, nil
	}
	mem := &memSegmentWriter{}
	meta, err := writer.Finish(mem)
	if err != nil {
		return nil, nil, "", err
	}
	seg, err := EdgeSegmentFromBytes(mem.buf)
	if err != nil {
		return nil, nil, "", err
	}
	return seg, meta, "", nil
}

// -- point lookup ------------------------------------------------------------

// GetNode looks up a node: write buffer first, then L0 newest-first
// with bloom short-circuit, then L1. The second return is false when
// the id is absent or tombstoned.
func (s *Shard) GetNode(id NodeID) (NodeRecord, bool) {
	if s.tombstones.ContainsNode(id) {
		return NodeRecord{}, false
	}
	if r, ok := s.writeBuffer.GetNode(id); ok {
		return r, true
	}
	for i := len(s.nodeSegments) - 1; i >= 0; i-- {
		seg := s.nodeSegments[i]
		if !seg.MaybeContains(id) {
			continue
		}
		for j := 0; j < seg.RecordCount(); j++ {
			if seg.GetId(j) == id {
				return seg.GetRecord(j), true
			}
		}
	}
	if s.l1NodeSegment != nil && s.l1NodeSegment.MaybeContains(id) {
		seg := s.l1NodeSegment
		for j := 0; j < seg.RecordCount(); j++ {
			if seg.GetId(j) == id {
				return seg.GetRecord(j), true
			}
		}
	}
	return NodeRecord{}, false
}

// NodeExists is GetNode without record reconstruction.
func (s *Shard) NodeExists(id NodeID) bool {
	if s.tombstones.ContainsNode(id) {
		return false
	}
	if s.writeBuffer.HasNode(id) {
		return true
	}
	for i := len(s.nodeSegments) - 1; i >= 0; i-- {
		seg := s.nodeSegments[i]
		if !seg.MaybeContains(id) {
			continue
		}
		for j := 0; j < seg.RecordCount(); j++ {
			if seg.GetId(j) == id {
				return true
			}
		}
	}
	if s.l1NodeSegment != nil && s.l1NodeSegment.MaybeContains(id) {
		seg := s.l1NodeSegment
		for j := 0; j < seg.RecordCount(); j++ {
			if seg.GetId(j) == id {
				return true
			}
		}
	}
	return false
}

// -- attribute search --------------------------------------------------------

// FindNodes collects nodes matching the optional type and file
// filters (nil = unconstrained). The write buffer shadows segment
// versions even when the buffered version does not match the filter,
// otherwise a type change followed by a query for the old type would
// resurrect the pre-change record.
func (s *Shard) FindNodes(nodeType, file *string) []NodeRecord {
	seenIds := make(map[NodeID]struct{})
	var results []NodeRecord

	s.writeBuffer.IterNodes(func(n *NodeRecord) {
		seenIds[n.Id] = struct{}{}
		if s.tombstones.ContainsNode(n.Id) {
			return
		}
		if nodeType != nil && n.NodeType != *nodeType {
			return
		}
		if file != nil && n.File != *file {
			return
		}
		results = append(results, *n)
	})

	scanSegment := func(seg *NodeSegment, desc *SegmentDescriptor) {
		if desc != nil && !desc.MayContain(nodeType, file, nil) {
			return
		}
		if nodeType != nil && !seg.ContainsNodeType(*nodeType) {
			return
		}
		if file != nil && !seg.ContainsFile(*file) {
			return
		}
		for j := 0; j < seg.RecordCount(); j++ {
			id := seg.GetId(j)
			if _, ok := seenIds[id]; ok {
				continue
			}
			if s.tombstones.ContainsNode(id) {
				seenIds[id] = struct{}{}
				continue
			}
			if nodeType != nil && seg.GetNodeType(j) != *nodeType {
				continue
			}
			if file != nil && seg.GetFile(j) != *file {
				continue
			}
			seenIds[id] = struct{}{}
			results = append(results, seg.GetRecord(j))
		}
	}

	for i := len(s.nodeSegments) - 1; i >= 0; i-- {
		scanSegment(s.nodeSegments[i], &s.nodeDescriptors[i])
	}
	if s.l1NodeSegment != nil {
		scanSegment(s.l1NodeSegment, s.l1NodeDescriptor)
	}
	return results
}

// FindNodesByTypePrefix collects nodes whose type starts with prefix
// (wildcard queries like "http:*"). Segments whose zone map tracks
// node_type but has no value with the prefix are skipped.
func (s *Shard) FindNodesByTypePrefix(prefix string) []NodeRecord {
	seenIds := make(map[NodeID]struct{})
	var results []NodeRecord

	s.writeBuffer.IterNodes(func(n *NodeRecord) {
		seenIds[n.Id] = struct{}{}
		if s.tombstones.ContainsNode(n.Id) {
			return
		}
		if hasPrefix(n.NodeType, prefix) {
			results = append(results, *n)
		}
	})

	scanSegment := func(seg *NodeSegment) {
		if values := seg.zoneMap.GetValues("node_type"); values != nil {
			any := false
			for v := range values {
				if hasPrefix(v, prefix) {
					any = true
					break
				}
			}
			if !any {
				return
			}
		}
		for j := 0; j < seg.RecordCount(); j++ {
			id := seg.GetId(j)
			if _, ok := seenIds[id]; ok {
				continue
			}
			if s.tombstones.ContainsNode(id) {
				seenIds[id] = struct{}{}
				continue
			}
			if !hasPrefix(seg.GetNodeType(j), prefix) {
				continue
			}
			seenIds[id] = struct{}{}
			results = append(results, seg.GetRecord(j))
		}
	}

	for i := len(s.nodeSegments) - 1; i >= 0; i-- {
		scanSegment(s.nodeSegments[i])
	}
	if s.l1NodeSegment != nil {
		scanSegment(s.l1NodeSegment)
	}
	return results
}

// KnownFiles collects the file paths this shard may hold records for:
// the descriptors' distinct sets (no segment I/O) plus the write
// buffer.
func (s *Shard) KnownFiles(out map[string]struct{}) {
	for i := range s.nodeDescriptors {
		for _, f := range s.nodeDescriptors[i].FilePaths {
			out[f] = struct{}{}
		}
	}
	if s.l1NodeDescriptor != nil {
		for _, f := range s.l1NodeDescriptor.FilePaths {
			out[f] = struct{}{}
		}
	}
	s.writeBuffer.IterNodes(func(n *NodeRecord) {
		out[n.File] = struct{}{}
	})
}

// AllNodeIDs returns the distinct live node ids of this shard
// (buffer + segments, deduplicated, tombstones excluded).
func (s *Shard) AllNodeIDs() []NodeID {
	seen := make(map[NodeID]struct{})
	var out []NodeID
	add := func(id NodeID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		if !s.tombstones.ContainsNode(id) {
			out = append(out, id)
		}
	}
	s.writeBuffer.IterNodes(func(n *NodeRecord) { add(n.Id) })
	for i := len(s.nodeSegments) - 1; i >= 0; i-- {
		seg := s.nodeSegments[i]
		for j := 0; j < seg.RecordCount(); j++ {
			add(seg.GetId(j))
		}
	}
	if s.l1NodeSegment != nil {
		for j := 0; j < s.l1NodeSegment.RecordCount(); j++ {
			add(s.l1NodeSegment.GetId(j))
		}
	}
	return out
}

// -- neighbor queries --------------------------------------------------------

// GetOutgoingEdges collects edges from nodeID, optionally restricted
// to the given edge types. Dedup across tiers: the newest occurrence
// of an edge key wins.
func (s *Shard) GetOutgoingEdges(nodeID NodeID, edgeTypes []string) []EdgeRecord {
	var results []EdgeRecord
	seenKeys := make(map[EdgeKey]struct{})

	s.writeBuffer.IterEdges(func(e *EdgeRecord) {
		if e.Src != nodeID {
			return
		}
		seenKeys[e.Key()] = struct{}{}
		if s.tombstones.ContainsEdge(e.Src, e.Dst, e.EdgeType) {
			return
		}
		if !edgeTypeMatches(edgeTypes, e.EdgeType) {
			return
		}
		results = append(results, *e)
	})

	scanSegment := func(seg *EdgeSegment) {
		if !seg.MaybeContainsSrc(nodeID) {
			return
		}
		if len(edgeTypes) > 0 && !segmentHasAnyEdgeType(seg, edgeTypes) {
			return
		}
		for j := 0; j < seg.RecordCount(); j++ {
			if seg.GetSrc(j) != nodeID {
				continue
			}
			dst := seg.GetDst(j)
			edgeType := seg.GetEdgeType(j)
			key := EdgeKey{Src: nodeID, Dst: dst, Type: edgeType}
			if _, ok := seenKeys[key]; ok {
				continue
			}
			seenKeys[key] = struct{}{}
			if s.tombstones.ContainsEdge(nodeID, dst, edgeType) {
				continue
			}
			if !edgeTypeMatches(edgeTypes, edgeType) {
				continue
			}
			results = append(results, seg.GetRecord(j))
		}
	}

	for i := len(s.edgeSegments) - 1; i >= 0; i-- {
		scanSegment(s.edgeSegments[i])
	}
	if s.l1EdgeSegment != nil {
		scanSegment(s.l1EdgeSegment)
	}
	return results
}

// GetIncomingEdges collects edges into nodeID, optionally restricted
// to the given edge types.
func (s *Shard) GetIncomingEdges(nodeID NodeID, edgeTypes []string) []EdgeRecord {
	var results []EdgeRecord
	seenKeys := make(map[EdgeKey]struct{})

	s.writeBuffer.IterEdges(func(e *EdgeRecord) {
		if e.Dst != nodeID {
			return
		}
		seenKeys[e.Key()] = struct{}{}
		if s.tombstones.ContainsEdge(e.Src, e.Dst, e.EdgeType) {
			return
		}
		if !edgeTypeMatches(edgeTypes, e.EdgeType) {
			return
		}
		results = append(results, *e)
	})

	scanSegment := func(seg *EdgeSegment) {
		if !seg.MaybeContainsDst(nodeID) {
			return
		}
		if len(edgeTypes) > 0 && !segmentHasAnyEdgeType(seg, edgeTypes) {
			return
		}
		for j := 0; j < seg.RecordCount(); j++ {
			if seg.GetDst(j) != nodeID {
				continue
			}
			src := seg.GetSrc(j)
			edgeType := seg.GetEdgeType(j)
			key := EdgeKey{Src: src, Dst: nodeID, Type: edgeType}
			if _, ok := seenKeys[key]; ok {
				continue
			}
			seenKeys[key] = struct{}{}
			if s.tombstones.ContainsEdge(src, nodeID, edgeType) {
				continue
			}
			if !edgeTypeMatches(edgeTypes, edgeType) {
				continue
			}
			results = append(results, seg.GetRecord(j))
		}
	}

	for i := len(s.edgeSegments) - 1; i >= 0; i-- {
		scanSegment(s.edgeSegments[i])
	}
	if s.l1EdgeSegment != nil {
		scanSegment(s.l1EdgeSegment)
	}
	return results
}

// FindEdgesByType collects all live edges with one of the given types
// across buffer and segments, deduplicated by key.
func (s *Shard) FindEdgesByType(edgeTypes []string) []EdgeRecord {
	var results []EdgeRecord
	seenKeys := make(map[EdgeKey]struct{})

	s.writeBuffer.IterEdges(func(e *EdgeRecord) {
		seenKeys[e.Key()] = struct{}{}
		if s.tombstones.ContainsEdge(e.Src, e.Dst, e.EdgeType) {
			return
		}
		if !edgeTypeMatches(edgeTypes, e.EdgeType) {
			return
		}
		results = append(results, *e)
	})

	scanSegment := func(seg *EdgeSegment) {
		if len(edgeTypes) > 0 && !segmentHasAnyEdgeType(seg, edgeTypes) {
			return
		}
		for j := 0; j < seg.RecordCount(); j++ {
			key := EdgeKey{Src: seg.GetSrc(j), Dst: seg.GetDst(j), Type: seg.GetEdgeType(j)}
			if _, ok := seenKeys[key]; ok {
				continue
			}
			seenKeys[key] = struct{}{}
			if s.tombstones.ContainsEdge(key.Src, key.Dst, key.Type) {
				continue
			}
			if !edgeTypeMatches(edgeTypes, key.Type) {
				continue
			}
			results = append(results, seg.GetRecord(j))
		}
	}

	for i := len(s.edgeSegments) - 1; i >= 0; i-- {
		scanSegment(s.edgeSegments[i])
	}
	if s.l1EdgeSegment != nil {
		scanSegment(s.l1EdgeSegment)
	}
	return results
}

// -- stats -------------------------------------------------------------------

// NodeCount sums buffer and segment record counts. Duplicated ids
// across segments are counted once per occurrence; stats only.
func (s *Shard) NodeCount() int {
	count := s.writeBuffer.NodeCount()
	for _, seg := range s.nodeSegments {
		count += seg.RecordCount()
	}
	if s.l1NodeSegment != nil {
		count += s.l1NodeSegment.RecordCount()
	}
	return count
}

// EdgeCount sums buffer and segment record counts.
func (s *Shard) EdgeCount() int {
	count := s.writeBuffer.EdgeCount()
	for _, seg := range s.edgeSegments {
		count += seg.RecordCount()
	}
	if s.l1EdgeSegment != nil {
		count += s.l1EdgeSegment.RecordCount()
	}
	return count
}

// SegmentCount returns (node segments, edge segments) including L1.
func (s *Shard) SegmentCount() (int, int) {
	n, e := len(s.nodeSegments), len(s.edgeSegments)
	if s.l1NodeSegment != nil {
		n++
	}
	if s.l1EdgeSegment != nil {
		e++
	}
	return n, e
}

// WriteBufferSize returns (buffered nodes, buffered edges).
func (s *Shard) WriteBufferSize() (int, int) {
	return s.writeBuffer.NodeCount(), s.writeBuffer.EdgeCount()
}

// WriteBufferBytes estimates the buffered payload size.
func (s *Shard) WriteBufferBytes() int {
	return s.writeBuffer.ByteSize()
}

// -- helpers -----------------------------------------------------------------

func segmentFilePath(shardPath string, segID uint64, suffix string) string {
	return filepath.Join(shardPath, fmt.Sprintf("seg_%06d_%s.seg", segID, suffix))
}

func edgeTypeMatches(filter []string, edgeType string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		if t == edgeType {
			return true
		}
	}
	return false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func segmentHasAnyEdgeType(seg *EdgeSegment, types []string) bool {
	for _, t := range types {
		if seg.ContainsEdgeType(t) {
			return true
		}
	}
	return false
}
