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

import "sort"

// CompactionConfig is the trigger policy.
type CompactionConfig struct {
	// L0 segment count (nodes + edges) that triggers a shard merge
	SegmentThreshold int
}

// DefaultCompactionConfig uses the spec default of 4; the tuning
// profile overrides this per machine.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{SegmentThreshold: 4}
}

// CompactionResult summarizes one compaction run.
type CompactionResult struct {
	ShardsCompacted   []uint16
	NodesMerged       uint64
	EdgesMerged       uint64
	TombstonesRemoved uint64
	DurationMs        uint64
}

// ShouldCompact reports whether a shard's L0 count reached the
// threshold.
func ShouldCompact(shard *Shard, config CompactionConfig) bool {
	return shard.L0NodeSegmentCount()+shard.L0EdgeSegmentCount() >= config.SegmentThreshold
}

// MergeNodeSegments merges segments (given newest first) into one
// sorted, deduplicated record list: the first occurrence of an id wins
// and tombstoned ids are dropped. The second return lists the
// tombstones that actually matched a record, i.e. were physically
// applied and may be cleared from the manifest union.
func MergeNodeSegments(segments []*NodeSegment, tombstones *TombstoneSet) ([]NodeRecord, []NodeID) {
	records := make(map[NodeID]NodeRecord)
	applied := make(map[NodeID]struct{})
	for _, seg := range segments {
		for j := 0; j < seg.RecordCount(); j++ {
			id := seg.GetId(j)
			if _, ok := records[id]; ok {
				continue // newer version already merged
			}
			if tombstones.ContainsNode(id) {
				applied[id] = struct{}{}
				continue
			}
			records[id] = seg.GetRecord(j)
		}
	}
	sorted := make([]NodeRecord, 0, len(records))
	for _, r := range records {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Id.Less(sorted[j].Id) })
	appliedIds := make([]NodeID, 0, len(applied))
	for id := range applied {
		appliedIds = append(appliedIds, id)
	}
	return sorted, appliedIds
}

// MergeEdgeSegments merges edge segments (newest first) keyed by
// (src, dst, edge_type), sorted by that triple. The second return
// lists the edge tombstones that were physically applied.
func MergeEdgeSegments(segments []*EdgeSegment, tombstones *TombstoneSet) ([]EdgeRecord, []EdgeKey) {
	records := make(map[EdgeKey]EdgeRecord)
	applied := make(map[EdgeKey]struct{})
	for _, seg := range segments {
		for j := 0; j < seg.RecordCount(); j++ {
			r := seg.GetRecord(j)
			key := r.Key()
			if _, ok := records[key]; ok {
				continue
			}
			if tombstones.ContainsEdge(r.Src, r.Dst, r.EdgeType) {
				applied[key] = struct{}{}
				continue
			}
			records[key] = r
		}
	}
	sorted := make([]EdgeRecord, 0, len(records))
	for _, r := range records {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if c := sorted[i].Src.Cmp(sorted[j].Src); c != 0 {
			return c < 0
		}
		if c := sorted[i].Dst.Cmp(sorted[j].Dst); c != 0 {
			return c < 0
		}
		return sorted[i].EdgeType < sorted[j].EdgeType
	})
	appliedKeys := make([]EdgeKey, 0, len(applied))
	for k := range applied {
		appliedKeys = append(appliedKeys, k)
	}
	return sorted, appliedKeys
}

// ShardCompactionResult carries the in-memory merge output. The caller
// assigns segment ids, writes the bytes, updates the manifest and
// swaps the shard state.
type ShardCompactionResult struct {
	NodeSegmentBytes  []byte
	NodeMeta          *SegmentMeta
	NodeRecords       []NodeRecord // sorted merge output, for index building
	EdgeSegmentBytes  []byte
	EdgeMeta          *SegmentMeta
	L0SegmentsMerged  uint32
	TombstonesRemoved uint64
	// tombstones that matched records and are now physically gone
	AppliedNodeTombstones []NodeID
	AppliedEdgeTombstones []EdgeKey
}

// CompactShard merges a shard's L0 segments plus its current L1 into
// the records of a new L1 pair (newest data wins, tombstones applied,
// output sorted).
func CompactShard(shard *Shard) (*ShardCompactionResult, error) {
	tombstones := shard.Tombstones()
	result := &ShardCompactionResult{
		L0SegmentsMerged: uint32(shard.L0NodeSegmentCount() + shard.L0EdgeSegmentCount()),
	}

	l0Nodes := shard.L0NodeSegments()
	nodeSegs := make([]*NodeSegment, 0, len(l0Nodes)+1)
	for i := len(l0Nodes) - 1; i >= 0; i-- {
		nodeSegs = append(nodeSegs, l0Nodes[i])
	}
	if l1 := shard.L1NodeSegment(); l1 != nil {
		nodeSegs = append(nodeSegs, l1)
	}
	mergedNodes, appliedNodeTombs := MergeNodeSegments(nodeSegs, tombstones)
	result.AppliedNodeTombstones = appliedNodeTombs
	if len(mergedNodes) > 0 {
		writer := NewNodeSegmentWriter()
		for i := range mergedNodes {
			if err := writer.Add(mergedNodes[i]); err != nil {
				return nil, err
			}
		}
		mem := &memSegmentWriter{}
		meta, err := writer.Finish(mem)
		if err != nil {
			return nil, err
		}
		result.NodeSegmentBytes = mem.buf
		result.NodeMeta = meta
		result.NodeRecords = mergedNodes
	}

	l0Edges := shard.L0EdgeSegments()
	edgeSegs := make([]*EdgeSegment, 0, len(l0Edges)+1)
	for i := len(l0Edges) - 1; i >= 0; i-- {
		edgeSegs = append(edgeSegs, l0Edges[i])
	}
	if l1 := shard.L1EdgeSegment(); l1 != nil {
		edgeSegs = append(edgeSegs, l1)
	}
	mergedEdges, appliedEdgeTombs := MergeEdgeSegments(edgeSegs, tombstones)
	result.AppliedEdgeTombstones = appliedEdgeTombs
	if len(mergedEdges) > 0 {
		writer := NewEdgeSegmentWriter()
		for i := range mergedEdges {
			writer.Add(mergedEdges[i])
		}
		mem := &memSegmentWriter{}
		meta, err := writer.Finish(mem)
		if err != nil {
			return nil, err
		}
		result.EdgeSegmentBytes = mem.buf
		result.EdgeMeta = meta
	}

	result.TombstonesRemoved = uint64(len(result.AppliedNodeTombstones) + len(result.AppliedEdgeTombstones))
	return result, nil
}
