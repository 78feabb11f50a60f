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

// EdgeWriteOp distinguishes a fresh insert from an in-place update.
type EdgeWriteOp int

const (
	EdgeInserted EdgeWriteOp = iota
	EdgeUpdated
)

// UpsertStats aggregates a batched edge upsert.
type UpsertStats struct {
	Inserted int
	Updated  int
}

// WriteBuffer is the in-memory accumulation area in front of the
// segment files, the memtable of the LSM pipeline. Not thread safe:
// single-writer access is assumed one level up.
//
// Nodes are keyed by id (last writer wins). Edges are kept in insert
// order with a companion key set for (src, dst, edge_type) dedup; the
// buffer stays small, so linear edge queries are fine.
type WriteBuffer struct {
	nodes    map[NodeID]NodeRecord
	edges    []EdgeRecord
	edgeKeys map[EdgeKey]struct{}
}

// NewWriteBuffer creates an empty buffer.
func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{
		nodes:    make(map[NodeID]NodeRecord),
		edgeKeys: make(map[EdgeKey]struct{}),
	}
}

// AddNode upserts a single node by id.
func (b *WriteBuffer) AddNode(record NodeRecord) {
	b.nodes[record.Id] = record
}

// AddNodes upserts each record individually.
func (b *WriteBuffer) AddNodes(records []NodeRecord) {
	for _, r := range records {
		b.nodes[r.Id] = r
	}
}

// UpsertEdge inserts the edge or replaces the record with the same
// (src, dst, edge_type) key.
func (b *WriteBuffer) UpsertEdge(record EdgeRecord) EdgeWriteOp {
	key := record.Key()
	if _, ok := b.edgeKeys[key]; !ok {
		b.edgeKeys[key] = struct{}{}
		b.edges = append(b.edges, record)
		return EdgeInserted
	}
	for i := range b.edges {
		if b.edges[i].Src == record.Src && b.edges[i].Dst == record.Dst &&
			b.edges[i].EdgeType == record.EdgeType {
			b.edges[i] = record
			break
		}
	}
	return EdgeUpdated
}

// UpsertEdges upserts a batch, returning insert/update counts.
func (b *WriteBuffer) UpsertEdges(records []EdgeRecord) UpsertStats {
	var stats UpsertStats
	for _, r := range records {
		if b.UpsertEdge(r) == EdgeInserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}
	return stats
}

// GetNode is an O(1) point lookup. The second return is false when the
// id is not buffered.
func (b *WriteBuffer) GetNode(id NodeID) (NodeRecord, bool) {
	r, ok := b.nodes[id]
	return r, ok
}

// HasNode reports whether id is buffered.
func (b *WriteBuffer) HasNode(id NodeID) bool {
	_, ok := b.nodes[id]
	return ok
}

// IterNodes calls fn for every buffered node.
func (b *WriteBuffer) IterNodes(fn func(*NodeRecord)) {
	for id := range b.nodes {
		r := b.nodes[id]
		fn(&r)
	}
}

// IterEdges calls fn for every buffered edge.
func (b *WriteBuffer) IterEdges(fn func(*EdgeRecord)) {
	for i := range b.edges {
		fn(&b.edges[i])
	}
}

// FindNodesByType collects buffered nodes with the given type.
func (b *WriteBuffer) FindNodesByType(nodeType string) []NodeRecord {
	var out []NodeRecord
	for _, r := range b.nodes {
		if r.NodeType == nodeType {
			out = append(out, r)
		}
	}
	return out
}

// FindNodesByFile collects buffered nodes with the given file.
func (b *WriteBuffer) FindNodesByFile(file string) []NodeRecord {
	var out []NodeRecord
	for _, r := range b.nodes {
		if r.File == file {
			out = append(out, r)
		}
	}
	return out
}

// FindEdgesBySrc collects buffered edges originating at src.
func (b *WriteBuffer) FindEdgesBySrc(src NodeID) []EdgeRecord {
	var out []EdgeRecord
	for i := range b.edges {
		if b.edges[i].Src == src {
			out = append(out, b.edges[i])
		}
	}
	return out
}

// FindEdgesByDst collects buffered edges pointing at dst.
func (b *WriteBuffer) FindEdgesByDst(dst NodeID) []EdgeRecord {
	var out []EdgeRecord
	for i := range b.edges {
		if b.edges[i].Dst == dst {
			out = append(out, b.edges[i])
		}
	}
	return out
}

// FindEdgesByType collects buffered edges with the given type.
func (b *WriteBuffer) FindEdgesByType(edgeType string) []EdgeRecord {
	var out []EdgeRecord
	for i := range b.edges {
		if b.edges[i].EdgeType == edgeType {
			out = append(out, b.edges[i])
		}
	}
	return out
}

// NodeCount returns the number of buffered nodes.
func (b *WriteBuffer) NodeCount() int {
	return len(b.nodes)
}

// EdgeCount returns the number of buffered edges.
func (b *WriteBuffer) EdgeCount() int {
	return len(b.edges)
}

// IsEmpty reports whether the buffer holds no records.
func (b *WriteBuffer) IsEmpty() bool {
	return len(b.nodes) == 0 && len(b.edges) == 0
}

// ByteSize estimates the buffered payload size for auto-flush checks.
func (b *WriteBuffer) ByteSize() int {
	size := 0
	for _, r := range b.nodes {
		size += 16 + 8 + len(r.SemanticID) + len(r.NodeType) + len(r.Name) + len(r.File) + len(r.Metadata)
	}
	for i := range b.edges {
		size += 32 + len(b.edges[i].EdgeType) + len(b.edges[i].Metadata)
	}
	return size
}

// DrainNodes removes and returns all buffered nodes.
func (b *WriteBuffer) DrainNodes() []NodeRecord {
	out := make([]NodeRecord, 0, len(b.nodes))
	for _, r := range b.nodes {
		out = append(out, r)
	}
	b.nodes = make(map[NodeID]NodeRecord)
	return out
}

// DrainEdges removes and returns all buffered edges in insert order.
func (b *WriteBuffer) DrainEdges() []EdgeRecord {
	out := b.edges
	b.edges = nil
	b.edgeKeys = make(map[EdgeKey]struct{})
	return out
}
