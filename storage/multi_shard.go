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
import "fmt"
import "time"
import "strings"
import "path/filepath"
import "encoding/json"

// DatabaseConfig is written once at database creation as
// db_config.json and read on every open.
type DatabaseConfig struct {
	ShardCount uint16 `json:"shard_count"`
}

// ReadDatabaseConfig returns nil when db_config.json does not exist.
func ReadDatabaseConfig(dbPath string) (*DatabaseConfig, error) {
	raw, err := os.ReadFile(filepath.Join(dbPath, "db_config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errIo("db_config read", err)
	}
	var config DatabaseConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, errSerialization("db_config", err)
	}
	return &config, nil
}

// WriteTo persists the config into the database root.
func (c *DatabaseConfig) WriteTo(dbPath string) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errSerialization("db_config", err)
	}
	if err := os.WriteFile(filepath.Join(dbPath, "db_config.json"), raw, 0640); err != nil {
		return errIo("db_config write", err)
	}
	return nil
}

// ShardStats is the per-shard monitoring view.
type ShardStats struct {
	ShardId          uint16 `json:"shard_id"`
	NodeCount        int    `json:"node_count"`
	EdgeCount        int    `json:"edge_count"`
	NodeSegments     int    `json:"node_segments"`
	EdgeSegments     int    `json:"edge_segments"`
	WriteBufferNodes int    `json:"write_buffer_nodes"`
	WriteBufferEdges int    `json:"write_buffer_edges"`
	WriteBufferBytes int    `json:"write_buffer_bytes"`
}

// MultiShardStore fans writes and queries out across N shards.
//
// Nodes route to shards by file directory hash; every edge routes to
// the shard owning its source node, so a node and its outgoing edges
// always live together. A node_id -> shard_id map gives O(1) shard
// targeting for point lookups and is rebuilt from the shards on open.
//
// Not synchronized: the database registry serializes writers one level
// up.
type MultiShardStore struct {
	dbPath      string // "" for ephemeral stores
	planner     *ShardPlanner
	shards      []*Shard
	nodeToShard map[NodeID]uint16
	globalIndex *GlobalIndex // rebuilt on compaction, may be nil
}

// CreateMultiShardStore creates the shard directories of a new
// database and writes db_config.json. The manifest store is managed by
// the caller.
func CreateMultiShardStore(dbPath string, shardCount uint16) (*MultiShardStore, error) {
	if shardCount == 0 {
		panic("shard_count must be > 0")
	}
	config := DatabaseConfig{ShardCount: shardCount}
	if err := config.WriteTo(dbPath); err != nil {
		return nil, err
	}
	shards := make([]*Shard, 0, shardCount)
	for i := uint16(0); i < shardCount; i++ {
		shard, err := CreateShardFor(shardDir(dbPath, i), i)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard)
	}
	return &MultiShardStore{
		dbPath:      dbPath,
		planner:     NewShardPlanner(shardCount),
		shards:      shards,
		nodeToShard: make(map[NodeID]uint16),
	}, nil
}

// OpenMultiShardStore opens an existing database: reads db_config,
// groups the manifest's descriptors by shard, opens every shard and
// rebuilds the node routing map.
func OpenMultiShardStore(dbPath string, manifestStore *ManifestStore) (*MultiShardStore, error) {
	config, err := ReadDatabaseConfig(dbPath)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, errInvalidFormat("missing db_config.json")
	}
	current := manifestStore.Current()

	nodeDescs := make(map[uint16][]SegmentDescriptor)
	edgeDescs := make(map[uint16][]SegmentDescriptor)
	for _, d := range current.NodeSegments {
		id := uint16(0)
		if d.ShardId != nil {
			id = *d.ShardId
		}
		nodeDescs[id] = append(nodeDescs[id], d)
	}
	for _, d := range current.EdgeSegments {
		id := uint16(0)
		if d.ShardId != nil {
			id = *d.ShardId
		}
		edgeDescs[id] = append(edgeDescs[id], d)
	}

	shards := make([]*Shard, 0, config.ShardCount)
	for i := uint16(0); i < config.ShardCount; i++ {
		shard, err := OpenShardFor(shardDir(dbPath, i), dbPath, i, nodeDescs[i], edgeDescs[i])
		if err != nil {
			return nil, err
		}
		// every shard filters through the persisted union
		shard.SetTombstones(TombstoneSetFromManifest(current))
		shards = append(shards, shard)
	}

	store := &MultiShardStore{
		dbPath:      dbPath,
		planner:     NewShardPlanner(config.ShardCount),
		shards:      shards,
		nodeToShard: make(map[NodeID]uint16),
	}
	for i, shard := range shards {
		for _, id := range shard.AllNodeIDs() {
			store.nodeToShard[id] = uint16(i)
		}
	}
	return store, nil
}

// EphemeralMultiShardStore keeps all shards in memory.
func EphemeralMultiShardStore(shardCount uint16) *MultiShardStore {
	if shardCount == 0 {
		panic("shard_count must be > 0")
	}
	shards := make([]*Shard, 0, shardCount)
	for i := uint16(0); i < shardCount; i++ {
		shards = append(shards, EphemeralShard())
	}
	return &MultiShardStore{
		planner:     NewShardPlanner(shardCount),
		shards:      shards,
		nodeToShard: make(map[NodeID]uint16),
	}
}

// -- write operations --------------------------------------------------------

// AddNodes routes each node to its shard by file directory hash and
// updates the routing map for subsequent edge inserts.
func (m *MultiShardStore) AddNodes(records []NodeRecord) {
	byShard := make(map[uint16][]NodeRecord)
	for _, r := range records {
		shardID := m.planner.ComputeShardID(r.File)
		m.nodeToShard[r.Id] = shardID
		byShard[shardID] = append(byShard[shardID], r)
	}
	for shardID, nodes := range byShard {
		m.shards[shardID].AddNodes(nodes)
	}
	// an upserted id is live again even if an older tombstone for it
	// was already distributed to the shards
	for _, shard := range m.shards {
		t := shard.Tombstones()
		for _, r := range records {
			delete(t.nodes, r.Id)
		}
	}
}

// AddEdges routes each edge to the shard owning its source node.
// Fails with NodeNotFound when a source is unknown: nodes must be
// added before their outgoing edges.
func (m *MultiShardStore) AddEdges(records []EdgeRecord) error {
	byShard := make(map[uint16][]EdgeRecord)
	for _, r := range records {
		shardID, ok := m.nodeToShard[r.Src]
		if !ok {
			return errNodeNotFound(r.Src)
		}
		byShard[shardID] = append(byShard[shardID], r)
	}
	for shardID, edges := range byShard {
		m.shards[shardID].AddEdges(edges)
	}
	for _, shard := range m.shards {
		t := shard.Tombstones()
		for _, r := range records {
			delete(t.edges, r.Key())
		}
	}
	return nil
}

// AddTombstones unions pending deletions into every shard's set (the
// shard owning a given record is not tracked for tombstones, so the
// union is distributed; reads treat it as a filter).
func (m *MultiShardStore) AddTombstones(nodeIds []NodeID, edgeKeys []EdgeKey) {
	for _, shard := range m.shards {
		shard.Tombstones().AddNodes(nodeIds)
		shard.Tombstones().AddEdges(edgeKeys)
	}
	for _, id := range nodeIds {
		delete(m.nodeToShard, id)
	}
}

// -- flush -------------------------------------------------------------------

// FlushAll drains every shard's write buffer to L0 segments and
// commits one manifest version with the new descriptors appended and
// the tombstone union persisted. A zero-change flush is a no-op that
// does not bump the version. Returns the number of shards flushed.
func (m *MultiShardStore) FlushAll(manifestStore *ManifestStore) (int, error) {
	var newNodeDescs, newEdgeDescs []SegmentDescriptor
	flushed := 0

	for i, shard := range m.shards {
		wbNodes, wbEdges := shard.WriteBufferSize()
		var nodeSegID, edgeSegID *uint64
		if wbNodes > 0 {
			id := manifestStore.NextSegmentID()
			nodeSegID = &id
		}
		if wbEdges > 0 {
			id := manifestStore.NextSegmentID()
			edgeSegID = &id
		}
		result, err := shard.FlushWithIDs(nodeSegID, edgeSegID)
		if err != nil {
			return flushed, err
		}
		if result == nil {
			continue
		}
		flushed++
		shardID := uint16(i)
		if result.NodeMeta != nil && nodeSegID != nil {
			newNodeDescs = append(newNodeDescs, DescriptorFromMeta(*nodeSegID, SegmentNodes, &shardID, result.NodeMeta))
		}
		if result.EdgeMeta != nil && edgeSegID != nil {
			newEdgeDescs = append(newEdgeDescs, DescriptorFromMeta(*edgeSegID, SegmentEdges, &shardID, result.EdgeMeta))
		}
	}

	if flushed == 0 {
		return 0, nil
	}

	// two-step protocol: current descriptors, extended with the new ones
	current := manifestStore.Current()
	allNodeSegs := append([]SegmentDescriptor{}, current.NodeSegments...)
	allEdgeSegs := append([]SegmentDescriptor{}, current.EdgeSegments...)
	allNodeSegs = append(allNodeSegs, newNodeDescs...)
	allEdgeSegs = append(allEdgeSegs, newEdgeDescs...)

	manifest := manifestStore.CreateManifest(allNodeSegs, allEdgeSegs, nil)
	nodeTombs, edgeTombs := m.tombstoneUnion()
	manifest.SetTombstones(nodeTombs, edgeTombs)
	if err := manifestStore.Commit(manifest); err != nil {
		return flushed, err
	}
	return flushed, nil
}

// AnyShardNeedsFlush reports whether some write buffer exceeds the
// adaptive limits.
func (m *MultiShardStore) AnyShardNeedsFlush(nodeLimit, byteLimit int) bool {
	for _, shard := range m.shards {
		nodes, _ := shard.WriteBufferSize()
		if nodes >= nodeLimit {
			return true
		}
		if shard.WriteBufferBytes() >= byteLimit {
			return true
		}
	}
	return false
}

// TotalWriteBufferNodes sums the buffered nodes across shards.
func (m *MultiShardStore) TotalWriteBufferNodes() int {
	total := 0
	for _, shard := range m.shards {
		n, _ := shard.WriteBufferSize()
		total += n
	}
	return total
}

// -- compaction --------------------------------------------------------------

// Compact merges every shard that reached the L0 threshold into a new
// L1 segment pair, rebuilds the inverted indexes alongside, commits a
// manifest that swaps the descriptors atomically and clears the
// physically removed tombstones. Returns nil when nothing reached the
// threshold.
func (m *MultiShardStore) Compact(manifestStore *ManifestStore, config CompactionConfig) (*CompactionResult, error) {
	start := time.Now()
	result := &CompactionResult{}

	type pendingSwap struct {
		shardID  uint16
		nodeSeg  *NodeSegment
		nodeDesc *SegmentDescriptor
		edgeSeg  *EdgeSegment
		edgeDesc *SegmentDescriptor
	}
	var swaps []pendingSwap
	compacted := make(map[uint16]bool)
	removedNodeTombs := make(map[NodeID]struct{})
	removedEdgeTombs := make(map[EdgeKey]struct{})
	var allIndexEntries []IndexEntry
	var l0Merged uint32

	for i, shard := range m.shards {
		if !ShouldCompact(shard, config) {
			continue
		}
		shardID := uint16(i)
		merge, err := CompactShard(shard)
		if err != nil {
			return nil, err
		}
		l0Merged += merge.L0SegmentsMerged
		swap := pendingSwap{shardID: shardID}

		if merge.NodeMeta != nil {
			segID := manifestStore.NextSegmentID()
			seg, err := m.publishSegmentBytes(shardID, segID, "nodes", merge.NodeSegmentBytes)
			if err != nil {
				return nil, err
			}
			nodeSeg, ok := seg.(*NodeSegment)
			if !ok {
				return nil, errCompaction("node segment expected from compaction output")
			}
			desc := DescriptorFromMeta(segID, SegmentNodes, &shardID, merge.NodeMeta)
			swap.nodeSeg = nodeSeg
			swap.nodeDesc = &desc
			result.NodesMerged += merge.NodeMeta.RecordCount

			indexes, err := BuildInvertedIndexes(merge.NodeRecords, shardID, segID)
			if err != nil {
				return nil, err
			}
			if err := m.writeIndexFiles(shardID, segID, indexes); err != nil {
				return nil, err
			}
			for offset := range merge.NodeRecords {
				allIndexEntries = append(allIndexEntries, IndexEntry{
					NodeId:    merge.NodeRecords[offset].Id,
					SegmentId: segID,
					Offset:    uint32(offset),
					Shard:     shardID,
				})
			}
		}
		if merge.EdgeMeta != nil {
			segID := manifestStore.NextSegmentID()
			seg, err := m.publishSegmentBytes(shardID, segID, "edges", merge.EdgeSegmentBytes)
			if err != nil {
				return nil, err
			}
			edgeSeg, ok := seg.(*EdgeSegment)
			if !ok {
				return nil, errCompaction("edge segment expected from compaction output")
			}
			desc := DescriptorFromMeta(segID, SegmentEdges, &shardID, merge.EdgeMeta)
			swap.edgeSeg = edgeSeg
			swap.edgeDesc = &desc
			result.EdgesMerged += merge.EdgeMeta.RecordCount
		}

		for _, id := range merge.AppliedNodeTombstones {
			removedNodeTombs[id] = struct{}{}
		}
		for _, k := range merge.AppliedEdgeTombstones {
			removedEdgeTombs[k] = struct{}{}
		}
		result.TombstonesRemoved += merge.TombstonesRemoved
		result.ShardsCompacted = append(result.ShardsCompacted, shardID)
		compacted[shardID] = true
		swaps = append(swaps, swap)
	}

	if len(swaps) == 0 {
		return nil, nil
	}

	// manifest: drop every descriptor of a compacted shard, insert the
	// new L1 descriptors
	current := manifestStore.Current()
	var nodeSegs, edgeSegs []SegmentDescriptor
	for _, d := range current.NodeSegments {
		if d.ShardId != nil && compacted[*d.ShardId] {
			continue
		}
		nodeSegs = append(nodeSegs, d)
	}
	for _, d := range current.EdgeSegments {
		if d.ShardId != nil && compacted[*d.ShardId] {
			continue
		}
		edgeSegs = append(edgeSegs, d)
	}
	for _, swap := range swaps {
		if swap.nodeDesc != nil {
			nodeSegs = append(nodeSegs, *swap.nodeDesc)
		}
		if swap.edgeDesc != nil {
			edgeSegs = append(edgeSegs, *swap.edgeDesc)
		}
	}

	info := &CompactionInfo{
		ManifestVersion:  current.Version + 1,
		TimestampMs:      uint64(time.Now().UnixMilli()),
		L0SegmentsMerged: l0Merged,
	}
	manifest := manifestStore.CreateManifest(nodeSegs, edgeSegs, info)

	nodeTombs, edgeTombs := m.tombstoneUnion()
	keptNodeTombs := nodeTombs[:0]
	for _, id := range nodeTombs {
		if _, ok := removedNodeTombs[id]; !ok {
			keptNodeTombs = append(keptNodeTombs, id)
		}
	}
	keptEdgeTombs := edgeTombs[:0]
	for _, k := range edgeTombs {
		if _, ok := removedEdgeTombs[k]; !ok {
			keptEdgeTombs = append(keptEdgeTombs, k)
		}
	}
	manifest.SetTombstones(keptNodeTombs, keptEdgeTombs)

	if err := manifestStore.Commit(manifest); err != nil {
		return nil, err
	}

	// swap in-memory shard state only after the commit succeeded
	for _, swap := range swaps {
		shard := m.shards[swap.shardID]
		shard.SetL1Segments(swap.nodeSeg, swap.nodeDesc, swap.edgeSeg, swap.edgeDesc)
		shard.ClearL0AfterCompaction()
		remaining := NewTombstoneSet()
		remaining.AddNodes(keptNodeTombs)
		remaining.AddEdges(keptEdgeTombs)
		shard.SetTombstones(remaining)
	}

	m.globalIndex = BuildGlobalIndex(allIndexEntries)
	if m.dbPath != "" {
		path := filepath.Join(m.dbPath, "segments", "global.ridx")
		if err := os.WriteFile(path, m.globalIndex.ToBytes(), 0640); err != nil {
			log.Warnw("global index write failed", "error", err)
		}
	}

	result.DurationMs = uint64(time.Since(start).Milliseconds())
	if Settings.Trace {
		log.Infow("compaction finished",
			"shards", result.ShardsCompacted,
			"nodes", result.NodesMerged,
			"edges", result.EdgesMerged,
			"tombstones_removed", result.TombstonesRemoved,
			"duration_ms", result.DurationMs)
	}
	return result, nil
}

// publishSegmentBytes writes compaction output to its segment file
// (or loads it directly for ephemeral stores).
func (m *MultiShardStore) publishSegmentBytes(shardID uint16, segID uint64, suffix string, data []byte) (interface{}, error) {
	if m.dbPath != "" {
		path := segmentFilePath(shardDir(m.dbPath, shardID), segID, suffix)
		if err := os.WriteFile(path, data, 0640); err != nil {
			return nil, errIo("segment write", err)
		}
	}
	if suffix == "nodes" {
		return NodeSegmentFromBytes(data)
	}
	return EdgeSegmentFromBytes(data)
}

func (m *MultiShardStore) writeIndexFiles(shardID uint16, segID uint64, indexes *BuiltIndexes) error {
	if m.dbPath == "" {
		return nil
	}
	dir := shardDir(m.dbPath, shardID)
	byType := filepath.Join(dir, fmt.Sprintf("seg_%06d_by_type.ridx", segID))
	if err := os.WriteFile(byType, indexes.ByType, 0640); err != nil {
		return errIo("index write", err)
	}
	byFile := filepath.Join(dir, fmt.Sprintf("seg_%06d_by_file.ridx", segID))
	if err := os.WriteFile(byFile, indexes.ByFile, 0640); err != nil {
		return errIo("index write", err)
	}
	return nil
}

func (m *MultiShardStore) tombstoneUnion() ([]NodeID, []EdgeKey) {
	nodeSet := make(map[NodeID]struct{})
	edgeSet := make(map[EdgeKey]struct{})
	for _, shard := range m.shards {
		for _, id := range shard.Tombstones().NodeIDs() {
			nodeSet[id] = struct{}{}
		}
		for _, k := range shard.Tombstones().EdgeKeys() {
			edgeSet[k] = struct{}{}
		}
	}
	nodes := make([]NodeID, 0, len(nodeSet))
	for id := range nodeSet {
		nodes = append(nodes, id)
	}
	edges := make([]EdgeKey, 0, len(edgeSet))
	for k := range edgeSet {
		edges = append(edges, k)
	}
	return nodes, edges
}

// -- commit batch ------------------------------------------------------------

// CommitBatch atomically replaces the graph content of the changed
// files: every node previously stored under a changed file that does
// not reappear in the batch is tombstoned together with its edges, the
// new records are inserted, everything is flushed and one manifest
// version carrying the updated tombstone union and the tag map is
// committed.
func (m *MultiShardStore) CommitBatch(nodes []NodeRecord, edges []EdgeRecord, changedFiles []string, tags map[string]string, manifestStore *ManifestStore) (*CommitDelta, error) {
	changedFiles = m.expandChangedFiles(changedFiles)
	delta := &CommitDelta{
		ChangedFiles:     append([]string{}, changedFiles...),
		ChangedNodeTypes: make(map[string]struct{}),
		ChangedEdgeTypes: make(map[string]struct{}),
	}

	newIds := make(map[NodeID]NodeRecord, len(nodes))
	for _, r := range nodes {
		newIds[r.Id] = r
	}

	// find the previous generation of the changed files
	oldRecords := make(map[NodeID]NodeRecord)
	for _, file := range changedFiles {
		f := file
		for _, shard := range m.shards {
			for _, r := range shard.FindNodes(nil, &f) {
				oldRecords[r.Id] = r
			}
		}
	}

	var removedIds []NodeID
	for id, old := range oldRecords {
		if _, stillThere := newIds[id]; !stillThere {
			removedIds = append(removedIds, id)
			delta.ChangedNodeTypes[old.NodeType] = struct{}{}
		}
	}

	// cascade: tombstone every edge touching a removed node
	removedSet := make(map[NodeID]struct{}, len(removedIds))
	for _, id := range removedIds {
		removedSet[id] = struct{}{}
	}
	var removedEdgeKeys []EdgeKey
	if len(removedSet) > 0 {
		for _, shard := range m.shards {
			removedEdgeKeys = append(removedEdgeKeys, shard.FindEdgeKeysBySrcIDs(removedSet)...)
			for id := range removedSet {
				for _, e := range shard.GetIncomingEdges(id, nil) {
					removedEdgeKeys = append(removedEdgeKeys, e.Key())
				}
			}
		}
	}
	for _, k := range removedEdgeKeys {
		delta.ChangedEdgeTypes[k.Type] = struct{}{}
	}

	// modified = same id before and after with different content
	for id, newRecord := range newIds {
		if old, ok := oldRecords[id]; ok {
			if old.ContentHash != newRecord.ContentHash || old.Metadata != newRecord.Metadata {
				delta.NodesModified++
			}
		} else {
			delta.NodesAdded++
		}
		delta.ChangedNodeTypes[newRecord.NodeType] = struct{}{}
	}
	delta.NodesRemoved = uint64(len(removedIds))
	delta.RemovedNodeIds = removedIds

	m.AddTombstones(removedIds, removedEdgeKeys)

	// a re-added id must not stay tombstoned
	var resurrect []NodeID
	for id := range newIds {
		resurrect = append(resurrect, id)
	}
	for _, shard := range m.shards {
		t := shard.Tombstones()
		for _, id := range resurrect {
			delete(t.nodes, id)
		}
	}

	m.AddNodes(nodes)
	if len(edges) > 0 {
		for _, e := range edges {
			delta.ChangedEdgeTypes[e.EdgeType] = struct{}{}
		}
		// an edge whose key is re-inserted must not stay tombstoned
		for _, shard := range m.shards {
			t := shard.Tombstones()
			for _, e := range edges {
				delete(t.edges, e.Key())
			}
		}
		if err := m.AddEdges(edges); err != nil {
			return nil, err
		}
	}

	flushed, err := m.FlushAll(manifestStore)
	if err != nil {
		return nil, err
	}
	if flushed == 0 && (len(removedIds) > 0 || len(removedEdgeKeys) > 0) {
		// a deletion-only commit produces no segments; still publish a
		// version so the tombstone union becomes durable
		current := manifestStore.Current()
		manifest := manifestStore.CreateManifest(
			append([]SegmentDescriptor{}, current.NodeSegments...),
			append([]SegmentDescriptor{}, current.EdgeSegments...), nil)
		nodeTombs, edgeTombs := m.tombstoneUnion()
		manifest.SetTombstones(nodeTombs, edgeTombs)
		if err := manifestStore.Commit(manifest); err != nil {
			return nil, err
		}
	}
	if len(tags) > 0 {
		if err := manifestStore.TagSnapshot(manifestStore.Current().Version, tags); err != nil {
			return nil, err
		}
	}
	delta.ManifestVersion = manifestStore.Current().Version
	return delta, nil
}

// expandChangedFiles adds the enrichment contexts of every changed
// source file: a stored file like __enrichment__/data-flow/src/a.js
// becomes changed when src/a.js is, so stale enrichment output gets
// tombstoned together with the nodes it annotated. Candidate paths
// come from the descriptors' distinct sets, no segment scan needed.
func (m *MultiShardStore) expandChangedFiles(changedFiles []string) []string {
	if len(changedFiles) == 0 {
		return changedFiles
	}
	changedSet := make(map[string]struct{}, len(changedFiles))
	for _, f := range changedFiles {
		changedSet[f] = struct{}{}
	}
	known := make(map[string]struct{})
	for _, shard := range m.shards {
		shard.KnownFiles(known)
	}
	expanded := append([]string{}, changedFiles...)
	for file := range known {
		if !strings.HasPrefix(file, EnrichmentPrefix) {
			continue
		}
		if _, ok := changedSet[file]; ok {
			continue
		}
		rest := file[len(EnrichmentPrefix):]
		slash := strings.IndexByte(rest, '/')
		if slash <= 0 {
			continue
		}
		enricher, source := rest[:slash], rest[slash+1:]
		if _, ok := changedSet[source]; !ok {
			continue
		}
		if file != EnrichmentFileContext(enricher, source) {
			continue
		}
		changedSet[file] = struct{}{}
		expanded = append(expanded, file)
	}
	return expanded
}

// -- point lookup ------------------------------------------------------------

// GetNode targets the owning shard via the routing map and falls back
// to fan-out (a segment may hold nodes not yet in the map).
func (m *MultiShardStore) GetNode(id NodeID) (NodeRecord, bool) {
	if shardID, ok := m.nodeToShard[id]; ok {
		return m.shards[shardID].GetNode(id)
	}
	if m.globalIndex != nil {
		if entry, ok := m.globalIndex.Lookup(id); ok {
			return m.shards[entry.Shard].GetNode(id)
		}
	}
	for _, shard := range m.shards {
		if r, ok := shard.GetNode(id); ok {
			return r, true
		}
	}
	return NodeRecord{}, false
}

// NodeExists reports whether any shard holds a live record for id.
func (m *MultiShardStore) NodeExists(id NodeID) bool {
	if shardID, ok := m.nodeToShard[id]; ok {
		return m.shards[shardID].NodeExists(id)
	}
	for _, shard := range m.shards {
		if shard.NodeExists(id) {
			return true
		}
	}
	return false
}

// -- attribute search --------------------------------------------------------

// FindNodes fans out and deduplicates by id (defensive: one node
// normally lives in exactly one shard).
func (m *MultiShardStore) FindNodes(nodeType, file *string) []NodeRecord {
	seen := make(map[NodeID]struct{})
	var results []NodeRecord
	for _, shard := range m.shards {
		for _, r := range shard.FindNodes(nodeType, file) {
			if _, ok := seen[r.Id]; ok {
				continue
			}
			seen[r.Id] = struct{}{}
			results = append(results, r)
		}
	}
	return results
}

// FindNodesByTypePrefix fans a wildcard type query out.
func (m *MultiShardStore) FindNodesByTypePrefix(prefix string) []NodeRecord {
	seen := make(map[NodeID]struct{})
	var results []NodeRecord
	for _, shard := range m.shards {
		for _, r := range shard.FindNodesByTypePrefix(prefix) {
			if _, ok := seen[r.Id]; ok {
				continue
			}
			seen[r.Id] = struct{}{}
			results = append(results, r)
		}
	}
	return results
}

// -- neighbor queries --------------------------------------------------------

// GetOutgoingEdges targets the source's shard when known, otherwise
// fans out.
func (m *MultiShardStore) GetOutgoingEdges(nodeID NodeID, edgeTypes []string) []EdgeRecord {
	if shardID, ok := m.nodeToShard[nodeID]; ok {
		return m.shards[shardID].GetOutgoingEdges(nodeID, edgeTypes)
	}
	var results []EdgeRecord
	for _, shard := range m.shards {
		results = append(results, shard.GetOutgoingEdges(nodeID, edgeTypes)...)
	}
	return results
}

// GetIncomingEdges always fans out: incoming edges live in each
// source's shard.
func (m *MultiShardStore) GetIncomingEdges(nodeID NodeID, edgeTypes []string) []EdgeRecord {
	var results []EdgeRecord
	for _, shard := range m.shards {
		results = append(results, shard.GetIncomingEdges(nodeID, edgeTypes)...)
	}
	return results
}

// AllEdges collects every live edge across shards, deduplicated by
// key.
func (m *MultiShardStore) AllEdges(edgeTypes []string) []EdgeRecord {
	seen := make(map[EdgeKey]struct{})
	var results []EdgeRecord
	for _, shard := range m.shards {
		for _, e := range shard.FindEdgesByType(edgeTypes) {
			key := e.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			results = append(results, e)
		}
	}
	return results
}

// -- stats -------------------------------------------------------------------

// NodeCount sums the shard node counts.
func (m *MultiShardStore) NodeCount() int {
	total := 0
	for _, shard := range m.shards {
		total += shard.NodeCount()
	}
	return total
}

// EdgeCount sums the shard edge counts.
func (m *MultiShardStore) EdgeCount() int {
	total := 0
	for _, shard := range m.shards {
		total += shard.EdgeCount()
	}
	return total
}

// ShardCount returns the number of shards.
func (m *MultiShardStore) ShardCount() uint16 {
	return uint16(len(m.shards))
}

// Shards exposes the shard list for compaction policy checks.
func (m *MultiShardStore) Shards() []*Shard {
	return m.shards
}

// ShardStats returns the monitoring view of every shard.
func (m *MultiShardStore) ShardStats() []ShardStats {
	out := make([]ShardStats, 0, len(m.shards))
	for i, shard := range m.shards {
		nodeSegs, edgeSegs := shard.SegmentCount()
		wbNodes, wbEdges := shard.WriteBufferSize()
		out = append(out, ShardStats{
			ShardId:          uint16(i),
			NodeCount:        shard.NodeCount(),
			EdgeCount:        shard.EdgeCount(),
			NodeSegments:     nodeSegs,
			EdgeSegments:     edgeSegs,
			WriteBufferNodes: wbNodes,
			WriteBufferEdges: wbEdges,
			WriteBufferBytes: shard.WriteBufferBytes(),
		})
	}
	return out
}

// shardDir is <db>/segments/<2-digit shard id>/
func shardDir(dbPath string, shardID uint16) string {
	return filepath.Join(dbPath, "segments", fmt.Sprintf("%02d", shardID))
}
