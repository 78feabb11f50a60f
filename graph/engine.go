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
package graph

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/launix-de/rfdb/storage"
)

// fallback shard count when adaptive tuning is bypassed (tests etc.)
const defaultShardCount = 4

var _ GraphStore = (*Engine)(nil)

// Engine adapts the sharded columnar storage to the GraphStore
// contract: it translates legacy records, buffers pending tombstones
// so deletes are visible before the next flush, and drives auto-flush
// from a cached tuning profile.
//
// Not internally synchronized; the database registry wraps each engine
// in a reader/writer lock.
type Engine struct {
	store     *storage.MultiShardStore
	manifest  *storage.ManifestStore
	path      string
	ephemeral bool

	pendingTombstoneNodes map[storage.NodeID]struct{}
	pendingTombstoneEdges map[storage.EdgeKey]struct{}

	fieldIndex *IndexSet

	cachedProfile     storage.TuningProfile
	lastResourceCheck time.Time

	log *zap.SugaredLogger
}

// CreateEngine creates a new database on disk, auto-tuned to the host.
func CreateEngine(path string) (*Engine, error) {
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, &storage.GraphError{Kind: storage.ErrIo, Msg: "database dir create", Err: err}
	}
	profile := storage.AutoTune()
	store, err := storage.CreateMultiShardStore(path, profile.ShardCount)
	if err != nil {
		return nil, err
	}
	manifest, err := storage.CreateManifestStore(path)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:                 store,
		manifest:              manifest,
		path:                  path,
		pendingTombstoneNodes: make(map[storage.NodeID]struct{}),
		pendingTombstoneEdges: make(map[storage.EdgeKey]struct{}),
		fieldIndex:            NewIndexSet(),
		cachedProfile:         profile,
		lastResourceCheck:     time.Now(),
		log:                   zap.NewNop().Sugar(),
	}, nil
}

// OpenEngine opens an existing database, restoring the tombstone union
// from the committed manifest.
func OpenEngine(path string) (*Engine, error) {
	manifest, err := storage.OpenManifestStore(path)
	if err != nil {
		return nil, err
	}
	store, err := storage.OpenMultiShardStore(path, manifest)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:                 store,
		manifest:              manifest,
		path:                  path,
		pendingTombstoneNodes: make(map[storage.NodeID]struct{}),
		pendingTombstoneEdges: make(map[storage.EdgeKey]struct{}),
		fieldIndex:            NewIndexSet(),
		cachedProfile:         storage.AutoTune(),
		lastResourceCheck:     time.Now(),
		log:                   zap.NewNop().Sugar(),
	}
	current := manifest.Current()
	for _, id := range current.TombstonedNodeIds {
		e.pendingTombstoneNodes[id] = struct{}{}
	}
	for _, k := range current.TombstoneEdgeKeys() {
		e.pendingTombstoneEdges[k] = struct{}{}
	}
	return e, nil
}

// EphemeralEngine keeps everything in memory; for tests and scratch
// analysis graphs.
func EphemeralEngine() *Engine {
	return &Engine{
		store:                 storage.EphemeralMultiShardStore(defaultShardCount),
		manifest:              storage.EphemeralManifestStore(),
		ephemeral:             true,
		pendingTombstoneNodes: make(map[storage.NodeID]struct{}),
		pendingTombstoneEdges: make(map[storage.EdgeKey]struct{}),
		fieldIndex:            NewIndexSet(),
		cachedProfile:         storage.DefaultTuningProfile(),
		lastResourceCheck:     time.Now(),
		log:                   zap.NewNop().Sugar(),
	}
}

// SetLogger installs the registry's logger.
func (e *Engine) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		e.log = logger
	}
}

// IsEphemeral reports whether this engine is in-memory only.
func (e *Engine) IsEphemeral() bool {
	return e.ephemeral
}

// Path returns the database directory, "" for ephemeral engines.
func (e *Engine) Path() string {
	return e.path
}

// -- record translation ------------------------------------------------------

// extractExported pulls the tunneled __exported bit out of a metadata
// JSON object, returning the bit and the metadata without the key.
func extractExported(metadata string) (bool, string) {
	if metadata == "" {
		return false, ""
	}
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metadata), &parsed); err != nil {
		return false, metadata
	}
	raw, ok := parsed["__exported"]
	if !ok {
		return false, metadata
	}
	var exported bool
	_ = json.Unmarshal(raw, &exported)
	delete(parsed, "__exported")
	if len(parsed) == 0 {
		return exported, ""
	}
	rest, err := json.Marshal(parsed)
	if err != nil {
		return exported, metadata
	}
	return exported, string(rest)
}

// injectExported tunnels the legacy exported bit into metadata JSON.
func injectExported(metadata string, exported bool) string {
	if !exported {
		return metadata
	}
	if metadata == "" {
		return `{"__exported":true}`
	}
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metadata), &parsed); err != nil {
		return metadata
	}
	parsed["__exported"] = json.RawMessage("true")
	out, err := json.Marshal(parsed)
	if err != nil {
		return metadata
	}
	return string(out)
}

func nodeToCore(v1 *NodeRecord) storage.NodeRecord {
	nodeType := strOr(v1.NodeType, "UNKNOWN")
	name := strOr(v1.Name, "")
	file := strOr(v1.File, "")
	metadata := injectExported(strOr(v1.Metadata, ""), v1.Exported)

	semanticID := strOr(v1.SemanticID, "")
	if semanticID == "" {
		semanticID = SemanticID(nodeType, name, file)
	}
	id := v1.Id
	if id.IsZero() {
		id = ComputeNodeID(semanticID)
	}
	return storage.NodeRecord{
		SemanticID: semanticID,
		Id:         id,
		NodeType:   nodeType,
		Name:       name,
		File:       file,
		Metadata:   metadata,
	}
}

func nodeFromCore(v2 *storage.NodeRecord) NodeRecord {
	exported, cleanMetadata := extractExported(v2.Metadata)
	out := NodeRecord{
		Id:         v2.Id,
		NodeType:   strPtr(v2.NodeType),
		Name:       strPtr(v2.Name),
		File:       strPtr(v2.File),
		Exported:   exported,
		SemanticID: strPtr(v2.SemanticID),
	}
	if cleanMetadata != "" {
		out.Metadata = strPtr(cleanMetadata)
	}
	return out
}

func edgeToCore(v1 *EdgeRecord) storage.EdgeRecord {
	return storage.EdgeRecord{
		Src:      v1.Src,
		Dst:      v1.Dst,
		EdgeType: strOr(v1.EdgeType, "UNKNOWN"),
		Metadata: strOr(v1.Metadata, ""),
	}
}

func edgeFromCore(v2 *storage.EdgeRecord) EdgeRecord {
	out := EdgeRecord{
		Src:      v2.Src,
		Dst:      v2.Dst,
		EdgeType: strPtr(v2.EdgeType),
	}
	if v2.Metadata != "" {
		out.Metadata = strPtr(v2.Metadata)
	}
	return out
}

// -- tombstone helpers -------------------------------------------------------

func (e *Engine) isNodeTombstoned(id storage.NodeID) bool {
	_, ok := e.pendingTombstoneNodes[id]
	return ok
}

func (e *Engine) isEdgeTombstoned(src, dst storage.NodeID, edgeType string) bool {
	_, ok := e.pendingTombstoneEdges[storage.EdgeKey{Src: src, Dst: dst, Type: edgeType}]
	return ok
}

func (e *Engine) filterEdges(edges []storage.EdgeRecord) []storage.EdgeRecord {
	out := edges[:0]
	for i := range edges {
		if e.isEdgeTombstoned(edges[i].Src, edges[i].Dst, edges[i].EdgeType) {
			continue
		}
		out = append(out, edges[i])
	}
	return out
}

// -- write path --------------------------------------------------------------

// AddNodes upserts legacy records. Re-adding a pending-tombstoned id
// resurrects it ("delete then add = updated record"). Triggers
// auto-flush afterwards.
func (e *Engine) AddNodes(nodes []NodeRecord) error {
	if e.store.TotalWriteBufferNodes()+len(nodes) > storage.Settings.DeltaLogLimit {
		return &storage.GraphError{Kind: storage.ErrDeltaLogOverflow,
			Msg: "write buffer exceeded the delta log cap"}
	}
	coreNodes := make([]storage.NodeRecord, 0, len(nodes))
	for i := range nodes {
		core := nodeToCore(&nodes[i])
		delete(e.pendingTombstoneNodes, core.Id)
		e.fieldIndex.IndexNode(&core)
		coreNodes = append(coreNodes, core)
	}
	e.store.AddNodes(coreNodes)
	e.maybeAutoFlush()
	return nil
}

// AddEdges upserts legacy edges, routing each to its source's shard.
// With skipValidation, edges whose source node is unknown are logged
// and dropped instead of failing the batch.
func (e *Engine) AddEdges(edges []EdgeRecord, skipValidation bool) error {
	coreEdges := make([]storage.EdgeRecord, 0, len(edges))
	for i := range edges {
		core := edgeToCore(&edges[i])
		delete(e.pendingTombstoneEdges, core.Key())
		coreEdges = append(coreEdges, core)
	}
	err := e.store.AddEdges(coreEdges)
	if err != nil && skipValidation {
		// retry edge by edge, dropping the invalid ones
		for i := range coreEdges {
			if addErr := e.store.AddEdges(coreEdges[i : i+1]); addErr != nil {
				e.log.Warnw("dropping edge with unknown source", "error", addErr)
			}
		}
		return nil
	}
	return err
}

// DeleteNode tombstones a node and every edge touching it. Visible to
// queries immediately, durable after the next flush or commit.
func (e *Engine) DeleteNode(id storage.NodeID) {
	e.pendingTombstoneNodes[id] = struct{}{}
	for _, edge := range e.store.GetOutgoingEdges(id, nil) {
		e.pendingTombstoneEdges[edge.Key()] = struct{}{}
	}
	for _, edge := range e.store.GetIncomingEdges(id, nil) {
		e.pendingTombstoneEdges[edge.Key()] = struct{}{}
	}
}

// DeleteEdge tombstones one edge key.
func (e *Engine) DeleteEdge(src, dst storage.NodeID, edgeType string) {
	e.pendingTombstoneEdges[storage.EdgeKey{Src: src, Dst: dst, Type: edgeType}] = struct{}{}
}

// -- read path ---------------------------------------------------------------

// GetNode returns the legacy view of a node, nil when absent or
// tombstoned.
func (e *Engine) GetNode(id storage.NodeID) *NodeRecord {
	if e.isNodeTombstoned(id) {
		return nil
	}
	core, ok := e.store.GetNode(id)
	if !ok {
		return nil
	}
	out := nodeFromCore(&core)
	return &out
}

// NodeExists reports whether the node is live.
func (e *Engine) NodeExists(id storage.NodeID) bool {
	if e.isNodeTombstoned(id) {
		return false
	}
	return e.store.NodeExists(id)
}

// GetNodeIdentifier rebuilds the "<type>:<name>@<file>" identity.
func (e *Engine) GetNodeIdentifier(id storage.NodeID) (string, bool) {
	node := e.GetNode(id)
	if node == nil {
		return "", false
	}
	return SemanticID(strOr(node.NodeType, "UNKNOWN"), strOr(node.Name, ""), strOr(node.File, "")), true
}

// FindByType returns the ids of all live nodes with the given type.
// A trailing "*" matches by prefix: "http:*".
func (e *Engine) FindByType(nodeType string) []storage.NodeID {
	var records []storage.NodeRecord
	if strings.HasSuffix(nodeType, "*") {
		records = e.store.FindNodesByTypePrefix(strings.TrimSuffix(nodeType, "*"))
	} else {
		records = e.store.FindNodes(&nodeType, nil)
	}
	ids := make([]storage.NodeID, 0, len(records))
	for i := range records {
		if e.isNodeTombstoned(records[i].Id) {
			continue
		}
		ids = append(ids, records[i].Id)
	}
	return ids
}

// FindByAttr evaluates an attribute query with AND semantics. The
// legacy version filter is ignored. Declared metadata fields answer
// through the in-memory index first; everything else falls back to a
// scan with JSON matching.
func (e *Engine) FindByAttr(query *AttrQuery) []storage.NodeID {
	var candidates []storage.NodeRecord
	switch {
	case query.NodeType != nil && strings.HasSuffix(*query.NodeType, "*"):
		candidates = e.store.FindNodesByTypePrefix(strings.TrimSuffix(*query.NodeType, "*"))
	case query.NodeType != nil:
		candidates = e.store.FindNodes(query.NodeType, query.File)
	case query.File != nil:
		candidates = e.store.FindNodes(nil, query.File)
	case len(query.MetadataFilters) > 0 && e.fieldIndex.Declared(query.MetadataFilters[0].Key):
		// indexed prefilter: candidate ids from the first declared
		// filter, verified below
		for _, id := range e.fieldIndex.Lookup(query.MetadataFilters[0].Key, query.MetadataFilters[0].Value) {
			if record, ok := e.store.GetNode(id); ok {
				candidates = append(candidates, record)
			}
		}
	default:
		candidates = e.store.FindNodes(nil, nil)
	}

	var ids []storage.NodeID
	for i := range candidates {
		record := &candidates[i]
		if e.isNodeTombstoned(record.Id) {
			continue
		}
		if query.File != nil && record.File != *query.File {
			continue
		}
		exported, cleanMetadata := extractExported(record.Metadata)
		if query.Name != nil && record.Name != *query.Name {
			continue
		}
		if query.Exported != nil && exported != *query.Exported {
			continue
		}
		if len(query.MetadataFilters) > 0 && !metadataMatches(cleanMetadata, query.MetadataFilters) {
			continue
		}
		ids = append(ids, record.Id)
	}
	return ids
}

func metadataMatches(metadata string, filters []MetadataFilter) bool {
	if metadata == "" {
		return false
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(metadata), &parsed); err != nil {
		return false
	}
	for _, f := range filters {
		raw, ok := parsed[f.Key]
		if !ok {
			return false
		}
		if jsonScalarString(raw) != f.Value {
			return false
		}
	}
	return true
}

// Neighbors returns the destination ids of live outgoing edges.
func (e *Engine) Neighbors(id storage.NodeID, edgeTypes []string) []storage.NodeID {
	edges := e.filterEdges(e.store.GetOutgoingEdges(id, edgeTypes))
	out := make([]storage.NodeID, 0, len(edges))
	for i := range edges {
		if e.isNodeTombstoned(edges[i].Dst) {
			continue
		}
		out = append(out, edges[i].Dst)
	}
	return out
}

// reverseNeighbors returns the source ids of live incoming edges.
func (e *Engine) reverseNeighbors(id storage.NodeID, edgeTypes []string) []storage.NodeID {
	edges := e.filterEdges(e.store.GetIncomingEdges(id, edgeTypes))
	out := make([]storage.NodeID, 0, len(edges))
	for i := range edges {
		if e.isNodeTombstoned(edges[i].Src) {
			continue
		}
		out = append(out, edges[i].Src)
	}
	return out
}

// GetOutgoingEdges returns the legacy view of live outgoing edges.
func (e *Engine) GetOutgoingEdges(id storage.NodeID, edgeTypes []string) []EdgeRecord {
	edges := e.filterEdges(e.store.GetOutgoingEdges(id, edgeTypes))
	out := make([]EdgeRecord, 0, len(edges))
	for i := range edges {
		out = append(out, edgeFromCore(&edges[i]))
	}
	return out
}

// GetIncomingEdges returns the legacy view of live incoming edges.
func (e *Engine) GetIncomingEdges(id storage.NodeID, edgeTypes []string) []EdgeRecord {
	edges := e.filterEdges(e.store.GetIncomingEdges(id, edgeTypes))
	out := make([]EdgeRecord, 0, len(edges))
	for i := range edges {
		out = append(out, edgeFromCore(&edges[i]))
	}
	return out
}

// GetAllEdges returns every live edge once.
func (e *Engine) GetAllEdges() []EdgeRecord {
	edges := e.filterEdges(e.store.AllEdges(nil))
	out := make([]EdgeRecord, 0, len(edges))
	for i := range edges {
		if e.isNodeTombstoned(edges[i].Src) || e.isNodeTombstoned(edges[i].Dst) {
			continue
		}
		out = append(out, edgeFromCore(&edges[i]))
	}
	return out
}

// BFS walks outgoing edges breadth-first from the start set.
func (e *Engine) BFS(start []storage.NodeID, maxDepth int, edgeTypes []string) []storage.NodeID {
	return BFS(start, maxDepth, func(id storage.NodeID) []storage.NodeID {
		return e.Neighbors(id, edgeTypes)
	})
}

// Reachability walks forward or backward, honoring buffered edits and
// tombstones via the engine's own neighbor helpers.
func (e *Engine) Reachability(start []storage.NodeID, maxDepth int, edgeTypes []string, backward bool) []storage.NodeID {
	if backward {
		return BFS(start, maxDepth, func(id storage.NodeID) []storage.NodeID {
			return e.reverseNeighbors(id, edgeTypes)
		})
	}
	return BFS(start, maxDepth, func(id storage.NodeID) []storage.NodeID {
		return e.Neighbors(id, edgeTypes)
	})
}

// CountNodesByType groups live node counts by type; the filter list
// supports trailing wildcards.
func (e *Engine) CountNodesByType(types []string) map[string]int {
	counts := make(map[string]int)
	if len(types) == 0 {
		for _, record := range e.store.FindNodes(nil, nil) {
			if e.isNodeTombstoned(record.Id) {
				continue
			}
			counts[record.NodeType]++
		}
		return counts
	}
	for _, t := range types {
		if strings.HasSuffix(t, "*") {
			for _, record := range e.store.FindNodesByTypePrefix(strings.TrimSuffix(t, "*")) {
				if e.isNodeTombstoned(record.Id) {
					continue
				}
				counts[record.NodeType]++
			}
			continue
		}
		tt := t
		n := 0
		for _, record := range e.store.FindNodes(&tt, nil) {
			if e.isNodeTombstoned(record.Id) {
				continue
			}
			n++
		}
		if n > 0 {
			counts[t] = n
		}
	}
	return counts
}

// CountEdgesByType groups live edge counts by type; the filter list
// supports trailing wildcards.
func (e *Engine) CountEdgesByType(types []string) map[string]int {
	counts := make(map[string]int)
	for _, edge := range e.GetAllEdges() {
		et := strOr(edge.EdgeType, "UNKNOWN")
		if len(types) == 0 {
			counts[et]++
			continue
		}
		for _, f := range types {
			if f == et || (strings.HasSuffix(f, "*") && strings.HasPrefix(et, strings.TrimSuffix(f, "*"))) {
				counts[et]++
				break
			}
		}
	}
	return counts
}

// NodeCount returns the stored node record count minus the pending
// tombstones; an id stored in several segments counts once per copy.
func (e *Engine) NodeCount() int {
	total := e.store.NodeCount() - len(e.pendingTombstoneNodes)
	if total < 0 {
		return 0
	}
	return total
}

// EdgeCount returns the live edge count.
func (e *Engine) EdgeCount() int {
	total := e.store.EdgeCount() - len(e.pendingTombstoneEdges)
	if total < 0 {
		return 0
	}
	return total
}

// -- persistence -------------------------------------------------------------

// Flush pushes pending tombstones into the shards and drains every
// write buffer into L0 segments behind one manifest commit.
func (e *Engine) Flush() error {
	if len(e.pendingTombstoneNodes) > 0 || len(e.pendingTombstoneEdges) > 0 {
		nodeIds := make([]storage.NodeID, 0, len(e.pendingTombstoneNodes))
		for id := range e.pendingTombstoneNodes {
			nodeIds = append(nodeIds, id)
		}
		edgeKeys := make([]storage.EdgeKey, 0, len(e.pendingTombstoneEdges))
		for k := range e.pendingTombstoneEdges {
			edgeKeys = append(edgeKeys, k)
		}
		e.store.AddTombstones(nodeIds, edgeKeys)
	}
	_, err := e.store.FlushAll(e.manifest)
	return err
}

// Compact merges L0 segments into sorted L1 segments per shard, using
// the cached tuning profile's threshold.
func (e *Engine) Compact() error {
	config := storage.DefaultCompactionConfig()
	if e.cachedProfile.SegmentThreshold > 0 {
		config.SegmentThreshold = e.cachedProfile.SegmentThreshold
	}
	_, err := e.store.Compact(e.manifest, config)
	return err
}

// Clear resets the engine to an empty ephemeral state.
func (e *Engine) Clear() {
	e.store = storage.EphemeralMultiShardStore(defaultShardCount)
	e.manifest = storage.EphemeralManifestStore()
	e.ephemeral = true
	e.path = ""
	e.pendingTombstoneNodes = make(map[storage.NodeID]struct{})
	e.pendingTombstoneEdges = make(map[storage.EdgeKey]struct{})
	e.fieldIndex.Clear()
}

// DeclareFields replaces the declared metadata index fields.
func (e *Engine) DeclareFields(fields []FieldDecl) {
	e.fieldIndex.Declare(fields)
	records := e.store.FindNodes(nil, nil)
	for i := range records {
		e.fieldIndex.IndexNode(&records[i])
	}
}

// DeclaredFields returns the current declarations.
func (e *Engine) DeclaredFields() []FieldDecl {
	return e.fieldIndex.DeclaredFields()
}

// maybeAutoFlush flushes when a shard's buffer exceeds the adaptive
// limits, or when memory pressure is above 0.8 and at least 1000 nodes
// are buffered. The tuning profile is re-probed at most once per
// second; between probes a staleness of up to 1 s is acceptable.
// Errors are logged and swallowed: the write path must not fail on a
// background persistence problem, the next explicit flush surfaces it.
func (e *Engine) maybeAutoFlush() {
	if time.Since(e.lastResourceCheck) > time.Second {
		e.cachedProfile = storage.AutoTune()
		e.lastResourceCheck = time.Now()
	}
	exceedsLimits := e.store.AnyShardNeedsFlush(
		e.cachedProfile.WriteBufferNodeLimit,
		e.cachedProfile.WriteBufferByteLimit)
	pressureFlush := e.cachedProfile.MemoryPressure > 0.8 &&
		e.store.TotalWriteBufferNodes() >= 1000
	if exceedsLimits || pressureFlush {
		if err := e.Flush(); err != nil {
			e.log.Warnw("auto-flush failed", "error", err)
		}
	}
}

// -- v2-native batch + snapshot API ------------------------------------------

// CommitBatch atomically replaces the content of the changed files
// (see storage.MultiShardStore.CommitBatch) and reloads the tombstone
// union so in-session counting stays correct.
func (e *Engine) CommitBatch(nodes []storage.NodeRecord, edges []storage.EdgeRecord, changedFiles []string, tags map[string]string) (*storage.CommitDelta, error) {
	delta, err := e.store.CommitBatch(nodes, edges, changedFiles, tags, e.manifest)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		e.fieldIndex.IndexNode(&nodes[i])
	}
	current := e.manifest.Current()
	e.pendingTombstoneNodes = make(map[storage.NodeID]struct{}, len(current.TombstonedNodeIds))
	for _, id := range current.TombstonedNodeIds {
		e.pendingTombstoneNodes[id] = struct{}{}
	}
	e.pendingTombstoneEdges = make(map[storage.EdgeKey]struct{})
	for _, k := range current.TombstoneEdgeKeys() {
		e.pendingTombstoneEdges[k] = struct{}{}
	}
	return delta, nil
}

// TagSnapshot attaches tags to a committed version.
func (e *Engine) TagSnapshot(version uint64, tags map[string]string) error {
	return e.manifest.TagSnapshot(version, tags)
}

// FindSnapshot scans history newest-first for a tag match.
func (e *Engine) FindSnapshot(key, value string) (uint64, bool) {
	return e.manifest.FindSnapshot(key, value)
}

// ListSnapshots lists versions, optionally filtered by tag key.
func (e *Engine) ListSnapshots(filterTag string) []storage.SnapshotInfo {
	return e.manifest.ListSnapshots(filterTag)
}

// DiffSnapshots diffs two versions' segment and tombstone sets.
func (e *Engine) DiffSnapshots(from, to uint64) (*storage.SnapshotDiff, error) {
	return e.manifest.DiffSnapshots(from, to)
}

// ExportDump writes the live graph as a JSONL dump (.lz4/.xz by
// extension).
func (e *Engine) ExportDump(path string) error {
	return storage.ExportDump(e.store, path)
}

// ArchiveSnapshot dumps the live graph and ships it to an archive
// backend under <dbName>/<tag>.jsonl.lz4.
func (e *Engine) ArchiveSnapshot(ctx context.Context, archive storage.ArchiveStore, dbName, tag string) error {
	return storage.ArchiveSnapshot(ctx, e.store, archive, dbName, tag)
}

// ManifestVersion returns the committed version.
func (e *Engine) ManifestVersion() uint64 {
	return e.manifest.Current().Version
}

// ShardStats exposes the per-shard monitoring view.
func (e *Engine) ShardStats() []storage.ShardStats {
	return e.store.ShardStats()
}

// -- endpoint classification -------------------------------------------------

// IsEndpoint reports whether the node terminates a path: a database
// query, HTTP endpoint, external call, filesystem operation, side
// effect, or an exported function (the exported check reads the
// tunneled metadata bit).
func (e *Engine) IsEndpoint(id storage.NodeID) bool {
	if e.isNodeTombstoned(id) {
		return false
	}
	core, ok := e.store.GetNode(id)
	if !ok {
		return false
	}
	switch core.NodeType {
	case "db:query", "http:request", "http:endpoint", "EXTERNAL", "fs:operation", "SIDE_EFFECT":
		return true
	}
	if core.NodeType == "FUNCTION" && core.Metadata != "" {
		exported, _ := extractExported(core.Metadata)
		if exported {
			return true
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(core.Metadata), &parsed); err == nil {
			if v, ok := parsed["exported"].(bool); ok && v {
				return true
			}
		}
	}
	return false
}
