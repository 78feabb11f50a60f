package storage

import (
	"fmt"
	"testing"
)

// --- Routing ---

func TestMultiShardRoutingInvariant(t *testing.T) {
	store := EphemeralMultiShardStore(8)
	planner := NewShardPlanner(8)

	var nodes []NodeRecord
	for i := 0; i < 40; i++ {
		file := fmt.Sprintf("src/dir%d/f%d.js", i%5, i)
		nodes = append(nodes, makeNode(fmt.Sprintf("F:f%d@%s", i, file), "FUNCTION", fmt.Sprintf("f%d", i), file))
	}
	store.AddNodes(nodes)

	// all nodes of one file land in the file's shard, and the node's
	// outgoing edges land in the same shard
	for _, n := range nodes {
		want := planner.ComputeShardID(n.File)
		if got := store.nodeToShard[n.Id]; got != want {
			t.Fatalf("node %s routed to shard %d, want %d", n.SemanticID, got, want)
		}
	}

	var edges []EdgeRecord
	for i := 1; i < 40; i++ {
		edges = append(edges, EdgeRecord{Src: nodes[i-1].Id, Dst: nodes[i].Id, EdgeType: "CALLS"})
	}
	if err := store.AddEdges(edges); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 40; i++ {
		srcShard := planner.ComputeShardID(nodes[i-1].File)
		found := store.shards[srcShard].GetOutgoingEdges(nodes[i-1].Id, nil)
		if len(found) == 0 {
			t.Fatalf("edge from %s not in its source's shard", nodes[i-1].SemanticID)
		}
	}
}

func TestMultiShardSameDirectorySameShard(t *testing.T) {
	store := EphemeralMultiShardStore(16)
	a := makeNode("F:a@src/utils/a.js", "FUNCTION", "a", "src/utils/a.js")
	b := makeNode("F:b@src/utils/b.js", "FUNCTION", "b", "src/utils/b.js")
	store.AddNodes([]NodeRecord{a, b})
	if store.nodeToShard[a.Id] != store.nodeToShard[b.Id] {
		t.Fatal("same directory must mean same shard")
	}
}

func TestMultiShardAddEdgesSrcNotFound(t *testing.T) {
	store := EphemeralMultiShardStore(4)
	err := store.AddEdges([]EdgeRecord{makeEdge("F:ghost@x.js", "F:ghost2@x.js", "CALLS")})
	if err == nil {
		t.Fatal("expected NodeNotFound")
	}
	if !IsKind(err, ErrNodeNotFound) {
		t.Fatalf("wrong error kind: %v", err)
	}
}

// --- Queries across shards ---

func TestMultiShardGetNodeAndFanOut(t *testing.T) {
	store := EphemeralMultiShardStore(4)
	n := makeNode("F:a@src/x/a.js", "FUNCTION", "a", "src/x/a.js")
	store.AddNodes([]NodeRecord{n})
	if got, ok := store.GetNode(n.Id); !ok || got != n {
		t.Fatalf("GetNode = %+v, %v", got, ok)
	}
	// drop the routing entry to exercise the fan-out fallback
	delete(store.nodeToShard, n.Id)
	if got, ok := store.GetNode(n.Id); !ok || got != n {
		t.Fatalf("fan-out GetNode = %+v, %v", got, ok)
	}
}

func TestMultiShardIncomingFanOut(t *testing.T) {
	store := EphemeralMultiShardStore(8)
	// two sources in (very likely) different shards pointing at one dst
	a := makeNode("F:a@alpha/a.js", "FUNCTION", "a", "alpha/a.js")
	b := makeNode("F:b@beta/b.js", "FUNCTION", "b", "beta/b.js")
	c := makeNode("F:c@gamma/c.js", "FUNCTION", "c", "gamma/c.js")
	store.AddNodes([]NodeRecord{a, b, c})
	if err := store.AddEdges([]EdgeRecord{
		{Src: a.Id, Dst: c.Id, EdgeType: "CALLS"},
		{Src: b.Id, Dst: c.Id, EdgeType: "CALLS"},
	}); err != nil {
		t.Fatal(err)
	}
	if edges := store.GetIncomingEdges(c.Id, nil); len(edges) != 2 {
		t.Fatalf("incoming fan-out found %d edges, want 2", len(edges))
	}
}

func TestMultiShardFindNodesDedup(t *testing.T) {
	store := EphemeralMultiShardStore(4)
	var nodes []NodeRecord
	for i := 0; i < 10; i++ {
		file := fmt.Sprintf("d%d/f.js", i)
		nodes = append(nodes, makeNode(fmt.Sprintf("F:f%d@%s", i, file), "FUNCTION", "f", file))
	}
	store.AddNodes(nodes)
	ft := "FUNCTION"
	if results := store.FindNodes(&ft, nil); len(results) != 10 {
		t.Fatalf("FindNodes = %d results, want 10", len(results))
	}
}

// --- Flush + persistence ---

func TestMultiShardFlushAllCommitsManifest(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateMultiShardStore(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	var nodes []NodeRecord
	for i := 0; i < 20; i++ {
		file := fmt.Sprintf("src/d%d/f.js", i%3)
		nodes = append(nodes, makeNode(fmt.Sprintf("F:f%d@%s", i, file), "FUNCTION", fmt.Sprintf("f%d", i), file))
	}
	store.AddNodes(nodes)
	flushed, err := store.FlushAll(manifest)
	if err != nil {
		t.Fatal(err)
	}
	if flushed == 0 {
		t.Fatal("nothing flushed")
	}
	if manifest.Current().Version != 2 {
		t.Fatalf("manifest version %d, want 2", manifest.Current().Version)
	}
	if len(manifest.Current().NodeSegments) == 0 {
		t.Fatal("no node segment descriptors committed")
	}

	// zero-change flush must not bump the version
	flushed, err = store.FlushAll(manifest)
	if err != nil {
		t.Fatal(err)
	}
	if flushed != 0 || manifest.Current().Version != 2 {
		t.Fatal("empty flush bumped the manifest")
	}
}

func TestMultiShardOpenRebuildsRouting(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateMultiShardStore(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	n := makeNode("F:a@src/a.js", "FUNCTION", "a", "src/a.js")
	e := EdgeRecord{Src: n.Id, Dst: n.Id, EdgeType: "SELF"}
	store.AddNodes([]NodeRecord{n})
	if err := store.AddEdges([]EdgeRecord{e}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.FlushAll(manifest); err != nil {
		t.Fatal(err)
	}

	manifest2, err := OpenManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenMultiShardStore(dir, manifest2)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := reopened.GetNode(n.Id); !ok || got != n {
		t.Fatalf("node lost across reopen: %+v, %v", got, ok)
	}
	if _, ok := reopened.nodeToShard[n.Id]; !ok {
		t.Fatal("node_to_shard not rebuilt")
	}
	// targeted outgoing query must work after reopen
	if edges := reopened.GetOutgoingEdges(n.Id, nil); len(edges) != 1 {
		t.Fatalf("outgoing edges after reopen: %d", len(edges))
	}
}

// --- commit_batch ---

func TestCommitBatchTombstonesRemovedFileNodes(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateMultiShardStore(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	n1 := makeNode("F:n1@f.js", "FUNCTION", "n1", "f.js")
	n2 := makeNode("F:n2@f.js", "FUNCTION", "n2", "f.js")

	// commit A: both nodes
	if _, err := store.CommitBatch([]NodeRecord{n1, n2}, nil, []string{"f.js"}, nil, manifest); err != nil {
		t.Fatal(err)
	}
	// commit B: only n1 survives the re-analysis of f.js
	delta, err := store.CommitBatch([]NodeRecord{n1}, nil, []string{"f.js"}, nil, manifest)
	if err != nil {
		t.Fatal(err)
	}
	if delta.NodesRemoved != 1 {
		t.Fatalf("NodesRemoved = %d, want 1", delta.NodesRemoved)
	}
	if len(delta.RemovedNodeIds) != 1 || delta.RemovedNodeIds[0] != n2.Id {
		t.Fatalf("RemovedNodeIds = %v", delta.RemovedNodeIds)
	}
	if _, ok := store.GetNode(n2.Id); ok {
		t.Fatal("n2 still visible after commit B")
	}
	if _, ok := store.GetNode(n1.Id); !ok {
		t.Fatal("n1 lost")
	}

	// and after a restart
	manifest2, err := OpenManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenMultiShardStore(dir, manifest2)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reopened.GetNode(n2.Id); ok {
		t.Fatal("n2 resurrected after restart")
	}
	if _, ok := reopened.GetNode(n1.Id); !ok {
		t.Fatal("n1 lost after restart")
	}
}

func TestCommitBatchTombstonesEnrichmentContexts(t *testing.T) {
	store := EphemeralMultiShardStore(4)
	manifest := EphemeralManifestStore()

	source := makeNode("F:a@src/f.js", "FUNCTION", "a", "src/f.js")
	ctx := EnrichmentFileContext("data-flow", "src/f.js")
	enriched := makeNode("flow:a@"+ctx, "flow:edge", "a", ctx)
	if _, err := store.CommitBatch([]NodeRecord{source, enriched}, nil,
		[]string{"src/f.js", ctx}, nil, manifest); err != nil {
		t.Fatal(err)
	}

	// re-analysis of src/f.js alone: the enricher has not re-run, so
	// its old output under the enrichment context must be tombstoned
	delta, err := store.CommitBatch([]NodeRecord{source}, nil, []string{"src/f.js"}, nil, manifest)
	if err != nil {
		t.Fatal(err)
	}
	if !containsString(delta.ChangedFiles, ctx) {
		t.Fatalf("enrichment context missing from changed files: %v", delta.ChangedFiles)
	}
	if delta.NodesRemoved != 1 {
		t.Fatalf("NodesRemoved = %d, want the enrichment node", delta.NodesRemoved)
	}
	if _, ok := store.GetNode(enriched.Id); ok {
		t.Fatal("stale enrichment node still visible")
	}
	if _, ok := store.GetNode(source.Id); !ok {
		t.Fatal("source node lost")
	}
}

func TestCommitBatchDelta(t *testing.T) {
	store := EphemeralMultiShardStore(4)
	manifest := EphemeralManifestStore()
	n := makeNode("F:a@f.js", "FUNCTION", "a", "f.js")
	delta, err := store.CommitBatch([]NodeRecord{n}, nil, []string{"f.js"}, map[string]string{"commit": "abc"}, manifest)
	if err != nil {
		t.Fatal(err)
	}
	if delta.NodesAdded != 1 {
		t.Fatalf("NodesAdded = %d", delta.NodesAdded)
	}
	if _, ok := delta.ChangedNodeTypes["FUNCTION"]; !ok {
		t.Fatal("FUNCTION missing from ChangedNodeTypes")
	}
	if delta.ManifestVersion != manifest.Current().Version {
		t.Fatal("delta carries a stale manifest version")
	}
	if manifest.Current().Tags["commit"] != "abc" {
		t.Fatal("tags not attached to the committed version")
	}

	// modified: same id, new content hash
	n2 := n
	n2.ContentHash = 7
	delta, err = store.CommitBatch([]NodeRecord{n2}, nil, []string{"f.js"}, nil, manifest)
	if err != nil {
		t.Fatal(err)
	}
	if delta.NodesModified != 1 || delta.NodesAdded != 0 {
		t.Fatalf("modified delta wrong: %+v", delta)
	}
}
