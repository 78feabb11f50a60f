package graph

import (
	"fmt"
	"testing"

	"github.com/launix-de/rfdb/storage"
)

// --- Test helpers ---

func legacyNode(nodeType, name, file string) NodeRecord {
	semantic := SemanticID(nodeType, name, file)
	return NodeRecord{
		Id:         ComputeNodeID(semantic),
		NodeType:   strPtr(nodeType),
		Name:       strPtr(name),
		File:       strPtr(file),
		SemanticID: strPtr(semantic),
	}
}

func legacyEdge(src, dst storage.NodeID, edgeType string) EdgeRecord {
	return EdgeRecord{Src: src, Dst: dst, EdgeType: strPtr(edgeType)}
}

func coreNode(nodeType, name, file string) storage.NodeRecord {
	semantic := SemanticID(nodeType, name, file)
	return storage.NodeRecord{
		SemanticID: semantic,
		Id:         storage.NewNodeID(semantic),
		NodeType:   nodeType,
		Name:       name,
		File:       file,
	}
}

func mustAddNodes(t *testing.T, e *Engine, nodes ...NodeRecord) {
	t.Helper()
	if err := e.AddNodes(nodes); err != nil {
		t.Fatal(err)
	}
}

func mustAddEdges(t *testing.T, e *Engine, edges ...EdgeRecord) {
	t.Helper()
	if err := e.AddEdges(edges, false); err != nil {
		t.Fatal(err)
	}
}

// --- Basic write/read ---

func TestEngineAddAndGet(t *testing.T) {
	e := EphemeralEngine()
	n := legacyNode("FUNCTION", "main", "src/a.js")
	mustAddNodes(t, e, n)

	if e.NodeCount() != 1 {
		t.Fatalf("node count %d, want 1", e.NodeCount())
	}
	if ids := e.FindByType("FUNCTION"); len(ids) != 1 {
		t.Fatalf("FindByType found %d, want 1", len(ids))
	}
	wantID := storage.NewNodeID("FUNCTION:main@src/a.js")
	got := e.GetNode(wantID)
	if got == nil {
		t.Fatal("node not found by derived id")
	}
	if *got.Name != "main" || *got.File != "src/a.js" {
		t.Fatalf("wrong record: %+v", got)
	}
}

func TestEngineWildcardFindByType(t *testing.T) {
	e := EphemeralEngine()
	var nodes []NodeRecord
	for i := 0; i < 4; i++ {
		nodes = append(nodes, legacyNode("http:request", fmt.Sprintf("r%d", i), "a.js"))
	}
	for i := 0; i < 3; i++ {
		nodes = append(nodes, legacyNode("http:response", fmt.Sprintf("s%d", i), "a.js"))
	}
	for i := 0; i < 3; i++ {
		nodes = append(nodes, legacyNode("db:query", fmt.Sprintf("q%d", i), "a.js"))
	}
	mustAddNodes(t, e, nodes...)

	if ids := e.FindByType("http:*"); len(ids) != 7 {
		t.Fatalf("http:* found %d, want 7", len(ids))
	}
	if ids := e.FindByType("db:*"); len(ids) != 3 {
		t.Fatalf("db:* found %d, want 3", len(ids))
	}
}

// --- Delete semantics ---

func TestEngineDeleteThenReAdd(t *testing.T) {
	e := EphemeralEngine()
	n := legacyNode("FUNCTION", "f", "x.js")
	mustAddNodes(t, e, n)

	e.DeleteNode(n.Id)
	if e.GetNode(n.Id) != nil {
		t.Fatal("deleted node visible")
	}
	if e.NodeExists(n.Id) {
		t.Fatal("deleted node exists")
	}

	// re-add resurrects
	updated := n
	updated.Metadata = strPtr(`{"v":2}`)
	mustAddNodes(t, e, updated)
	got := e.GetNode(n.Id)
	if got == nil {
		t.Fatal("re-added node invisible")
	}
	if got.Metadata == nil || *got.Metadata != `{"v":2}` {
		t.Fatalf("expected the re-added version, got %+v", got)
	}
}

func TestEngineDeleteNodeCascadesEdges(t *testing.T) {
	e := EphemeralEngine()
	a := legacyNode("FUNCTION", "a", "x.js")
	b := legacyNode("FUNCTION", "b", "x.js")
	mustAddNodes(t, e, a, b)
	mustAddEdges(t, e, legacyEdge(a.Id, b.Id, "CALLS"))

	e.DeleteNode(b.Id)
	if edges := e.GetOutgoingEdges(a.Id, nil); len(edges) != 0 {
		t.Fatal("edge into deleted node survived")
	}
}

// --- Exported bit tunneling ---

func TestEngineExportedRoundtrip(t *testing.T) {
	e := EphemeralEngine()
	n := legacyNode("FUNCTION", "f", "x.js")
	n.Exported = true
	n.Metadata = strPtr(`{"line":3}`)
	mustAddNodes(t, e, n)

	got := e.GetNode(n.Id)
	if got == nil {
		t.Fatal("node missing")
	}
	if !got.Exported {
		t.Fatal("exported bit lost")
	}
	if got.Metadata == nil || *got.Metadata != `{"line":3}` {
		t.Fatalf("__exported key leaked into metadata: %v", got.Metadata)
	}

	exported := true
	ids := e.FindByAttr(&AttrQuery{Exported: &exported})
	if len(ids) != 1 || ids[0] != n.Id {
		t.Fatalf("FindByAttr exported = %v", ids)
	}
}

// --- Attribute queries ---

func TestEngineFindByAttr(t *testing.T) {
	e := EphemeralEngine()
	a := legacyNode("FUNCTION", "handler", "src/http.js")
	a.Metadata = strPtr(`{"method":"GET"}`)
	b := legacyNode("FUNCTION", "other", "src/http.js")
	c := legacyNode("CLASS", "handler", "src/http.js")
	mustAddNodes(t, e, a, b, c)

	ft := "FUNCTION"
	name := "handler"
	ids := e.FindByAttr(&AttrQuery{NodeType: &ft, Name: &name})
	if len(ids) != 1 || ids[0] != a.Id {
		t.Fatalf("type+name query = %v", ids)
	}

	ids = e.FindByAttr(&AttrQuery{MetadataFilters: []MetadataFilter{{Key: "method", Value: "GET"}}})
	if len(ids) != 1 || ids[0] != a.Id {
		t.Fatalf("metadata query = %v", ids)
	}

	// the deprecated version field is ignored, not an error
	v := "main"
	ids = e.FindByAttr(&AttrQuery{NodeType: &ft, Version: &v})
	if len(ids) != 2 {
		t.Fatalf("version filter should be ignored, got %v", ids)
	}
}

func TestEngineFindByAttrDeclaredField(t *testing.T) {
	e := EphemeralEngine()
	e.DeclareFields([]FieldDecl{{Name: "method"}})
	a := legacyNode("CALL", "fetch", "x.js")
	a.Metadata = strPtr(`{"method":"GET"}`)
	b := legacyNode("CALL", "save", "x.js")
	b.Metadata = strPtr(`{"method":"POST"}`)
	mustAddNodes(t, e, a, b)

	ids := e.FindByAttr(&AttrQuery{MetadataFilters: []MetadataFilter{{Key: "method", Value: "POST"}}})
	if len(ids) != 1 || ids[0] != b.Id {
		t.Fatalf("indexed metadata query = %v", ids)
	}
}

// --- Traversal ---

func TestEngineBFSChain(t *testing.T) {
	e := EphemeralEngine()
	var nodes []NodeRecord
	for i := 60; i <= 64; i++ {
		nodes = append(nodes, legacyNode("FUNCTION", fmt.Sprintf("n%d", i), "chain.js"))
	}
	mustAddNodes(t, e, nodes...)
	for i := 0; i < 4; i++ {
		mustAddEdges(t, e, legacyEdge(nodes[i].Id, nodes[i+1].Id, "CALLS"))
	}

	result := e.BFS([]storage.NodeID{nodes[0].Id}, 2, []string{"CALLS"})
	if len(result) != 3 {
		t.Fatalf("bfs depth 2 found %d nodes, want 3", len(result))
	}
	want := map[storage.NodeID]bool{nodes[0].Id: true, nodes[1].Id: true, nodes[2].Id: true}
	for _, id := range result {
		if !want[id] {
			t.Fatalf("unexpected node in bfs result: %v", id)
		}
	}
}

func TestEngineReachabilityBackward(t *testing.T) {
	e := EphemeralEngine()
	a := legacyNode("FUNCTION", "a", "x.js")
	b := legacyNode("FUNCTION", "b", "x.js")
	c := legacyNode("FUNCTION", "c", "x.js")
	mustAddNodes(t, e, a, b, c)
	mustAddEdges(t, e, legacyEdge(a.Id, b.Id, "CALLS"), legacyEdge(b.Id, c.Id, "CALLS"))

	result := e.Reachability([]storage.NodeID{c.Id}, 2, []string{"CALLS"}, true)
	if len(result) != 3 {
		t.Fatalf("backward reachability found %d, want 3", len(result))
	}
}

// --- Counting ---

func TestEngineCounts(t *testing.T) {
	e := EphemeralEngine()
	a := legacyNode("FUNCTION", "a", "x.js")
	b := legacyNode("FUNCTION", "b", "x.js")
	c := legacyNode("CLASS", "C", "x.js")
	mustAddNodes(t, e, a, b, c)
	mustAddEdges(t, e,
		legacyEdge(a.Id, b.Id, "CALLS"),
		legacyEdge(a.Id, c.Id, "CONTAINS"))

	counts := e.CountNodesByType(nil)
	if counts["FUNCTION"] != 2 || counts["CLASS"] != 1 {
		t.Fatalf("node counts = %v", counts)
	}
	counts = e.CountNodesByType([]string{"FUNCTION"})
	if len(counts) != 1 || counts["FUNCTION"] != 2 {
		t.Fatalf("filtered node counts = %v", counts)
	}
	edgeCounts := e.CountEdgesByType(nil)
	if edgeCounts["CALLS"] != 1 || edgeCounts["CONTAINS"] != 1 {
		t.Fatalf("edge counts = %v", edgeCounts)
	}
	if e.EdgeCount() != 2 {
		t.Fatalf("edge count %d, want 2", e.EdgeCount())
	}
}

// --- Persistence ---

func TestEngineFlushReopenSurvival(t *testing.T) {
	dir := t.TempDir() + "/db.rfdb"
	e, err := CreateEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	flushed := legacyNode("FUNCTION", "persisted", "x.js")
	mustAddNodes(t, e, flushed)
	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}
	unflushed := legacyNode("FUNCTION", "volatile", "x.js")
	mustAddNodes(t, e, unflushed)

	reopened, err := OpenEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.NodeCount() != 1 {
		t.Fatalf("node count after reopen %d, want 1 (only the flushed node)", reopened.NodeCount())
	}
	if reopened.GetNode(flushed.Id) == nil {
		t.Fatal("flushed node lost")
	}
	if reopened.GetNode(unflushed.Id) != nil {
		t.Fatal("unflushed node survived without a flush")
	}
}

func TestEngineTombstoneSurvivesRestart(t *testing.T) {
	dir := t.TempDir() + "/db.rfdb"
	e, err := CreateEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	n1 := coreNode("FUNCTION", "n1", "f.js")
	n2 := coreNode("FUNCTION", "n2", "f.js")
	if _, err := e.CommitBatch([]storage.NodeRecord{n1, n2}, nil, []string{"f.js"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CommitBatch([]storage.NodeRecord{n1}, nil, []string{"f.js"}, nil); err != nil {
		t.Fatal(err)
	}
	if e.GetNode(n2.Id) != nil {
		t.Fatal("removed node visible before restart")
	}

	reopened, err := OpenEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.GetNode(n2.Id) != nil {
		t.Fatal("removed node visible after restart")
	}
	if reopened.GetNode(n1.Id) == nil {
		t.Fatal("kept node lost after restart")
	}
}

// --- Snapshots ---

func TestEngineSnapshotOps(t *testing.T) {
	e := EphemeralEngine()
	n := coreNode("FUNCTION", "a", "x.js")
	delta, err := e.CommitBatch([]storage.NodeRecord{n}, nil, []string{"x.js"},
		map[string]string{"commit": "deadbeef"})
	if err != nil {
		t.Fatal(err)
	}
	version, found := e.FindSnapshot("commit", "deadbeef")
	if !found || version != delta.ManifestVersion {
		t.Fatalf("FindSnapshot = %d, %v", version, found)
	}
	if snapshots := e.ListSnapshots("commit"); len(snapshots) != 1 {
		t.Fatalf("ListSnapshots = %d entries", len(snapshots))
	}
	diff, err := e.DiffSnapshots(1, delta.ManifestVersion)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.SegmentsAdded) == 0 {
		t.Fatal("diff shows no added segments")
	}
}

// --- Endpoint classification ---

func TestEngineIsEndpoint(t *testing.T) {
	e := EphemeralEngine()
	q := legacyNode("db:query", "q", "x.js")
	fn := legacyNode("FUNCTION", "f", "x.js")
	exported := legacyNode("FUNCTION", "g", "x.js")
	exported.Exported = true
	mustAddNodes(t, e, q, fn, exported)

	if !e.IsEndpoint(q.Id) {
		t.Fatal("db:query must be an endpoint")
	}
	if e.IsEndpoint(fn.Id) {
		t.Fatal("plain function is not an endpoint")
	}
	if !e.IsEndpoint(exported.Id) {
		t.Fatal("exported function must be an endpoint")
	}
}

// --- Equivalence: ephemeral vs disk ---

func TestEngineEphemeralDiskEquivalence(t *testing.T) {
	mem := EphemeralEngine()
	dir := t.TempDir() + "/db.rfdb"
	disk, err := CreateEngine(dir)
	if err != nil {
		t.Fatal(err)
	}

	var nodes []NodeRecord
	for i := 0; i < 30; i++ {
		nodes = append(nodes, legacyNode("FUNCTION", fmt.Sprintf("f%d", i), fmt.Sprintf("d%d/f.js", i%4)))
	}
	var edges []EdgeRecord
	for i := 1; i < 30; i++ {
		edges = append(edges, legacyEdge(nodes[i-1].Id, nodes[i].Id, "CALLS"))
	}
	for _, e := range []*Engine{mem, disk} {
		mustAddNodes(t, e, nodes...)
		mustAddEdges(t, e, edges...)
	}
	if err := disk.Flush(); err != nil {
		t.Fatal(err)
	}

	assertSameIDs := func(what string, a, b []storage.NodeID) {
		t.Helper()
		if len(a) != len(b) {
			t.Fatalf("%s: %d vs %d results", what, len(a), len(b))
		}
		set := make(map[storage.NodeID]bool, len(a))
		for _, id := range a {
			set[id] = true
		}
		for _, id := range b {
			if !set[id] {
				t.Fatalf("%s: result sets differ", what)
			}
		}
	}

	assertSameIDs("find_by_type", mem.FindByType("FUNCTION"), disk.FindByType("FUNCTION"))
	assertSameIDs("bfs", mem.BFS([]storage.NodeID{nodes[0].Id}, 5, []string{"CALLS"}),
		disk.BFS([]storage.NodeID{nodes[0].Id}, 5, []string{"CALLS"}))
	assertSameIDs("neighbors", mem.Neighbors(nodes[3].Id, nil), disk.Neighbors(nodes[3].Id, nil))
	if len(mem.GetOutgoingEdges(nodes[5].Id, nil)) != len(disk.GetOutgoingEdges(nodes[5].Id, nil)) {
		t.Fatal("outgoing edges differ")
	}
	if len(mem.GetIncomingEdges(nodes[5].Id, nil)) != len(disk.GetIncomingEdges(nodes[5].Id, nil)) {
		t.Fatal("incoming edges differ")
	}
}
