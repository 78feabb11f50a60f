package graph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/launix-de/rfdb/storage"
)

// Large-scale smoke test: write, flush, reopen, point lookups, BFS.
func TestStressWriteReopenQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in short mode")
	}
	const nodeCount = 100000
	const edgeCount = 700000

	dir := t.TempDir() + "/stress.rfdb"
	e, err := CreateEngine(dir)
	if err != nil {
		t.Fatal(err)
	}

	ids := make([]storage.NodeID, nodeCount)
	const batchSize = 10000
	for base := 0; base < nodeCount; base += batchSize {
		batch := make([]NodeRecord, 0, batchSize)
		for i := base; i < base+batchSize; i++ {
			n := legacyNode("FUNCTION", fmt.Sprintf("f%d", i), fmt.Sprintf("src/m%d/f.js", i%64))
			ids[i] = n.Id
			batch = append(batch, n)
		}
		if err := e.AddNodes(batch); err != nil {
			t.Fatal(err)
		}
	}

	rng := rand.New(rand.NewSource(7))
	for base := 0; base < edgeCount; base += batchSize {
		batch := make([]EdgeRecord, 0, batchSize)
		for i := base; i < base+batchSize; i++ {
			src := ids[i%nodeCount]
			dst := ids[rng.Intn(nodeCount)]
			batch = append(batch, legacyEdge(src, dst, "CALLS"))
		}
		if err := e.AddEdges(batch, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenEngine(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		id := ids[rng.Intn(nodeCount)]
		if reopened.GetNode(id) == nil {
			t.Fatalf("random point lookup %d failed", i)
		}
	}
	result := reopened.BFS([]storage.NodeID{ids[0]}, 3, []string{"CALLS"})
	if len(result) == 0 {
		t.Fatal("bfs returned nothing")
	}
}
