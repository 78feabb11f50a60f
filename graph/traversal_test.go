package graph

import (
	"testing"

	"github.com/launix-de/rfdb/storage"
)

func TestBFSVisitsByDepth(t *testing.T) {
	// 1 -> 2 -> 3 -> 4, 1 -> 5
	adj := map[storage.NodeID][]storage.NodeID{}
	ids := make([]storage.NodeID, 6)
	for i := 1; i <= 5; i++ {
		ids[i] = storage.NewNodeID(string(rune('a' + i)))
	}
	adj[ids[1]] = []storage.NodeID{ids[2], ids[5]}
	adj[ids[2]] = []storage.NodeID{ids[3]}
	adj[ids[3]] = []storage.NodeID{ids[4]}

	neighbors := func(id storage.NodeID) []storage.NodeID { return adj[id] }

	if got := BFS([]storage.NodeID{ids[1]}, 0, neighbors); len(got) != 1 {
		t.Fatalf("depth 0 = %d nodes, want just the start", len(got))
	}
	if got := BFS([]storage.NodeID{ids[1]}, 1, neighbors); len(got) != 3 {
		t.Fatalf("depth 1 = %d nodes, want 3", len(got))
	}
	if got := BFS([]storage.NodeID{ids[1]}, 3, neighbors); len(got) != 5 {
		t.Fatalf("depth 3 = %d nodes, want 5", len(got))
	}
}

func TestBFSHandlesCycles(t *testing.T) {
	a := storage.NewNodeID("a")
	b := storage.NewNodeID("b")
	adj := map[storage.NodeID][]storage.NodeID{
		a: {b},
		b: {a},
	}
	got := BFS([]storage.NodeID{a}, 10, func(id storage.NodeID) []storage.NodeID { return adj[id] })
	if len(got) != 2 {
		t.Fatalf("cycle walk returned %d nodes, want 2", len(got))
	}
}

func TestBFSMultipleStarts(t *testing.T) {
	a := storage.NewNodeID("a")
	b := storage.NewNodeID("b")
	got := BFS([]storage.NodeID{a, b, a}, 0, func(storage.NodeID) []storage.NodeID { return nil })
	if len(got) != 2 {
		t.Fatalf("duplicate starts not deduplicated: %d", len(got))
	}
}
