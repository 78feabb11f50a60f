package storage

import (
	"fmt"
	"testing"
)

func makeNodeSegment(t *testing.T, records []NodeRecord) *NodeSegment {
	t.Helper()
	seg, err := NodeSegmentFromBytes(writeNodeSegment(t, records))
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

func makeEdgeSegment(t *testing.T, records []EdgeRecord) *EdgeSegment {
	t.Helper()
	seg, err := EdgeSegmentFromBytes(writeEdgeSegment(t, records))
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

// --- Merge ---

func TestMergeNodeSegmentsNewestWins(t *testing.T) {
	old := makeNode("F:a@x.js", "FUNCTION", "a", "x.js")
	newer := old
	newer.Metadata = `{"v":2}`
	// caller passes newest first
	merged, applied := MergeNodeSegments([]*NodeSegment{
		makeNodeSegment(t, []NodeRecord{newer}),
		makeNodeSegment(t, []NodeRecord{old}),
	}, NewTombstoneSet())
	if len(applied) != 0 {
		t.Fatalf("no tombstones should apply, got %d", len(applied))
	}
	if len(merged) != 1 {
		t.Fatalf("merged %d records, want 1", len(merged))
	}
	if merged[0].Metadata != `{"v":2}` {
		t.Fatal("older version won the merge")
	}
}

func TestMergeNodeSegmentsSortedAndTombstoned(t *testing.T) {
	var records []NodeRecord
	for i := 0; i < 50; i++ {
		records = append(records, makeNode(fmt.Sprintf("F:f%d@x.js", i), "FUNCTION", fmt.Sprintf("f%d", i), "x.js"))
	}
	tombstones := NewTombstoneSet()
	tombstones.AddNodes([]NodeID{records[7].Id, records[23].Id})
	// a tombstone with no matching record must not count as applied
	tombstones.AddNodes([]NodeID{NewNodeID("F:ghost@y.js")})

	merged, applied := MergeNodeSegments([]*NodeSegment{makeNodeSegment(t, records)}, tombstones)
	if len(merged) != 48 {
		t.Fatalf("merged %d records, want 48", len(merged))
	}
	if len(applied) != 2 {
		t.Fatalf("applied %d tombstones, want 2", len(applied))
	}
	for i := 1; i < len(merged); i++ {
		if !merged[i-1].Id.Less(merged[i].Id) {
			t.Fatal("merge output not sorted by id")
		}
	}
}

func TestMergeEdgeSegmentsDedupSorted(t *testing.T) {
	e1 := makeEdge("F:a@x.js", "F:b@x.js", "CALLS")
	e1Updated := e1
	e1Updated.Metadata = `{"v":2}`
	e2 := makeEdge("F:b@x.js", "F:c@x.js", "CALLS")

	merged, _ := MergeEdgeSegments([]*EdgeSegment{
		makeEdgeSegment(t, []EdgeRecord{e1Updated}),
		makeEdgeSegment(t, []EdgeRecord{e1, e2}),
	}, NewTombstoneSet())
	if len(merged) != 2 {
		t.Fatalf("merged %d edges, want 2", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		prev, cur := merged[i-1], merged[i]
		if prev.Src.Cmp(cur.Src) > 0 {
			t.Fatal("merge output not sorted by src")
		}
	}
	for _, e := range merged {
		if e.Src == e1.Src && e.Dst == e1.Dst && e.Metadata != `{"v":2}` {
			t.Fatal("older edge version won the merge")
		}
	}
}

// --- Policy ---

func TestShouldCompactThreshold(t *testing.T) {
	s := EphemeralShard()
	config := CompactionConfig{SegmentThreshold: 4}
	var nextID uint64
	for i := 0; i < 3; i++ {
		s.AddNodes([]NodeRecord{makeNode(fmt.Sprintf("F:f%d@x.js", i), "FUNCTION", "f", "x.js")})
		flushShard(t, s, &nextID)
	}
	if ShouldCompact(s, config) {
		t.Fatal("below threshold")
	}
	s.AddNodes([]NodeRecord{makeNode("F:f99@x.js", "FUNCTION", "f", "x.js")})
	flushShard(t, s, &nextID)
	if !ShouldCompact(s, config) {
		t.Fatal("at threshold")
	}
}

// --- Full compaction (scenario: 4 flushes, 10% overlap, compact) ---

func TestCompactionMergesFlushes(t *testing.T) {
	store := EphemeralMultiShardStore(1)
	manifest := EphemeralManifestStore()

	distinct := make(map[NodeID]struct{})
	for flush := 0; flush < 4; flush++ {
		var batch []NodeRecord
		for i := 0; i < 100; i++ {
			// 10% of ids overlap with the previous flush
			idx := flush*90 + i
			n := makeNode(fmt.Sprintf("F:f%d@x.js", idx), "FUNCTION", fmt.Sprintf("f%d", idx), "x.js")
			n.Metadata = fmt.Sprintf(`{"flush":%d}`, flush)
			batch = append(batch, n)
			distinct[n.Id] = struct{}{}
		}
		store.AddNodes(batch)
		if _, err := store.FlushAll(manifest); err != nil {
			t.Fatal(err)
		}
	}

	result, err := store.Compact(manifest, CompactionConfig{SegmentThreshold: 4})
	if err != nil {
		t.Fatal(err)
	}
	if result == nil {
		t.Fatal("compaction did not run")
	}
	if result.NodesMerged != uint64(len(distinct)) {
		t.Fatalf("merged %d nodes, want %d", result.NodesMerged, len(distinct))
	}

	shard := store.Shards()[0]
	if shard.L0NodeSegmentCount() != 0 {
		t.Fatal("L0 segments not cleared")
	}
	if shard.L1NodeSegment() == nil {
		t.Fatal("no L1 segment installed")
	}
	// L1 sorted by id
	l1 := shard.L1NodeSegment()
	for i := 1; i < l1.RecordCount(); i++ {
		if !l1.GetId(i - 1).Less(l1.GetId(i)) {
			t.Fatal("L1 not sorted by id")
		}
	}
	// every record still retrievable, newest metadata wins on overlaps
	overlap := makeNode("F:f90@x.js", "FUNCTION", "f90", "x.js")
	got, ok := store.GetNode(overlap.Id)
	if !ok {
		t.Fatal("overlapping node lost in compaction")
	}
	if got.Metadata != `{"flush":1}` {
		t.Fatalf("overlap metadata = %s, want flush 1 version", got.Metadata)
	}
}

func TestCompactionRemovesTombstones(t *testing.T) {
	store := EphemeralMultiShardStore(1)
	manifest := EphemeralManifestStore()

	var victim NodeID
	for flush := 0; flush < 4; flush++ {
		var batch []NodeRecord
		for i := 0; i < 10; i++ {
			n := makeNode(fmt.Sprintf("F:g%d_%d@x.js", flush, i), "FUNCTION", "g", "x.js")
			batch = append(batch, n)
			if flush == 0 && i == 0 {
				victim = n.Id
			}
		}
		store.AddNodes(batch)
		if _, err := store.FlushAll(manifest); err != nil {
			t.Fatal(err)
		}
	}
	before := 40

	store.AddTombstones([]NodeID{victim}, nil)
	result, err := store.Compact(manifest, CompactionConfig{SegmentThreshold: 2})
	if err != nil {
		t.Fatal(err)
	}
	if result.NodesMerged != uint64(before-1) {
		t.Fatalf("merged %d, want %d", result.NodesMerged, before-1)
	}
	if result.TombstonesRemoved != 1 {
		t.Fatalf("tombstones removed %d, want 1", result.TombstonesRemoved)
	}
	if _, ok := store.GetNode(victim); ok {
		t.Fatal("victim still visible after compaction")
	}
	if len(manifest.Current().TombstonedNodeIds) != 0 {
		t.Fatal("applied tombstone still in the manifest")
	}
	if store.Shards()[0].Tombstones().NodeCount() != 0 {
		t.Fatal("applied tombstone still in the shard")
	}
}

func TestCompactionDiskSwap(t *testing.T) {
	dir := t.TempDir()
	store, err := CreateMultiShardStore(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	manifest, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	for flush := 0; flush < 4; flush++ {
		var batch []NodeRecord
		for i := 0; i < 5; i++ {
			file := fmt.Sprintf("d%d/f.js", i)
			batch = append(batch, makeNode(fmt.Sprintf("F:h%d_%d@%s", flush, i, file), "FUNCTION", "h", file))
		}
		store.AddNodes(batch)
		if _, err := store.FlushAll(manifest); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Compact(manifest, CompactionConfig{SegmentThreshold: 1}); err != nil {
		t.Fatal(err)
	}

	// reopen from the compacted manifest
	manifest2, err := OpenManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenMultiShardStore(dir, manifest2)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.NodeCount() != 20 {
		t.Fatalf("node count after reopen %d, want 20", reopened.NodeCount())
	}
}
