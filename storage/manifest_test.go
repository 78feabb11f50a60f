package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestManifestStoreCreateInitialVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Current().Version != 1 {
		t.Fatalf("initial version %d, want 1", s.Current().Version)
	}
	if len(s.Current().NodeSegments) != 0 {
		t.Fatal("initial manifest must be empty")
	}
	// files on disk
	for _, f := range []string{"current.json", "manifest_index.json", filepath.Join("manifests", "0001.json")} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Fatalf("missing %s: %v", f, err)
		}
	}
}

func TestManifestCommitBumpsVersion(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	shard := uint16(0)
	desc := SegmentDescriptor{SegmentId: s.NextSegmentID(), SegmentType: SegmentNodes, ShardId: &shard, RecordCount: 3}
	m := s.CreateManifest([]SegmentDescriptor{desc}, nil, nil)
	if err := s.Commit(m); err != nil {
		t.Fatal(err)
	}
	if s.Current().Version != 2 {
		t.Fatalf("version %d, want 2", s.Current().Version)
	}

	reopened, err := OpenManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Current().Version != 2 {
		t.Fatalf("reopened version %d, want 2", reopened.Current().Version)
	}
	if len(reopened.Current().NodeSegments) != 1 {
		t.Fatal("segment descriptor lost across reopen")
	}
}

func TestManifestCommitRejectsVersionGap(t *testing.T) {
	s := EphemeralManifestStore()
	m := &Manifest{Version: 5, Tags: map[string]string{}}
	if err := s.Commit(m); err == nil {
		t.Fatal("expected version succession error")
	}
}

func TestManifestCrashBetweenManifestAndPointer(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := s.CreateManifest(nil, nil, nil)
	if err := s.Commit(m); err != nil {
		t.Fatal(err)
	}
	// simulate a crash after step 3 of the next commit: the manifest
	// file for version 3 exists but current.json still names version 2
	orphan := s.CreateManifest(nil, nil, nil)
	body, _ := json.Marshal(orphan)
	if err := os.WriteFile(filepath.Join(dir, "manifests", "0003.json"), body, 0640); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Current().Version != 2 {
		t.Fatalf("open after crash returned version %d, want predecessor 2", reopened.Current().Version)
	}
}

func TestManifestSegmentIDsMonotonic(t *testing.T) {
	s := EphemeralManifestStore()
	a := s.NextSegmentID()
	b := s.NextSegmentID()
	if b <= a {
		t.Fatalf("segment ids not monotonic: %d then %d", a, b)
	}
}

func TestManifestSegmentIDsResumeAfterOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	shard := uint16(1)
	id := s.NextSegmentID()
	desc := SegmentDescriptor{SegmentId: id, SegmentType: SegmentNodes, ShardId: &shard}
	if err := s.Commit(s.CreateManifest([]SegmentDescriptor{desc}, nil, nil)); err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if next := reopened.NextSegmentID(); next <= id {
		t.Fatalf("segment id %d reused after reopen (last was %d)", next, id)
	}
}

func TestManifestTombstonePersistence(t *testing.T) {
	dir := t.TempDir()
	s, err := CreateManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := s.CreateManifest(nil, nil, nil)
	id := NewNodeID("F:gone@x.js")
	m.SetTombstones([]NodeID{id}, []EdgeKey{{Src: id, Dst: id, Type: "CALLS"}})
	if err := s.Commit(m); err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenManifestStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	current := reopened.Current()
	if len(current.TombstonedNodeIds) != 1 || current.TombstonedNodeIds[0] != id {
		t.Fatal("node tombstone lost")
	}
	keys := current.TombstoneEdgeKeys()
	if len(keys) != 1 || keys[0].Type != "CALLS" {
		t.Fatal("edge tombstone lost")
	}
}

// --- Snapshots ---

func TestManifestSnapshotTagFindList(t *testing.T) {
	s := EphemeralManifestStore()
	if err := s.Commit(s.CreateManifest(nil, nil, nil)); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(s.CreateManifest(nil, nil, nil)); err != nil {
		t.Fatal(err)
	}
	if err := s.TagSnapshot(2, map[string]string{"release": "v1.0"}); err != nil {
		t.Fatal(err)
	}
	version, found := s.FindSnapshot("release", "v1.0")
	if !found || version != 2 {
		t.Fatalf("FindSnapshot = %d, %v", version, found)
	}
	if _, found := s.FindSnapshot("release", "v9"); found {
		t.Fatal("found a snapshot that does not exist")
	}
	all := s.ListSnapshots("")
	if len(all) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(all))
	}
	tagged := s.ListSnapshots("release")
	if len(tagged) != 1 || tagged[0].Version != 2 {
		t.Fatalf("tag filter broken: %+v", tagged)
	}
}

func TestManifestDiffSnapshots(t *testing.T) {
	s := EphemeralManifestStore()
	shard := uint16(0)
	descA := SegmentDescriptor{SegmentId: s.NextSegmentID(), SegmentType: SegmentNodes, ShardId: &shard}
	if err := s.Commit(s.CreateManifest([]SegmentDescriptor{descA}, nil, nil)); err != nil {
		t.Fatal(err)
	}
	descB := SegmentDescriptor{SegmentId: s.NextSegmentID(), SegmentType: SegmentNodes, ShardId: &shard}
	if err := s.Commit(s.CreateManifest([]SegmentDescriptor{descB}, nil, nil)); err != nil {
		t.Fatal(err)
	}
	diff, err := s.DiffSnapshots(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.SegmentsAdded) != 1 || diff.SegmentsAdded[0] != descB.SegmentId {
		t.Fatalf("diff added = %v", diff.SegmentsAdded)
	}
	if len(diff.SegmentsRemoved) != 1 || diff.SegmentsRemoved[0] != descA.SegmentId {
		t.Fatalf("diff removed = %v", diff.SegmentsRemoved)
	}
}

// --- Descriptors ---

func TestSegmentDescriptorFilePath(t *testing.T) {
	shard := uint16(3)
	d := SegmentDescriptor{SegmentId: 7, SegmentType: SegmentNodes, ShardId: &shard}
	want := filepath.Join("db", "segments", "03", "seg_000007_nodes.seg")
	if got := d.FilePath("db"); got != want {
		t.Fatalf("FilePath = %s, want %s", got, want)
	}
}

func TestSegmentDescriptorMayContain(t *testing.T) {
	d := SegmentDescriptor{NodeTypes: []string{"FUNCTION"}, FilePaths: []string{"a.js"}}
	fn := "FUNCTION"
	cls := "CLASS"
	file := "a.js"
	other := "b.js"
	if !d.MayContain(&fn, nil, nil) {
		t.Fatal("should contain FUNCTION")
	}
	if d.MayContain(&cls, nil, nil) {
		t.Fatal("should prune CLASS")
	}
	if !d.MayContain(&fn, &file, nil) {
		t.Fatal("should contain FUNCTION in a.js")
	}
	if d.MayContain(nil, &other, nil) {
		t.Fatal("should prune b.js")
	}
}
