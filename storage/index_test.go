package storage

import (
	"fmt"
	"testing"
)

func indexedRecords(n int) []NodeRecord {
	var out []NodeRecord
	for i := 0; i < n; i++ {
		nodeType := "FUNCTION"
		if i%3 == 0 {
			nodeType = "CLASS"
		}
		file := fmt.Sprintf("src/f%d.js", i%4)
		out = append(out, makeNode(fmt.Sprintf("%s:n%d@%s", nodeType, i, file), nodeType, fmt.Sprintf("n%d", i), file))
	}
	return out
}

func TestIndexEntryEncodingSize(t *testing.T) {
	if indexEntrySize != 32 {
		t.Fatal("IndexEntry must stay 32 bytes")
	}
	if lookupTableEntrySize != 16 {
		t.Fatal("LookupTableEntry must stay 16 bytes")
	}
	var buf [indexEntrySize]byte
	e := IndexEntry{NodeId: NewNodeID("F:a@x"), SegmentId: 7, Offset: 3, Shard: 2}
	e.encode(buf[:])
	if decoded := decodeIndexEntry(buf[:]); decoded != e {
		t.Fatalf("roundtrip: %+v != %+v", decoded, e)
	}
}

func TestInvertedIndexRoundtrip(t *testing.T) {
	records := indexedRecords(30)
	built, err := BuildInvertedIndexes(records, 2, 9)
	if err != nil {
		t.Fatal(err)
	}
	byType, err := InvertedIndexFromBytes(built.ByType)
	if err != nil {
		t.Fatal(err)
	}
	classes := byType.Lookup("CLASS")
	functions := byType.Lookup("FUNCTION")
	if len(classes)+len(functions) != 30 {
		t.Fatalf("entries %d+%d, want 30", len(classes), len(functions))
	}
	for _, e := range classes {
		if records[e.Offset].NodeType != "CLASS" {
			t.Fatal("by_type offset points at the wrong record")
		}
		if e.Shard != 2 || e.SegmentId != 9 {
			t.Fatal("location fields lost")
		}
	}
	if byType.Lookup("MISSING") != nil {
		t.Fatal("missing key must return nil")
	}

	byFile, err := InvertedIndexFromBytes(built.ByFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(byFile.Keys()) != 4 {
		t.Fatalf("by_file keys %d, want 4", len(byFile.Keys()))
	}
	keys := byFile.Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatal("keys not sorted")
		}
	}
}

func TestInvertedIndexBadMagic(t *testing.T) {
	built, err := BuildInvertedIndexes(indexedRecords(3), 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	built.ByType[0] = 'X'
	if _, err := InvertedIndexFromBytes(built.ByType); err == nil {
		t.Fatal("expected magic error")
	}
}

func TestGlobalIndexLookup(t *testing.T) {
	records := indexedRecords(100)
	var entries []IndexEntry
	for i, r := range records {
		entries = append(entries, IndexEntry{NodeId: r.Id, SegmentId: 1, Offset: uint32(i), Shard: 0})
	}
	g := BuildGlobalIndex(entries)
	if g.Len() != 100 {
		t.Fatalf("len %d, want 100", g.Len())
	}
	for i, r := range records {
		entry, ok := g.Lookup(r.Id)
		if !ok || entry.Offset != uint32(i) {
			t.Fatalf("lookup %d failed: %+v, %v", i, entry, ok)
		}
	}
	if _, ok := g.Lookup(NewNodeID("F:ghost@z")); ok {
		t.Fatal("lookup of absent id succeeded")
	}

	data := g.ToBytes()
	loaded, err := GlobalIndexFromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 100 {
		t.Fatal("global index roundtrip lost entries")
	}
	if entry, ok := loaded.Lookup(records[42].Id); !ok || entry.Offset != 42 {
		t.Fatal("global index roundtrip lookup failed")
	}
}
