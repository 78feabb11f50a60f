package storage

import (
	"bytes"
	"fmt"
	"testing"
)

func TestZoneMapContains(t *testing.T) {
	z := NewZoneMap()
	z.Add("node_type", "FUNCTION")
	z.Add("node_type", "CLASS")
	z.Add("file", "src/a.js")
	if !z.Contains("node_type", "FUNCTION") {
		t.Fatal("expected FUNCTION")
	}
	if z.Contains("node_type", "METHOD") {
		t.Fatal("METHOD should be absent")
	}
	// untracked field = all values possible
	if !z.Contains("something_else", "whatever") {
		t.Fatal("untracked field must answer true")
	}
}

func TestZoneMapRoundtripByteExact(t *testing.T) {
	z := NewZoneMap()
	z.Add("node_type", "FUNCTION")
	z.Add("node_type", "CLASS")
	z.Add("file", "src/b.js")
	z.Add("file", "src/a.js")

	var buf1 bytes.Buffer
	if err := z.WriteTo(&buf1); err != nil {
		t.Fatal(err)
	}
	loaded, err := ZoneMapFromBytes(buf1.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	var buf2 bytes.Buffer
	if err := loaded.WriteTo(&buf2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Fatal("rewrite is not byte-exact")
	}
	if !loaded.Contains("file", "src/a.js") {
		t.Fatal("lost value in roundtrip")
	}
}

func TestZoneMapOversizedFieldDropped(t *testing.T) {
	z := NewZoneMap()
	for i := 0; i <= MaxZoneMapValuesPerField; i++ {
		z.Add("content_hash", fmt.Sprintf("%d", i))
	}
	z.Add("node_type", "FUNCTION")

	var buf bytes.Buffer
	if err := z.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := ZoneMapFromBytes(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.GetValues("content_hash") != nil {
		t.Fatal("oversized field should have been dropped")
	}
	// dropped field = all values possible, never a false prune
	if !loaded.Contains("content_hash", "anything") {
		t.Fatal("dropped field must answer true")
	}
	if !loaded.Contains("node_type", "FUNCTION") {
		t.Fatal("small field must survive")
	}
}

func TestZoneMapTruncated(t *testing.T) {
	z := NewZoneMap()
	z.Add("node_type", "FUNCTION")
	var buf bytes.Buffer
	if err := z.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	for _, cut := range []int{1, 3, 5, buf.Len() - 1} {
		if _, err := ZoneMapFromBytes(buf.Bytes()[:cut]); err == nil {
			t.Fatalf("expected error for truncation at %d", cut)
		}
	}
}

func TestZoneMapGetValues(t *testing.T) {
	z := NewZoneMap()
	z.Add("edge_type", "CALLS")
	z.Add("edge_type", "CONTAINS")
	values := z.GetValues("edge_type")
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	if _, ok := values["CALLS"]; !ok {
		t.Fatal("missing CALLS")
	}
	if z.GetValues("missing") != nil {
		t.Fatal("missing field should return nil")
	}
}
