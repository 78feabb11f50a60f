package storage

import (
	"bytes"
	"fmt"
	"testing"
)

func testID(i int) NodeID {
	return NewNodeID(fmt.Sprintf("FUNCTION:f%d@src/a.js", i))
}

func TestBloomNoFalseNegatives(t *testing.T) {
	f := NewBloomFilter(1000)
	for i := 0; i < 1000; i++ {
		f.Insert(testID(i))
	}
	for i := 0; i < 1000; i++ {
		if !f.MaybeContains(testID(i)) {
			t.Fatalf("false negative for key %d", i)
		}
	}
}

func TestBloomFalsePositiveRate(t *testing.T) {
	const n = 10000
	f := NewBloomFilter(n)
	for i := 0; i < n; i++ {
		f.Insert(testID(i))
	}
	falsePositives := 0
	for i := n; i < 2*n; i++ {
		if f.MaybeContains(testID(i)) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(n)
	if rate >= 0.02 {
		t.Fatalf("false positive rate %.4f >= 0.02", rate)
	}
}

func TestBloomEmptyAlwaysFalse(t *testing.T) {
	f := NewBloomFilter(0)
	if f.NumBits() != 64 {
		t.Fatalf("empty filter should have the 64 bit minimum, got %d", f.NumBits())
	}
	for i := 0; i < 100; i++ {
		if f.MaybeContains(testID(i)) {
			t.Fatalf("empty filter answered true for key %d", i)
		}
	}
}

func TestBloomSizing(t *testing.T) {
	// ceil(10*n) rounded up to multiples of 64
	cases := []struct {
		keys int
		bits uint64
	}{
		{0, 64},
		{1, 64},
		{7, 128},
		{100, 1024},
	}
	for _, c := range cases {
		f := NewBloomFilter(c.keys)
		if f.NumBits() != c.bits {
			t.Fatalf("NewBloomFilter(%d).NumBits() = %d, want %d", c.keys, f.NumBits(), c.bits)
		}
		if f.NumHashes() != 7 {
			t.Fatalf("expected 7 hashes, got %d", f.NumHashes())
		}
	}
}

func TestBloomRoundtrip(t *testing.T) {
	f := NewBloomFilter(500)
	for i := 0; i < 500; i++ {
		f.Insert(testID(i))
	}
	var buf bytes.Buffer
	if err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != f.SerializedSize() {
		t.Fatalf("SerializedSize %d != written %d", f.SerializedSize(), buf.Len())
	}
	loaded, err := BloomFilterFromBytes(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 500; i++ {
		if !loaded.MaybeContains(testID(i)) {
			t.Fatalf("false negative after roundtrip for key %d", i)
		}
	}
}

func TestBloomFromBytesErrors(t *testing.T) {
	if _, err := BloomFilterFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short input")
	}
	var zero [16]byte
	if _, err := BloomFilterFromBytes(zero[:]); err == nil {
		t.Fatal("expected error for zero bits")
	}
}
