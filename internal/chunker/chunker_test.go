package chunker

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestSplitEmptyFile(t *testing.T) {
	chunks, err := Split(bytes.NewReader(nil), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected zero chunks for empty file, got %+v", chunks)
	}
}

func TestSplitSmallFileSingleChunk(t *testing.T) {
	data := []byte("hello world")
	chunks, err := Split(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk for a file smaller than the window, got %+v", chunks)
	}
	if chunks[0].Offset != 0 || chunks[0].Size != int64(len(data)) || chunks[0].Ordinal != 0 {
		t.Fatalf("unexpected chunk: %+v", chunks[0])
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	data := make([]byte, 5*1024*1024)
	rand.Read(data)

	c1, err := Split(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	c2, err := Split(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	if len(c1) != len(c2) {
		t.Fatalf("two runs produced different chunk counts: %d vs %d", len(c1), len(c2))
	}
	for i := range c1 {
		if c1[i] != c2[i] {
			t.Fatalf("chunk %d differs between runs: %+v vs %+v", i, c1[i], c2[i])
		}
	}
}

func TestSplitIsComplete(t *testing.T) {
	data := make([]byte, 3*1024*1024)
	rand.Read(data)

	chunks, err := Split(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	var total int64
	for i, c := range chunks {
		if c.Ordinal != i {
			t.Fatalf("ordinal %d does not match rank-by-offset position %d", c.Ordinal, i)
		}
		if c.Offset != total {
			t.Fatalf("chunk %d offset %d does not continue from previous total %d", i, c.Offset, total)
		}
		total += c.Size
	}
	if total != int64(len(data)) {
		t.Fatalf("sum of chunk sizes %d does not equal file size %d", total, len(data))
	}
}

func TestSplitEditAffectsLocalChunksOnly(t *testing.T) {
	data := make([]byte, 4*1024*1024)
	rand.Read(data)

	before, err := Split(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	edited := append([]byte(nil), data...)
	mid := len(edited) / 2
	edited[mid] ^= 0xFF

	after, err := Split(bytes.NewReader(edited), int64(len(edited)))
	if err != nil {
		t.Fatal(err)
	}

	byDigestBefore := make(map[string]bool, len(before))
	for _, c := range before {
		byDigestBefore[c.Digest] = true
	}

	var changed int
	for _, c := range after {
		if !byDigestBefore[c.Digest] {
			changed++
		}
	}

	if changed == 0 || changed > len(after)/2+1 {
		t.Fatalf("expected a small, bounded number of chunks to change, got %d of %d", changed, len(after))
	}
}
