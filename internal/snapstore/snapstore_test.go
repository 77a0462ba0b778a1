package snapstore

import (
	"path/filepath"
	"testing"

	"github.com/Raqibreyaz/synclet/internal/chunker"
	"github.com/Raqibreyaz/synclet/internal/snapshot"
)

func TestLoadMissingFileIsNotPresent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "peer.snap"))
	if err := c.Load(); err != nil {
		t.Fatal(err)
	}
	if _, present := c.Snapshot(); present {
		t.Fatal("expected no cache to be present for a missing file")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.snap")
	c := New(path)

	snap := snapshot.NewDirSnapshot()
	snap.Dirs = []string{"sub"}
	snap.Files["a.txt"] = snapshot.NewFileSnapshot("a.txt", 4, 100, []chunker.Chunk{
		{Offset: 0, Size: 4, Digest: "d1", Ordinal: 0},
	})

	if err := c.Save(snap, "fp-123"); err != nil {
		t.Fatal(err)
	}

	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}

	got, present := reloaded.Snapshot()
	if !present {
		t.Fatal("expected cache to be present after Save")
	}
	if reloaded.Fingerprint() != "fp-123" {
		t.Fatalf("unexpected fingerprint: %q", reloaded.Fingerprint())
	}
	if len(got.Dirs) != 1 || got.Dirs[0] != "sub" {
		t.Fatalf("unexpected dirs: %+v", got.Dirs)
	}
	f, ok := got.Files["a.txt"]
	if !ok {
		t.Fatal("expected a.txt to round-trip")
	}
	chunk, ok := f.ChunkByOffset(0)
	if !ok || chunk.Digest != "d1" {
		t.Fatalf("unexpected chunk at offset 0: %+v", chunk)
	}
}
