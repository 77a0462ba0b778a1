package snapshot

import (
	"encoding/hex"
	"testing"

	"github.com/zeebo/blake3"

	"github.com/Raqibreyaz/synclet/internal/chunker"
)

func snap(name string, size, mtime int64, chunks ...chunker.Chunk) FileSnapshot {
	return NewFileSnapshot(name, size, mtime, chunks)
}

func ch(offset, size int64, digest string, ordinal int) chunker.Chunk {
	return chunker.Chunk{Offset: offset, Size: size, Digest: digest, Ordinal: ordinal}
}

func TestGetFileModificationEqualFilesYieldsNoOps(t *testing.T) {
	a := snap("f", 8, 1, ch(0, 4, "d1", 0), ch(4, 4, "d2", 1))
	b := snap("f", 8, 1, ch(0, 4, "d1", 0), ch(4, 4, "d2", 1))

	mod := GetFileModification(a, b)
	if len(mod.Ops) != 0 {
		t.Fatalf("expected no ops for byte-equal files, got %+v", mod.Ops)
	}
}

func TestGetFileModificationSingleMiddleEdit(t *testing.T) {
	// S2 from spec: one chunk file, middle byte edited.
	prev := snap("a.txt", 4, 1, ch(0, 4, "old", 0))
	curr := snap("a.txt", 4, 2, ch(0, 4, "new", 0))

	mod := GetFileModification(curr, prev)
	if len(mod.Ops) != 1 {
		t.Fatalf("expected exactly one op, got %+v", mod.Ops)
	}
	op := mod.Ops[0]
	if op.Kind != OpModify || op.Offset != 0 || op.NewSize != 4 || op.OldSize != 4 {
		t.Fatalf("unexpected op: %+v", op)
	}
	if !op.IsLast {
		t.Fatal("expected the only op to be marked IsLast")
	}
}

func TestGetFileModificationAppend(t *testing.T) {
	prev := snap("a.txt", 4, 1, ch(0, 4, "same", 0))
	curr := snap("a.txt", 8, 2, ch(0, 4, "same", 0), ch(4, 4, "newtail", 1))

	mod := GetFileModification(curr, prev)
	if len(mod.Ops) != 1 {
		t.Fatalf("expected one ADD op for the appended tail, got %+v", mod.Ops)
	}
	op := mod.Ops[0]
	if op.Kind != OpAdd || op.Offset != 4 || op.NewSize != 4 {
		t.Fatalf("unexpected op: %+v", op)
	}
}

func TestGetFileModificationShiftIsNotModify(t *testing.T) {
	// A chunk that moved offset because of an insertion before it must
	// surface as ADD+REMOVE (or nothing, if bytes are identical further
	// along), never as MODIFY — the chunk's digest reappears unchanged,
	// just at a different offset.
	prev := snap("a.txt", 8, 1, ch(0, 4, "A", 0), ch(4, 4, "B", 1))
	curr := snap("a.txt", 12, 2, ch(0, 4, "NEW", 0), ch(4, 4, "A", 1), ch(8, 4, "B", 2))

	mod := GetFileModification(curr, prev)
	for _, op := range mod.Ops {
		if op.Kind == OpModify {
			t.Fatalf("shifted chunk incorrectly classified as MODIFY: %+v", op)
		}
	}
}

func TestGetFileModificationRepeatingContentPredicate(t *testing.T) {
	// Teacher's/spec's documented heuristic edge case: a chunk whose
	// digest reappears anywhere on the other side is treated as shifted,
	// even when its offset is genuinely unique content. A changed chunk
	// at an offset should not emit MODIFY for that offset if the old
	// digest still exists elsewhere on the new side.
	prev := snap("a.txt", 8, 1, ch(0, 4, "X", 0), ch(4, 4, "X", 1))
	curr := snap("a.txt", 8, 2, ch(0, 4, "X", 0), ch(4, 4, "Y", 1))

	mod := GetFileModification(curr, prev)
	// At offset 4, curr's "Y" appears nowhere in prev, but prev's "X"
	// still appears (at offset 0) in curr. By the MODIFY predicate that
	// makes offset 4 a shift, not a modification, so no MODIFY is emitted
	// for it. "X" is still present in curr, so no REMOVE is emitted either.
	for _, op := range mod.Ops {
		if op.Kind == OpModify && op.Offset == 4 {
			t.Fatalf("expected predicate to suppress MODIFY when prev digest reappears elsewhere in curr: %+v", op)
		}
	}
}

func TestCompareSnapshotsCreatedRemovedModified(t *testing.T) {
	prev := NewDirSnapshot()
	prev.Files["keep.txt"] = snap("keep.txt", 4, 1, ch(0, 4, "k", 0))
	prev.Files["gone.txt"] = snap("gone.txt", 4, 1, ch(0, 4, "g", 0))
	prev.Files["edit.txt"] = snap("edit.txt", 4, 1, ch(0, 4, "old", 0))

	curr := NewDirSnapshot()
	curr.Files["keep.txt"] = snap("keep.txt", 4, 1, ch(0, 4, "k", 0))
	curr.Files["new.txt"] = snap("new.txt", 2, 2, ch(0, 2, "n", 0))
	curr.Files["edit.txt"] = snap("edit.txt", 4, 2, ch(0, 4, "new", 0))

	changes := CompareSnapshots(curr, prev)

	if len(changes.CreatedFiles) != 1 || changes.CreatedFiles[0].Filename != "new.txt" {
		t.Fatalf("unexpected created files: %+v", changes.CreatedFiles)
	}
	if len(changes.RemovedFiles) != 1 || changes.RemovedFiles[0] != "gone.txt" {
		t.Fatalf("unexpected removed files: %+v", changes.RemovedFiles)
	}
	if len(changes.ModifiedFiles) != 1 || changes.ModifiedFiles[0].Filename != "edit.txt" {
		t.Fatalf("unexpected modified files: %+v", changes.ModifiedFiles)
	}
}

func TestFingerprintEqualForIdenticalContent(t *testing.T) {
	a := NewDirSnapshot()
	a.Files["f"] = snap("f", 4, 1, ch(0, 4, "d", 0))

	b := NewDirSnapshot()
	b.Files["f"] = snap("f", 4, 99, ch(0, 4, "d", 0)) // mtime differs, content doesn't

	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("fingerprint should only depend on filenames/sizes/chunks, not mtime")
	}
}

func TestFingerprintEmptyDirIsHashOfEmptyString(t *testing.T) {
	empty := NewDirSnapshot()
	got := Fingerprint(empty)

	// Computed directly with blake3 so the expectation is independent of
	// Fingerprint's own call.
	sum := blake3.Sum256([]byte(""))
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("fingerprint of empty snapshot should be the hash of the empty string: got %s, want %s", got, want)
	}
}

func TestCompareDirLists(t *testing.T) {
	added, removed := CompareDirLists([]string{"a", "b", "c"}, []string{"a", "d"})
	if len(added) != 2 || len(removed) != 1 {
		t.Fatalf("unexpected added=%v removed=%v", added, removed)
	}
}
