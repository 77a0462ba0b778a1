package snapshot

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// ChunkOpKind is one of ADD, REMOVE, MODIFY.
type ChunkOpKind uint8

const (
	OpAdd ChunkOpKind = iota + 1
	OpRemove
	OpModify
)

func (k ChunkOpKind) String() string {
	switch k {
	case OpAdd:
		return "ADD"
	case OpRemove:
		return "REMOVE"
	case OpModify:
		return "MODIFY"
	default:
		return "UNKNOWN"
	}
}

// ChunkOp is one instruction in a FileModification: replace, insert, or
// drop a byte range. ADD has OldSize == 0; REMOVE has NewSize == 0;
// MODIFY has both positive.
type ChunkOp struct {
	Kind    ChunkOpKind
	Offset  int64
	NewSize int64
	OldSize int64
	IsLast  bool

	// NewDigest is only meaningful for ADD/MODIFY; it identifies which
	// chunk bytes the sender must transmit for this op.
	NewDigest string
}

// FileModification is the ordered set of ChunkOps that transforms an old
// FileSnapshot into a new one.
type FileModification struct {
	Filename string
	Ops      []ChunkOp
}

// GetFileModification computes curr - prev using the REMOVE/ADD/MODIFY
// predicates below. An empty result means the files are byte-equal.
func GetFileModification(curr, prev FileSnapshot) FileModification {
	var ops []ChunkOp

	// REMOVE: prev chunk whose content vanished entirely, when curr has
	// no chunk at its offset or the chunk there is an existing prev chunk
	// shifted into the slot (a brand new chunk there is a MODIFY instead).
	for _, pc := range prev.Chunks() {
		if _, stillPresent := curr.ChunkByDigest(pc.Digest); stillPresent {
			continue
		}
		atSameOffset, hasAtOffset := curr.ChunkByOffset(pc.Offset)
		slotReused := hasAtOffset
		if hasAtOffset {
			if _, reused := prev.ChunkByDigest(atSameOffset.Digest); !reused {
				slotReused = false
			}
		}
		if !hasAtOffset || slotReused {
			ops = append(ops, ChunkOp{Kind: OpRemove, Offset: pc.Offset, OldSize: pc.Size})
		}
	}

	// ADD: symmetric to REMOVE.
	for _, cc := range curr.Chunks() {
		if _, stillPresent := prev.ChunkByDigest(cc.Digest); stillPresent {
			continue
		}
		atSameOffset, hasAtOffset := prev.ChunkByOffset(cc.Offset)
		slotReused := hasAtOffset
		if hasAtOffset {
			if _, reused := curr.ChunkByDigest(atSameOffset.Digest); !reused {
				slotReused = false
			}
		}
		if !hasAtOffset || slotReused {
			ops = append(ops, ChunkOp{Kind: OpAdd, Offset: cc.Offset, NewSize: cc.Size, NewDigest: cc.Digest})
		}
	}

	// MODIFY: same offset in both, differing digest, and neither digest
	// reappears elsewhere on the other side (else it's a shift, already
	// captured as ADD/REMOVE above).
	for _, cc := range curr.Chunks() {
		pc, ok := prev.ChunkByOffset(cc.Offset)
		if !ok || pc.Digest == cc.Digest {
			continue
		}
		if _, elsewhereInPrev := prev.ChunkByDigest(cc.Digest); elsewhereInPrev {
			continue
		}
		if _, elsewhereInCurr := curr.ChunkByDigest(pc.Digest); elsewhereInCurr {
			continue
		}
		ops = append(ops, ChunkOp{
			Kind: OpModify, Offset: cc.Offset,
			NewSize: cc.Size, OldSize: pc.Size, NewDigest: cc.Digest,
		})
	}

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Offset < ops[j].Offset })
	if len(ops) > 0 {
		ops[len(ops)-1].IsLast = true
	}

	return FileModification{Filename: curr.Filename, Ops: ops}
}

// DirChanges is the tuple of created/removed/modified files and
// added/removed directories between two DirSnapshots.
type DirChanges struct {
	CreatedFiles []FileSnapshot
	RemovedFiles []string
	ModifiedFiles []FileModification
	AddedDirs    []string
	RemovedDirs  []string
}

// CompareSnapshots computes the file-level change set between curr and
// prev.
func CompareSnapshots(curr, prev DirSnapshot) DirChanges {
	var changes DirChanges

	for name, csnap := range curr.Files {
		psnap, existed := prev.Files[name]
		if !existed {
			changes.CreatedFiles = append(changes.CreatedFiles, csnap)
			continue
		}
		if csnap.FileSize != psnap.FileSize || csnap.Mtime != psnap.Mtime {
			mod := GetFileModification(csnap, psnap)
			if len(mod.Ops) > 0 {
				changes.ModifiedFiles = append(changes.ModifiedFiles, mod)
			}
		}
	}

	for name := range prev.Files {
		if _, stillPresent := curr.Files[name]; !stillPresent {
			changes.RemovedFiles = append(changes.RemovedFiles, name)
		}
	}

	return changes
}

// CompareDirLists computes added/removed subdirectories by plain set
// difference, independent of file content diffing.
func CompareDirLists(curr, prev []string) (added, removed []string) {
	currSet := make(map[string]bool, len(curr))
	for _, d := range curr {
		currSet[d] = true
	}
	prevSet := make(map[string]bool, len(prev))
	for _, d := range prev {
		prevSet[d] = true
	}

	for _, d := range curr {
		if !prevSet[d] {
			added = append(added, d)
		}
	}
	for _, d := range prev {
		if !currSet[d] {
			removed = append(removed, d)
		}
	}

	return added, removed
}

// Fingerprint hashes the canonical form of a DirSnapshot: files sorted
// lexicographically, chunks sorted by offset within each file. Two
// snapshots with equal fingerprints describe the same byte content of
// every file.
func Fingerprint(snap DirSnapshot) string {
	names := make([]string, 0, len(snap.Files))
	for name := range snap.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("||")
		}
		f := snap.Files[name]
		b.WriteString(name)
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(f.FileSize, 10))
		for _, c := range f.Chunks() {
			b.WriteByte('|')
			b.WriteString(strconv.FormatInt(c.Offset, 10))
			b.WriteByte(':')
			b.WriteString(strconv.FormatInt(c.Size, 10))
			b.WriteByte(':')
			b.WriteString(c.Digest)
		}
	}

	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
