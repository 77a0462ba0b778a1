// Package snapshot holds the in-memory chunk index of files and
// directories, and the differ that computes change sets between two
// snapshots of the same tree.
package snapshot

import (
	"os"
	"path/filepath"

	"github.com/Raqibreyaz/synclet/internal/chunker"
)

// ChunkInfo is one contiguous byte range of a file at snapshot time.
type ChunkInfo struct {
	Offset  int64
	Size    int64
	Digest  string
	Ordinal int
}

// FileSnapshot is a file's chunked view, indexed two ways: by digest
// (for the ADD/REMOVE predicates) and by offset (for the MODIFY
// predicate and for rebuilding the file in order).
type FileSnapshot struct {
	Filename string
	FileSize int64
	Mtime    int64

	byDigest map[string]ChunkInfo
	byOffset map[int64]ChunkInfo
	ordered  []ChunkInfo // sorted by offset, same chunks as the two indexes
}

// NewFileSnapshot builds a FileSnapshot from an already-chunked file.
// The two index views are built together and never diverge afterwards —
// FileSnapshot is replaced wholesale on any change, never mutated.
func NewFileSnapshot(filename string, fileSize, mtime int64, chunks []chunker.Chunk) FileSnapshot {
	fs := FileSnapshot{
		Filename: filename,
		FileSize: fileSize,
		Mtime:    mtime,
		byDigest: make(map[string]ChunkInfo, len(chunks)),
		byOffset: make(map[int64]ChunkInfo, len(chunks)),
		ordered:  make([]ChunkInfo, len(chunks)),
	}

	for i, c := range chunks {
		ci := ChunkInfo{Offset: c.Offset, Size: c.Size, Digest: c.Digest, Ordinal: c.Ordinal}
		fs.byDigest[ci.Digest] = ci
		fs.byOffset[ci.Offset] = ci
		fs.ordered[i] = ci
	}

	return fs
}

func (f FileSnapshot) ChunkByDigest(digest string) (ChunkInfo, bool) {
	c, ok := f.byDigest[digest]
	return c, ok
}

func (f FileSnapshot) ChunkByOffset(offset int64) (ChunkInfo, bool) {
	c, ok := f.byOffset[offset]
	return c, ok
}

// Chunks returns the chunk list ordered by offset.
func (f FileSnapshot) Chunks() []ChunkInfo { return f.ordered }

// BuildFileSnapshot chunks the file at path and returns its snapshot,
// keyed under relName (the path relative to the working root).
func BuildFileSnapshot(path, relName string) (FileSnapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileSnapshot{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		return FileSnapshot{}, err
	}
	defer file.Close()

	chunks, err := chunker.Split(file, info.Size())
	if err != nil {
		return FileSnapshot{}, err
	}

	return NewFileSnapshot(relName, info.Size(), info.ModTime().Unix(), chunks), nil
}

// DirSnapshot is a mapping from relative filename to FileSnapshot, plus
// the set of subdirectory paths seen during the scan.
type DirSnapshot struct {
	Files map[string]FileSnapshot
	Dirs  []string
}

func NewDirSnapshot() DirSnapshot {
	return DirSnapshot{Files: make(map[string]FileSnapshot)}
}

// ScanDir walks root and builds a DirSnapshot of every regular file
// under it, skipping paths that match any of the ignore globs.
func ScanDir(root string, ignore []string) (DirSnapshot, error) {
	snap := NewDirSnapshot()

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if matchesAny(ignore, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			snap.Dirs = append(snap.Dirs, rel)
			return nil
		}

		fsnap, err := BuildFileSnapshot(path, rel)
		if err != nil {
			return err
		}
		snap.Files[rel] = fsnap

		return nil
	})

	return snap, err
}

func matchesAny(globs []string, rel string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(g, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
