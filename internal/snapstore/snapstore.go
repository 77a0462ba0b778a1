// Package snapstore persists the last-known peer DirSnapshot to disk so
// a restarted process can resume reconciliation without a full rescan.
package snapstore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/Raqibreyaz/synclet/internal/chunker"
	"github.com/Raqibreyaz/synclet/internal/snapshot"
)

// wireChunk and wireFile mirror snapshot's unexported index fields in a
// serializable shape; DirSnapshot itself can't round-trip through JSON
// because FileSnapshot's digest/offset indexes are unexported.
type wireChunk struct {
	Offset  int64  `json:"offset"`
	Size    int64  `json:"size"`
	Digest  string `json:"digest"`
	Ordinal int    `json:"ordinal"`
}

type wireFile struct {
	Filename string      `json:"filename"`
	FileSize int64       `json:"file_size"`
	Mtime    int64       `json:"mtime"`
	Chunks   []wireChunk `json:"chunks"`
}

type document struct {
	Version     string              `json:"version"`
	Fingerprint string              `json:"fingerprint"`
	Files       map[string]wireFile `json:"files"`
	Dirs        []string            `json:"dirs"`
}

const formatVersion = "1"

// Cache is the in-memory peer snapshot plus the fingerprint it was
// fetched under, backed by a file at path. Guarded by mu so the Event
// Adapter goroutine-free model still protects concurrent CLI/admin
// access to the same process.
type Cache struct {
	mu          sync.Mutex
	path        string
	snap        snapshot.DirSnapshot
	fingerprint string
	present     bool
}

func New(path string) *Cache {
	return &Cache{path: path, snap: snapshot.NewDirSnapshot()}
}

// Load reads the cache file if present. A missing file is not an
// error: Snapshot() will report present=false and the reconciler treats that as
// "no peer cache".
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	snap := snapshot.NewDirSnapshot()
	snap.Dirs = doc.Dirs
	for name, wf := range doc.Files {
		chunks := make([]chunker.Chunk, len(wf.Chunks))
		for i, wc := range wf.Chunks {
			chunks[i] = chunker.Chunk{Offset: wc.Offset, Size: wc.Size, Digest: wc.Digest, Ordinal: wc.Ordinal}
		}
		snap.Files[name] = snapshot.NewFileSnapshot(wf.Filename, wf.FileSize, wf.Mtime, chunks)
	}

	c.snap = snap
	c.fingerprint = doc.Fingerprint
	c.present = true

	return nil
}

// Save overwrites the cache file with snap/fingerprint.
func (c *Cache) Save(snap snapshot.DirSnapshot, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := document{
		Version:     formatVersion,
		Fingerprint: fingerprint,
		Dirs:        snap.Dirs,
		Files:       make(map[string]wireFile, len(snap.Files)),
	}

	for name, fs := range snap.Files {
		chunks := fs.Chunks()
		wcs := make([]wireChunk, len(chunks))
		for i, c := range chunks {
			wcs[i] = wireChunk{Offset: c.Offset, Size: c.Size, Digest: c.Digest, Ordinal: c.Ordinal}
		}
		doc.Files[name] = wireFile{Filename: fs.Filename, FileSize: fs.FileSize, Mtime: fs.Mtime, Chunks: wcs}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return err
	}

	c.snap = snap
	c.fingerprint = fingerprint
	c.present = true

	return nil
}

// Snapshot returns the cached DirSnapshot and whether a cache exists at
// all.
func (c *Cache) Snapshot() (snapshot.DirSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.present
}

// Fingerprint returns the fingerprint the cache was last saved under.
func (c *Cache) Fingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fingerprint
}
