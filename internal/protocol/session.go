// Package protocol translates DirChanges into wire message sequences
// (sender side) and applies incoming messages to the local filesystem,
// snapshot, and ChunkStore (receiver side).
package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Raqibreyaz/synclet/internal/chunker"
	"github.com/Raqibreyaz/synclet/internal/chunkstore"
	"github.com/Raqibreyaz/synclet/internal/progress"
	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/internal/wire"
	"github.com/Raqibreyaz/synclet/pkg/log"
)

// SnapshotProvider supplies the local view of the world that the
// introspection responders (REQ_SNAP_VERSION/REQ_SNAP/REQ_DIR_LIST)
// answer with.
type SnapshotProvider interface {
	Current() snapshot.DirSnapshot
	Fingerprint() string
}

// Session wires one TCP connection's Messenger to one working root. It
// tracks in-flight ChunkStore sessions keyed by filename so that a
// MODIFIED_CHUNK stream for one file finalizes independently of any
// other. SEND_FILE streams are written straight to the target file by
// receiveSendFile and do not go through the appends map.
type Session struct {
	Msg  *wire.Messenger
	Root string

	// Progress, when non-nil, is fed Start/Tick/Finish calls as chunks
	// stream through SendFileFull/PushModifiedChunks/receiveSendFile/
	// receiveModifiedChunk. Left nil, transfers proceed silently.
	Progress *progress.Reporter

	mu       sync.Mutex
	chunkers map[string]*chunkstore.Session
	appends  map[string]*os.File
}

func NewSession(msg *wire.Messenger, root string) *Session {
	return &Session{
		Msg:      msg,
		Root:     root,
		chunkers: make(map[string]*chunkstore.Session),
		appends:  make(map[string]*os.File),
	}
}

func (s *Session) abs(relName string) string {
	return filepath.Join(s.Root, relName)
}

// chunkSession returns the filename's in-flight ChunkStore session,
// opening one if this is the first op seen for it this stream. created
// is true only on that first call, so callers can start a progress bar
// exactly once per stream.
func (s *Session) chunkSession(relName string) (cs *chunkstore.Session, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.chunkers[relName]; ok {
		return cs, false, nil
	}
	cs, err = chunkstore.Open(s.abs(relName))
	if err != nil {
		return nil, false, err
	}
	s.chunkers[relName] = cs
	return cs, true, nil
}

func (s *Session) dropChunkSession(relName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunkers, relName)
}

// progressStart/progressTick/progressFinish are nil-safe wrappers
// around Session.Progress, so call sites don't need a nil check.
func (s *Session) progressStart(filename string, total int) {
	if s.Progress != nil {
		s.Progress.Start(filename, total)
	}
}

func (s *Session) progressTick(filename string) {
	if s.Progress != nil {
		s.Progress.Tick(filename)
	}
}

func (s *Session) progressFinish(filename string) {
	if s.Progress != nil {
		s.Progress.Finish(filename)
	}
}

// Serve runs the receiver-side dispatch loop: read one frame, apply it,
// repeat, until Receive returns a transport error. provider answers the
// introspection requests; onLocalChange is invoked after any mutation
// that the caller's snapshot needs to reflect (file/dir create, remove,
// move, and finalized chunk sequences).
func (s *Session) Serve(provider SnapshotProvider, onLocalChange func()) error {
	for {
		tag, fields, err := s.Msg.Receive()
		if err != nil {
			return err
		}

		if err := s.dispatch(tag, fields, provider, onLocalChange); err != nil {
			log.Error("protocol: %s: %v", tag, err)
		}
	}
}

func (s *Session) dispatch(tag wire.Tag, fields []byte, provider SnapshotProvider, onLocalChange func()) error {
	switch tag {
	case wire.TagReqSnapVersion:
		return s.Msg.Send(wire.TagSnapVersion, wire.SnapVersion{Fingerprint: provider.Fingerprint()})

	case wire.TagReqSnap:
		return s.Msg.Send(wire.TagDataSnap, wire.DataSnap{Files: toWireFiles(provider.Current())})

	case wire.TagReqDirList:
		return s.Msg.Send(wire.TagDirList, wire.DirList{Dirs: provider.Current().Dirs})

	case wire.TagDirCreate:
		var m wire.DirCreate
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		return os.MkdirAll(s.abs(m.Path), 0755)

	case wire.TagDirsCreate:
		var m wire.DirsCreate
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		for _, p := range m.Paths {
			if err := os.MkdirAll(s.abs(p), 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", p, err)
			}
		}
		return nil

	case wire.TagDirRemove:
		var m wire.DirRemove
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		return os.RemoveAll(s.abs(m.Path))

	case wire.TagDirsRemove:
		var m wire.DirsRemove
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		for _, p := range m.Paths {
			if err := os.RemoveAll(s.abs(p)); err != nil {
				return fmt.Errorf("remove dir %s: %w", p, err)
			}
		}
		return nil

	case wire.TagDirMoved:
		var m wire.DirMoved
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		return os.Rename(s.abs(m.Old), s.abs(m.New))

	case wire.TagFileCreate:
		var m wire.FileCreate
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		f, err := os.Create(s.abs(m.Filename))
		if err != nil {
			return err
		}
		return f.Close()

	case wire.TagFileRemove:
		var m wire.FileRemove
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		return os.Remove(s.abs(m.Filename))

	case wire.TagFilesRemove:
		var m wire.FilesRemove
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		for _, f := range m.Filenames {
			if err := os.Remove(s.abs(f)); err != nil {
				return fmt.Errorf("remove file %s: %w", f, err)
			}
		}
		return nil

	case wire.TagFileMoved:
		var m wire.FileMoved
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		defer onLocalChange()
		return os.Rename(s.abs(m.Old), s.abs(m.New))

	case wire.TagFilesCreate:
		var m wire.FilesCreate
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		// Only each file's parent directory is prepared here; the files
		// are created by the SEND_FILE/SEND_CHUNK frames that follow per
		// filename.
		defer onLocalChange()
		for _, f := range m.Filenames {
			if err := os.MkdirAll(filepath.Dir(s.abs(f)), 0755); err != nil {
				return fmt.Errorf("prepare dir for %s: %w", f, err)
			}
		}
		return nil

	case wire.TagSendFile:
		var m wire.SendFile
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		return s.receiveSendFile(m, onLocalChange)

	case wire.TagModifiedChunk:
		var m wire.ModifiedChunk
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		return s.receiveModifiedChunk(m, onLocalChange)

	case wire.TagReqChunk:
		var m wire.ReqChunk
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		return s.respondReqChunk(m)

	case wire.TagReqDownloadFiles:
		var m wire.ReqDownloadFiles
		if err := wire.Decode(fields, &m); err != nil {
			return err
		}
		for _, f := range m.Filenames {
			if err := s.SendFileFull(f); err != nil {
				return fmt.Errorf("serving download of %s: %w", f, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("no handler registered for tag %s", tag)
	}
}

func toWireFiles(snap snapshot.DirSnapshot) []wire.WireFileSnapshot {
	out := make([]wire.WireFileSnapshot, 0, len(snap.Files))
	for _, f := range snap.Files {
		chunks := f.Chunks()
		wc := make([]wire.WireChunkInfo, len(chunks))
		for i, c := range chunks {
			wc[i] = wire.WireChunkInfo{Offset: c.Offset, Size: c.Size, Digest: c.Digest, Ordinal: c.Ordinal}
		}
		out = append(out, wire.WireFileSnapshot{Filename: f.Filename, FileSize: f.FileSize, Mtime: f.Mtime, Chunks: wc})
	}
	return out
}

func fromWireFiles(files []wire.WireFileSnapshot) snapshot.DirSnapshot {
	snap := snapshot.NewDirSnapshot()
	for _, wf := range files {
		chunks := make([]chunker.Chunk, len(wf.Chunks))
		for i, wc := range wf.Chunks {
			chunks[i] = chunker.Chunk{Offset: wc.Offset, Size: wc.Size, Digest: wc.Digest, Ordinal: wc.Ordinal}
		}
		snap.Files[wf.Filename] = snapshot.NewFileSnapshot(wf.Filename, wf.FileSize, wf.Mtime, chunks)
	}
	return snap
}
