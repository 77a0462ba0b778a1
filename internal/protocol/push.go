package protocol

import (
	"fmt"
	"os"

	"github.com/Raqibreyaz/synclet/internal/chunker"
	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/internal/wire"
)

func (s *Session) PushDirCreate(path string) error {
	return s.Msg.Send(wire.TagDirCreate, wire.DirCreate{Path: path})
}

func (s *Session) PushDirRemove(path string) error {
	return s.Msg.Send(wire.TagDirRemove, wire.DirRemove{Path: path})
}

func (s *Session) PushDirMoved(oldPath, newPath string) error {
	return s.Msg.Send(wire.TagDirMoved, wire.DirMoved{Old: oldPath, New: newPath})
}

func (s *Session) PushDirsCreate(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return s.Msg.Send(wire.TagDirsCreate, wire.DirsCreate{Paths: paths})
}

func (s *Session) PushDirsRemove(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return s.Msg.Send(wire.TagDirsRemove, wire.DirsRemove{Paths: paths})
}

func (s *Session) PushFileCreate(filename string) error {
	return s.Msg.Send(wire.TagFileCreate, wire.FileCreate{Filename: filename})
}

func (s *Session) PushFileRemove(filename string) error {
	return s.Msg.Send(wire.TagFileRemove, wire.FileRemove{Filename: filename})
}

func (s *Session) PushFilesRemove(filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	return s.Msg.Send(wire.TagFilesRemove, wire.FilesRemove{Filenames: filenames})
}

func (s *Session) PushFileMoved(oldName, newName string) error {
	return s.Msg.Send(wire.TagFileMoved, wire.FileMoved{Old: oldName, New: newName})
}

// PushFilesCreate announces a batch of brand new files, to be followed
// by one SendFileFull call per filename in the same order.
func (s *Session) PushFilesCreate(filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	return s.Msg.Send(wire.TagFilesCreate, wire.FilesCreate{Filenames: filenames})
}

// SendFileFull chunks the local copy of relName and streams it as one
// SEND_FILE header followed by n_chunks SEND_CHUNK frames, each
// immediately followed by its raw bytes, in ascending ordinal order.
func (s *Session) SendFileFull(relName string) error {
	path := s.abs(relName)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s to send: %w", relName, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	chunks, err := chunker.Split(f, info.Size())
	if err != nil {
		return fmt.Errorf("chunk %s: %w", relName, err)
	}

	if err := s.Msg.Send(wire.TagSendFile, wire.SendFile{
		Filename: relName, FileSize: info.Size(), NChunks: len(chunks),
	}); err != nil {
		return err
	}

	s.progressStart(relName, len(chunks))
	defer s.progressFinish(relName)

	for i, c := range chunks {
		buf := make([]byte, c.Size)
		if _, err := f.ReadAt(buf, c.Offset); err != nil {
			return fmt.Errorf("read chunk %d of %s: %w", i, relName, err)
		}

		isLast := i == len(chunks)-1
		if err := s.Msg.Send(wire.TagSendChunk, wire.SendChunk{
			Filename: relName, ChunkSize: c.Size, Ordinal: c.Ordinal, IsLast: isLast,
		}); err != nil {
			return err
		}
		if err := s.Msg.SendBytes(buf); err != nil {
			return err
		}
		s.progressTick(relName)
	}

	return nil
}

// PushModifiedChunks streams mod's ops against the current content of
// relName in ascending offset order, reading ADD/MODIFY payload bytes
// from the (already-updated) local file at each op's new offset.
func (s *Session) PushModifiedChunks(relName string, mod snapshot.FileModification) error {
	path := s.abs(relName)

	var f *os.File
	if needsPayload(mod) {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s to push modified chunks: %w", relName, err)
		}
		defer f.Close()
	}

	s.progressStart(relName, len(mod.Ops))
	defer s.progressFinish(relName)

	for _, op := range mod.Ops {
		var payload []byte
		if op.Kind == snapshot.OpAdd || op.Kind == snapshot.OpModify {
			payload = make([]byte, op.NewSize)
			if _, err := f.ReadAt(payload, op.Offset); err != nil {
				return fmt.Errorf("read new bytes for %s at %d: %w", relName, op.Offset, err)
			}
		}

		if err := s.Msg.Send(wire.TagModifiedChunk, wire.ModifiedChunk{
			Kind: wire.ChunkOpKind(op.Kind), Filename: relName,
			Offset: op.Offset, NewSize: op.NewSize, OldSize: op.OldSize, IsLast: op.IsLast,
			TotalOps: len(mod.Ops),
		}); err != nil {
			return err
		}
		if payload != nil {
			if err := s.Msg.SendBytes(payload); err != nil {
				return err
			}
		}
		s.progressTick(relName)
	}

	return nil
}

func needsPayload(mod snapshot.FileModification) bool {
	for _, op := range mod.Ops {
		if op.Kind == snapshot.OpAdd || op.Kind == snapshot.OpModify {
			return true
		}
	}
	return false
}
