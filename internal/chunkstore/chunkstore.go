// Package chunkstore accumulates an unordered stream of chunk operations
// for one file in a scratch directory, then deterministically finalizes
// a new file from the original plus those operations.
package chunkstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/pkg/log"
)

const headerSize = 1 + 8 + 8 + 8 + 1 // kind, offset, new_size, old_size, is_last

// Session owns one file's scratch directory exclusively until Finalize
// or Discard releases it.
type Session struct {
	targetPath string
	scratchDir string
}

// Open creates the scratch directory for targetPath. The scratch
// directory is named "<relative_filename>_dir". A scratch directory left
// behind by an earlier, unfinished session for the same file is removed
// first, so its ops never mix with the new session's.
func Open(targetPath string) (*Session, error) {
	dir := targetPath + "_dir"
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("chunkstore: remove stale scratch dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("chunkstore: create scratch dir %s: %w", dir, err)
	}
	return &Session{targetPath: targetPath, scratchDir: dir}, nil
}

// SaveOp persists one ChunkOp plus its raw payload (empty for REMOVE) as
// chunk-<offset>.bin inside the scratch directory.
func (s *Session) SaveOp(op snapshot.ChunkOp, payload []byte) error {
	path := filepath.Join(s.scratchDir, fmt.Sprintf("chunk-%d.bin", op.Offset))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chunkstore: create op file %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, headerSize)
	header[0] = byte(op.Kind)
	binary.LittleEndian.PutUint64(header[1:9], uint64(op.Offset))
	binary.LittleEndian.PutUint64(header[9:17], uint64(op.NewSize))
	binary.LittleEndian.PutUint64(header[17:25], uint64(op.OldSize))
	if op.IsLast {
		header[25] = 1
	}

	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("chunkstore: write op header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("chunkstore: write op payload: %w", err)
		}
	}

	return nil
}

type pendingOp struct {
	op      snapshot.ChunkOp
	payload []byte
}

func (s *Session) readOp(offset int64) (pendingOp, error) {
	path := filepath.Join(s.scratchDir, fmt.Sprintf("chunk-%d.bin", offset))

	data, err := os.ReadFile(path)
	if err != nil {
		return pendingOp{}, err
	}
	if len(data) < headerSize {
		return pendingOp{}, fmt.Errorf("chunkstore: truncated op header in %s", path)
	}

	op := snapshot.ChunkOp{
		Kind:    snapshot.ChunkOpKind(data[0]),
		Offset:  int64(binary.LittleEndian.Uint64(data[1:9])),
		NewSize: int64(binary.LittleEndian.Uint64(data[9:17])),
		OldSize: int64(binary.LittleEndian.Uint64(data[17:25])),
		IsLast:  data[25] != 0,
	}

	payload := data[headerSize:]
	if int64(len(payload)) != op.NewSize {
		return pendingOp{}, fmt.Errorf("chunkstore: op at offset %d declares new_size=%d but has %d payload bytes", offset, op.NewSize, len(payload))
	}

	return pendingOp{op: op, payload: payload}, nil
}

// Finalize applies every saved op in ascending-offset order against the
// original file (which may not exist yet, for a brand new file) and
// atomically replaces it with the result, then releases the scratch
// directory.
func (s *Session) Finalize() error {
	offsets, err := s.sortedOffsets()
	if err != nil {
		s.Discard()
		return err
	}

	tmpPath := s.targetPath + ".incoming"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		s.Discard()
		return fmt.Errorf("chunkstore: create temp file %s: %w", tmpPath, err)
	}

	orig, origErr := os.Open(s.targetPath)
	var origSize int64
	if origErr == nil {
		defer orig.Close()
		if info, statErr := orig.Stat(); statErr == nil {
			origSize = info.Size()
		}
	} else if !os.IsNotExist(origErr) {
		tmp.Close()
		os.Remove(tmpPath)
		s.Discard()
		return fmt.Errorf("chunkstore: open original %s: %w", s.targetPath, origErr)
	}

	// cursor is the read position in the original; written counts the
	// bytes already in the temp file.
	var cursor, written int64
	for _, offset := range offsets {
		pending, err := s.readOp(offset)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			s.Discard()
			return err
		}

		// REMOVE and MODIFY offsets are positions in the original, so the
		// gap before them is measured from cursor; ADD offsets are
		// positions in the new file, so the gap is measured from written.
		pos := cursor
		if pending.op.Kind == snapshot.OpAdd {
			pos = written
		}

		if pending.op.Offset < pos {
			tmp.Close()
			os.Remove(tmpPath)
			s.Discard()
			return fmt.Errorf("chunkstore: overlapping op at offset %d (already at %d)", pending.op.Offset, pos)
		}

		if gap := pending.op.Offset - pos; gap > 0 {
			if err := copySpan(tmp, orig, cursor, gap); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				s.Discard()
				return err
			}
			cursor += gap
			written += gap
		}

		switch pending.op.Kind {
		case snapshot.OpAdd:
			if _, err := tmp.Write(pending.payload); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				s.Discard()
				return fmt.Errorf("chunkstore: write ADD payload: %w", err)
			}
			written += pending.op.NewSize
		case snapshot.OpRemove:
			if pending.op.Offset+pending.op.OldSize > origSize {
				tmp.Close()
				os.Remove(tmpPath)
				s.Discard()
				return fmt.Errorf("chunkstore: REMOVE at offset %d size %d past original EOF %d", pending.op.Offset, pending.op.OldSize, origSize)
			}
			cursor += pending.op.OldSize
		case snapshot.OpModify:
			if _, err := tmp.Write(pending.payload); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				s.Discard()
				return fmt.Errorf("chunkstore: write MODIFY payload: %w", err)
			}
			cursor += pending.op.OldSize
			written += pending.op.NewSize
		default:
			tmp.Close()
			os.Remove(tmpPath)
			s.Discard()
			return fmt.Errorf("chunkstore: unknown op kind %v at offset %d", pending.op.Kind, pending.op.Offset)
		}
	}

	if orig != nil && cursor < origSize {
		if err := copySpan(tmp, orig, cursor, origSize-cursor); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			s.Discard()
			return err
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		s.Discard()
		return fmt.Errorf("chunkstore: close temp file: %w", err)
	}

	if err := replaceFile(tmpPath, s.targetPath); err != nil {
		s.Discard()
		return err
	}

	return s.Discard()
}

// Discard removes the scratch directory without touching the target
// file. Safe to call after Finalize or on any error path. A stale
// scratch dir left by a crashed process is cleared by Open instead.
func (s *Session) Discard() error {
	return os.RemoveAll(s.scratchDir)
}

func (s *Session) sortedOffsets() ([]int64, error) {
	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: list scratch dir %s: %w", s.scratchDir, err)
	}

	var offsets []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "chunk-") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, "chunk-"), ".bin")
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Warn("chunkstore: ignoring malformed scratch entry %s", name)
			continue
		}
		offsets = append(offsets, offset)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

func copySpan(dst io.Writer, src *os.File, from, length int64) error {
	if src == nil {
		return fmt.Errorf("chunkstore: need to copy %d bytes from original but it does not exist", length)
	}
	if _, err := src.Seek(from, io.SeekStart); err != nil {
		return fmt.Errorf("chunkstore: seek original to %d: %w", from, err)
	}
	if _, err := io.CopyN(dst, src, length); err != nil {
		return fmt.Errorf("chunkstore: copy %d bytes from original at %d: %w", length, from, err)
	}
	return nil
}

func replaceFile(tmpPath, targetPath string) error {
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunkstore: remove original %s: %w", targetPath, err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return fmt.Errorf("chunkstore: rename %s over %s: %w", tmpPath, targetPath, err)
	}
	return nil
}
