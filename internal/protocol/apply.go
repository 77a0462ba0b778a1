package protocol

import (
	"fmt"
	"os"

	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/internal/wire"
)

// receiveSendFile reads m.NChunks SEND_CHUNK frames (each immediately
// followed by chunk_size raw bytes) and appends them in order to a
// freshly truncated target file.
func (s *Session) receiveSendFile(m wire.SendFile, onLocalChange func()) error {
	path := s.abs(m.Filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create target for SEND_FILE %s: %w", m.Filename, err)
	}
	defer f.Close()

	s.progressStart(m.Filename, m.NChunks)
	defer s.progressFinish(m.Filename)

	for i := 0; i < m.NChunks; i++ {
		tag, fields, err := s.Msg.Receive()
		if err != nil {
			return fmt.Errorf("reading chunk %d/%d of %s: %w", i+1, m.NChunks, m.Filename, err)
		}
		if tag != wire.TagSendChunk {
			return fmt.Errorf("protocol state violation: expected SEND_CHUNK, got %s", tag)
		}

		var sc wire.SendChunk
		if err := wire.Decode(fields, &sc); err != nil {
			return err
		}
		if sc.Filename != m.Filename {
			return fmt.Errorf("protocol state violation: SEND_CHUNK for %s during SEND_FILE of %s", sc.Filename, m.Filename)
		}

		payload, err := s.Msg.ReceiveBytes(sc.ChunkSize)
		if err != nil {
			return err
		}
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("write chunk %d of %s: %w", sc.Ordinal, m.Filename, err)
		}
		s.progressTick(m.Filename)

		if sc.IsLast && i != m.NChunks-1 {
			return fmt.Errorf("protocol state violation: IsLast set before final chunk of %s", m.Filename)
		}
	}

	onLocalChange()
	return nil
}

// receiveModifiedChunk routes one ADD/REMOVE/MODIFY op into the
// filename's ChunkStore session, finalizing on IsLast. Ops for a given
// file must arrive in ascending offset order; on any error mid-stream
// the per-file session is discarded, leaving the original file
// untouched.
func (s *Session) receiveModifiedChunk(m wire.ModifiedChunk, onLocalChange func()) error {
	cs, created, err := s.chunkSession(m.Filename)
	if err != nil {
		return fmt.Errorf("open chunk session for %s: %w", m.Filename, err)
	}
	if created {
		s.progressStart(m.Filename, m.TotalOps)
	}

	var payload []byte
	if m.Kind == wire.OpAdd || m.Kind == wire.OpModify {
		payload, err = s.Msg.ReceiveBytes(m.NewSize)
		if err != nil {
			s.dropChunkSession(m.Filename)
			cs.Discard()
			return err
		}
	}

	op := snapshot.ChunkOp{
		Kind:    snapshot.ChunkOpKind(m.Kind),
		Offset:  m.Offset,
		NewSize: m.NewSize,
		OldSize: m.OldSize,
		IsLast:  m.IsLast,
	}
	if err := cs.SaveOp(op, payload); err != nil {
		s.dropChunkSession(m.Filename)
		cs.Discard()
		return fmt.Errorf("save chunk op for %s: %w", m.Filename, err)
	}
	s.progressTick(m.Filename)

	if m.IsLast {
		s.dropChunkSession(m.Filename)
		if err := cs.Finalize(); err != nil {
			return fmt.Errorf("finalize %s: %w", m.Filename, err)
		}
		s.progressFinish(m.Filename)
		onLocalChange()
	}

	return nil
}

// respondReqChunk serves one REQ_CHUNK by reading the requested byte
// range from the local copy of the file and replying with a single
// SEND_CHUNK frame whose IsLast is always true (a one-shot transfer).
func (s *Session) respondReqChunk(m wire.ReqChunk) error {
	f, err := os.Open(s.abs(m.Filename))
	if err != nil {
		return fmt.Errorf("open %s to serve REQ_CHUNK: %w", m.Filename, err)
	}
	defer f.Close()

	buf := make([]byte, m.ChunkSize)
	if _, err := f.ReadAt(buf, m.Offset); err != nil {
		return fmt.Errorf("read %s at offset %d: %w", m.Filename, m.Offset, err)
	}

	if err := s.Msg.Send(wire.TagSendChunk, wire.SendChunk{
		Filename: m.Filename, ChunkSize: m.ChunkSize, Ordinal: 0, IsLast: true,
	}); err != nil {
		return err
	}
	return s.Msg.SendBytes(buf)
}
