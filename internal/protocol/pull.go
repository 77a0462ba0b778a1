package protocol

import (
	"fmt"

	"github.com/Raqibreyaz/synclet/internal/chunkstore"
	"github.com/Raqibreyaz/synclet/internal/snapshot"
	"github.com/Raqibreyaz/synclet/internal/wire"
)

// RequestSnapVersion issues REQ_SNAP_VERSION and returns the peer's
// current fingerprint.
func (s *Session) RequestSnapVersion() (string, error) {
	if err := s.Msg.Send(wire.TagReqSnapVersion, wire.ReqSnapVersion{}); err != nil {
		return "", err
	}
	tag, fields, err := s.Msg.Receive()
	if err != nil {
		return "", err
	}
	if tag != wire.TagSnapVersion {
		return "", fmt.Errorf("protocol state violation: expected SNAP_VERSION, got %s", tag)
	}
	var v wire.SnapVersion
	if err := wire.Decode(fields, &v); err != nil {
		return "", err
	}
	return v.Fingerprint, nil
}

// RequestSnap issues REQ_SNAP and returns the peer's full file index.
func (s *Session) RequestSnap() (snapshot.DirSnapshot, error) {
	if err := s.Msg.Send(wire.TagReqSnap, wire.ReqSnap{}); err != nil {
		return snapshot.DirSnapshot{}, err
	}
	tag, fields, err := s.Msg.Receive()
	if err != nil {
		return snapshot.DirSnapshot{}, err
	}
	if tag != wire.TagDataSnap {
		return snapshot.DirSnapshot{}, fmt.Errorf("protocol state violation: expected DATA_SNAP, got %s", tag)
	}
	var d wire.DataSnap
	if err := wire.Decode(fields, &d); err != nil {
		return snapshot.DirSnapshot{}, err
	}
	return fromWireFiles(d.Files), nil
}

// RequestDirList issues REQ_DIR_LIST and returns the peer's directory
// set; the caller merges it into the DirSnapshot returned by RequestSnap.
func (s *Session) RequestDirList() ([]string, error) {
	if err := s.Msg.Send(wire.TagReqDirList, wire.ReqDirList{}); err != nil {
		return nil, err
	}
	tag, fields, err := s.Msg.Receive()
	if err != nil {
		return nil, err
	}
	if tag != wire.TagDirList {
		return nil, fmt.Errorf("protocol state violation: expected DIR_LIST, got %s", tag)
	}
	var d wire.DirList
	if err := wire.Decode(fields, &d); err != nil {
		return nil, err
	}
	return d.Dirs, nil
}

// requestChunk issues REQ_CHUNK for one byte range and returns the raw
// bytes the peer sent back, without touching any local file.
func (s *Session) requestChunk(relName string, offset, chunkSize int64) ([]byte, error) {
	if err := s.Msg.Send(wire.TagReqChunk, wire.ReqChunk{Filename: relName, Offset: offset, ChunkSize: chunkSize}); err != nil {
		return nil, err
	}

	tag, fields, err := s.Msg.Receive()
	if err != nil {
		return nil, err
	}
	if tag != wire.TagSendChunk {
		return nil, fmt.Errorf("protocol state violation: expected SEND_CHUNK, got %s", tag)
	}
	var sc wire.SendChunk
	if err := wire.Decode(fields, &sc); err != nil {
		return nil, err
	}

	return s.Msg.ReceiveBytes(sc.ChunkSize)
}

// PullModification applies mod to the local copy of relName, where mod
// must have been computed with the peer's copy as the new side (i.e.
// GetFileModification(peerFile, localFile)) so that each op's
// Offset/NewSize describes a byte range in the peer's file. ADD/MODIFY
// payload bytes are fetched from the peer via REQ_CHUNK; every op,
// including REMOVE, is routed through a single ChunkStore session and
// applied with one Finalize call, mirroring how the receiving side of a
// push reconstructs a file in apply.go's receiveModifiedChunk.
func (s *Session) PullModification(relName string, mod snapshot.FileModification) error {
	cs, err := chunkstore.Open(s.abs(relName))
	if err != nil {
		return err
	}

	s.progressStart(relName, len(mod.Ops))
	defer s.progressFinish(relName)

	for _, op := range mod.Ops {
		var payload []byte
		if op.Kind == snapshot.OpAdd || op.Kind == snapshot.OpModify {
			payload, err = s.requestChunk(relName, op.Offset, op.NewSize)
			if err != nil {
				cs.Discard()
				return fmt.Errorf("fetch range for %s at %d: %w", relName, op.Offset, err)
			}
		}
		if err := cs.SaveOp(op, payload); err != nil {
			cs.Discard()
			return fmt.Errorf("save pulled op for %s: %w", relName, err)
		}
		s.progressTick(relName)
	}

	return cs.Finalize()
}

// RequestDownloadFiles issues REQ_DOWNLOAD_FILES and receives a
// SEND_FILE sequence per filename, in request order.
func (s *Session) RequestDownloadFiles(filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	if err := s.Msg.Send(wire.TagReqDownloadFiles, wire.ReqDownloadFiles{Filenames: filenames}); err != nil {
		return err
	}

	for _, want := range filenames {
		tag, fields, err := s.Msg.Receive()
		if err != nil {
			return err
		}
		if tag != wire.TagSendFile {
			return fmt.Errorf("protocol state violation: expected SEND_FILE for %s, got %s", want, tag)
		}
		var sf wire.SendFile
		if err := wire.Decode(fields, &sf); err != nil {
			return err
		}
		if sf.Filename != want {
			return fmt.Errorf("protocol state violation: SEND_FILE for %s while expecting %s", sf.Filename, want)
		}
		if err := s.receiveSendFile(sf, func() {}); err != nil {
			return err
		}
	}

	return nil
}
