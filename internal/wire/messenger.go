package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// maxFrameSize guards against a corrupt or hostile length prefix
// asking for an unreasonable allocation.
const maxFrameSize = 256 * 1024 * 1024

// Messenger is a purely synchronous, non-multiplexed framed channel
// over a single net.Conn. Send and receive block; ordering is FIFO.
type Messenger struct {
	conn net.Conn
}

func New(conn net.Conn) *Messenger {
	return &Messenger{conn: conn}
}

func (m *Messenger) Close() error {
	return m.conn.Close()
}

// SetDeadline bounds the next Send/Receive pair, used by the handshake
// to avoid blocking forever on a connection that never sends its OTP.
// A zero Time clears the deadline.
func (m *Messenger) SetDeadline(t time.Time) error {
	return m.conn.SetDeadline(t)
}

// Send encodes tag+payload as JSON fields, wraps it in a length-prefixed
// frame, and writes it. It does not send any trailing raw bytes — call
// SendBytes afterwards for messages that carry a payload blob.
func (m *Messenger) Send(tag Tag, payload any) error {
	fields, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wire: marshal %s fields: %w", tag, err)
	}

	body, err := json.Marshal(Envelope{Tag: tag, Fields: fields})
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))

	if _, err := m.conn.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := m.conn.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}

	return nil
}

// SendBytes writes exactly len(data) raw bytes immediately following a
// message already sent via Send. Used for MODIFIED_CHUNK/SEND_CHUNK
// payloads.
func (m *Messenger) SendBytes(data []byte) error {
	if _, err := m.conn.Write(data); err != nil {
		return fmt.Errorf("wire: write payload blob: %w", err)
	}
	return nil
}

// Receive reads one frame and returns its tag plus the raw fields,
// which the caller unmarshals into the struct matching that tag.
func (m *Messenger) Receive() (Tag, json.RawMessage, error) {
	var lenPrefix [4]byte
	if err := readFull(m.conn, lenPrefix[:]); err != nil {
		return "", nil, fmt.Errorf("wire: read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(lenPrefix[:])
	if length == 0 {
		return "", nil, fmt.Errorf("wire: zero-length frame")
	}
	if length > maxFrameSize {
		return "", nil, fmt.Errorf("wire: frame declares %d bytes, exceeds max %d", length, maxFrameSize)
	}

	body := make([]byte, length)
	if err := readFull(m.conn, body); err != nil {
		return "", nil, fmt.Errorf("wire: read frame body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, fmt.Errorf("wire: malformed envelope: %w", err)
	}
	if !knownTag(env.Tag) {
		return "", nil, fmt.Errorf("wire: unknown message tag %q", env.Tag)
	}

	return env.Tag, env.Fields, nil
}

// ReceiveBytes reads exactly n raw bytes following a just-received
// message (e.g. the payload after a MODIFIED_CHUNK or SEND_CHUNK
// header).
func (m *Messenger) ReceiveBytes(n int64) ([]byte, error) {
	buf := make([]byte, n)
	if err := readFull(m.conn, buf); err != nil {
		return nil, fmt.Errorf("wire: read %d byte payload: %w", n, err)
	}
	return buf, nil
}

// Decode unmarshals fields into dst, wrapping unmarshal errors as a
// payload-type mismatch.
func Decode(fields json.RawMessage, dst any) error {
	if err := json.Unmarshal(fields, dst); err != nil {
		return fmt.Errorf("wire: payload-type mismatch: %w", err)
	}
	return nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return fmt.Errorf("transport broken: connection closed mid-frame")
	}
	return err
}

func knownTag(t Tag) bool {
	switch t {
	case TagReqSnapVersion, TagSnapVersion, TagReqSnap, TagDataSnap, TagReqDirList, TagDirList,
		TagDirCreate, TagDirRemove, TagDirMoved, TagDirsCreate, TagDirsRemove,
		TagFileCreate, TagFileRemove, TagFilesRemove, TagFileMoved, TagFilesCreate,
		TagModifiedChunk, TagSendFile, TagSendChunk, TagReqChunk, TagReqDownloadFiles,
		TagOtp, TagOtpAck:
		return true
	default:
		return false
	}
}
