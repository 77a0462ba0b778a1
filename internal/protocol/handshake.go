package protocol

import (
	"fmt"
	"time"

	"github.com/Raqibreyaz/synclet/internal/wire"
)

// HandshakeWait bounds how long a receiver waits for the OTP frame
// before giving up on a newly-accepted connection.
const HandshakeWait = 10 * time.Second

// SendHandshakeOtp writes the OTP frame a sender must send as the very
// first message on a freshly-dialed connection, then waits for the
// receiver's OTP_ACK. A rejected OTP is returned as an error; the
// caller is expected to close the connection.
func (s *Session) SendHandshakeOtp(token string) error {
	if err := s.Msg.Send(wire.TagOtp, wire.Otp{Token: token}); err != nil {
		return fmt.Errorf("send handshake otp: %w", err)
	}

	tag, fields, err := s.Msg.Receive()
	if err != nil {
		return fmt.Errorf("receive handshake ack: %w", err)
	}
	if tag != wire.TagOtpAck {
		return fmt.Errorf("protocol state violation: expected OTP_ACK, got %s", tag)
	}
	var ack wire.OtpAck
	if err := wire.Decode(fields, &ack); err != nil {
		return err
	}
	if !ack.Accepted {
		return fmt.Errorf("handshake rejected: invalid or expired otp")
	}
	return nil
}

// AwaitHandshakeOtp is the receiver side of SendHandshakeOtp: it reads
// the first frame off a freshly-accepted connection, expects it to be
// OTP, and validates the token with validate (normally
// auth.TokenManager.ValidateOtp). Once an OTP frame is decoded it
// answers with OTP_ACK, so the sender learns the outcome even when the
// token is rejected; a receive error, a first frame that is not OTP, or
// an undecodable OTP frame returns without sending an ack.
func (s *Session) AwaitHandshakeOtp(validate func(string) bool) error {
	s.Msg.SetDeadline(time.Now().Add(HandshakeWait))
	defer s.Msg.SetDeadline(time.Time{})

	tag, fields, err := s.Msg.Receive()
	if err != nil {
		return fmt.Errorf("receive handshake otp: %w", err)
	}
	if tag != wire.TagOtp {
		return fmt.Errorf("protocol state violation: expected OTP, got %s", tag)
	}
	var m wire.Otp
	if err := wire.Decode(fields, &m); err != nil {
		return err
	}

	accepted := validate(m.Token)
	if err := s.Msg.Send(wire.TagOtpAck, wire.OtpAck{Accepted: accepted}); err != nil {
		return fmt.Errorf("send handshake ack: %w", err)
	}
	if !accepted {
		return fmt.Errorf("handshake rejected: invalid or expired otp")
	}
	return nil
}
