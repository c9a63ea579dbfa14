package wire

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	flagAuthPresent byte = 1 << 0
	envelopeMinSize      = 1 + 1 + 16 // flags + message_type + correlation_id
	maxAuthFieldLen      = 255
)

// Packet is the on-wire envelope described by §3/§6: a correlation id
// and message-type tag, an optional login/password pair, and an
// opaque payload produced by a Codec. It never interprets Payload
// itself.
type Packet struct {
	MessageType   byte
	CorrelationID uuid.UUID
	Login         string
	Password      string
	Payload       []byte
}

// HasAuth reports whether the packet carries credentials. An empty
// login and password both being unset means "no auth field at all",
// not "auth field present but empty" — servers may refuse such
// requests per §4.D.
func (p Packet) HasAuth() bool { return p.Login != "" || p.Password != "" }

// Encode serialises p into its on-wire byte representation, not
// including the 4-byte length prefix (that is Frame's job).
func Encode(p Packet) ([]byte, error) {
	if len(p.Login) > maxAuthFieldLen || len(p.Password) > maxAuthFieldLen {
		return nil, fmt.Errorf("wire: auth field exceeds %d bytes", maxAuthFieldLen)
	}
	size := envelopeMinSize + len(p.Payload)
	hasAuth := p.HasAuth()
	if hasAuth {
		size += 1 + len(p.Login) + 1 + len(p.Password)
	}
	buf := make([]byte, size)

	var flags byte
	if hasAuth {
		flags |= flagAuthPresent
	}
	buf[0] = flags
	buf[1] = p.MessageType
	copy(buf[2:18], p.CorrelationID[:])

	off := 18
	if hasAuth {
		buf[off] = byte(len(p.Login))
		off++
		off += copy(buf[off:], p.Login)
		buf[off] = byte(len(p.Password))
		off++
		off += copy(buf[off:], p.Password)
	}
	copy(buf[off:], p.Payload)
	return buf, nil
}

// Decode parses a packet from the bytes produced by Encode (i.e. one
// frame payload, without its length prefix).
func Decode(b []byte) (Packet, error) {
	if len(b) < envelopeMinSize {
		return Packet{}, fmt.Errorf("%w: packet shorter than envelope header", ErrInvalidFrame)
	}
	flags := b[0]
	p := Packet{MessageType: b[1]}
	copy(p.CorrelationID[:], b[2:18])

	off := 18
	if flags&flagAuthPresent != 0 {
		if off >= len(b) {
			return Packet{}, fmt.Errorf("%w: truncated auth login length", ErrInvalidFrame)
		}
		loginLen := int(b[off])
		off++
		if off+loginLen > len(b) {
			return Packet{}, fmt.Errorf("%w: truncated auth login", ErrInvalidFrame)
		}
		p.Login = string(b[off : off+loginLen])
		off += loginLen

		if off >= len(b) {
			return Packet{}, fmt.Errorf("%w: truncated auth password length", ErrInvalidFrame)
		}
		pwLen := int(b[off])
		off++
		if off+pwLen > len(b) {
			return Packet{}, fmt.Errorf("%w: truncated auth password", ErrInvalidFrame)
		}
		p.Password = string(b[off : off+pwLen])
		off += pwLen
	}
	p.Payload = append([]byte(nil), b[off:]...)
	return p, nil
}
