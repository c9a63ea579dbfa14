// Package wire implements the length-prefixed frame codec and packet
// envelope that sit directly on top of the TCP socket.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload a frame may declare. Frames
// claiming more are a protocol error.
const MaxFrameSize = 64 << 20 // 64 MiB

// ErrInvalidFrame is returned for any framing violation: an oversized
// declared length, a truncated header, or a header that doesn't match
// what follows.
var ErrInvalidFrame = errors.New("wire: invalid frame")

const lengthPrefixSize = 4

// WriteFrame prepends a 4-byte little-endian length header (the
// length of payload, excluding the header itself) and writes both to
// w in a single call where possible.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds max frame size %d", ErrInvalidFrame, len(payload), MaxFrameSize)
	}
	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame blocks until a complete frame is available on r and
// returns its payload. It is the simple, blocking counterpart to
// Decoder, suitable when r already buffers (e.g. a *bufio.Reader).
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	sz := binary.LittleEndian.Uint32(header[:])
	if sz > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d exceeds max frame size %d", ErrInvalidFrame, sz, MaxFrameSize)
	}
	payload := make([]byte, sz)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Decoder accumulates bytes fed from the socket in arbitrary chunks
// and yields complete frame payloads as they become available. Unlike
// ReadFrame it never blocks and never over-consumes: a Feed of a
// single byte followed by many more single-byte Feeds produces
// exactly the same frames as one large Feed of the concatenation.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Feed appends b to the internal buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next extracts the next complete frame from the buffered bytes, if
// one has fully arrived. ok is false (with a nil error) when more
// bytes are needed. err is non-nil only for a malformed declared
// length, at which point the Decoder should be discarded along with
// the connection.
func (d *Decoder) Next() (payload []byte, ok bool, err error) {
	if len(d.buf) < lengthPrefixSize {
		return nil, false, nil
	}
	sz := binary.LittleEndian.Uint32(d.buf[:lengthPrefixSize])
	if sz > MaxFrameSize {
		return nil, false, fmt.Errorf("%w: declared length %d exceeds max frame size %d", ErrInvalidFrame, sz, MaxFrameSize)
	}
	total := lengthPrefixSize + int(sz)
	if len(d.buf) < total {
		return nil, false, nil
	}
	payload = make([]byte, sz)
	copy(payload, d.buf[lengthPrefixSize:total])
	// Drop the consumed prefix without retaining the whole backing
	// array forever.
	remaining := len(d.buf) - total
	copy(d.buf, d.buf[total:])
	d.buf = d.buf[:remaining]
	return payload, true, nil
}

// Buffered reports how many undecoded bytes are currently held.
func (d *Decoder) Buffered() int { return len(d.buf) }
