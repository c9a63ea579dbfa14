package wire

import (
	"errors"
	"sync"
)

// ErrBackpressureOverflow is returned when a push would take the
// buffer past its absolute watermark; the caller must close the
// connection.
var ErrBackpressureOverflow = errors.New("wire: backpressure buffer exceeded max watermark")

// Watermarks configures the three levels a Buffer reacts to: Low is
// where a paused reader may resume, High is where a draining reader
// should pause, and Max is the hard cap past which the connection is
// aborted.
type Watermarks struct {
	Low  int
	High int
	Max  int
}

// DefaultWatermarks match the §6 configuration surface defaults.
func DefaultWatermarks() Watermarks {
	return Watermarks{Low: 1 << 20, High: 4 << 20, Max: 16 << 20}
}

// Buffer queues decoded frame payloads between the socket reader and
// the packet-processing logic, signalling back-pressure at the high
// watermark and refusing pushes past the max watermark. Safe for
// concurrent Push/Pop from a single producer and a single consumer.
type Buffer struct {
	mu     sync.Mutex
	frames [][]byte
	bytes  int
	wm     Watermarks
	paused bool
}

// NewBuffer constructs a Buffer with the given watermarks.
func NewBuffer(wm Watermarks) *Buffer {
	return &Buffer{wm: wm}
}

// Push enqueues frame. pause reports whether the buffer just crossed
// (or remains above) the high watermark, in which case the caller
// should stop reading from the socket until a Pop reports resume. err
// is ErrBackpressureOverflow if frame would push the buffer past Max;
// the frame is not enqueued and the connection should be closed.
func (b *Buffer) Push(frame []byte) (pause bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bytes+len(frame) > b.wm.Max {
		return b.paused, ErrBackpressureOverflow
	}
	b.frames = append(b.frames, frame)
	b.bytes += len(frame)
	if !b.paused && b.bytes >= b.wm.High {
		b.paused = true
	}
	return b.paused, nil
}

// Pop dequeues the oldest frame, if any. resume reports whether bytes
// just drained back to or below the low watermark after a prior
// pause, in which case the caller may resume reading from the socket.
func (b *Buffer) Pop() (frame []byte, resume bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil, false, false
	}
	frame = b.frames[0]
	b.frames = b.frames[1:]
	b.bytes -= len(frame)
	if b.paused && b.bytes <= b.wm.Low {
		b.paused = false
		resume = true
	}
	return frame, resume, true
}

// Len reports the number of buffered, undelivered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Paused reports whether the buffer is currently signalling
// back-pressure.
func (b *Buffer) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}
