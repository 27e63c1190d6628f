// Package protocol implements the length-prefixed wire framing used between
// a sharer and a monitor.
//
// Each wire frame is a 4-byte big-endian unsigned payload length followed by
// exactly that many payload bytes. There is no type, version or checksum
// field; the stream relies on TCP for ordering and integrity and ends when
// the peer closes the connection.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
)

const (
	// HeaderSize is the width of the length prefix in bytes.
	HeaderSize = 4

	// MaxWireLength is the largest length the header can express.
	MaxWireLength = math.MaxUint32

	// DefaultMaxPayload bounds what ReadFrame will allocate for one payload.
	DefaultMaxPayload = 32 << 20
)

var (
	// ErrEndOfStream signals that the peer closed the stream on a frame boundary.
	ErrEndOfStream = errors.New("end of stream")

	// ErrPayloadTooLarge is wrapped by the ProtocolError returned when a
	// declared length exceeds the reader's cap or the header range.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ProtocolError reports malformed framing. The byte stream cannot be
// resynchronised after one, so the owning session must end.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConnectionError reports a failure of the underlying byte stream.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// EncodeHeader returns the length prefix for a payload of n bytes.
func EncodeHeader(n int) ([HeaderSize]byte, error) {
	var hdr [HeaderSize]byte
	if n < 0 || uint64(n) > MaxWireLength {
		return hdr, &ProtocolError{Reason: fmt.Sprintf("payload of %d bytes does not fit header", n), Err: ErrPayloadTooLarge}
	}
	binary.BigEndian.PutUint32(hdr[:], uint32(n))
	return hdr, nil
}

// DecodeHeader returns the payload length declared by hdr.
func DecodeHeader(hdr [HeaderSize]byte) uint32 {
	return binary.BigEndian.Uint32(hdr[:])
}

// Option configures a Conn.
type Option func(*Conn)

// WithMaxPayload caps the payload length ReadFrame accepts. Zero disables the cap.
func WithMaxPayload(n uint32) Option {
	return func(c *Conn) {
		c.maxPayload = n
	}
}

// Conn wraps a byte stream with frame-level read and write primitives.
// One goroutine may read while another writes; concurrent writers are
// serialised so that frames never interleave.
type Conn struct {
	rwc        io.ReadWriteCloser
	maxPayload uint32

	wmu sync.Mutex
	rmu sync.Mutex
	hdr [HeaderSize]byte

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps rwc. The Conn owns rwc from here on and closes it in Close.
func NewConn(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	c := &Conn{
		rwc:        rwc,
		maxPayload: DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WriteFrame writes the length header and payload as a single logical write.
func (c *Conn) WriteFrame(payload []byte) error {
	hdr, err := EncodeHeader(len(payload))
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	bufs := net.Buffers{hdr[:], payload}
	want := int64(HeaderSize + len(payload))
	n, err := bufs.WriteTo(c.rwc)
	if err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	if n != want {
		return &ConnectionError{Op: "write", Err: io.ErrShortWrite}
	}
	return nil
}

// ReadFrame reads one payload. It returns ErrEndOfStream if the stream ends
// cleanly before a header starts, a *ProtocolError for truncated or oversized
// frames and a *ConnectionError for transport failures.
func (c *Conn) ReadFrame() ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if _, err := io.ReadFull(c.rwc, c.hdr[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, ErrEndOfStream
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, &ProtocolError{Reason: "truncated header", Err: err}
		default:
			return nil, &ConnectionError{Op: "read", Err: err}
		}
	}

	n := DecodeHeader(c.hdr)
	if c.maxPayload > 0 && n > c.maxPayload {
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("declared length %d exceeds limit %d", n, c.maxPayload),
			Err:    ErrPayloadTooLarge,
		}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.rwc, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Reason: fmt.Sprintf("truncated payload, expected %d bytes", n), Err: io.ErrUnexpectedEOF}
		}
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	return payload, nil
}

// RemoteAddr returns the peer address if the stream is a net.Conn.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rwc.(net.Conn); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return ""
}

// Close closes the underlying stream. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}
