package protocol

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/bryanchriswhite/FaceRelay/internal/codec"
)

// stream is an in-memory ReadWriteCloser: writes append, reads drain.
type stream struct {
	bytes.Buffer
	closed bool
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}

type failingWriter struct {
	stream
}

func (f *failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestFramingRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 3, 4, 5, 1000, 64 << 10, 1 << 20}

	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 7)
		}

		s := &stream{}
		c := NewConn(s)
		if err := c.WriteFrame(payload); err != nil {
			t.Fatalf("size %d: WriteFrame failed: %v", size, err)
		}
		if s.Len() != HeaderSize+size {
			t.Fatalf("size %d: wrote %d bytes, want %d", size, s.Len(), HeaderSize+size)
		}

		got, err := c.ReadFrame()
		if err != nil {
			t.Fatalf("size %d: ReadFrame failed: %v", size, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("size %d: payload mismatch", size)
		}

		if _, err := c.ReadFrame(); !errors.Is(err, ErrEndOfStream) {
			t.Errorf("size %d: expected end of stream after last frame, got %v", size, err)
		}
	}
}

func TestHeaderIsBigEndian(t *testing.T) {
	s := &stream{}
	c := NewConn(s)
	if err := c.WriteFrame(make([]byte, 0x010203)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	hdr := s.Bytes()[:HeaderSize]
	if !bytes.Equal(hdr, []byte{0x00, 0x01, 0x02, 0x03}) {
		t.Errorf("header = % x, want 00 01 02 03", hdr)
	}
}

func TestReadFrameCleanClosure(t *testing.T) {
	c := NewConn(&stream{})
	payload, err := c.ReadFrame()
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
	if payload != nil {
		t.Errorf("expected nil payload, got %d bytes", len(payload))
	}

	var perr *ProtocolError
	if errors.As(err, &perr) {
		t.Error("clean closure must not be a protocol error")
	}
}

func TestReadFrameTruncatedHeader(t *testing.T) {
	for n := 1; n < HeaderSize; n++ {
		s := &stream{}
		s.Write([]byte{0, 0, 0, 9}[:n])

		_, err := NewConn(s).ReadFrame()
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("%d header bytes: expected *ProtocolError, got %v", n, err)
			continue
		}
		if perr.Reason != "truncated header" {
			t.Errorf("%d header bytes: unexpected reason %q", n, perr.Reason)
		}
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	tests := []struct {
		name     string
		declared uint32
		supplied int
	}{
		{"one short", 10, 9},
		{"no payload bytes", 10, 0},
		{"large one short", 4096, 4095},
	}

	for _, tt := range tests {
		s := &stream{}
		hdr, _ := EncodeHeader(int(tt.declared))
		s.Write(hdr[:])
		s.Write(make([]byte, tt.supplied))

		_, err := NewConn(s).ReadFrame()
		var perr *ProtocolError
		if !errors.As(err, &perr) {
			t.Errorf("%s: expected *ProtocolError, got %v", tt.name, err)
		}
	}
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	s := &stream{}
	hdr, _ := EncodeHeader(2048)
	s.Write(hdr[:])
	s.Write(make([]byte, 2048))

	_, err := NewConn(s, WithMaxPayload(1024)).ReadFrame()
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("expected *ProtocolError, got %T", err)
	}
}

func TestReadFrameWithoutCap(t *testing.T) {
	s := &stream{}
	c := NewConn(s, WithMaxPayload(0))
	payload := bytes.Repeat([]byte{0xAB}, DefaultMaxPayload/8)
	if err := c.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if len(got) != len(payload) {
		t.Errorf("got %d bytes, want %d", len(got), len(payload))
	}
}

func TestWriteFrameConnectionError(t *testing.T) {
	err := NewConn(&failingWriter{}).WriteFrame([]byte("hello"))
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if cerr.Op != "write" {
		t.Errorf("expected op write, got %s", cerr.Op)
	}
}

func TestEncodeHeaderRange(t *testing.T) {
	if _, err := EncodeHeader(-1); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("EncodeHeader(-1): expected ErrPayloadTooLarge, got %v", err)
	}
	hdr, err := EncodeHeader(MaxWireLength)
	if err != nil {
		t.Fatalf("EncodeHeader(MaxWireLength) failed: %v", err)
	}
	if DecodeHeader(hdr) != MaxWireLength {
		t.Errorf("DecodeHeader = %d, want %d", DecodeHeader(hdr), uint32(MaxWireLength))
	}
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	const writers = 8
	const perWriter = 50

	s := &stream{}
	c := NewConn(s)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{id}, 100+int(id)*37)
			for i := 0; i < perWriter; i++ {
				if err := c.WriteFrame(payload); err != nil {
					t.Errorf("writer %d: %v", id, err)
					return
				}
			}
		}(byte(w + 1))
	}
	wg.Wait()

	count := 0
	for {
		payload, err := c.ReadFrame()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed after %d frames: %v", count, err)
		}
		id := payload[0]
		if len(payload) != 100+int(id)*37 {
			t.Fatalf("frame %d: length %d does not match writer %d", count, len(payload), id)
		}
		for _, b := range payload {
			if b != id {
				t.Fatalf("frame %d: bytes from two writers interleaved", count)
			}
		}
		count++
	}
	if count != writers*perWriter {
		t.Errorf("read %d frames, want %d", count, writers*perWriter)
	}
}

func TestReadFrameAcrossFragmentedReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	payload := bytes.Repeat([]byte("frame"), 300)
	go func() {
		hdr, _ := EncodeHeader(len(payload))
		wire := append(hdr[:], payload...)
		for i := 0; i < len(wire); i += 7 {
			end := i + 7
			if end > len(wire) {
				end = len(wire)
			}
			if _, err := server.Write(wire[i:end]); err != nil {
				return
			}
		}
		server.Close()
	}()

	c := NewConn(client)
	got, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch after fragmented delivery")
	}
	if _, err := c.ReadFrame(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("expected ErrEndOfStream, got %v", err)
	}
}

func TestLoopbackSolidRedFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	cod := codec.New(codec.DefaultQuality)
	src := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(src, src.Bounds(), &image.Uniform{color.RGBA{R: 255, A: 255}}, image.Point{}, draw.Src)

	sendErr := make(chan error, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			sendErr <- err
			return
		}
		conn := NewConn(nc)
		defer conn.Close()

		payload, err := cod.Encode(src)
		if err != nil {
			sendErr <- err
			return
		}
		sendErr <- conn.WriteFrame(payload)
	}()

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn := NewConn(nc)
	defer conn.Close()

	payload, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("sender failed: %v", err)
	}

	frame, err := cod.Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if frame.Bounds().Dx() != 64 || frame.Bounds().Dy() != 64 {
		t.Fatalf("expected 64x64, got %v", frame.Bounds())
	}

	var r, g, b, n int
	for i := 0; i < len(frame.Pix); i += 4 {
		r += int(frame.Pix[i])
		g += int(frame.Pix[i+1])
		b += int(frame.Pix[i+2])
		n++
	}
	if r/n < 240 || g/n > 15 || b/n > 15 {
		t.Errorf("mean colour (%d,%d,%d) not within tolerance of pure red", r/n, g/n, b/n)
	}

	if _, err := conn.ReadFrame(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("expected ErrEndOfStream after sender closed, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := &stream{}
	c := NewConn(s)
	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if !s.closed {
		t.Error("underlying stream not closed")
	}
}

var _ io.ReadWriteCloser = (*stream)(nil)
