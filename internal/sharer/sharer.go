// Package sharer runs the capture side of a stream: it reads frames from a
// device, encodes them and writes them to the single peer that connects.
package sharer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/capture"
	"github.com/bryanchriswhite/FaceRelay/internal/codec"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/bryanchriswhite/FaceRelay/internal/metrics"
	"github.com/bryanchriswhite/FaceRelay/internal/protocol"
	"github.com/bryanchriswhite/FaceRelay/internal/session"
)

// DefaultListenAddr is the well-known sharer port.
const DefaultListenAddr = ":5000"

// DefaultStopGrace bounds how long Stop waits for the frame being written.
const DefaultStopGrace = 2 * time.Second

// Options configures a Sharer
type Options struct {
	ListenAddr string
	// StopGrace is the write deadline applied to an in-flight frame once
	// Stop is requested. A peer that keeps reading gets the whole frame.
	StopGrace time.Duration
}

// Sharer owns one capture session at a time.
type Sharer struct {
	opener  capture.Opener
	codec   *codec.Codec
	opts    Options
	metrics *metrics.Metrics
	life    *session.Lifecycle

	mu   sync.Mutex
	addr net.Addr
}

// New creates an idle sharer. m may be nil.
func New(opener capture.Opener, c *codec.Codec, opts Options, m *metrics.Metrics) *Sharer {
	if opts.ListenAddr == "" {
		opts.ListenAddr = DefaultListenAddr
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	s := &Sharer{
		opener:  opener,
		codec:   c,
		opts:    opts,
		metrics: m,
		life:    session.New(session.DirectionCapture),
	}
	s.life.OnEnd(func(st session.Status) {
		s.metrics.SessionEnded(string(st.Direction), string(st.Exit))
	})
	return s
}

// Start acquires the device and begins listening. Accepting the peer and
// streaming happen on a background worker. Start on an active sharer is a
// no-op.
func (s *Sharer) Start() error {
	ctx, err := s.life.Begin(session.StateListening)
	if errors.Is(err, session.ErrAlreadyActive) {
		return nil
	}
	s.metrics.SessionStarted(string(session.DirectionCapture))

	log := logger.WithSession("sharer", s.life.ID())

	dev, err := s.opener()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open capture device")
		s.life.Abort(session.ExitDeviceError, err)
		return err
	}

	ln, err := net.Listen("tcp", s.opts.ListenAddr)
	if err != nil {
		dev.Close()
		cerr := &protocol.ConnectionError{Op: "listen", Err: err}
		log.Error().Err(cerr).Str("addr", s.opts.ListenAddr).Msg("Failed to listen")
		s.life.Abort(session.ExitErrored, cerr)
		return cerr
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	log.Info().
		Str("device", dev.Name()).
		Str("addr", ln.Addr().String()).
		Msg("Waiting for monitor to connect")

	s.life.Go(func() (session.Exit, error) {
		exit, err := s.run(ctx, dev, ln)
		if err != nil && !s.life.Stopping() {
			log.Error().Err(err).Str("exit", string(exit)).Msg("Capture session ended")
		} else {
			log.Info().Str("exit", string(exit)).Msg("Capture session ended")
		}
		return exit, err
	})
	return nil
}

func (s *Sharer) run(ctx context.Context, dev capture.Device, ln net.Listener) (session.Exit, error) {
	defer dev.Close()

	stopAccept := context.AfterFunc(ctx, func() { ln.Close() })
	nc, err := ln.Accept()
	stopAccept()
	ln.Close()
	if err != nil {
		return session.ExitErrored, &protocol.ConnectionError{Op: "accept", Err: err}
	}

	conn := protocol.NewConn(nc)
	defer conn.Close()
	// The current frame is finished before the loop observes the stop flag.
	// The deadline only cuts off a peer that has stopped reading.
	grace := s.opts.StopGrace
	stopConn := context.AfterFunc(ctx, func() {
		nc.SetWriteDeadline(time.Now().Add(grace))
	})
	defer stopConn()

	s.life.SetPeer(conn.RemoteAddr())
	s.life.SetState(session.StateConnected)

	log := logger.WithSession("sharer", s.life.ID())
	log.Info().Str("peer", conn.RemoteAddr()).Msg("Monitor connected")

	s.life.SetState(session.StateStreaming)
	for !s.life.Stopping() {
		frame, err := dev.Read()
		if err != nil {
			return session.ExitDeviceError, err
		}

		payload, err := s.codec.Encode(frame)
		if err != nil {
			s.life.AddSkipped()
			log.Warn().Err(err).Msg("Skipping frame")
			continue
		}

		if err := conn.WriteFrame(payload); err != nil {
			return session.ExitDisconnected, err
		}

		s.life.AddFrame()
		s.metrics.FrameSent(len(payload))
		log.Debug().Int("bytes", len(payload)).Msg("Frame sent")
	}

	return session.ExitStopped, nil
}

// Stop ends the session and waits until the device and connection are
// released. Safe to call repeatedly and from any goroutine.
func (s *Sharer) Stop() {
	s.life.Stop()
}

// Status returns a snapshot of the current or last session
func (s *Sharer) Status() session.Status {
	return s.life.Status()
}

// Done is closed when the current session's worker has exited.
func (s *Sharer) Done() <-chan struct{} {
	return s.life.Done()
}

// Addr returns the address the last session listened on.
func (s *Sharer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
