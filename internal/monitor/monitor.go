// Package monitor runs the receive side of a stream: it reads framed
// payloads from a sharer, decodes and annotates them and hands the newest
// frame to a renderer running on its own goroutine.
package monitor

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/annotate"
	"github.com/bryanchriswhite/FaceRelay/internal/codec"
	"github.com/bryanchriswhite/FaceRelay/internal/logger"
	"github.com/bryanchriswhite/FaceRelay/internal/metrics"
	"github.com/bryanchriswhite/FaceRelay/internal/output"
	"github.com/bryanchriswhite/FaceRelay/internal/protocol"
	"github.com/bryanchriswhite/FaceRelay/internal/session"
)

// DefaultDialTimeout bounds how long Start waits for the sharer to answer.
const DefaultDialTimeout = 5 * time.Second

// Options configures a Monitor
type Options struct {
	MaxPayload  uint32 // 0 uses protocol.DefaultMaxPayload
	DialTimeout time.Duration
}

// Monitor owns one receive session at a time.
type Monitor struct {
	codec    *codec.Codec
	stage    *annotate.Stage
	renderer output.Output
	opts     Options
	metrics  *metrics.Metrics
	life     *session.Lifecycle
}

// New creates an idle monitor. stage, renderer and m may be nil.
func New(c *codec.Codec, stage *annotate.Stage, renderer output.Output, opts Options, m *metrics.Metrics) *Monitor {
	if opts.MaxPayload == 0 {
		opts.MaxPayload = protocol.DefaultMaxPayload
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	mon := &Monitor{
		codec:    c,
		stage:    stage,
		renderer: renderer,
		opts:     opts,
		metrics:  m,
		life:     session.New(session.DirectionReceive),
	}
	mon.life.OnEnd(func(st session.Status) {
		mon.metrics.SessionEnded(string(st.Direction), string(st.Exit))
	})
	return mon
}

// Start connects to peer and begins receiving on a background worker.
// ctx bounds the dial only. Start on an active monitor is a no-op.
func (m *Monitor) Start(ctx context.Context, peer string) error {
	sctx, err := m.life.Begin(session.StateConnecting)
	if errors.Is(err, session.ErrAlreadyActive) {
		return nil
	}
	m.metrics.SessionStarted(string(session.DirectionReceive))
	m.life.SetPeer(peer)

	log := logger.WithSession("monitor", m.life.ID())
	log.Info().Str("peer", peer).Msg("Connecting to sharer")

	dctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	stopDial := context.AfterFunc(sctx, cancel)
	var d net.Dialer
	nc, err := d.DialContext(dctx, "tcp", peer)
	stopDial()
	cancel()
	if err != nil {
		cerr := &protocol.ConnectionError{Op: "dial", Err: err}
		log.Error().Err(cerr).Msg("Failed to connect")
		m.life.Abort(session.ExitErrored, cerr)
		return cerr
	}

	conn := protocol.NewConn(nc, protocol.WithMaxPayload(m.opts.MaxPayload))
	m.life.SetPeer(conn.RemoteAddr())
	m.life.SetState(session.StateStreaming)
	log.Info().Str("peer", conn.RemoteAddr()).Msg("Connected to sharer")

	m.life.Go(func() (session.Exit, error) {
		exit, err := m.run(sctx, conn)
		if err != nil && !m.life.Stopping() {
			log.Error().Err(err).Str("exit", string(exit)).Msg("Receive session ended")
		} else {
			log.Info().Str("exit", string(exit)).Msg("Receive session ended")
		}
		return exit, err
	})
	return nil
}

func (m *Monitor) run(ctx context.Context, conn *protocol.Conn) (session.Exit, error) {
	defer conn.Close()
	stopConn := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopConn()

	slot := NewSlot()
	var wg sync.WaitGroup
	if m.renderer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.render(slot)
		}()
	}
	defer func() {
		slot.Close()
		wg.Wait()
	}()

	id := m.life.ID()
	log := logger.WithSession("monitor", id)

	for !m.life.Stopping() {
		payload, err := conn.ReadFrame()
		if errors.Is(err, protocol.ErrEndOfStream) {
			return session.ExitEndOfStream, nil
		}
		if err != nil {
			return session.ExitErrored, err
		}
		m.metrics.FrameReceived(len(payload))

		frame, err := m.codec.Decode(payload)
		if err != nil {
			m.life.AddSkipped()
			m.metrics.DecodeError()
			log.Warn().Err(err).Int("bytes", len(payload)).Msg("Skipping undecodable frame")
			continue
		}

		if m.stage != nil {
			start := time.Now()
			results, err := m.stage.Annotate(id, frame)
			if err != nil {
				log.Warn().Err(err).Msg("Annotation failed")
			}
			labels := make([]string, len(results))
			for i, r := range results {
				labels[i] = r.Label
			}
			m.metrics.Annotated(labels, time.Since(start).Seconds())
		}

		m.life.AddFrame()
		if slot.Put(frame) {
			m.life.AddDropped()
			m.metrics.FrameDropped()
		}
	}

	return session.ExitStopped, nil
}

func (m *Monitor) render(slot *Slot) {
	log := logger.WithComponent("monitor")
	for {
		frame, ok := slot.Take()
		if !ok {
			return
		}
		if err := m.renderer.WriteFrame(frame); err != nil {
			log.Debug().Err(err).Str("renderer", m.renderer.Name()).Msg("Renderer rejected frame")
			continue
		}
		m.metrics.FrameRendered()
	}
}

// Stop ends the session and waits until the connection is closed and the
// render goroutine has exited. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.life.Stop()
}

// Status returns a snapshot of the current or last session
func (m *Monitor) Status() session.Status {
	return m.life.Status()
}

// Done is closed when the current session's worker has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.life.Done()
}
