// Package session tracks the lifecycle of one streaming direction: at most one
// worker per Lifecycle, a cooperative stop flag checked once per loop
// iteration, and a Stop that joins the worker.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Direction names which side of the stream a session drives.
type Direction string

const (
	DirectionCapture Direction = "capture"
	DirectionReceive Direction = "receive"
)

// State is the externally visible lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateStreaming  State = "streaming"
	StateStopping   State = "stopping"
)

// Active reports whether a worker may be running in this state.
func (s State) Active() bool {
	return s != StateIdle && s != ""
}

// Exit records why the last session ended.
type Exit string

const (
	ExitNone         Exit = ""
	ExitStopped      Exit = "stopped"
	ExitDisconnected Exit = "disconnected"
	ExitEndOfStream  Exit = "end_of_stream"
	ExitErrored      Exit = "errored"
	ExitDeviceError  Exit = "device_error"
)

// ErrAlreadyActive is returned by Begin when a session is already running.
var ErrAlreadyActive = errors.New("session already active")

// Status is a point-in-time snapshot of a Lifecycle.
type Status struct {
	ID        string    `json:"id,omitempty"`
	Direction Direction `json:"direction"`
	State     State     `json:"state"`
	Peer      string    `json:"peer,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Exit      Exit      `json:"exit,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Frames    uint64    `json:"frames"`
	Dropped   uint64    `json:"dropped"`
	Skipped   uint64    `json:"skipped"`
}

// Lifecycle owns the state machine of one direction. It is safe for
// concurrent use; Stop may be called from any goroutine.
type Lifecycle struct {
	direction Direction

	mu        sync.Mutex
	state     State
	id        string
	peer      string
	startedAt time.Time
	endedAt   time.Time
	exit      Exit
	lastErr   error
	cancel    context.CancelFunc
	done      chan struct{}

	onEnd func(Status)

	stopMu   sync.Mutex
	stopping atomic.Bool

	frames  atomic.Uint64
	dropped atomic.Uint64
	skipped atomic.Uint64
}

// New returns an idle Lifecycle.
func New(direction Direction) *Lifecycle {
	return &Lifecycle{
		direction: direction,
		state:     StateIdle,
	}
}

// OnEnd registers fn to be called with the final status each time a session
// ends, before Stop and Done observe the end. Call it before the first Begin.
func (l *Lifecycle) OnEnd(fn func(Status)) {
	l.mu.Lock()
	l.onEnd = fn
	l.mu.Unlock()
}

// Begin moves an idle lifecycle into initial and returns the session context.
// It fails with ErrAlreadyActive if a session is in progress. The context is
// cancelled by Stop.
func (l *Lifecycle) Begin(initial State) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.Active() {
		return nil, ErrAlreadyActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.state = initial
	l.id = uuid.NewString()
	l.peer = ""
	l.startedAt = time.Now()
	l.endedAt = time.Time{}
	l.exit = ExitNone
	l.lastErr = nil
	l.cancel = cancel
	l.done = make(chan struct{})
	l.stopping.Store(false)
	l.frames.Store(0)
	l.dropped.Store(0)
	l.skipped.Store(0)

	return ctx, nil
}

// Abort ends a session whose setup failed before a worker was started.
func (l *Lifecycle) Abort(exit Exit, err error) {
	l.finish(exit, err)
}

// Go runs fn on the session's worker goroutine. When fn returns, the
// lifecycle is settled with its exit and error and Done is closed. fn must
// have released every resource it owns before returning.
func (l *Lifecycle) Go(fn func() (Exit, error)) {
	go func() {
		exit, err := fn()
		l.finish(exit, err)
	}()
}

func (l *Lifecycle) finish(exit Exit, err error) {
	l.mu.Lock()
	done := l.settleLocked(exit, err)
	st := l.statusLocked()
	hook := l.onEnd
	l.mu.Unlock()

	if hook != nil {
		hook(st)
	}
	if done != nil {
		close(done)
	}
}

func (l *Lifecycle) settleLocked(exit Exit, err error) chan struct{} {
	if l.stopping.Load() && exit != ExitDeviceError {
		// Errors caused by Stop tearing down I/O are not failures.
		exit, err = ExitStopped, nil
	}
	l.state = StateIdle
	l.exit = exit
	l.lastErr = err
	l.endedAt = time.Now()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	return l.done
}

// SetState records a transition made by the worker. Transitions requested
// after Stop has started are ignored so Status keeps reporting stopping.
func (l *Lifecycle) SetState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.Active() || l.state == StateStopping {
		return
	}
	l.state = s
}

// SetPeer records the remote address of the session's connection.
func (l *Lifecycle) SetPeer(addr string) {
	l.mu.Lock()
	l.peer = addr
	l.mu.Unlock()
}

// ID returns the current or last session id.
func (l *Lifecycle) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// Stopping is the cooperative stop flag. Workers check it once per iteration.
func (l *Lifecycle) Stopping() bool {
	return l.stopping.Load()
}

// Stop requests the worker to end and blocks until it has exited and
// released its resources. Stopping an idle lifecycle is a no-op.
func (l *Lifecycle) Stop() {
	l.stopMu.Lock()
	defer l.stopMu.Unlock()

	l.mu.Lock()
	if !l.state.Active() {
		l.mu.Unlock()
		return
	}
	l.stopping.Store(true)
	l.state = StateStopping
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Done is closed when the current session's worker has exited.
func (l *Lifecycle) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return l.done
}

// AddFrame counts a frame that went through the pipeline.
func (l *Lifecycle) AddFrame() { l.frames.Add(1) }

// AddDropped counts a frame replaced before the renderer consumed it.
func (l *Lifecycle) AddDropped() { l.dropped.Add(1) }

// AddSkipped counts a frame skipped because its payload could not be decoded.
func (l *Lifecycle) AddSkipped() { l.skipped.Add(1) }

// Status returns a snapshot of the lifecycle.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Lifecycle) statusLocked() Status {
	st := Status{
		ID:        l.id,
		Direction: l.direction,
		State:     l.state,
		Peer:      l.peer,
		StartedAt: l.startedAt,
		EndedAt:   l.endedAt,
		Exit:      l.exit,
		Frames:    l.frames.Load(),
		Dropped:   l.dropped.Load(),
		Skipped:   l.skipped.Load(),
	}
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	return st
}

// Err returns the error that ended the last session, if any.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}
