package monitor

import (
	"image"
	"sync"
)

// Slot is a single-frame mailbox between the network worker and the render
// goroutine. Put never blocks: a frame the renderer has not taken yet is
// replaced by the newer one.
type Slot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *image.RGBA
	closed bool
	drops  uint64
}

// NewSlot returns an empty slot
func NewSlot() *Slot {
	s := &Slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Put stores frame, reporting whether an unconsumed frame was dropped.
// Ownership of frame passes to the slot. Put after Close discards frame.
func (s *Slot) Put(frame *image.RGBA) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.frame != nil {
		dropped = true
		s.drops++
	}
	s.frame = frame
	s.cond.Signal()
	return dropped
}

// Take blocks until a frame is available or the slot is closed. A frame
// pending at Close is still returned; ok is false once the slot is closed
// and empty.
func (s *Slot) Take() (frame *image.RGBA, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.frame == nil && !s.closed {
		s.cond.Wait()
	}
	if s.frame == nil {
		return nil, false
	}
	frame, s.frame = s.frame, nil
	return frame, true
}

// Close wakes any blocked Take.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cond.Broadcast()
}

// Drops returns the number of frames replaced before they were taken
func (s *Slot) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}
