package render

import (
	"sync"

	"github.com/gyaneshwarpardhi/skilltree/internal/dag"
)

// Frame is one coalesced redraw request.
type Frame struct {
	Seq     uint64
	Changed dag.IDSet
	Full    bool
}

// Scheduler merges change sets into a single pending frame. At most one frame
// is pending at any time; further Schedule calls before it fires widen it.
type Scheduler struct {
	clock Clock
	flush func(Frame)

	mu      sync.Mutex
	seq     uint64
	pending *pendingFrame
	closed  bool
}

type pendingFrame struct {
	changed dag.IDSet
	full    bool
	cancel  func()
}

// NewScheduler creates a scheduler that calls flush on clock frames.
func NewScheduler(clock Clock, flush func(Frame)) *Scheduler {
	return &Scheduler{clock: clock, flush: flush}
}

// Schedule queues changed for the next frame. full is sticky until the frame
// fires.
func (s *Scheduler) Schedule(changed dag.IDSet, full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.pending == nil {
		s.seq++
		seq := s.seq
		s.pending = &pendingFrame{changed: make(dag.IDSet)}
		s.pending.cancel = s.clock.AfterFrame(func() { s.fire(seq) })
	}
	s.pending.changed.Union(changed)
	s.pending.full = s.pending.full || full
}

func (s *Scheduler) fire(seq uint64) {
	shouldRun, frame := func() (bool, Frame) {
		s.mu.Lock()
		defer s.mu.Unlock()

		// A stale timer may still fire after Close or a newer frame.
		if s.closed || s.pending == nil || seq != s.seq {
			return false, Frame{}
		}
		p := s.pending
		s.pending = nil
		return true, Frame{Seq: seq, Changed: p.changed, Full: p.full}
	}()
	if !shouldRun {
		return
	}
	s.flush(frame)
}

// Pending reports whether a frame is waiting to fire.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Close cancels any pending frame. No flush runs after Close returns, except
// one that had already started.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.seq++
	if s.pending != nil {
		s.pending.cancel()
		s.pending = nil
	}
}
