// ABOUTME: Removes the current stream, or everything up to a halt, on request
// ABOUTME: Ramps down before discarding so skips never click
package pipeline

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

type skipperState int

const (
	skipperStarting skipperState = iota
	skipperRunning
	skipperRamping
	skipperFlushing
)

// Skipper discards a stream on request. While flushing it drops audio until
// the Flush promised by the stream's handler; while flushing until a halt it
// drops almost everything until that Halt arrives.
type Skipper struct {
	factory      *msg.Factory
	upstream     Upstream
	rampDuration uint64
	blocker      *gate

	mu                sync.Mutex
	queue             msgQueue
	state             skipperState
	remaining         uint64
	current           uint32
	targetFlushID     uint32
	targetHaltID      uint32
	streamID          uint32
	handler           msg.StreamHandler
	passGeneratedHalt bool
}

func NewSkipper(factory *msg.Factory, upstream Upstream, rampDuration uint64) *Skipper {
	return &Skipper{
		factory:      factory,
		upstream:     upstream,
		rampDuration: rampDuration,
		blocker:      newGate(),
		current:      msg.RampMax,
	}
}

// Block holds Pull until a matching Unblock
func (s *Skipper) Block()   { s.blocker.block() }
func (s *Skipper) Unblock() { s.blocker.unblock() }

// TryRemoveStream removes streamID if it is the current stream
func (s *Skipper) TryRemoveStream(streamID uint32, rampDown bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamID != streamID {
		return false
	}
	return s.tryRemoveCurrentStream(rampDown)
}

// TryRemoveCurrentStream starts removing whatever stream is playing. It
// reports whether anything changed.
func (s *Skipper) TryRemoveCurrentStream(rampDown bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tryRemoveCurrentStream(rampDown)
}

// RemoveAll discards everything until Halt(haltID) is pulled
func (s *Skipper) RemoveAll(haltID uint32, rampDown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetHaltID = haltID
	s.passGeneratedHalt = false
	s.tryRemoveCurrentStream(rampDown)
}

func (s *Skipper) Pull() msg.Msg {
	for {
		var m msg.Msg
		s.mu.Lock()
		if !s.queue.empty() {
			m = s.queue.dequeue()
		}
		s.mu.Unlock()
		if m == nil {
			m = s.upstream.Pull()
		}
		s.blocker.wait()

		s.mu.Lock()
		out := s.process(m)
		s.mu.Unlock()
		if out != nil {
			return out
		}
	}
}

func (s *Skipper) flushUntilHalt() bool {
	return s.targetHaltID != msg.HaltIDNone
}

func (s *Skipper) process(m msg.Msg) msg.Msg {
	switch v := m.(type) {
	case *msg.Mode:
		s.streamID = msg.StreamIDInvalid
		return s.dropIfRemovingAll(m)
	case *msg.Session, *msg.TrackMsg, *msg.Delay, *msg.Wait:
		return s.dropIfRemovingAll(m)
	case *msg.ChangeInput, *msg.Quit:
		return m
	case *msg.EncodedStream:
		s.streamID = v.StreamID
		s.handler = v.Handler
		if s.flushUntilHalt() {
			sendHalt := s.state != skipperFlushing
			// the handler still expects OkToPlay for a stream it issued
			// before the halt was requested
			if s.handler != nil {
				s.handler.OkToPlay(s.streamID)
			}
			s.startFlushing(sendHalt)
			v.RemoveRef()
			return nil
		}
		s.remaining = 0
		s.current = msg.RampMax
		s.state = s.startingState()
		return v
	case *msg.MetaText, *msg.StreamInterrupted:
		return s.dropIfFlushing(m)
	case *msg.Halt:
		if s.flushUntilHalt() && v.ID == s.targetHaltID {
			s.targetHaltID = msg.HaltIDNone
			s.state = skipperRunning
			// downstream elements may be waiting for this halt too
			return v
		}
		if s.passGeneratedHalt {
			s.passGeneratedHalt = false
			return v
		}
		return s.dropIfRemovingAll(m)
	case *msg.Flush:
		if s.targetFlushID != msg.FlushIDInvalid && v.ID == s.targetFlushID {
			v.RemoveRef()
			s.targetFlushID = msg.FlushIDInvalid
			return nil
		}
		return s.dropIfRemovingAll(m)
	case *msg.DecodedStream:
		if s.flushUntilHalt() {
			return s.dropIfRemovingAll(m)
		}
		s.state = s.startingState()
		return v
	case *msg.AudioPcm:
		switch s.state {
		case skipperStarting:
			s.state = skipperRunning
		case skipperRamping:
			return s.rampDown(v)
		}
		return s.dropIfFlushing(m)
	case *msg.Silence:
		if s.state == skipperStarting && !s.flushUntilHalt() {
			s.state = skipperRunning
		} else if s.state == skipperRamping {
			s.remaining = 0
			s.current = msg.RampMin
			s.startFlushing(true)
		}
		return s.dropIfFlushing(m)
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("skipper", m)
	}
	return m
}

func (s *Skipper) startingState() skipperState {
	if s.targetFlushID == msg.FlushIDInvalid {
		return skipperStarting
	}
	return skipperFlushing
}

func (s *Skipper) rampDown(a *msg.AudioPcm) msg.Msg {
	if a.Jiffies() > s.remaining {
		// everything after the ramp is about to be flushed anyway
		if tail := a.Split(s.remaining); tail != nil {
			tail.RemoveRef()
		} else {
			s.remaining = a.Jiffies()
		}
	}
	jiffies := a.Jiffies()
	end, split := a.SetRamp(s.current, s.remaining, msg.RampDown)
	if split != nil {
		s.queue.enqueueAtHead(split)
	}
	s.current = end
	s.remaining -= min(jiffies, s.remaining)
	if s.remaining == 0 || end == msg.RampMin {
		s.remaining = 0
		s.startFlushing(true)
	}
	return a
}

func (s *Skipper) tryRemoveCurrentStream(rampDown bool) bool {
	prev := s.state
	if !rampDown || s.state == skipperStarting {
		// without a ramp the pipeline is already halted
		s.startFlushing(false)
	} else if s.state == skipperRunning {
		s.state = skipperRamping
		s.remaining = s.rampDuration
		s.current = msg.RampMax
	}
	return prev != s.state
}

func (s *Skipper) startFlushing(sendHalt bool) {
	if sendHalt {
		s.queue.enqueue(msg.Must(s.factory.CreateHalt(msg.HaltIDNone)))
		s.passGeneratedHalt = true
	}
	s.state = skipperFlushing
	s.targetFlushID = msg.FlushIDInvalid
	if s.handler != nil {
		s.targetFlushID = s.handler.TryStop(s.streamID)
	}
}

func (s *Skipper) dropIfFlushing(m msg.Msg) msg.Msg {
	if s.state == skipperFlushing {
		m.RemoveRef()
		return nil
	}
	return m
}

func (s *Skipper) dropIfRemovingAll(m msg.Msg) msg.Msg {
	if s.flushUntilHalt() {
		m.RemoveRef()
		return nil
	}
	return m
}
