// ABOUTME: Pauses and stops playback on request, ramping before every silence
// ABOUTME: Asks each stream's handler whether it may play before letting audio through
package pipeline

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

type stopperState int

const (
	stopperStarting stopperState = iota
	stopperRunning
	stopperRampingDown
	stopperRampingUp
	stopperPaused
	stopperStopped
	stopperFlushing
)

// streamRemover is implemented by the Skipper
type streamRemover interface {
	TryRemoveStream(streamID uint32, rampDown bool) bool
}

// Stopper holds the pipeline paused or stopped. Pull blocks while paused.
type Stopper struct {
	factory   *msg.Factory
	upstream  Upstream
	remover   streamRemover
	longRamp  uint64
	shortRamp uint64
	onState   func(State)

	mu            sync.Mutex
	cond          *sync.Cond
	queue         msgQueue
	state         stopperState
	afterRamp     stopperState
	haltID        uint32
	generatedHalt *msg.Halt
	heldStream    bool
	quit          bool
	longRamps     bool
	remaining     uint64
	current       uint32
	streamID      uint32
	handler       msg.StreamHandler
	notify        []State
}

// NewStopper starts out stopped: the first stream is held until Play.
// onState is told of every transition between playing, paused and stopped.
func NewStopper(factory *msg.Factory, upstream Upstream, remover streamRemover, longRamp, shortRamp uint64, onState func(State)) *Stopper {
	if onState == nil {
		onState = func(State) {}
	}
	s := &Stopper{
		factory:   factory,
		upstream:  upstream,
		remover:   remover,
		longRamp:  longRamp,
		shortRamp: shortRamp,
		onState:   onState,
		state:     stopperStopped,
		current:   msg.RampMax,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Stopper) rampDuration() uint64 {
	if s.longRamps {
		return s.longRamp
	}
	return s.shortRamp
}

// Play resumes from pause or lets the next stream start after a stop
func (s *Stopper) Play() {
	s.mu.Lock()
	switch s.state {
	case stopperPaused:
		if s.heldStream {
			s.state = stopperStarting
		} else {
			s.state = stopperRampingUp
			s.remaining = s.rampDuration()
			s.current = msg.RampMin
		}
	case stopperRampingDown:
		s.state = stopperRampingUp
		s.remaining = s.rampDuration()
		if s.current == msg.RampMax {
			s.state = stopperRunning
		}
	case stopperStopped:
		s.state = stopperStarting
	case stopperRampingUp, stopperRunning, stopperStarting, stopperFlushing:
		s.mu.Unlock()
		return
	}
	s.heldStream = false
	s.cond.Broadcast()
	s.mu.Unlock()
	s.onState(StatePlaying)
}

// BeginPause ramps down and then holds the pipeline
func (s *Stopper) BeginPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginHalt(stopperPaused, msg.HaltIDNone)
}

// BeginStop ramps down, emits Halt(haltID) and discards the rest of the
// current stream
func (s *Stopper) BeginStop(haltID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beginHalt(stopperStopped, haltID)
}

// Quit releases a Pull blocked by a pause
func (s *Stopper) Quit() {
	s.mu.Lock()
	s.quit = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stopper) beginHalt(target stopperState, haltID uint32) {
	s.afterRamp = target
	s.haltID = haltID
	switch s.state {
	case stopperRunning:
		s.state = stopperRampingDown
		s.remaining = s.rampDuration()
		s.current = msg.RampMax
	case stopperRampingUp:
		s.state = stopperRampingDown
		s.remaining = s.rampDuration()
		if s.current == msg.RampMin {
			s.halted()
		}
	case stopperRampingDown:
	case stopperPaused:
		if target == stopperStopped {
			s.halted()
			s.cond.Broadcast()
		}
	default:
		s.halted()
	}
}

// halted queues the halt that ends a pause or stop. The state changes once
// the halt is pulled.
func (s *Stopper) halted() {
	s.generatedHalt = msg.Must(s.factory.CreateHalt(s.haltID))
	s.queue.enqueueAtHead(s.generatedHalt)
	s.state = stopperFlushing
	if s.afterRamp == stopperStopped && s.remover != nil && s.streamID != msg.StreamIDInvalid {
		s.remover.TryRemoveStream(s.streamID, false)
	}
}

func (s *Stopper) Pull() msg.Msg {
	for {
		s.mu.Lock()
		for s.state == stopperPaused && !s.quit {
			s.cond.Wait()
		}
		var m msg.Msg
		if !s.queue.empty() {
			m = s.queue.dequeue()
		}
		s.mu.Unlock()
		if m == nil {
			m = s.upstream.Pull()
		}

		s.mu.Lock()
		out := s.process(m)
		notify := s.notify
		s.notify = nil
		s.mu.Unlock()
		for _, st := range notify {
			s.onState(st)
		}
		if out != nil {
			return out
		}
	}
}

func (s *Stopper) process(m msg.Msg) msg.Msg {
	switch v := m.(type) {
	case *msg.Mode:
		s.longRamps = v.Info.RampPauseResumeLong
	case *msg.EncodedStream:
		s.streamID = v.StreamID
		s.handler = v.Handler
	case *msg.DecodedStream:
		return s.newStream(v)
	case *msg.Halt:
		if v == s.generatedHalt {
			s.generatedHalt = nil
			s.state = s.afterRamp
			if s.afterRamp == stopperPaused {
				s.notify = append(s.notify, StatePaused)
			} else {
				s.notify = append(s.notify, StateStopped)
			}
			return v
		}
		switch s.state {
		case stopperRampingDown:
			// upstream already stopped; no audio left to ramp
			s.halted()
		case stopperRunning, stopperRampingUp:
			s.state = stopperStarting
		}
	case *msg.Quit:
		s.quit = true
	case *msg.AudioPcm:
		return s.processAudio(v)
	case *msg.Silence:
		return s.processAudio(v)
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("stopper", m)
	}
	return m
}

func (s *Stopper) newStream(v *msg.DecodedStream) msg.Msg {
	if s.state == stopperStopped {
		// hold the stream until Play
		s.queue.enqueueAtHead(v)
		s.state = stopperPaused
		s.heldStream = true
		return nil
	}
	if s.state == stopperFlushing && s.generatedHalt != nil {
		return v
	}
	s.state = stopperStarting
	if v.Handler == nil {
		return v
	}
	switch v.Handler.OkToPlay(v.StreamID()) {
	case msg.PlayNo:
		if s.remover != nil {
			s.remover.TryRemoveStream(v.StreamID(), false)
		}
		s.state = stopperFlushing
		v.RemoveRef()
		return nil
	case msg.PlayLater:
		s.state = stopperPaused
		s.notify = append(s.notify, StatePaused)
	}
	return v
}

func (s *Stopper) processAudio(a msg.Audio) msg.Msg {
	switch s.state {
	case stopperStarting:
		s.state = stopperRunning
	case stopperRampingDown:
		s.current, s.remaining = rampFragment(&s.queue, a, s.current, s.remaining, msg.RampDown)
		if s.remaining == 0 || s.current == msg.RampMin {
			s.halted()
		}
	case stopperRampingUp:
		s.current, s.remaining = rampFragment(&s.queue, a, s.current, s.remaining, msg.RampUp)
		if s.remaining == 0 || s.current == msg.RampMax {
			s.state = stopperRunning
		}
	case stopperStopped, stopperFlushing:
		a.RemoveRef()
		return nil
	}
	return a
}
