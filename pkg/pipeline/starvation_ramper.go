// ABOUTME: Ramps audio down when the output is about to run dry and back up on recovery
// ABOUTME: Plays silence while starved and reports buffering to the pipeline
package pipeline

import (
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

const starvedSilence = 5 * msg.JiffiesPerMs

type starvationState int

const (
	starvationHalted starvationState = iota
	starvationRunning
	starvationRampingDown
	starvationStarved
	starvationRampingUp
)

// StarvationRamper sits on the delay reservoir. When less than minJiffies
// of audio remains and nothing says the stream has ended, it ramps what is
// left down to silence rather than let the output click.
type StarvationRamper struct {
	factory      *msg.Factory
	reservoir    *DelayReservoir
	minJiffies   uint64
	rampDuration uint64
	onBuffering  func(bool)
	logger       zerolog.Logger

	queue     msgQueue
	state     starvationState
	remaining uint64
	current   uint32

	mode       string
	streamID   uint32
	handler    msg.StreamHandler
	sampleRate int
	channels   int
	bitDepth   int

	starvations atomic.Uint64
}

func NewStarvationRamper(factory *msg.Factory, reservoir *DelayReservoir, minJiffies, rampDuration uint64, onBuffering func(bool), logger zerolog.Logger) *StarvationRamper {
	if onBuffering == nil {
		onBuffering = func(bool) {}
	}
	return &StarvationRamper{
		factory:      factory,
		reservoir:    reservoir,
		minJiffies:   minJiffies,
		rampDuration: rampDuration,
		onBuffering:  onBuffering,
		logger:       logger.With().Str("component", "starvation-ramper").Logger(),
		current:      msg.RampMax,
	}
}

// Starvations counts how often the output has run dry
func (s *StarvationRamper) Starvations() uint64 {
	return s.starvations.Load()
}

func (s *StarvationRamper) Pull() msg.Msg {
	for {
		if !s.queue.empty() {
			m := s.queue.dequeue()
			if s.queue.empty() && s.state == starvationRampingDown {
				s.state = starvationStarved
			}
			return s.process(m)
		}
		switch s.state {
		case starvationHalted:
			threshold := s.reservoir.MaxJiffies() / 2
			s.reservoir.waitFor(func() bool { return s.reservoir.readyLocked(threshold) }, 0)
			return s.process(s.reservoir.Pull())
		case starvationRunning, starvationRampingUp:
			if s.sampleRate != 0 && s.startRampDown() {
				continue
			}
			if m := s.reservoir.TryPull(); m != nil {
				return s.process(m)
			}
			s.starve()
		case starvationStarved:
			threshold := s.reservoir.MaxJiffies() / 2
			ready := s.reservoir.waitFor(func() bool { return s.reservoir.readyLocked(threshold) }, 5*time.Millisecond)
			if ready {
				s.recover()
				continue
			}
			if s.sampleRate == 0 {
				return s.process(s.reservoir.Pull())
			}
			return msg.Must(s.factory.CreateSilence(starvedSilence, s.sampleRate, s.channels, s.bitDepth))
		}
	}
}

// startRampDown takes the last audio from the reservoir and ramps it to
// silence if the reservoir is about to run dry
func (s *StarvationRamper) startRampDown() bool {
	held := s.reservoir.takeAudioIfLow(s.minJiffies)
	if held == nil {
		return false
	}
	var total uint64
	var pending msgQueue
	for _, m := range held {
		if a, ok := m.(msg.Audio); ok {
			total += a.Jiffies()
		}
		pending.enqueue(m)
	}
	s.remaining = total
	if s.state != starvationRampingUp {
		s.current = msg.RampMax
	}
	for !pending.empty() {
		m := pending.dequeue()
		if a, ok := m.(msg.Audio); ok && s.remaining > 0 && s.current != msg.RampMin {
			s.current, s.remaining = rampFragment(&pending, a, s.current, s.remaining, msg.RampDown)
		}
		s.queue.enqueue(m)
	}
	s.starve()
	if !s.queue.empty() {
		s.state = starvationRampingDown
	}
	return true
}

func (s *StarvationRamper) starve() {
	s.state = starvationStarved
	s.current = msg.RampMin
	s.starvations.Inc()
	s.logger.Warn().Str("mode", s.mode).Uint32("stream", s.streamID).Msg("Pipeline starving")
	s.onBuffering(true)
	if s.handler != nil {
		s.handler.NotifyStarving(s.mode, s.streamID, true)
	}
}

func (s *StarvationRamper) recover() {
	s.state = starvationRampingUp
	s.remaining = s.rampDuration
	s.current = msg.RampMin
	s.logger.Info().Uint32("stream", s.streamID).Msg("Pipeline recovered from starvation")
	s.onBuffering(false)
	if s.handler != nil {
		s.handler.NotifyStarving(s.mode, s.streamID, false)
	}
}

func (s *StarvationRamper) process(m msg.Msg) msg.Msg {
	switch v := m.(type) {
	case *msg.Mode:
		s.mode = v.Mode
	case *msg.EncodedStream:
		s.streamID = v.StreamID
		s.handler = v.Handler
	case *msg.DecodedStream:
		s.sampleRate = v.Info.SampleRate
		s.channels = v.Info.NumChannels
		s.bitDepth = v.Info.BitDepth
		s.streamID = v.Info.StreamID
		if v.Handler != nil {
			s.handler = v.Handler
		}
	case *msg.Halt, *msg.Wait, *msg.Drain, *msg.Quit, *msg.StreamInterrupted:
		if s.state != starvationRampingDown {
			s.state = starvationHalted
		}
	case *msg.AudioPcm:
		s.processAudio(v)
	case *msg.Silence:
		s.processAudio(v)
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("starvation-ramper", m)
	}
	return m
}

func (s *StarvationRamper) processAudio(a msg.Audio) {
	switch s.state {
	case starvationHalted:
		s.state = starvationRunning
		s.current = msg.RampMax
	case starvationRampingUp:
		s.current, s.remaining = rampFragment(&s.queue, a, s.current, s.remaining, msg.RampUp)
		if s.remaining == 0 || s.current == msg.RampMax {
			s.state = starvationRunning
		}
	}
}
