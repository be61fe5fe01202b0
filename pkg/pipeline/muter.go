// ABOUTME: Mutes and unmutes the output with short ramps
// ABOUTME: While muted, audio is replaced by silence of the same length
package pipeline

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

type muterState int

const (
	muterRunning muterState = iota
	muterRampingDown
	muterMuted
	muterRampingUp
)

type Muter struct {
	factory      *msg.Factory
	upstream     Upstream
	rampDuration uint64

	mu        sync.Mutex
	queue     msgQueue
	state     muterState
	halted    bool
	remaining uint64
	current   uint32
}

func NewMuter(factory *msg.Factory, upstream Upstream, rampDuration uint64) *Muter {
	return &Muter{
		factory:      factory,
		upstream:     upstream,
		rampDuration: rampDuration,
		halted:       true,
		current:      msg.RampMax,
	}
}

func (m *Muter) Mute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case muterRunning:
		if m.halted {
			m.state = muterMuted
			return
		}
		m.state = muterRampingDown
		m.remaining = m.rampDuration
		m.current = msg.RampMax
	case muterRampingUp:
		m.state = muterRampingDown
		m.remaining = m.rampDuration
		if m.current == msg.RampMin {
			m.state = muterMuted
		}
	}
}

func (m *Muter) Unmute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case muterMuted:
		if m.halted {
			m.state = muterRunning
			return
		}
		m.state = muterRampingUp
		m.remaining = m.rampDuration
		m.current = msg.RampMin
	case muterRampingDown:
		m.state = muterRampingUp
		m.remaining = m.rampDuration
		if m.current == msg.RampMax {
			m.state = muterRunning
		}
	}
}

// Muted reports whether a mute is in effect or in progress
func (m *Muter) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == muterMuted || m.state == muterRampingDown
}

func (m *Muter) Pull() msg.Msg {
	m.mu.Lock()
	var next msg.Msg
	if !m.queue.empty() {
		next = m.queue.dequeue()
	}
	m.mu.Unlock()
	if next == nil {
		next = m.upstream.Pull()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := next.(type) {
	case *msg.Halt:
		m.halted = true
		switch m.state {
		case muterRampingDown:
			m.state = muterMuted
		case muterRampingUp:
			m.state = muterRunning
		}
	case *msg.AudioPcm:
		return m.processAudio(v)
	case *msg.Silence:
		m.halted = false
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("muter", next)
	}
	return next
}

func (m *Muter) processAudio(a *msg.AudioPcm) msg.Msg {
	m.halted = false
	switch m.state {
	case muterRampingDown:
		m.current, m.remaining = rampFragment(&m.queue, a, m.current, m.remaining, msg.RampDown)
		if m.remaining == 0 || m.current == msg.RampMin {
			m.state = muterMuted
		}
	case muterRampingUp:
		m.current, m.remaining = rampFragment(&m.queue, a, m.current, m.remaining, msg.RampUp)
		if m.remaining == 0 || m.current == msg.RampMax {
			m.state = muterRunning
		}
	case muterMuted:
		s := msg.Must(m.factory.CreateSilence(a.Jiffies(), a.SampleRate(), a.Channels(), a.BitDepth()))
		a.RemoveRef()
		return s
	}
	return a
}
