// ABOUTME: Applies sender-requested latency by inserting silence or dropping audio
// ABOUTME: Changes mid-stream ramp down first and ramp back up after
package pipeline

import (
	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// silenceChunk is the size of each inserted silence message
const silenceChunk = 5 * msg.JiffiesPerMs

type delayState int

const (
	delayStarting delayState = iota
	delayRunning
	delayRampingDown
	delayRampedDown
	delayRampingUp
)

// delaySplit decides, for a requested delay, how much this element applies
// and what Delay to forward downstream
type delaySplit func(requested uint64) (apply, forward uint64)

// VariableDelay applies part of each Delay message. Two instances share the
// work: the left one handles whatever exceeds what the right one can.
type VariableDelay struct {
	name         string
	factory      *msg.Factory
	upstream     Upstream
	rampDuration uint64
	split        delaySplit

	queue     msgQueue
	state     delayState
	applied   uint64
	pending   int64
	remaining uint64
	current   uint32

	sampleRate int
	channels   int
	bitDepth   int
}

// NewVariableDelayLeft applies the part of any delay above downstreamMax and
// forwards the rest
func NewVariableDelayLeft(factory *msg.Factory, upstream Upstream, rampDuration, downstreamMax uint64) *VariableDelay {
	return newVariableDelay("variable-delay-1", factory, upstream, rampDuration, func(d uint64) (uint64, uint64) {
		fwd := min(d, downstreamMax)
		return d - fwd, fwd
	})
}

// NewVariableDelayRight applies the delay less the output's own latency and
// forwards the request unchanged
func NewVariableDelayRight(factory *msg.Factory, upstream Upstream, rampDuration uint64, latency func() uint64) *VariableDelay {
	return newVariableDelay("variable-delay-2", factory, upstream, rampDuration, func(d uint64) (uint64, uint64) {
		lat := latency()
		if d > lat {
			return d - lat, d
		}
		return 0, d
	})
}

func newVariableDelay(name string, factory *msg.Factory, upstream Upstream, rampDuration uint64, split delaySplit) *VariableDelay {
	return &VariableDelay{
		name:         name,
		factory:      factory,
		upstream:     upstream,
		rampDuration: rampDuration,
		split:        split,
		current:      msg.RampMax,
	}
}

func (d *VariableDelay) Pull() msg.Msg {
	for {
		if d.pending > 0 && d.sampleRate != 0 && (d.state == delayStarting || d.state == delayRampedDown) {
			return d.insertSilence()
		}
		var m msg.Msg
		if !d.queue.empty() {
			m = d.queue.dequeue()
		} else {
			m = d.upstream.Pull()
		}
		if out := d.process(m); out != nil {
			return out
		}
	}
}

func (d *VariableDelay) insertSilence() msg.Msg {
	jiffies := min(uint64(d.pending), silenceChunk)
	s := msg.Must(d.factory.CreateSilence(jiffies, d.sampleRate, d.channels, d.bitDepth))
	d.pending -= int64(s.Jiffies())
	if d.pending < int64(msg.JiffiesPerSample(d.sampleRate)) {
		d.pending = 0
	}
	if d.pending == 0 {
		d.endAdjustment()
	}
	return s
}

func (d *VariableDelay) endAdjustment() {
	if d.state == delayRampedDown {
		d.state = delayRampingUp
		d.remaining = d.rampDuration
		d.current = msg.RampMin
	}
}

func (d *VariableDelay) process(m msg.Msg) msg.Msg {
	switch v := m.(type) {
	case *msg.Delay:
		apply, fwd := d.split(v.Jiffies)
		d.pending += int64(apply) - int64(d.applied)
		d.applied = apply
		if d.pending != 0 {
			d.beginAdjustment()
		}
		v.Jiffies = fwd
		return v
	case *msg.DecodedStream:
		d.sampleRate = v.Info.SampleRate
		d.channels = v.Info.NumChannels
		d.bitDepth = v.Info.BitDepth
		d.state = delayStarting
		d.current = msg.RampMax
		return v
	case *msg.Halt:
		d.state = delayStarting
		d.current = msg.RampMax
		return v
	case *msg.AudioPcm:
		return d.processAudio(v)
	case *msg.Silence:
		return d.processAudio(v)
	case *msg.AudioEncoded, *msg.Playable:
		unexpected(d.name, m)
	}
	return m
}

func (d *VariableDelay) beginAdjustment() {
	switch d.state {
	case delayRunning:
		d.state = delayRampingDown
		d.remaining = d.rampDuration
		d.current = msg.RampMax
	case delayRampingUp:
		d.state = delayRampingDown
		d.remaining = d.rampDuration
		if d.current == msg.RampMin {
			d.state = delayRampedDown
		}
	}
}

func (d *VariableDelay) processAudio(a msg.Audio) msg.Msg {
	switch d.state {
	case delayStarting:
		if d.pending < 0 {
			return d.dropAudio(a)
		}
		d.state = delayRunning
	case delayRampingDown:
		end := d.ramp(a, msg.RampDown)
		if d.remaining == 0 || end == msg.RampMin {
			d.state = delayRampedDown
			if d.pending == 0 {
				d.endAdjustment()
			}
		}
	case delayRampedDown:
		if d.pending < 0 {
			return d.dropAudio(a)
		}
		d.endAdjustment()
		return d.processAudio(a)
	case delayRampingUp:
		end := d.ramp(a, msg.RampUp)
		if d.remaining == 0 || end == msg.RampMax {
			d.state = delayRunning
		}
	}
	return a
}

// dropAudio discards up to -pending jiffies of audio, returning nil if all
// of a was dropped
func (d *VariableDelay) dropAudio(a msg.Audio) msg.Msg {
	drop := uint64(-d.pending)
	if a.Jiffies() > drop {
		if tail := a.Split(drop); tail != nil {
			d.queue.enqueueAtHead(tail)
		}
	}
	jiffies := a.Jiffies()
	a.RemoveRef()
	if jiffies >= drop {
		d.pending = 0
		d.endAdjustment()
	} else {
		d.pending += int64(jiffies)
	}
	return nil
}

// ramp applies the next fragment of the current ramp to a and returns the
// gain reached
func (d *VariableDelay) ramp(a msg.Audio, dir msg.RampDirection) uint32 {
	d.current, d.remaining = rampFragment(&d.queue, a, d.current, d.remaining, dir)
	return d.current
}

// DelayJiffies returns the delay this element is applying
func (d *VariableDelay) DelayJiffies() uint64 {
	return d.applied
}
