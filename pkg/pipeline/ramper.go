// ABOUTME: Ramps up streams that start mid-way through
// ABOUTME: Live streams and streams starting after a seek fade in over the ramp duration
package pipeline

import (
	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// Ramper applies a ramp up to the start of any stream that does not begin
// at its first sample, so joining or seeking into audio never clicks.
type Ramper struct {
	upstream     Upstream
	rampDuration uint64

	queue     msgQueue
	ramping   bool
	remaining uint64
	current   uint32
}

func NewRamper(upstream Upstream, rampDuration uint64) *Ramper {
	return &Ramper{upstream: upstream, rampDuration: rampDuration}
}

func (r *Ramper) Pull() msg.Msg {
	var m msg.Msg
	if !r.queue.empty() {
		m = r.queue.dequeue()
	} else {
		m = r.upstream.Pull()
	}
	switch v := m.(type) {
	case *msg.DecodedStream:
		r.ramping = v.Info.Live || v.Info.SampleStart > 0
		r.remaining = r.rampDuration
		r.current = msg.RampMin
	case *msg.Halt:
		r.ramping = false
	case *msg.AudioPcm:
		if r.ramping {
			r.rampUp(v)
		}
	case *msg.Silence:
		if r.ramping {
			r.rampUp(v)
		}
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("ramper", m)
	}
	return m
}

func (r *Ramper) rampUp(a msg.Audio) {
	r.current, r.remaining = rampFragment(&r.queue, a, r.current, r.remaining, msg.RampUp)
	if r.remaining == 0 || r.current == msg.RampMax {
		r.ramping = false
		r.remaining = 0
	}
}
