// ABOUTME: Applies a fixed output attenuation to decoded audio
// ABOUTME: The level can change at any time and takes effect on the next message
package pipeline

import (
	"go.uber.org/atomic"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// Attenuator scales audio by level/msg.AttenuationUnity
type Attenuator struct {
	upstream Upstream
	level    atomic.Uint32
}

func NewAttenuator(upstream Upstream, level uint32) *Attenuator {
	a := &Attenuator{upstream: upstream}
	a.level.Store(level)
	return a
}

// SetAttenuation changes the level. msg.AttenuationUnity leaves audio unchanged.
func (a *Attenuator) SetAttenuation(level uint32) {
	a.level.Store(level)
}

func (a *Attenuator) Attenuation() uint32 {
	return a.level.Load()
}

func (a *Attenuator) Pull() msg.Msg {
	m := a.upstream.Pull()
	switch v := m.(type) {
	case *msg.AudioPcm:
		if level := a.level.Load(); level != msg.AttenuationUnity {
			v.SetAttenuation(level)
		}
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("attenuator", m)
	}
	return m
}
