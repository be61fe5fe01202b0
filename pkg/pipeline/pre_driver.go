// ABOUTME: Last element before the animator: converts audio to playable form
// ABOUTME: Drops messages the output has no use for and repeats of the current format
package pipeline

import (
	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

type PreDriver struct {
	upstream Upstream

	format     msg.DecodedStreamInfo
	haveFormat bool
}

func NewPreDriver(upstream Upstream) *PreDriver {
	return &PreDriver{upstream: upstream}
}

func (p *PreDriver) Pull() msg.Msg {
	for {
		m := p.upstream.Pull()
		switch v := m.(type) {
		case *msg.Mode, *msg.Drain, *msg.Halt, *msg.Quit, *msg.StreamInterrupted, *msg.ChangeInput:
			return m
		case *msg.DecodedStream:
			if p.haveFormat && p.format.SameFormat(v.Info) {
				v.RemoveRef()
				continue
			}
			p.format = v.Info
			p.haveFormat = true
			return v
		case *msg.AudioPcm:
			return v.CreatePlayable()
		case *msg.Silence:
			return v.CreatePlayable()
		case *msg.AudioEncoded, *msg.Playable:
			unexpected("pre-driver", m)
		default:
			m.RemoveRef()
		}
	}
}
