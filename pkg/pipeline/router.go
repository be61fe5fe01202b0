// ABOUTME: Diverts audio to a branch, leaving silence in the main pipeline
// ABOUTME: Used when another device should play in place of the local output
package pipeline

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// Router sends audio to its branch while one is set. The local pipeline
// keeps its timing by playing silence of the same length.
type Router struct {
	factory  *msg.Factory
	upstream Upstream

	mu     sync.Mutex
	branch Downstream
}

func NewRouter(factory *msg.Factory, upstream Upstream) *Router {
	return &Router{factory: factory, upstream: upstream}
}

// SetBranch diverts audio to branch; nil restores local playback
func (r *Router) SetBranch(branch Downstream) {
	r.mu.Lock()
	r.branch = branch
	r.mu.Unlock()
}

func (r *Router) Pull() msg.Msg {
	m := r.upstream.Pull()
	r.mu.Lock()
	branch := r.branch
	r.mu.Unlock()
	if branch == nil {
		return m
	}
	switch v := m.(type) {
	case *msg.AudioPcm:
		s := msg.Must(r.factory.CreateSilence(v.Jiffies(), v.SampleRate(), v.Channels(), v.BitDepth()))
		branch.Push(v)
		return s
	case *msg.Silence:
		branch.Push(v.Clone())
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("router", m)
	default:
		m.AddRef()
		branch.Push(m)
	}
	return m
}
