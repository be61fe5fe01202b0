// ABOUTME: Copies every message to an optional branch as it passes
// ABOUTME: Audio is cloned for the branch, other messages gain a reference
package pipeline

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// Splitter feeds a branch, such as a network sender, with a copy of the
// main pipeline's stream
type Splitter struct {
	upstream Upstream

	mu     sync.Mutex
	branch Downstream
}

func NewSplitter(upstream Upstream) *Splitter {
	return &Splitter{upstream: upstream}
}

// SetBranch installs a branch and returns the previous one. A nil branch
// stops copying.
func (s *Splitter) SetBranch(branch Downstream) Downstream {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.branch
	s.branch = branch
	return prev
}

func (s *Splitter) Pull() msg.Msg {
	m := s.upstream.Pull()
	s.mu.Lock()
	branch := s.branch
	s.mu.Unlock()
	if branch != nil {
		branch.Push(copyForBranch(m))
	}
	return m
}

func copyForBranch(m msg.Msg) msg.Msg {
	switch v := m.(type) {
	case *msg.AudioEncoded:
		unexpected("splitter", m)
	case *msg.AudioPcm:
		return v.Clone()
	case *msg.Silence:
		return v.Clone()
	}
	m.AddRef()
	return m
}
