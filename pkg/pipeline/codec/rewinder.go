// ABOUTME: Buffers the start of each encoded stream so it can be replayed
// ABOUTME: Lets every codec inspect the same bytes during recognition
package codec

import (
	"errors"
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// ErrRewindOverflow is returned by Rewind once more messages were read than
// the rewinder can hold
var ErrRewindOverflow = errors.New("codec: rewinder buffer overflowed")

// Upstream supplies messages to the rewinder
type Upstream interface {
	Pull() msg.Msg
}

// Rewinder starts buffering at each EncodedStream. Rewind replays everything
// buffered since; Stop ends buffering once a codec has been chosen.
type Rewinder struct {
	mu        sync.Mutex
	upstream  Upstream
	maxMsgs   int
	buffering bool
	overflow  bool
	buffer    []msg.Msg
	next      int
}

func NewRewinder(upstream Upstream, maxMsgs int) *Rewinder {
	return &Rewinder{upstream: upstream, maxMsgs: maxMsgs}
}

func (r *Rewinder) Pull() msg.Msg {
	r.mu.Lock()
	if r.next < len(r.buffer) {
		m := r.buffer[r.next]
		if r.buffering {
			m.AddRef()
			r.next++
		} else {
			r.buffer[r.next] = nil
			r.next++
			if _, ok := m.(*msg.EncodedStream); ok {
				// a stream that arrived during the last recognition starts buffering afresh
				r.buffer, r.next = r.buffer[r.next:], 0
				r.buffering, r.overflow = true, false
			}
			if r.next == len(r.buffer) {
				r.buffer, r.next = nil, 0
			}
		}
		r.mu.Unlock()
		return m
	}
	r.mu.Unlock()

	m := r.upstream.Pull()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := m.(*msg.EncodedStream); ok && !r.buffering {
		r.buffering = true
		r.overflow = false
		return m
	}
	if r.buffering && !r.overflow {
		if len(r.buffer) >= r.maxMsgs {
			r.overflow = true
			return m
		}
		m.AddRef()
		r.buffer = append(r.buffer, m)
		r.next = len(r.buffer)
	}
	return m
}

// Rewind makes the next Pull return the first message buffered since the
// current stream started
func (r *Rewinder) Rewind() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overflow {
		return ErrRewindOverflow
	}
	r.next = 0
	return nil
}

// Stop ends buffering. Messages not yet replayed are still returned by Pull.
func (r *Rewinder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffering = false
	r.overflow = false
	for _, m := range r.buffer[:r.next] {
		m.RemoveRef()
	}
	r.buffer = r.buffer[r.next:]
	r.next = 0
	if len(r.buffer) == 0 {
		r.buffer = nil
	}
}
