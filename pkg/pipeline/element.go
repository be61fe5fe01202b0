// ABOUTME: Pull/push contracts shared by every pipeline element
// ABOUTME: Helpers for contract violations and message queues
package pipeline

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// Upstream is implemented by every element. Pull blocks until a message is
// available and never returns nil.
type Upstream interface {
	Pull() msg.Msg
}

// Downstream accepts pushed messages, blocking while full
type Downstream interface {
	Push(m msg.Msg)
}

// UpstreamFunc adapts a function to Upstream
type UpstreamFunc func() msg.Msg

func (f UpstreamFunc) Pull() msg.Msg { return f() }

func unexpected(element string, m msg.Msg) {
	panic(fmt.Sprintf("pipeline: %s cannot process %s", element, m.Kind()))
}

// msgQueue is a FIFO used by elements that need to inject or hold back messages
type msgQueue struct {
	items []msg.Msg
}

func (q *msgQueue) empty() bool { return len(q.items) == 0 }
func (q *msgQueue) len() int    { return len(q.items) }

func (q *msgQueue) enqueue(m msg.Msg) { q.items = append(q.items, m) }

func (q *msgQueue) enqueueAtHead(m msg.Msg) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = m
}

func (q *msgQueue) dequeue() msg.Msg {
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m
}

// clear releases every queued message
func (q *msgQueue) clear() {
	for _, m := range q.items {
		m.RemoveRef()
	}
	q.items = nil
}

// gate holds Pull callers while blocked. Blocks nest; each needs one Unblock.
type gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	blocked int
}

func newGate() *gate {
	g := &gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *gate) block() {
	g.mu.Lock()
	g.blocked++
	g.mu.Unlock()
}

func (g *gate) unblock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blocked == 0 {
		panic("pipeline: Unblock without Block")
	}
	g.blocked--
	if g.blocked == 0 {
		g.cond.Broadcast()
	}
}

func (g *gate) wait() {
	g.mu.Lock()
	for g.blocked > 0 {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// rampFragment applies the next part of a ramp to a. Audio past the end of
// the ramp and any split produced by ramp composition are queued at the head
// of q, in order. It returns the gain reached and the ramp jiffies left.
func rampFragment(q *msgQueue, a msg.Audio, current uint32, remaining uint64, dir msg.RampDirection) (uint32, uint64) {
	if a.Jiffies() > remaining {
		if tail := a.Split(remaining); tail != nil {
			q.enqueueAtHead(tail)
		} else {
			// less than a sample of ramp left; finish it over the whole message
			remaining = a.Jiffies()
		}
	}
	jiffies := a.Jiffies()
	end, split := a.SetRamp(current, remaining, dir)
	if split != nil {
		q.enqueueAtHead(split)
	}
	return end, remaining - min(jiffies, remaining)
}
