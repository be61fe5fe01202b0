// ABOUTME: Emits Drain messages and holds the pipeline until the output has played out
// ABOUTME: Drains follow every interrupted stream and any explicit request
package pipeline

import (
	"go.uber.org/atomic"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// Drainer makes the output play everything it holds before more audio follows
type Drainer struct {
	factory  *msg.Factory
	upstream Upstream

	requested atomic.Bool
	nextID    atomic.Uint32
	waiting   chan struct{}
	quit      chan struct{}
	closed    atomic.Bool
}

func NewDrainer(factory *msg.Factory, upstream Upstream) *Drainer {
	return &Drainer{factory: factory, upstream: upstream, quit: make(chan struct{})}
}

// DrainAllAudio asks for a drain before the next message
func (d *Drainer) DrainAllAudio() {
	d.requested.Store(true)
}

// Quit releases a Pull waiting for a drain
func (d *Drainer) Quit() {
	if d.closed.CompareAndSwap(false, true) {
		close(d.quit)
	}
}

func (d *Drainer) Pull() msg.Msg {
	if d.waiting != nil {
		select {
		case <-d.waiting:
		case <-d.quit:
		}
		d.waiting = nil
	}
	if d.requested.CompareAndSwap(true, false) {
		return d.createDrain()
	}
	m := d.upstream.Pull()
	switch m.(type) {
	case *msg.StreamInterrupted:
		d.requested.Store(true)
	case *msg.AudioEncoded:
		unexpected("drainer", m)
	}
	return m
}

func (d *Drainer) createDrain() msg.Msg {
	drained := make(chan struct{})
	d.waiting = drained
	return msg.Must(d.factory.CreateDrain(d.nextID.Inc(), func() { close(drained) }))
}
