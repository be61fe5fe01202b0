// ABOUTME: Reservoir filled by its own puller goroutine
// ABOUTME: Sizes itself from Delay messages so the output always has latency in hand
package pipeline

import (
	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// DelayReservoir pulls from upstream on a dedicated goroutine and holds up to
// the larger of twice its minimum and the latest requested delay.
type DelayReservoir struct {
	*reservoir
	upstream   Upstream
	minJiffies uint64
	maxJiffies uint64
	done       chan struct{}
}

func NewDelayReservoir(upstream Upstream, minJiffies uint64, maxStreams int) *DelayReservoir {
	d := &DelayReservoir{
		reservoir:  newReservoir(),
		upstream:   upstream,
		minJiffies: minJiffies,
		maxJiffies: 2 * minJiffies,
		done:       make(chan struct{}),
	}
	d.full = func() bool { return d.jiffies >= d.maxJiffies || d.streams >= maxStreams }
	return d
}

// Start launches the puller. It exits after forwarding Quit.
func (d *DelayReservoir) Start() {
	go d.run()
}

// Done is closed once the puller has exited
func (d *DelayReservoir) Done() <-chan struct{} {
	return d.done
}

func (d *DelayReservoir) run() {
	defer close(d.done)
	for {
		m := d.upstream.Pull()
		if delay, ok := m.(*msg.Delay); ok {
			d.mu.Lock()
			d.maxJiffies = max(2*d.minJiffies, delay.Jiffies)
			d.notFull.Broadcast()
			d.mu.Unlock()
		}
		d.Push(m)
		if _, ok := m.(*msg.Quit); ok {
			return
		}
	}
}

// MaxJiffies returns the current fill target
func (d *DelayReservoir) MaxJiffies() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxJiffies
}
