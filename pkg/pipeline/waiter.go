// ABOUTME: Pauses a live stream in place while its source waits
// ABOUTME: Ramps down, discards until the source's flush, then ramps back up
package pipeline

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

type waiterState int

const (
	waiterRunning waiterState = iota
	waiterRampingDown
	waiterFlushing
	waiterWaiting
	waiterRampingUp
)

// Waiter handles a source that must wait (for a network break or a
// FlushQuick) without ending its stream. Downstream sees a Wait message so
// the gap is not reported as starvation.
type Waiter struct {
	factory      *msg.Factory
	upstream     Upstream
	rampDuration uint64
	onWaiting    func(waiting bool)

	mu            sync.Mutex
	queue         msgQueue
	state         waiterState
	targetFlushID uint32
	remaining     uint64
	current       uint32
}

// NewWaiter returns a waiter that calls onWaiting as it enters and leaves
// the waiting state. onWaiting may be nil.
func NewWaiter(factory *msg.Factory, upstream Upstream, rampDuration uint64, onWaiting func(bool)) *Waiter {
	if onWaiting == nil {
		onWaiting = func(bool) {}
	}
	return &Waiter{
		factory:      factory,
		upstream:     upstream,
		rampDuration: rampDuration,
		onWaiting:    onWaiting,
		current:      msg.RampMax,
	}
}

// Wait discards audio until Flush(flushID) and then waits for more audio.
// An invalid flushID waits without discarding.
func (w *Waiter) Wait(flushID uint32, rampDown bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targetFlushID = flushID
	switch w.state {
	case waiterRunning:
		if rampDown {
			w.state = waiterRampingDown
			w.remaining = w.rampDuration
			w.current = msg.RampMax
			return
		}
		w.rampedDown()
	case waiterRampingUp:
		if !rampDown || w.current == msg.RampMin {
			w.rampedDown()
			return
		}
		w.state = waiterRampingDown
		w.remaining = w.rampDuration
	}
}

func (w *Waiter) Pull() msg.Msg {
	for {
		var m msg.Msg
		w.mu.Lock()
		if !w.queue.empty() {
			m = w.queue.dequeue()
		}
		w.mu.Unlock()
		if m == nil {
			m = w.upstream.Pull()
		}
		w.mu.Lock()
		out, notify := w.process(m)
		w.mu.Unlock()
		if notify != nil {
			w.onWaiting(*notify)
		}
		if out != nil {
			return out
		}
	}
}

// rampedDown tells downstream a wait has begun
func (w *Waiter) rampedDown() {
	w.queue.enqueue(msg.Must(w.factory.CreateWait()))
	if w.targetFlushID == msg.FlushIDInvalid {
		w.state = waiterWaiting
	} else {
		w.state = waiterFlushing
	}
}

func (w *Waiter) process(m msg.Msg) (msg.Msg, *bool) {
	switch v := m.(type) {
	case *msg.Flush:
		if w.targetFlushID != msg.FlushIDInvalid && v.ID == w.targetFlushID {
			w.targetFlushID = msg.FlushIDInvalid
			v.RemoveRef()
			if w.state == waiterFlushing || w.state == waiterRampingDown {
				w.state = waiterWaiting
			}
			return nil, nil
		}
	case *msg.Wait:
		if w.state == waiterWaiting || w.state == waiterFlushing {
			waiting := true
			return v, &waiting
		}
	case *msg.DecodedStream, *msg.Halt:
		if w.state == waiterRampingDown {
			w.rampedDown()
		}
		if w.state == waiterWaiting {
			w.state = waiterRunning
			done := false
			return m, &done
		}
		if w.state == waiterRampingUp {
			w.state = waiterRunning
		}
	case *msg.MetaText:
		if w.state == waiterFlushing {
			v.RemoveRef()
			return nil, nil
		}
	case *msg.AudioPcm:
		return w.processAudio(v)
	case *msg.Silence:
		return w.processAudio(v)
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("waiter", m)
	}
	return m, nil
}

func (w *Waiter) processAudio(a msg.Audio) (msg.Msg, *bool) {
	switch w.state {
	case waiterFlushing:
		a.RemoveRef()
		return nil, nil
	case waiterWaiting:
		w.state = waiterRampingUp
		w.remaining = w.rampDuration
		w.current = msg.RampMin
		done := false
		w.ramp(a, msg.RampUp)
		return a, &done
	case waiterRampingDown, waiterRampingUp:
		w.ramp(a, rampDirection(w.state))
	}
	return a, nil
}

func rampDirection(s waiterState) msg.RampDirection {
	if s == waiterRampingDown {
		return msg.RampDown
	}
	return msg.RampUp
}

func (w *Waiter) ramp(a msg.Audio, dir msg.RampDirection) {
	w.current, w.remaining = rampFragment(&w.queue, a, w.current, w.remaining, dir)
	if dir == msg.RampDown && (w.remaining == 0 || w.current == msg.RampMin) {
		w.rampedDown()
	} else if dir == msg.RampUp && (w.remaining == 0 || w.current == msg.RampMax) {
		w.state = waiterRunning
	}
}
