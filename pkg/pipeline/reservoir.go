// ABOUTME: Bounded message reservoirs decoupling pipeline goroutines
// ABOUTME: Encoded reservoir bounds bytes, decoded and delay reservoirs bound jiffies
package pipeline

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// reservoir is a FIFO of messages shared by one pushing and one pulling
// goroutine. Push blocks while full returns true.
type reservoir struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	queue        msgQueue
	jiffies      uint64
	encodedBytes int
	streams      int
	nonAudio     int
	full         func() bool
}

func newReservoir() *reservoir {
	r := &reservoir{full: func() bool { return false }}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

func (r *reservoir) Push(m msg.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.full() {
		r.notFull.Wait()
	}
	r.account(m, true)
	r.queue.enqueue(m)
	r.notEmpty.Broadcast()
}

func (r *reservoir) Pull() msg.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.queue.empty() {
		r.notEmpty.Wait()
	}
	return r.dequeueLocked()
}

// TryPull returns nil instead of blocking
func (r *reservoir) TryPull() msg.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue.empty() {
		return nil
	}
	return r.dequeueLocked()
}

func (r *reservoir) dequeueLocked() msg.Msg {
	m := r.queue.dequeue()
	r.account(m, false)
	r.notFull.Broadcast()
	return m
}

func (r *reservoir) account(m msg.Msg, in bool) {
	sign := 1
	if !in {
		sign = -1
	}
	switch v := m.(type) {
	case *msg.AudioEncoded:
		r.encodedBytes += sign * v.Bytes()
	case *msg.AudioPcm:
		r.addJiffies(v.Jiffies(), in)
	case *msg.Silence:
		r.addJiffies(v.Jiffies(), in)
	case *msg.EncodedStream, *msg.DecodedStream:
		r.streams += sign
		r.nonAudio += sign
	default:
		r.nonAudio += sign
	}
}

func (r *reservoir) addJiffies(j uint64, in bool) {
	if in {
		r.jiffies += j
	} else {
		r.jiffies -= j
	}
}

// waitFor blocks until cond holds or timeout passes, returning whether cond
// held. A zero timeout waits indefinitely. cond runs with the lock held.
func (r *reservoir) waitFor(cond func() bool, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timeout <= 0 {
		for !cond() {
			r.notEmpty.Wait()
		}
		return true
	}
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.notEmpty.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	for !cond() {
		if !time.Now().Before(deadline) {
			return false
		}
		r.notEmpty.Wait()
	}
	return true
}

// SizeInJiffies returns the decoded audio currently held
func (r *reservoir) SizeInJiffies() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jiffies
}

// SizeInBytes returns the encoded audio currently held
func (r *reservoir) SizeInBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.encodedBytes
}

// StreamCount returns the number of stream headers currently held
func (r *reservoir) StreamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams
}

// EncodedReservoir buffers data from protocols ahead of the codec
type EncodedReservoir struct {
	*reservoir
}

func NewEncodedReservoir(maxBytes, maxStreams int) *EncodedReservoir {
	r := newReservoir()
	r.full = func() bool { return r.encodedBytes >= maxBytes || r.streams >= maxStreams }
	return &EncodedReservoir{reservoir: r}
}

// DecodedReservoir buffers decoded audio between the codec goroutine and the
// rest of the pipeline
type DecodedReservoir struct {
	*reservoir
}

func NewDecodedReservoir(maxJiffies uint64, maxStreams int) *DecodedReservoir {
	r := newReservoir()
	r.full = func() bool { return r.jiffies >= maxJiffies || r.streams >= maxStreams }
	return &DecodedReservoir{reservoir: r}
}

// takeAudioIfLow removes everything held when it is only audio shorter than
// threshold. It returns nil otherwise.
func (r *reservoir) takeAudioIfLow(threshold uint64) []msg.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nonAudio > 0 || r.jiffies >= threshold {
		return nil
	}
	var out []msg.Msg
	for !r.queue.empty() {
		out = append(out, r.dequeueLocked())
	}
	return out
}

// readyLocked reports whether a puller that wants threshold jiffies of audio
// in hand can take the next message
func (r *reservoir) readyLocked(threshold uint64) bool {
	if r.queue.empty() {
		return false
	}
	switch r.queue.items[0].(type) {
	case *msg.AudioPcm, *msg.Silence:
		return r.jiffies >= threshold || r.nonAudio > 0
	}
	return true
}
