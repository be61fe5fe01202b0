// ABOUTME: Reorder buffer that repairs RAOP packet loss
// ABOUTME: Requests resends for gaps and releases audio in sequence order
package raop

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrRepairBufferFull means a gap could not be repaired within the
	// buffer's capacity; the stream must restart from a discontinuity
	ErrRepairBufferFull = errors.New("raop: repair buffer full")
	// ErrStreamRestarted means the sender jumped far behind the expected
	// sequence, which happens when it restarts its stream
	ErrStreamRestarted = errors.New("raop: stream restarted")
)

// Range is an inclusive run of missing sequence numbers
type Range struct {
	Start uint16
	End   uint16
}

// Count is the number of packets in the range
func (r Range) Count() uint16 { return r.End - r.Start + 1 }

// ResendRequester asks the sender to retransmit packets
type ResendRequester interface {
	RequestResend(ranges []Range)
}

// RepairerConfig bounds the reorder buffer
type RepairerConfig struct {
	// Capacity is the most packets held while waiting for a gap to fill
	Capacity int
	// MaxRanges is the most ranges requested in one round
	MaxRanges int
	// RetryInterval is how long to wait for resent packets before asking again
	RetryInterval time.Duration
	// MaxRetries is how many repeated requests are made before giving up
	MaxRetries int
}

func DefaultRepairerConfig() RepairerConfig {
	return RepairerConfig{
		Capacity:      100,
		MaxRanges:     8,
		RetryInterval: 35 * time.Millisecond,
		MaxRetries:    3,
	}
}

// Repairer releases audio packets in sequence order. OutputAudio is called
// from a single goroutine; retries run on a timer.
type Repairer struct {
	cfg       RepairerConfig
	requester ResendRequester
	output    func(AudioPacket) error
	onGiveUp  func()
	logger    zerolog.Logger

	mu       sync.Mutex
	started  bool
	expected uint16
	buffer   []AudioPacket // sorted by distance from expected
	timer    *time.Timer
	gen      uint64
	retries  int

	resends  int
	discards int
}

// NewRepairer creates a repairer that passes in-order packets to output.
// onGiveUp is called from the retry timer when a gap could not be repaired.
func NewRepairer(cfg RepairerConfig, requester ResendRequester, output func(AudioPacket) error, onGiveUp func(), logger zerolog.Logger) *Repairer {
	return &Repairer{
		cfg:       cfg,
		requester: requester,
		output:    output,
		onGiveUp:  onGiveUp,
		logger:    logger.With().Str("component", "repairer").Logger(),
	}
}

// OutputAudio accepts the next packet received from either channel
func (r *Repairer) OutputAudio(p AudioPacket) error {
	r.mu.Lock()
	if !r.started {
		r.started = true
		r.expected = p.Seq + 1
		r.mu.Unlock()
		return r.output(p)
	}

	d := seqDiff(r.expected, p.Seq)
	switch {
	case d == 0:
		ready := r.releaseLocked(p)
		r.mu.Unlock()
		return r.outputAll(ready)

	case d < 0:
		r.mu.Unlock()
		if -d > r.cfg.Capacity {
			return ErrStreamRestarted
		}
		// late duplicate of something already released
		r.count(&r.discards)
		return nil

	default:
		if d >= r.cfg.Capacity || len(r.buffer) >= r.cfg.Capacity {
			r.dropLocked()
			r.mu.Unlock()
			return ErrRepairBufferFull
		}
		missing, ok := r.insertLocked(p)
		if !ok {
			r.mu.Unlock()
			r.count(&r.discards)
			return nil
		}
		r.startTimerLocked()
		r.mu.Unlock()
		r.request(missing)
		return nil
	}
}

// DropAudio discards buffered packets and forgets the expected sequence
func (r *Repairer) DropAudio() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked()
	r.started = false
}

// Stats returns the resend ranges requested and packets discarded so far
func (r *Repairer) Stats() (resends, discards int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resends, r.discards
}

func (r *Repairer) count(c *int) {
	r.mu.Lock()
	*c++
	r.mu.Unlock()
}

func (r *Repairer) outputAll(ps []AudioPacket) error {
	for _, p := range ps {
		if err := r.output(p); err != nil {
			return err
		}
	}
	return nil
}

// releaseLocked returns p and every buffered packet that now follows in sequence
func (r *Repairer) releaseLocked(p AudioPacket) []AudioPacket {
	ready := []AudioPacket{p}
	r.expected++
	n := 0
	for n < len(r.buffer) && r.buffer[n].Seq == r.expected {
		ready = append(ready, r.buffer[n])
		r.expected++
		n++
	}
	r.buffer = r.buffer[n:]
	if len(r.buffer) == 0 {
		r.stopTimerLocked()
		r.buffer = nil
	}
	return ready
}

// insertLocked buffers p and returns the gap it opened, if any
func (r *Repairer) insertLocked(p AudioPacket) ([]Range, bool) {
	d := seqDiff(r.expected, p.Seq)
	i := sort.Search(len(r.buffer), func(i int) bool {
		return seqDiff(r.expected, r.buffer[i].Seq) >= d
	})
	if i < len(r.buffer) && r.buffer[i].Seq == p.Seq {
		return nil, false
	}

	var missing []Range
	if i == len(r.buffer) {
		// newest packet so far; anything between it and the last known is missing
		from := r.expected
		if i > 0 {
			from = r.buffer[i-1].Seq + 1
		}
		if from != p.Seq {
			missing = []Range{{Start: from, End: p.Seq - 1}}
		}
	}

	r.buffer = append(r.buffer, AudioPacket{})
	copy(r.buffer[i+1:], r.buffer[i:])
	r.buffer[i] = p
	return missing, true
}

// missingLocked lists every gap before the newest buffered packet
func (r *Repairer) missingLocked() []Range {
	var ranges []Range
	next := r.expected
	for _, p := range r.buffer {
		if p.Seq != next {
			ranges = append(ranges, Range{Start: next, End: p.Seq - 1})
		}
		next = p.Seq + 1
	}
	return ranges
}

func (r *Repairer) request(ranges []Range) {
	if len(ranges) == 0 {
		return
	}
	if r.cfg.MaxRanges > 0 && len(ranges) > r.cfg.MaxRanges {
		ranges = ranges[:r.cfg.MaxRanges]
	}
	r.mu.Lock()
	r.resends += len(ranges)
	r.mu.Unlock()
	r.requester.RequestResend(ranges)
}

func (r *Repairer) startTimerLocked() {
	if r.timer != nil {
		return
	}
	gen := r.gen
	r.timer = time.AfterFunc(r.cfg.RetryInterval, func() { r.retry(gen) })
}

func (r *Repairer) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
	r.retries = 0
}

func (r *Repairer) dropLocked() {
	r.discards += len(r.buffer)
	r.buffer = nil
	r.stopTimerLocked()
}

func (r *Repairer) retry(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	if r.retries >= r.cfg.MaxRetries {
		r.logger.Warn().Uint16("expected", r.expected).Int("buffered", len(r.buffer)).Msg("gap not repaired, giving up")
		r.dropLocked()
		r.mu.Unlock()
		if r.onGiveUp != nil {
			r.onGiveUp()
		}
		return
	}
	r.retries++
	missing := r.missingLocked()
	r.timer = time.AfterFunc(r.cfg.RetryInterval, func() { r.retry(gen) })
	r.mu.Unlock()
	r.request(missing)
}
