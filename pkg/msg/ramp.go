// ABOUTME: Gain ramps applied to audio around starts, stops and skips
// ABOUTME: Composes overlapping ramps by keeping the quieter trajectory
package msg

import "fmt"

// RampDirection describes whether a ramp raises or lowers gain
type RampDirection int

const (
	RampNone RampDirection = iota
	RampUp
	RampDown
)

func (d RampDirection) String() string {
	switch d {
	case RampUp:
		return "up"
	case RampDown:
		return "down"
	default:
		return "none"
	}
}

const (
	// RampMax is unity gain
	RampMax uint32 = 1 << 31
	// RampMin is silence
	RampMin uint32 = 0
)

// Ramp is a linear gain trajectory across one audio message
type Ramp struct {
	start     uint32
	end       uint32
	direction RampDirection
	enabled   bool
}

// Start returns the gain at the first sample
func (r Ramp) Start() uint32 { return r.start }

// End returns the gain at the last sample
func (r Ramp) End() uint32 { return r.end }

// Direction returns the ramp direction
func (r Ramp) Direction() RampDirection { return r.direction }

// IsEnabled reports whether a ramp has been set
func (r Ramp) IsEnabled() bool { return r.enabled }

// Reset clears the ramp
func (r *Ramp) Reset() { *r = Ramp{} }

func (r Ramp) String() string {
	if !r.enabled {
		return "ramp(none)"
	}
	return fmt.Sprintf("ramp(%d->%d %s)", r.start, r.end, r.direction)
}

// Set applies a ramp starting at start across fragment jiffies of a ramp whose
// full remaining length is remaining. Gain moves by RampMax*fragment/remaining.
//
// If a ramp was already set the quieter trajectory wins. When the two cross,
// this ramp keeps the part before the crossing and the part after it is
// returned as split, to be applied from splitPos jiffies onwards.
func (r *Ramp) Set(start uint32, fragment, remaining uint64, direction RampDirection) (split Ramp, splitPos uint64, ok bool) {
	if fragment == 0 || remaining < fragment {
		panic(fmt.Sprintf("msg: invalid ramp fragment %d of %d", fragment, remaining))
	}
	if start > RampMax {
		panic(fmt.Sprintf("msg: ramp start %d above max", start))
	}
	switch direction {
	case RampUp:
		if start == RampMax {
			panic("msg: cannot ramp up from max")
		}
	case RampDown:
		if start == RampMin {
			panic("msg: cannot ramp down from min")
		}
	default:
		panic("msg: ramp needs a direction")
	}

	delta := uint64(RampMax) * fragment / remaining
	end := uint64(start)
	if direction == RampUp {
		end += delta
		if end > uint64(RampMax) {
			end = uint64(RampMax)
		}
	} else if delta >= end {
		end = uint64(RampMin)
	} else {
		end -= delta
	}
	next := Ramp{start: start, end: uint32(end), direction: direction, enabled: true}

	if !r.enabled {
		*r = next
		return Ramp{}, 0, false
	}
	cur := *r
	if next.start <= cur.start && next.end <= cur.end {
		*r = next
		return Ramp{}, 0, false
	}
	if next.start >= cur.start && next.end >= cur.end {
		return Ramp{}, 0, false
	}

	// trajectories cross; ds and de have opposite signs
	ds := absDiff(cur.start, next.start)
	de := absDiff(cur.end, next.end)
	splitPos = fragment * ds / (ds + de)
	lowerStart, lowerEnd := cur, next
	if next.start < cur.start {
		lowerStart, lowerEnd = next, cur
	}
	if splitPos == 0 {
		*r = lowerEnd
		return Ramp{}, 0, false
	}
	crossing := gainAt(cur.start, cur.end, ds, ds+de)
	*r = Ramp{start: lowerStart.start, end: crossing, enabled: true,
		direction: directionOf(lowerStart.start, crossing, lowerStart.direction)}
	split = Ramp{start: crossing, end: lowerEnd.end, enabled: true,
		direction: directionOf(crossing, lowerEnd.end, lowerEnd.direction)}
	return split, splitPos, true
}

// Split divides the ramp at pos of size jiffies, returning the ramp for the
// tail. The receiver keeps the head.
func (r *Ramp) Split(pos, size uint64) Ramp {
	if !r.enabled {
		return Ramp{}
	}
	mid := gainAt(r.start, r.end, pos, size)
	tail := Ramp{start: mid, end: r.end, enabled: true, direction: directionOf(mid, r.end, r.direction)}
	r.end = mid
	r.direction = directionOf(r.start, mid, r.direction)
	return tail
}

// Apply scales interleaved samples in place. The first frame gets the start
// gain and the last frame the end gain.
func (r Ramp) Apply(samples []int32, channels int) {
	if !r.enabled || channels <= 0 {
		return
	}
	frames := len(samples) / channels
	for i := 0; i < frames; i++ {
		gain := uint64(r.start)
		if frames > 1 {
			gain = uint64(gainAt(r.start, r.end, uint64(i), uint64(frames-1)))
		}
		for c := 0; c < channels; c++ {
			idx := i*channels + c
			samples[idx] = int32((int64(samples[idx]) * int64(gain)) >> 31)
		}
	}
}

func gainAt(start, end uint32, pos, size uint64) uint32 {
	if size == 0 {
		return start
	}
	s, e := int64(start), int64(end)
	return uint32(s + (e-s)*int64(pos)/int64(size))
}

func absDiff(a, b uint32) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

func directionOf(start, end uint32, fallback RampDirection) RampDirection {
	switch {
	case end > start:
		return RampUp
	case end < start:
		return RampDown
	default:
		return fallback
	}
}
