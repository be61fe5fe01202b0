// ABOUTME: Issues stream, track, flush and halt ids
// ABOUTME: Every id is unique for the life of the pipeline and never zero
package pipeline

import "go.uber.org/atomic"

// IDProvider mints monotonically increasing ids. Zero is reserved for
// "invalid" in every id space.
type IDProvider struct {
	stream atomic.Uint32
	track  atomic.Uint32
	flush  atomic.Uint32
	halt   atomic.Uint32
}

func (p *IDProvider) NextStreamID() uint32 { return p.stream.Inc() }
func (p *IDProvider) NextTrackID() uint32  { return p.track.Inc() }
func (p *IDProvider) NextFlushID() uint32  { return p.flush.Inc() }
func (p *IDProvider) NextHaltID() uint32   { return p.halt.Inc() }
