// ABOUTME: Output that discards audio
// ABOUTME: Used headless and in tests; counts the frames it was given
package output

import (
	"time"

	"go.uber.org/atomic"
)

// Null accepts audio without playing it
type Null struct {
	channels int
	open     atomic.Bool
	frames   atomic.Uint64
}

func NewNull() *Null { return &Null{} }

func (n *Null) Open(sampleRate, channels, bitDepth int) error {
	n.channels = channels
	n.open.Store(true)
	return nil
}

func (n *Null) Write(samples []int32) error {
	if !n.open.Load() {
		return ErrNotOpen
	}
	n.frames.Add(uint64(len(samples) / n.channels))
	return nil
}

func (n *Null) Latency() time.Duration { return 0 }

func (n *Null) Close() error {
	n.open.Store(false)
	return nil
}

// Frames returns how many frames have been written
func (n *Null) Frames() uint64 { return n.frames.Load() }
