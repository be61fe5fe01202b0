// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for the hardware sinks driven by the Animator
package output

import (
	"errors"
	"time"
)

// ErrNotOpen is returned by Write before Open succeeded
var ErrNotOpen = errors.New("output: not open")

// Output represents an audio output device
type Output interface {
	// Open prepares the device for the given format. Reopening with the
	// current format is a no-op.
	Open(sampleRate, channels, bitDepth int) error

	// Write outputs interleaved samples in the 24-bit range, blocking until
	// the device has accepted them
	Write(samples []int32) error

	// Latency is how long audio sits in the device after Write returns
	Latency() time.Duration

	// Close releases output resources
	Close() error
}
