// ABOUTME: Contract between source protocols and the protocol manager
// ABOUTME: A protocol turns a URI into pipeline messages through the Supply
package protocol

import (
	"context"
	"errors"
)

// ErrNotSupported is returned for a URI no protocol can stream
var ErrNotSupported = errors.New("protocol: uri not supported")

// StreamResult is how a call to Stream ended
type StreamResult int

const (
	// StreamSuccess means the whole stream was delivered
	StreamSuccess StreamResult = iota
	// StreamStopped means TryStop or Interrupt ended the stream
	StreamStopped
	// StreamErrorRecoverable means the stream broke but may be retried
	StreamErrorRecoverable
	// StreamErrorUnrecoverable means retrying will not help
	StreamErrorUnrecoverable
	// StreamNotSupported means the protocol does not handle the URI
	StreamNotSupported
)

func (r StreamResult) String() string {
	switch r {
	case StreamSuccess:
		return "success"
	case StreamStopped:
		return "stopped"
	case StreamErrorRecoverable:
		return "recoverable-error"
	case StreamErrorUnrecoverable:
		return "unrecoverable-error"
	case StreamNotSupported:
		return "not-supported"
	default:
		return "unknown"
	}
}

// IDProvider mints the pipeline ids protocols stamp on their output
type IDProvider interface {
	NextStreamID() uint32
	NextTrackID() uint32
	NextFlushID() uint32
}

// Protocol streams URIs of the schemes it supports
type Protocol interface {
	// Supports reports whether the protocol handles uri
	Supports(uri string) bool

	// Stream outputs uri to the pipeline, blocking until it ends
	Stream(ctx context.Context, uri string) StreamResult

	// Interrupt aborts any blocking network read so Stream returns promptly
	Interrupt(interrupt bool)
}
