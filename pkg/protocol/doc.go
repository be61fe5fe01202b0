// ABOUTME: Source protocol package
// ABOUTME: Protocol contract, the scheme-dispatching manager, the filler and HTTP
// Package protocol turns URIs into pipeline messages.
//
// A Protocol streams one URI at a time through a pipeline.Supply and acts as
// the msg.StreamHandler for the streams it outputs. The Manager picks the
// protocol by URI scheme and retries recoverable failures; the Filler
// announces mode and track before handing the URI to the Manager.
//
// Example:
//
//	m := protocol.NewManager(logger)
//	m.Add(protocol.NewHTTP(protocol.DefaultHTTPConfig(), p.Supply(), p, logger))
//	f := protocol.NewFiller(m, p.Supply(), p, logger)
//	res, err := f.Play(ctx, "http://radio/stream.mp3", "")
package protocol
