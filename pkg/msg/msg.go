// ABOUTME: Message interface and control message kinds
// ABOUTME: Reference counting that returns messages to their pool at zero
package msg

import (
	"fmt"

	"go.uber.org/atomic"
)

// Kind names a message variant
type Kind int

const (
	KindMode Kind = iota
	KindSession
	KindTrack
	KindEncodedStream
	KindAudioEncoded
	KindMetaText
	KindDecodedStream
	KindAudioPcm
	KindSilence
	KindPlayable
	KindHalt
	KindFlush
	KindWait
	KindDrain
	KindDelay
	KindChangeInput
	KindQuit
	KindStreamInterrupted
)

var kindNames = [...]string{
	"Mode", "Session", "Track", "EncodedStream", "AudioEncoded", "MetaText",
	"DecodedStream", "AudioPcm", "Silence", "Playable", "Halt", "Flush", "Wait",
	"Drain", "Delay", "ChangeInput", "Quit", "StreamInterrupted",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Msg is the closed set of pipeline messages. Only types in this package
// implement it.
type Msg interface {
	Kind() Kind
	AddRef()
	RemoveRef()
	refs() *refCounted
}

type refCounted struct {
	count   atomic.Int32
	release func()
}

func (r *refCounted) refs() *refCounted { return r }

// AddRef takes another reference, for fan-out to a second consumer
func (r *refCounted) AddRef() {
	if r.count.Inc() <= 1 {
		panic("msg: AddRef on a released message")
	}
}

// RemoveRef drops a reference; the last one returns the message to its pool
func (r *refCounted) RemoveRef() {
	n := r.count.Dec()
	switch {
	case n == 0:
		r.release()
	case n < 0:
		panic("msg: RemoveRef on a released message")
	}
}

// RefCount returns the current reference count
func RefCount(m Msg) int32 {
	return m.refs().count.Load()
}

// Mode starts a new playback mode (radio, playlist, raop, ...)
type Mode struct {
	refCounted
	Mode string
	Info ModeInfo
}

func (m *Mode) Kind() Kind { return KindMode }
func (m *Mode) clear()     { m.Mode, m.Info = "", ModeInfo{} }

// Session marks the start of a new sender session
type Session struct {
	refCounted
	ID uint32
}

func (m *Session) Kind() Kind { return KindSession }
func (m *Session) clear()     { m.ID = 0 }

// TrackMsg announces a new track
type TrackMsg struct {
	refCounted
	Track         Track
	StartOfStream bool
}

func (m *TrackMsg) Kind() Kind { return KindTrack }
func (m *TrackMsg) clear()     { m.Track, m.StartOfStream = Track{}, false }

// EncodedStream starts a new stream of encoded bytes
type EncodedStream struct {
	refCounted
	URI        string
	MetaText   string
	TotalBytes uint64
	StartPos   uint64
	StreamID   uint32
	Seekable   bool
	Live       bool
	Handler    StreamHandler
	PCM        *PcmStreamInfo
}

func (m *EncodedStream) Kind() Kind { return KindEncodedStream }
func (m *EncodedStream) clear() {
	m.URI, m.MetaText = "", ""
	m.TotalBytes, m.StartPos, m.StreamID = 0, 0, 0
	m.Seekable, m.Live = false, false
	m.Handler, m.PCM = nil, nil
}

// MetaText carries in-stream metadata such as a radio title
type MetaText struct {
	refCounted
	Text string
}

func (m *MetaText) Kind() Kind { return KindMetaText }
func (m *MetaText) clear()     { m.Text = "" }

// DecodedStream announces the PCM format of a decoded stream
type DecodedStream struct {
	refCounted
	Info    DecodedStreamInfo
	Handler StreamHandler
}

func (m *DecodedStream) Kind() Kind       { return KindDecodedStream }
func (m *DecodedStream) StreamID() uint32 { return m.Info.StreamID }
func (m *DecodedStream) clear()           { m.Info, m.Handler = DecodedStreamInfo{}, nil }

// Halt marks a point where audio stops
type Halt struct {
	refCounted
	ID uint32
}

func (m *Halt) Kind() Kind { return KindHalt }
func (m *Halt) clear()     { m.ID = 0 }

// Flush marks the end of audio discarded after a stop or seek
type Flush struct {
	refCounted
	ID uint32
}

func (m *Flush) Kind() Kind { return KindFlush }
func (m *Flush) clear()     { m.ID = 0 }

// Wait marks a live source pausing without ending its stream
type Wait struct {
	refCounted
}

func (m *Wait) Kind() Kind { return KindWait }
func (m *Wait) clear()     {}

// Drain asks the output to play out everything before it
type Drain struct {
	refCounted
	ID       uint32
	callback func()
	reported atomic.Bool
}

func (m *Drain) Kind() Kind { return KindDrain }
func (m *Drain) clear() {
	m.ID, m.callback = 0, nil
	m.reported.Store(false)
}

// ReportDrained runs the drain callback once
func (m *Drain) ReportDrained() {
	if m.reported.CompareAndSwap(false, true) && m.callback != nil {
		m.callback()
	}
}

// Delay sets the total latency, in jiffies, the sender wants applied
type Delay struct {
	refCounted
	Jiffies uint64
}

func (m *Delay) Kind() Kind { return KindDelay }
func (m *Delay) clear()     { m.Jiffies = 0 }

// ChangeInput asks for the input source to be switched once reached
type ChangeInput struct {
	refCounted
	callback func()
}

func (m *ChangeInput) Kind() Kind { return KindChangeInput }
func (m *ChangeInput) clear()     { m.callback = nil }

// ReadyToChange runs the change callback
func (m *ChangeInput) ReadyToChange() {
	if m.callback != nil {
		m.callback()
	}
}

// Quit shuts the pipeline down
type Quit struct {
	refCounted
}

func (m *Quit) Kind() Kind { return KindQuit }
func (m *Quit) clear()     {}

// StreamInterrupted reports a live stream breaking without a clean end
type StreamInterrupted struct {
	refCounted
}

func (m *StreamInterrupted) Kind() Kind { return KindStreamInterrupted }
func (m *StreamInterrupted) clear()     {}
