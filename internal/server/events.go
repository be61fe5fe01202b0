// ABOUTME: JSON event and command types exchanged on the /events websocket
// ABOUTME: Events mirror pipeline observer notifications; commands drive the transport
package server

import (
	"encoding/json"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

// Message is the envelope of every event and command
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event types sent to clients
const (
	TypeHello    = "renderer/hello"
	TypeState    = "renderer/state"
	TypeMode     = "renderer/mode"
	TypeTrack    = "renderer/track"
	TypeMetaText = "renderer/metatext"
	TypeTime     = "renderer/time"
	TypeStream   = "renderer/stream"
	TypeError    = "renderer/error"
)

// Command types accepted from clients
const (
	CmdPlay   = "transport/play"
	CmdPause  = "transport/pause"
	CmdStop   = "transport/stop"
	CmdSkip   = "transport/skip"
	CmdVolume = "transport/volume"
	CmdMute   = "transport/mute"
	CmdOpen   = "transport/open"
)

type Hello struct {
	ClientID     string `json:"client_id"`
	Name         string `json:"name"`
	Product      string `json:"product"`
	Manufacturer string `json:"manufacturer"`
	Version      string `json:"version"`
}

type State struct {
	State     string `json:"state"`
	Buffering bool   `json:"buffering"`
}

type Mode struct {
	Mode            string `json:"mode"`
	SupportsLatency bool   `json:"supports_latency"`
	Realtime        bool   `json:"realtime"`
	SupportsPause   bool   `json:"supports_pause"`
}

type Track struct {
	ID            uint32 `json:"id"`
	URI           string `json:"uri"`
	Metadata      string `json:"metadata,omitempty"`
	Mode          string `json:"mode"`
	StartOfStream bool   `json:"start_of_stream"`
}

type MetaText struct {
	Text string `json:"text"`
}

type Time struct {
	Seconds      uint32 `json:"seconds"`
	TrackSeconds uint32 `json:"track_seconds"`
}

type Stream struct {
	StreamID   uint32 `json:"stream_id"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
	BitRate    int    `json:"bit_rate"`
	Lossless   bool   `json:"lossless"`
	Seekable   bool   `json:"seekable"`
	Live       bool   `json:"live"`
}

type Error struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

// VolumeCommand is the payload of transport/volume, 0-100
type VolumeCommand struct {
	Volume int `json:"volume"`
}

// MuteCommand is the payload of transport/mute
type MuteCommand struct {
	Muted bool `json:"muted"`
}

// OpenCommand is the payload of transport/open
type OpenCommand struct {
	URI      string `json:"uri"`
	Metadata string `json:"metadata,omitempty"`
}

func newMessage(typ string, payload any) (Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Payload: b}, nil
}

func stateEvent(state pipeline.State, buffering bool) State {
	return State{State: state.String(), Buffering: buffering}
}

func modeEvent(mode string, info msg.ModeInfo) Mode {
	return Mode{
		Mode:            mode,
		SupportsLatency: info.SupportsLatency,
		Realtime:        info.Realtime,
		SupportsPause:   info.SupportsPause,
	}
}

func streamEvent(info msg.DecodedStreamInfo) Stream {
	return Stream{
		StreamID:   info.StreamID,
		Codec:      info.CodecName,
		SampleRate: info.SampleRate,
		Channels:   info.NumChannels,
		BitDepth:   info.BitDepth,
		BitRate:    info.BitRate,
		Lossless:   info.Lossless,
		Seekable:   info.Seekable,
		Live:       info.Live,
	}
}
