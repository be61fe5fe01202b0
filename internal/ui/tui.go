// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and carries key presses out as commands
package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

// Command is a transport request made from the keyboard
type Command int

const (
	CmdPlayPause Command = iota
	CmdStop
	CmdSkip
	CmdVolume
	CmdMute
	CmdQuit
)

// Request is sent on Controls.Requests. Volume is set for CmdVolume and
// Muted for CmdMute.
type Request struct {
	Command Command
	Volume  int
	Muted   bool
}

// Controls holds the channel the TUI reports key presses on
type Controls struct {
	Requests chan Request
}

func NewControls() *Controls {
	return &Controls{Requests: make(chan Request, 10)}
}

// NewModel creates a new TUI model
func NewModel(name string, volume int, controls *Controls) Model {
	return Model{
		name:     name,
		volume:   volume,
		state:    pipeline.StateStopped.String(),
		controls: controls,
	}
}

// Run creates the TUI program; the caller runs it
func Run(name string, volume int, controls *Controls) *tea.Program {
	return tea.NewProgram(NewModel(name, volume, controls), tea.WithAltScreen())
}

// Observer forwards pipeline notifications to a running program
type Observer struct {
	send func(tea.Msg)
}

func NewObserver(p *tea.Program) *Observer {
	return &Observer{send: p.Send}
}

func (o *Observer) NotifyPipelineState(state pipeline.State, buffering bool) {
	o.send(StatusMsg{State: state.String(), Buffering: &buffering})
}

func (o *Observer) NotifyMode(mode string, info msg.ModeInfo) {
	o.send(StatusMsg{Mode: mode})
}

func (o *Observer) NotifyTrack(track msg.Track, mode string, startOfStream bool) {
	o.send(StatusMsg{TrackURI: track.URI, Mode: mode, NewTrack: true})
}

func (o *Observer) NotifyMetaText(text string) {
	o.send(StatusMsg{MetaText: text})
}

func (o *Observer) NotifyTime(seconds, trackSeconds uint32) {
	o.send(StatusMsg{Seconds: &seconds, TrackSeconds: trackSeconds})
}

func (o *Observer) NotifyStreamInfo(info msg.DecodedStreamInfo) {
	o.send(StatusMsg{
		Codec:      info.CodecName,
		SampleRate: info.SampleRate,
		Channels:   info.NumChannels,
		BitDepth:   info.BitDepth,
		Live:       info.Live,
	})
}
