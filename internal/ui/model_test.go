// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key handling and rendering
package ui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	next, _ := m.Update(key(k))
	model, ok := next.(Model)
	require.True(t, ok)
	return model
}

func TestNewModel(t *testing.T) {
	m := NewModel("den", 80, nil)
	assert.Equal(t, "stopped", m.state)
	assert.Equal(t, 80, m.volume)
	assert.False(t, m.muted)
	assert.Equal(t, "Loading...", m.View())
}

func TestKeysSendRequests(t *testing.T) {
	controls := NewControls()
	m := NewModel("den", 50, controls)

	m = press(t, m, "up")
	m = press(t, m, "m")
	m = press(t, m, " ")
	m = press(t, m, "n")
	m = press(t, m, "s")
	m = press(t, m, "d")

	want := []Request{
		{Command: CmdVolume, Volume: 55},
		{Command: CmdMute, Muted: true},
		{Command: CmdPlayPause},
		{Command: CmdSkip},
		{Command: CmdStop},
	}
	for _, w := range want {
		select {
		case got := <-controls.Requests:
			assert.Equal(t, w, got)
		default:
			t.Fatalf("missing request %+v", w)
		}
	}
	assert.Empty(t, controls.Requests, "debug toggle is local")
	assert.True(t, m.showDebug)
}

func TestVolumeClamps(t *testing.T) {
	m := NewModel("den", 100, nil)
	m = press(t, m, "up")
	assert.Equal(t, 100, m.volume)

	m = NewModel("den", 3, nil)
	m = press(t, m, "down")
	assert.Equal(t, 0, m.volume)
}

func TestQuit(t *testing.T) {
	controls := NewControls()
	_, cmd := NewModel("den", 50, controls).Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, Request{Command: CmdQuit}, <-controls.Requests)
}

func TestStatusUpdates(t *testing.T) {
	m := NewModel("den", 50, nil)
	buffering := true
	m.applyStatus(StatusMsg{State: "playing", Buffering: &buffering, Mode: "playlist"})
	m.applyStatus(StatusMsg{NewTrack: true, TrackURI: "http://radio/a.flac"})
	m.applyStatus(StatusMsg{Codec: "FLAC", SampleRate: 44100, Channels: 2, BitDepth: 16})
	secs := uint32(75)
	m.applyStatus(StatusMsg{Seconds: &secs, TrackSeconds: 200})

	assert.Equal(t, "playing", m.state)
	assert.True(t, m.buffering)
	assert.Equal(t, "http://radio/a.flac", m.trackURI)
	assert.Equal(t, "FLAC", m.codec)
	assert.Equal(t, uint32(75), m.seconds)

	m.applyStatus(StatusMsg{NewTrack: true, TrackURI: "raop://6000"})
	assert.Empty(t, m.codec, "a new track clears the previous stream")
	assert.Zero(t, m.seconds)
	assert.Equal(t, "playing", m.state)
}

func TestView(t *testing.T) {
	m := NewModel("kitchen", 40, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m = next.(Model)
	m.applyStatus(StatusMsg{NewTrack: true, TrackURI: "hls://radio/live.m3u8", Mode: "playlist"})
	m.applyStatus(StatusMsg{Codec: "AAC", SampleRate: 48000, Channels: 2, BitDepth: 16, Live: true})

	view := m.View()
	assert.Contains(t, view, "kitchen")
	assert.Contains(t, view, "hls://radio/live.m3u8")
	assert.Contains(t, view, "AAC 48000Hz Stereo 16-bit")
	assert.Contains(t, view, "(live)")
	assert.Contains(t, view, "40%")
}

func TestObserverForwardsNotifications(t *testing.T) {
	var got []tea.Msg
	o := &Observer{send: func(m tea.Msg) { got = append(got, m) }}

	o.NotifyPipelineState(pipeline.StatePaused, false)
	o.NotifyTrack(msg.Track{URI: "raop://6000"}, "raop", true)
	o.NotifyTime(3, 0)

	require.Len(t, got, 3)
	m := NewModel("den", 50, nil)
	for _, g := range got {
		m.applyStatus(g.(StatusMsg))
	}
	assert.Equal(t, "paused", m.state)
	assert.Equal(t, "raop", m.mode)
	assert.Equal(t, "raop://6000", m.trackURI)
	assert.Equal(t, uint32(3), m.seconds)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "█████░░░░░", renderBar(50, 100, 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "1:05", formatTime(65))
	assert.Equal(t, "Mono", channelName(1))
	assert.Equal(t, "6ch", channelName(6))
}
