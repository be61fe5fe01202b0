// ABOUTME: Bubbletea model for the renderer TUI
// ABOUTME: Shows transport state, the current track and stream, and output stats
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const boxWidth = 56

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(boxWidth)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Model represents the TUI state
type Model struct {
	name     string
	controls *Controls

	// Transport
	state     string
	buffering bool
	mode      string

	// Track
	trackURI     string
	metaText     string
	seconds      uint32
	trackSeconds uint32

	// Stream
	codec      string
	sampleRate int
	channels   int
	bitDepth   int
	live       bool

	// Output
	volume int
	muted  bool

	// Stats
	starvations uint64
	dropouts    uint64
	resends     int
	discards    int

	showDebug bool
	width     int
	height    int
}

// StatusMsg updates TUI state. Zero fields leave the model unchanged.
type StatusMsg struct {
	State        string
	Buffering    *bool
	Mode         string
	TrackURI     string
	NewTrack     bool
	MetaText     string
	Seconds      *uint32
	TrackSeconds uint32
	Codec        string
	SampleRate   int
	Channels     int
	BitDepth     int
	Live         bool
	Volume       *int
	Stats        *Stats
}

// Stats is polled from the renderer and sent periodically
type Stats struct {
	Starvations uint64
	Dropouts    uint64
	Resends     int
	Discards    int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	sections := []string{
		m.renderHeader(),
		m.renderTrack(),
		m.renderOutput(),
	}
	if m.showDebug {
		sections = append(sections, m.renderDebug())
	}
	sections = append(sections, helpStyle.Render("space:Play/Pause  s:Stop  n:Next  ↑/↓:Volume  m:Mute  d:Debug  q:Quit"))
	return boxStyle.Render(strings.Join(sections, "\n\n"))
}

func (m Model) renderHeader() string {
	state := m.state
	if m.buffering {
		state += warnStyle.Render(" (buffering)")
	}
	mode := m.mode
	if mode == "" {
		mode = "-"
	}
	return titleStyle.Render(m.name) + "\n" +
		labelStyle.Render("State: ") + state + "\n" +
		labelStyle.Render("Mode:  ") + mode
}

func (m Model) renderTrack() string {
	if m.trackURI == "" {
		return "No track"
	}
	s := labelStyle.Render("Track: ") + truncate(m.trackURI, boxWidth-9)
	if m.metaText != "" {
		s += "\n" + labelStyle.Render("Info:  ") + truncate(m.metaText, boxWidth-9)
	}
	s += "\n" + labelStyle.Render("Time:  ") + formatTime(m.seconds)
	if m.trackSeconds > 0 {
		s += " / " + formatTime(m.trackSeconds)
	} else if m.live {
		s += " (live)"
	}
	if m.codec != "" {
		s += "\n" + labelStyle.Render("Format: ") +
			fmt.Sprintf("%s %dHz %s %d-bit", m.codec, m.sampleRate, channelName(m.channels), m.bitDepth)
	}
	return s
}

func (m Model) renderOutput() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " 🔇"
	}
	return labelStyle.Render("Volume: ") +
		fmt.Sprintf("[%s] %d%%%s", renderBar(m.volume, 100, 10), m.volume, muteIcon) + "\n" +
		labelStyle.Render("Stats:  ") +
		fmt.Sprintf("starved %d  dropouts %d", m.starvations, m.dropouts)
}

func (m Model) renderDebug() string {
	return labelStyle.Render("RAOP:   ") + fmt.Sprintf("resends %d  discards %d", m.resends, m.discards)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.request(Request{Command: CmdQuit})
		return m, tea.Quit
	case " ":
		m.request(Request{Command: CmdPlayPause})
	case "s":
		m.request(Request{Command: CmdStop})
	case "n":
		m.request(Request{Command: CmdSkip})
	case "up":
		m.volume = min(m.volume+5, 100)
		m.request(Request{Command: CmdVolume, Volume: m.volume})
	case "down":
		m.volume = max(m.volume-5, 0)
		m.request(Request{Command: CmdVolume, Volume: m.volume})
	case "m":
		m.muted = !m.muted
		m.request(Request{Command: CmdMute, Muted: m.muted})
	case "d":
		m.showDebug = !m.showDebug
	}
	return m, nil
}

// request never blocks the UI; presses are dropped if the renderer lags
func (m Model) request(r Request) {
	if m.controls == nil {
		return
	}
	select {
	case m.controls.Requests <- r:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.Buffering != nil {
		m.buffering = *msg.Buffering
	}
	if msg.Mode != "" {
		m.mode = msg.Mode
	}
	if msg.NewTrack {
		m.trackURI = msg.TrackURI
		m.metaText = ""
		m.seconds, m.trackSeconds = 0, 0
		m.codec = ""
	}
	if msg.MetaText != "" {
		m.metaText = msg.MetaText
	}
	if msg.Seconds != nil {
		m.seconds = *msg.Seconds
		m.trackSeconds = msg.TrackSeconds
	}
	if msg.Codec != "" {
		m.codec = msg.Codec
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
		m.bitDepth = msg.BitDepth
		m.live = msg.Live
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Stats != nil {
		m.starvations = msg.Stats.Starvations
		m.dropouts = msg.Stats.Dropouts
		m.resends = msg.Stats.Resends
		m.discards = msg.Stats.Discards
	}
}

// Utility functions
func renderBar(value, total, width int) string {
	filled := (value * width) / total
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatTime(seconds uint32) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}
