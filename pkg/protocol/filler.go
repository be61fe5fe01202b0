// ABOUTME: Filler announces each URI's mode and track before the manager streams it
// ABOUTME: Modes are looked up by URI scheme
package protocol

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

// Mode is how the pipeline should treat content of one scheme
type Mode struct {
	Name string
	Info msg.ModeInfo
	// OwnsTrack is set for protocols that output their own Track message
	OwnsTrack bool
}

// DefaultMode is used for schemes with no registered mode
var DefaultMode = Mode{Name: "playlist", Info: msg.ModeInfo{SupportsPause: true}}

// Filler feeds URIs to the pipeline one at a time
type Filler struct {
	manager *Manager
	supply  *pipeline.Supply
	ids     IDProvider
	modes   map[string]Mode
	logger  zerolog.Logger
}

func NewFiller(manager *Manager, supply *pipeline.Supply, ids IDProvider, logger zerolog.Logger) *Filler {
	return &Filler{
		manager: manager,
		supply:  supply,
		ids:     ids,
		modes:   make(map[string]Mode),
		logger:  logger.With().Str("component", "filler").Logger(),
	}
}

// SetMode registers the mode for a scheme
func (f *Filler) SetMode(scheme string, m Mode) {
	f.modes[scheme] = m
}

// Play outputs the mode and track for uri and streams it
func (f *Filler) Play(ctx context.Context, uri, metadata string) (StreamResult, error) {
	mode, ok := f.modes[Scheme(uri)]
	if !ok {
		mode = DefaultMode
	}
	if err := f.supply.OutputMode(mode.Name, mode.Info); err != nil {
		return StreamErrorRecoverable, fmt.Errorf("output mode: %w", err)
	}
	if !mode.OwnsTrack {
		track := msg.Track{ID: f.ids.NextTrackID(), URI: uri, Metadata: metadata}
		if err := f.supply.OutputTrack(track, true); err != nil {
			return StreamErrorRecoverable, fmt.Errorf("output track: %w", err)
		}
	}
	f.logger.Info().Str("uri", uri).Str("mode", mode.Name).Msg("playing")
	return f.manager.Stream(ctx, uri)
}
