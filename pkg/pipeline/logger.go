// ABOUTME: Debug element that logs every message passing a point in the pipeline
// ABOUTME: Inserted between elements when pipeline tracing is configured
package pipeline

import (
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// Logger passes messages through unchanged, logging each at debug level
type Logger struct {
	upstream Upstream
	logger   zerolog.Logger
	audio    bool
}

// NewLogger logs after the element called name. Audio messages are only
// logged when audio is set.
func NewLogger(name string, upstream Upstream, logger zerolog.Logger, audio bool) *Logger {
	return &Logger{
		upstream: upstream,
		logger:   logger.With().Str("after", name).Logger(),
		audio:    audio,
	}
}

func (l *Logger) Pull() msg.Msg {
	m := l.upstream.Pull()
	ev := l.logger.Debug().Stringer("kind", m.Kind())
	switch v := m.(type) {
	case *msg.Mode:
		ev.Str("mode", v.Mode).Msg("Pulled")
	case *msg.TrackMsg:
		ev.Uint32("track", v.Track.ID).Str("uri", v.Track.URI).Msg("Pulled")
	case *msg.EncodedStream:
		ev.Uint32("stream", v.StreamID).Str("uri", v.URI).Bool("live", v.Live).Msg("Pulled")
	case *msg.DecodedStream:
		ev.Uint32("stream", v.Info.StreamID).Int("rate", v.Info.SampleRate).
			Int("channels", v.Info.NumChannels).Str("codec", v.Info.CodecName).Msg("Pulled")
	case *msg.Halt:
		ev.Uint32("id", v.ID).Msg("Pulled")
	case *msg.Flush:
		ev.Uint32("id", v.ID).Msg("Pulled")
	case *msg.Drain:
		ev.Uint32("id", v.ID).Msg("Pulled")
	case *msg.Delay:
		ev.Uint64("ms", msg.JiffiesToMs(v.Jiffies)).Msg("Pulled")
	case *msg.MetaText:
		ev.Str("text", v.Text).Msg("Pulled")
	case msg.Audio:
		if l.audio {
			ev.Uint64("jiffies", v.Jiffies()).Stringer("ramp", v.Ramp()).Msg("Pulled")
		} else {
			ev.Discard()
		}
	default:
		ev.Msg("Pulled")
	}
	return m
}
