// ABOUTME: Reports mode, track, metadata, stream format and playback time
// ABOUTME: Observes messages as they pass without changing them
package pipeline

import (
	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// Reporter tells an observer about what is about to play
type Reporter struct {
	upstream Upstream
	observer Observer

	mode         string
	seconds      uint32
	trackSeconds uint32
	reported     bool
}

func NewReporter(upstream Upstream, observer Observer) *Reporter {
	return &Reporter{upstream: upstream, observer: observer}
}

func (r *Reporter) Pull() msg.Msg {
	m := r.upstream.Pull()
	switch v := m.(type) {
	case *msg.Mode:
		r.mode = v.Mode
		r.observer.NotifyMode(v.Mode, v.Info)
	case *msg.TrackMsg:
		r.observer.NotifyTrack(v.Track, r.mode, v.StartOfStream)
	case *msg.MetaText:
		r.observer.NotifyMetaText(v.Text)
	case *msg.DecodedStream:
		r.trackSeconds = uint32(v.Info.TrackLength / msg.JiffiesPerSecond)
		r.seconds = uint32(v.Info.SampleStart / uint64(max(v.Info.SampleRate, 1)))
		r.reported = false
		r.observer.NotifyStreamInfo(v.Info)
		r.reportTime()
	case *msg.AudioPcm:
		secs := uint32(v.TrackOffset() / msg.JiffiesPerSecond)
		if secs != r.seconds || !r.reported {
			r.seconds = secs
			r.reportTime()
		}
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("reporter", m)
	}
	return m
}

func (r *Reporter) reportTime() {
	r.reported = true
	r.observer.NotifyTime(r.seconds, r.trackSeconds)
}
