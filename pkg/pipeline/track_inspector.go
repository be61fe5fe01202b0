// ABOUTME: Reports whether each announced track started playing or failed
// ABOUTME: A track fails when another track arrives before any of its audio
package pipeline

import (
	"sync"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// TrackObserver is told the fate of every track
type TrackObserver interface {
	NotifyTrackPlay(track msg.Track)
	NotifyTrackFail(track msg.Track)
}

// TrackInspector watches for the first stream after each Track message
type TrackInspector struct {
	upstream Upstream

	mu        sync.Mutex
	observers []TrackObserver

	track   msg.Track
	pending bool
}

func NewTrackInspector(upstream Upstream) *TrackInspector {
	return &TrackInspector{upstream: upstream}
}

func (t *TrackInspector) AddObserver(o TrackObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

func (t *TrackInspector) Pull() msg.Msg {
	m := t.upstream.Pull()
	switch v := m.(type) {
	case *msg.TrackMsg:
		if t.pending {
			t.notify(t.track, false)
		}
		t.track = v.Track
		t.pending = true
	case *msg.EncodedStream:
		if v.Live {
			t.played()
		}
	case *msg.DecodedStream:
		t.played()
	case *msg.AudioEncoded, *msg.Playable:
		unexpected("track-inspector", m)
	}
	return m
}

func (t *TrackInspector) played() {
	if t.pending {
		t.pending = false
		t.notify(t.track, true)
	}
}

func (t *TrackInspector) notify(track msg.Track, played bool) {
	t.mu.Lock()
	observers := append([]TrackObserver(nil), t.observers...)
	t.mu.Unlock()
	for _, o := range observers {
		if played {
			o.NotifyTrackPlay(track)
		} else {
			o.NotifyTrackFail(track)
		}
	}
}
