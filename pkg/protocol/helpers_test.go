// ABOUTME: Shared fakes for protocol tests
// ABOUTME: A downstream that records what a protocol supplies and answers drains
package protocol

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

type recorder struct {
	mu      sync.Mutex
	kinds   []msg.Kind
	data    []byte
	streams []msg.EncodedStreamParams
	flushes []uint32
	tracks  []msg.Track
	modes   []string
}

func (r *recorder) Push(m msg.Msg) {
	r.mu.Lock()
	r.kinds = append(r.kinds, m.Kind())
	switch m := m.(type) {
	case *msg.AudioEncoded:
		r.data = append(r.data, m.Data()...)
	case *msg.EncodedStream:
		r.streams = append(r.streams, msg.EncodedStreamParams{
			URI:        m.URI,
			TotalBytes: m.TotalBytes,
			StartPos:   m.StartPos,
			StreamID:   m.StreamID,
			Seekable:   m.Seekable,
			Live:       m.Live,
		})
	case *msg.Flush:
		r.flushes = append(r.flushes, m.ID)
	case *msg.TrackMsg:
		r.tracks = append(r.tracks, m.Track)
	case *msg.Mode:
		r.modes = append(r.modes, m.Mode)
	}
	r.mu.Unlock()

	if d, ok := m.(*msg.Drain); ok {
		d.ReportDrained()
	}
	m.RemoveRef()
}

func (r *recorder) bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

func (r *recorder) lastStream() (msg.EncodedStreamParams, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return msg.EncodedStreamParams{}, false
	}
	return r.streams[len(r.streams)-1], true
}

func newTestSupply() (*pipeline.Supply, *recorder, *pipeline.IDProvider) {
	rec := &recorder{}
	factory := msg.NewFactory(msg.DefaultFactoryConfig())
	return pipeline.NewSupply(factory, rec), rec, &pipeline.IDProvider{}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
