// ABOUTME: Shared fakes for pipeline element tests
// ABOUTME: Scripted upstream, recording stream handler and message builders
package pipeline

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

const (
	testRate     = 44100
	testChannels = 2
	testDepth    = 16
)

// 441 frames at 44100Hz is exactly 10ms
const tenMs uint64 = 10 * msg.JiffiesPerMs

// scriptSource returns queued messages in order and blocks once empty
type scriptSource struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []msg.Msg
}

func newScriptSource(items ...msg.Msg) *scriptSource {
	s := &scriptSource{items: items}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *scriptSource) Push(m msg.Msg) {
	s.mu.Lock()
	s.items = append(s.items, m)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *scriptSource) Pull() msg.Msg {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.items) == 0 {
		s.cond.Wait()
	}
	m := s.items[0]
	s.items = s.items[1:]
	return m
}

type fakeHandler struct {
	mu       sync.Mutex
	decision msg.PlayDecision
	flushID  uint32
	okToPlay []uint32
	stops    []uint32
	starving []bool
}

func (h *fakeHandler) OkToPlay(streamID uint32) msg.PlayDecision {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.okToPlay = append(h.okToPlay, streamID)
	return h.decision
}

func (h *fakeHandler) TrySeek(uint32, uint64) uint32 { return msg.FlushIDInvalid }

func (h *fakeHandler) TryStop(streamID uint32) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops = append(h.stops, streamID)
	return h.flushID
}

func (h *fakeHandler) TryGet(io.Writer, string, uint64, uint64) bool { return false }

func (h *fakeHandler) NotifyStarving(_ string, _ uint32, starving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starving = append(h.starving, starving)
}

func (h *fakeHandler) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stops)
}

func newFactory() *msg.Factory {
	return msg.NewFactory(msg.DefaultFactoryConfig())
}

func encodedStream(t *testing.T, f *msg.Factory, id uint32, h msg.StreamHandler) *msg.EncodedStream {
	t.Helper()
	m, err := f.CreateEncodedStream(msg.EncodedStreamParams{URI: "http://test/stream", StreamID: id, Handler: h})
	require.NoError(t, err)
	return m
}

func decodedStream(t *testing.T, f *msg.Factory, id uint32, h msg.StreamHandler) *msg.DecodedStream {
	t.Helper()
	info := msg.DecodedStreamInfo{StreamID: id, BitDepth: testDepth, SampleRate: testRate, NumChannels: testChannels, CodecName: "pcm"}
	m, err := f.CreateDecodedStream(info, h)
	require.NoError(t, err)
	return m
}

// audio10ms returns 10ms of stereo audio at a constant level
func audio10ms(t *testing.T, f *msg.Factory, offset uint64) *msg.AudioPcm {
	t.Helper()
	samples := make([]int32, 441*testChannels)
	for i := range samples {
		samples[i] = 1 << 20
	}
	m, err := f.CreateAudioPcm(samples, testChannels, testRate, testDepth, offset)
	require.NoError(t, err)
	return m
}

func inUse(f *msg.Factory, name string) int {
	for _, s := range f.Stats() {
		if s.Name == name {
			return s.InUse
		}
	}
	return -1
}

// pullAsync pulls once on another goroutine
func pullAsync(u Upstream) <-chan msg.Msg {
	ch := make(chan msg.Msg, 1)
	go func() { ch <- u.Pull() }()
	return ch
}
