// ABOUTME: End-to-end tests driving raw PCM through the whole pipeline
// ABOUTME: Exercises supply, decode, stream control and the output side together
package pipeline_test

import (
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
)

// playHandler allows every stream and records which streams asked to play
type playHandler struct {
	mu       sync.Mutex
	okToPlay []uint32
}

func (h *playHandler) OkToPlay(streamID uint32) msg.PlayDecision {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.okToPlay = append(h.okToPlay, streamID)
	return msg.PlayYes
}

func (h *playHandler) TrySeek(uint32, uint64) uint32                 { return msg.FlushIDInvalid }
func (h *playHandler) TryStop(uint32) uint32                         { return msg.FlushIDInvalid }
func (h *playHandler) TryGet(io.Writer, string, uint64, uint64) bool { return false }
func (h *playHandler) NotifyStarving(string, uint32, bool)           {}

func (h *playHandler) played() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint32(nil), h.okToPlay...)
}

func pullWithin(t *testing.T, p *pipeline.Pipeline, d time.Duration) msg.Msg {
	t.Helper()
	ch := make(chan msg.Msg, 1)
	go func() { ch <- p.Pull() }()
	select {
	case m := <-ch:
		return m
	case <-time.After(d):
		t.Fatal("pipeline pull timed out")
		return nil
	}
}

func startTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	p.AddCodec(decode.NewPCM())
	p.Start()
	return p
}

func TestPipelinePlaysRawPcm(t *testing.T) {
	p := startTestPipeline(t)
	p.Play()

	const frames = 4096
	data := make([]byte, frames*4)
	for i := 0; i < frames*2; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(1000))
	}
	h := &playHandler{}
	s := p.Supply()
	require.NoError(t, s.OutputMode("test", msg.ModeInfo{}))
	require.NoError(t, s.OutputTrack(msg.Track{ID: p.NextTrackID(), URI: "file://tone"}, true))
	require.NoError(t, s.OutputStream(msg.EncodedStreamParams{
		URI:        "file://tone",
		StreamID:   p.NextStreamID(),
		TotalBytes: uint64(len(data)),
		Handler:    h,
		PCM:        &msg.PcmStreamInfo{BitDepth: 16, SampleRate: 44100, Channels: 2},
	}))
	n, err := s.OutputData(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, s.OutputHalt(msg.HaltIDNone))

	var audio uint64
	var sawStream bool
	for {
		m := pullWithin(t, p, 5*time.Second)
		switch v := m.(type) {
		case *msg.DecodedStream:
			sawStream = true
			assert.Equal(t, 44100, v.Info.SampleRate)
			assert.Equal(t, 2, v.Info.NumChannels)
		case *msg.Playable:
			if !v.IsSilent() {
				audio += v.Jiffies()
			}
		}
		_, halted := m.(*msg.Halt)
		m.RemoveRef()
		if halted {
			break
		}
	}
	assert.True(t, sawStream)
	assert.Equal(t, msg.SamplesToJiffies(frames, 44100), audio)
	assert.Equal(t, []uint32{1}, h.played())

	state, _ := p.State()
	assert.Equal(t, pipeline.StatePlaying, state)

	require.NoError(t, p.Quit())
	for {
		m := pullWithin(t, p, 5*time.Second)
		_, quit := m.(*msg.Quit)
		m.RemoveRef()
		if quit {
			break
		}
	}
	p.Close()
}

func TestPipelineSeekNeedsPlayback(t *testing.T) {
	p, err := pipeline.New(pipeline.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Seek(1, 10), pipeline.ErrInvalidState)
}

func TestPipelineIDsAreMonotonic(t *testing.T) {
	p, err := pipeline.New(pipeline.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p.NextFlushID())
	assert.Equal(t, uint32(2), p.NextFlushID())
	assert.Equal(t, uint32(1), p.NextHaltID())
	assert.Equal(t, uint32(1), p.NextStreamID())
	assert.NotEqual(t, msg.FlushIDInvalid, p.NextFlushID())
}

func TestConfigValidate(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.RampShortJiffies = 0
	assert.ErrorIs(t, cfg.Validate(), pipeline.ErrInvalidConfig)
}
