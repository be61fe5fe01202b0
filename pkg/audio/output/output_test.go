// ABOUTME: Output and Animator tests
// ABOUTME: Drives the animator from a scripted source into capturing outputs
package output

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

func TestOutputsImplementOutput(t *testing.T) {
	var _ Output = (*Oto)(nil)
	var _ Output = (*Null)(nil)
	var _ Output = (*captureOutput)(nil)
}

func TestNullRequiresOpen(t *testing.T) {
	n := NewNull()
	assert.ErrorIs(t, n.Write([]int32{0, 0}), ErrNotOpen)

	require.NoError(t, n.Open(44100, 2, 16))
	require.NoError(t, n.Write(make([]int32, 20)))
	assert.Equal(t, uint64(10), n.Frames())

	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Write([]int32{0, 0}), ErrNotOpen)
}

type scriptSource struct {
	mu      sync.Mutex
	msgs    []msg.Msg
	latency uint64
}

func (s *scriptSource) Pull() msg.Msg {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m
}

func (s *scriptSource) SetOutputLatency(j uint64) {
	s.mu.Lock()
	s.latency = j
	s.mu.Unlock()
}

type captureOutput struct {
	mu      sync.Mutex
	opens   int
	samples []int32
	closed  bool
}

func (c *captureOutput) Open(sampleRate, channels, bitDepth int) error {
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()
	return nil
}

func (c *captureOutput) Write(samples []int32) error {
	c.mu.Lock()
	c.samples = append(c.samples, samples...)
	c.mu.Unlock()
	return nil
}

func (c *captureOutput) Latency() time.Duration { return 20 * time.Millisecond }

func (c *captureOutput) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func playable(t *testing.T, f *msg.Factory, frames int, value int32) *msg.Playable {
	t.Helper()
	samples := make([]int32, frames*2)
	for i := range samples {
		samples[i] = value
	}
	pcm, err := f.CreateAudioPcm(samples, 2, 44100, 16, 0)
	require.NoError(t, err)
	return pcm.CreatePlayable()
}

func TestAnimatorWritesAudioAndReportsDrain(t *testing.T) {
	f := msg.NewFactory(msg.DefaultFactoryConfig())
	ds, err := f.CreateDecodedStream(msg.DecodedStreamInfo{StreamID: 1, SampleRate: 44100, NumChannels: 2, BitDepth: 16}, nil)
	require.NoError(t, err)

	drained := make(chan struct{})
	drain, err := f.CreateDrain(1, func() { close(drained) })
	require.NoError(t, err)

	src := &scriptSource{msgs: []msg.Msg{
		ds,
		playable(t, f, 441, 1000),
		playable(t, f, 441, 2000),
		drain,
		msg.Must(f.CreateHalt(msg.HaltIDNone)),
		msg.Must(f.CreateQuit()),
	}}
	out := &captureOutput{}
	a := NewAnimator(src, out, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	select {
	case <-drained:
	default:
		t.Fatal("drain was not reported")
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	require.Len(t, out.samples, 882*2)
	assert.Equal(t, int32(1000), out.samples[0])
	assert.Equal(t, int32(2000), out.samples[len(out.samples)-1])
	assert.Equal(t, 1, out.opens)
	assert.True(t, out.closed)
	assert.Equal(t, uint64(882), a.FramesWritten())
	assert.Equal(t, 20*msg.JiffiesPerMs, int(src.latency))

	for _, s := range f.Stats() {
		assert.Zero(t, s.InUse, s.Name)
	}
}

func TestAnimatorStopsOnCancel(t *testing.T) {
	src := &scriptSource{}
	out := &captureOutput{}
	a := NewAnimator(src, out, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Run(ctx), context.Canceled)
	assert.True(t, out.closed)
}

func TestDurationToJiffies(t *testing.T) {
	assert.Equal(t, uint64(5*msg.JiffiesPerMs), durationToJiffies(5*time.Millisecond))
	assert.Zero(t, durationToJiffies(-time.Second))
}
