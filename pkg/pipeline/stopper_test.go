// ABOUTME: Tests for the stopper
// ABOUTME: Covers pause and resume ramps, held streams and OkToPlay answers
package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

type fakeRemover struct {
	removed []uint32
}

func (f *fakeRemover) TryRemoveStream(streamID uint32, _ bool) bool {
	f.removed = append(f.removed, streamID)
	return true
}

func newStopperSource(t *testing.T, f *msg.Factory, h msg.StreamHandler, blocks int) *scriptSource {
	src := newScriptSource(encodedStream(t, f, 1, h), decodedStream(t, f, 1, h))
	for i := 0; i < blocks; i++ {
		src.Push(audio10ms(t, f, uint64(i)*tenMs))
	}
	return src
}

func TestStopperPauseAndPlay(t *testing.T) {
	f := newFactory()
	h := &fakeHandler{decision: msg.PlayYes}
	rec := &stateRecorder{}
	s := NewStopper(f, newStopperSource(t, f, h, 6), &fakeRemover{}, 20*msg.JiffiesPerMs, 20*msg.JiffiesPerMs, rec.record)

	s.Play()
	for i := 0; i < 3; i++ {
		s.Pull().RemoveRef()
	}
	s.BeginPause()

	a := s.Pull().(*msg.AudioPcm)
	assert.Equal(t, msg.RampDown, a.Ramp().Direction())
	a.RemoveRef()
	a = s.Pull().(*msg.AudioPcm)
	assert.Equal(t, msg.RampMin, a.Ramp().End())
	a.RemoveRef()
	halt, ok := s.Pull().(*msg.Halt)
	require.True(t, ok)
	halt.RemoveRef()

	next := pullAsync(s)
	select {
	case m := <-next:
		t.Fatalf("pull returned %s while paused", m.Kind())
	case <-time.After(50 * time.Millisecond):
	}

	s.Play()
	select {
	case m := <-next:
		resumed, ok := m.(*msg.AudioPcm)
		require.True(t, ok)
		assert.Equal(t, msg.RampUp, resumed.Ramp().Direction())
		assert.Equal(t, msg.RampMin, resumed.Ramp().Start())
		resumed.RemoveRef()
	case <-time.After(time.Second):
		t.Fatal("pull still blocked after Play")
	}
	assert.Equal(t, []State{StatePlaying, StatePaused, StatePlaying}, rec.get())
	assert.Equal(t, []uint32{1}, h.okToPlay)
}

func TestStopperHoldsFirstStreamUntilPlay(t *testing.T) {
	f := newFactory()
	h := &fakeHandler{decision: msg.PlayYes}
	s := NewStopper(f, newStopperSource(t, f, h, 1), nil, tenMs, tenMs, nil)

	s.Pull().RemoveRef() // encoded stream passes
	next := pullAsync(s)
	select {
	case m := <-next:
		t.Fatalf("pull returned %s before Play", m.Kind())
	case <-time.After(50 * time.Millisecond):
	}
	s.Play()
	m := <-next
	assert.Equal(t, msg.KindDecodedStream, m.Kind())
	m.RemoveRef()
}

func TestStopperRejectedStreamIsRemoved(t *testing.T) {
	f := newFactory()
	h := &fakeHandler{decision: msg.PlayNo}
	remover := &fakeRemover{}
	track, err := f.CreateTrack(msg.Track{ID: 5}, true)
	require.NoError(t, err)
	src := newStopperSource(t, f, h, 2)
	src.Push(track)

	s := NewStopper(f, src, remover, tenMs, tenMs, nil)
	s.Play()
	s.Pull().RemoveRef() // encoded stream

	next := s.Pull()
	assert.Equal(t, msg.KindTrack, next.Kind())
	next.RemoveRef()
	assert.Equal(t, []uint32{1}, remover.removed)
	assert.Equal(t, 0, inUse(f, "audio-pcm"))
}

func TestStopperStopEmitsHalt(t *testing.T) {
	f := newFactory()
	h := &fakeHandler{decision: msg.PlayYes}
	remover := &fakeRemover{}
	rec := &stateRecorder{}
	s := NewStopper(f, newStopperSource(t, f, h, 4), remover, tenMs, tenMs, rec.record)
	s.Play()
	for i := 0; i < 3; i++ {
		s.Pull().RemoveRef()
	}

	s.BeginStop(12)
	a := s.Pull().(*msg.AudioPcm)
	assert.Equal(t, msg.RampMin, a.Ramp().End())
	a.RemoveRef()

	halt, ok := s.Pull().(*msg.Halt)
	require.True(t, ok)
	assert.Equal(t, uint32(12), halt.ID)
	halt.RemoveRef()
	assert.Equal(t, []uint32{1}, remover.removed)
	assert.Equal(t, []State{StatePlaying, StateStopped}, rec.get())
}
