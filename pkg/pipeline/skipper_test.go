// ABOUTME: Tests for the skipper
// ABOUTME: Covers remove-all up to a halt and ramped removal of the current stream
package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

func TestSkipperRemoveAllDropsUntilHalt(t *testing.T) {
	f := newFactory()
	h := &fakeHandler{}
	const haltID = 9

	track, err := f.CreateTrack(msg.Track{ID: 1, URI: "http://test/1"}, true)
	require.NoError(t, err)
	halt, err := f.CreateHalt(haltID)
	require.NoError(t, err)

	src := newScriptSource(track, encodedStream(t, f, 3, h))
	for i := 0; i < 5; i++ {
		src.Push(audio10ms(t, f, uint64(i)*tenMs))
	}
	src.Push(halt)

	s := NewSkipper(f, src, 20*msg.JiffiesPerMs)
	s.RemoveAll(haltID, true)

	out := s.Pull()
	got, ok := out.(*msg.Halt)
	require.True(t, ok, "expected Halt, got %s", out.Kind())
	assert.Equal(t, uint32(haltID), got.ID)
	assert.Equal(t, 1, h.stopCount())
	assert.Equal(t, []uint32{3}, h.okToPlay)

	got.RemoveRef()
	assert.Equal(t, 0, inUse(f, "audio-pcm"))
	assert.Equal(t, 0, inUse(f, "track"))
	assert.Equal(t, 0, inUse(f, "encoded-stream"))
	assert.Equal(t, 0, inUse(f, "halt"))
}

func TestSkipperRampsDownCurrentStream(t *testing.T) {
	f := newFactory()
	h := &fakeHandler{flushID: 7}

	flush, err := f.CreateFlush(7)
	require.NoError(t, err)
	track, err := f.CreateTrack(msg.Track{ID: 2}, true)
	require.NoError(t, err)

	src := newScriptSource(encodedStream(t, f, 1, h), decodedStream(t, f, 1, h))
	for i := 0; i < 5; i++ {
		src.Push(audio10ms(t, f, uint64(i)*tenMs))
	}
	src.Push(flush)
	src.Push(track)

	s := NewSkipper(f, src, 20*msg.JiffiesPerMs)
	for i := 0; i < 3; i++ {
		s.Pull().RemoveRef()
	}
	require.True(t, s.TryRemoveCurrentStream(true))

	first := s.Pull().(*msg.AudioPcm)
	assert.Equal(t, msg.RampDown, first.Ramp().Direction())
	assert.Equal(t, msg.RampMax, first.Ramp().Start())
	second := s.Pull().(*msg.AudioPcm)
	assert.Equal(t, msg.RampMin, second.Ramp().End())
	first.RemoveRef()
	second.RemoveRef()

	halt, ok := s.Pull().(*msg.Halt)
	require.True(t, ok)
	assert.Equal(t, msg.HaltIDNone, halt.ID)
	halt.RemoveRef()
	assert.Equal(t, 1, h.stopCount())

	next := s.Pull()
	assert.Equal(t, msg.KindTrack, next.Kind())
	next.RemoveRef()
	assert.Equal(t, 0, inUse(f, "audio-pcm"))
	assert.Equal(t, 0, inUse(f, "flush"))
}

func TestSkipperIgnoresStaleStream(t *testing.T) {
	f := newFactory()
	h := &fakeHandler{}
	src := newScriptSource(encodedStream(t, f, 4, h))
	s := NewSkipper(f, src, tenMs)
	s.Pull().RemoveRef()

	assert.False(t, s.TryRemoveStream(3, false))
	assert.True(t, s.TryRemoveStream(4, false))
	assert.Equal(t, 1, h.stopCount())
}

func TestSkipperUnblockWithoutBlockPanics(t *testing.T) {
	s := NewSkipper(newFactory(), newScriptSource(), tenMs)
	s.Block()
	s.Block()
	s.Unblock()
	s.Unblock()
	assert.Panics(t, func() { s.Unblock() })
}
