// ABOUTME: Tests for the rewinder
// ABOUTME: Replay after rewind, overflow, and reference handling on stop
package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

type sliceUpstream struct {
	items []msg.Msg
}

func (s *sliceUpstream) Pull() msg.Msg {
	m := s.items[0]
	s.items = s.items[1:]
	return m
}

func encodedInUse(f *msg.Factory) int {
	for _, s := range f.Stats() {
		if s.Name == "audio-encoded" {
			return s.InUse
		}
	}
	return -1
}

func newStreamWithData(t *testing.T, f *msg.Factory, chunks ...string) *sliceUpstream {
	t.Helper()
	es, err := f.CreateEncodedStream(msg.EncodedStreamParams{StreamID: 1})
	require.NoError(t, err)
	up := &sliceUpstream{items: []msg.Msg{es}}
	for _, c := range chunks {
		m, err := f.CreateAudioEncoded([]byte(c))
		require.NoError(t, err)
		up.items = append(up.items, m)
	}
	return up
}

func pullData(t *testing.T, r *Rewinder) string {
	t.Helper()
	m, ok := r.Pull().(*msg.AudioEncoded)
	require.True(t, ok)
	s := string(m.Data())
	m.RemoveRef()
	return s
}

func TestRewinderReplaysStreamStart(t *testing.T) {
	f := msg.NewFactory(msg.DefaultFactoryConfig())
	r := NewRewinder(newStreamWithData(t, f, "abc", "def", "ghi"), 10)

	r.Pull().RemoveRef()
	assert.Equal(t, "abc", pullData(t, r))
	assert.Equal(t, "def", pullData(t, r))

	require.NoError(t, r.Rewind())
	assert.Equal(t, "abc", pullData(t, r))
	assert.Equal(t, "def", pullData(t, r))
	r.Stop()

	assert.Equal(t, "ghi", pullData(t, r))
	assert.Equal(t, 0, encodedInUse(f))
}

func TestRewinderStopKeepsUnreplayed(t *testing.T) {
	f := msg.NewFactory(msg.DefaultFactoryConfig())
	r := NewRewinder(newStreamWithData(t, f, "abc", "def", "ghi"), 10)

	r.Pull().RemoveRef()
	pullData(t, r)
	pullData(t, r)
	require.NoError(t, r.Rewind())
	assert.Equal(t, "abc", pullData(t, r))
	r.Stop()

	assert.Equal(t, "def", pullData(t, r))
	assert.Equal(t, "ghi", pullData(t, r))
	assert.Equal(t, 0, encodedInUse(f))
}

func TestRewinderOverflow(t *testing.T) {
	f := msg.NewFactory(msg.DefaultFactoryConfig())
	r := NewRewinder(newStreamWithData(t, f, "a", "b", "c"), 2)

	r.Pull().RemoveRef()
	for i := 0; i < 3; i++ {
		pullData(t, r)
	}
	assert.ErrorIs(t, r.Rewind(), ErrRewindOverflow)
	r.Stop()
	assert.Equal(t, 0, encodedInUse(f))
}
