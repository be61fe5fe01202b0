// ABOUTME: Tests for the waiter
// ABOUTME: Covers ramped waits, quick flushes and the waiting notifications
package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

func TestWaiter(t *testing.T) {
	const flushID = 5

	tests := []struct {
		name     string
		flushID  uint32
		rampDown bool
		// input after the stream header; false entries become the flush
		audio    []bool
		want     []msg.Kind
		firstDir msg.RampDirection
	}{
		{
			name:     "ramped wait discards until flush",
			flushID:  flushID,
			rampDown: true,
			audio:    []bool{true, true, false, true},
			want:     []msg.Kind{msg.KindAudioPcm, msg.KindWait, msg.KindAudioPcm},
			firstDir: msg.RampDown,
		},
		{
			name:     "quick flush discards until flush",
			flushID:  flushID,
			rampDown: false,
			audio:    []bool{true, false, true},
			want:     []msg.Kind{msg.KindWait, msg.KindAudioPcm},
		},
		{
			name:     "quick wait without flush keeps audio",
			flushID:  msg.FlushIDInvalid,
			rampDown: false,
			audio:    []bool{true},
			want:     []msg.Kind{msg.KindWait, msg.KindAudioPcm},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFactory()
			src := newScriptSource(decodedStream(t, f, 1, nil))
			for i, isAudio := range tt.audio {
				if isAudio {
					src.Push(audio10ms(t, f, uint64(i)*tenMs))
					continue
				}
				flush, err := f.CreateFlush(tt.flushID)
				require.NoError(t, err)
				src.Push(flush)
			}

			var waiting []bool
			w := NewWaiter(f, src, tenMs, func(b bool) { waiting = append(waiting, b) })
			ds := w.Pull()
			require.Equal(t, msg.KindDecodedStream, ds.Kind())
			ds.RemoveRef()

			w.Wait(tt.flushID, tt.rampDown)

			var kinds []msg.Kind
			var dirs []msg.RampDirection
			for range tt.want {
				m := w.Pull()
				kinds = append(kinds, m.Kind())
				if a, ok := m.(*msg.AudioPcm); ok {
					dirs = append(dirs, a.Ramp().Direction())
				}
				m.RemoveRef()
			}

			assert.Equal(t, tt.want, kinds)
			assert.Equal(t, []bool{true, false}, waiting)
			require.NotEmpty(t, dirs)
			if tt.rampDown {
				assert.Equal(t, tt.firstDir, dirs[0])
			}
			assert.Equal(t, msg.RampUp, dirs[len(dirs)-1], "audio after the wait ramps up")
			assert.Equal(t, 0, inUse(f, "audio-pcm"))
		})
	}
}

func TestWaiterPassesThroughWhenRunning(t *testing.T) {
	f := newFactory()
	w := NewWaiter(f, newScriptSource(audio10ms(t, f, 0)), tenMs, nil)
	a, ok := w.Pull().(*msg.AudioPcm)
	require.True(t, ok)
	assert.False(t, a.Ramp().IsEnabled())
	a.RemoveRef()
}
