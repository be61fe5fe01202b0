// ABOUTME: Tests for the smaller pipeline elements
// ABOUTME: Muter, drainer, track inspector, variable delay, pre-driver and splitter
package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

func TestMuterRampsThenSilences(t *testing.T) {
	f := newFactory()
	src := newScriptSource()
	for i := 0; i < 5; i++ {
		src.Push(audio10ms(t, f, uint64(i)*tenMs))
	}
	m := NewMuter(f, src, 20*msg.JiffiesPerMs)
	m.Pull().RemoveRef()

	m.Mute()
	assert.True(t, m.Muted())
	a := m.Pull().(*msg.AudioPcm)
	assert.Equal(t, msg.RampDown, a.Ramp().Direction())
	a.RemoveRef()
	a = m.Pull().(*msg.AudioPcm)
	assert.Equal(t, msg.RampMin, a.Ramp().End())
	a.RemoveRef()

	s, ok := m.Pull().(*msg.Silence)
	require.True(t, ok)
	assert.Equal(t, tenMs, s.Jiffies())
	s.RemoveRef()

	m.Unmute()
	a = m.Pull().(*msg.AudioPcm)
	assert.Equal(t, msg.RampUp, a.Ramp().Direction())
	a.RemoveRef()
	assert.Equal(t, 0, inUse(f, "audio-pcm"))
}

func TestMuterMutesImmediatelyWhenHalted(t *testing.T) {
	f := newFactory()
	m := NewMuter(f, newScriptSource(audio10ms(t, f, 0)), tenMs)
	m.Mute()
	out := m.Pull()
	assert.Equal(t, msg.KindSilence, out.Kind())
	out.RemoveRef()
}

func TestDrainerBlocksUntilDrained(t *testing.T) {
	f := newFactory()
	interrupted, err := f.CreateStreamInterrupted()
	require.NoError(t, err)
	d := NewDrainer(f, newScriptSource(interrupted, audio10ms(t, f, 0)))

	first := d.Pull()
	assert.Equal(t, msg.KindStreamInterrupted, first.Kind())
	first.RemoveRef()
	drain, ok := d.Pull().(*msg.Drain)
	require.True(t, ok)

	next := pullAsync(d)
	select {
	case m := <-next:
		t.Fatalf("pull returned %s before drain reported", m.Kind())
	case <-time.After(50 * time.Millisecond):
	}
	drain.ReportDrained()
	drain.RemoveRef()
	select {
	case m := <-next:
		assert.Equal(t, msg.KindAudioPcm, m.Kind())
		m.RemoveRef()
	case <-time.After(time.Second):
		t.Fatal("pull still blocked after drain")
	}
}

type trackRecorder struct {
	mu     sync.Mutex
	played []uint32
	failed []uint32
}

func (r *trackRecorder) NotifyTrackPlay(t msg.Track) {
	r.mu.Lock()
	r.played = append(r.played, t.ID)
	r.mu.Unlock()
}

func (r *trackRecorder) NotifyTrackFail(t msg.Track) {
	r.mu.Lock()
	r.failed = append(r.failed, t.ID)
	r.mu.Unlock()
}

func TestTrackInspectorReportsPlayAndFail(t *testing.T) {
	f := newFactory()
	t1, err := f.CreateTrack(msg.Track{ID: 1}, true)
	require.NoError(t, err)
	t2, err := f.CreateTrack(msg.Track{ID: 2}, true)
	require.NoError(t, err)
	src := newScriptSource(t1, t2, encodedStream(t, f, 1, nil), decodedStream(t, f, 1, nil))

	ti := NewTrackInspector(src)
	rec := &trackRecorder{}
	ti.AddObserver(rec)
	for i := 0; i < 4; i++ {
		ti.Pull().RemoveRef()
	}
	assert.Equal(t, []uint32{1}, rec.failed)
	assert.Equal(t, []uint32{2}, rec.played)
}

func TestVariableDelayInsertsSilence(t *testing.T) {
	f := newFactory()
	delay, err := f.CreateDelay(200 * msg.JiffiesPerMs)
	require.NoError(t, err)
	src := newScriptSource(decodedStream(t, f, 1, nil), delay, audio10ms(t, f, 0))
	vd := NewVariableDelayLeft(f, src, tenMs, 150*msg.JiffiesPerMs)

	vd.Pull().RemoveRef()
	fwd, ok := vd.Pull().(*msg.Delay)
	require.True(t, ok)
	assert.Equal(t, uint64(150*msg.JiffiesPerMs), fwd.Jiffies)
	fwd.RemoveRef()

	var silence uint64
	for {
		m := vd.Pull()
		if s, ok := m.(*msg.Silence); ok {
			silence += s.Jiffies()
			s.RemoveRef()
			continue
		}
		assert.Equal(t, msg.KindAudioPcm, m.Kind())
		m.RemoveRef()
		break
	}
	assert.Equal(t, uint64(50*msg.JiffiesPerMs), silence)
	assert.Equal(t, uint64(50*msg.JiffiesPerMs), vd.DelayJiffies())
}

func TestVariableDelayDropsAudioWhenReduced(t *testing.T) {
	f := newFactory()
	up, err := f.CreateDelay(20 * msg.JiffiesPerMs)
	require.NoError(t, err)
	down, err := f.CreateDelay(0)
	require.NoError(t, err)
	src := newScriptSource(decodedStream(t, f, 1, nil), up, down)
	for i := 0; i < 4; i++ {
		src.Push(audio10ms(t, f, uint64(i)*tenMs))
	}
	vd := NewVariableDelayRight(f, src, tenMs, func() uint64 { return 0 })

	expectKind := func(k msg.Kind) {
		m := vd.Pull()
		require.Equal(t, k, m.Kind())
		m.RemoveRef()
	}
	expectKind(msg.KindDecodedStream)
	expectKind(msg.KindDelay)

	var silence uint64
	var next msg.Msg
	for {
		next = vd.Pull()
		s, ok := next.(*msg.Silence)
		if !ok {
			break
		}
		silence += s.Jiffies()
		s.RemoveRef()
	}
	assert.Equal(t, uint64(20*msg.JiffiesPerMs), silence)
	assert.Equal(t, msg.KindDelay, next.Kind())
	next.RemoveRef()

	// the inserted silence is taken back out of the following audio
	a, ok := vd.Pull().(*msg.AudioPcm)
	require.True(t, ok)
	assert.Equal(t, 2*tenMs, a.TrackOffset())
	a.RemoveRef()
	assert.Equal(t, 1, inUse(f, "audio-pcm"))
}

func TestPreDriverConvertsAndFilters(t *testing.T) {
	f := newFactory()
	meta, err := f.CreateMetaText("title")
	require.NoError(t, err)
	src := newScriptSource(decodedStream(t, f, 1, nil), meta, decodedStream(t, f, 2, nil), audio10ms(t, f, 0))
	p := NewPreDriver(src)

	first := p.Pull()
	assert.Equal(t, msg.KindDecodedStream, first.Kind())
	first.RemoveRef()
	play, ok := p.Pull().(*msg.Playable)
	require.True(t, ok)
	assert.Equal(t, tenMs, play.Jiffies())
	play.RemoveRef()
	assert.Equal(t, 0, inUse(f, "decoded-stream"))
	assert.Equal(t, 0, inUse(f, "metatext"))
	assert.Equal(t, 0, inUse(f, "audio-pcm"))
}

func TestSplitterClonesAudioForBranch(t *testing.T) {
	f := newFactory()
	branch := newScriptSource()
	s := NewSplitter(newScriptSource(decodedStream(t, f, 1, nil), audio10ms(t, f, 0)))
	assert.Nil(t, s.SetBranch(branch))

	ds := s.Pull()
	assert.Equal(t, int32(2), msg.RefCount(ds))
	a := s.Pull()
	branch.Pull().RemoveRef()
	copied := branch.Pull()
	assert.NotSame(t, copied, a)
	assert.Equal(t, msg.KindAudioPcm, copied.Kind())
	ds.RemoveRef()
	a.RemoveRef()
	assert.Equal(t, 1, inUse(f, "audio-pcm"))
	copied.RemoveRef()
	assert.Equal(t, 0, inUse(f, "audio-pcm"))
	assert.Equal(t, 0, inUse(f, "decoded-stream"))
}

func TestRouterReplacesAudioWithSilence(t *testing.T) {
	f := newFactory()
	branch := newScriptSource()
	r := NewRouter(f, newScriptSource(audio10ms(t, f, 0)))
	r.SetBranch(branch)

	local, ok := r.Pull().(*msg.Silence)
	require.True(t, ok)
	assert.Equal(t, tenMs, local.Jiffies())
	local.RemoveRef()
	diverted := branch.Pull()
	assert.Equal(t, msg.KindAudioPcm, diverted.Kind())
	diverted.RemoveRef()
}

func TestAttenuatorSetsLevel(t *testing.T) {
	f := newFactory()
	a := NewAttenuator(newScriptSource(audio10ms(t, f, 0)), msg.AttenuationUnity)
	a.SetAttenuation(128)
	pcm := a.Pull().(*msg.AudioPcm)
	play := pcm.CreatePlayable()
	assert.Equal(t, int32(1<<19), play.Samples()[0])
	play.RemoveRef()
}
