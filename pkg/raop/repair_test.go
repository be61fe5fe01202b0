// ABOUTME: Tests for the RAOP reorder buffer
// ABOUTME: Covers gap requests, in-order release, wraparound and give-up
package raop

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRequester struct {
	mu       sync.Mutex
	requests [][]Range
}

func (r *recordingRequester) RequestResend(ranges []Range) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, append([]Range(nil), ranges...))
}

func (r *recordingRequester) all() [][]Range {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Range(nil), r.requests...)
}

type repairFixture struct {
	repairer  *Repairer
	requester *recordingRequester
	mu        sync.Mutex
	out       []uint16
	gaveUp    chan struct{}
}

func newRepairFixture(cfg RepairerConfig) *repairFixture {
	f := &repairFixture{requester: &recordingRequester{}, gaveUp: make(chan struct{}, 1)}
	f.repairer = NewRepairer(cfg, f.requester, func(p AudioPacket) error {
		f.mu.Lock()
		f.out = append(f.out, p.Seq)
		f.mu.Unlock()
		return nil
	}, func() { f.gaveUp <- struct{}{} }, zerolog.Nop())
	return f
}

func (f *repairFixture) output() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint16(nil), f.out...)
}

func slowRetries() RepairerConfig {
	cfg := DefaultRepairerConfig()
	cfg.RetryInterval = time.Hour
	return cfg
}

func TestRepairerSingleGap(t *testing.T) {
	f := newRepairFixture(slowRetries())

	for _, seq := range []uint16{1, 2, 4, 5} {
		require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: seq}))
	}
	assert.Equal(t, [][]Range{{{Start: 3, End: 3}}}, f.requester.all())
	assert.Equal(t, []uint16{1, 2}, f.output())

	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 3, Resent: true}))
	assert.Equal(t, []uint16{1, 2, 3, 4, 5}, f.output())

	resends, discards := f.repairer.Stats()
	assert.Equal(t, 1, resends)
	assert.Zero(t, discards)
}

func TestRepairerWraparound(t *testing.T) {
	f := newRepairFixture(slowRetries())

	for _, seq := range []uint16{65534, 65535, 0, 1} {
		require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: seq}))
	}
	assert.Empty(t, f.requester.all())
	assert.Equal(t, []uint16{65534, 65535, 0, 1}, f.output())
}

func TestRepairerGapAcrossWraparound(t *testing.T) {
	f := newRepairFixture(slowRetries())

	for _, seq := range []uint16{65534, 1} {
		require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: seq}))
	}
	assert.Equal(t, [][]Range{{{Start: 65535, End: 0}}}, f.requester.all())
	assert.Equal(t, uint16(2), Range{Start: 65535, End: 0}.Count())

	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 0}))
	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 65535}))
	assert.Equal(t, []uint16{65534, 65535, 0, 1}, f.output())
}

func TestRepairerDuplicatesAreDiscarded(t *testing.T) {
	f := newRepairFixture(slowRetries())

	for _, seq := range []uint16{10, 11, 13, 13, 11} {
		require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: seq}))
	}
	assert.Equal(t, []uint16{10, 11}, f.output())

	_, discards := f.repairer.Stats()
	assert.Equal(t, 2, discards)
}

func TestRepairerBufferFull(t *testing.T) {
	cfg := slowRetries()
	cfg.Capacity = 4
	f := newRepairFixture(cfg)

	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 1}))
	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 3}))
	assert.ErrorIs(t, f.repairer.OutputAudio(AudioPacket{Seq: 20}), ErrRepairBufferFull)

	// the buffered packet was dropped with the gap
	_, discards := f.repairer.Stats()
	assert.Equal(t, 1, discards)
}

func TestRepairerStreamRestart(t *testing.T) {
	cfg := slowRetries()
	cfg.Capacity = 4
	f := newRepairFixture(cfg)

	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 100}))
	assert.ErrorIs(t, f.repairer.OutputAudio(AudioPacket{Seq: 50}), ErrStreamRestarted)

	f.repairer.DropAudio()
	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 50}))
	assert.Equal(t, []uint16{100, 50}, f.output())
}

func TestRepairerGivesUp(t *testing.T) {
	cfg := DefaultRepairerConfig()
	cfg.RetryInterval = 5 * time.Millisecond
	cfg.MaxRetries = 2
	f := newRepairFixture(cfg)

	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 1}))
	require.NoError(t, f.repairer.OutputAudio(AudioPacket{Seq: 3}))

	select {
	case <-f.gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatal("repairer never gave up")
	}

	// the first request plus one per retry
	assert.Len(t, f.requester.all(), 3)
	for _, req := range f.requester.all() {
		assert.Equal(t, []Range{{Start: 2, End: 2}}, req)
	}
	assert.Equal(t, []uint16{1}, f.output())
}
