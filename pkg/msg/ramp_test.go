// ABOUTME: Tests for ramp calculation, composition and application
// ABOUTME: Covers overlap rules and sample monotonicity
package msg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const half = RampMax / 2

func TestRampSetEndpoints(t *testing.T) {
	j := uint64(JiffiesPerMs)
	tests := []struct {
		name      string
		start     uint32
		fragment  uint64
		remaining uint64
		direction RampDirection
		wantEnd   uint32
	}{
		{"max down full", RampMax, j, j, RampDown, RampMin},
		{"min up full", RampMin, j, j, RampUp, RampMax},
		{"max down half", RampMax, j, 2 * j, RampDown, half},
		{"min up half", RampMin, j, 2 * j, RampUp, half},
		{"half down quarter", half, j, 4 * j, RampDown, RampMax / 4},
		{"half up quarter", half, j, 4 * j, RampUp, RampMax - RampMax/4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Ramp
			_, _, split := r.Set(tt.start, tt.fragment, tt.remaining, tt.direction)
			assert.False(t, split)
			assert.Equal(t, tt.start, r.Start())
			assert.Equal(t, tt.wantEnd, r.End())
			assert.Equal(t, tt.direction, r.Direction())
		})
	}
}

func TestRampInvalidDirectionPanics(t *testing.T) {
	var r Ramp
	assert.Panics(t, func() { r.Set(RampMax, 10, 10, RampUp) })
	r.Reset()
	assert.Panics(t, func() { r.Set(RampMin, 10, 10, RampDown) })
	r.Reset()
	assert.Panics(t, func() { r.Set(half, 10, 5, RampDown) })
}

func TestRampCrossingSplits(t *testing.T) {
	j := uint64(JiffiesPerMs)
	var r Ramp
	_, _, split := r.Set(half, j, 2*j, RampDown)
	require.False(t, split)

	tail, pos, split := r.Set(RampMin, j, 2*j, RampUp)
	require.True(t, split)
	assert.Equal(t, j/2, pos)
	assert.Equal(t, RampMin, r.Start())
	assert.Equal(t, RampMax/4, r.End())
	assert.Equal(t, RampUp, r.Direction())
	assert.Equal(t, r.End(), tail.Start())
	assert.Equal(t, RampMin, tail.End())
	assert.Equal(t, RampDown, tail.Direction())
	assert.True(t, tail.IsEnabled())
}

func TestRampKeepsQuieterTrajectory(t *testing.T) {
	j := uint64(JiffiesPerMs)

	var r Ramp
	r.Set(half, j, 4*j, RampDown)
	before := r
	// [70%..30%] is louder throughout
	_, _, split := r.Set(uint32(uint64(RampMax)*7/10), j, 5*j/2, RampDown)
	assert.False(t, split)
	assert.Equal(t, before, r)

	r.Reset()
	r.Set(half, j, 4*j, RampDown)
	// [40%..Min] is quieter throughout
	start := uint32(uint64(RampMax) * 2 / 5)
	_, _, split = r.Set(start, j, 5*j/2, RampDown)
	assert.False(t, split)
	assert.Equal(t, start, r.Start())
	assert.Equal(t, RampMin, r.End())
	assert.Equal(t, RampDown, r.Direction())
}

func TestRampApplyDownIsMonotonic(t *testing.T) {
	const channels = 2
	samples := make([]int32, 800)
	for i := range samples {
		samples[i] = max24
	}
	var r Ramp
	r.Set(RampMax, 400, 400, RampDown)
	r.Apply(samples, channels)

	assert.Equal(t, int32(max24), samples[0])
	assert.Zero(t, samples[len(samples)-1])
	prev := samples[0]
	for i := 0; i < len(samples); i += channels {
		assert.Equal(t, samples[i], samples[i+1])
		assert.LessOrEqual(t, samples[i], prev)
		prev = samples[i]
	}
}

func TestRampApplyUpIsMonotonic(t *testing.T) {
	const channels = 2
	samples := make([]int32, 800)
	for i := range samples {
		samples[i] = max24
	}
	var r Ramp
	r.Set(RampMin, 400, 400, RampUp)
	r.Apply(samples, channels)

	assert.Zero(t, samples[0])
	assert.Equal(t, int32(max24), samples[len(samples)-1])
	prev := samples[0]
	for i := 0; i < len(samples); i += channels {
		assert.GreaterOrEqual(t, samples[i], prev)
		prev = samples[i]
	}
}

func TestRampSplit(t *testing.T) {
	var r Ramp
	r.Set(RampMax, 100, 100, RampDown)
	tail := r.Split(50, 100)
	assert.Equal(t, RampMax, r.Start())
	assert.Equal(t, half, r.End())
	assert.Equal(t, half, tail.Start())
	assert.Equal(t, RampMin, tail.End())
	assert.Equal(t, RampDown, tail.Direction())
}
