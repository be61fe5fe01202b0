// ABOUTME: Animator pacing pipeline audio into an Output
// ABOUTME: Timer driven; detects dropouts and reports drains once audio is written
package output

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

const (
	// AnimatorPeriod is how often the animator tops up the output
	AnimatorPeriod = 5 * time.Millisecond
	// DropoutThreshold is the longest gap between top-ups that is not a dropout
	DropoutThreshold = 100 * time.Millisecond
	// maxBudget bounds how far the animator catches up after a late tick
	maxBudget = 4 * AnimatorPeriod
)

// Source is the end of the pipeline the animator pulls from
type Source interface {
	Pull() msg.Msg
	SetOutputLatency(jiffies uint64)
}

// Animator pulls Playable audio at the rate the device consumes it
type Animator struct {
	source Source
	out    Output
	logger zerolog.Logger
	period time.Duration

	sampleRate int
	channels   int
	bitDepth   int
	opened     bool

	pending  []int32
	halted   bool
	resumed  bool
	dropouts atomic.Uint64
	written  atomic.Uint64
}

func NewAnimator(source Source, out Output, logger zerolog.Logger) *Animator {
	return &Animator{
		source: source,
		out:    out,
		logger: logger.With().Str("component", "animator").Logger(),
		period: AnimatorPeriod,
		halted: true,
	}
}

// Dropouts counts gaps longer than DropoutThreshold while audio was flowing
func (a *Animator) Dropouts() uint64 { return a.dropouts.Load() }

// FramesWritten counts frames handed to the output
func (a *Animator) FramesWritten() uint64 { return a.written.Load() }

// Run animates until the pipeline emits Quit or ctx is cancelled. The output
// is closed on return.
func (a *Animator) Run(ctx context.Context) error {
	defer a.out.Close()

	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	var budget uint64
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			gap := now.Sub(last)
			last = now
			if gap > DropoutThreshold && !a.halted {
				a.dropouts.Inc()
				a.logger.Warn().Dur("gap", gap).Msg("output dropout")
				budget = 0
			}
			if gap > maxBudget {
				gap = maxBudget
			}
			budget += durationToJiffies(gap)

			quit, err := a.fill(&budget)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
			if a.resumed {
				// time spent blocked in Pull while halted is not a dropout
				a.resumed = false
				last = time.Now()
			}
		}
	}
}

// fill writes up to budget jiffies of audio, pulling as needed
func (a *Animator) fill(budget *uint64) (bool, error) {
	for *budget > 0 {
		if len(a.pending) == 0 {
			m := a.source.Pull()
			halt := m.Kind() == msg.KindHalt
			quit, err := a.process(m)
			if err != nil || quit {
				return quit, err
			}
			if halt {
				*budget = 0
			}
			continue
		}

		frames := int(msg.JiffiesToSamples(*budget, a.sampleRate))
		if frames == 0 {
			return false, nil
		}
		n := frames * a.channels
		if n >= len(a.pending) {
			n = len(a.pending)
			frames = n / a.channels
		}
		if err := a.out.Write(a.pending[:n]); err != nil {
			return false, fmt.Errorf("output write: %w", err)
		}
		a.written.Add(uint64(frames))
		a.pending = a.pending[n:]

		used := msg.SamplesToJiffies(uint64(frames), a.sampleRate)
		if used >= *budget {
			*budget = 0
		} else {
			*budget -= used
		}
	}
	return false, nil
}

func (a *Animator) process(m msg.Msg) (bool, error) {
	defer m.RemoveRef()

	switch v := m.(type) {
	case *msg.Mode:
		a.logger.Debug().Str("mode", v.Mode).Msg("mode")
	case *msg.DecodedStream:
		info := v.Info
		if err := a.open(info.SampleRate, info.NumChannels, info.BitDepth); err != nil {
			return false, err
		}
	case *msg.Playable:
		if err := a.open(v.SampleRate(), v.Channels(), v.BitDepth()); err != nil {
			return false, err
		}
		if a.halted {
			a.halted = false
			a.resumed = true
		}
		a.pending = v.Samples()
	case *msg.Halt:
		a.halted = true
		a.pending = nil
	case *msg.Drain:
		v.ReportDrained()
	case *msg.ChangeInput:
		v.ReadyToChange()
	case *msg.StreamInterrupted:
	case *msg.Quit:
		a.logger.Debug().Msg("quit")
		return true, nil
	default:
		panic(fmt.Sprintf("animator: unexpected %s", m.Kind()))
	}
	return false, nil
}

func (a *Animator) open(sampleRate, channels, bitDepth int) error {
	if a.opened && sampleRate == a.sampleRate && channels == a.channels && bitDepth == a.bitDepth {
		return nil
	}
	if err := a.out.Open(sampleRate, channels, bitDepth); err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	a.sampleRate, a.channels, a.bitDepth = sampleRate, channels, bitDepth
	a.opened = true
	a.source.SetOutputLatency(durationToJiffies(a.out.Latency()))
	return nil
}

func durationToJiffies(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d.Microseconds()) * msg.JiffiesPerMs / 1000
}
