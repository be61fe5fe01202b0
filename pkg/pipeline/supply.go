// ABOUTME: Entry point protocols use to feed the pipeline
// ABOUTME: Each call creates one message and pushes it into the encoded reservoir
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
)

// MaxEncodedChunk is the largest payload of a single AudioEncoded message
const MaxEncodedChunk = 6 * 1024

// Supply is the write side of the pipeline. Calls block while the encoded
// reservoir is full and fail with msg.ErrPoolExhausted when a message cannot
// be allocated.
type Supply struct {
	factory    *msg.Factory
	downstream Downstream
}

func NewSupply(factory *msg.Factory, downstream Downstream) *Supply {
	return &Supply{factory: factory, downstream: downstream}
}

func push[T msg.Msg](s *Supply, m T, err error) error {
	if err != nil {
		return err
	}
	s.downstream.Push(m)
	return nil
}

func (s *Supply) OutputMode(mode string, info msg.ModeInfo) error {
	m, err := s.factory.CreateMode(mode, info)
	return push(s, m, err)
}

func (s *Supply) OutputSession(id uint32) error {
	m, err := s.factory.CreateSession(id)
	return push(s, m, err)
}

func (s *Supply) OutputTrack(track msg.Track, startOfStream bool) error {
	m, err := s.factory.CreateTrack(track, startOfStream)
	return push(s, m, err)
}

func (s *Supply) OutputDelay(jiffies uint64) error {
	m, err := s.factory.CreateDelay(jiffies)
	return push(s, m, err)
}

// OutputStream starts a new encoded stream
func (s *Supply) OutputStream(p msg.EncodedStreamParams) error {
	m, err := s.factory.CreateEncodedStream(p)
	return push(s, m, err)
}

// OutputData pushes data as one or more AudioEncoded messages. On failure
// some of data may already have been pushed; the count of bytes pushed is
// returned.
func (s *Supply) OutputData(data []byte) (int, error) {
	sent := 0
	for sent < len(data) {
		n := min(len(data)-sent, MaxEncodedChunk)
		m, err := s.factory.CreateAudioEncoded(data[sent : sent+n])
		if err != nil {
			return sent, err
		}
		s.downstream.Push(m)
		sent += n
	}
	return sent, nil
}

func (s *Supply) OutputMetadata(text string) error {
	m, err := s.factory.CreateMetaText(text)
	return push(s, m, err)
}

func (s *Supply) OutputFlush(id uint32) error {
	m, err := s.factory.CreateFlush(id)
	return push(s, m, err)
}

func (s *Supply) OutputWait() error {
	m, err := s.factory.CreateWait()
	return push(s, m, err)
}

func (s *Supply) OutputHalt(id uint32) error {
	m, err := s.factory.CreateHalt(id)
	return push(s, m, err)
}

// OutputDrain pushes a drain whose callback runs once the output has played
// everything before it
func (s *Supply) OutputDrain(id uint32, callback func()) error {
	m, err := s.factory.CreateDrain(id, callback)
	return push(s, m, err)
}

func (s *Supply) OutputStreamInterrupted() error {
	m, err := s.factory.CreateStreamInterrupted()
	return push(s, m, err)
}

func (s *Supply) OutputChangeInput(callback func()) error {
	m, err := s.factory.CreateChangeInput(callback)
	return push(s, m, err)
}

func (s *Supply) OutputQuit() error {
	m, err := s.factory.CreateQuit()
	return push(s, m, err)
}

// RetryOnExhaustion calls f until it succeeds, fails with anything other than
// msg.ErrPoolExhausted, or ctx is done. Pools refill as the output plays, so
// waiting is enough.
func RetryOnExhaustion(ctx context.Context, interval time.Duration, f func() error) error {
	op := func() error {
		err := f()
		if err != nil && !errors.Is(err, msg.ErrPoolExhausted) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx))
	if err != nil && ctx.Err() != nil && errors.Is(err, msg.ErrPoolExhausted) {
		return ctx.Err()
	}
	return err
}
