// ABOUTME: HLS protocol feeding playlist segments into the pipeline as one stream
// ABOUTME: Recovers from broken segments by restarting after the last segment played
package hls

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/protocol"
)

// Scheme is the URI scheme of HLS streams; "hls://host/live.m3u8" is
// fetched as "http://host/live.m3u8"
const Scheme = "hls"

// Config tunes the HLS protocol
type Config struct {
	// Restarts is how many times in a row a stream may break without
	// delivering any audio before the protocol gives up
	Restarts    int
	SupplyRetry time.Duration
}

func DefaultConfig() Config {
	return Config{Restarts: 3, SupplyRetry: 10 * time.Millisecond}
}

// Protocol streams HLS. Streams are live: no seeking, and a stop ends them.
type Protocol struct {
	cfg     Config
	supply  *pipeline.Supply
	ids     protocol.IDProvider
	fetcher Fetcher
	logger  zerolog.Logger

	ctx context.Context

	mu          sync.Mutex
	streamID    uint32
	nextFlushID uint32
	stopped     bool
	cancel      context.CancelFunc
}

func NewProtocol(cfg Config, supply *pipeline.Supply, ids protocol.IDProvider, fetcher Fetcher, logger zerolog.Logger) *Protocol {
	return &Protocol{
		cfg:      cfg,
		supply:   supply,
		ids:      ids,
		fetcher:  fetcher,
		logger:   logger.With().Str("component", "hls").Logger(),
		streamID: msg.StreamIDInvalid,
	}
}

func (p *Protocol) Supports(uri string) bool {
	return protocol.Scheme(uri) == Scheme
}

// Stream outputs the playlist at uri until it ends or is stopped
func (p *Protocol) Stream(ctx context.Context, uri string) protocol.StreamResult {
	if !p.Supports(uri) {
		return protocol.StreamNotSupported
	}
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.reset(ctx, cancel)

	playlistURI := "http" + strings.TrimPrefix(uri, Scheme)
	log := p.logger.With().Str("uri", playlistURI).Logger()
	reader := NewReader(p.fetcher, playlistURI, p.logger)
	p.startStream(uri)

	res := protocol.StreamErrorRecoverable
	failures := 0
	var played uint64
	havePlayed := false
	for {
		if p.isStopped() {
			res = protocol.StreamStopped
			break
		}

		streamer := NewStreamer(streamCtx, reader, p.fetcher)
		n, err := p.pump(streamer)
		streamer.Close()
		if idx, ok := streamer.Played(); ok {
			played, havePlayed = idx, true
		}

		if p.isStopped() {
			res = protocol.StreamStopped
			break
		}
		if err == nil {
			res = protocol.StreamSuccess
			break
		}
		if errors.Is(err, ErrInvalid) || errors.Is(err, ErrUnsupported) {
			log.Error().Err(err).Msg("playlist rejected")
			res = protocol.StreamErrorUnrecoverable
			break
		}
		if n > 0 {
			failures = 0
		}
		failures++
		if failures > p.cfg.Restarts {
			log.Warn().Err(err).Msg("stream broken, giving up")
			res = protocol.StreamErrorRecoverable
			break
		}

		p.mu.Lock()
		// no stop can be promised for a stream that has ended
		p.streamID = msg.StreamIDInvalid
		pendingStop := p.nextFlushID != msg.FlushIDInvalid
		p.mu.Unlock()
		if pendingStop {
			res = protocol.StreamStopped
			break
		}

		log.Info().Err(err).Int("attempt", failures).Msg("stream broken, restarting")
		p.waitForDrain()

		// continue after the last complete segment rather than repeat any
		reader.Reset()
		if havePlayed {
			reader.SetStart(played + 1)
		}
		p.startStream(uri)
	}

	p.mu.Lock()
	flushID := p.nextFlushID
	p.nextFlushID = msg.FlushIDInvalid
	p.streamID = msg.StreamIDInvalid
	p.cancel = nil
	p.mu.Unlock()
	if flushID != msg.FlushIDInvalid {
		p.output(func() error { return p.supply.OutputFlush(flushID) })
	}
	log.Debug().Stringer("result", res).Msg("stream ended")
	return res
}

// pump copies r into the pipeline until EOF, which it reports as nil
func (p *Protocol) pump(r io.Reader) (int, error) {
	buf := make([]byte, pipeline.MaxEncodedChunk)
	total := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.outputData(buf[:n])
			total += n
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (p *Protocol) reset(ctx context.Context, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctx = ctx
	p.cancel = cancel
	p.streamID = msg.StreamIDInvalid
	p.nextFlushID = msg.FlushIDInvalid
	p.stopped = false
}

func (p *Protocol) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Protocol) startStream(uri string) {
	p.mu.Lock()
	p.streamID = p.ids.NextStreamID()
	streamID := p.streamID
	p.mu.Unlock()
	p.output(func() error {
		return p.supply.OutputStream(msg.EncodedStreamParams{
			URI:      uri,
			StreamID: streamID,
			Live:     true,
			Handler:  p,
		})
	})
}

func (p *Protocol) waitForDrain() {
	drained := make(chan struct{})
	p.output(func() error { return p.supply.OutputDrain(0, func() { close(drained) }) })
	select {
	case <-drained:
	case <-p.ctx.Done():
	}
}

func (p *Protocol) outputData(data []byte) {
	for len(data) > 0 && p.ctx.Err() == nil {
		p.output(func() error {
			n, err := p.supply.OutputData(data)
			data = data[n:]
			return err
		})
	}
}

func (p *Protocol) output(f func() error) {
	err := pipeline.RetryOnExhaustion(p.ctx, p.cfg.SupplyRetry, f)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error().Err(err).Msg("supply")
	}
}

// Interrupt aborts any fetch or playlist wait
func (p *Protocol) Interrupt(interrupt bool) {
	if !interrupt {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Protocol) OkToPlay(streamID uint32) msg.PlayDecision { return msg.PlayYes }

func (p *Protocol) TrySeek(streamID uint32, offset uint64) uint32 { return msg.FlushIDInvalid }

// TryStop stops the current stream. A flush promised by an earlier call that
// has not been output yet is reused.
func (p *Protocol) TryStop(streamID uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if streamID == msg.StreamIDInvalid || streamID != p.streamID {
		return msg.FlushIDInvalid
	}
	if p.nextFlushID == msg.FlushIDInvalid {
		p.nextFlushID = p.ids.NextFlushID()
	}
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	return p.nextFlushID
}

func (p *Protocol) TryGet(w io.Writer, url string, offset, bytes uint64) bool { return false }

func (p *Protocol) NotifyStarving(mode string, streamID uint32, starving bool) {
	if starving {
		p.logger.Debug().Uint32("stream", streamID).Msg("starving")
	}
}
