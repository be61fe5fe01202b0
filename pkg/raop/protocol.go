// ABOUTME: RAOP protocol driver feeding repaired, decrypted audio into the pipeline
// ABOUTME: Handles session start and resume, sender flushes, stops and discontinuities
package raop

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/protocol"
)

// Scheme is the URI scheme of RAOP streams, e.g. "raop://6001"
const Scheme = "raop"

// SampleRate is the rate RAOP latencies are expressed in
const SampleRate = 44100

// Discovery is the RAOP control surface negotiated over RTSP
type Discovery interface {
	// Active reports whether a sender session is established
	Active() bool
	// KeepAlive notes that audio is still arriving
	KeepAlive()
	// Latency is the latency negotiated at setup, in samples
	Latency() uint32
	AesKey() []byte
	AesIV() []byte
	// Fmtp is the audio format line of the session
	Fmtp() string
	// Close ends the session once the stream stops
	Close()
}

// Config tunes the protocol
type Config struct {
	Repair RepairerConfig
	// MinDelayChange is the smallest latency change, in samples, that is
	// passed on to the pipeline
	MinDelayChange uint32
	// SupplyRetry is how long to wait before retrying when pools are exhausted
	SupplyRetry time.Duration
}

func DefaultConfig() Config {
	return Config{
		Repair:         DefaultRepairerConfig(),
		MinDelayChange: 2 * SampleRate / 1000,
		SupplyRetry:    10 * time.Millisecond,
	}
}

// Protocol streams one RAOP session at a time. It implements
// msg.StreamHandler for the streams it outputs.
type Protocol struct {
	cfg       Config
	supply    *pipeline.Supply
	ids       protocol.IDProvider
	discovery Discovery
	logger    zerolog.Logger

	audio    *Server
	control  *Server
	ctrl     *Control
	clock    *Clock
	repairer *Repairer
	wake     chan struct{}

	// owned by the Stream goroutine
	ctx       context.Context
	uri       string
	decryptor *Decryptor
	buf       []byte

	mu            sync.Mutex
	sessionID     uint32
	streamID      uint32
	latency       uint32
	flushSeq      uint16
	flushTime     uint32
	flushPointSet bool
	nextFlushID   uint32
	active        bool
	started       bool
	waiting       bool
	resumePending bool
	stopped       bool
	interrupted   bool
	discontinuity bool
	starving      bool
}

// NewProtocol creates the protocol over already bound audio and control sockets
func NewProtocol(cfg Config, supply *pipeline.Supply, ids protocol.IDProvider, discovery Discovery, audioConn, controlConn net.PacketConn, logger zerolog.Logger) *Protocol {
	logger = logger.With().Str("component", "raop").Logger()
	p := &Protocol{
		cfg:       cfg,
		supply:    supply,
		ids:       ids,
		discovery: discovery,
		logger:    logger,
		clock:     NewClock(logger),
		wake:      make(chan struct{}, 1),
		streamID:  msg.StreamIDInvalid,
	}
	p.ctrl = NewControl(controlConn, p.clock, logger)
	p.audio = NewServer("audio", audioConn, ClassifyAudio, logger)
	p.control = NewServer("control", controlConn, p.ctrl.Classify, logger)
	p.repairer = NewRepairer(cfg.Repair, p.ctrl, p.outputAudio, p.repairFailed, logger)
	return p
}

// Serve runs the socket readers until ctx is done
func (p *Protocol) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.audio.Run(ctx) })
	g.Go(func() error { return p.control.Run(ctx) })
	return g.Wait()
}

func (p *Protocol) Supports(uri string) bool {
	return protocol.Scheme(uri) == Scheme
}

// Stream outputs the current RAOP session until it stops
func (p *Protocol) Stream(ctx context.Context, uri string) protocol.StreamResult {
	if !p.Supports(uri) {
		return protocol.StreamNotSupported
	}
	p.ctx = ctx
	p.uri = uri
	p.reset()
	p.waitForDrain()
	p.repairer.DropAudio()
	p.startServers()

	for {
		select {
		case <-ctx.Done():
			p.stopServers()
			return protocol.StreamStopped
		case <-p.wake:
			if res, done := p.admin(); done {
				return res
			}
		case pk := <-p.control.Packets():
			p.processPacket(pk)
			p.control.Consumed()
		case pk := <-p.audio.Packets():
			p.processPacket(pk)
			p.audio.Consumed()
		}

		if !p.discovery.Active() {
			p.logger.Info().Msg("no active session")
			p.mu.Lock()
			p.active = false
			p.stopped = true
			flushID := p.nextFlushID
			p.nextFlushID = msg.FlushIDInvalid
			p.mu.Unlock()

			if flushID != msg.FlushIDInvalid {
				p.output(func() error { return p.supply.OutputFlush(flushID) })
			}
			p.waitForDrain()
			p.repairer.DropAudio()
			p.discovery.Close()
			p.stopServers()
			return protocol.StreamStopped
		}
	}
}

// admin acts on flags set by other goroutines
func (p *Protocol) admin() (protocol.StreamResult, bool) {
	p.mu.Lock()
	flushID := p.nextFlushID
	p.nextFlushID = msg.FlushIDInvalid
	stopped := p.stopped
	if stopped {
		p.streamID = msg.StreamIDInvalid
		p.active = false
	}
	waiting := p.waiting
	p.waiting = false
	interrupted := p.interrupted
	if interrupted {
		p.streamID = msg.StreamIDInvalid
		p.active = false
		p.stopped = true
	}
	discontinuity := p.discontinuity
	p.discontinuity = false
	// the pipeline has already starved, nothing is left to drain
	p.starving = false
	p.mu.Unlock()

	if flushID != msg.FlushIDInvalid {
		p.output(func() error { return p.supply.OutputFlush(flushID) })
		switch {
		case stopped:
			p.waitForDrain()
			p.discovery.Close()
			p.stopServers()
			p.logger.Info().Msg("stream stopped")
			return protocol.StreamStopped, true
		case waiting:
			p.outputDiscontinuity()
		}
		p.repairer.DropAudio()
	}
	if discontinuity {
		p.logger.Info().Msg("discontinuity")
		p.outputDiscontinuity()
		p.repairer.DropAudio()
	}
	if interrupted {
		p.repairer.DropAudio()
		p.discovery.Close()
		p.stopServers()
		p.logger.Info().Msg("stream interrupted")
		return protocol.StreamStopped, true
	}
	return 0, false
}

func (p *Protocol) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = 0
	p.streamID = msg.StreamIDInvalid
	p.latency = p.currentLatency()
	p.flushSeq, p.flushTime = 0, 0
	p.flushPointSet = false
	p.nextFlushID = msg.FlushIDInvalid
	p.active = true
	p.started = false
	p.waiting = false
	p.resumePending = false
	p.stopped = false
	p.interrupted = false
	p.discontinuity = false
	p.starving = false
	select {
	case <-p.wake:
	default:
	}
}

func (p *Protocol) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// currentLatency prefers the latency announced in sync packets
func (p *Protocol) currentLatency() uint32 {
	if l := p.ctrl.Latency(); l != 0 {
		return l
	}
	return p.discovery.Latency()
}

func (p *Protocol) processPacket(pk AudioPacket) {
	if p.shouldFlush(pk.Seq, pk.Timestamp) {
		return
	}

	p.mu.Lock()
	begin := !p.started || p.resumePending
	if begin && p.sessionID == 0 {
		p.sessionID = pk.SSRC
	}
	p.mu.Unlock()
	if begin {
		p.startOrResume()
	}
	p.discovery.KeepAlive()

	p.mu.Lock()
	valid := p.sessionID == pk.SSRC
	p.mu.Unlock()
	if !valid || p.shouldFlush(pk.Seq, pk.Timestamp) {
		return
	}

	err := p.repairer.OutputAudio(pk)
	switch {
	case errors.Is(err, ErrRepairBufferFull), errors.Is(err, ErrStreamRestarted):
		p.logger.Warn().Err(err).Uint16("seq", pk.Seq).Msg("unrecoverable packet loss")
		p.mu.Lock()
		p.discontinuity = true
		p.mu.Unlock()
		p.signal()
	case err != nil:
		p.logger.Error().Err(err).Msg("output audio")
	}
}

// shouldFlush reports whether a packet precedes the flush point of a pending resume
func (p *Protocol) shouldFlush(seq uint16, timestamp uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	// a discontinuity resumes without a flush point; only a sender FLUSH sets one
	if !p.resumePending || !p.flushPointSet {
		return false
	}
	return seqAtOrBefore(seq, p.flushSeq) && timestampAtOrBefore(timestamp, p.flushTime)
}

func (p *Protocol) startOrResume() {
	d, err := NewDecryptor(p.discovery.AesKey(), p.discovery.AesIV())
	if err != nil {
		p.logger.Error().Err(err).Msg("session keys")
	} else {
		p.decryptor = d
	}

	p.mu.Lock()
	started := p.started
	resumePending := p.resumePending
	p.started = true
	p.resumePending = false
	p.flushSeq, p.flushTime = 0, 0
	p.flushPointSet = false
	var latency uint32
	if !started {
		latency = p.currentLatency()
		p.latency = latency
	}
	// every start or resume gets a new stream so the codec restarts cleanly
	streamID := p.ids.NextStreamID()
	p.streamID = streamID
	p.mu.Unlock()

	if !started {
		p.output(func() error { return p.supply.OutputDelay(delayJiffies(latency)) })
		track := msg.Track{ID: p.ids.NextTrackID(), URI: p.uri}
		p.output(func() error { return p.supply.OutputTrack(track, !resumePending) })
	}
	p.output(func() error {
		return p.supply.OutputStream(msg.EncodedStreamParams{
			URI:      p.uri,
			StreamID: streamID,
			Live:     true,
			Handler:  p,
		})
	})
	p.outputData(ContainerHeader(p.discovery.Fmtp()))
	p.logger.Info().Uint32("stream", streamID).Bool("resume", started).Msg("stream started")
}

// outputAudio receives packets from the repairer in sequence order
func (p *Protocol) outputAudio(pk AudioPacket) error {
	latency := p.ctrl.Latency()
	changed := false
	p.mu.Lock()
	if latency != 0 && latency != p.latency {
		diff := latency - p.latency
		if latency < p.latency {
			diff = p.latency - latency
		}
		// senders nudge latency slightly on resume; ignore small changes
		if diff >= p.cfg.MinDelayChange {
			p.latency = latency
			changed = true
		}
	}
	p.mu.Unlock()
	if changed {
		p.output(func() error { return p.supply.OutputDelay(delayJiffies(latency)) })
	}

	if p.decryptor == nil {
		return nil
	}
	p.buf = p.decryptor.Decrypt(p.buf[:0], pk.Payload)
	p.outputData(p.buf)
	return nil
}

func (p *Protocol) outputData(data []byte) {
	for len(data) > 0 {
		var n int
		p.output(func() error {
			var err error
			n, err = p.supply.OutputData(data)
			data = data[n:]
			return err
		})
		if p.ctx.Err() != nil {
			return
		}
	}
}

// output retries f while pools are exhausted
func (p *Protocol) output(f func() error) {
	err := pipeline.RetryOnExhaustion(p.ctx, p.cfg.SupplyRetry, f)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error().Err(err).Msg("supply")
	}
}

// outputDiscontinuity drains the pipeline before audio resumes on a new stream
func (p *Protocol) outputDiscontinuity() {
	p.stopServers()
	p.mu.Lock()
	p.resumePending = true
	p.mu.Unlock()

	p.waitForDrain()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.startServers()
	}
}

func (p *Protocol) waitForDrain() {
	drained := make(chan struct{})
	p.output(func() error { return p.supply.OutputDrain(0, func() { close(drained) }) })
	select {
	case <-drained:
	case <-p.ctx.Done():
	}
}

func (p *Protocol) repairFailed() {
	p.mu.Lock()
	p.discontinuity = true
	p.mu.Unlock()
	p.signal()
}

func (p *Protocol) startServers() {
	p.audio.Open()
	p.control.Open()
}

func (p *Protocol) stopServers() {
	p.control.Close()
	p.audio.Close()
}

func (p *Protocol) interruptServers() {
	p.audio.Interrupt()
	p.control.Interrupt()
}

// Interrupt ends the current stream
func (p *Protocol) Interrupt(interrupt bool) {
	if !interrupt {
		return
	}
	p.mu.Lock()
	p.interrupted = true
	p.mu.Unlock()
	p.interruptServers()
	p.signal()
}

// SendFlush handles a sender FLUSH: audio up to seq and timestamp is dropped
// and the pipeline waits for the flush id passed to onFlush. A flush that has
// not been output yet is reused.
func (p *Protocol) SendFlush(seq uint16, timestamp uint32, onFlush func(flushID uint32)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.flushSeq = seq
	p.flushTime = timestamp
	p.flushPointSet = true
	if p.nextFlushID == msg.FlushIDInvalid {
		p.nextFlushID = p.ids.NextFlushID()
		p.waiting = true
	}
	onFlush(p.nextFlushID)
	p.interruptServers()
	p.signal()
}

// Stats reports repair and socket counters
type Stats struct {
	Resends        int
	Discards       int
	InvalidPackets uint64
	Latency        uint32
	ClockQuality   Quality
}

func (p *Protocol) Stats() Stats {
	resends, discards := p.repairer.Stats()
	_, ai := p.audio.Stats()
	_, ci := p.control.Stats()
	p.mu.Lock()
	latency := p.latency
	p.mu.Unlock()
	return Stats{
		Resends:        resends,
		Discards:       discards,
		InvalidPackets: ai + ci,
		Latency:        latency,
		ClockQuality:   p.clock.CheckQuality(time.Now()),
	}
}

func (p *Protocol) OkToPlay(streamID uint32) msg.PlayDecision { return msg.PlayYes }

func (p *Protocol) TrySeek(streamID uint32, offset uint64) uint32 { return msg.FlushIDInvalid }

// TryStop stops the stream; the flush id decision and the socket interrupt
// happen under one lock
func (p *Protocol) TryStop(streamID uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || !p.active || streamID != p.streamID || streamID == msg.StreamIDInvalid {
		return msg.FlushIDInvalid
	}
	p.nextFlushID = p.ids.NextFlushID()
	p.stopped = true
	p.interruptServers()
	p.stopServers()
	p.signal()
	return p.nextFlushID
}

func (p *Protocol) TryGet(w io.Writer, url string, offset, bytes uint64) bool { return false }

// NotifyStarving only flags and interrupts; the stream goroutine does the rest
func (p *Protocol) NotifyStarving(mode string, streamID uint32, starving bool) {
	if !starving {
		return
	}
	p.mu.Lock()
	p.starving = true
	p.mu.Unlock()
	p.interruptServers()
}

func delayJiffies(samples uint32) uint64 {
	return uint64(samples) * msg.JiffiesPerSample(SampleRate)
}
