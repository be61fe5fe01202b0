// ABOUTME: Renderer application orchestration
// ABOUTME: Wires protocols, pipeline, animator and metrics together and runs the play loop
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-renderer/internal/config"
	"github.com/Resonate-Protocol/resonate-renderer/internal/metrics"
	"github.com/Resonate-Protocol/resonate-renderer/internal/ui"
	"github.com/Resonate-Protocol/resonate-renderer/internal/version"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio/decode"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/hls"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/raop"
)

const (
	supplyRetry = 10 * time.Millisecond
	// raopRestart is the pause before listening for the next RAOP sender
	raopRestart = 500 * time.Millisecond
	quitTimeout = 5 * time.Second
)

// ErrVolume is returned for a volume outside 0-100
var ErrVolume = errors.New("app: volume out of range")

type request struct {
	uri      string
	metadata string
	haltID   uint32
}

// Renderer owns the pipeline and everything that feeds and drains it
type Renderer struct {
	cfg    config.Config
	logger zerolog.Logger

	pipeline *pipeline.Pipeline
	animator *output.Animator
	manager  *protocol.Manager
	filler   *protocol.Filler
	metrics  *metrics.Metrics

	raop        *raop.Protocol
	raopURI     string
	audioConn   net.PacketConn
	controlConn net.PacketConn

	queue  chan request
	volume atomic.Int32
	muted  atomic.Bool
}

// New builds a renderer playing to out. RAOP sockets are bound here when
// RAOP is enabled so port conflicts are reported before anything starts.
func New(ctx context.Context, cfg config.Config, out output.Output, logger zerolog.Logger) (*Renderer, error) {
	pcfg, err := cfg.Pipeline.Build()
	if err != nil {
		return nil, err
	}
	pcfg.Attenuation = cfg.Attenuation()
	p, err := pipeline.New(pcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	for _, c := range decode.Default() {
		p.AddCodec(c)
	}

	r := &Renderer{
		cfg:      cfg,
		logger:   logger.With().Str("component", "renderer").Logger(),
		pipeline: p,
		animator: output.NewAnimator(p, out, logger),
		manager:  protocol.NewManager(logger),
		queue:    make(chan request, 1),
	}
	r.volume.Store(int32(cfg.Volume))

	supply := p.Supply()
	httpCfg := protocol.DefaultHTTPConfig()
	httpCfg.UserAgent = version.UserAgent()
	r.manager.Add(protocol.NewHTTP(httpCfg, supply, p, logger))
	fetcher := &hls.HTTPFetcher{Client: &http.Client{}, UserAgent: version.UserAgent()}
	r.manager.Add(hls.NewProtocol(hls.DefaultConfig(), supply, p, fetcher, logger))

	r.filler = protocol.NewFiller(r.manager, supply, p, logger)
	r.filler.SetMode(hls.Scheme, protocol.Mode{Name: "radio", Info: msg.ModeInfo{SupportsPause: false}})

	if cfg.RAOP.Enabled {
		if err := r.addRAOP(ctx, cfg.RAOP, supply, logger); err != nil {
			return nil, err
		}
	}

	r.metrics = metrics.New(metrics.Sources{
		Pools:       p.PoolStats,
		Starvations: p.Starvations,
		Dropouts:    r.animator.Dropouts,
		Frames:      r.animator.FramesWritten,
		RAOP:        r.raopStats,
	})
	p.AddTrackObserver(r.metrics)
	return r, nil
}

func (r *Renderer) addRAOP(ctx context.Context, cfg config.RAOPConfig, supply *pipeline.Supply, logger zerolog.Logger) error {
	key, iv, err := cfg.Keys()
	if err != nil {
		return err
	}
	r.audioConn, err = raop.ListenUDP(ctx, ":"+strconv.Itoa(cfg.AudioPort))
	if err != nil {
		return fmt.Errorf("raop audio socket: %w", err)
	}
	r.controlConn, err = raop.ListenUDP(ctx, ":"+strconv.Itoa(cfg.ControlPort))
	if err != nil {
		r.audioConn.Close()
		return fmt.Errorf("raop control socket: %w", err)
	}

	session := raop.NewStaticSession(key, iv, cfg.Fmtp, cfg.Latency, time.Duration(cfg.IdleSeconds)*time.Second)
	r.raop = raop.NewProtocol(raop.DefaultConfig(), supply, r.pipeline, session, r.audioConn, r.controlConn, logger)
	r.raopURI = fmt.Sprintf("%s://%d", raop.Scheme, cfg.AudioPort)
	r.manager.Add(r.raop)
	r.filler.SetMode(raop.Scheme, protocol.Mode{
		Name:      "raop",
		Info:      msg.ModeInfo{SupportsLatency: true, Realtime: true},
		OwnsTrack: true,
	})
	return nil
}

func (r *Renderer) Pipeline() *pipeline.Pipeline { return r.pipeline }
func (r *Renderer) Metrics() *metrics.Metrics    { return r.metrics }

// AddObserver registers o for pipeline notifications
func (r *Renderer) AddObserver(o pipeline.Observer) { r.pipeline.AddObserver(o) }

// Volume returns the current volume, 0-100
func (r *Renderer) Volume() int { return int(r.volume.Load()) }

// Stats gathers the counters shown in the TUI
func (r *Renderer) Stats() ui.Stats {
	s := ui.Stats{
		Starvations: r.pipeline.Starvations(),
		Dropouts:    r.animator.Dropouts(),
	}
	if r.raop != nil {
		rs := r.raop.Stats()
		s.Resends, s.Discards = rs.Resends, rs.Discards
	}
	return s
}

func (r *Renderer) raopStats() raop.Stats {
	if r.raop == nil {
		return raop.Stats{}
	}
	return r.raop.Stats()
}

func (r *Renderer) Play()  { r.pipeline.Play() }
func (r *Renderer) Pause() { r.pipeline.Pause() }

// Stop ramps down and halts; the source is asked to stop through its handler
func (r *Renderer) Stop() {
	r.pipeline.Stop(r.pipeline.NextHaltID())
}

// Skip drops the rest of the current stream
func (r *Renderer) Skip() {
	if !r.pipeline.RemoveCurrentStream() {
		r.logger.Debug().Msg("nothing to skip")
	}
}

func (r *Renderer) SetVolume(volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("%w: %d", ErrVolume, volume)
	}
	r.volume.Store(int32(volume))
	r.pipeline.SetAttenuation(uint32(uint64(msg.AttenuationUnity) * uint64(volume) / 100))
	return nil
}

func (r *Renderer) SetMuted(muted bool) {
	if r.muted.Swap(muted) == muted {
		return
	}
	if muted {
		r.pipeline.Mute()
	} else {
		r.pipeline.Unmute()
	}
}

// Open replaces whatever is playing with uri. Audio already in the pipeline
// is removed up to the halt that starts the new stream.
func (r *Renderer) Open(uri, metadata string) error {
	if !r.manager.Supports(uri) {
		return fmt.Errorf("%w: %q", protocol.ErrNotSupported, uri)
	}
	haltID := r.pipeline.NextHaltID()
	r.pipeline.RemoveAll(haltID)
	r.enqueue(request{uri: uri, metadata: metadata, haltID: haltID})
	r.manager.Interrupt(true)
	return nil
}

// enqueue keeps only the newest request
func (r *Renderer) enqueue(req request) {
	for {
		select {
		case r.queue <- req:
			return
		default:
		}
		select {
		case <-r.queue:
		default:
		}
	}
}

// HandleControls applies TUI requests until ctx is done. quit is called for
// CmdQuit.
func (r *Renderer) HandleControls(ctx context.Context, controls *ui.Controls, quit func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-controls.Requests:
			switch req.Command {
			case ui.CmdPlayPause:
				if state, _ := r.pipeline.State(); state == pipeline.StatePlaying {
					r.Pause()
				} else {
					r.Play()
				}
			case ui.CmdStop:
				r.Stop()
			case ui.CmdSkip:
				r.Skip()
			case ui.CmdVolume:
				if err := r.SetVolume(req.Volume); err != nil {
					r.logger.Warn().Err(err).Msg("volume")
				}
			case ui.CmdMute:
				r.SetMuted(req.Muted)
			case ui.CmdQuit:
				quit()
				return
			}
		}
	}
}

// Run plays until ctx is done, then quits the pipeline and waits for the
// output to drain it
func (r *Renderer) Run(ctx context.Context) error {
	r.pipeline.Start()

	// the animator outlives ctx so it can pull the Quit message
	animCtx, stopAnimator := context.WithCancel(context.WithoutCancel(ctx))
	defer stopAnimator()
	animDone := make(chan error, 1)
	go func() { animDone <- r.animator.Run(animCtx) }()

	start := r.cfg.Play
	if start == "" {
		start = r.raopURI
	}
	if start != "" {
		if err := r.Open(start, ""); err != nil {
			r.logger.Warn().Err(err).Str("uri", start).Msg("initial uri")
		}
	}

	animExited := false
	var animErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.playLoop(gctx) })
	if r.raop != nil {
		g.Go(func() error { return r.raop.Serve(gctx) })
	}
	g.Go(func() error {
		select {
		case animErr = <-animDone:
			animExited = true
			if animErr == nil {
				animErr = errors.New("output stopped")
			}
			return fmt.Errorf("animator: %w", animErr)
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		r.manager.Interrupt(true)
		return nil
	})
	err := g.Wait()

	r.closeSockets()
	if animExited {
		r.logger.Error().Err(animErr).Msg("output failed; pipeline left running")
		return err
	}
	if err := r.quit(animDone, stopAnimator); err != nil {
		r.logger.Warn().Err(err).Msg("quit")
	}
	r.logger.Info().Msg("renderer stopped")
	return err
}

func (r *Renderer) quit(animDone <-chan error, stopAnimator context.CancelFunc) error {
	qctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()
	if err := pipeline.RetryOnExhaustion(qctx, supplyRetry, r.pipeline.Quit); err != nil {
		stopAnimator()
		<-animDone
		return fmt.Errorf("pipeline quit: %w", err)
	}
	select {
	case err := <-animDone:
		if err != nil {
			return err
		}
		r.pipeline.Close()
		return nil
	case <-qctx.Done():
		stopAnimator()
		<-animDone
		return errors.New("timed out waiting for the output to drain")
	}
}

func (r *Renderer) closeSockets() {
	if r.audioConn != nil {
		r.audioConn.Close()
	}
	if r.controlConn != nil {
		r.controlConn.Close()
	}
}

// playLoop streams queued URIs one at a time. With RAOP enabled the receiver
// is listened on whenever a stream ends and nothing else is queued.
func (r *Renderer) playLoop(ctx context.Context) error {
	for {
		var req request
		select {
		case <-ctx.Done():
			return nil
		case req = <-r.queue:
		}

		for {
			r.play(ctx, req)
			if ctx.Err() != nil {
				return nil
			}
			if r.raopURI == "" {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case req = <-r.queue:
			case <-time.After(raopRestart):
				req = request{uri: r.raopURI, haltID: msg.HaltIDNone}
			}
		}
	}
}

func (r *Renderer) play(ctx context.Context, req request) {
	log := r.logger.With().Str("uri", req.uri).Logger()
	if err := pipeline.RetryOnExhaustion(ctx, supplyRetry, func() error {
		return r.pipeline.Supply().OutputHalt(req.haltID)
	}); err != nil {
		log.Debug().Err(err).Msg("halt")
		return
	}
	r.manager.Interrupt(false)
	r.pipeline.Play()

	res, err := r.filler.Play(ctx, req.uri, req.metadata)
	if err != nil {
		log.Warn().Err(err).Stringer("result", res).Msg("stream failed")
	} else {
		log.Info().Stringer("result", res).Msg("stream ended")
	}
	r.metrics.StreamEnded(protocol.Scheme(req.uri), res.String())
}
