// ABOUTME: Builds the element chain and exposes transport control over it
// ABOUTME: Owns the decode and delay goroutines, id issue and observer notifications
package pipeline

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/pipeline/codec"
)

// ErrInvalidState is returned by Seek when nothing is playing or paused
var ErrInvalidState = errors.New("pipeline: invalid state")

// Pipeline is the full chain from Supply to the output. The animator pulls
// from it on its own goroutine.
type Pipeline struct {
	cfg     Config
	logger  zerolog.Logger
	factory *msg.Factory
	ids     IDProvider

	notifier *notifier
	supply   *Supply

	encoded          *EncodedReservoir
	codec            *codec.Element
	decoded          *DecodedReservoir
	trackInspector   *TrackInspector
	skipper          *Skipper
	waiter           *Waiter
	stopper          *Stopper
	router           *Router
	splitter         *Splitter
	attenuator       *Attenuator
	drainer          *Drainer
	delayReservoir   *DelayReservoir
	starvationRamper *StarvationRamper
	muter            *Muter
	last             Upstream

	outputLatency atomic.Uint64

	mu        sync.Mutex
	state     State
	buffering bool
	waiting   bool
	quitting  bool
}

// New builds a stopped pipeline. Call Start before the output pulls.
func New(cfg Config, logger zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		logger:  logger.With().Str("component", "pipeline").Logger(),
		factory: msg.NewFactory(cfg.Messages),
		state:   StateStopped,
	}
	p.notifier = newNotifier(p.logger)

	p.encoded = NewEncodedReservoir(cfg.EncodedReservoirBytes, cfg.MaxStreamsPerReservoir)
	p.supply = NewSupply(p.factory, p.encoded)
	rewinder := codec.NewRewinder(p.encoded, cfg.RewinderMaxMsgs)
	p.decoded = NewDecodedReservoir(cfg.DecodedReservoirJiffies, cfg.MaxStreamsPerReservoir)
	p.codec = codec.NewElement(p.factory, rewinder, p.decoded, logger)

	var up Upstream = p.decoded
	up = p.trace("decoded-reservoir", up)
	up = p.trace("ramper", NewRamper(up, cfg.RampLongJiffies))
	up = p.trace("variable-delay-1", NewVariableDelayLeft(p.factory, up, cfg.RampEmergencyJiffies, cfg.SenderMinLatency))
	p.trackInspector = NewTrackInspector(up)
	up = p.trace("track-inspector", p.trackInspector)
	p.skipper = NewSkipper(p.factory, up, cfg.RampLongJiffies)
	up = p.trace("skipper", p.skipper)
	p.waiter = NewWaiter(p.factory, up, cfg.RampLongJiffies, p.setWaiting)
	up = p.trace("waiter", p.waiter)
	p.stopper = NewStopper(p.factory, up, p.skipper, cfg.RampLongJiffies, cfg.RampShortJiffies, p.setState)
	up = p.trace("stopper", p.stopper)
	up = p.trace("reporter", NewReporter(up, queuedObserver{p.notifier}))
	p.router = NewRouter(p.factory, up)
	up = p.trace("router", p.router)
	p.splitter = NewSplitter(up)
	up = p.trace("splitter", p.splitter)
	p.attenuator = NewAttenuator(up, cfg.Attenuation)
	up = p.trace("attenuator", p.attenuator)
	p.drainer = NewDrainer(p.factory, up)
	up = p.trace("drainer", p.drainer)
	up = p.trace("variable-delay-2", NewVariableDelayRight(p.factory, up, cfg.RampEmergencyJiffies, p.outputLatency.Load))
	p.delayReservoir = NewDelayReservoir(up, cfg.StarvationRamperJiffies, cfg.MaxStreamsPerReservoir)
	p.starvationRamper = NewStarvationRamper(p.factory, p.delayReservoir, cfg.StarvationRamperJiffies,
		cfg.RampEmergencyJiffies, p.setBuffering, logger)
	up = p.trace("starvation-ramper", p.starvationRamper)
	p.muter = NewMuter(p.factory, up, cfg.RampShortJiffies)
	up = p.trace("muter", p.muter)
	p.last = NewPreDriver(up)
	return p, nil
}

func (p *Pipeline) trace(name string, up Upstream) Upstream {
	if !p.cfg.LogElements {
		return up
	}
	return NewLogger(name, up, p.logger, false)
}

// AddCodec registers a codec plug-in. Codecs are tried in the order added.
func (p *Pipeline) AddCodec(c codec.Codec) {
	p.codec.AddCodec(c)
}

// Start launches the decode and delay goroutines
func (p *Pipeline) Start() {
	p.codec.Start()
	p.delayReservoir.Start()
	p.logger.Info().Msg("Pipeline started")
}

// Pull returns the next message for the output
func (p *Pipeline) Pull() msg.Msg {
	return p.last.Pull()
}

func (p *Pipeline) Supply() *Supply            { return p.supply }
func (p *Pipeline) Factory() *msg.Factory      { return p.factory }
func (p *Pipeline) NextStreamID() uint32       { return p.ids.NextStreamID() }
func (p *Pipeline) NextTrackID() uint32        { return p.ids.NextTrackID() }
func (p *Pipeline) NextFlushID() uint32        { return p.ids.NextFlushID() }
func (p *Pipeline) NextHaltID() uint32         { return p.ids.NextHaltID() }
func (p *Pipeline) Starvations() uint64        { return p.starvationRamper.Starvations() }
func (p *Pipeline) PoolStats() []msg.PoolStats { return p.factory.Stats() }

// SetOutputLatency tells the pipeline how much audio the output buffers
func (p *Pipeline) SetOutputLatency(jiffies uint64) {
	p.outputLatency.Store(jiffies)
}

func (p *Pipeline) AddObserver(o Observer) {
	p.notifier.add(o)
}

func (p *Pipeline) AddTrackObserver(o TrackObserver) {
	p.trackInspector.AddObserver(o)
}

// State returns the transport state and whether the output is buffering
func (p *Pipeline) State() (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.buffering
}

func (p *Pipeline) Play() {
	p.logger.Debug().Msg("Play")
	p.stopper.Play()
}

func (p *Pipeline) Pause() {
	p.logger.Debug().Msg("Pause")
	p.stopper.BeginPause()
}

// Stop ramps down and emits Halt(haltID) once silent
func (p *Pipeline) Stop(haltID uint32) {
	p.logger.Debug().Uint32("halt", haltID).Msg("Stop")
	p.stopper.BeginStop(haltID)
}

// Wait ramps down and discards audio until Flush(flushID), then resumes on
// the next audio
func (p *Pipeline) Wait(flushID uint32) {
	p.waiter.Wait(flushID, true)
}

// FlushQuick is Wait without the ramp, for sources that have already gone quiet
func (p *Pipeline) FlushQuick(flushID uint32) {
	p.waiter.Wait(flushID, false)
}

// Seek moves streamID to seconds
func (p *Pipeline) Seek(streamID, seconds uint32) error {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != StatePlaying && state != StatePaused {
		return ErrInvalidState
	}
	return p.codec.Seek(streamID, seconds)
}

// RemoveAll discards everything up to Halt(haltID)
func (p *Pipeline) RemoveAll(haltID uint32) {
	p.skipper.RemoveAll(haltID, p.rampOnRemoval())
}

// RemoveCurrentStream skips to whatever follows the current stream
func (p *Pipeline) RemoveCurrentStream() bool {
	return p.skipper.TryRemoveCurrentStream(p.rampOnRemoval())
}

func (p *Pipeline) rampOnRemoval() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StatePlaying && !p.buffering
}

// Block holds the pipeline ahead of the skipper until the matching Unblock
func (p *Pipeline) Block()   { p.skipper.Block() }
func (p *Pipeline) Unblock() { p.skipper.Unblock() }

func (p *Pipeline) Mute()   { p.muter.Mute() }
func (p *Pipeline) Unmute() { p.muter.Unmute() }

func (p *Pipeline) SetAttenuation(level uint32) {
	p.attenuator.SetAttenuation(level)
}

// DrainAllAudio makes the output play out everything it holds
func (p *Pipeline) DrainAllAudio() {
	p.drainer.DrainAllAudio()
}

// SetSplitterBranch copies the output stream to branch; nil stops copying
func (p *Pipeline) SetSplitterBranch(branch Downstream) {
	p.splitter.SetBranch(branch)
}

// SetRouterBranch diverts audio to branch; nil restores local playback
func (p *Pipeline) SetRouterBranch(branch Downstream) {
	p.router.SetBranch(branch)
}

// Quit sends Quit down the pipeline. The output should keep pulling until
// it sees it, then call Close.
func (p *Pipeline) Quit() error {
	p.mu.Lock()
	if p.quitting {
		p.mu.Unlock()
		return nil
	}
	p.quitting = true
	p.mu.Unlock()
	p.logger.Info().Msg("Pipeline quitting")
	if err := p.supply.OutputQuit(); err != nil {
		return err
	}
	p.stopper.Play()
	p.stopper.Quit()
	p.drainer.Quit()
	return nil
}

// Close waits for the pipeline goroutines after Quit
func (p *Pipeline) Close() {
	<-p.codec.Done()
	<-p.delayReservoir.Done()
	p.notifier.close()
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	notify := !p.waiting || s != StatePlaying
	buffering := p.buffering
	p.mu.Unlock()
	if notify {
		p.notifier.post(func(o Observer) { o.NotifyPipelineState(s, buffering) })
	}
}

func (p *Pipeline) setWaiting(waiting bool) {
	p.mu.Lock()
	p.waiting = waiting
	s := p.state
	if waiting && s == StatePlaying {
		s = StateWaiting
	}
	buffering := p.buffering
	p.mu.Unlock()
	p.notifier.post(func(o Observer) { o.NotifyPipelineState(s, buffering) })
}

func (p *Pipeline) setBuffering(buffering bool) {
	p.mu.Lock()
	if p.buffering == buffering {
		p.mu.Unlock()
		return
	}
	p.buffering = buffering
	s := p.state
	if p.waiting && s == StatePlaying {
		s = StateWaiting
	}
	p.mu.Unlock()
	p.notifier.post(func(o Observer) { o.NotifyPipelineState(s, buffering) })
}

// queuedObserver forwards reporter callbacks to the notification goroutine
type queuedObserver struct {
	n *notifier
}

func (q queuedObserver) NotifyPipelineState(state State, buffering bool) {
	q.n.post(func(o Observer) { o.NotifyPipelineState(state, buffering) })
}

func (q queuedObserver) NotifyMode(mode string, info msg.ModeInfo) {
	q.n.post(func(o Observer) { o.NotifyMode(mode, info) })
}

func (q queuedObserver) NotifyTrack(track msg.Track, mode string, startOfStream bool) {
	q.n.post(func(o Observer) { o.NotifyTrack(track, mode, startOfStream) })
}

func (q queuedObserver) NotifyMetaText(text string) {
	q.n.post(func(o Observer) { o.NotifyMetaText(text) })
}

func (q queuedObserver) NotifyTime(seconds, trackSeconds uint32) {
	q.n.post(func(o Observer) { o.NotifyTime(seconds, trackSeconds) })
}

func (q queuedObserver) NotifyStreamInfo(info msg.DecodedStreamInfo) {
	q.n.post(func(o Observer) { o.NotifyStreamInfo(info) })
}
