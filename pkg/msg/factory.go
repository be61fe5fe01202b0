// ABOUTME: Message factory owning one fixed pool per message kind
// ABOUTME: Pool sizes come from FactoryConfig and are fixed at startup
package msg

import "fmt"

// FactoryConfig sets the capacity of each message pool
type FactoryConfig struct {
	Mode              int
	Session           int
	Track             int
	EncodedStream     int
	AudioEncoded      int
	MetaText          int
	DecodedStream     int
	AudioPcm          int
	Silence           int
	Playable          int
	Halt              int
	Flush             int
	Wait              int
	Drain             int
	Delay             int
	ChangeInput       int
	Quit              int
	StreamInterrupted int
}

// DefaultFactoryConfig returns pool sizes suited to the default pipeline
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		Mode:              20,
		Session:           20,
		Track:             20,
		EncodedStream:     20,
		AudioEncoded:      1600,
		MetaText:          20,
		DecodedStream:     20,
		AudioPcm:          1200,
		Silence:           410,
		Playable:          30,
		Halt:              20,
		Flush:             16,
		Wait:              20,
		Drain:             5,
		Delay:             20,
		ChangeInput:       5,
		Quit:              1,
		StreamInterrupted: 5,
	}
}

// Factory allocates pooled messages
type Factory struct {
	mode              *pool[Mode, *Mode]
	session           *pool[Session, *Session]
	track             *pool[TrackMsg, *TrackMsg]
	encodedStream     *pool[EncodedStream, *EncodedStream]
	audioEncoded      *pool[AudioEncoded, *AudioEncoded]
	metaText          *pool[MetaText, *MetaText]
	decodedStream     *pool[DecodedStream, *DecodedStream]
	audioPcm          *pool[AudioPcm, *AudioPcm]
	silence           *pool[Silence, *Silence]
	playable          *pool[Playable, *Playable]
	halt              *pool[Halt, *Halt]
	flush             *pool[Flush, *Flush]
	wait              *pool[Wait, *Wait]
	drain             *pool[Drain, *Drain]
	delay             *pool[Delay, *Delay]
	changeInput       *pool[ChangeInput, *ChangeInput]
	quit              *pool[Quit, *Quit]
	streamInterrupted *pool[StreamInterrupted, *StreamInterrupted]
}

// NewFactory preallocates every pool
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{
		mode:              newPool[Mode]("mode", cfg.Mode),
		session:           newPool[Session]("session", cfg.Session),
		track:             newPool[TrackMsg]("track", cfg.Track),
		encodedStream:     newPool[EncodedStream]("encoded-stream", cfg.EncodedStream),
		audioEncoded:      newPool[AudioEncoded]("audio-encoded", cfg.AudioEncoded),
		metaText:          newPool[MetaText]("metatext", cfg.MetaText),
		decodedStream:     newPool[DecodedStream]("decoded-stream", cfg.DecodedStream),
		audioPcm:          newPool[AudioPcm]("audio-pcm", cfg.AudioPcm),
		silence:           newPool[Silence]("silence", cfg.Silence),
		playable:          newPool[Playable]("playable", cfg.Playable),
		halt:              newPool[Halt]("halt", cfg.Halt),
		flush:             newPool[Flush]("flush", cfg.Flush),
		wait:              newPool[Wait]("wait", cfg.Wait),
		drain:             newPool[Drain]("drain", cfg.Drain),
		delay:             newPool[Delay]("delay", cfg.Delay),
		changeInput:       newPool[ChangeInput]("change-input", cfg.ChangeInput),
		quit:              newPool[Quit]("quit", cfg.Quit),
		streamInterrupted: newPool[StreamInterrupted]("stream-interrupted", cfg.StreamInterrupted),
	}
}

// Stats returns the occupancy of every pool
func (f *Factory) Stats() []PoolStats {
	return []PoolStats{
		f.mode.stats(), f.session.stats(), f.track.stats(), f.encodedStream.stats(),
		f.audioEncoded.stats(), f.metaText.stats(), f.decodedStream.stats(),
		f.audioPcm.stats(), f.silence.stats(), f.playable.stats(), f.halt.stats(),
		f.flush.stats(), f.wait.stats(), f.drain.stats(), f.delay.stats(),
		f.changeInput.stats(), f.quit.stats(), f.streamInterrupted.stats(),
	}
}

func (f *Factory) CreateMode(mode string, info ModeInfo) (*Mode, error) {
	m, err := f.mode.get()
	if err != nil {
		return nil, err
	}
	m.Mode, m.Info = mode, info
	return m, nil
}

func (f *Factory) CreateSession(id uint32) (*Session, error) {
	m, err := f.session.get()
	if err != nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

func (f *Factory) CreateTrack(track Track, startOfStream bool) (*TrackMsg, error) {
	m, err := f.track.get()
	if err != nil {
		return nil, err
	}
	m.Track, m.StartOfStream = track, startOfStream
	return m, nil
}

// EncodedStreamParams describes a new encoded stream
type EncodedStreamParams struct {
	URI        string
	MetaText   string
	TotalBytes uint64
	StartPos   uint64
	StreamID   uint32
	Seekable   bool
	Live       bool
	Handler    StreamHandler
	PCM        *PcmStreamInfo
}

func (f *Factory) CreateEncodedStream(p EncodedStreamParams) (*EncodedStream, error) {
	m, err := f.encodedStream.get()
	if err != nil {
		return nil, err
	}
	m.URI, m.MetaText = p.URI, p.MetaText
	m.TotalBytes, m.StartPos, m.StreamID = p.TotalBytes, p.StartPos, p.StreamID
	m.Seekable, m.Live = p.Seekable, p.Live
	m.Handler, m.PCM = p.Handler, p.PCM
	return m, nil
}

// CreateAudioEncoded copies data into a new message
func (f *Factory) CreateAudioEncoded(data []byte) (*AudioEncoded, error) {
	m, err := f.audioEncoded.get()
	if err != nil {
		return nil, err
	}
	m.factory = f
	m.data = append([]byte(nil), data...)
	return m, nil
}

func (f *Factory) CreateMetaText(text string) (*MetaText, error) {
	m, err := f.metaText.get()
	if err != nil {
		return nil, err
	}
	m.Text = text
	return m, nil
}

func (f *Factory) CreateDecodedStream(info DecodedStreamInfo, handler StreamHandler) (*DecodedStream, error) {
	m, err := f.decodedStream.get()
	if err != nil {
		return nil, err
	}
	m.Info, m.Handler = info, handler
	return m, nil
}

// CreateAudioPcm wraps interleaved samples. The message takes ownership of
// samples; len(samples) must be a whole number of frames.
func (f *Factory) CreateAudioPcm(samples []int32, channels, sampleRate, bitDepth int, trackOffset uint64) (*AudioPcm, error) {
	if channels <= 0 || len(samples)%channels != 0 || len(samples) == 0 {
		panic(fmt.Sprintf("msg: %d samples is not a whole number of %d-channel frames", len(samples), channels))
	}
	jiffies := SamplesToJiffies(uint64(len(samples)/channels), sampleRate)
	m, err := f.audioPcm.get()
	if err != nil {
		return nil, err
	}
	m.factory = f
	m.pcmFormat = pcmFormat{sampleRate: sampleRate, channels: channels, bitDepth: bitDepth}
	m.samples = samples
	m.jiffies = jiffies
	m.trackOffset = trackOffset
	m.attenuation = AttenuationUnity
	return m, nil
}

// CreateSilence makes a gap of jiffies rounded down to a sample, at least one sample long
func (f *Factory) CreateSilence(jiffies uint64, sampleRate, channels, bitDepth int) (*Silence, error) {
	jiffies = AlignToSample(jiffies, sampleRate)
	if jiffies == 0 {
		jiffies = JiffiesPerSample(sampleRate)
	}
	m, err := f.silence.get()
	if err != nil {
		return nil, err
	}
	m.factory = f
	m.pcmFormat = pcmFormat{sampleRate: sampleRate, channels: channels, bitDepth: bitDepth}
	m.jiffies = jiffies
	return m, nil
}

func (f *Factory) CreateHalt(id uint32) (*Halt, error) {
	m, err := f.halt.get()
	if err != nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

func (f *Factory) CreateFlush(id uint32) (*Flush, error) {
	m, err := f.flush.get()
	if err != nil {
		return nil, err
	}
	m.ID = id
	return m, nil
}

func (f *Factory) CreateWait() (*Wait, error) {
	return f.wait.get()
}

// CreateDrain makes a drain marker whose callback runs once the output has played everything before it
func (f *Factory) CreateDrain(id uint32, callback func()) (*Drain, error) {
	m, err := f.drain.get()
	if err != nil {
		return nil, err
	}
	m.ID, m.callback = id, callback
	return m, nil
}

func (f *Factory) CreateDelay(jiffies uint64) (*Delay, error) {
	m, err := f.delay.get()
	if err != nil {
		return nil, err
	}
	m.Jiffies = jiffies
	return m, nil
}

func (f *Factory) CreateChangeInput(callback func()) (*ChangeInput, error) {
	m, err := f.changeInput.get()
	if err != nil {
		return nil, err
	}
	m.callback = callback
	return m, nil
}

func (f *Factory) CreateQuit() (*Quit, error) {
	return f.quit.get()
}

func (f *Factory) CreateStreamInterrupted() (*StreamInterrupted, error) {
	return f.streamInterrupted.get()
}
