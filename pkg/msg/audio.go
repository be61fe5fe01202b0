// ABOUTME: Audio-carrying messages: encoded bytes, decoded PCM, silence, playable
// ABOUTME: Implements split, clone, ramp and conversion to playable output
package msg

import "fmt"

// Audio is implemented by decoded audio messages that have a duration and
// can be ramped.
type Audio interface {
	Msg
	Jiffies() uint64
	Ramp() Ramp
	// SetRamp composes a ramp starting at start over this message. remaining
	// is the jiffies left in the whole ramp. It returns the gain reached at
	// the end of the message and, when ramps crossed, the split-off tail
	// which the caller must forward after this message.
	SetRamp(start uint32, remaining uint64, direction RampDirection) (uint32, Audio)
	// Split cuts the message at pos jiffies, rounded down to a sample, and
	// returns the tail. It panics for pos of zero or at or beyond the end.
	Split(pos uint64) Audio
	Clone() Audio
	SampleRate() int
	Channels() int
	BitDepth() int
}

// AudioEncoded holds bytes that have not been decoded yet
type AudioEncoded struct {
	refCounted
	data    []byte
	factory *Factory
}

func (m *AudioEncoded) Kind() Kind { return KindAudioEncoded }
func (m *AudioEncoded) clear()     { m.data = nil }

// Bytes returns the payload size
func (m *AudioEncoded) Bytes() int { return len(m.data) }

// Data returns the payload. Callers must not modify it.
func (m *AudioEncoded) Data() []byte { return m.data }

// Split cuts the payload after n bytes and returns the tail
func (m *AudioEncoded) Split(n int) *AudioEncoded {
	if n <= 0 || n >= len(m.data) {
		panic(fmt.Sprintf("msg: invalid encoded split %d of %d bytes", n, len(m.data)))
	}
	tail := Must(m.factory.audioEncoded.get())
	tail.factory = m.factory
	tail.data = m.data[n:]
	m.data = m.data[:n:n]
	return tail
}

// Clone returns a new message sharing the payload
func (m *AudioEncoded) Clone() *AudioEncoded {
	c := Must(m.factory.audioEncoded.get())
	c.factory = m.factory
	c.data = m.data
	return c
}

type pcmFormat struct {
	sampleRate int
	channels   int
	bitDepth   int
}

func (f pcmFormat) SampleRate() int { return f.sampleRate }
func (f pcmFormat) Channels() int   { return f.channels }
func (f pcmFormat) BitDepth() int   { return f.bitDepth }

// AudioPcm holds decoded samples, interleaved, scaled to the 24-bit range
type AudioPcm struct {
	refCounted
	pcmFormat
	samples     []int32
	jiffies     uint64
	trackOffset uint64
	ramp        Ramp
	attenuation uint32
	factory     *Factory
}

// AttenuationUnity leaves samples unchanged
const AttenuationUnity uint32 = 256

func (m *AudioPcm) Kind() Kind { return KindAudioPcm }
func (m *AudioPcm) clear() {
	m.pcmFormat = pcmFormat{}
	m.samples, m.jiffies, m.trackOffset = nil, 0, 0
	m.ramp.Reset()
	m.attenuation = AttenuationUnity
}

func (m *AudioPcm) Jiffies() uint64 { return m.jiffies }
func (m *AudioPcm) Ramp() Ramp      { return m.ramp }

// TrackOffset is the jiffy position of the first sample within its track
func (m *AudioPcm) TrackOffset() uint64 { return m.trackOffset }

// Samples returns the raw, unramped samples. Callers must not modify them.
func (m *AudioPcm) Samples() []int32 { return m.samples }

// SetAttenuation scales the output by a/AttenuationUnity when played
func (m *AudioPcm) SetAttenuation(a uint32) { m.attenuation = a }

func (m *AudioPcm) SetRamp(start uint32, remaining uint64, direction RampDirection) (uint32, Audio) {
	return setRamp(m, &m.ramp, start, remaining, direction)
}

func (m *AudioPcm) Split(pos uint64) Audio {
	frames, ok := splitFrames(pos, m.jiffies, m.sampleRate)
	if !ok {
		return nil
	}
	tail := Must(m.factory.audioPcm.get())
	tail.factory = m.factory
	tail.pcmFormat = m.pcmFormat
	tail.attenuation = m.attenuation
	cut := frames * m.channels
	tail.samples = m.samples[cut:]
	m.samples = m.samples[:cut:cut]
	head := SamplesToJiffies(uint64(frames), m.sampleRate)
	tail.jiffies = m.jiffies - head
	tail.trackOffset = m.trackOffset + head
	tail.ramp = m.ramp.Split(head, m.jiffies)
	m.jiffies = head
	return tail
}

func (m *AudioPcm) Clone() Audio {
	c := Must(m.factory.audioPcm.get())
	c.factory = m.factory
	c.pcmFormat = m.pcmFormat
	c.samples = m.samples
	c.jiffies = m.jiffies
	c.trackOffset = m.trackOffset
	c.ramp = m.ramp
	c.attenuation = m.attenuation
	return c
}

// CreatePlayable applies ramp and attenuation and releases m
func (m *AudioPcm) CreatePlayable() *Playable {
	p := Must(m.factory.playable.get())
	p.pcmFormat = m.pcmFormat
	p.jiffies = m.jiffies
	out := make([]int32, len(m.samples))
	copy(out, m.samples)
	m.ramp.Apply(out, m.channels)
	if m.attenuation != AttenuationUnity {
		for i, s := range out {
			out[i] = int32(int64(s) * int64(m.attenuation) / int64(AttenuationUnity))
		}
	}
	p.samples = out
	m.RemoveRef()
	return p
}

// Silence is a gap of a given duration in a known format
type Silence struct {
	refCounted
	pcmFormat
	jiffies uint64
	ramp    Ramp
	factory *Factory
}

func (m *Silence) Kind() Kind { return KindSilence }
func (m *Silence) clear() {
	m.pcmFormat = pcmFormat{}
	m.jiffies = 0
	m.ramp.Reset()
}

func (m *Silence) Jiffies() uint64 { return m.jiffies }
func (m *Silence) Ramp() Ramp      { return m.ramp }

func (m *Silence) SetRamp(start uint32, remaining uint64, direction RampDirection) (uint32, Audio) {
	return setRamp(m, &m.ramp, start, remaining, direction)
}

func (m *Silence) Split(pos uint64) Audio {
	frames, ok := splitFrames(pos, m.jiffies, m.sampleRate)
	if !ok {
		return nil
	}
	head := SamplesToJiffies(uint64(frames), m.sampleRate)
	tail := Must(m.factory.silence.get())
	tail.factory = m.factory
	tail.pcmFormat = m.pcmFormat
	tail.jiffies = m.jiffies - head
	tail.ramp = m.ramp.Split(head, m.jiffies)
	m.jiffies = head
	return tail
}

func (m *Silence) Clone() Audio {
	c := Must(m.factory.silence.get())
	c.factory = m.factory
	c.pcmFormat = m.pcmFormat
	c.jiffies = m.jiffies
	c.ramp = m.ramp
	return c
}

// CreatePlayable converts the silence to zeroed samples and releases m
func (m *Silence) CreatePlayable() *Playable {
	p := Must(m.factory.playable.get())
	p.pcmFormat = m.pcmFormat
	p.jiffies = m.jiffies
	p.silent = true
	m.RemoveRef()
	return p
}

// Playable is audio ready for the output device
type Playable struct {
	refCounted
	pcmFormat
	samples []int32
	jiffies uint64
	silent  bool
}

func (m *Playable) Kind() Kind { return KindPlayable }
func (m *Playable) clear() {
	m.pcmFormat = pcmFormat{}
	m.samples, m.jiffies, m.silent = nil, 0, false
}

func (m *Playable) Jiffies() uint64 { return m.jiffies }

// IsSilent reports whether the playable came from silence
func (m *Playable) IsSilent() bool { return m.silent }

// Samples returns interleaved output samples in the 24-bit range
func (m *Playable) Samples() []int32 {
	if m.silent {
		frames := JiffiesToSamples(m.jiffies, m.sampleRate)
		return make([]int32, int(frames)*m.channels)
	}
	return m.samples
}

func setRamp(m Audio, ramp *Ramp, start uint32, remaining uint64, direction RampDirection) (uint32, Audio) {
	size := m.Jiffies()
	fragment := size
	if remaining < fragment {
		panic(fmt.Sprintf("msg: ramp of %d jiffies shorter than message of %d", remaining, size))
	}
	splitRamp, splitPos, ok := ramp.Set(start, fragment, remaining, direction)
	if !ok {
		return ramp.End(), nil
	}
	head := *ramp
	tail := m.Split(splitPos)
	if tail == nil {
		// crossing fell inside the first sample; the tail ramp covers everything
		*ramp = Ramp{start: head.start, end: splitRamp.end, enabled: true,
			direction: directionOf(head.start, splitRamp.end, splitRamp.direction)}
		return ramp.End(), nil
	}
	*ramp = head
	switch t := tail.(type) {
	case *AudioPcm:
		t.ramp = splitRamp
	case *Silence:
		t.ramp = splitRamp
	}
	return splitRamp.End(), tail
}

// splitFrames converts a split position to whole frames of the head
func splitFrames(pos, size uint64, rate int) (int, bool) {
	if pos == 0 || pos >= size {
		panic(fmt.Sprintf("msg: invalid split at %d of %d jiffies", pos, size))
	}
	jps := JiffiesPerSample(rate)
	frames := pos / jps
	if frames == 0 || frames*jps >= size {
		return 0, false
	}
	return int(frames), true
}
