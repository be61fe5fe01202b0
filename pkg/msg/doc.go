// ABOUTME: Pipeline message package documentation
// ABOUTME: Describes message kinds, jiffies, ramps and pooled allocation
// Package msg defines the messages that flow through the audio pipeline.
//
// Messages are either control markers (Mode, Track, EncodedStream, Halt, Flush,
// Drain, Delay, Quit, ...) or audio (AudioEncoded, AudioPcm, Silence, Playable).
// Every message is reference counted and allocated from a fixed-capacity pool
// owned by a Factory. When the last reference is removed the message returns
// to its pool; allocating from an empty pool fails with ErrPoolExhausted.
//
// Audio durations are measured in jiffies, a time unit that every supported
// sample rate divides exactly:
//
//	f := msg.NewFactory(msg.DefaultFactoryConfig())
//	pcm, err := f.CreateAudioPcm(samples, 2, 44100, 16, 0)
//	secs := pcm.Jiffies() / msg.JiffiesPerSecond
//	pcm.RemoveRef()
package msg
