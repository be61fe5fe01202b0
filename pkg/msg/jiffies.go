// ABOUTME: Jiffy time unit shared by every pipeline element
// ABOUTME: Converts between jiffies, samples and milliseconds for supported rates
package msg

import "fmt"

const (
	// JiffiesPerSecond is divisible by every supported sample rate
	JiffiesPerSecond = 56448000
	// JiffiesPerMs is the number of jiffies in one millisecond
	JiffiesPerMs = JiffiesPerSecond / 1000
)

var supportedRates = [...]int{
	7350, 8000, 11025, 12000, 14700, 16000, 22050, 24000,
	29400, 32000, 44100, 48000, 88200, 96000, 176400, 192000,
}

// IsSupportedSampleRate reports whether rate divides JiffiesPerSecond
func IsSupportedSampleRate(rate int) bool {
	for _, r := range supportedRates {
		if r == rate {
			return true
		}
	}
	return false
}

// JiffiesPerSample returns the jiffy length of one sample at rate.
// It panics for rates the pipeline does not support.
func JiffiesPerSample(rate int) uint64 {
	if !IsSupportedSampleRate(rate) {
		panic(fmt.Sprintf("msg: unsupported sample rate %d", rate))
	}
	return uint64(JiffiesPerSecond / rate)
}

// SamplesToJiffies converts a sample count at rate to jiffies
func SamplesToJiffies(samples uint64, rate int) uint64 {
	return samples * JiffiesPerSample(rate)
}

// JiffiesToSamples converts jiffies to whole samples at rate, rounding down
func JiffiesToSamples(jiffies uint64, rate int) uint64 {
	return jiffies / JiffiesPerSample(rate)
}

// AlignToSample rounds jiffies down to a sample boundary at rate
func AlignToSample(jiffies uint64, rate int) uint64 {
	jps := JiffiesPerSample(rate)
	return jiffies - jiffies%jps
}

// JiffiesFromMs converts milliseconds to jiffies
func JiffiesFromMs(ms uint64) uint64 {
	return ms * JiffiesPerMs
}

// JiffiesToMs converts jiffies to whole milliseconds
func JiffiesToMs(jiffies uint64) uint64 {
	return jiffies / JiffiesPerMs
}
