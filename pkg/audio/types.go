// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats and sample conversions to and from the 24-bit range
package audio

import (
	"encoding/binary"
	"fmt"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes a decoded PCM stream
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dHz/%dbit/%dch", f.Codec, f.SampleRate, f.BitDepth, f.Channels)
}

// FrameBytes returns the size of one interleaved frame of packed samples
func (f Format) FrameBytes() int {
	return f.Channels * ((f.BitDepth + 7) / 8)
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// sign extend
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

// Unpack converts packed PCM bytes into samples in the 24-bit range.
// Trailing bytes that do not make a whole sample are ignored.
func Unpack(data []byte, bitDepth int, bigEndian bool) ([]int32, error) {
	switch bitDepth {
	case 8:
		samples := make([]int32, len(data))
		for i, b := range data {
			// 8-bit PCM is unsigned
			samples[i] = (int32(b) - 128) << 16
		}
		return samples, nil
	case 16:
		samples := make([]int32, len(data)/2)
		for i := range samples {
			var v uint16
			if bigEndian {
				v = binary.BigEndian.Uint16(data[i*2:])
			} else {
				v = binary.LittleEndian.Uint16(data[i*2:])
			}
			samples[i] = SampleFromInt16(int16(v))
		}
		return samples, nil
	case 24:
		samples := make([]int32, len(data)/3)
		for i := range samples {
			b := [3]byte{data[i*3], data[i*3+1], data[i*3+2]}
			if bigEndian {
				b[0], b[2] = b[2], b[0]
			}
			samples[i] = SampleFrom24Bit(b)
		}
		return samples, nil
	case 32:
		samples := make([]int32, len(data)/4)
		for i := range samples {
			var v uint32
			if bigEndian {
				v = binary.BigEndian.Uint32(data[i*4:])
			} else {
				v = binary.LittleEndian.Uint32(data[i*4:])
			}
			samples[i] = int32(v) >> 8
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 8, 16, 24, 32)", bitDepth)
	}
}

// PackInt16LE writes samples as little-endian 16-bit PCM, growing dst as needed
func PackInt16LE(dst []byte, samples []int32) []byte {
	need := len(samples) * 2
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(SampleToInt16(s)))
	}
	return dst
}
