// Package audio captures, mixes and plays back PCM audio.
//
// All audio moving through this package is signed 16 bit, mono, 48kHz PCM
// split into 20ms frames. Capture devices write frames into a Stream; a Sink
// mixes the streams bound to it into a playback device; a Graph applies
// effect nodes between a source stream and its destination.
package audio

import (
	"math"
	"slices"
)

// SampleRate must be agreed everywhere.
const SampleRate = 48000

// Channels must be agreed everywhere.
const Channels = 1

// PeriodMS is the frame size in milliseconds.
const PeriodMS = 20

// FrameSamples is the number of samples in a full frame.
const FrameSamples = SampleRate / 1000 * PeriodMS * Channels

// rawFormatSampleSize is the size in bytes of a single s16 sample.
const rawFormatSampleSize = 2

// Frame is a block of PCM samples. Frames delivered through a Stream are
// shared between taps and must not be modified by receivers.
type Frame []int16

func bytesToLES16Slice(src []byte, dst []int16) []int16 {
	s16len := len(src) / 2
	dst = slices.Grow(dst, s16len)
	for i := 0; i < s16len; i++ {
		dst = append(dst, int16(src[i*2])|(int16(src[i*2+1])<<8))
	}
	return dst
}

func leS16SliceToBytes(src []int16, dst []byte) []byte {
	s8len := len(src) * 2
	dst = slices.Grow(dst, s8len)
	for i := 0; i < len(src); i++ {
		dst = append(dst, byte(src[i]), byte(src[i]>>8))
	}
	return dst
}

// clamp16 saturates v into the int16 range.
func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// clampRound16 rounds v and saturates it into the int16 range. The check runs
// on the float so large values cannot wrap during conversion.
func clampRound16(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
