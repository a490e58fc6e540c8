package audio

import (
	"fmt"
	"time"
)

// Frame is a single slice of little-endian signed PCM audio flowing between
// a capture source, the room transport, and playback.
type Frame struct {
	// Data holds interleaved PCM samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Opus tracks, 16000 for capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample layout of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerSecond returns the byte rate of the format. A zero BitDepth is
// treated as 16-bit.
func (f Format) BytesPerSecond() int {
	depth := f.BitDepth
	if depth == 0 {
		depth = 16
	}
	return f.SampleRate * f.Channels * depth / 8
}

// BlockAlign returns the size in bytes of one sample frame (all channels).
func (f Format) BlockAlign() int {
	depth := f.BitDepth
	if depth == 0 {
		depth = 16
	}
	return f.Channels * depth / 8
}

// FrameBytes returns the number of bytes covering d of audio, rounded down to
// a whole sample frame.
func (f Format) FrameBytes(d time.Duration) int {
	align := f.BlockAlign()
	if align <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%align
}

// String returns a compact description like "16000Hz mono s16".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	depth := f.BitDepth
	if depth == 0 {
		depth = 16
	}
	return fmt.Sprintf("%dHz %s s%d", f.SampleRate, ch, depth)
}
