package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Int16sToBytes encodes int16 samples as little-endian bytes.
func Int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// BytesToInt16s decodes little-endian bytes into int16 samples. A trailing
// odd byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// Resample converts interleaved 16-bit PCM with the given channel count from
// srcRate to dstRate using linear interpolation. The input is returned
// unchanged when the rates match or are invalid.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	in := BytesToInt16s(pcm)
	srcFrames := len(in) / channels
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(in[idx*channels+ch])
			s1 := float64(in[next*channels+ch])
			out[i*channels+ch] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return Int16sToBytes(out)
}

// Remix converts interleaved 16-bit PCM from src channels to dst channels.
// Down-mixing to mono averages all channels; up-mixing from mono duplicates
// the sample. Other combinations return the input unchanged.
func Remix(pcm []byte, src, dst int) []byte {
	if src == dst || src <= 0 || dst <= 0 {
		return pcm
	}
	in := BytesToInt16s(pcm)
	frames := len(in) / src

	switch {
	case dst == 1:
		out := make([]int16, frames)
		for i := range frames {
			var sum int32
			for ch := range src {
				sum += int32(in[i*src+ch])
			}
			out[i] = clamp16(sum / int32(src))
		}
		return Int16sToBytes(out)
	case src == 1:
		out := make([]int16, frames*dst)
		for i := range frames {
			for ch := range dst {
				out[i*dst+ch] = in[i]
			}
		}
		return Int16sToBytes(out)
	default:
		return pcm
	}
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Converter adapts frames to a fixed target [Format]. It logs once on the
// first format mismatch and once on the first misaligned frame.
// Create one per stream.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnOdd      sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned as-is. Misaligned frames (odd byte count) are dropped
// and an empty frame is returned.
func (c *Converter) Convert(frame Frame) Frame {
	if len(frame.Data)%2 != 0 {
		c.warnOdd.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnMismatch.Do(func() {
		slog.Debug("audio converter: converting stream",
			"from", Format{SampleRate: frame.SampleRate, Channels: frame.Channels}.String(),
			"to", c.Target.String(),
		)
	})

	pcm := frame.Data
	channels := frame.Channels
	// Down-mix before resampling so fewer channels are interpolated.
	if c.Target.Channels < channels {
		pcm = Remix(pcm, channels, c.Target.Channels)
		channels = c.Target.Channels
	}
	pcm = Resample(pcm, channels, frame.SampleRate, c.Target.SampleRate)
	if c.Target.Channels > channels {
		pcm = Remix(pcm, channels, c.Target.Channels)
		channels = c.Target.Channels
	}
	return Frame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}
