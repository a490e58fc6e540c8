package audio_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/lumen-devotional/lumen/pkg/audio"
)

func TestInt16RoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := audio.BytesToInt16s(audio.Int16sToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("length: got %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], in[i])
		}
	}
}

func TestRemix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		src, dst int
		want     []int16
	}{
		{"mono to stereo", []int16{100, 200}, 1, 2, []int16{100, 100, 200, 200}},
		{"stereo to mono", []int16{100, 200, -100, -200}, 2, 1, []int16{150, -150}},
		{"stereo to mono clamps", []int16{32767, 32767}, 2, 1, []int16{32767}},
		{"same layout", []int16{1, 2, 3}, 1, 1, []int16{1, 2, 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := audio.BytesToInt16s(audio.Remix(audio.Int16sToBytes(tc.in), tc.src, tc.dst))
			if len(got) != len(tc.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d: got %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("same rate is identity", func(t *testing.T) {
		pcm := audio.Int16sToBytes([]int16{1, 2, 3})
		if got := audio.Resample(pcm, 1, 16000, 16000); !bytes.Equal(got, pcm) {
			t.Error("expected unchanged PCM")
		}
	})

	t.Run("upsample doubles frame count", func(t *testing.T) {
		pcm := audio.Int16sToBytes([]int16{0, 100, 200, 300})
		got := audio.BytesToInt16s(audio.Resample(pcm, 1, 8000, 16000))
		if len(got) != 8 {
			t.Fatalf("got %d samples, want 8", len(got))
		}
		if got[1] != 50 {
			t.Errorf("interpolated sample = %d, want 50", got[1])
		}
	})

	t.Run("stereo downsample keeps channels interleaved", func(t *testing.T) {
		pcm := audio.Int16sToBytes([]int16{10, -10, 20, -20, 30, -30, 40, -40})
		got := audio.BytesToInt16s(audio.Resample(pcm, 2, 48000, 24000))
		if len(got) != 4 {
			t.Fatalf("got %d samples, want 4", len(got))
		}
		if got[0] != 10 || got[1] != -10 || got[2] != 30 || got[3] != -30 {
			t.Errorf("got %v", got)
		}
	})

	t.Run("invalid rate is identity", func(t *testing.T) {
		pcm := audio.Int16sToBytes([]int16{1, 2})
		if got := audio.Resample(pcm, 1, 0, 16000); !bytes.Equal(got, pcm) {
			t.Error("expected unchanged PCM")
		}
	})
}

func TestConverter(t *testing.T) {
	t.Parallel()

	t.Run("matching format passes through", func(t *testing.T) {
		c := audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
		in := audio.Frame{Data: []byte{1, 0, 2, 0}, SampleRate: 48000, Channels: 1}
		out := c.Convert(in)
		if !bytes.Equal(out.Data, in.Data) {
			t.Error("expected identical data")
		}
	})

	t.Run("mono 24k to stereo 48k", func(t *testing.T) {
		c := audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		in := audio.Frame{Data: audio.Int16sToBytes([]int16{100, 200}), SampleRate: 24000, Channels: 1}
		out := c.Convert(in)
		if out.SampleRate != 48000 || out.Channels != 2 {
			t.Fatalf("format = %d/%d, want 48000/2", out.SampleRate, out.Channels)
		}
		if n := len(audio.BytesToInt16s(out.Data)); n != 8 {
			t.Errorf("got %d samples, want 8", n)
		}
	})

	t.Run("odd byte count drops frame", func(t *testing.T) {
		c := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		out := c.Convert(audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
		if len(out.Data) != 0 {
			t.Errorf("expected empty frame, got %d bytes", len(out.Data))
		}
	})
}

func TestFormat(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	if got := f.BytesPerSecond(); got != 32000 {
		t.Errorf("BytesPerSecond = %d, want 32000", got)
	}
	if got := f.FrameBytes(20 * time.Millisecond); got != 640 {
		t.Errorf("FrameBytes(20ms) = %d, want 640", got)
	}
	if got := f.String(); got != "16000Hz mono s16" {
		t.Errorf("String = %q", got)
	}
}

func TestReaderSource(t *testing.T) {
	t.Parallel()

	format := audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}
	// 50ms of audio -> two full 20ms frames plus a 10ms tail.
	pcm := make([]byte, format.FrameBytes(50*time.Millisecond))
	src := audio.NewReaderSource(bytes.NewReader(pcm), format)

	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(context.Background()) }()

	var sizes []int
	for f := range src.Frames() {
		sizes = append(sizes, len(f.Data))
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{640, 640, 320}
	if len(sizes) != len(want) {
		t.Fatalf("got frames %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("frame %d: got %d bytes, want %d", i, sizes[i], want[i])
		}
	}
}

func TestNopSession(t *testing.T) {
	t.Parallel()
	s := &audio.NopSession{}
	ctx := context.Background()
	if err := s.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !s.Active() {
		t.Error("expected active after Activate")
	}
	_ = s.SetMode(ctx, audio.ModeRecording)
	if s.Mode() != audio.ModeRecording {
		t.Errorf("Mode = %v, want recording", s.Mode())
	}
	_ = s.Deactivate(ctx)
	if s.Active() {
		t.Error("expected inactive after Deactivate")
	}
}
