// Package wavcapture is a file-backed capture device: it copies PCM frames
// from an [audio.Source] into a temporary 16-bit WAV file per activation.
//
// A [Factory] owns the source and forwards frames to whichever [Recorder] is
// currently started; frames arriving while no recorder is started are
// dropped.
package wavcapture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/lumen-devotional/lumen/pkg/audio"
)

// ErrBusy is returned by Start while another recorder of the same factory is
// capturing.
var ErrBusy = errors.New("wavcapture: another recorder is active")

// headerSize is the size of the canonical PCM WAV header written by
// [writeHeader].
const headerSize = 44

// Factory implements [audio.RecorderFactory] on top of a frame source.
type Factory struct {
	src audio.Source

	mu     sync.Mutex
	active *Recorder
}

var _ audio.RecorderFactory = (*Factory)(nil)

// NewFactory returns a factory reading frames from src. Call [Factory.Run]
// to start pumping.
func NewFactory(src audio.Source) *Factory {
	return &Factory{src: src}
}

// Run forwards frames to the active recorder until the source closes or ctx
// is done.
func (f *Factory) Run(ctx context.Context) error {
	frames := f.src.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok := <-frames:
			if !ok {
				return nil
			}
			f.mu.Lock()
			r := f.active
			f.mu.Unlock()
			if r != nil {
				r.write(fr)
			}
		}
	}
}

// Prepare implements [audio.RecorderFactory]. Only 16-bit output is
// supported.
func (f *Factory) Prepare(_ context.Context, opts audio.CaptureOptions) (audio.Recorder, error) {
	if opts.Format.BitDepth != 0 && opts.Format.BitDepth != 16 {
		return nil, fmt.Errorf("wavcapture: unsupported bit depth %d", opts.Format.BitDepth)
	}
	if opts.Format.SampleRate <= 0 || opts.Format.Channels <= 0 {
		return nil, fmt.Errorf("wavcapture: invalid format %s", opts.Format)
	}
	opts.Format.BitDepth = 16

	file, err := os.CreateTemp(opts.Dir, "lumen-chunk-*.wav")
	if err != nil {
		return nil, fmt.Errorf("wavcapture: create file: %w", err)
	}
	if err := writeHeader(file, opts.Format, 0); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("wavcapture: write header: %w", err)
	}
	return &Recorder{
		factory: f,
		file:    file,
		path:    file.Name(),
		conv:    audio.Converter{Target: opts.Format},
	}, nil
}

// Recorder is one WAV file being captured.
type Recorder struct {
	factory *Factory
	path    string
	conv    audio.Converter

	mu       sync.Mutex
	file     *os.File
	written  int64
	started  bool
	stopped  bool
	writeErr error
}

var _ audio.Recorder = (*Recorder)(nil)

// Path implements [audio.Recorder].
func (r *Recorder) Path() string { return r.path }

// Start implements [audio.Recorder].
func (r *Recorder) Start(context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return errors.New("wavcapture: recorder already stopped")
	}
	r.started = true
	r.mu.Unlock()

	f := r.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active != nil && f.active != r {
		return ErrBusy
	}
	f.active = r
	return nil
}

// Stop implements [audio.Recorder]. It patches the RIFF and data sizes and
// closes the file.
func (r *Recorder) Stop(context.Context) (string, error) {
	f := r.factory
	f.mu.Lock()
	if f.active == r {
		f.active = nil
	}
	f.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return r.path, nil
	}
	r.stopped = true

	var errs []error
	if r.writeErr != nil {
		errs = append(errs, r.writeErr)
	}
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		errs = append(errs, err)
	} else if err := writeHeader(r.file, r.conv.Target, r.written); err != nil {
		errs = append(errs, err)
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return r.path, fmt.Errorf("wavcapture: finalize %s: %w", r.path, err)
	}
	return r.path, nil
}

func (r *Recorder) write(fr audio.Frame) {
	data := r.conv.Convert(fr).Data

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.stopped || r.writeErr != nil {
		return
	}
	n, err := r.file.Write(data)
	r.written += int64(n)
	if err != nil {
		r.writeErr = err
		slog.Warn("wavcapture: write failed", "path", r.path, "err", err)
	}
}

// writeHeader writes a canonical 44-byte PCM WAV header for dataLen bytes of
// samples.
func writeHeader(w io.Writer, f audio.Format, dataLen int64) error {
	blockAlign := f.BlockAlign()
	var buf bytes.Buffer
	buf.Grow(headerSize)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))                      // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))                       // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))              // channels
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))            // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(f.BytesPerSecond()))      // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))              // block align
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign/f.Channels*8)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))

	_, err := w.Write(buf.Bytes())
	return err
}
