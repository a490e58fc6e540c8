package audio

import (
	"context"
	"time"
)

// CaptureOptions configure one capture device activation.
type CaptureOptions struct {
	// Dir is where the device writes its file. Empty means os.TempDir().
	Dir string

	// Format is the PCM layout written to the file.
	Format Format

	// BitRate is the target encoder bitrate in bits per second. Uncompressed
	// containers ignore it.
	BitRate int

	// Duration is the segment length the device is opened for.
	Duration time.Duration
}

// Recorder is a single capture device activation that produces one
// container file.
type Recorder interface {
	// Start begins capturing.
	Start(ctx context.Context) error

	// Stop ends capture, finalizes the container and returns the file path.
	// It is safe to call more than once.
	Stop(ctx context.Context) (string, error)

	// Path returns the file location, available as soon as the device is
	// prepared.
	Path() string
}

// RecorderFactory prepares capture devices. At most one device prepared by a
// factory may be recording at a time.
type RecorderFactory interface {
	Prepare(ctx context.Context, opts CaptureOptions) (Recorder, error)
}
