package chunker

import (
	"encoding/binary"
	"errors"
	"log/slog"
)

// ErrNoDataChunk is returned by [FindDataChunk] when the buffer has no
// "data" sub-chunk.
var ErrNoDataChunk = errors.New("chunker: no data chunk in RIFF buffer")

const (
	// riffHeaderSize covers "RIFF", the container size and "WAVE".
	riffHeaderSize = 12

	// canonicalHeaderSize is the size of a plain PCM WAV header (RIFF
	// header, 24-byte fmt chunk, data chunk header).
	canonicalHeaderSize = 44
)

// FindDataChunk walks the sub-chunks of a RIFF/WAVE buffer and returns the
// payload of the first "data" chunk. A declared length running past the end
// of the buffer is truncated to what is present. The returned slice aliases b.
func FindDataChunk(b []byte) ([]byte, error) {
	off := riffHeaderSize
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int64(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		if id == "data" {
			end := int64(body) + size
			if end > int64(len(b)) {
				end = int64(len(b))
			}
			return b[body:end], nil
		}

		// Chunks are word aligned; odd sizes carry one pad byte.
		next := int64(body) + size + size&1
		if next > int64(len(b)) {
			break
		}
		off = int(next)
	}
	return nil, ErrNoDataChunk
}

// ExtractRawPCM returns the raw samples of a WAV buffer. When no data chunk
// can be found it assumes a canonical 44-byte header and strips it; buffers
// shorter than that are returned unchanged.
func ExtractRawPCM(b []byte) []byte {
	data, err := FindDataChunk(b)
	if err == nil {
		return data
	}
	if len(b) >= canonicalHeaderSize {
		slog.Warn("chunker: data chunk not found, stripping canonical header", "bytes", len(b))
		return b[canonicalHeaderSize:]
	}
	slog.Warn("chunker: data chunk not found, buffer shorter than a header", "bytes", len(b))
	return b
}
