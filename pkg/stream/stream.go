// Package stream defines destinations for raw audio chunks produced by the
// chunker. Adapters live in sub-packages (stream/wssink).
package stream

import "context"

// Sink receives raw PCM chunks in order.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Send delivers one chunk. The sink must not retain chunk after return.
	Send(ctx context.Context, chunk []byte) error

	// Close flushes and releases the sink. Further Sends fail.
	Close() error
}
