// Package wssink streams raw audio chunks to a WebSocket endpoint, one binary
// message per chunk.
package wssink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/lumen-devotional/lumen/pkg/stream"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("wssink: closed")

// Compile-time interface assertion.
var _ stream.Sink = (*Sink)(nil)

// Option configures a [Sink].
type Option func(*options)

type options struct {
	header http.Header
	client *http.Client
}

// WithBearerToken sets an Authorization header on the upgrade request.
func WithBearerToken(token string) Option {
	return func(o *options) {
		if token != "" {
			o.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHeader adds a header to the upgrade request.
func WithHeader(key, value string) Option {
	return func(o *options) { o.header.Add(key, value) }
}

// WithHTTPClient overrides the client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// Sink is a [stream.Sink] backed by a single WebSocket connection.
type Sink struct {
	conn   *websocket.Conn
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Dial connects to url and returns a ready [Sink]. The connection lives until
// Close; ctx only bounds the handshake.
func Dial(ctx context.Context, url string, opts ...Option) (*Sink, error) {
	o := options{header: http.Header{}}
	for _, opt := range opts {
		opt(&o)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: o.header,
		HTTPClient: o.client,
	})
	if err != nil {
		return nil, fmt.Errorf("wssink: dial: %w", err)
	}

	// The sink never reads; CloseRead keeps control frames flowing and
	// cancels readCtx when the peer goes away.
	readCtx, cancel := context.WithCancel(context.Background())
	conn.CloseRead(readCtx)

	return &Sink{conn: conn, cancel: cancel}, nil
}

// Send writes chunk as one binary message.
func (s *Sink) Send(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("wssink: write: %w", err)
	}
	return nil
}

// Close performs a normal closure handshake. It is safe to call more than
// once.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	defer s.cancel()
	if err := s.conn.Close(websocket.StatusNormalClosure, "stream finished"); err != nil {
		return fmt.Errorf("wssink: close: %w", err)
	}
	return nil
}
