package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/lumen-devotional/lumen/pkg/room"
	"github.com/lumen-devotional/lumen/pkg/stream"
)

// ErrNotRegistered is returned by the Create methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// RoomFactory builds a room transport from the room and voice sections.
type RoomFactory func(RoomConfig, VoiceConfig) (room.Dialer, error)

// SinkFactory opens a chunk sink for a URL whose scheme it was registered
// under.
type SinkFactory func(ctx context.Context, u *url.URL) (stream.Sink, error)

// Registry maps transport names and sink URL schemes to constructors so that
// cmd/lumen can choose implementations from config. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]RoomFactory
	sinks map[string]SinkFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]RoomFactory),
		sinks: make(map[string]SinkFactory),
	}
}

// RegisterRoom registers a room transport under name, replacing any previous
// registration.
func (r *Registry) RegisterRoom(name string, factory RoomFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[name] = factory
}

// RegisterSink registers a sink factory for each given URL scheme.
func (r *Registry) RegisterSink(factory SinkFactory, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemes {
		r.sinks[s] = factory
	}
}

// CreateRoom builds the transport named by cfg.Room.Transport.
func (r *Registry) CreateRoom(cfg *Config) (room.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.rooms[cfg.Room.Transport]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: room/%q", ErrNotRegistered, cfg.Room.Transport)
	}
	return factory(cfg.Room, cfg.Voice)
}

// CreateSink opens the sink addressed by rawURL.
func (r *Registry) CreateSink(ctx context.Context, rawURL string) (stream.Sink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("config: parse sink url: %w", err)
	}
	r.mu.RLock()
	factory, ok := r.sinks[u.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrNotRegistered, u.Scheme)
	}
	return factory(ctx, u)
}
