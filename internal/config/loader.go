package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvAPIKey overrides backend.api_key when set.
const EnvAPIKey = "LUMEN_API_KEY"

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment override, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if key := os.Getenv(EnvAPIKey); key != "" {
		cfg.Backend.APIKey = key
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if len(cfg.Backend.BaseURLs) == 0 {
		errs = append(errs, errors.New("backend.base_urls requires at least one URL"))
	}
	seen := make(map[string]int, len(cfg.Backend.BaseURLs))
	for i, raw := range cfg.Backend.BaseURLs {
		prefix := fmt.Sprintf("backend.base_urls[%d]", i)
		if err := validateURL(raw, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if prev, ok := seen[raw]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of backend.base_urls[%d]", prefix, raw, prev))
		}
		seen[raw] = i
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout %v must not be negative", cfg.Backend.Timeout))
	}
	if cfg.Backend.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("backend.circuit_breaker.max_failures %d must not be negative", cfg.Backend.CircuitBreaker.MaxFailures))
	}
	if cfg.Backend.APIKey == "" {
		slog.Warn("backend.api_key is empty; requests will be sent unauthenticated", "env", EnvAPIKey)
	}

	if cfg.Voice.ServerURL != "" {
		if err := validateURL(cfg.Voice.ServerURL, "ws", "wss", "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("voice.server_url: %w", err))
		}
	}
	if cfg.Voice.DurationMinutes < 0 || cfg.Voice.DurationMinutes > 24*60 {
		errs = append(errs, fmt.Errorf("voice.duration_minutes %d is out of range [1, 1440]", cfg.Voice.DurationMinutes))
	}

	if cfg.Room.Channels < 0 || cfg.Room.Channels > 2 {
		errs = append(errs, fmt.Errorf("room.channels %d must be 1 or 2", cfg.Room.Channels))
	}
	if cfg.Room.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("room.sample_rate %d must not be negative", cfg.Room.SampleRate))
	}

	errs = append(errs, validateChunker(cfg.Chunker)...)

	return errors.Join(errs...)
}

func validateChunker(c ChunkerConfig) []error {
	var errs []error
	if c.ChunkDuration != 0 && c.ChunkDuration < 50*time.Millisecond {
		errs = append(errs, fmt.Errorf("chunker.chunk_duration %v is below the 50ms minimum", c.ChunkDuration))
	}
	if c.SampleRate != 0 && (c.SampleRate < 8000 || c.SampleRate > 192000) {
		errs = append(errs, fmt.Errorf("chunker.sample_rate %d is out of range [8000, 192000]", c.SampleRate))
	}
	if c.Channels < 0 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("chunker.channels %d must be 1 or 2", c.Channels))
	}
	switch c.BitDepth {
	case 0, 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("chunker.bit_depth %d is invalid; valid values: 8, 16, 24, 32", c.BitDepth))
	}
	if c.BitRate < 0 {
		errs = append(errs, fmt.Errorf("chunker.bit_rate %d must not be negative", c.BitRate))
	}
	if c.SinkURL != "" {
		if err := validateURL(c.SinkURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("chunker.sink_url: %w", err))
		}
	}
	return errs
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%q has unsupported scheme %q; valid schemes: %v", raw, u.Scheme, schemes)
}
