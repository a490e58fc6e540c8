// Package config provides the configuration schema, loader, watcher and
// transport registry for the Lumen voice core.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Voice     VoiceConfig     `yaml:"voice"`
	Room      RoomConfig      `yaml:"room"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the health and metrics server
	// (e.g. ":8080"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// BackendConfig points at the credential backend.
type BackendConfig struct {
	// BaseURLs lists backend addresses in failover order. At least one is
	// required.
	BaseURLs []string `yaml:"base_urls"`

	// APIKey is sent as a bearer token. May be left empty and supplied via
	// the LUMEN_API_KEY environment variable instead.
	APIKey string `yaml:"api_key"`

	// Timeout bounds each HTTP request. Default: 15s.
	Timeout time.Duration `yaml:"timeout"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the per-backend breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive-failure threshold. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long a tripped breaker stays open. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// VoiceConfig configures the conversation controller.
type VoiceConfig struct {
	// ServerURL is the media server used when the backend does not name one.
	ServerURL string `yaml:"server_url"`

	// DisplayName is shown to other participants. Default: "Guest".
	DisplayName string `yaml:"display_name"`

	// DurationMinutes bounds the token validity. Default: 30.
	DurationMinutes int `yaml:"duration_minutes"`

	// AgentIdentityPrefix identifies agent participants. Default: "agent-".
	AgentIdentityPrefix string `yaml:"agent_identity_prefix"`

	// ChatTopic is the data topic for text messages.
	ChatTopic string `yaml:"chat_topic"`
}

// RoomConfig configures the media room transport and local capture.
type RoomConfig struct {
	// Transport selects a registered room transport. Default: "livekit".
	Transport string `yaml:"transport"`

	// Capture-quality flags. Nil means enabled.
	AdaptiveStream   *bool `yaml:"adaptive_stream"`
	EchoCancellation *bool `yaml:"echo_cancellation"`
	NoiseSuppression *bool `yaml:"noise_suppression"`
	AutoGainControl  *bool `yaml:"auto_gain_control"`

	// SampleRate and Channels describe the raw PCM fed to the microphone.
	// Defaults: 48000 / 1.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// ChunkerConfig configures the raw-audio chunker. Fields are hot-reloadable.
type ChunkerConfig struct {
	// ChunkDuration is the length of each recorded segment. Default: 1s.
	ChunkDuration time.Duration `yaml:"chunk_duration"`

	// SampleRate, Channels and BitDepth describe the captured PCM.
	// Defaults: 16000 / 1 / 16.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`

	// BitRate is the target encoder bitrate in bits per second.
	// Default: 128000.
	BitRate int `yaml:"bit_rate"`

	// TempDir holds in-flight capture files. Default: os.TempDir().
	TempDir string `yaml:"temp_dir"`

	// SinkURL is where raw chunks are streamed (e.g. "ws://host/ingest").
	SinkURL string `yaml:"sink_url"`
}

// HistoryConfig configures the conversation history store.
type HistoryConfig struct {
	// PostgresDSN selects the PostgreSQL store. Empty keeps history in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is the reported service name. Default: "lumen".
	ServiceName string `yaml:"service_name"`
}

// Bool dereferences an optional flag, treating nil as true.
func Bool(b *bool) bool {
	return b == nil || *b
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 15 * time.Second
	}
	if c.Backend.CircuitBreaker.MaxFailures == 0 {
		c.Backend.CircuitBreaker.MaxFailures = 5
	}
	if c.Backend.CircuitBreaker.ResetTimeout == 0 {
		c.Backend.CircuitBreaker.ResetTimeout = 30 * time.Second
	}
	if c.Voice.DisplayName == "" {
		c.Voice.DisplayName = "Guest"
	}
	if c.Voice.DurationMinutes == 0 {
		c.Voice.DurationMinutes = 30
	}
	if c.Voice.AgentIdentityPrefix == "" {
		c.Voice.AgentIdentityPrefix = "agent-"
	}
	if c.Room.Transport == "" {
		c.Room.Transport = "livekit"
	}
	if c.Room.SampleRate == 0 {
		c.Room.SampleRate = 48000
	}
	if c.Room.Channels == 0 {
		c.Room.Channels = 1
	}
	if c.Chunker.ChunkDuration == 0 {
		c.Chunker.ChunkDuration = time.Second
	}
	if c.Chunker.SampleRate == 0 {
		c.Chunker.SampleRate = 16000
	}
	if c.Chunker.Channels == 0 {
		c.Chunker.Channels = 1
	}
	if c.Chunker.BitDepth == 0 {
		c.Chunker.BitDepth = 16
	}
	if c.Chunker.BitRate == 0 {
		c.Chunker.BitRate = 128000
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "lumen"
	}
}
