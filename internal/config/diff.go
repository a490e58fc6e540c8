package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without restarting are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ChunkerChanged is true when any capture parameter changed. The new
	// values take effect on the chunker's next device open.
	ChunkerChanged bool
	NewChunker     ChunkerConfig

	// VoiceChanged is true when display name, duration or agent prefix
	// changed. Applies to the next session.
	VoiceChanged bool

	// RestartRequired lists sections whose changes need a restart.
	RestartRequired []string
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Chunker, new.Chunker
	if oc.ChunkDuration != nc.ChunkDuration ||
		oc.SampleRate != nc.SampleRate ||
		oc.Channels != nc.Channels ||
		oc.BitDepth != nc.BitDepth ||
		oc.BitRate != nc.BitRate {
		d.ChunkerChanged = true
		d.NewChunker = nc
	}
	if oc.SinkURL != nc.SinkURL || oc.TempDir != nc.TempDir {
		d.RestartRequired = append(d.RestartRequired, "chunker")
	}

	ov, nv := old.Voice, new.Voice
	if ov.DisplayName != nv.DisplayName ||
		ov.DurationMinutes != nv.DurationMinutes ||
		ov.AgentIdentityPrefix != nv.AgentIdentityPrefix {
		d.VoiceChanged = true
	}
	if ov.ServerURL != nv.ServerURL || ov.ChatTopic != nv.ChatTopic {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}

	if !slices.Equal(old.Backend.BaseURLs, new.Backend.BaseURLs) ||
		old.Backend.APIKey != new.Backend.APIKey ||
		old.Backend.Timeout != new.Backend.Timeout ||
		old.Backend.CircuitBreaker != new.Backend.CircuitBreaker {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if old.Room.Transport != new.Room.Transport ||
		old.Room.SampleRate != new.Room.SampleRate ||
		old.Room.Channels != new.Room.Channels {
		d.RestartRequired = append(d.RestartRequired, "room")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}

	return d
}
