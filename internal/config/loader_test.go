package config_test

import (
	"strings"
	"testing"

	"github.com/lumen-devotional/lumen/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing base urls",
			yaml:    "server:\n  log_level: info\n",
			wantErr: "at least one URL",
		},
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\nbackend:\n  base_urls: [http://a]\n",
			wantErr: "log_level",
		},
		{
			name:    "duplicate base url",
			yaml:    "backend:\n  base_urls: [http://a, http://a]\n",
			wantErr: "duplicate",
		},
		{
			name:    "base url scheme",
			yaml:    "backend:\n  base_urls: [ftp://a]\n",
			wantErr: "unsupported scheme",
		},
		{
			name:    "base url without host",
			yaml:    "backend:\n  base_urls: [\"http://\"]\n",
			wantErr: "no host",
		},
		{
			name:    "negative max failures",
			yaml:    "backend:\n  base_urls: [http://a]\n  circuit_breaker:\n    max_failures: -1\n",
			wantErr: "max_failures",
		},
		{
			name:    "duration out of range",
			yaml:    "backend:\n  base_urls: [http://a]\nvoice:\n  duration_minutes: 5000\n",
			wantErr: "duration_minutes",
		},
		{
			name:    "room channels",
			yaml:    "backend:\n  base_urls: [http://a]\nroom:\n  channels: 6\n",
			wantErr: "room.channels",
		},
		{
			name:    "chunk too short",
			yaml:    "backend:\n  base_urls: [http://a]\nchunker:\n  chunk_duration: 10ms\n",
			wantErr: "50ms",
		},
		{
			name:    "chunk sample rate",
			yaml:    "backend:\n  base_urls: [http://a]\nchunker:\n  sample_rate: 4000\n",
			wantErr: "sample_rate",
		},
		{
			name:    "chunk bit depth",
			yaml:    "backend:\n  base_urls: [http://a]\nchunker:\n  bit_depth: 12\n",
			wantErr: "bit_depth",
		},
		{
			name:    "sink must be websocket",
			yaml:    "backend:\n  base_urls: [http://a]\nchunker:\n  sink_url: http://a/ingest\n",
			wantErr: "sink_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
chunker:
  channels: 3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "base_urls", "chunker.channels"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_WebSocketServerURL(t *testing.T) {
	t.Parallel()
	yaml := "backend:\n  base_urls: [http://a]\nvoice:\n  server_url: wss://media.example.com\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
