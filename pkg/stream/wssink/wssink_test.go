package wssink_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lumen-devotional/lumen/pkg/stream/wssink"
)

// ingestServer accepts one connection and records every message it reads.
type ingestServer struct {
	*httptest.Server

	mu       sync.Mutex
	messages [][]byte
	types    []websocket.MessageType
	auth     string
	done     chan struct{}
}

func startIngest(t *testing.T) *ingestServer {
	t.Helper()
	s := &ingestServer{done: make(chan struct{})}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		s.mu.Unlock()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer close(s.done)
		defer conn.CloseNow()
		for {
			typ, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, data)
			s.types = append(s.types, typ)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ingestServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *ingestServer) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not observe close")
	}
}

func TestSink_SendsBinaryChunksInOrder(t *testing.T) {
	t.Parallel()
	srv := startIngest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sink, err := wssink.Dial(ctx, srv.wsURL(), wssink.WithBearerToken("secret"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	chunks := [][]byte{{1, 2, 3}, {4, 5}, {6}}
	for _, c := range chunks {
		if err := sink.Send(ctx, c); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	srv.wait(t)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.auth != "Bearer secret" {
		t.Errorf("Authorization: got %q, want %q", srv.auth, "Bearer secret")
	}
	if len(srv.messages) != len(chunks) {
		t.Fatalf("messages: got %d, want %d", len(srv.messages), len(chunks))
	}
	for i, c := range chunks {
		if !bytes.Equal(srv.messages[i], c) {
			t.Errorf("message %d: got %v, want %v", i, srv.messages[i], c)
		}
		if srv.types[i] != websocket.MessageBinary {
			t.Errorf("message %d: got type %v, want binary", i, srv.types[i])
		}
	}
}

func TestSink_SendAfterClose(t *testing.T) {
	t.Parallel()
	srv := startIngest(t)

	sink, err := wssink.Dial(context.Background(), srv.wsURL())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := sink.Send(context.Background(), []byte{1}); !errors.Is(err, wssink.ErrClosed) {
		t.Errorf("Send after Close: got %v, want ErrClosed", err)
	}
}

func TestDial_Refused(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := wssink.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err == nil {
		t.Fatal("expected dial error, got nil")
	}
}
