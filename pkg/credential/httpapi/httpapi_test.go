package httpapi_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumen-devotional/lumen/pkg/credential"
	"github.com/lumen-devotional/lumen/pkg/credential/httpapi"
)

func TestRequestSessionToken(t *testing.T) {
	t.Parallel()

	var got credential.TokenRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/voice/token" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":     "tok-1",
			"roomName":  "room-42",
			"sessionId": "sess-9",
		})
	}))
	defer srv.Close()

	c := httpapi.New(srv.URL+"/", httpapi.WithAPIKey("secret"), httpapi.WithTimeout(time.Second))
	resp, err := c.RequestSessionToken(t.Context(), credential.TokenRequest{
		Character:       "adina",
		UserID:          "user-1",
		DisplayName:     "User",
		DurationMinutes: 30,
	})
	if err != nil {
		t.Fatalf("RequestSessionToken: %v", err)
	}
	if resp.Token != "tok-1" || resp.RoomName != "room-42" || resp.SessionID != "sess-9" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Character != "adina" {
		t.Errorf("Character = %q, want request character as default", resp.Character)
	}
	if got.Character != "adina" || got.UserID != "user-1" || got.DurationMinutes != 30 {
		t.Errorf("server received %+v", got)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestRequestSessionTokenErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		handler   http.HandlerFunc
		permanent bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusUnauthorized)
			},
			permanent: true,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
		{
			name: "missing token",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"roomName":"r"}`))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := httpapi.New(srv.URL).RequestSessionToken(t.Context(), credential.TokenRequest{Character: "x"})
			if !errors.Is(err, credential.ErrCredential) {
				t.Fatalf("want ErrCredential, got %v", err)
			}
			if got := httpapi.IsPermanent(err); got != tc.permanent {
				t.Errorf("IsPermanent = %v, want %v", got, tc.permanent)
			}
		})
	}
}

func TestRequestSessionTokenUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := httpapi.New(url).RequestSessionToken(t.Context(), credential.TokenRequest{})
	if !errors.Is(err, credential.ErrCredential) {
		t.Fatalf("want ErrCredential, got %v", err)
	}
	if httpapi.IsPermanent(err) {
		t.Error("transport errors must not be permanent")
	}
}

func TestDispatchAgent(t *testing.T) {
	t.Parallel()

	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/voice/dispatch" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := httpapi.New(srv.URL).DispatchAgent(t.Context(), "room-42", "adina"); err != nil {
		t.Fatalf("DispatchAgent: %v", err)
	}
	if body["roomName"] != "room-42" || body["character"] != "adina" {
		t.Errorf("server received %v", body)
	}
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := httpapi.New(srv.URL)
	if c.BaseURL() != srv.URL {
		t.Errorf("BaseURL = %q", c.BaseURL())
	}
	if err := c.CheckHealth(t.Context()); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	healthy.Store(false)
	err := c.CheckHealth(t.Context())
	var se *httpapi.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503 StatusError, got %v", err)
	}
}
