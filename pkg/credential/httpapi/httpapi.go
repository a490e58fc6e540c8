// Package httpapi implements [credential.Issuer] against the voice backend's
// REST API.
//
// Endpoints:
//
//   - POST /api/voice/token    : JSON [credential.TokenRequest] → [credential.TokenResponse]
//   - POST /api/voice/dispatch : {"roomName", "character"} → 2xx
//   - GET  /health             : 2xx when the backend is up
//
// When an API key is configured it is sent as a bearer token.
//
// Typical usage:
//
//	c := httpapi.New("https://api.example.org",
//	    httpapi.WithAPIKey(key),
//	    httpapi.WithTimeout(10*time.Second),
//	)
//	tok, err := c.RequestSessionToken(ctx, credential.TokenRequest{Character: "adina"})
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumen-devotional/lumen/pkg/credential"
)

var _ credential.Issuer = (*Client)(nil)

const (
	defaultTimeout   = 15 * time.Second
	tokenEndpoint    = "/api/voice/token"
	dispatchEndpoint = "/api/voice/dispatch"
	healthEndpoint   = "/health"

	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 512
)

// StatusError is returned (wrapped with [credential.ErrCredential]) when the
// backend answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether retrying against the same or another backend may
// succeed. Client errors (4xx) other than 408 and 429 are permanent.
func (e *StatusError) Temporary() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 500:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether err is a backend rejection that would fail the
// same way on retry.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !se.Temporary()
}

// Option configures a [Client].
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-request HTTP timeout. Default: 15s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client talks to one voice backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend address the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RequestSessionToken implements [credential.Issuer].
func (c *Client) RequestSessionToken(ctx context.Context, req credential.TokenRequest) (credential.TokenResponse, error) {
	var out credential.TokenResponse
	if err := c.do(ctx, http.MethodPost, tokenEndpoint, req, &out); err != nil {
		return credential.TokenResponse{}, err
	}
	if out.Token == "" || out.RoomName == "" {
		return credential.TokenResponse{}, fmt.Errorf("httpapi: token response missing token or room: %w", credential.ErrCredential)
	}
	if out.Character == "" {
		out.Character = req.Character
	}
	return out, nil
}

type dispatchRequest struct {
	RoomName  string `json:"roomName"`
	Character string `json:"character"`
}

// DispatchAgent implements [credential.Issuer].
func (c *Client) DispatchAgent(ctx context.Context, roomName, character string) error {
	return c.do(ctx, http.MethodPost, dispatchEndpoint, dispatchRequest{RoomName: roomName, Character: character}, nil)
}

// CheckHealth implements [credential.Issuer].
func (c *Client) CheckHealth(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, healthEndpoint, nil, nil)
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. All failures wrap [credential.ErrCredential].
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpapi: marshal %s body: %w: %v", path, credential.ErrCredential, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("httpapi: build %s %s: %w: %v", method, path, credential.ErrCredential, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpapi: %s %s: %w: %v", method, path, credential.ErrCredential, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
		return fmt.Errorf("httpapi: %w: %w", credential.ErrCredential, se)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpapi: decode %s response: %w: %v", path, credential.ErrCredential, err)
	}
	return nil
}
