package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultPort is the port the backend listens on when only a host is configured.
	DefaultPort = 8000
	// DefaultTimeout bounds every request that has no tighter deadline.
	DefaultTimeout = 10 * time.Second
	// HealthTimeout bounds a single /health probe.
	HealthTimeout = 2 * time.Second
)

// ErrHandshakeRejected is returned when /connect answers with anything but "connected".
var ErrHandshakeRejected = errors.New("backend rejected connection")

// HandshakeError carries the backend's explanation for a failed /connect.
type HandshakeError struct {
	StatusCode int
	Message    string
}

func (e *HandshakeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (HTTP %d)", ErrHandshakeRejected, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", ErrHandshakeRejected, e.Message)
}

// Unwrap lets errors.Is match ErrHandshakeRejected.
func (e *HandshakeError) Unwrap() error { return ErrHandshakeRejected }

// StatusError is returned when an endpoint answers with a non-success status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// ResolveBaseURL turns a configured backend address into a base URL.
// A bare host ("192.168.1.50") gets http:// and the default port; a full URL
// is used as-is without its trailing slash.
func ResolveBaseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.Contains(addr, "://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.Contains(addr, ":") && !strings.HasPrefix(addr, "[") {
		return "http://" + strings.TrimRight(addr, "/")
	}
	return fmt.Sprintf("http://%s:%d", strings.TrimRight(addr, "/"), DefaultPort)
}

// HTTPClient implements Client against the backend REST contract.
type HTTPClient struct {
	baseURL       string
	rc            *resty.Client
	hc            *http.Client
	timeout       time.Duration
	healthTimeout time.Duration
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets the transport-level http.Client resty wraps.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.hc = hc
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHealthTimeout sets the /health probe timeout.
func WithHealthTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.healthTimeout = d
		}
	}
}

// NewHTTPClient creates a client for the backend at addr (host or URL).
func NewHTTPClient(addr string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:       ResolveBaseURL(addr),
		timeout:       DefaultTimeout,
		healthTimeout: HealthTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.hc != nil {
		c.rc = resty.NewWithClient(c.hc)
	} else {
		c.rc = resty.New()
	}
	c.rc.SetBaseURL(c.baseURL).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{})
	return c
}

// restyLogger sends resty's own diagnostics to slog instead of stderr,
// which the TUI owns.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...any) { slog.Error(fmt.Sprintf(format, v...), "component", "backend") }
func (restyLogger) Warnf(format string, v ...any)  { slog.Warn(fmt.Sprintf(format, v...), "component", "backend") }
func (restyLogger) Debugf(format string, v ...any) { slog.Debug(fmt.Sprintf(format, v...), "component", "backend") }

// BaseURL returns the backend root address.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// VideoURL returns the MJPEG stream address.
func (c *HTTPClient) VideoURL() string {
	return c.baseURL + "/video"
}

// Connect posts the stream and robot addresses to /connect. Anything but a
// 2xx answer with status "connected" is a HandshakeError.
func (c *HTTPClient) Connect(ctx context.Context, req ConnectRequest) (*ConnectResponse, error) {
	resp, err := c.send(ctx, c.timeout, http.MethodPost, "/connect", req)
	if err != nil {
		return nil, err
	}

	var out ConnectResponse
	decodeErr := json.Unmarshal(resp.Body(), &out)
	switch {
	case !resp.IsSuccess():
		return &out, &HandshakeError{StatusCode: resp.StatusCode(), Message: out.Message}
	case decodeErr != nil:
		return nil, fmt.Errorf("parse connect response: %w", decodeErr)
	case out.Status != StatusConnected:
		return &out, &HandshakeError{StatusCode: resp.StatusCode(), Message: out.Message}
	}
	return &out, nil
}

// Disconnect asks the backend to release the stream.
func (c *HTTPClient) Disconnect(ctx context.Context) error {
	_, err := c.expectOK(ctx, c.timeout, http.MethodGet, "/disconnect", nil)
	return err
}

// Ping probes /health and returns the elapsed time. Any transport error,
// timeout, or non-success status is an error.
func (c *HTTPClient) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.expectOK(ctx, c.healthTimeout, http.MethodGet, "/health", nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Detections fetches GET /detections.
func (c *HTTPClient) Detections(ctx context.Context) (*DetectionsResponse, error) {
	var out DetectionsResponse
	if err := c.getJSON(ctx, "/detections", &out); err != nil {
		return nil, err
	}
	out.normalize()
	return &out, nil
}

// Status fetches GET /status.
func (c *HTTPClient) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.getJSON(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestPi fetches GET /pi/test.
func (c *HTTPClient) TestPi(ctx context.Context) error {
	_, err := c.expectOK(ctx, c.timeout, http.MethodGet, "/pi/test", nil)
	return err
}

// Move posts a motor command. The response body is not required.
func (c *HTTPClient) Move(ctx context.Context, dir Direction) error {
	_, err := c.expectOK(ctx, c.timeout, http.MethodPost, "/move/"+string(dir), nil)
	return err
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.expectOK(ctx, c.timeout, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}

// expectOK is send plus a StatusError for anything outside 2xx.
func (c *HTTPClient) expectOK(ctx context.Context, timeout time.Duration, method, path string, body any) (*resty.Response, error) {
	resp, err := c.send(ctx, timeout, method, path, body)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp, method, path)
	}
	return resp, nil
}

// send runs one request bounded by timeout. resty reads the whole body
// before returning, so the deadline can be released here.
func (c *HTTPClient) send(ctx context.Context, timeout time.Duration, method, path string, body any) (*resty.Response, error) {
	if c.baseURL == "" {
		return nil, errors.New("backend address not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.rc.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func statusError(resp *resty.Response, method, path string) error {
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(resp.Body(), &payload)
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode(),
		Message:    payload.Message,
	}
}
