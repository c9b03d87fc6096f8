package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.50", "http://192.168.1.50:8000"},
		{"robot.local", "http://robot.local:8000"},
		{"10.0.0.2:9000", "http://10.0.0.2:9000"},
		{"http://10.0.0.2:8000/", "http://10.0.0.2:8000"},
		{"https://api.example.com/dobi", "https://api.example.com/dobi"},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveBaseURL(tt.in))
		})
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" Forward ")
	require.NoError(t, err)
	assert.Equal(t, Forward, d)

	_, err = ParseDirection("up")
	assert.Error(t, err)
}

func TestDetectionIsPerson(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{PersonLabel, true},
		{"Person", false},
		{"PERSON", false},
		{"api", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Detection{RawLabel: tt.raw}.IsPerson())
		})
	}
}

func TestHTTPClient_Connect(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     bool
		wantMessage string
	}{
		{
			name:   "connected",
			status: http.StatusOK,
			body:   `{"status":"connected","message":"Successfully connected to stream"}`,
		},
		{
			name:        "backend error with 500",
			status:      http.StatusInternalServerError,
			body:        `{"status":"error","message":"Failed to open video stream"}`,
			wantErr:     true,
			wantMessage: "Failed to open video stream",
		},
		{
			name:        "error status with 200",
			status:      http.StatusOK,
			body:        `{"status":"error","message":"model missing"}`,
			wantErr:     true,
			wantMessage: "model missing",
		},
		{
			name:    "non-json failure",
			status:  http.StatusBadGateway,
			body:    `bad gateway`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ConnectRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/connect", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL)
			resp, err := c.Connect(context.Background(), ConnectRequest{StreamURL: "http://cam/stream", PiIP: "10.40.0.1"})

			assert.Equal(t, "http://cam/stream", got.StreamURL)
			assert.Equal(t, "10.40.0.1", got.PiIP)

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, StatusConnected, resp.Status)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrHandshakeRejected))
			var hsErr *HandshakeError
			require.ErrorAs(t, err, &hsErr)
			assert.Equal(t, tt.wantMessage, hsErr.Message)
		})
	}
}

func TestHTTPClient_Ping(t *testing.T) {
	t.Run("success reports elapsed time", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			time.Sleep(5 * time.Millisecond)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))
		defer srv.Close()

		d, err := NewHTTPClient(srv.URL).Ping(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
	})

	t.Run("timeout is an error", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c := NewHTTPClient(srv.URL, WithHealthTimeout(20*time.Millisecond))
		start := time.Now()
		_, err := c.Ping(context.Background())
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("non-success status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPClient(srv.URL).Ping(context.Background())
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	})
}

func TestHTTPClient_Detections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detections", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"timestamp": 1700000000.5,
			"count": 3,
			"connected": true,
			"detections": [
				{"name": "PERSON", "raw_name": "person", "conf": 0.91, "ppe_status": "SAFE", "box": [1,2,3,4], "severity": "NONE"},
				{"name": "PERSON", "raw_name": "person", "conf": 1.7, "ppe_status": "bogus"},
				{"name": "FIRE", "raw_name": "api", "conf": -0.2}
			]
		}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL).Detections(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Count)
	assert.InDelta(t, 1700000000.5, resp.Timestamp, 1e-6)
	require.Len(t, resp.Detections, 3)
	assert.Equal(t, PPESafe, resp.Detections[0].PPEStatus)
	assert.Equal(t, 1.0, resp.Detections[1].Confidence, "confidence clamps to 1")
	assert.Equal(t, PPENone, resp.Detections[1].PPEStatus, "unknown status becomes none")
	assert.Equal(t, 0.0, resp.Detections[2].Confidence, "confidence clamps to 0")
	assert.False(t, resp.Detections[2].IsPerson())
}

func TestHTTPClient_DetectionsMissingArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"timestamp": 1, "count": 0}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL).Detections(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, resp.Detections)
	assert.Empty(t, resp.Detections)
}

func TestHTTPClient_Move(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/move/left" {
			w.WriteHeader(http.StatusGatewayTimeout)
			_, _ = w.Write([]byte(`{"status":"error","message":"Pi connection timeout"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	require.NoError(t, c.Move(context.Background(), Forward))

	err := c.Move(context.Background(), Left)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Pi connection timeout", se.Message)

	assert.Equal(t, []string{"/move/forward", "/move/left"}, paths)
}

func TestHTTPClient_StatusAndURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			_, _ = w.Write([]byte(`{"running": true, "frame_count": 42, "has_frame": true, "last_error": null, "model_loaded": true}`))
		case "/pi/test":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"error","message":"Pi IP not configured"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, int64(42), st.FrameCount)
	assert.Empty(t, st.LastError)

	err = c.TestPi(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Pi IP not configured")

	assert.Equal(t, srv.URL+"/video", c.VideoURL())
	assert.Equal(t, srv.URL, c.BaseURL())
}

func TestHTTPClient_Unconfigured(t *testing.T) {
	c := NewHTTPClient("")
	_, err := c.Ping(context.Background())
	assert.Error(t, err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHTTPClient_CustomHTTPClient(t *testing.T) {
	var urls []string
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		urls = append(urls, r.URL.String())
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"status":"ok"}`)),
			Request:    r,
		}, nil
	})}

	c := NewHTTPClient("robot.local", WithHTTPClient(hc))
	_, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://robot.local:8000/health"}, urls)
}
