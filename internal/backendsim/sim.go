// Package backendsim is a stand-in for the detection backend. It serves the
// same REST and MJPEG contract with synthetic detections so the dashboard
// can be developed and tested without a camera, a model or a robot.
package backendsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/npratt/dobi/internal/backend"
)

// Defaults.
const (
	DefaultFrameInterval = 33 * time.Millisecond
	DefaultMaxObjects    = 4
)

// class is a label the simulated model can report.
type class struct {
	raw       string
	threshold float64
}

// classes mirrors the confidence floors of the real model.
var classes = []class{
	{"person", 0.50},
	{"hardhat", 0.55},
	{"safety_vest", 0.58},
	{"gas", 0.82},
	{"crack", 0.76},
	{"api", 0.20},
	{"asap", 0.70},
}

var displayNames = map[string]string{
	"api":  "FIRE",
	"asap": "SMOKE",
}

// DisplayName maps a raw model label to the label shown to operators.
func DisplayName(raw string) string {
	if name, ok := displayNames[raw]; ok {
		return name
	}
	return strings.ToUpper(raw)
}

// Options configures a Server.
type Options struct {
	FrameInterval time.Duration
	MaxObjects    int
	Seed          uint64 // 0 = time based
	CORSOrigins   []string
	// AccessLog receives Apache-style request lines (nil = none).
	AccessLog io.Writer
	Logger    *slog.Logger
}

// Server is the simulated backend state.
type Server struct {
	frameInterval time.Duration
	maxObjects    int
	corsOrigins   []string
	accessLog     io.Writer
	logger        *slog.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	running    bool
	streamURL  string
	piIP       string
	frameCount int64
	lastError  string
	detections []backend.Detection
	moves      []backend.Direction
	moveErr    error
}

// New creates a disconnected Server.
func New(opts Options) *Server {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.MaxObjects <= 0 {
		opts.MaxObjects = DefaultMaxObjects
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		frameInterval: opts.FrameInterval,
		maxObjects:    opts.MaxObjects,
		corsOrigins:   opts.CORSOrigins,
		accessLog:     opts.AccessLog,
		logger:        opts.Logger,
		rng:           rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		detections:    []backend.Detection{},
	}
}

// Handler returns the routed handler with CORS and optional access logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/connect", s.connect).Methods(http.MethodPost)
	r.HandleFunc("/disconnect", s.disconnect).Methods(http.MethodGet)
	r.HandleFunc("/detections", s.getDetections).Methods(http.MethodGet)
	r.HandleFunc("/video", s.video).Methods(http.MethodGet)
	r.HandleFunc("/move/{direction}", s.move).Methods(http.MethodPost)
	r.HandleFunc("/pi/test", s.testPi).Methods(http.MethodGet)
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)

	var h http.Handler = r
	if len(s.corsOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.corsOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(h)
	}
	if s.accessLog != nil {
		h = handlers.LoggingHandler(s.accessLog, h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("simulated backend listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Moves returns the motor commands accepted so far.
func (s *Server) Moves() []backend.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Direction(nil), s.moves...)
}

// Running reports whether a stream is attached.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FailMoves makes every later /move answer 504 with err's message (nil restores).
func (s *Server) FailMoves(err error) {
	s.mu.Lock()
	s.moveErr = err
	s.mu.Unlock()
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connected":   s.running,
		"stream_url":  nullable(s.streamURL),
		"pi_ip":       nullable(s.piIP),
		"frame_count": s.frameCount,
		"last_error":  nullable(s.lastError),
	})
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var req backend.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if err := validateStream(req.StreamURL); err != nil {
		s.lastError = err.Error()
		s.logger.Warn("simulated connect rejected", "stream_url", req.StreamURL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.running = true
	s.streamURL = req.StreamURL
	s.piIP = req.PiIP
	s.lastError = ""
	s.logger.Info("simulated stream attached", "stream_url", req.StreamURL, "pi_ip", req.PiIP)
	writeJSON(w, http.StatusOK, backend.ConnectResponse{
		Status:  backend.StatusConnected,
		Message: "Successfully connected to stream",
	})
}

func (s *Server) disconnect(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) stopLocked() {
	s.running = false
	s.streamURL = ""
	s.piIP = ""
	s.detections = []backend.Detection{}
}

func (s *Server) getDetections(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	if s.running {
		s.frameCount++
		s.detections = s.generateLocked()
	}
	resp := backend.DetectionsResponse{
		Timestamp:  float64(time.Now().UnixNano()) / 1e9,
		Count:      len(s.detections),
		Detections: append([]backend.Detection{}, s.detections...),
		Connected:  s.running,
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) move(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["direction"]

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.piIP == "" {
		writeError(w, http.StatusBadRequest, "Not connected to Pi")
		return
	}
	dir, err := backend.ParseDirection(raw)
	if err != nil || string(dir) != raw {
		writeError(w, http.StatusBadRequest, "Invalid direction: "+raw)
		return
	}
	if s.moveErr != nil {
		writeError(w, http.StatusGatewayTimeout, s.moveErr.Error())
		return
	}
	s.moves = append(s.moves, dir)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "direction": raw})
}

func (s *Server) testPi(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.piIP == "" {
		writeError(w, http.StatusBadRequest, "Pi IP not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "pi_ip": s.piIP})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":         s.running,
		"stream_url":      nullable(s.streamURL),
		"pi_ip":           nullable(s.piIP),
		"frame_count":     s.frameCount,
		"has_frame":       s.running && s.frameCount > 0,
		"detection_count": len(s.detections),
		"last_error":      nullable(s.lastError),
		"model_loaded":    true,
	})
}

// generateLocked produces one synthetic frame's detections.
func (s *Server) generateLocked() []backend.Detection {
	n := s.rng.IntN(s.maxObjects + 1)
	out := make([]backend.Detection, 0, n)
	for range n {
		c := classes[s.rng.IntN(len(classes))]
		conf := c.threshold + s.rng.Float64()*(1-c.threshold)
		x1, y1 := s.rng.IntN(560), s.rng.IntN(400)
		d := backend.Detection{
			Label:      DisplayName(c.raw),
			RawLabel:   c.raw,
			Confidence: conf,
			Severity:   "NONE",
			Box:        []int{x1, y1, x1 + 40 + s.rng.IntN(80), y1 + 40 + s.rng.IntN(80)},
		}
		if c.raw == backend.PersonLabel {
			d.PPEStatus = []backend.PPEStatus{backend.PPEUnsafe, backend.PPESafe, backend.PPEFullyProtected}[s.rng.IntN(3)]
		}
		out = append(out, d)
	}
	return out
}

func validateStream(raw string) error {
	if raw == "" {
		return errors.New("stream_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("Failed to open video stream: %s", raw)
	}
	switch u.Scheme {
	case "http", "https", "rtsp":
		return nil
	}
	return fmt.Errorf("Failed to open video stream: %s", raw)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"status": "error", "message": msg})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
