package backend

import (
	"context"
	"sync"
	"time"
)

// DetectionsFunc is a callback for dynamic Detections responses.
type DetectionsFunc func(ctx context.Context) (*DetectionsResponse, error)

// PingFunc is a callback for dynamic Ping responses.
type PingFunc func(ctx context.Context) (time.Duration, error)

// MockClient is a mock implementation of Client for testing.
// It records all calls and returns configured responses.
type MockClient struct {
	mu sync.Mutex

	// Configured responses
	Addr               string
	ConnectResponse    *ConnectResponse
	ConnectError       error
	DisconnectError    error
	PingLatency        time.Duration
	PingError          error
	DetectionsResponse *DetectionsResponse
	DetectionsError    error
	StatusResponse     *Status
	StatusError        error
	TestPiError        error
	MoveError          error

	// Dynamic response callbacks
	DynamicDetections DetectionsFunc
	DynamicPing       PingFunc

	// Call tracking
	ConnectCalls    []ConnectRequest
	DisconnectCalls int
	PingCalls       int
	DetectionsCalls int
	StatusCalls     int
	TestPiCalls     int
	MoveCalls       []Direction
}

// NewMockClient creates a MockClient that accepts connections and reports an empty batch.
func NewMockClient() *MockClient {
	return &MockClient{
		Addr:               "http://mock:8000",
		ConnectResponse:    &ConnectResponse{Status: StatusConnected},
		DetectionsResponse: &DetectionsResponse{Detections: []Detection{}},
		StatusResponse:     &Status{},
		PingLatency:        5 * time.Millisecond,
	}
}

// Connect records the call and returns the configured response.
func (m *MockClient) Connect(_ context.Context, req ConnectRequest) (*ConnectResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls = append(m.ConnectCalls, req)
	if m.ConnectError != nil {
		return nil, m.ConnectError
	}
	if m.ConnectResponse != nil && m.ConnectResponse.Status != StatusConnected {
		return m.ConnectResponse, &HandshakeError{StatusCode: 500, Message: m.ConnectResponse.Message}
	}
	return m.ConnectResponse, nil
}

// Disconnect records the call.
func (m *MockClient) Disconnect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisconnectCalls++
	return m.DisconnectError
}

// Ping returns the configured latency.
func (m *MockClient) Ping(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	m.PingCalls++
	dyn := m.DynamicPing
	latency, err := m.PingLatency, m.PingError
	m.mu.Unlock()

	if dyn != nil {
		return dyn(ctx)
	}
	return latency, err
}

// Detections returns the configured batch. The dynamic callback runs without
// the mock lock held so it may block.
func (m *MockClient) Detections(ctx context.Context) (*DetectionsResponse, error) {
	m.mu.Lock()
	m.DetectionsCalls++
	dyn := m.DynamicDetections
	resp, err := m.DetectionsResponse, m.DetectionsError
	m.mu.Unlock()

	if dyn != nil {
		return dyn(ctx)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Status returns the configured status.
func (m *MockClient) Status(_ context.Context) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls++
	if m.StatusError != nil {
		return nil, m.StatusError
	}
	return m.StatusResponse, nil
}

// TestPi records the call.
func (m *MockClient) TestPi(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TestPiCalls++
	return m.TestPiError
}

// Move records the direction.
func (m *MockClient) Move(_ context.Context, dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MoveCalls = append(m.MoveCalls, dir)
	return m.MoveError
}

// VideoURL returns the stream address derived from Addr.
func (m *MockClient) VideoURL() string { return m.Addr + "/video" }

// BaseURL returns Addr.
func (m *MockClient) BaseURL() string { return m.Addr }

// Set runs fn with the mock lock held, for changing responses while pollers run.
func (m *MockClient) Set(fn func(m *MockClient)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// Moves returns a copy of the recorded motor commands.
func (m *MockClient) Moves() []Direction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Direction(nil), m.MoveCalls...)
}

// Counts returns the number of poll calls per endpoint.
func (m *MockClient) Counts() (ping, detections, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingCalls, m.DetectionsCalls, m.StatusCalls
}

// Disconnects returns the number of Disconnect calls.
func (m *MockClient) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DisconnectCalls
}

var _ Client = (*MockClient)(nil)
var _ Client = (*HTTPClient)(nil)
