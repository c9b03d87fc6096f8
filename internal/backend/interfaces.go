// Package backend provides interfaces and an HTTP implementation for the
// detection and motor-control backend. It abstracts the REST contract so the
// live-state core can be unit tested with mocks.
package backend

import (
	"context"
	"time"
)

// Handshaker performs the connect/disconnect handshake with the backend.
type Handshaker interface {
	// Connect asks the backend to attach to the stream and robot.
	// A nil error means the backend answered with status "connected".
	Connect(ctx context.Context, req ConnectRequest) (*ConnectResponse, error)

	// Disconnect is best-effort; callers ignore its error.
	Disconnect(ctx context.Context) error
}

// Poller provides the read operations driven by polling cadences.
type Poller interface {
	// Ping probes /health and returns the round trip time.
	Ping(ctx context.Context) (time.Duration, error)

	// Detections fetches the latest detection batch.
	Detections(ctx context.Context) (*DetectionsResponse, error)

	// Status fetches the backend's capture status.
	Status(ctx context.Context) (*Status, error)
}

// MotorDriver sends motor commands.
type MotorDriver interface {
	Move(ctx context.Context, dir Direction) error
}

// Client combines all backend operations.
type Client interface {
	Handshaker
	Poller
	MotorDriver

	// TestPi asks the backend to probe the robot controller.
	TestPi(ctx context.Context) error

	// VideoURL returns the MJPEG stream address. The stream is never parsed.
	VideoURL() string

	// BaseURL returns the backend root address.
	BaseURL() string
}
