package videoio

import "context"

// EmitFunc publishes one frame toward the attached consumer. It never
// blocks; frames that cannot be queued are dropped.
type EmitFunc func(Frame)

// Source is a frame acquisition strategy. Implementations own the
// platform session (device + input + output) and push frames through
// the EmitFunc handed to Start. A Source produces no frames before
// Start and none after Stop returns.
type Source interface {
	// Setup prepares the session: device discovery, device selection,
	// format negotiation. Setup failures are terminal for the attempt;
	// the controller logs them and stays idle.
	Setup(ctx context.Context, cfg Config) error

	// Start begins acquisition, delivering frames via emit from a
	// source-owned goroutine until Stop is called.
	Start(ctx context.Context, emit EmitFunc) error

	// Stop tears down the session. It is safe to call Stop multiple
	// times. After Stop returns, no further emit calls are made.
	Stop() error

	// Devices returns the devices discovered during Setup.
	Devices() []Device

	// Name returns the backend name (e.g. "capture", "spatial", "mock").
	Name() string
}

// SourceFactory constructs a Source for a config. The controller uses
// NewSource by default; tests inject their own factory.
type SourceFactory func(cfg Config) (Source, error)

// RotationSource delivers the platform's recommended capture rotation
// angle whenever it changes. The capture backend subscribes for the
// lifetime of a session and re-applies each angle to outgoing frames.
type RotationSource interface {
	// Angles returns a channel of rotation angles in degrees.
	Angles() <-chan int

	// Close ends the subscription and closes the angle channel.
	Close() error
}

// Authorizer gates camera use. The platform owns permission state; the
// controller only caches the answer for the process lifetime.
type Authorizer interface {
	// RequestAccess requests camera-use authorization, blocking until
	// the platform answers. Returns true when access is granted.
	RequestAccess(ctx context.Context) bool
}

// allowAll grants camera access unconditionally. Used when no platform
// authorizer is configured.
type allowAll struct{}

func (allowAll) RequestAccess(context.Context) bool { return true }

// Stats contains counters for a controller's frame flow.
type Stats struct {
	// FramesProduced is the total number of frames emitted by sources.
	FramesProduced int64 `json:"frames_produced"`

	// FramesDelivered is the number of frames handed to a consumer.
	FramesDelivered int64 `json:"frames_delivered"`

	// FramesDropped counts frames discarded because no consumer was
	// attached or the consumer fell behind.
	FramesDropped int64 `json:"frames_dropped"`

	// Running indicates whether a session is currently active.
	Running bool `json:"running"`

	// Backend is the name of the active backend, empty when stopped.
	Backend string `json:"backend"`

	// SessionID identifies the active session, empty when stopped.
	SessionID string `json:"session_id"`
}
