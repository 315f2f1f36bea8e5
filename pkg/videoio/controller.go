package videoio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// authState tracks the cached camera authorization answer.
type authState int

const (
	authUnknown authState = iota
	authGranted
	authDenied
)

// Controller manages the camera acquisition lifecycle and normalizes
// frames from all backends into one stream with a single consumer.
//
// All configuration mutations (Start, Stop, Reconfigure, Attach,
// Detach) and all frame deliveries are serialized onto one internal
// goroutine, so a reconfiguration can never race an in-flight producer
// callback. Producer callbacks themselves run on backend-owned
// goroutines and publish by scheduling a delivery, never by touching
// controller state directly.
type Controller struct {
	logger   *slog.Logger
	auth     Authorizer
	factory  SourceFactory
	rotation RotationSource

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	// The fields below are confined to the ops goroutine.
	cfg       Config
	source    Source
	sessionID string
	running   bool
	consumer  chan Frame
	devices   []Device
	authSeen  authState

	framesProduced  atomic.Int64
	framesDelivered atomic.Int64
	framesDropped   atomic.Int64
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// WithAuthorizer sets the platform camera-use authorizer.
func WithAuthorizer(auth Authorizer) ControllerOption {
	return func(c *Controller) { c.auth = auth }
}

// WithSourceFactory overrides how backends are constructed. Tests use
// this to inject mock sources.
func WithSourceFactory(factory SourceFactory) ControllerOption {
	return func(c *Controller) { c.factory = factory }
}

// WithRotationSource wires a platform rotation-angle subscription into
// the capture backend. Ignored by other backends.
func WithRotationSource(rs RotationSource) ControllerOption {
	return func(c *Controller) { c.rotation = rs }
}

// NewController creates a frame source controller with the given
// configuration. The returned controller is idle; call Start to begin
// acquisition and Attach to receive frames.
func NewController(cfg Config, opts ...ControllerOption) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:  cfg,
		auth: allowAll{},
		ops:  make(chan func(), 64),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.factory == nil {
		c.factory = func(cfg Config) (Source, error) {
			return newSource(cfg, c.logger, c.rotation)
		}
	}

	go c.run()
	return c, nil
}

func (c *Controller) run() {
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done:
			return
		}
	}
}

// do schedules fn on the ops goroutine and waits for it to complete.
func (c *Controller) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case c.ops <- func() { fn(); close(ran) }:
	case <-c.done:
		return io.ErrClosedPipe
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

// Attach registers the sole consumer for future frames and returns its
// channel. Any previously attached consumer is replaced; its channel
// is closed. Frames are never buffered for a detached consumer.
func (c *Controller) Attach() <-chan Frame {
	var ch chan Frame
	c.do(func() {
		if c.consumer != nil {
			close(c.consumer)
		}
		ch = make(chan Frame, c.cfg.QueueSize)
		c.consumer = ch
	})
	return ch
}

// Detach removes the consumer, closing its channel. Frames produced
// afterward are dropped, not queued.
func (c *Controller) Detach() {
	c.do(func() {
		if c.consumer != nil {
			close(c.consumer)
			c.consumer = nil
		}
	})
}

// Start begins acquisition using the current configuration. Calling
// Start while already started tears down the old session first, so a
// configuration change always takes effect. Setup failures (missing
// device, denied authorization, rejected input) are logged and leave
// the controller producing zero frames; they are not returned.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(func() {
		c.stopSession()
		c.startSession(ctx)
	})
}

// Stop tears down any active session. It blocks until the session's
// producer acknowledges shutdown and is safe to call repeatedly.
func (c *Controller) Stop() {
	c.do(func() { c.stopSession() })
}

// Reconfigure applies a new configuration by stopping any active
// session and starting a fresh one, so the caller always observes a
// single terminal state with no overlapping sessions.
func (c *Controller) Reconfigure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return c.do(func() {
		c.stopSession()
		c.cfg = cfg
		c.startSession(ctx)
	})
}

// SetFacing switches the facing preference and restarts acquisition.
func (c *Controller) SetFacing(ctx context.Context, facing Facing) error {
	cfg := c.Config()
	cfg.Facing = facing
	cfg.Device = ""
	return c.Reconfigure(ctx, cfg)
}

// SetDevice switches the preferred device and restarts acquisition.
func (c *Controller) SetDevice(ctx context.Context, deviceID string) error {
	cfg := c.Config()
	cfg.Device = deviceID
	return c.Reconfigure(ctx, cfg)
}

// Config returns the current configuration.
func (c *Controller) Config() Config {
	var cfg Config
	c.do(func() { cfg = c.cfg })
	return cfg
}

// Devices returns the device list gathered on the first successful
// session setup. The list is cached first-populate-wins and is not
// invalidated when hardware changes; callers needing a fresh view must
// restart acquisition. Returns nil before the first setup.
func (c *Controller) Devices() []Device {
	var devices []Device
	c.do(func() {
		devices = make([]Device, len(c.devices))
		copy(devices, c.devices)
	})
	return devices
}

// Stats returns frame flow counters and session state.
func (c *Controller) Stats() Stats {
	stats := Stats{
		FramesProduced:  c.framesProduced.Load(),
		FramesDelivered: c.framesDelivered.Load(),
		FramesDropped:   c.framesDropped.Load(),
	}
	c.do(func() {
		stats.Running = c.running
		stats.SessionID = c.sessionID
		if c.source != nil {
			stats.Backend = c.source.Name()
		}
	})
	return stats
}

// Close stops acquisition, detaches the consumer, and shuts down the
// controller. After Close, all operations are no-ops.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.do(func() {
			c.stopSession()
			if c.consumer != nil {
				close(c.consumer)
				c.consumer = nil
			}
		})
		close(c.done)
	})
	return nil
}

// startSession runs on the ops goroutine with no session active.
func (c *Controller) startSession(ctx context.Context) {
	if c.authSeen == authUnknown {
		if c.auth.RequestAccess(ctx) {
			c.authSeen = authGranted
		} else {
			c.authSeen = authDenied
		}
	}
	if c.authSeen == authDenied {
		c.logger.Warn("camera authorization denied, staying idle")
		return
	}

	src, err := c.factory(c.cfg)
	if err != nil {
		c.logger.Error("backend unavailable", "backend", c.cfg.Backend, "error", err)
		return
	}

	if err := src.Setup(ctx, c.cfg); err != nil {
		c.logger.Error("session setup failed",
			"backend", src.Name(),
			"facing", c.cfg.Facing,
			"error", err,
		)
		return
	}

	// First successful discovery wins; later setups do not refresh it.
	if len(c.devices) == 0 {
		c.devices = src.Devices()
	}

	sid := uuid.NewString()
	if err := src.Start(ctx, c.emitFor(sid)); err != nil {
		c.logger.Error("session start failed", "backend", src.Name(), "error", err)
		src.Stop()
		return
	}

	c.source = src
	c.sessionID = sid
	c.running = true
	c.logger.Info("session started",
		"backend", src.Name(),
		"session", sid,
		"facing", c.cfg.Facing,
	)
}

// stopSession runs on the ops goroutine. It blocks until the source's
// producer goroutine has exited, then clears session state.
func (c *Controller) stopSession() {
	if c.source == nil {
		return
	}
	if err := c.source.Stop(); err != nil {
		c.logger.Warn("session stop reported error", "error", err)
	}
	c.logger.Info("session stopped", "session", c.sessionID)
	c.source = nil
	c.sessionID = ""
	c.running = false
}

// emitFor returns the publish function for one session. Every yield is
// scheduled onto the ops goroutine, so concurrent producer callbacks
// cannot interleave writes to the consumer channel. The session ID is
// pinned so a frame emitted by a torn-down session is discarded rather
// than delivered into its successor's stream.
func (c *Controller) emitFor(sid string) EmitFunc {
	return func(f Frame) {
		c.framesProduced.Add(1)
		select {
		case c.ops <- func() { c.deliver(sid, f) }:
		case <-c.done:
		default:
			// Ops queue saturated; shedding here keeps producers
			// from ever blocking on a stalled consumer.
			c.framesDropped.Add(1)
		}
	}
}

// deliver runs on the ops goroutine. The consumer channel is bounded;
// when it is full the oldest queued frame is evicted so live video
// stays current instead of accumulating latency.
func (c *Controller) deliver(sid string, f Frame) {
	if sid != c.sessionID || c.consumer == nil {
		c.framesDropped.Add(1)
		return
	}
	select {
	case c.consumer <- f:
		c.framesDelivered.Add(1)
		return
	default:
	}
	select {
	case <-c.consumer:
		c.framesDropped.Add(1)
	default:
	}
	select {
	case c.consumer <- f:
		c.framesDelivered.Add(1)
	default:
		c.framesDropped.Add(1)
	}
}
