package videoio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// scriptedSource records lifecycle calls and lets tests fire producer
// callbacks by hand, including callbacks left over from a torn-down
// session.
type scriptedSource struct {
	mu       sync.Mutex
	devices  []Device
	selected Device
	setupErr error

	setups int
	starts int
	stops  int

	running bool
	emit    EmitFunc
	emits   []EmitFunc
}

func newScriptedSource(devices []Device) *scriptedSource {
	return &scriptedSource{devices: devices}
}

func (s *scriptedSource) Setup(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setups++
	if s.setupErr != nil {
		return s.setupErr
	}
	device, ok := pickDevice(matchDevices(s.devices, cfg.Facing), cfg.Device)
	if !ok {
		return fmt.Errorf("no %s-facing device", cfg.Facing)
	}
	s.selected = device
	return nil
}

func (s *scriptedSource) Start(ctx context.Context, emit EmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.running = true
	s.emit = emit
	s.emits = append(s.emits, emit)
	return nil
}

func (s *scriptedSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
	s.emit = nil
	return nil
}

func (s *scriptedSource) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices
}

func (s *scriptedSource) Name() string { return "scripted" }

// Emit fires a producer callback on the current session.
func (s *scriptedSource) Emit(f Frame) {
	s.mu.Lock()
	emit := s.emit
	s.mu.Unlock()
	if emit != nil {
		emit(f)
	}
}

func (s *scriptedSource) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *scriptedSource) counts() (setups, starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setups, s.starts, s.stops
}

func (s *scriptedSource) selectedDevice() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

var testDevices = []Device{
	{ID: "cam-back", Label: "back camera", Facing: FacingBack},
	{ID: "cam-front", Label: "front camera", Facing: FacingFront},
}

func newTestController(t *testing.T, src Source) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	c, err := NewController(cfg, WithSourceFactory(func(Config) (Source, error) {
		return src, nil
	}))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// receiveFrame waits for one frame with a deadline.
func receiveFrame(t *testing.T, frames <-chan Frame) Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatalf("frame channel closed while waiting for a frame")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a frame")
	}
	return Frame{}
}

// expectNoFrame asserts nothing arrives on the channel for a short
// window. A closed channel also counts as no frame.
func expectNoFrame(t *testing.T, frames <-chan Frame) {
	t.Helper()
	select {
	case f, ok := <-frames:
		if ok {
			t.Fatalf("unexpected frame: seq=%d ts=%d", f.Sequence, f.Timestamp)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestController_StartStop_NoOverlap(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !src.isRunning() {
		t.Fatal("expected source running after Start")
	}

	// Restart-on-call: the old session must be fully torn down first.
	if err := c.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	setups, starts, stops := src.counts()
	if starts != 2 || stops != 1 {
		t.Errorf("expected 2 starts and 1 stop, got %d/%d", starts, stops)
	}
	if setups != 2 {
		t.Errorf("expected 2 setups, got %d", setups)
	}
	if !src.isRunning() {
		t.Error("expected exactly one active session after double Start")
	}

	c.Stop()
	if src.isRunning() {
		t.Error("expected no active session after Stop")
	}

	// Stop is idempotent.
	c.Stop()
	_, _, stops = src.counts()
	if stops != 2 {
		t.Errorf("expected 2 stops total, got %d", stops)
	}
}

func TestController_FrameOrdering(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	frames := c.Attach()

	for i := int64(0); i < 3; i++ {
		src.Emit(Frame{Timestamp: i, Sequence: i})
	}

	for i := int64(0); i < 3; i++ {
		f := receiveFrame(t, frames)
		if f.Timestamp != i {
			t.Errorf("frame %d: expected timestamp %d, got %d", i, i, f.Timestamp)
		}
	}
}

func TestController_MonotonicTimestamps(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	frames := c.Attach()

	stamps := []int64{0, 100, 100, 250, 900}
	for i, ts := range stamps {
		src.Emit(Frame{Timestamp: ts, Sequence: int64(i)})
	}

	var last int64 = -1
	for range stamps {
		f := receiveFrame(t, frames)
		if f.Timestamp < last {
			t.Errorf("timestamp went backward: %d after %d", f.Timestamp, last)
		}
		last = f.Timestamp
	}
}

func TestController_DetachDropsFrames(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	frames := c.Attach()
	c.Detach()

	src.Emit(Frame{Sequence: 0})
	src.Emit(Frame{Sequence: 1})

	expectNoFrame(t, frames)

	// The frames were produced but had nowhere to go.
	waitFor(t, func() bool {
		stats := c.Stats()
		return stats.FramesProduced == 2 && stats.FramesDropped == 2
	})
}

func TestController_AttachReplacesConsumer(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := c.Attach()
	second := c.Attach()

	src.Emit(Frame{Sequence: 7})

	// The replaced consumer's channel is closed; it never sees the frame.
	if _, ok := <-first; ok {
		t.Error("replaced consumer received a frame")
	}

	f := receiveFrame(t, second)
	if f.Sequence != 7 {
		t.Errorf("expected sequence 7, got %d", f.Sequence)
	}
}

func TestController_FacingReconfigure(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := src.selectedDevice().ID; got != "cam-back" {
		t.Fatalf("expected cam-back selected, got %s", got)
	}

	if err := c.SetFacing(ctx, FacingFront); err != nil {
		t.Fatalf("SetFacing failed: %v", err)
	}
	if got := src.selectedDevice().ID; got != "cam-front" {
		t.Errorf("expected cam-front selected after facing change, got %s", got)
	}
	if !src.isRunning() {
		t.Error("expected one active session after facing change")
	}
	_, starts, stops := src.counts()
	if starts-stops != 1 {
		t.Errorf("session imbalance: %d starts, %d stops", starts, stops)
	}
}

func TestController_NoDeviceForFacing(t *testing.T) {
	src := newScriptedSource([]Device{
		{ID: "cam-back", Facing: FacingBack},
	})
	c := newTestController(t, src)
	ctx := context.Background()

	frames := c.Attach()

	cfg := DefaultConfig()
	cfg.Facing = FacingFront
	if err := c.Reconfigure(ctx, cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}

	// Setup fails internally; no error surfaces and no frames flow.
	if src.isRunning() {
		t.Error("expected no session when no device matches facing")
	}
	expectNoFrame(t, frames)
}

func TestController_RapidFacingToggle(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sequence := []Facing{FacingFront, FacingBack, FacingFront}
	for _, facing := range sequence {
		if err := c.SetFacing(ctx, facing); err != nil {
			t.Fatalf("SetFacing(%s) failed: %v", facing, err)
		}
	}

	if got := c.Config().Facing; got != FacingFront {
		t.Errorf("expected final facing front, got %s", got)
	}
	if got := src.selectedDevice().ID; got != "cam-front" {
		t.Errorf("expected cam-front selected, got %s", got)
	}
	_, starts, stops := src.counts()
	if starts-stops != 1 {
		t.Errorf("duplicate sessions: %d starts, %d stops", starts, stops)
	}
}

func TestController_StaleSessionFrameDiscarded(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	frames := c.Attach()

	// Restart, then fire a callback still bound to the first session.
	if err := c.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	src.mu.Lock()
	stale := src.emits[0]
	src.mu.Unlock()
	stale(Frame{Sequence: 99})

	expectNoFrame(t, frames)

	src.Emit(Frame{Sequence: 1})
	f := receiveFrame(t, frames)
	if f.Sequence != 1 {
		t.Errorf("expected live session frame, got sequence %d", f.Sequence)
	}
}

// denyAll simulates the platform refusing camera access.
type denyAll struct{}

func (denyAll) RequestAccess(context.Context) bool { return false }

func TestController_AuthorizationDenied(t *testing.T) {
	src := newScriptedSource(testDevices)
	cfg := DefaultConfig()
	c, err := NewController(cfg,
		WithAuthorizer(denyAll{}),
		WithSourceFactory(func(Config) (Source, error) { return src, nil }),
	)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	defer c.Close()

	frames := c.Attach()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error on denied authorization: %v", err)
	}

	setups, _, _ := src.counts()
	if setups != 0 {
		t.Errorf("expected no setup attempt when denied, got %d", setups)
	}
	expectNoFrame(t, frames)
}

func TestController_SetupFailureIsSilent(t *testing.T) {
	src := newScriptedSource(testDevices)
	src.setupErr = fmt.Errorf("device wedged")
	c := newTestController(t, src)

	frames := c.Attach()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start surfaced a setup error: %v", err)
	}
	if src.isRunning() {
		t.Error("expected no session after setup failure")
	}
	expectNoFrame(t, frames)
}

func TestController_DeviceCacheFirstPopulateWins(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)
	ctx := context.Background()

	if devices := c.Devices(); len(devices) != 0 {
		t.Fatalf("expected empty device cache before first setup, got %d", len(devices))
	}

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if devices := c.Devices(); len(devices) != 2 {
		t.Fatalf("expected 2 cached devices, got %d", len(devices))
	}

	// Hardware changes do not invalidate the cache.
	src.mu.Lock()
	src.devices = append(src.devices, Device{ID: "cam-usb", Facing: FacingExternal})
	src.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if devices := c.Devices(); len(devices) != 2 {
		t.Errorf("device cache was refreshed, expected first-populate-wins (got %d)", len(devices))
	}
}

func TestController_SlowConsumerDropsOldest(t *testing.T) {
	src := newScriptedSource(testDevices)
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	c, err := NewController(cfg, WithSourceFactory(func(Config) (Source, error) {
		return src, nil
	}))
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	frames := c.Attach()

	// Nobody reads while four frames arrive into a queue of two.
	for i := int64(0); i < 4; i++ {
		src.Emit(Frame{Sequence: i})
	}
	waitFor(t, func() bool { return c.Stats().FramesProduced == 4 })

	first := receiveFrame(t, frames)
	if first.Sequence <= 0 {
		t.Errorf("expected oldest frames dropped, first delivered was %d", first.Sequence)
	}
	second := receiveFrame(t, frames)
	if second.Sequence != 3 {
		t.Errorf("expected newest frame retained, got %d", second.Sequence)
	}
}

func TestController_CloseIsTerminal(t *testing.T) {
	src := newScriptedSource(testDevices)
	c := newTestController(t, src)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	frames := c.Attach()

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if src.isRunning() {
		t.Error("expected session stopped by Close")
	}
	if _, ok := <-frames; ok {
		t.Error("expected consumer channel closed by Close")
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected Start after Close to fail")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
