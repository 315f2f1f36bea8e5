//go:build spatial

package videoio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

func builtinBackend() Backend { return BackendSpatial }

// rtpClockRate is the RTP video clock in ticks per second; sample
// capture times are scaled from it to microsecond precision.
const rtpClockRate = 90000

// spatialSource consumes passthrough sensor frames from a spatial
// provider. The provider advertises one producer per logical camera
// slot over a websocket signalling channel; frames arrive on a
// receive-only WebRTC video track.
type spatialSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	ws      *websocket.Conn
	pc      *webrtc.PeerConnection
	cancel  context.CancelFunc

	peerID     string
	producerID string
	sessionID  string
	mode       Mode
	devices    []Device

	wsWriteMu sync.Mutex
}

type signalProducer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
	// Modes lists the capture formats the producer supports.
	Modes []Mode `json:"modes"`
}

func newSpatialSource(cfg Config, logger *slog.Logger) (Source, error) {
	return &spatialSource{cfg: cfg, logger: logger}, nil
}

func (s *spatialSource) Name() string { return "spatial" }

func (s *spatialSource) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices
}

// Setup opens the signalling session restricted to the configured
// camera slot and selects the highest-vertical-resolution format the
// producer supports.
func (s *spatialSource) Setup(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, cfg.SignalURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect: %w", err)
	}

	if err := s.waitForWelcome(ws); err != nil {
		ws.Close()
		return fmt.Errorf("welcome: %w", err)
	}

	producers, err := s.listProducers(ws)
	if err != nil {
		ws.Close()
		return fmt.Errorf("list producers: %w", err)
	}
	if len(producers) == 0 {
		ws.Close()
		return fmt.Errorf("provider has no camera sensors")
	}

	slot := cfg.Slot
	if slot == "" {
		slot = "left"
	}

	var chosen *signalProducer
	s.devices = s.devices[:0]
	for i, p := range producers {
		s.devices = append(s.devices, Device{
			ID:     p.ID,
			Label:  p.Meta["name"],
			Facing: cfg.Facing,
			Modes:  p.Modes,
		})
		if p.Meta["slot"] == slot {
			chosen = &producers[i]
		}
	}
	if chosen == nil {
		ws.Close()
		return fmt.Errorf("no producer for slot %q among %d producers", slot, len(producers))
	}

	mode, ok := bestMode(chosen.Modes)
	if !ok {
		ws.Close()
		return fmt.Errorf("producer %s advertises no formats", chosen.ID)
	}

	s.ws = ws
	s.producerID = chosen.ID
	s.mode = mode

	s.logger.Info("spatial session configured",
		"producer", chosen.ID,
		"slot", slot,
		"format", fmt.Sprintf("%dx%d", mode.Width, mode.Height),
	)
	return nil
}

func (s *spatialSource) Start(ctx context.Context, emit EmitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ws == nil {
		return fmt.Errorf("spatial session not set up")
	}
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		cancel()
		return fmt.Errorf("peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		cancel()
		pc.Close()
		return fmt.Errorf("add transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		go s.readLoop(runCtx, track, emit)
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			s.sendICECandidate(candidate)
		}
	})

	s.pc = pc
	s.cancel = cancel
	s.running = true

	s.wsWriteMu.Lock()
	err = s.ws.WriteJSON(map[string]string{
		"type":   "startSession",
		"peerId": s.producerID,
	})
	s.wsWriteMu.Unlock()
	if err != nil {
		s.teardownLocked()
		return fmt.Errorf("start session: %w", err)
	}

	go s.handleSignalling(runCtx)

	return nil
}

// Stop cancels the acquisition loop and releases the sensor session.
// Cancellation is propagated before the peer connection is released so
// no callback outlives the session; sensor-side graceful shutdown is
// not awaited.
func (s *spatialSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	return nil
}

func (s *spatialSource) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
	if s.ws != nil {
		s.ws.Close()
		s.ws = nil
	}
	s.running = false
}

// readLoop bridges the sensor track into the shared frame stream. RTP
// payloads are accumulated until the marker bit closes a sample; the
// sample's capture-time ticks are scaled to microseconds.
func (s *spatialSource) readLoop(ctx context.Context, track *webrtc.TrackRemote, emit EmitFunc) {
	var (
		sample    []byte
		baseTicks uint32
		haveBase  bool
		sequence  int64
		pkt       *rtp.Packet
		err       error
	)

	for {
		if ctx.Err() != nil {
			return
		}

		pkt, _, err = track.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("sensor session run failed", "error", err)
			}
			return
		}

		if !haveBase {
			baseTicks = pkt.Timestamp
			haveBase = true
		}
		sample = append(sample, pkt.Payload...)
		if !pkt.Marker {
			continue
		}

		ticks := pkt.Timestamp - baseTicks
		img := make([]byte, len(sample))
		copy(img, sample)
		sample = sample[:0]

		emit(Frame{
			Image:     img,
			Width:     s.mode.Width,
			Height:    s.mode.Height,
			Format:    FormatRaw,
			Timestamp: int64(uint64(ticks) * 1_000_000 / rtpClockRate),
			Sequence:  sequence,
		})
		sequence++
	}
}

func (s *spatialSource) handleSignalling(ctx context.Context) {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return
	}

	for ctx.Err() == nil {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("signalling closed", "error", err)
			}
			return
		}

		var base struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "sessionStarted":
			s.mu.Lock()
			s.sessionID = base.SessionID
			s.mu.Unlock()
		case "peer":
			s.handlePeerMessage(msg)
		case "endSession":
			return
		}
	}
}

func (s *spatialSource) handlePeerMessage(msg []byte) {
	var peerMsg struct {
		SDP *struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		} `json:"sdp"`
		ICE *struct {
			Candidate     string  `json:"candidate"`
			SDPMid        *string `json:"sdpMid"`
			SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
		} `json:"ice"`
	}
	if err := json.Unmarshal(msg, &peerMsg); err != nil {
		return
	}

	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}

	if peerMsg.SDP != nil && peerMsg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  peerMsg.SDP.SDP,
		}
		if err := pc.SetRemoteDescription(offer); err != nil {
			s.logger.Error("set remote description", "error", err)
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			s.logger.Error("create answer", "error", err)
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			s.logger.Error("set local description", "error", err)
			return
		}
		s.sendSDP(answer)
	}

	if peerMsg.ICE != nil {
		pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     peerMsg.ICE.Candidate,
			SDPMid:        peerMsg.ICE.SDPMid,
			SDPMLineIndex: peerMsg.ICE.SDPMLineIndex,
		})
	}
}

func (s *spatialSource) waitForWelcome(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer ws.SetReadDeadline(time.Time{})

	_, msg, err := ws.ReadMessage()
	if err != nil {
		return err
	}
	var welcome struct {
		Type   string `json:"type"`
		PeerID string `json:"peerId"`
	}
	if err := json.Unmarshal(msg, &welcome); err != nil {
		return err
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("expected welcome, got %s", welcome.Type)
	}
	s.peerID = welcome.PeerID
	return nil
}

func (s *spatialSource) listProducers(ws *websocket.Conn) ([]signalProducer, error) {
	if err := ws.WriteJSON(map[string]string{"type": "list"}); err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer ws.SetReadDeadline(time.Time{})

	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var resp struct {
		Type      string           `json:"type"`
		Producers []signalProducer `json:"producers"`
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, err
	}
	return resp.Producers, nil
}

func (s *spatialSource) sendSDP(sdp webrtc.SessionDescription) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	s.writeSignal(map[string]interface{}{
		"type":      "peer",
		"sessionId": sessionID,
		"sdp": map[string]string{
			"type": sdp.Type.String(),
			"sdp":  sdp.SDP,
		},
	})
}

func (s *spatialSource) sendICECandidate(candidate *webrtc.ICECandidate) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return
	}
	init := candidate.ToJSON()
	s.writeSignal(map[string]interface{}{
		"type":      "peer",
		"sessionId": sessionID,
		"ice": map[string]interface{}{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

func (s *spatialSource) writeSignal(v interface{}) error {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("signalling connection closed")
	}
	s.wsWriteMu.Lock()
	defer s.wsWriteMu.Unlock()
	return ws.WriteJSON(v)
}
