package hub

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long a viewer may go silent before it is
	// presumed gone; pingPeriod must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxViewerMessage caps inbound reads; viewers only send pongs
	// and close frames.
	maxViewerMessage = 1024
)

// Viewer is one websocket consumer of the hub's stream.
//
// Frames reach the viewer through a one-slot mailbox: publishing a
// frame while the previous one is still unconsumed replaces it, so a
// slow viewer skips frames instead of watching an ever-older stream.
// Events are queued in order and never replaced.
type Viewer struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	frame  []byte
	events [][]byte
	notify chan struct{}
}

// Serve registers the connection with the hub and pumps the stream to
// it until the viewer disconnects. It blocks; call it from the
// websocket handler.
func (h *Hub) Serve(conn *websocket.Conn) {
	v := &Viewer{
		hub:    h,
		conn:   conn,
		notify: make(chan struct{}, 1),
	}
	h.add(v)
	defer h.remove(v)

	stop := make(chan struct{})
	go v.writeLoop(stop)
	v.readLoop()
	close(stop)
}

func (v *Viewer) offerFrame(img []byte) {
	v.mu.Lock()
	v.frame = img
	v.mu.Unlock()
	v.wake()
}

func (v *Viewer) offerEvent(data []byte) {
	v.mu.Lock()
	v.events = append(v.events, data)
	v.mu.Unlock()
	v.wake()
}

func (v *Viewer) wake() {
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// take drains pending events and at most one frame, events first so
// control messages are never reordered behind video.
func (v *Viewer) take() (events [][]byte, frame []byte) {
	v.mu.Lock()
	events = v.events
	v.events = nil
	frame = v.frame
	v.frame = nil
	v.mu.Unlock()
	return events, frame
}

// readLoop consumes inbound messages until the connection drops.
// Viewers send nothing meaningful; reading is how disconnects and
// pongs are noticed.
func (v *Viewer) readLoop() {
	v.conn.SetReadLimit(maxViewerMessage)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only goroutine that writes to the connection. It
// closes the connection on exit, which unblocks readLoop.
func (v *Viewer) writeLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case <-stop:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			v.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-v.notify:
			events, frame := v.take()
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			for _, ev := range events {
				if err := v.conn.WriteMessage(websocket.TextMessage, ev); err != nil {
					return
				}
			}
			if frame != nil {
				if err := v.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return
				}
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
