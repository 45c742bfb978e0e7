package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zarigata/Erathia/chunk"
	"github.com/zarigata/Erathia/terrain"
	"github.com/zarigata/Erathia/vegetation"
)

const (
	writeWait   = 5 * time.Second
	clientQueue = 8
)

// report is one telemetry frame sent to websocket clients.
type report struct {
	Frame            int                    `json:"frame"`
	Observer         chunk.Vec3             `json:"observer"`
	Terrain          terrain.Telemetry      `json:"terrain"`
	VegetationCached int                    `json:"vegetation_cached"`
	Vegetation       vegetation.TimingStats `json:"vegetation"`
}

func (s *walker) report(frame int) report {
	return report{
		Frame:            frame,
		Observer:         s.pos,
		Terrain:          s.world.Terrain().Telemetry(),
		VegetationCached: s.world.Vegetation().CacheSize(),
		Vegetation:       s.world.Vegetation().Timing(),
	}
}

// telemetryHub fans reports out to connected websocket clients. Slow
// clients drop frames instead of stalling the simulation.
type telemetryHub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

func newTelemetryHub(log *slog.Logger) *telemetryHub {
	return &telemetryHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

func (h *telemetryHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("erathia: telemetry upgrade", "err", err)
		return
	}
	out := make(chan []byte, clientQueue)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[conn] = out
	h.mu.Unlock()
	h.log.Debug("erathia: telemetry client connected", "remote", r.RemoteAddr)

	go h.writeLoop(conn, out)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(conn)
}

func (h *telemetryHub) writeLoop(conn *websocket.Conn, out <-chan []byte) {
	for msg := range out {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(conn)
			break
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

func (h *telemetryHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	out, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		close(out)
	}
}

func (h *telemetryHub) broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("erathia: telemetry encode", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, out := range h.clients {
		select {
		case out <- msg:
		default:
		}
	}
}

func (h *telemetryHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *telemetryHub) close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*websocket.Conn]chan []byte)
	h.mu.Unlock()
	for _, out := range clients {
		close(out)
	}
}
