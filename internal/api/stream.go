package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/healthstack/healthwatch/internal/models"
)

// AlarmHub streams delivered alarms to websocket subscribers. It is registered
// as a tap on the alarm manager; a slow subscriber is dropped rather than
// allowed to back-pressure delivery.
type AlarmHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan models.AlarmMessage
}

// NewAlarmHub builds an empty hub.
func NewAlarmHub(logger *slog.Logger) *AlarmHub {
	return &AlarmHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: map[*websocket.Conn]chan models.AlarmMessage{},
	}
}

// Publish fans the alarm out to every subscriber. Never blocks.
func (h *AlarmHub) Publish(msg models.AlarmMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.logger.Warn("dropping slow alarm subscriber", "remote", conn.RemoteAddr())
			delete(h.clients, conn)
			close(ch)
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *AlarmHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *AlarmHub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan models.AlarmMessage, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	go h.writeLoop(conn, ch)
	go h.readLoop(conn)
}

func (h *AlarmHub) writeLoop(conn *websocket.Conn, ch <-chan models.AlarmMessage) {
	defer conn.Close()
	for msg := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			h.remove(conn)
			return
		}
	}
}

// readLoop discards client frames and notices disconnects.
func (h *AlarmHub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *AlarmHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	_ = conn.Close()
}
