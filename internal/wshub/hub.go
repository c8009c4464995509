package wshub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"typerace/internal/metrics"
)

// ClientMessage is the JSON structure received from clients.
type ClientMessage struct {
	Type     string  `json:"t"`
	Progress string  `json:"progress,omitempty"`
	Phrase   *string `json:"phrase,omitempty"`
	WPM      *int    `json:"wpm,omitempty"`
}

// ServerMessage is the JSON structure sent to clients.
type ServerMessage struct {
	Type   string `json:"t"`
	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Client represents a single WebSocket connection in the hub.
type Client struct {
	UserID string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub tracks one connection per user per room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]*Client),
		metrics: m,
		logger:  logger.With().Str("component", "wshub").Logger(),
	}
}

// Register adds a client to its room. An older connection for the same user
// is dropped: its Send channel is closed and its socket shut down.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	room := h.rooms[c.RoomID]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[c.RoomID] = room
	}
	old, replaced := room[c.UserID]
	if replaced {
		close(old.Send)
		h.metrics.WSSessions.Dec()
	}
	room[c.UserID] = c
	h.metrics.WSSessions.Inc()
	h.mu.Unlock()

	if replaced && old.Conn != nil {
		// Close waits for the peer's handshake; don't hold up the new session.
		go old.Conn.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
}

// Unregister removes c and closes its Send channel, then tells the rest of the
// room. It reports false when c had already been replaced or removed.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	room := h.rooms[c.RoomID]
	current, ok := room[c.UserID]
	ok = ok && current == c
	if ok {
		close(c.Send)
		delete(room, c.UserID)
		if len(room) == 0 {
			delete(h.rooms, c.RoomID)
		}
		h.metrics.WSSessions.Dec()
	}
	h.mu.Unlock()

	if ok {
		h.BroadcastExcept(c.RoomID, c.UserID, ServerMessage{
			Type:   "leave",
			RoomID: c.RoomID,
			UserID: c.UserID,
		})
	}
	return ok
}

// Connected is the number of live connections in a room.
func (h *Hub) Connected(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Deliver sends msg to c if it is still registered. Non-blocking: drops if channel full.
func (h *Hub) Deliver(c *Client, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.rooms[c.RoomID][c.UserID] != c {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// BroadcastExcept sends a message to everyone in the room except the sender. Non-blocking: drops if channel full.
func (h *Hub) BroadcastExcept(roomID, senderID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.rooms[roomID] {
		if id == senderID {
			continue
		}
		select {
		case c.Send <- data:
		default:
			// Drop message if channel full
		}
	}
}
