package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Session-change event types pushed to connected clients so secondary
// tabs and clients can refetch the session list or an open transcript.
const (
	EventMessageAppended = "message_appended"
	EventSessionDeleted  = "session_deleted"
)

const eventsChannel = "chat:events"

type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans session events out to every connected websocket. With a Redis
// pub/sub client it also relays events published by other server instances;
// without one it broadcasts locally only.
type Hub struct {
	mu          sync.RWMutex
	connections map[*websocket.Conn]struct{}
	redisClient *redis.Client
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		redisClient: redisClient,
	}
}

// Start subscribes to the shared event channel. No-op without Redis.
func (h *Hub) Start(ctx context.Context) {
	if h.redisClient == nil {
		return
	}
	go h.subscribeToPubSub(ctx)
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.connections[conn] = struct{}{}
	total := len(h.connections)
	h.mu.Unlock()
	log.Debug().Int("total", total).Msg("WebSocket connected")

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) unregisterConnection(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()
	delete(h.connections, conn)
	log.Debug().Int("total", len(h.connections)).Msg("WebSocket disconnected")
}

func (h *Hub) subscribeToPubSub(ctx context.Context) {
	pubsub := h.redisClient.Subscribe(ctx, eventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast([]byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

// Publish delivers an event to all clients, through Redis when configured
// so every instance's hub sees it. Failures are logged and swallowed: event
// delivery must never fail the chat operation that triggered it.
func (h *Hub) Publish(ctx context.Context, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	if h.redisClient != nil {
		if err := h.redisClient.Publish(ctx, eventsChannel, data).Err(); err != nil {
			log.Warn().Err(err).Str("type", evt.Type).Msg("failed to publish session event")
		}
		return
	}
	h.broadcast(data)
}

// MessageAppended and SessionDeleted satisfy the chat service's event sink.

func (h *Hub) MessageAppended(ctx context.Context, sessionID uuid.UUID) {
	h.Publish(ctx, Event{Type: EventMessageAppended, SessionID: sessionID.String()})
}

func (h *Hub) SessionDeleted(ctx context.Context, sessionID uuid.UUID) {
	h.Publish(ctx, Event{Type: EventSessionDeleted, SessionID: sessionID.String()})
}
