package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains session_id -> set of watcher connections and fans out
// check-in events. Uses Redis pub/sub for horizontal scaling: events are
// published to Redis and every instance's subscriber delivers them to its
// local watchers exactly once.
type Hub struct {
	// sessionID -> map[clientID]*Client
	sessions map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per session
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    Publisher
	redisSub Subscriber
}

// Publisher publishes session events to Redis for cross-instance delivery.
type Publisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a session's channel and invokes handler per event.
type Subscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    pub,
		redisSub: sub,
	}
}

// Register adds a watcher to a session room. Starts the Redis subscription
// for this session if it is the first watcher on this instance.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeSession(c.SessionID, func(event string, payload []byte) {
				h.broadcastLocal(c.SessionID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.SessionID] = cancel
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("watcher joined session feed",
		zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Unregister removes a watcher. Cancels the Redis subscription when the last
// watcher on this instance leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("watcher left session feed",
		zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// BroadcastToSession delivers an event to every watcher of a session across
// all instances. With Redis wired it publishes only; the subscriber callback
// performs the single local delivery, so no watcher sees the event twice.
func (h *Hub) BroadcastToSession(sessionID uuid.UUID, event string, payload interface{}) {
	if h.redis != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		_ = h.redis.PublishSessionEvent(sessionID, event, data)
		return
	}
	h.broadcastLocal(sessionID, event, payload)
}

func (h *Hub) broadcastLocal(sessionID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.sessions[sessionID]
	h.mu.RUnlock()

	if clients == nil {
		return
	}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// WatcherCount returns the number of connected watchers on this instance.
func (h *Hub) WatcherCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
