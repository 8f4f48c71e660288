package realtime

import (
	"sync"

	"github.com/google/uuid"

	"campus_market/pkg/logger"
)

// Topic namespaces. A client may only be subscribed to topics it was
// authorized for at subscription time; Publish does not re-check access.

func ConversationTopic(conversationID uuid.UUID) string {
	return "conversations/" + conversationID.String()
}

func ChannelTopic(channelID uuid.UUID) string {
	return "global-chat/" + channelID.String()
}

// Hub is the in-process fan-out registry: topics to subscribed connections.
// Delivery is best-effort to currently connected clients; there is no queue
// and no retry. Persistence is the durable record.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	topics     map[string]map[string]*Connection
	connTopics map[string]map[string]struct{}
	log        logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		conns:      make(map[string]*Connection),
		topics:     make(map[string]map[string]*Connection),
		connTopics: make(map[string]map[string]struct{}),
		log:        log,
	}
}

// Attach registers a connection and starts its write pump.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.connTopics[conn.ID] = make(map[string]struct{})
	h.mu.Unlock()

	conn.Start()
}

// Detach removes the connection from every topic it joined.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	for topic := range h.connTopics[conn.ID] {
		h.leaveLocked(topic, conn.ID)
	}
	delete(h.connTopics, conn.ID)
	delete(h.conns, conn.ID)
	h.mu.Unlock()
}

// Subscribe joins the connection to a topic. Unknown connections are ignored
// so a racing Detach cannot resurrect state.
func (h *Hub) Subscribe(topic string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.ID]; !ok {
		return
	}

	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[string]*Connection)
		h.topics[topic] = subs
	}
	subs[conn.ID] = conn
	h.connTopics[conn.ID][topic] = struct{}{}
}

func (h *Hub) Unsubscribe(topic string, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(topic, conn.ID)
	h.mu.Unlock()
}

// Publish delivers payload to every subscriber of topic and returns the
// delivered count. Zero subscribers is normal steady-state, not an error.
func (h *Hub) Publish(topic string, payload []byte) int {
	h.mu.RLock()
	subs := h.topics[topic]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return 0
	}
	targets := make([]*Connection, 0, len(subs))
	for _, conn := range subs {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Close terminates every connection and resets the registry.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.topics = make(map[string]map[string]*Connection)
	h.connTopics = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(1001, "server shutdown")
	}
}

func (h *Hub) leaveLocked(topic, connID string) {
	subs := h.topics[topic]
	if subs == nil {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	if memberships, ok := h.connTopics[connID]; ok {
		delete(memberships, topic)
	}
}
