package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"campus_market/internal/domain"
	"campus_market/internal/middleware"
	"campus_market/internal/realtime"
	"campus_market/internal/service"
	"campus_market/pkg/logger"
)

const pongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin allow-list is the reverse proxy's job in this deployment
	},
}

// subscribeRequest is the only inbound frame clients send: join or leave a
// topic. Messages themselves go through the REST endpoints.
type subscribeRequest struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

type subscribeResponse struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type WebSocketHandler struct {
	hub                 *realtime.Hub
	auth                *middleware.AuthMiddleware
	conversationService service.ConversationService
	globalChatService   service.GlobalChatService
	log                 logger.Logger
}

func NewWebSocketHandler(
	hub *realtime.Hub,
	auth *middleware.AuthMiddleware,
	conversationService service.ConversationService,
	globalChatService service.GlobalChatService,
	log logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:                 hub,
		auth:                auth,
		conversationService: conversationService,
		globalChatService:   globalChatService,
		log:                 log,
	}
}

// Handle upgrades the connection and serves subscribe/unsubscribe frames
// until the client disconnects. Browsers cannot set headers on websocket
// dials, so the token arrives as a query parameter.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	user, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	conn := realtime.NewConnection(user.ID, ws)
	h.hub.Attach(conn)
	defer func() {
		h.hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "bye")
	}()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.log.Debug("WebSocket connected", "user_id", user.ID, "connection_id", conn.ID)

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("WebSocket closed unexpectedly", "user_id", user.ID, "error", err)
			}
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			h.reply(conn, subscribeResponse{Action: "error", OK: false, Error: "malformed frame"})
			continue
		}

		switch req.Action {
		case "subscribe":
			h.subscribe(c.Request.Context(), conn, user, req.Topic)
		case "unsubscribe":
			h.hub.Unsubscribe(req.Topic, conn)
			h.reply(conn, subscribeResponse{Action: "unsubscribe", Topic: req.Topic, OK: true})
		default:
			h.reply(conn, subscribeResponse{Action: req.Action, Topic: req.Topic, OK: false, Error: "unknown action"})
		}
	}
}

// subscribe authorizes the topic through the owning engine before joining.
// The hub itself never re-checks access on publish.
func (h *WebSocketHandler) subscribe(ctx context.Context, conn *realtime.Connection, user *domain.User, topic string) {
	allowed, err := h.authorize(ctx, user, topic)
	if err != nil || !allowed {
		h.reply(conn, subscribeResponse{Action: "subscribe", Topic: topic, OK: false, Error: "access denied"})
		return
	}

	h.hub.Subscribe(topic, conn)
	h.reply(conn, subscribeResponse{Action: "subscribe", Topic: topic, OK: true})
}

func (h *WebSocketHandler) authorize(ctx context.Context, user *domain.User, topic string) (bool, error) {
	namespace, rawID, found := strings.Cut(topic, "/")
	if !found {
		return false, nil
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return false, nil
	}

	switch namespace {
	case "conversations":
		return h.conversationService.CanAccess(ctx, id, user.ID)
	case "global-chat":
		return h.globalChatService.CanAccess(ctx, id, user)
	default:
		return false, nil
	}
}

func (h *WebSocketHandler) reply(conn *realtime.Connection, resp subscribeResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}
