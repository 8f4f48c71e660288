package handler

import (
	"github.com/gin-gonic/gin"

	"campus_market/internal/config"
	"campus_market/internal/middleware"
	"campus_market/internal/realtime"
	"campus_market/internal/service"
	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	Conversation *ConversationHandler
	GlobalChat   *GlobalChatHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, hub *realtime.Hub, auth *middleware.AuthMiddleware, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(cfg),
		Conversation: NewConversationHandler(services.Conversation, log),
		GlobalChat:   NewGlobalChatHandler(services.GlobalChat, log),
		WebSocket:    NewWebSocketHandler(hub, auth, services.Conversation, services.GlobalChat, log),
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
}
