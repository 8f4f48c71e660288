package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campus_market/internal/middleware"
	"campus_market/internal/service"
	"campus_market/pkg/logger"
)

type GlobalChatHandler struct {
	globalChatService service.GlobalChatService
	log               logger.Logger
}

func NewGlobalChatHandler(globalChatService service.GlobalChatService, log logger.Logger) *GlobalChatHandler {
	return &GlobalChatHandler{
		globalChatService: globalChatService,
		log:               log,
	}
}

func (h *GlobalChatHandler) ListChannels(c *gin.Context) {
	user := middleware.CurrentUser(c)

	channels, err := h.globalChatService.ListChannels(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, channels)
}

func (h *GlobalChatHandler) GetMessages(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel ID"})
		return
	}
	user := middleware.CurrentUser(c)
	page, size := pageParams(c)

	result, err := h.globalChatService.ListMessages(c.Request.Context(), channelID, user, page, size)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GlobalChatHandler) SendMessage(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel ID"})
		return
	}
	user := middleware.CurrentUser(c)

	text := c.PostForm("message_text")
	image, err := c.FormFile("image")
	if err != nil {
		image = nil
	}

	message, err := h.globalChatService.Send(c.Request.Context(), channelID, user, text, image)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}
