package service

import (
	"campus_market/internal/config"
	"campus_market/internal/repository"
	"campus_market/pkg/logger"
)

type Services struct {
	RateLimit    RateLimitService
	Moderation   ModerationService
	Files        FileStorageService
	Conversation ConversationService
	GlobalChat   GlobalChatService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, broadcaster Broadcaster, log logger.Logger) *Services {
	rateLimit := NewRateLimitService(cfg.Chat, log)
	moderation := NewModerationService(cfg.Chat.DenyList, log)
	files := NewFileStorageService(cfg.Upload, log)

	return &Services{
		RateLimit:    rateLimit,
		Moderation:   moderation,
		Files:        files,
		Conversation: NewConversationService(repos, rateLimit, moderation, files, broadcaster, cfg.Chat, log),
		GlobalChat:   NewGlobalChatService(repos, rateLimit, moderation, files, broadcaster, cfg.Chat, log),
	}
}
