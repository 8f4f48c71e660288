package service

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"

	"campus_market/internal/config"
	"campus_market/internal/domain"
	"campus_market/internal/realtime"
	"campus_market/internal/repository"
	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

// GlobalChatService owns the institution-wide channels. Access is gated on
// institution membership instead of two-party participation.
type GlobalChatService interface {
	ListChannels(ctx context.Context, user *domain.User) ([]*domain.ChannelSummary, error)
	ListMessages(ctx context.Context, channelID uuid.UUID, user *domain.User, page, size int) (domain.Page[*domain.GlobalMessage], error)
	Send(ctx context.Context, channelID uuid.UUID, sender *domain.User, text string, image *multipart.FileHeader) (*domain.GlobalMessage, error)
	CanAccess(ctx context.Context, channelID uuid.UUID, user *domain.User) (bool, error)
	ProvisionDefaults(ctx context.Context, institutionID int64) error
}

// defaultChannels are created for every institution at provisioning time.
var defaultChannels = []struct {
	name        string
	description string
}{
	{"General", "General discussion for your campus"},
	{"Events", "Campus events and meetups"},
}

type globalChatService struct {
	channelRepo repository.ChannelRepository
	rateLimit   RateLimitService
	moderation  ModerationService
	files       FileStorageService
	broadcaster Broadcaster
	policy      config.ChatConfig
	log         logger.Logger
}

func NewGlobalChatService(
	repos *repository.Repositories,
	rateLimit RateLimitService,
	moderation ModerationService,
	files FileStorageService,
	broadcaster Broadcaster,
	policy config.ChatConfig,
	log logger.Logger,
) GlobalChatService {
	return &globalChatService{
		channelRepo: repos.Channel,
		rateLimit:   rateLimit,
		moderation:  moderation,
		files:       files,
		broadcaster: broadcaster,
		policy:      policy,
		log:         log,
	}
}

func (s *globalChatService) ListChannels(ctx context.Context, user *domain.User) ([]*domain.ChannelSummary, error) {
	if user.InstitutionID == nil {
		return nil, fmt.Errorf("%w: no institution affiliation", apperrors.ErrAccessDenied)
	}
	return s.channelRepo.ListByInstitution(ctx, *user.InstitutionID)
}

func (s *globalChatService) ListMessages(ctx context.Context, channelID uuid.UUID, user *domain.User, page, size int) (domain.Page[*domain.GlobalMessage], error) {
	channel, err := s.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return domain.Page[*domain.GlobalMessage]{}, err
	}
	if !user.SameInstitution(channel.InstitutionID) {
		return domain.Page[*domain.GlobalMessage]{}, fmt.Errorf("%w: channel belongs to another institution", apperrors.ErrAccessDenied)
	}

	page, size = normalizePage(page, size, s.policy)

	messages, total, err := s.channelRepo.ListMessages(ctx, channelID, size, page*size)
	if err != nil {
		return domain.Page[*domain.GlobalMessage]{}, err
	}

	return domain.NewPage(messages, page, size, total), nil
}

func (s *globalChatService) Send(ctx context.Context, channelID uuid.UUID, sender *domain.User, text string, image *multipart.FileHeader) (*domain.GlobalMessage, error) {
	if !s.rateLimit.Admit(ctx, sender.ID) {
		retry := s.rateLimit.RetryAfter(ctx, sender.ID)
		return nil, fmt.Errorf("%w: retry after %s", apperrors.ErrRateLimited, retry.Round(time.Second))
	}

	if !sender.EmailVerified {
		return nil, fmt.Errorf("%w: only verified users can send messages", apperrors.ErrUnverified)
	}

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", apperrors.ErrBadRequest)
	}
	if len(text) > s.policy.MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", apperrors.ErrBadRequest, s.policy.MaxMessageLength)
	}
	if err := s.moderation.Check(text); err != nil {
		return nil, err
	}

	channel, err := s.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !sender.SameInstitution(channel.InstitutionID) {
		return nil, fmt.Errorf("%w: channel belongs to another institution", apperrors.ErrAccessDenied)
	}

	var imageURL *string
	if image != nil {
		url, err := s.files.StoreChatImage(ctx, image)
		if err != nil {
			return nil, err
		}
		imageURL = &url
	}

	message := &domain.GlobalMessage{
		ChannelID: channelID,
		SenderID:  sender.ID,
		Text:      text,
		ImageURL:  imageURL,
	}
	if err := s.channelRepo.AppendMessage(ctx, message); err != nil {
		return nil, err
	}
	info := sender.Info()
	message.Sender = &info

	s.log.Info("Global message sent", "channel_id", channelID, "sender_id", sender.ID)

	s.publish(realtime.ChannelTopic(channelID), message)

	return message, nil
}

func (s *globalChatService) CanAccess(ctx context.Context, channelID uuid.UUID, user *domain.User) (bool, error) {
	channel, err := s.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return false, err
	}
	return user.SameInstitution(channel.InstitutionID), nil
}

// ProvisionDefaults creates the standard channel set for an institution.
// Idempotent: already-provisioned channels are left untouched.
func (s *globalChatService) ProvisionDefaults(ctx context.Context, institutionID int64) error {
	for _, def := range defaultChannels {
		channel := &domain.GlobalChannel{
			InstitutionID: institutionID,
			Name:          def.name,
			Description:   def.description,
		}
		if err := s.channelRepo.Create(ctx, channel); err != nil {
			return err
		}
	}
	s.log.Info("Default channels provisioned", "institution_id", institutionID)
	return nil
}

func (s *globalChatService) publish(topic string, data any) {
	payload, err := json.Marshal(realtime.Event{Topic: topic, Type: realtime.EventTypeGlobalMessage, Data: data})
	if err != nil {
		s.log.Error("Failed to encode realtime event", "topic", topic, "error", err)
		return
	}
	delivered := s.broadcaster.Publish(topic, payload)
	s.log.Debug("Realtime publish", "topic", topic, "delivered", delivered)
}
