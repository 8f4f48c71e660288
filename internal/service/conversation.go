package service

import (
	"context"
	"encoding/json"
	"errors"
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

// Broadcaster is the realtime fan-out as the engines see it: fire-and-forget
// delivery to whoever is subscribed right now.
type Broadcaster interface {
	Publish(topic string, payload []byte) int
}

// ConversationService owns direct buyer/seller threads anchored to listings.
type ConversationService interface {
	ListForUser(ctx context.Context, user *domain.User, page, size int) (domain.Page[*domain.ConversationSummary], error)
	GetOrCreate(ctx context.Context, listingID uuid.UUID, buyer *domain.User) (*domain.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID, userID uuid.UUID, page, size int) (domain.Page[*domain.Message], error)
	Send(ctx context.Context, conversationID uuid.UUID, sender *domain.User, text string, image *multipart.FileHeader) (*domain.Message, error)
	CanAccess(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

type conversationService struct {
	conversationRepo repository.ConversationRepository
	listingRepo      repository.ListingRepository
	userRepo         repository.UserRepository
	rateLimit        RateLimitService
	moderation       ModerationService
	files            FileStorageService
	broadcaster      Broadcaster
	policy           config.ChatConfig
	log              logger.Logger
}

func NewConversationService(
	repos *repository.Repositories,
	rateLimit RateLimitService,
	moderation ModerationService,
	files FileStorageService,
	broadcaster Broadcaster,
	policy config.ChatConfig,
	log logger.Logger,
) ConversationService {
	return &conversationService{
		conversationRepo: repos.Conversation,
		listingRepo:      repos.Listing,
		userRepo:         repos.User,
		rateLimit:        rateLimit,
		moderation:       moderation,
		files:            files,
		broadcaster:      broadcaster,
		policy:           policy,
		log:              log,
	}
}

func (s *conversationService) ListForUser(ctx context.Context, user *domain.User, page, size int) (domain.Page[*domain.ConversationSummary], error) {
	page, size = normalizePage(page, size, s.policy)

	summaries, total, err := s.conversationRepo.ListForUser(ctx, user.ID, size, page*size)
	if err != nil {
		return domain.Page[*domain.ConversationSummary]{}, err
	}

	return domain.NewPage(summaries, page, size, total), nil
}

func (s *conversationService) GetOrCreate(ctx context.Context, listingID uuid.UUID, buyer *domain.User) (*domain.ConversationSummary, error) {
	if !buyer.EmailVerified {
		return nil, fmt.Errorf("%w: only verified users can start conversations", apperrors.ErrUnverified)
	}

	listing, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}

	if listing.SellerID == buyer.ID {
		return nil, apperrors.ErrSelfConversation
	}

	conversation, err := s.conversationRepo.FindByListingAndBuyer(ctx, listingID, buyer.ID)
	if errors.Is(err, apperrors.ErrConversationNotFound) {
		conversation = &domain.Conversation{
			ListingID: listingID,
			BuyerID:   buyer.ID,
			SellerID:  listing.SellerID,
		}
		if err := s.conversationRepo.Create(ctx, conversation); err != nil {
			return nil, err
		}
		s.log.Info("Conversation created",
			"conversation_id", conversation.ID,
			"listing_id", listingID,
			"buyer_id", buyer.ID,
			"seller_id", listing.SellerID,
		)
	} else if err != nil {
		return nil, err
	}

	return s.summarize(ctx, conversation, listing, buyer.ID)
}

func (s *conversationService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID, page, size int) (domain.Page[*domain.Message], error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return domain.Page[*domain.Message]{}, err
	}
	if !conversation.HasParticipant(userID) {
		return domain.Page[*domain.Message]{}, fmt.Errorf("%w: not a participant of this conversation", apperrors.ErrAccessDenied)
	}

	page, size = normalizePage(page, size, s.policy)

	messages, total, err := s.conversationRepo.ListMessages(ctx, conversationID, size, page*size)
	if err != nil {
		return domain.Page[*domain.Message]{}, err
	}

	return domain.NewPage(messages, page, size, total), nil
}

func (s *conversationService) Send(ctx context.Context, conversationID uuid.UUID, sender *domain.User, text string, image *multipart.FileHeader) (*domain.Message, error) {
	if !s.rateLimit.Admit(ctx, sender.ID) {
		retry := s.rateLimit.RetryAfter(ctx, sender.ID)
		return nil, fmt.Errorf("%w: retry after %s", apperrors.ErrRateLimited, retry.Round(time.Second))
	}

	if !sender.EmailVerified {
		return nil, fmt.Errorf("%w: only verified users can send messages", apperrors.ErrUnverified)
	}

	if err := s.validateText(text); err != nil {
		return nil, err
	}
	if err := s.moderation.Check(text); err != nil {
		return nil, err
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(sender.ID) {
		return nil, fmt.Errorf("%w: not a participant of this conversation", apperrors.ErrAccessDenied)
	}

	// The image goes to storage first; if that fails the send fails whole
	// and no text-only message is left behind.
	var imageURL *string
	if image != nil {
		url, err := s.files.StoreChatImage(ctx, image)
		if err != nil {
			return nil, err
		}
		imageURL = &url
	}

	message := &domain.Message{
		ConversationID: conversationID,
		SenderID:       sender.ID,
		Text:           text,
		ImageURL:       imageURL,
	}
	if err := s.conversationRepo.AppendMessage(ctx, message); err != nil {
		return nil, err
	}
	info := sender.Info()
	message.Sender = &info

	s.log.Info("Message sent", "conversation_id", conversationID, "sender_id", sender.ID)

	s.publish(realtime.ConversationTopic(conversationID), realtime.EventTypeMessage, message)

	return message, nil
}

func (s *conversationService) CanAccess(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return conversation.HasParticipant(userID), nil
}

func (s *conversationService) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message text is required", apperrors.ErrBadRequest)
	}
	if len(text) > s.policy.MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters", apperrors.ErrBadRequest, s.policy.MaxMessageLength)
	}
	return nil
}

// publish is best-effort: persistence already succeeded, so a delivery
// failure only means offline clients will catch up through ListMessages.
func (s *conversationService) publish(topic, eventType string, data any) {
	payload, err := json.Marshal(realtime.Event{Topic: topic, Type: eventType, Data: data})
	if err != nil {
		s.log.Error("Failed to encode realtime event", "topic", topic, "error", err)
		return
	}
	delivered := s.broadcaster.Publish(topic, payload)
	s.log.Debug("Realtime publish", "topic", topic, "delivered", delivered)
}

func (s *conversationService) summarize(ctx context.Context, conversation *domain.Conversation, listing *domain.Listing, currentUserID uuid.UUID) (*domain.ConversationSummary, error) {
	other, err := s.userRepo.GetByID(ctx, conversation.Counterpart(currentUserID))
	if err != nil {
		return nil, err
	}

	summary := &domain.ConversationSummary{
		ID: conversation.ID,
		Listing: domain.ListingInfo{
			ID:         listing.ID,
			Title:      listing.Title,
			FirstImage: listing.FirstImageURL,
		},
		OtherUser: other.Info(),
		CreatedAt: conversation.CreatedAt,
		UpdatedAt: conversation.UpdatedAt,
	}

	latest, err := s.conversationRepo.LatestMessage(ctx, conversation.ID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if latest != nil {
		summary.LastMessage = &domain.MessagePreview{
			Text:      latest.Text,
			CreatedAt: latest.CreatedAt,
			FromMe:    latest.SenderID == currentUserID,
		}
	}

	return summary, nil
}

func normalizePage(page, size int, policy config.ChatConfig) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = policy.DefaultPageSize
	}
	if size > policy.MaxPageSize {
		size = policy.MaxPageSize
	}
	return page, size
}
