package service

import (
	"context"
	"fmt"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus_market/internal/config"
	"campus_market/internal/domain"
	"campus_market/internal/repository"
	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		RateLimitWindow:  10 * time.Second,
		RateLimitMax:     5,
		DenyList:         []string{"fuck", "shit", "damn", "ass", "bitch", "crap", "hell"},
		MaxMessageLength: 2000,
		DefaultPageSize:  20,
		MaxPageSize:      100,
	}
}

type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	byPair        map[string]uuid.UUID
	messages      map[uuid.UUID][]*domain.Message
	clock         time.Time
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[uuid.UUID]*domain.Conversation),
		byPair:        make(map[string]uuid.UUID),
		messages:      make(map[uuid.UUID][]*domain.Message),
		clock:         time.Now(),
	}
}

func pairKey(listingID, buyerID uuid.UUID) string {
	return listingID.String() + "/" + buyerID.String()
}

func (f *fakeConversationRepo) tick() time.Time {
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

func (f *fakeConversationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conversations[id]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, apperrors.ErrConversationNotFound
}

func (f *fakeConversationRepo) FindByListingAndBuyer(_ context.Context, listingID, buyerID uuid.UUID) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byPair[pairKey(listingID, buyerID)]; ok {
		copy := *f.conversations[id]
		return &copy, nil
	}
	return nil, apperrors.ErrConversationNotFound
}

func (f *fakeConversationRepo) Create(_ context.Context, conversation *domain.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairKey(conversation.ListingID, conversation.BuyerID)
	if id, ok := f.byPair[key]; ok {
		*conversation = *f.conversations[id]
		return nil
	}
	conversation.ID = uuid.New()
	now := f.tick()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	stored := *conversation
	f.conversations[conversation.ID] = &stored
	f.byPair[key] = conversation.ID
	return nil
}

func (f *fakeConversationRepo) ListForUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConversationSummary, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var summaries []*domain.ConversationSummary
	for _, c := range f.conversations {
		if c.HasParticipant(userID) {
			summaries = append(summaries, &domain.ConversationSummary{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt})
		}
	}
	total := int64(len(summaries))
	if offset >= len(summaries) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(summaries) {
		end = len(summaries)
	}
	return summaries[offset:end], total, nil
}

func (f *fakeConversationRepo) AppendMessage(_ context.Context, message *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversation, ok := f.conversations[message.ConversationID]
	if !ok {
		return apperrors.ErrConversationNotFound
	}
	message.ID = uuid.New()
	message.CreatedAt = f.tick()
	stored := *message
	f.messages[message.ConversationID] = append(f.messages[message.ConversationID], &stored)
	conversation.UpdatedAt = message.CreatedAt
	return nil
}

func (f *fakeConversationRepo) ListMessages(_ context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Message, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[conversationID]
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]*domain.Message, 0, end-offset)
	for _, m := range all[offset:end] {
		copy := *m
		out = append(out, &copy)
	}
	return out, total, nil
}

func (f *fakeConversationRepo) LatestMessage(_ context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[conversationID]
	if len(all) == 0 {
		return nil, apperrors.ErrNotFound
	}
	copy := *all[len(all)-1]
	return &copy, nil
}

type fakeListingRepo struct {
	listings map[uuid.UUID]*domain.Listing
}

func (f *fakeListingRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Listing, error) {
	if l, ok := f.listings[id]; ok {
		return l, nil
	}
	return nil, apperrors.ErrListingNotFound
}

type fakeUserRepo struct {
	users map[uuid.UUID]*domain.User
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.ErrNotFound
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (f *fakeBroadcaster) Publish(topic string, payload []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return 1
}

type stubFiles struct {
	url string
	err error
}

func (s *stubFiles) StoreChatImage(context.Context, *multipart.FileHeader) (string, error) {
	return s.url, s.err
}

type conversationFixture struct {
	service   ConversationService
	repo      *fakeConversationRepo
	broadcast *fakeBroadcaster
	files     *stubFiles
	buyer     *domain.User
	seller    *domain.User
	outsider  *domain.User
	listing   *domain.Listing
}

func newConversationFixture(t *testing.T) *conversationFixture {
	t.Helper()

	institution := int64(1)
	buyer := &domain.User{ID: uuid.New(), Name: "Bea Buyer", EmailVerified: true, InstitutionID: &institution}
	seller := &domain.User{ID: uuid.New(), Name: "Sal Seller", EmailVerified: true, InstitutionID: &institution}
	outsider := &domain.User{ID: uuid.New(), Name: "Oscar Other", EmailVerified: true, InstitutionID: &institution}
	listing := &domain.Listing{ID: uuid.New(), SellerID: seller.ID, Title: "Dorm fridge"}

	repo := newFakeConversationRepo()
	broadcast := &fakeBroadcaster{}
	files := &stubFiles{url: "http://localhost/uploads/chat/img.jpg"}
	cfg := testChatConfig()
	log := logger.New("error")

	repos := &repository.Repositories{
		Conversation: repo,
		Listing:      &fakeListingRepo{listings: map[uuid.UUID]*domain.Listing{listing.ID: listing}},
		User: &fakeUserRepo{users: map[uuid.UUID]*domain.User{
			buyer.ID:    buyer,
			seller.ID:   seller,
			outsider.ID: outsider,
		}},
	}

	svc := NewConversationService(
		repos,
		NewRateLimitService(cfg, log),
		NewModerationService(cfg.DenyList, log),
		files,
		broadcast,
		cfg,
		log,
	)

	return &conversationFixture{
		service:   svc,
		repo:      repo,
		broadcast: broadcast,
		files:     files,
		buyer:     buyer,
		seller:    seller,
		outsider:  outsider,
		listing:   listing,
	}
}

func (fx *conversationFixture) mustCreate(t *testing.T) uuid.UUID {
	t.Helper()
	summary, err := fx.service.GetOrCreate(context.Background(), fx.listing.ID, fx.buyer)
	require.NoError(t, err)
	return summary.ID
}

func TestConversationGetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates then returns the same thread", func(t *testing.T) {
		fx := newConversationFixture(t)

		first, err := fx.service.GetOrCreate(ctx, fx.listing.ID, fx.buyer)
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, first.ID)
		assert.Equal(t, fx.seller.ID, first.OtherUser.ID)
		assert.Equal(t, "Dorm fridge", first.Listing.Title)

		second, err := fx.service.GetOrCreate(ctx, fx.listing.ID, fx.buyer)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("rejects unverified buyer", func(t *testing.T) {
		fx := newConversationFixture(t)
		fx.buyer.EmailVerified = false

		_, err := fx.service.GetOrCreate(ctx, fx.listing.ID, fx.buyer)
		assert.ErrorIs(t, err, apperrors.ErrUnverified)
	})

	t.Run("rejects the seller contacting their own listing", func(t *testing.T) {
		fx := newConversationFixture(t)

		_, err := fx.service.GetOrCreate(ctx, fx.listing.ID, fx.seller)
		assert.ErrorIs(t, err, apperrors.ErrSelfConversation)
	})

	t.Run("unknown listing", func(t *testing.T) {
		fx := newConversationFixture(t)

		_, err := fx.service.GetOrCreate(ctx, uuid.New(), fx.buyer)
		assert.ErrorIs(t, err, apperrors.ErrListingNotFound)
	})
}

func TestConversationSend(t *testing.T) {
	ctx := context.Background()

	t.Run("persists, stamps and publishes", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)

		message, err := fx.service.Send(ctx, conversationID, fx.buyer, "Is this available?", nil)
		require.NoError(t, err)
		assert.Equal(t, fx.buyer.ID, message.SenderID)
		assert.NotEqual(t, uuid.Nil, message.ID)

		conversation, err := fx.repo.GetByID(ctx, conversationID)
		require.NoError(t, err)
		assert.Equal(t, message.CreatedAt, conversation.UpdatedAt)

		require.Len(t, fx.broadcast.topics, 1)
		assert.Equal(t, "conversations/"+conversationID.String(), fx.broadcast.topics[0])
	})

	t.Run("rejects non-participant", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)

		_, err := fx.service.Send(ctx, conversationID, fx.outsider, "let me in", nil)
		assert.ErrorIs(t, err, apperrors.ErrAccessDenied)
	})

	t.Run("rejects unverified sender", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)
		fx.buyer.EmailVerified = false

		_, err := fx.service.Send(ctx, conversationID, fx.buyer, "hello", nil)
		assert.ErrorIs(t, err, apperrors.ErrUnverified)
	})

	t.Run("deny-listed content is rejected and never persisted", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)

		_, err := fx.service.Send(ctx, conversationID, fx.buyer, "this is shit", nil)
		assert.ErrorIs(t, err, apperrors.ErrContentRejected)

		page, err := fx.service.ListMessages(ctx, conversationID, fx.buyer.ID, 0, 20)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
	})

	t.Run("sixth send inside the window is rate limited", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)

		for i := 0; i < 5; i++ {
			_, err := fx.service.Send(ctx, conversationID, fx.buyer, fmt.Sprintf("message %d", i), nil)
			require.NoError(t, err)
		}

		_, err := fx.service.Send(ctx, conversationID, fx.buyer, "one too many", nil)
		assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	})

	t.Run("storage failure aborts the whole send", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)
		fx.files.err = fmt.Errorf("%w: upstream unavailable", apperrors.ErrStorage)

		_, err := fx.service.Send(ctx, conversationID, fx.buyer, "with attachment", &multipart.FileHeader{Filename: "x.jpg"})
		assert.ErrorIs(t, err, apperrors.ErrStorage)

		page, err := fx.service.ListMessages(ctx, conversationID, fx.buyer.ID, 0, 20)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
	})

	t.Run("empty and oversized text rejected", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)

		_, err := fx.service.Send(ctx, conversationID, fx.buyer, "   ", nil)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)

		long := make([]byte, 2001)
		for i := range long {
			long[i] = 'a'
		}
		_, err = fx.service.Send(ctx, conversationID, fx.buyer, string(long), nil)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})
}

func TestConversationListMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("denies non-participant", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)

		_, err := fx.service.ListMessages(ctx, conversationID, fx.outsider.ID, 0, 20)
		assert.ErrorIs(t, err, apperrors.ErrAccessDenied)
	})

	t.Run("pages reassemble full ascending history", func(t *testing.T) {
		fx := newConversationFixture(t)
		conversationID := fx.mustCreate(t)

		// Alternate senders so neither hits the rate limit.
		senders := []*domain.User{fx.buyer, fx.seller}
		for i := 0; i < 9; i++ {
			_, err := fx.service.Send(ctx, conversationID, senders[i%2], fmt.Sprintf("message %d", i), nil)
			require.NoError(t, err)
		}

		var collected []*domain.Message
		for page := 0; ; page++ {
			result, err := fx.service.ListMessages(ctx, conversationID, fx.buyer.ID, page, 4)
			require.NoError(t, err)
			collected = append(collected, result.Items...)
			if len(result.Items) < 4 {
				break
			}
		}

		require.Len(t, collected, 9)
		seen := make(map[uuid.UUID]bool)
		for i, m := range collected {
			assert.Equal(t, fmt.Sprintf("message %d", i), m.Text)
			assert.False(t, seen[m.ID], "duplicate message across pages")
			seen[m.ID] = true
			if i > 0 {
				assert.False(t, m.CreatedAt.Before(collected[i-1].CreatedAt), "created_at must be non-decreasing")
			}
		}
	})
}

func TestConversationCanAccess(t *testing.T) {
	ctx := context.Background()
	fx := newConversationFixture(t)
	conversationID := fx.mustCreate(t)

	for _, tc := range []struct {
		name   string
		userID uuid.UUID
		want   bool
	}{
		{"buyer", fx.buyer.ID, true},
		{"seller", fx.seller.ID, true},
		{"outsider", fx.outsider.ID, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fx.service.CanAccess(ctx, conversationID, tc.userID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
