package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus_market/internal/domain"
	"campus_market/internal/repository"
	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

type fakeChannelRepo struct {
	mu       sync.Mutex
	channels map[uuid.UUID]*domain.GlobalChannel
	byName   map[string]uuid.UUID
	messages map[uuid.UUID][]*domain.GlobalMessage
	clock    time.Time
}

func newFakeChannelRepo() *fakeChannelRepo {
	return &fakeChannelRepo{
		channels: make(map[uuid.UUID]*domain.GlobalChannel),
		byName:   make(map[string]uuid.UUID),
		messages: make(map[uuid.UUID][]*domain.GlobalMessage),
		clock:    time.Now(),
	}
}

func (f *fakeChannelRepo) nameKey(institutionID int64, name string) string {
	return fmt.Sprintf("%d/%s", institutionID, name)
}

func (f *fakeChannelRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.GlobalChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[id]; ok {
		copy := *ch
		return &copy, nil
	}
	return nil, apperrors.ErrChannelNotFound
}

func (f *fakeChannelRepo) ListByInstitution(_ context.Context, institutionID int64) ([]*domain.ChannelSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var summaries []*domain.ChannelSummary
	for _, ch := range f.channels {
		if ch.InstitutionID == institutionID && ch.IsActive {
			summaries = append(summaries, &domain.ChannelSummary{
				ID:            ch.ID,
				InstitutionID: ch.InstitutionID,
				Name:          ch.Name,
				Description:   ch.Description,
				IsActive:      ch.IsActive,
				CreatedAt:     ch.CreatedAt,
			})
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

func (f *fakeChannelRepo) Create(_ context.Context, channel *domain.GlobalChannel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.nameKey(channel.InstitutionID, channel.Name)
	if id, ok := f.byName[key]; ok {
		*channel = *f.channels[id]
		return nil
	}
	channel.ID = uuid.New()
	channel.IsActive = true
	channel.CreatedAt = f.clock
	stored := *channel
	f.channels[channel.ID] = &stored
	f.byName[key] = channel.ID
	return nil
}

func (f *fakeChannelRepo) AppendMessage(_ context.Context, message *domain.GlobalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[message.ChannelID]; !ok {
		return apperrors.ErrChannelNotFound
	}
	message.ID = uuid.New()
	f.clock = f.clock.Add(time.Millisecond)
	message.CreatedAt = f.clock
	stored := *message
	f.messages[message.ChannelID] = append(f.messages[message.ChannelID], &stored)
	return nil
}

func (f *fakeChannelRepo) ListMessages(_ context.Context, channelID uuid.UUID, limit, offset int) ([]*domain.GlobalMessage, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[channelID]
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	out := make([]*domain.GlobalMessage, 0, end-offset)
	for _, m := range all[offset:end] {
		copy := *m
		out = append(out, &copy)
	}
	return out, total, nil
}

type globalChatFixture struct {
	service   GlobalChatService
	repo      *fakeChannelRepo
	broadcast *fakeBroadcaster
	member    *domain.User
	stranger  *domain.User
	homeless  *domain.User
	channelID uuid.UUID
}

func newGlobalChatFixture(t *testing.T) *globalChatFixture {
	t.Helper()

	home := int64(1)
	away := int64(2)
	member := &domain.User{ID: uuid.New(), Name: "Mia Member", EmailVerified: true, InstitutionID: &home}
	stranger := &domain.User{ID: uuid.New(), Name: "Sven Stranger", EmailVerified: true, InstitutionID: &away}
	homeless := &domain.User{ID: uuid.New(), Name: "Noah NoSchool", EmailVerified: true}

	repo := newFakeChannelRepo()
	broadcast := &fakeBroadcaster{}
	cfg := testChatConfig()
	log := logger.New("error")

	svc := NewGlobalChatService(
		&repository.Repositories{Channel: repo},
		NewRateLimitService(cfg, log),
		NewModerationService(cfg.DenyList, log),
		&stubFiles{url: "http://localhost/uploads/chat/img.jpg"},
		broadcast,
		cfg,
		log,
	)

	require.NoError(t, svc.ProvisionDefaults(context.Background(), home))

	channels, err := svc.ListChannels(context.Background(), member)
	require.NoError(t, err)
	require.NotEmpty(t, channels)

	return &globalChatFixture{
		service:   svc,
		repo:      repo,
		broadcast: broadcast,
		member:    member,
		stranger:  stranger,
		homeless:  homeless,
		channelID: channels[0].ID,
	}
}

func TestGlobalChatProvisionDefaults(t *testing.T) {
	ctx := context.Background()
	fx := newGlobalChatFixture(t)

	channels, err := fx.service.ListChannels(ctx, fx.member)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "Events", channels[0].Name)
	assert.Equal(t, "General", channels[1].Name)

	// Provisioning again must not duplicate.
	require.NoError(t, fx.service.ProvisionDefaults(ctx, *fx.member.InstitutionID))
	channels, err = fx.service.ListChannels(ctx, fx.member)
	require.NoError(t, err)
	assert.Len(t, channels, 2)
}

func TestGlobalChatListChannels(t *testing.T) {
	ctx := context.Background()
	fx := newGlobalChatFixture(t)

	t.Run("other institution sees only its own channels", func(t *testing.T) {
		channels, err := fx.service.ListChannels(ctx, fx.stranger)
		require.NoError(t, err)
		assert.Empty(t, channels)
	})

	t.Run("no affiliation means no channels", func(t *testing.T) {
		_, err := fx.service.ListChannels(ctx, fx.homeless)
		assert.ErrorIs(t, err, apperrors.ErrAccessDenied)
	})
}

func TestGlobalChatSend(t *testing.T) {
	ctx := context.Background()

	t.Run("member sends and subscribers are notified", func(t *testing.T) {
		fx := newGlobalChatFixture(t)

		message, err := fx.service.Send(ctx, fx.channelID, fx.member, "anyone selling textbooks?", nil)
		require.NoError(t, err)
		assert.Equal(t, fx.member.ID, message.SenderID)

		require.Len(t, fx.broadcast.topics, 1)
		assert.Equal(t, "global-chat/"+fx.channelID.String(), fx.broadcast.topics[0])
	})

	t.Run("other institution denied", func(t *testing.T) {
		fx := newGlobalChatFixture(t)

		_, err := fx.service.Send(ctx, fx.channelID, fx.stranger, "hello from afar", nil)
		assert.ErrorIs(t, err, apperrors.ErrAccessDenied)
	})

	t.Run("no affiliation denied", func(t *testing.T) {
		fx := newGlobalChatFixture(t)

		_, err := fx.service.Send(ctx, fx.channelID, fx.homeless, "hello", nil)
		assert.ErrorIs(t, err, apperrors.ErrAccessDenied)
	})

	t.Run("unverified denied regardless of membership", func(t *testing.T) {
		fx := newGlobalChatFixture(t)
		fx.member.EmailVerified = false

		_, err := fx.service.Send(ctx, fx.channelID, fx.member, "hello", nil)
		assert.ErrorIs(t, err, apperrors.ErrUnverified)
	})

	t.Run("deny-listed content never persisted", func(t *testing.T) {
		fx := newGlobalChatFixture(t)

		_, err := fx.service.Send(ctx, fx.channelID, fx.member, "what the hell", nil)
		assert.ErrorIs(t, err, apperrors.ErrContentRejected)

		page, err := fx.service.ListMessages(ctx, fx.channelID, fx.member, 0, 20)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
	})

	t.Run("rate limit spans conversations and channels per sender", func(t *testing.T) {
		fx := newGlobalChatFixture(t)

		for i := 0; i < 5; i++ {
			_, err := fx.service.Send(ctx, fx.channelID, fx.member, fmt.Sprintf("msg %d", i), nil)
			require.NoError(t, err)
		}
		_, err := fx.service.Send(ctx, fx.channelID, fx.member, "overflow", nil)
		assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	})
}

func TestGlobalChatListMessages(t *testing.T) {
	ctx := context.Background()
	fx := newGlobalChatFixture(t)

	t.Run("stranger denied", func(t *testing.T) {
		_, err := fx.service.ListMessages(ctx, fx.channelID, fx.stranger, 0, 20)
		assert.ErrorIs(t, err, apperrors.ErrAccessDenied)
	})

	t.Run("ascending order preserved across pages", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := fx.service.Send(ctx, fx.channelID, fx.member, fmt.Sprintf("msg %d", i), nil)
			require.NoError(t, err)
		}

		first, err := fx.service.ListMessages(ctx, fx.channelID, fx.member, 0, 3)
		require.NoError(t, err)
		second, err := fx.service.ListMessages(ctx, fx.channelID, fx.member, 1, 3)
		require.NoError(t, err)

		all := append(first.Items, second.Items...)
		require.Len(t, all, 5)
		for i := 1; i < len(all); i++ {
			assert.True(t, all[i].CreatedAt.After(all[i-1].CreatedAt))
		}
		assert.Equal(t, int64(5), first.Total)
		assert.Equal(t, 2, first.TotalPages)
	})
}
