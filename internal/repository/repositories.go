package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"campus_market/pkg/logger"
)

type Repositories struct {
	User         UserRepository
	Listing      ListingRepository
	Conversation ConversationRepository
	Channel      ChannelRepository
	RateLimit    RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, log logger.Logger) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db, log),
		Listing:      NewListingRepository(db, log),
		Conversation: NewConversationRepository(db, log),
		Channel:      NewChannelRepository(db, log),
		RateLimit:    NewRateLimitRepository(redis, log),
	}
}
