package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campus_market/internal/domain"
	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

type ConversationRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	FindByListingAndBuyer(ctx context.Context, listingID, buyerID uuid.UUID) (*domain.Conversation, error)
	Create(ctx context.Context, conversation *domain.Conversation) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConversationSummary, int64, error)
	AppendMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Message, int64, error)
	LatestMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error)
}

type conversationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewConversationRepository(db *pgxpool.Pool, log logger.Logger) ConversationRepository {
	return &conversationRepository{db: db, log: log}
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, listing_id, buyer_id, seller_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	conversation := &domain.Conversation{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&conversation.ID, &conversation.ListingID, &conversation.BuyerID,
		&conversation.SellerID, &conversation.CreatedAt, &conversation.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrConversationNotFound
	}
	if err != nil {
		r.log.Error("Failed to get conversation", "conversation_id", id, "error", err)
		return nil, err
	}

	return conversation, nil
}

func (r *conversationRepository) FindByListingAndBuyer(ctx context.Context, listingID, buyerID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, listing_id, buyer_id, seller_id, created_at, updated_at
		FROM conversations
		WHERE listing_id = $1 AND buyer_id = $2
	`

	conversation := &domain.Conversation{}
	err := r.db.QueryRow(ctx, query, listingID, buyerID).Scan(
		&conversation.ID, &conversation.ListingID, &conversation.BuyerID,
		&conversation.SellerID, &conversation.CreatedAt, &conversation.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrConversationNotFound
	}
	if err != nil {
		r.log.Error("Failed to find conversation", "listing_id", listingID, "buyer_id", buyerID, "error", err)
		return nil, err
	}

	return conversation, nil
}

// Create inserts the thread for a (listing, buyer) pair. The upsert clause
// makes concurrent first-contact attempts converge on one row: the loser of
// the race gets the existing thread back instead of a unique violation.
func (r *conversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	query := `
		INSERT INTO conversations (listing_id, buyer_id, seller_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (listing_id, buyer_id)
		DO UPDATE SET seller_id = conversations.seller_id
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		conversation.ListingID, conversation.BuyerID, conversation.SellerID,
	).Scan(&conversation.ID, &conversation.CreatedAt, &conversation.UpdatedAt)
	if err != nil {
		r.log.Error("Failed to create conversation", "listing_id", conversation.ListingID, "error", err)
		return err
	}

	return nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConversationSummary, int64, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at,
		       l.id, l.title,
		       (SELECT li.url FROM listing_images li WHERE li.listing_id = l.id ORDER BY li.position LIMIT 1),
		       ou.id, ou.name, ou.avatar_url,
		       m.message_text, m.created_at, m.sender_id
		FROM conversations c
		JOIN listings l ON l.id = c.listing_id
		JOIN users ou ON ou.id = CASE WHEN c.buyer_id = $1 THEN c.seller_id ELSE c.buyer_id END
		LEFT JOIN LATERAL (
			SELECT message_text, created_at, sender_id
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) m ON true
		WHERE c.buyer_id = $1 OR c.seller_id = $1
		ORDER BY c.updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list conversations", "user_id", userID, "error", err)
		return nil, 0, err
	}
	defer rows.Close()

	var summaries []*domain.ConversationSummary
	for rows.Next() {
		summary := &domain.ConversationSummary{}
		var lastText *string
		var lastAt *time.Time
		var lastSender *uuid.UUID
		err := rows.Scan(
			&summary.ID, &summary.CreatedAt, &summary.UpdatedAt,
			&summary.Listing.ID, &summary.Listing.Title, &summary.Listing.FirstImage,
			&summary.OtherUser.ID, &summary.OtherUser.Name, &summary.OtherUser.AvatarURL,
			&lastText, &lastAt, &lastSender,
		)
		if err != nil {
			r.log.Error("Failed to scan conversation summary", "error", err)
			return nil, 0, err
		}
		if lastText != nil && lastAt != nil && lastSender != nil {
			summary.LastMessage = &domain.MessagePreview{
				Text:      *lastText,
				CreatedAt: *lastAt,
				FromMe:    *lastSender == userID,
			}
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	countQuery := `SELECT count(*) FROM conversations WHERE buyer_id = $1 OR seller_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		r.log.Error("Failed to count conversations", "user_id", userID, "error", err)
		return nil, 0, err
	}

	return summaries, total, nil
}

// AppendMessage persists the message and stamps the parent conversation's
// updated_at with the message's creation time in a single transaction, so
// the thread ordering invariant holds under concurrent sends.
func (r *conversationRepository) AppendMessage(ctx context.Context, message *domain.Message) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.log.Error("Failed to begin transaction", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO messages (conversation_id, sender_id, message_text, image_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		message.ConversationID, message.SenderID, message.Text, message.ImageURL,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		r.log.Error("Failed to insert message", "conversation_id", message.ConversationID, "error", err)
		return err
	}

	stampQuery := `UPDATE conversations SET updated_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, stampQuery, message.ConversationID, message.CreatedAt); err != nil {
		r.log.Error("Failed to stamp conversation", "conversation_id", message.ConversationID, "error", err)
		return err
	}

	return tx.Commit(ctx)
}

func (r *conversationRepository) LatestMessage(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, message_text, image_url, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	message := &domain.Message{}
	err := r.db.QueryRow(ctx, query, conversationID).Scan(
		&message.ID, &message.ConversationID, &message.SenderID,
		&message.Text, &message.ImageURL, &message.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		r.log.Error("Failed to get latest message", "conversation_id", conversationID, "error", err)
		return nil, err
	}

	return message, nil
}

func (r *conversationRepository) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Message, int64, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.message_text, m.image_url, m.created_at,
		       u.name, u.avatar_url, u.year
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list messages", "conversation_id", conversationID, "error", err)
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{Sender: &domain.UserInfo{}}
		err := rows.Scan(
			&message.ID, &message.ConversationID, &message.SenderID,
			&message.Text, &message.ImageURL, &message.CreatedAt,
			&message.Sender.Name, &message.Sender.AvatarURL, &message.Sender.Year,
		)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, 0, err
		}
		message.Sender.ID = message.SenderID
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	countQuery := `SELECT count(*) FROM messages WHERE conversation_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, conversationID).Scan(&total); err != nil {
		r.log.Error("Failed to count messages", "conversation_id", conversationID, "error", err)
		return nil, 0, err
	}

	return messages, total, nil
}
