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

type ChannelRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.GlobalChannel, error)
	ListByInstitution(ctx context.Context, institutionID int64) ([]*domain.ChannelSummary, error)
	Create(ctx context.Context, channel *domain.GlobalChannel) error
	AppendMessage(ctx context.Context, message *domain.GlobalMessage) error
	ListMessages(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*domain.GlobalMessage, int64, error)
}

type channelRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewChannelRepository(db *pgxpool.Pool, log logger.Logger) ChannelRepository {
	return &channelRepository{db: db, log: log}
}

func (r *channelRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.GlobalChannel, error) {
	query := `
		SELECT id, institution_id, name, description, is_active, created_at
		FROM global_channels
		WHERE id = $1
	`

	channel := &domain.GlobalChannel{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&channel.ID, &channel.InstitutionID, &channel.Name,
		&channel.Description, &channel.IsActive, &channel.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrChannelNotFound
	}
	if err != nil {
		r.log.Error("Failed to get channel", "channel_id", id, "error", err)
		return nil, err
	}

	return channel, nil
}

func (r *channelRepository) ListByInstitution(ctx context.Context, institutionID int64) ([]*domain.ChannelSummary, error) {
	query := `
		SELECT gc.id, gc.institution_id, gc.name, gc.description, gc.is_active, gc.created_at,
		       gm.message_text, gm.created_at, gm.sender_id, u.name
		FROM global_channels gc
		LEFT JOIN LATERAL (
			SELECT message_text, created_at, sender_id
			FROM global_messages
			WHERE channel_id = gc.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) gm ON true
		LEFT JOIN users u ON u.id = gm.sender_id
		WHERE gc.institution_id = $1 AND gc.is_active
		ORDER BY gc.name
	`

	rows, err := r.db.Query(ctx, query, institutionID)
	if err != nil {
		r.log.Error("Failed to list channels", "institution_id", institutionID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var summaries []*domain.ChannelSummary
	for rows.Next() {
		summary := &domain.ChannelSummary{}
		var lastText *string
		var lastAt *time.Time
		var lastSender *uuid.UUID
		var lastSenderName *string
		err := rows.Scan(
			&summary.ID, &summary.InstitutionID, &summary.Name,
			&summary.Description, &summary.IsActive, &summary.CreatedAt,
			&lastText, &lastAt, &lastSender, &lastSenderName,
		)
		if err != nil {
			r.log.Error("Failed to scan channel summary", "error", err)
			return nil, err
		}
		if lastText != nil && lastAt != nil && lastSender != nil {
			preview := &domain.ChannelPreview{
				Text:      *lastText,
				CreatedAt: *lastAt,
				SenderID:  *lastSender,
			}
			if lastSenderName != nil {
				preview.SenderName = *lastSenderName
			}
			summary.LastMessage = preview
		}
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// Create provisions a channel for an institution. Re-provisioning the same
// (institution, name) pair is a no-op that returns the existing row.
func (r *channelRepository) Create(ctx context.Context, channel *domain.GlobalChannel) error {
	query := `
		INSERT INTO global_channels (institution_id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (institution_id, name)
		DO UPDATE SET description = global_channels.description
		RETURNING id, is_active, created_at
	`

	err := r.db.QueryRow(ctx, query,
		channel.InstitutionID, channel.Name, channel.Description,
	).Scan(&channel.ID, &channel.IsActive, &channel.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create channel", "institution_id", channel.InstitutionID, "name", channel.Name, "error", err)
		return err
	}

	return nil
}

func (r *channelRepository) AppendMessage(ctx context.Context, message *domain.GlobalMessage) error {
	query := `
		INSERT INTO global_messages (channel_id, sender_id, message_text, image_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		message.ChannelID, message.SenderID, message.Text, message.ImageURL,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		r.log.Error("Failed to insert global message", "channel_id", message.ChannelID, "error", err)
		return err
	}

	return nil
}

func (r *channelRepository) ListMessages(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*domain.GlobalMessage, int64, error) {
	query := `
		SELECT gm.id, gm.channel_id, gm.sender_id, gm.message_text, gm.image_url, gm.created_at,
		       u.name, u.avatar_url, u.year
		FROM global_messages gm
		JOIN users u ON u.id = gm.sender_id
		WHERE gm.channel_id = $1
		ORDER BY gm.created_at ASC, gm.id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, channelID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list global messages", "channel_id", channelID, "error", err)
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*domain.GlobalMessage
	for rows.Next() {
		message := &domain.GlobalMessage{Sender: &domain.UserInfo{}}
		err := rows.Scan(
			&message.ID, &message.ChannelID, &message.SenderID,
			&message.Text, &message.ImageURL, &message.CreatedAt,
			&message.Sender.Name, &message.Sender.AvatarURL, &message.Sender.Year,
		)
		if err != nil {
			r.log.Error("Failed to scan global message", "error", err)
			return nil, 0, err
		}
		message.Sender.ID = message.SenderID
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	countQuery := `SELECT count(*) FROM global_messages WHERE channel_id = $1`
	if err := r.db.QueryRow(ctx, countQuery, channelID).Scan(&total); err != nil {
		r.log.Error("Failed to count global messages", "channel_id", channelID, "error", err)
		return nil, 0, err
	}

	return messages, total, nil
}
