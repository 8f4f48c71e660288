package domain

import (
	"time"

	"github.com/google/uuid"
)

// GlobalChannel is an institution-wide chat stream ("General", "Events", ...).
// Channels are provisioned together with the institution, not by end users.
type GlobalChannel struct {
	ID            uuid.UUID `json:"id"`
	InstitutionID int64     `json:"institution_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// GlobalMessage is an immutable entry in a channel, with the same ordering
// contract as a conversation Message.
type GlobalMessage struct {
	ID        uuid.UUID `json:"id"`
	ChannelID uuid.UUID `json:"channel_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Text      string    `json:"message_text"`
	ImageURL  *string   `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Sender    *UserInfo `json:"sender,omitempty"`
}

// ChannelPreview is the latest-message snippet shown on a channel card.
type ChannelPreview struct {
	Text       string    `json:"message_text"`
	CreatedAt  time.Time `json:"created_at"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
}

// ChannelSummary is the list-view projection of a channel.
type ChannelSummary struct {
	ID            uuid.UUID       `json:"id"`
	InstitutionID int64           `json:"institution_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	LastMessage   *ChannelPreview `json:"last_message,omitempty"`
}
