package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a direct thread between the buyer who contacted a listing
// and that listing's seller. Exactly one conversation exists per
// (listing, buyer) pair. UpdatedAt tracks the latest message's CreatedAt.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	ListingID uuid.UUID `json:"listing_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasParticipant reports whether the user is one of the two fixed
// participants of the thread.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.BuyerID == userID || c.SellerID == userID
}

// Counterpart returns the other participant's id.
func (c *Conversation) Counterpart(userID uuid.UUID) uuid.UUID {
	if c.BuyerID == userID {
		return c.SellerID
	}
	return c.BuyerID
}

// Message is an immutable chat entry inside a conversation, ordered by
// CreatedAt assigned at persistence time.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Text           string    `json:"message_text"`
	ImageURL       *string   `json:"image_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Sender         *UserInfo `json:"sender,omitempty"`
}

// MessagePreview is the latest-message snippet shown on a conversation card.
type MessagePreview struct {
	Text      string    `json:"message_text"`
	CreatedAt time.Time `json:"created_at"`
	FromMe    bool      `json:"from_current_user"`
}

// ConversationSummary is the list-view projection of a thread for one of its
// participants: the listing, the counterpart, and the latest message.
type ConversationSummary struct {
	ID          uuid.UUID       `json:"id"`
	Listing     ListingInfo     `json:"listing"`
	OtherUser   UserInfo        `json:"other_user"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
