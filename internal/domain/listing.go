package domain

import "github.com/google/uuid"

// Listing is the marketplace item a conversation is anchored to. The listing
// catalog is owned by the marketplace service; messaging reads only the
// fields needed for conversation metadata and the self-conversation check.
type Listing struct {
	ID            uuid.UUID `json:"id"`
	SellerID      uuid.UUID `json:"seller_id"`
	Title         string    `json:"title"`
	FirstImageURL *string   `json:"first_image_url,omitempty"`
}

// ListingInfo is the listing slice embedded in conversation summaries.
type ListingInfo struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	FirstImage *string   `json:"first_image,omitempty"`
}
