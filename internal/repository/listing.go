package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"campus_market/internal/domain"
	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

// ListingRepository is the narrow read interface into the marketplace
// catalog: enough to anchor a conversation and run the self-contact check.
type ListingRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error)
}

type listingRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewListingRepository(db *pgxpool.Pool, log logger.Logger) ListingRepository {
	return &listingRepository{db: db, log: log}
}

func (r *listingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	query := `
		SELECT l.id, l.seller_id, l.title,
		       (SELECT li.url FROM listing_images li WHERE li.listing_id = l.id ORDER BY li.position LIMIT 1)
		FROM listings l
		WHERE l.id = $1
	`

	listing := &domain.Listing{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&listing.ID, &listing.SellerID, &listing.Title, &listing.FirstImageURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrListingNotFound
	}
	if err != nil {
		r.log.Error("Failed to get listing", "listing_id", id, "error", err)
		return nil, err
	}

	return listing, nil
}
