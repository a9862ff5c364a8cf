package auction

import (
	"context"
	"time"

	"github.com/xtrntr/auctionhouse/internal/models"
)

// ListingStore persists listings and their lifecycle state
type ListingStore interface {
	// CreateListing stores a new listing and assigns its ID and initial version
	CreateListing(ctx context.Context, listing *models.Listing) (*models.Listing, error)
	// GetListing returns nil, nil when the listing does not exist
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	// UpdateListing writes the mutable fields if the stored version still equals
	// listing.Version. On success it bumps listing.Version and returns true.
	UpdateListing(ctx context.Context, listing *models.Listing) (bool, error)
	ListingsByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error)
	ActiveListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error)
	// ExpiredListings returns active listings whose auction end time is at or before the given time
	ExpiredListings(ctx context.Context, before time.Time) ([]models.Listing, error)
}

// BidLedger is the append-only record of accepted bids
type BidLedger interface {
	// RecordBid persists the listing's new price and end time, then appends the bid,
	// as one unit conditioned on listing.Version. Nothing is written when it returns false.
	RecordBid(ctx context.Context, listing *models.Listing, bid *models.Bid) (bool, error)
	// ListingBids returns a listing's bids in chronological order
	ListingBids(ctx context.Context, listingID int64) ([]models.Bid, error)
}

// Notifier is told about auction events. Implementations must not fail the caller.
type Notifier interface {
	Outbid(ctx context.Context, listing models.Listing, bidderID int64, history []models.Bid)
	NewBid(ctx context.Context, listing models.Listing, bid models.Bid)
	AuctionEnded(ctx context.Context, listing models.Listing)
	AuctionWon(ctx context.Context, listing models.Listing, winning models.Bid)
}
