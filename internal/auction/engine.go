package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/xtrntr/auctionhouse/internal/models"
)

// DefaultAuctionDuration is how long an auction runs after its first bid
const DefaultAuctionDuration = 10 * time.Minute

// bidTimeResolution matches the timestamp precision of the Postgres ledger
const bidTimeResolution = time.Microsecond

// Engine validates and applies bids and owns the listing state machine
type Engine struct {
	listings ListingStore
	bids     BidLedger
	notifier Notifier
	locks    *lockTable
	duration time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithAuctionDuration sets the countdown started by the first bid
func WithAuctionDuration(d time.Duration) Option {
	return func(e *Engine) { e.duration = d }
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine's logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a new auction engine
func NewEngine(listings ListingStore, bids BidLedger, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		listings: listings,
		bids:     bids,
		notifier: notifier,
		locks:    newLockTable(),
		duration: DefaultAuctionDuration,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateListing validates and stores a new active listing
func (e *Engine) CreateListing(ctx context.Context, ownerID int64, title, description string, startingPrice float64, imageURL string) (*models.Listing, error) {
	// Validate input
	if ownerID <= 0 {
		return nil, validationError("owner is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, validationError("title cannot be empty")
	}
	if strings.TrimSpace(description) == "" {
		return nil, validationError("description cannot be empty")
	}
	if strings.TrimSpace(imageURL) == "" {
		return nil, validationError("image URL cannot be empty")
	}
	if !validAmount(startingPrice) {
		return nil, validationError("starting price must be a positive number")
	}

	listing, err := e.listings.CreateListing(ctx, &models.Listing{
		OwnerID:       ownerID,
		Title:         title,
		Description:   description,
		ImageURL:      imageURL,
		StartingPrice: startingPrice,
		CurrentPrice:  startingPrice,
		Active:        true,
		CreatedAt:     e.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	e.logger.Info("listing created", "listing_id", listing.ID, "owner_id", ownerID, "starting_price", startingPrice)
	return listing, nil
}

// PlaceBid accepts a bid if the listing is active and the amount beats the current price.
// The first accepted bid starts the auction clock; later bids never move it.
func (e *Engine) PlaceBid(ctx context.Context, bidderID, listingID int64, amount float64) (*models.Bid, error) {
	if bidderID <= 0 {
		return nil, validationError("bidder is required")
	}

	var (
		listing *models.Listing
		bid     *models.Bid
		history []models.Bid
		err     error
	)
	// A conflict means another writer changed the listing after we read it; re-read once
	for attempt := 1; attempt <= 2; attempt++ {
		listing, bid, history, err = e.tryPlaceBid(ctx, bidderID, listingID, amount)
		if !errors.Is(err, ErrConflict) {
			break
		}
		e.logger.Warn("bid conflicted with concurrent update", "listing_id", listingID, "bidder_id", bidderID, "attempt", attempt)
	}
	if err != nil {
		return nil, err
	}

	// The bid is committed; notifications must not die with the caller's request
	notifyCtx := context.WithoutCancel(ctx)
	e.notifier.Outbid(notifyCtx, *listing, bidderID, history)
	e.notifier.NewBid(notifyCtx, *listing, *bid)

	e.logger.Info("bid placed", "listing_id", listingID, "bidder_id", bidderID, "amount", amount)
	return bid, nil
}

// tryPlaceBid runs the read-check-write sequence under the listing's lock
func (e *Engine) tryPlaceBid(ctx context.Context, bidderID, listingID int64, amount float64) (*models.Listing, *models.Bid, []models.Bid, error) {
	unlock := e.locks.lock(listingID)
	defer unlock()

	listing, err := e.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get listing: %w", err)
	}
	if listing == nil {
		return nil, nil, nil, notFoundError(listingID)
	}

	if !listing.Active {
		e.logger.Warn("bid on inactive auction", "listing_id", listingID, "bidder_id", bidderID)
		return nil, nil, nil, fmt.Errorf("%w: listing %d", ErrInvalidState, listingID)
	}

	if !validAmount(amount) || amount <= listing.CurrentPrice {
		e.logger.Warn("bid too low", "listing_id", listingID, "bidder_id", bidderID, "amount", amount, "current_price", listing.CurrentPrice)
		return nil, nil, nil, validationError("bid too low: amount must be higher than the current price %.2f", listing.CurrentPrice)
	}

	history, err := e.bids.ListingBids(ctx, listingID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get bid history: %w", err)
	}

	now := e.now().UTC().Truncate(bidTimeResolution)

	// First bid starts the clock
	if listing.AuctionEndTime == nil {
		end := now.Add(e.duration)
		listing.AuctionEndTime = &end
		e.logger.Info("auction end time set", "listing_id", listingID, "auction_end_time", end)
	}

	// Keep timestamps strictly increasing even if the clock stalls or steps back
	timestamp := now
	if n := len(history); n > 0 && !timestamp.After(history[n-1].Timestamp) {
		timestamp = history[n-1].Timestamp.Add(bidTimeResolution)
	}

	bid := &models.Bid{
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    amount,
		Timestamp: timestamp,
	}
	listing.CurrentPrice = amount

	applied, err := e.bids.RecordBid(ctx, listing, bid)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to record bid: %w", err)
	}
	if !applied {
		return nil, nil, nil, fmt.Errorf("%w: listing %d", ErrConflict, listingID)
	}

	history = append(history, *bid)
	return listing, bid, history, nil
}

// CloseListing deactivates a listing immediately, regardless of its end time.
// It does not declare a winner; only the sweeper does that.
func (e *Engine) CloseListing(ctx context.Context, listingID int64) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		err = e.tryCloseListing(ctx, listingID)
		if !errors.Is(err, ErrConflict) {
			break
		}
		e.logger.Warn("close conflicted with concurrent update", "listing_id", listingID, "attempt", attempt)
	}
	return err
}

func (e *Engine) tryCloseListing(ctx context.Context, listingID int64) error {
	unlock := e.locks.lock(listingID)
	defer unlock()

	listing, err := e.listings.GetListing(ctx, listingID)
	if err != nil {
		return fmt.Errorf("failed to get listing: %w", err)
	}
	if listing == nil {
		return notFoundError(listingID)
	}
	if !listing.Active {
		return nil
	}

	listing.Active = false
	applied, err := e.listings.UpdateListing(ctx, listing)
	if err != nil {
		return fmt.Errorf("failed to close listing: %w", err)
	}
	if !applied {
		return fmt.Errorf("%w: listing %d", ErrConflict, listingID)
	}

	e.logger.Info("listing closed", "listing_id", listingID)
	return nil
}

// closeExpired deactivates a listing if it is still active and past its end time.
// It returns the closed listing and its bids, or nil when there was nothing to do.
func (e *Engine) closeExpired(ctx context.Context, listingID int64, now time.Time) (*models.Listing, []models.Bid, error) {
	unlock := e.locks.lock(listingID)
	defer unlock()

	// Re-read under the lock; a bid or close may have landed since the sweep query
	listing, err := e.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get listing: %w", err)
	}
	if listing == nil || !listing.Active || listing.AuctionEndTime == nil || listing.AuctionEndTime.After(now) {
		return nil, nil, nil
	}

	listing.Active = false
	applied, err := e.listings.UpdateListing(ctx, listing)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to close listing: %w", err)
	}
	if !applied {
		return nil, nil, fmt.Errorf("%w: listing %d", ErrConflict, listingID)
	}

	bids, err := e.bids.ListingBids(ctx, listingID)
	if err != nil {
		return listing, nil, fmt.Errorf("failed to get bids: %w", err)
	}
	return listing, bids, nil
}

// GetListing returns a listing with its bid history
func (e *Engine) GetListing(ctx context.Context, listingID int64) (*models.Listing, []models.Bid, error) {
	listing, err := e.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get listing: %w", err)
	}
	if listing == nil {
		return nil, nil, notFoundError(listingID)
	}

	bids, err := e.bids.ListingBids(ctx, listingID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get bids: %w", err)
	}
	return listing, bids, nil
}

// ListByOwner returns all listings of an owner, active or not
func (e *Engine) ListByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error) {
	listings, err := e.listings.ListingsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner listings: %w", err)
	}
	return listings, nil
}

// ListActive returns active listings matching the filter
func (e *Engine) ListActive(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		return nil, validationError("min price cannot exceed max price")
	}

	listings, err := e.listings.ActiveListings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list active listings: %w", err)
	}
	return listings, nil
}

// WinningBid picks the highest bid; ties go to the earliest bid
func WinningBid(bids []models.Bid) (models.Bid, bool) {
	if len(bids) == 0 {
		return models.Bid{}, false
	}

	best := bids[0]
	for _, b := range bids[1:] {
		switch {
		case b.Amount > best.Amount:
			best = b
		case b.Amount == best.Amount && b.Timestamp.Before(best.Timestamp):
			best = b
		case b.Amount == best.Amount && b.Timestamp.Equal(best.Timestamp) && b.ID < best.ID:
			best = b
		}
	}
	return best, true
}

// validAmount reports whether a price is a finite positive number
func validAmount(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
