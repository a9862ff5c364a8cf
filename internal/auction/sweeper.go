package auction

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// DefaultSweepInterval is the default period between sweeps
const DefaultSweepInterval = time.Minute

// Sweeper periodically closes expired auctions and announces their outcome
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper driving the given engine
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled. Passes run one at a time;
// a slow pass delays the next tick instead of overlapping it.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("auction sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auction sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("auction sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs a single pass and returns how many auctions it closed.
// A failure on one listing is logged and does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.engine.now().UTC()

	expired, err := s.engine.listings.ExpiredListings(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired listings: %w", err)
	}

	closed := 0
	for _, listing := range expired {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		ok, err := s.sweepOne(ctx, listing.ID, now)
		if err != nil {
			s.logger.Error("failed to close expired auction", "listing_id", listing.ID, "error", err)
			continue
		}
		if ok {
			closed++
		}
	}

	if closed > 0 {
		s.logger.Info("auction sweep finished", "expired", len(expired), "closed", closed)
	}
	return closed, nil
}

// sweepOne closes one listing and sends the end-of-auction notifications
func (s *Sweeper) sweepOne(ctx context.Context, listingID int64, now time.Time) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in auction sweep", "listing_id", listingID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic while closing listing %d: %v", listingID, r)
		}
	}()

	listing, bids, err := s.engine.closeExpired(ctx, listingID, now)
	if listing == nil {
		return false, err
	}
	if err != nil {
		// Closed, but the bid history could not be read; the seller is still told
		s.logger.Error("failed to load bids of closed auction", "listing_id", listingID, "error", err)
	}

	s.logger.Info("auction ended", "listing_id", listingID, "final_price", listing.CurrentPrice, "bids", len(bids))
	s.engine.notifier.AuctionEnded(ctx, *listing)

	if winner, found := WinningBid(bids); found {
		s.engine.notifier.AuctionWon(ctx, *listing, winner)
	}
	return true, nil
}
