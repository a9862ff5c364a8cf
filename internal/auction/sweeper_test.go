package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auctionhouse/internal/models"
)

func (f *fixture) sweeper() *Sweeper {
	return NewSweeper(f.engine, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// expire sets an end time in the past without placing a bid
func (f *fixture) expire(t *testing.T, id int64) {
	t.Helper()
	l := f.stored(t, id)
	end := f.clock.Now().Add(-time.Second)
	l.AuctionEndTime = &end
	applied, err := f.store.UpdateListing(context.Background(), l)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestSweeper_DeclaresWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.listing(t, 50)

	for _, b := range []struct {
		bidder int64
		amount float64
	}{{alice, 100}, {bob, 150}} {
		_, err := f.engine.PlaceBid(ctx, b.bidder, l.ID, b.amount)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	// Not expired yet
	closed, err := f.sweeper().Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.True(t, f.stored(t, l.ID).Active)

	f.clock.Advance(DefaultAuctionDuration)
	closed, err = f.sweeper().Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.False(t, f.stored(t, l.ID).Active)

	assert.Equal(t, []event{{"auction_ended", l.ID, seller, 150}}, f.notifier.ofKind("auction_ended"))
	assert.Equal(t, []event{{"auction_won", l.ID, bob, 150}}, f.notifier.ofKind("auction_won"))

	// A closed auction is swept only once and accepts no more bids
	closed, err = f.sweeper().Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	_, err = f.engine.PlaceBid(ctx, carol, l.ID, 500)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSweeper_WinnerIsHighestNotLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.listing(t, 50)

	// Write the ledger directly so the last bid is not the highest
	ledger := []struct {
		bidder int64
		amount float64
		at     time.Duration
	}{{alice, 100, time.Second}, {bob, 150, 2 * time.Second}, {carol, 120, 3 * time.Second}}
	for _, b := range ledger {
		current := f.stored(t, l.ID)
		applied, err := f.store.RecordBid(ctx, current, &models.Bid{
			ListingID: l.ID,
			BidderID:  b.bidder,
			Amount:    b.amount,
			Timestamp: t0.Add(b.at),
		})
		require.NoError(t, err)
		require.True(t, applied)
	}
	f.expire(t, l.ID)

	closed, err := f.sweeper().Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []event{{"auction_won", l.ID, bob, 150}}, f.notifier.ofKind("auction_won"))
}

func TestSweeper_NoBids(t *testing.T) {
	f := newFixture(t)
	l := f.listing(t, 50)
	f.expire(t, l.ID)

	closed, err := f.sweeper().Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	assert.Equal(t, []event{{"auction_ended", l.ID, seller, 50}}, f.notifier.ofKind("auction_ended"))
	assert.Empty(t, f.notifier.ofKind("auction_won"))
}

func TestSweeper_SkipsListingsWithoutEndTime(t *testing.T) {
	f := newFixture(t)
	l := f.listing(t, 50)
	f.clock.Advance(24 * time.Hour)

	closed, err := f.sweeper().Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.True(t, f.stored(t, l.ID).Active, "an auction without bids never starts its clock")
}

// failingStore breaks reads of one listing
type failingStore struct {
	ListingStore
	broken int64
}

func (s *failingStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	if id == s.broken {
		return nil, errors.New("disk on fire")
	}
	return s.ListingStore.GetListing(ctx, id)
}

func TestSweeper_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	first := f.listing(t, 10)
	second := f.listing(t, 20)
	f.expire(t, first.ID)
	f.expire(t, second.ID)

	f.engine.listings = &failingStore{ListingStore: f.store, broken: first.ID}

	closed, err := f.sweeper().Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.True(t, f.stored(t, first.ID).Active, "failed listing stays open for the next pass")
	assert.False(t, f.stored(t, second.ID).Active)
}

// panickyNotifier blows up for one listing
type panickyNotifier struct {
	*recordingNotifier
	listingID int64
}

func (n *panickyNotifier) AuctionEnded(ctx context.Context, listing models.Listing) {
	if listing.ID == n.listingID {
		panic("boom")
	}
	n.recordingNotifier.AuctionEnded(ctx, listing)
}

func TestSweeper_RecoversFromPanics(t *testing.T) {
	f := newFixture(t)
	first := f.listing(t, 10)
	second := f.listing(t, 20)
	f.expire(t, first.ID)
	f.expire(t, second.ID)

	f.engine.notifier = &panickyNotifier{recordingNotifier: f.notifier, listingID: first.ID}

	closed, err := f.sweeper().Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []event{{"auction_ended", second.ID, seller, 20}}, f.notifier.ofKind("auction_ended"))
}

func TestSweeper_Run(t *testing.T) {
	f := newFixture(t)
	l := f.listing(t, 10)
	f.expire(t, l.ID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sweeper().Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.notifier.ofKind("auction_ended")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	assert.Len(t, f.notifier.ofKind("auction_ended"), 1, "an auction ends once")
}
