package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auctionhouse/internal/models"
)

func TestStore_Users(t *testing.T) {
	s := New()
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice@example.com", "alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, int64(1), alice.ID)

	tests := []struct {
		name  string
		email string
		user  string
	}{
		{"DuplicateEmail", "alice@example.com", "other"},
		{"DuplicateUsername", "other@example.com", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateUser(ctx, tt.email, tt.user, "hash")
			assert.ErrorIs(t, err, ErrDuplicate)
		})
	}

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	missing, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ListingVersioning(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateListing(ctx, &models.Listing{OwnerID: 1, Title: "Lamp", CurrentPrice: 10, Active: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	first, _ := s.GetListing(ctx, created.ID)
	second, _ := s.GetListing(ctx, created.ID)

	first.CurrentPrice = 20
	applied, err := s.UpdateListing(ctx, first)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(2), first.Version)

	second.Active = false
	applied, err = s.UpdateListing(ctx, second)
	require.NoError(t, err)
	assert.False(t, applied, "stale version must be rejected")

	stored, _ := s.GetListing(ctx, created.ID)
	assert.True(t, stored.Active)
	assert.Equal(t, 20.0, stored.CurrentPrice)

	// Callers get copies
	end := time.Now()
	stored.AuctionEndTime = &end
	again, _ := s.GetListing(ctx, created.ID)
	assert.Nil(t, again.AuctionEndTime)
}

func TestStore_RecordBid(t *testing.T) {
	s := New()
	ctx := context.Background()

	listing, err := s.CreateListing(ctx, &models.Listing{OwnerID: 1, Title: "Lamp", CurrentPrice: 10, Active: true})
	require.NoError(t, err)

	stale := *listing
	listing.CurrentPrice = 15
	bid := &models.Bid{ListingID: listing.ID, BidderID: 2, Amount: 15, Timestamp: time.Now()}
	applied, err := s.RecordBid(ctx, listing, bid)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(1), bid.ID)

	stale.CurrentPrice = 12
	applied, err = s.RecordBid(ctx, &stale, &models.Bid{ListingID: listing.ID, BidderID: 3, Amount: 12})
	require.NoError(t, err)
	assert.False(t, applied)

	bids, err := s.ListingBids(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, 15.0, bids[0].Amount)
}

func TestStore_Queries(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	fixtures := []models.Listing{
		{OwnerID: 1, Title: "Vintage Camera", CurrentPrice: 100, Active: true, AuctionEndTime: &past},
		{OwnerID: 1, Title: "Desk Lamp", CurrentPrice: 20, Active: true, AuctionEndTime: &future},
		{OwnerID: 2, Title: "Old Camera", CurrentPrice: 30, Active: false, AuctionEndTime: &past},
		{OwnerID: 2, Title: "Road Bike", CurrentPrice: 300, Active: true},
	}
	for i := range fixtures {
		_, err := s.CreateListing(ctx, &fixtures[i])
		require.NoError(t, err)
	}

	owned, _ := s.ListingsByOwner(ctx, 2)
	assert.Len(t, owned, 2)

	expired, _ := s.ExpiredListings(ctx, now)
	require.Len(t, expired, 1)
	assert.Equal(t, "Vintage Camera", expired[0].Title)

	lo, exact := 50.0, 100.0
	tests := []struct {
		name   string
		filter models.ListingFilter
		titles []string
	}{
		{"All", models.ListingFilter{}, []string{"Vintage Camera", "Desk Lamp", "Road Bike"}},
		{"Title", models.ListingFilter{Title: "Camera"}, []string{"Vintage Camera"}},
		{"MinPrice", models.ListingFilter{MinPrice: &lo}, []string{"Vintage Camera", "Road Bike"}},
		{"TitleIsCaseSensitive", models.ListingFilter{Title: "camera"}, nil},
		{"MinBoundInclusive", models.ListingFilter{MinPrice: &exact}, []string{"Vintage Camera", "Road Bike"}},
		{"MaxBoundInclusive", models.ListingFilter{MaxPrice: &exact}, []string{"Vintage Camera", "Desk Lamp"}},
		{"ExactRange", models.ListingFilter{MinPrice: &exact, MaxPrice: &exact}, []string{"Vintage Camera"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active, err := s.ActiveListings(ctx, tt.filter)
			require.NoError(t, err)
			var titles []string
			for _, l := range active {
				titles = append(titles, l.Title)
			}
			assert.Equal(t, tt.titles, titles)
		})
	}
}
