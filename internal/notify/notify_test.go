package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/auctionhouse/internal/models"
)

type captureDelivery struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (c *captureDelivery) Deliver(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

type userMap map[int64]*models.User

func (m userMap) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if id < 0 {
		return nil, errors.New("lookup failed")
	}
	return m[id], nil
}

var (
	t1 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Second)
	t3 = t1.Add(2 * time.Second)
)

func newTestDispatcher(d Delivery) *Dispatcher {
	users := userMap{
		1: {ID: 1, Email: "seller@example.com"},
		2: {ID: 2, Email: "alice@example.com"},
		3: {ID: 3, Email: "bob@example.com"},
	}
	disp := NewDispatcher(d, users, slog.New(slog.NewTextHandler(io.Discard, nil)))
	disp.now = func() time.Time { return t3 }
	return disp
}

func TestDispatcher_Outbid(t *testing.T) {
	listing := models.Listing{ID: 9, OwnerID: 1, Title: "Camera", CurrentPrice: 150}

	tests := []struct {
		name            string
		bidderID        int64
		history         []models.Bid
		expectRecipient int64
	}{
		{
			name:     "PreviousLeaderIsOutbid",
			bidderID: 3,
			history: []models.Bid{
				{BidderID: 2, Amount: 100, Timestamp: t1},
				{BidderID: 3, Amount: 150, Timestamp: t2},
			},
			expectRecipient: 2,
		},
		{
			name:     "OwnEarlierBidsAreSkipped",
			bidderID: 3,
			history: []models.Bid{
				{BidderID: 2, Amount: 100, Timestamp: t1},
				{BidderID: 3, Amount: 120, Timestamp: t2},
				{BidderID: 3, Amount: 150, Timestamp: t3},
			},
			expectRecipient: 2,
		},
		{
			name:     "UnorderedHistory",
			bidderID: 2,
			history: []models.Bid{
				{BidderID: 2, Amount: 150, Timestamp: t3},
				{BidderID: 3, Amount: 120, Timestamp: t2},
				{BidderID: 1, Amount: 100, Timestamp: t1},
			},
			expectRecipient: 3,
		},
		{
			name:     "OnlyBidder",
			bidderID: 2,
			history:  []models.Bid{{BidderID: 2, Amount: 100, Timestamp: t1}},
		},
		{
			name:     "EmptyHistory",
			bidderID: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &captureDelivery{}
			newTestDispatcher(d).Outbid(context.Background(), listing, tt.bidderID, tt.history)

			if tt.expectRecipient == 0 {
				assert.Empty(t, d.sent)
				return
			}
			require.Len(t, d.sent, 1)
			assert.Equal(t, KindOutbid, d.sent[0].Kind)
			assert.Equal(t, tt.expectRecipient, d.sent[0].RecipientID)
			assert.Equal(t, 150.0, d.sent[0].Amount)
		})
	}
}

func TestDispatcher_Recipients(t *testing.T) {
	listing := models.Listing{ID: 9, OwnerID: 1, Title: "Camera", CurrentPrice: 150}
	winning := models.Bid{ID: 4, ListingID: 9, BidderID: 3, Amount: 150, Timestamp: t2}

	d := &captureDelivery{}
	disp := newTestDispatcher(d)
	ctx := context.Background()

	disp.NewBid(ctx, listing, winning)
	disp.AuctionEnded(ctx, listing)
	disp.AuctionWon(ctx, listing, winning)

	require.Len(t, d.sent, 3)
	expected := []struct {
		kind  Kind
		id    int64
		email string
	}{
		{KindNewBid, 1, "seller@example.com"},
		{KindAuctionEnded, 1, "seller@example.com"},
		{KindAuctionWon, 3, "bob@example.com"},
	}
	for i, e := range expected {
		n := d.sent[i]
		assert.Equal(t, e.kind, n.Kind)
		assert.Equal(t, e.id, n.RecipientID)
		assert.Equal(t, e.email, n.RecipientEmail)
		assert.Equal(t, int64(9), n.ListingID)
		assert.Equal(t, "Camera", n.ListingTitle)
		assert.Equal(t, messageFor(e.kind), n.Message)
		assert.True(t, t3.Equal(n.CreatedAt))
		assert.NotEmpty(t, n.ID)
	}
	assert.NotEqual(t, d.sent[0].ID, d.sent[1].ID)
}

func TestDispatcher_FailuresDoNotPropagate(t *testing.T) {
	d := &captureDelivery{err: errors.New("smtp down")}
	disp := newTestDispatcher(d)

	// Unknown and failing lookups still deliver with the ID only
	disp.AuctionWon(context.Background(), models.Listing{ID: 1, OwnerID: 1}, models.Bid{BidderID: 42, Amount: 5})
	disp.AuctionWon(context.Background(), models.Listing{ID: 1, OwnerID: 1}, models.Bid{BidderID: -1, Amount: 5})

	require.Len(t, d.sent, 2)
	assert.Empty(t, d.sent[0].RecipientEmail)
	assert.Empty(t, d.sent[1].RecipientEmail)
}

// liveLookup refuses lookups on a cancelled context, like a database would
type liveLookup struct{ userMap }

func (l liveLookup) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.userMap.GetUser(ctx, id)
}

type liveDelivery struct{ captureDelivery }

func (d *liveDelivery) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.captureDelivery.Deliver(ctx, n)
}

func TestDispatcher_IgnoresCallerCancellation(t *testing.T) {
	d := &liveDelivery{}
	disp := NewDispatcher(d, liveLookup{userMap{1: {ID: 1, Email: "seller@example.com"}}}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	disp.NewBid(ctx, models.Listing{ID: 9, OwnerID: 1}, models.Bid{Amount: 80})

	require.Len(t, d.sent, 1)
	assert.Equal(t, "seller@example.com", d.sent[0].RecipientEmail)
}

func TestMulti(t *testing.T) {
	ok := &captureDelivery{}
	bad := &captureDelivery{err: errors.New("nope")}
	alsoOK := &captureDelivery{}

	err := Multi{ok, bad, alsoOK}.Deliver(context.Background(), Notification{Kind: KindNewBid})
	assert.ErrorContains(t, err, "nope")
	assert.Len(t, ok.sent, 1)
	assert.Len(t, alsoOK.sent, 1, "a failing delivery must not stop the rest")

	assert.NoError(t, Multi{ok}.Deliver(context.Background(), Notification{}))
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "auction.notifications.outbid", NATSSubject(KindOutbid))
	assert.Equal(t, "auction.notifications.auction_won", NATSSubject(KindAuctionWon))
	assert.Equal(t, "auction_events:17", RedisChannel(17))
}
