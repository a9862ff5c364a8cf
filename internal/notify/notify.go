// Package notify decides who hears about which auction event and hands the
// resulting notifications to a delivery backend.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/xtrntr/auctionhouse/internal/models"
)

// Kind identifies the auction event a notification is about
type Kind string

const (
	KindOutbid       Kind = "outbid"
	KindNewBid       Kind = "new_bid"
	KindAuctionEnded Kind = "auction_ended"
	KindAuctionWon   Kind = "auction_won"
)

// Notification is a single message to a single recipient
type Notification struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	RecipientID    int64     `json:"recipient_id"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	ListingID      int64     `json:"listing_id"`
	ListingTitle   string    `json:"listing_title"`
	Amount         float64   `json:"amount"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Delivery transmits notifications. Failures are reported but never retried here.
type Delivery interface {
	Deliver(ctx context.Context, n Notification) error
}

// UserLookup resolves a recipient's contact details
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Dispatcher turns auction events into notifications
type Dispatcher struct {
	delivery Delivery
	users    UserLookup
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. users may be nil, in which case
// notifications carry only the recipient ID.
func NewDispatcher(delivery Delivery, users UserLookup, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{delivery: delivery, users: users, logger: logger, now: time.Now}
}

// Outbid tells the most recent earlier bidder, other than bidderID, that they lost the lead.
// history must include the bid just placed.
func (d *Dispatcher) Outbid(ctx context.Context, listing models.Listing, bidderID int64, history []models.Bid) {
	if len(history) == 0 {
		return
	}

	// Newest first
	sorted := make([]models.Bid, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	for _, b := range sorted {
		if b.BidderID != bidderID {
			d.send(ctx, KindOutbid, b.BidderID, listing, listing.CurrentPrice)
			return
		}
	}
}

// NewBid tells the seller about an accepted bid
func (d *Dispatcher) NewBid(ctx context.Context, listing models.Listing, bid models.Bid) {
	d.send(ctx, KindNewBid, listing.OwnerID, listing, bid.Amount)
}

// AuctionEnded tells the seller their auction was closed by the sweeper
func (d *Dispatcher) AuctionEnded(ctx context.Context, listing models.Listing) {
	d.send(ctx, KindAuctionEnded, listing.OwnerID, listing, listing.CurrentPrice)
}

// AuctionWon congratulates the winning bidder
func (d *Dispatcher) AuctionWon(ctx context.Context, listing models.Listing, winning models.Bid) {
	d.send(ctx, KindAuctionWon, winning.BidderID, listing, winning.Amount)
}

func (d *Dispatcher) send(ctx context.Context, kind Kind, recipientID int64, listing models.Listing, amount float64) {
	// Events have already happened; caller cancellation must not drop them
	ctx = context.WithoutCancel(ctx)

	n := Notification{
		ID:           uuid.NewString(),
		Kind:         kind,
		RecipientID:  recipientID,
		ListingID:    listing.ID,
		ListingTitle: listing.Title,
		Amount:       amount,
		Message:      messageFor(kind),
		CreatedAt:    d.now().UTC(),
	}

	if d.users != nil {
		user, err := d.users.GetUser(ctx, recipientID)
		switch {
		case err != nil:
			d.logger.Warn("failed to resolve notification recipient", "recipient_id", recipientID, "error", err)
		case user != nil:
			n.RecipientEmail = user.Email
		}
	}

	if err := d.delivery.Deliver(ctx, n); err != nil {
		d.logger.Error("notification delivery failed",
			"notification_id", n.ID, "kind", kind, "recipient_id", recipientID, "listing_id", listing.ID, "error", err)
	}
}

func messageFor(kind Kind) string {
	switch kind {
	case KindOutbid:
		return "Your bid has been outbid"
	case KindNewBid:
		return "New bid on your listing"
	case KindAuctionEnded:
		return "Your auction has ended"
	case KindAuctionWon:
		return "Congratulations, you won the auction!"
	default:
		return string(kind)
	}
}
