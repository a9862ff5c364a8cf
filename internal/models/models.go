package models

import (
	"strings"
	"time"
)

// User represents a registered user
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Listing represents an item offered at auction
type Listing struct {
	ID             int64      `json:"id"`
	OwnerID        int64      `json:"owner_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	ImageURL       string     `json:"image_url"`
	StartingPrice  float64    `json:"starting_price"`
	CurrentPrice   float64    `json:"current_price"`
	Active         bool       `json:"active"`
	AuctionEndTime *time.Time `json:"auction_end_time,omitempty"` // Set by the first accepted bid
	Version        int64      `json:"-"`                          // Bumped on every conditional write
	CreatedAt      time.Time  `json:"created_at"`
}

// Bid represents an accepted offer against a listing
type Bid struct {
	ID        int64     `json:"id"`
	ListingID int64     `json:"listing_id"`
	BidderID  int64     `json:"bidder_id"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"` // Assigned on acceptance, strictly increasing per listing
}

// ListingFilter narrows the active listings query.
// Empty Title and nil bounds mean no filtering.
type ListingFilter struct {
	Title    string
	MinPrice *float64
	MaxPrice *float64
}

// Matches reports whether an active listing passes the filter
func (f ListingFilter) Matches(l Listing) bool {
	if f.Title != "" && !strings.Contains(l.Title, f.Title) {
		return false
	}
	if f.MinPrice != nil && l.CurrentPrice < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && l.CurrentPrice > *f.MaxPrice {
		return false
	}
	return true
}
