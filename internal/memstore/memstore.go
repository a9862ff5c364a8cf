// Package memstore keeps users, listings and bids in process memory.
// It backs the server when no database is configured and is used by tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xtrntr/auctionhouse/internal/models"
)

// ErrDuplicate is returned when a unique user field is already taken
var ErrDuplicate = errors.New("duplicate key")

// Store is a mutex-guarded in-memory store
type Store struct {
	mu       sync.RWMutex
	users    []models.User
	listings map[int64]*models.Listing
	bids     map[int64][]models.Bid

	userSeq    int64
	listingSeq int64
	bidSeq     int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		listings: make(map[int64]*models.Listing),
		bids:     make(map[int64][]models.Bid),
	}
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, email, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email || u.Username == username {
			return nil, ErrDuplicate
		}
	}

	s.userSeq++
	u := models.User{
		ID:           s.userSeq,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users = append(s.users, u)
	return &u, nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.ID == id }), nil
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.Email == email }), nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser(func(u models.User) bool { return u.Username == username }), nil
}

func (s *Store) findUser(match func(models.User) bool) *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			found := u
			return &found
		}
	}
	return nil
}

// CreateListing inserts a new listing
func (s *Store) CreateListing(ctx context.Context, listing *models.Listing) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listingSeq++
	stored := cloneListing(*listing)
	stored.ID = s.listingSeq
	stored.Version = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.listings[stored.ID] = &stored

	out := cloneListing(stored)
	return &out, nil
}

// GetListing retrieves a listing by ID
func (s *Store) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	out := cloneListing(*l)
	return &out, nil
}

// UpdateListing writes the mutable listing fields if the version matches
func (s *Store) UpdateListing(ctx context.Context, listing *models.Listing) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyListing(listing), nil
}

// applyListing must be called with s.mu held
func (s *Store) applyListing(listing *models.Listing) bool {
	stored, ok := s.listings[listing.ID]
	if !ok || stored.Version != listing.Version {
		return false
	}

	stored.Active = listing.Active
	stored.CurrentPrice = listing.CurrentPrice
	stored.AuctionEndTime = copyTime(listing.AuctionEndTime)
	stored.Version++
	listing.Version = stored.Version
	return true
}

// ListingsByOwner retrieves all listings of an owner in creation order
func (s *Store) ListingsByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error) {
	return s.selectListings(func(l *models.Listing) bool { return l.OwnerID == ownerID }), nil
}

// ActiveListings retrieves active listings matching the filter
func (s *Store) ActiveListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	return s.selectListings(func(l *models.Listing) bool { return l.Active && filter.Matches(*l) }), nil
}

// ExpiredListings retrieves active listings whose end time is at or before the given time
func (s *Store) ExpiredListings(ctx context.Context, before time.Time) ([]models.Listing, error) {
	return s.selectListings(func(l *models.Listing) bool {
		return l.Active && l.AuctionEndTime != nil && !l.AuctionEndTime.After(before)
	}), nil
}

func (s *Store) selectListings(match func(*models.Listing) bool) []models.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var listings []models.Listing
	for _, l := range s.listings {
		if match(l) {
			listings = append(listings, cloneListing(*l))
		}
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].ID < listings[j].ID })
	return listings
}

// RecordBid updates the listing and appends the bid in one step
func (s *Store) RecordBid(ctx context.Context, listing *models.Listing, bid *models.Bid) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.applyListing(listing) {
		return false, nil
	}

	s.bidSeq++
	bid.ID = s.bidSeq
	s.bids[bid.ListingID] = append(s.bids[bid.ListingID], *bid)
	return true, nil
}

// ListingBids retrieves a listing's bids in chronological order
func (s *Store) ListingBids(ctx context.Context, listingID int64) ([]models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := make([]models.Bid, len(s.bids[listingID]))
	copy(bids, s.bids[listingID])
	return bids, nil
}

func cloneListing(l models.Listing) models.Listing {
	l.AuctionEndTime = copyTime(l.AuctionEndTime)
	return l
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
