package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/xtrntr/auctionhouse/internal/models"
	"github.com/xtrntr/auctionhouse/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const listingColumns = "id, owner_id, title, description, image_url, starting_price, current_price, active, auction_end_time, version, created_at"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate applies the embedded schema files in name order. Every file is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.Pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, email, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (email, username, password_hash) VALUES ($1, $2, $3) RETURNING id, email, username, password_hash, created_at",
		email, username, passwordHash).Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, "id = $1", id)
}

// GetUserByEmail retrieves a user by email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, "email = $1", email)
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.getUser(ctx, "username = $1", username)
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, email, username, password_hash, created_at FROM users WHERE "+where,
		arg).Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateListing inserts a new listing
func (db *DB) CreateListing(ctx context.Context, listing *models.Listing) (*models.Listing, error) {
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO listings (owner_id, title, description, image_url, starting_price, current_price, active) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+listingColumns,
		listing.OwnerID, listing.Title, listing.Description, listing.ImageURL,
		listing.StartingPrice, listing.CurrentPrice, listing.Active)

	created, err := scanListing(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	return created, nil
}

// GetListing retrieves a listing by ID
func (db *DB) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	row := db.Pool.QueryRow(ctx, "SELECT "+listingColumns+" FROM listings WHERE id = $1", id)
	listing, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, nil
}

// UpdateListing writes the listing's mutable fields if its version is unchanged
func (db *DB) UpdateListing(ctx context.Context, listing *models.Listing) (bool, error) {
	return updateListing(ctx, db.Pool, listing)
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func updateListing(ctx context.Context, q execer, listing *models.Listing) (bool, error) {
	var version int64
	err := q.QueryRow(ctx,
		"UPDATE listings SET active = $1, current_price = $2, auction_end_time = $3, version = version + 1 "+
			"WHERE id = $4 AND version = $5 RETURNING version",
		listing.Active, listing.CurrentPrice, listing.AuctionEndTime, listing.ID, listing.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update listing: %w", err)
	}
	listing.Version = version
	return true, nil
}

// ListingsByOwner retrieves all listings of an owner
func (db *DB) ListingsByOwner(ctx context.Context, ownerID int64) ([]models.Listing, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE owner_id = $1 ORDER BY id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get owner listings: %w", err)
	}
	return collectListings(rows)
}

// ActiveListings retrieves active listings matching the filter
func (db *DB) ActiveListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	query := "SELECT " + listingColumns + " FROM listings WHERE active"
	var args []any

	if filter.Title != "" {
		args = append(args, filter.Title)
		query += fmt.Sprintf(" AND strpos(title, $%d) > 0", len(args))
	}
	if filter.MinPrice != nil {
		args = append(args, *filter.MinPrice)
		query += fmt.Sprintf(" AND current_price >= $%d", len(args))
	}
	if filter.MaxPrice != nil {
		args = append(args, *filter.MaxPrice)
		query += fmt.Sprintf(" AND current_price <= $%d", len(args))
	}
	query += " ORDER BY id"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get active listings: %w", err)
	}
	return collectListings(rows)
}

// ExpiredListings retrieves active listings whose auction ended at or before the given time
func (db *DB) ExpiredListings(ctx context.Context, before time.Time) ([]models.Listing, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE active AND auction_end_time <= $1 ORDER BY auction_end_time, id",
		before)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired listings: %w", err)
	}
	return collectListings(rows)
}

// RecordBid updates the listing and inserts the bid in one transaction
func (db *DB) RecordBid(ctx context.Context, listing *models.Listing, bid *models.Bid) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	version := listing.Version
	applied, err := updateListing(ctx, tx, listing)
	if err != nil || !applied {
		return false, err
	}

	err = tx.QueryRow(ctx,
		"INSERT INTO bids (listing_id, bidder_id, amount, bid_time) VALUES ($1, $2, $3, $4) RETURNING id",
		bid.ListingID, bid.BidderID, bid.Amount, bid.Timestamp).Scan(&bid.ID)
	if err != nil {
		listing.Version = version
		return false, fmt.Errorf("failed to insert bid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		listing.Version = version
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ListingBids retrieves a listing's bids in chronological order
func (db *DB) ListingBids(ctx context.Context, listingID int64) ([]models.Bid, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, listing_id, bidder_id, amount, bid_time FROM bids WHERE listing_id = $1 ORDER BY bid_time, id",
		listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var bid models.Bid
		if err := rows.Scan(&bid.ID, &bid.ListingID, &bid.BidderID, &bid.Amount, &bid.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bid.Timestamp = bid.Timestamp.UTC()
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bids: %w", err)
	}
	return bids, nil
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(&l.ID, &l.OwnerID, &l.Title, &l.Description, &l.ImageURL,
		&l.StartingPrice, &l.CurrentPrice, &l.Active, &l.AuctionEndTime, &l.Version, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if l.AuctionEndTime != nil {
		end := l.AuctionEndTime.UTC()
		l.AuctionEndTime = &end
	}
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]models.Listing, error) {
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, *listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read listings: %w", err)
	}
	return listings, nil
}
