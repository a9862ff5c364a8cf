package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// LogDelivery writes each notification to the log
type LogDelivery struct {
	Logger *slog.Logger
}

// Deliver logs the notification
func (d LogDelivery) Deliver(ctx context.Context, n Notification) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification sent",
		"notification_id", n.ID,
		"kind", n.Kind,
		"recipient_id", n.RecipientID,
		"email", n.RecipientEmail,
		"listing_id", n.ListingID,
		"message", n.Message,
	)
	return nil
}

// Multi fans a notification out to several deliveries. Every delivery is
// attempted; the returned error joins the individual failures.
type Multi []Delivery

// Deliver sends to all deliveries
func (m Multi) Deliver(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NATSSubjectPrefix is prepended to the notification kind to form the subject
const NATSSubjectPrefix = "auction.notifications."

// NATSDelivery publishes notifications on NATS subjects auction.notifications.<kind>
type NATSDelivery struct {
	conn *nats.Conn
}

// NewNATSDelivery wraps an established NATS connection
func NewNATSDelivery(conn *nats.Conn) *NATSDelivery {
	return &NATSDelivery{conn: conn}
}

// Deliver publishes the notification as JSON
func (d *NATSDelivery) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := d.conn.Publish(NATSSubject(n.Kind), data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// NATSSubject returns the subject a notification kind is published on
func NATSSubject(kind Kind) string {
	return NATSSubjectPrefix + string(kind)
}

// RedisDelivery publishes notifications on Redis channels auction_events:<listingID>
type RedisDelivery struct {
	client *redis.Client
}

// NewRedisDelivery wraps a Redis client
func NewRedisDelivery(client *redis.Client) *RedisDelivery {
	return &RedisDelivery{client: client}
}

// Deliver publishes the notification as JSON
func (d *RedisDelivery) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := d.client.Publish(ctx, RedisChannel(n.ListingID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

// RedisChannel returns the pub/sub channel for a listing's events
func RedisChannel(listingID int64) string {
	return fmt.Sprintf("auction_events:%d", listingID)
}
