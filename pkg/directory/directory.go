// Package directory answers which contacts a user is eligible to message.
// The contact lists themselves are owned by the surrounding application.
package directory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Directory lists the eligible contacts of a user in a stable order.
type Directory interface {
	EligibleContacts(ctx context.Context, userID string) ([]string, error)
}

// Static serves contact lists fixed at startup.
type Static map[string][]string

func (s Static) EligibleContacts(_ context.Context, userID string) ([]string, error) {
	return append([]string(nil), s[userID]...), nil
}

// Redis reads contacts from the sorted set contacts:{user_id}; members are
// returned by ascending score so the application controls listing order.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "contacts:"}
}

func (r *Redis) EligibleContacts(ctx context.Context, userID string) ([]string, error) {
	contacts, err := r.client.ZRange(ctx, r.prefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch contacts for %s: %w", userID, err)
	}
	return contacts, nil
}

// AddContact appends contact to userID's list. Used by seeding tools; the
// application normally maintains these sets.
func (r *Redis) AddContact(ctx context.Context, userID, contact string) error {
	key := r.prefix + userID
	n, err := r.client.ZCard(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("count contacts for %s: %w", userID, err)
	}
	if err := r.client.ZAddNX(ctx, key, redis.Z{Score: float64(n), Member: contact}).Err(); err != nil {
		return fmt.Errorf("add contact for %s: %w", userID, err)
	}
	return nil
}

// None is a directory without contacts.
type None struct{}

func (None) EligibleContacts(context.Context, string) ([]string, error) { return nil, nil }
