// Package kv provides the shared key-value and pub/sub coordination layer
// used for token revocation and the approval bus. Production deployments
// back it with Redis; tests use the in-memory implementation.
package kv

import (
	"context"
	"time"
)

// Store is the minimal coordination primitive the control plane needs:
// TTL'd key-value storage plus set membership (for revoke-all-user-tokens)
// and a pub/sub topic per approval id.
type Store interface {
	// Set stores value under key with the given TTL. TTL of zero means no
	// expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Get returns the value and whether the key exists (and is unexpired).
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// SAdd adds members to a set and refreshes the set's TTL to at least ttl.
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	// SMembers lists the members of a set.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Publish sends payload to all current subscribers of topic.
	Publish(ctx context.Context, topic string, payload string) error
	// Subscribe returns a channel of payloads published to topic. The
	// channel is closed when ctx is done or Close is called on the
	// returned Subscription.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is a single subscriber's view of a pub/sub topic.
type Subscription interface {
	Channel() <-chan string
	Close() error
}
