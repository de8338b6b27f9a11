package repository

import (
	"context"
	"time"
)

// KV is the minimal key-value surface shared by the Upstash and DynamoDB
// backends. Every operation is a single round-trip to the remote store; there
// are no retries at this layer and errors are surfaced to the caller, which
// decides how much failure to tolerate.
type KV interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the value, replacing any previous one, with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent writes the value only when the key does not exist and
	// reports whether the insert happened. This is the sole atomic
	// synchronization primitive in the system.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

func ttlSeconds(ttl time.Duration) int64 {
	return int64(ttl / time.Second)
}
