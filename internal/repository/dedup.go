package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	dedupKeyPrefix = "msg:"
	// Long enough to absorb the platform's retry storms, short enough not
	// to accumulate markers indefinitely.
	dedupTTL    = 5 * time.Minute
	dedupMarker = "1"
)

// DedupGate makes event processing idempotent against at-least-once webhook
// delivery: one atomic insert-if-absent per message id decides which delivery
// is processed.
type DedupGate struct {
	kv KV
}

// NewDedupGate creates a DedupGate over the given KV.
func NewDedupGate(kv KV) (*DedupGate, error) {
	if kv == nil {
		return nil, errors.New("repository: kv must not be nil")
	}
	return &DedupGate{kv: kv}, nil
}

// CheckAndMark records the first sighting of messageID and reports whether
// it had been seen within the TTL window. Store errors are returned to the
// caller, which fails open rather than dropping the message.
func (g *DedupGate) CheckAndMark(ctx context.Context, messageID string) (bool, error) {
	inserted, err := g.kv.SetIfAbsent(ctx, dedupKeyPrefix+messageID, dedupMarker, dedupTTL)
	if err != nil {
		return false, fmt.Errorf("repository: CheckAndMark %q: %w", messageID, err)
	}
	return !inserted, nil
}
