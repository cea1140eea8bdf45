package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// Sequence implements domain.SequenceSource with INCR, so idempotency keys
// stay unique across restarts and across processes.
type Sequence struct {
	rdb *redis.Client
}

// NewSequence creates a Sequence backed by the given Client.
func NewSequence(c *Client) *Sequence {
	return &Sequence{rdb: c.Underlying()}
}

func sequenceKey(key string) string {
	return "seq:" + key
}

// Next increments and returns the counter for key.
func (s *Sequence) Next(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, sequenceKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: next sequence %s: %w", key, err)
	}
	return n, nil
}

var _ domain.SequenceSource = (*Sequence)(nil)
