package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bookbarn/checkout/internal/redisx"
)

// RedisStore reads the snapshot the cart component keeps as JSON under
// cart:{user_id}.
type RedisStore struct {
	RDB *redis.Client
}

func (s *RedisStore) SnapshotForCheckout(ctx context.Context, userID int64) (Snapshot, error) {
	key := fmt.Sprintf(redisx.KeyCart, userID)
	raw, err := s.RDB.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrEmpty
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read cart: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode cart: %w", err)
	}
	if len(snap.Lines) == 0 {
		return Snapshot{}, ErrEmpty
	}
	return snap, nil
}

func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	// DEL on a missing key is a no-op, so retries are safe.
	key := fmt.Sprintf(redisx.KeyCart, userID)
	return s.RDB.Del(ctx, key).Err()
}
