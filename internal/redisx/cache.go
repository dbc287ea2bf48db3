package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ReservationCache holds short-lived JSON views of reservations for the read path.
// Each invalidation bumps a version key; a view read before the bump is never stored.
type ReservationCache struct {
	rdb *redis.Client
}

func NewReservationCache(rdb *redis.Client) *ReservationCache { return &ReservationCache{rdb: rdb} }

// Get reports a miss as (nil, false, nil).
func (c *ReservationCache) Get(ctx context.Context, id string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyReservation, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Version must be read before loading the view that is later passed to Put.
func (c *ReservationCache) Version(ctx context.Context, id string) (int64, error) {
	return version(ctx, c.rdb, id)
}

// Put stores b only if no invalidation happened since version was read.
func (c *ReservationCache) Put(ctx context.Context, id string, ver int64, b []byte) error {
	verKey := fmt.Sprintf(KeyReservationVersion, id)
	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := version(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur != ver {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, fmt.Sprintf(KeyReservation, id), b, TTLStatusCache)
			return nil
		})
		return err
	}, verKey)
	if errors.Is(err, redis.TxFailedErr) {
		// invalidated while we were writing
		return nil
	}
	return err
}

func (c *ReservationCache) Invalidate(ctx context.Context, id string) error {
	verKey := fmt.Sprintf(KeyReservationVersion, id)
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, verKey)
	pipe.Expire(ctx, verKey, TTLCacheVer)
	pipe.Del(ctx, fmt.Sprintf(KeyReservation, id))
	_, err := pipe.Exec(ctx)
	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func version(ctx context.Context, cmd getter, id string) (int64, error) {
	v, err := cmd.Get(ctx, fmt.Sprintf(KeyReservationVersion, id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
