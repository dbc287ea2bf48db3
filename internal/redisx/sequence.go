package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Sequence is the reservation number source. INCR is atomic across API replicas,
// and the key outlives its day so a late request cannot restart the count.
type Sequence struct {
	rdb *redis.Client
}

func NewSequence(rdb *redis.Client) *Sequence { return &Sequence{rdb: rdb} }

func (q *Sequence) Next(ctx context.Context, day string) (int64, error) {
	key := fmt.Sprintf(KeyReservationSeq, day)
	pipe := q.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, TTLSequence)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}
