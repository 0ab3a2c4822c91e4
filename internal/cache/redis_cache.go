package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

var _ DeliveryCache = (*RedisCache)(nil)

func deliveryKey(jobID string) string {
	return "delivery:" + jobID
}

// StoreDelivered overwrites the job's record, so a recurring job keeps only
// its latest delivery.
func (c *RedisCache) StoreDelivered(ctx context.Context, jobID, remoteMessageID string, deliveredAt time.Time) error {
	b, err := json.Marshal(DeliveryRecord{
		RemoteMessageID: remoteMessageID,
		DeliveredAt:     deliveredAt.UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, deliveryKey(jobID), b, c.ttl).Err()
}

// LastDelivery returns nil without error when nothing is recorded.
func (c *RedisCache) LastDelivery(ctx context.Context, jobID string) (*DeliveryRecord, error) {
	raw, err := c.rdb.Get(ctx, deliveryKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec DeliveryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode delivery record of %s", jobID)
	}
	return &rec, nil
}
