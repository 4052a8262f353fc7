package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbeoliero/widechat/internal/entity"
	"github.com/mbeoliero/widechat/pkg/constant"
	"github.com/redis/go-redis/v9"
)

// IdempotencyRepo remembers the message a sender's idempotency key was first used for
type IdempotencyRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIdempotencyRepo creates a new IdempotencyRepo. With a nil client every claim succeeds.
func NewIdempotencyRepo(rdb *redis.Client, ttl time.Duration) *IdempotencyRepo {
	return &IdempotencyRepo{rdb: rdb, ttl: ttl}
}

// Claim records msg under (senderId, key) unless a message is already recorded there.
// It returns the recorded message and whether this call recorded it.
func (r *IdempotencyRepo) Claim(ctx context.Context, senderId int64, key string, msg *entity.Message) (*entity.Message, bool, error) {
	if r.rdb == nil {
		return msg, true, nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, false, err
	}

	redisKey := fmt.Sprintf(constant.RedisKeyIdempotency(), senderId, key)
	ok, err := r.rdb.SetNX(ctx, redisKey, data, r.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return msg, true, nil
	}

	raw, err := r.rdb.Get(ctx, redisKey).Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("read idempotency record %s: %w", redisKey, err)
	}
	var recorded entity.Message
	if err := json.Unmarshal(raw, &recorded); err != nil {
		return nil, false, fmt.Errorf("decode idempotency record %s: %w", redisKey, err)
	}
	return &recorded, false, nil
}
