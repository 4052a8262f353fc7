package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/widechat/pkg/constant"
	"github.com/redis/go-redis/v9"
)

// PageStateCache remembers where each page of a listing starts.
// It is best effort: a nil cache or a Redis failure reads as a miss.
type PageStateCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPageStateCache creates a new PageStateCache
func NewPageStateCache(rdb *redis.Client, ttl time.Duration) *PageStateCache {
	return &PageStateCache{rdb: rdb, ttl: ttl}
}

// Get returns the paging state where page starts
func (c *PageStateCache) Get(ctx context.Context, queryKey string, page int) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	key := fmt.Sprintf(constant.RedisKeyPageState(), queryKey, page)
	state, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.CtxWarn(ctx, "get page state failed: key=%s, error=%v", key, err)
		}
		return nil, false
	}
	return state, true
}

// Put records the paging state where page starts
func (c *PageStateCache) Put(ctx context.Context, queryKey string, page int, state []byte) {
	if c == nil || c.rdb == nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyPageState(), queryKey, page)
	if err := c.rdb.Set(ctx, key, state, c.ttl).Err(); err != nil {
		log.CtxWarn(ctx, "put page state failed: key=%s, error=%v", key, err)
	}
}
