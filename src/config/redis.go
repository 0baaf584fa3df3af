package config

import (
	"context"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis - Connect the cache/lock client. Callers treat a nil client as "redis disabled".
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, *redislock.Client, error) {
	if addr == "" {
		return nil, nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       0,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, redislock.New(rdb), nil
}
