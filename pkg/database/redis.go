package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"ngmc-chatbot-go/pkg/log"
)

// OpenRedis creates a Redis client and checks it with PING.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
