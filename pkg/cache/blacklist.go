// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRevocationKeyPrefix prefixes revoked token ids stored in Redis.
const DefaultRevocationKeyPrefix = "summer:revoked:"

// Blacklist records revoked token ids until the tokens would have expired.
type Blacklist interface {
	// Blacklist marks jti as revoked for ttl.
	Blacklist(ctx context.Context, jti, token string, ttl time.Duration) error
	// IsBlacklist reports whether jti has been revoked.
	IsBlacklist(ctx context.Context, jti string) (bool, error)
}

// LocalBlacklist keeps revoked token ids in a process-local Cache.
type LocalBlacklist struct {
	cache Cache[string]
}

// NewLocalBlacklist creates a LocalBlacklist on top of c.
func NewLocalBlacklist(c Cache[string]) *LocalBlacklist {
	return &LocalBlacklist{cache: c}
}

// Blacklist implements Blacklist.
func (b *LocalBlacklist) Blacklist(_ context.Context, jti, token string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("token id is required")
	}
	b.cache.Put(jti, token, TTL(ttl))
	return nil
}

// IsBlacklist implements Blacklist.
func (b *LocalBlacklist) IsBlacklist(_ context.Context, jti string) (bool, error) {
	_, ok := b.cache.Get(jti)
	return ok, nil
}

// RedisBlacklist shares revoked token ids between replicas through Redis.
type RedisBlacklist struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisBlacklist creates a RedisBlacklist using an existing client.
func NewRedisBlacklist(client redis.UniversalClient, keyPrefix string) *RedisBlacklist {
	if keyPrefix == "" {
		keyPrefix = DefaultRevocationKeyPrefix
	}
	return &RedisBlacklist{client: client, keyPrefix: keyPrefix}
}

// RedisOptions configures NewRedisBlacklistFromOptions.
type RedisOptions struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisBlacklistFromOptions dials Redis and verifies the connection.
func NewRedisBlacklistFromOptions(ctx context.Context, opts RedisOptions) (*RedisBlacklist, error) {
	if len(opts.Addrs) == 0 {
		return nil, errors.New("at least one redis address is required")
	}
	routeRedisLogs()
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        opts.Addrs,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisBlacklist(client, opts.KeyPrefix), nil
}

func (b *RedisBlacklist) key(jti string) string {
	return b.keyPrefix + jti
}

// Blacklist implements Blacklist. A non-positive ttl stores the id without
// expiry.
func (b *RedisBlacklist) Blacklist(ctx context.Context, jti, token string, ttl time.Duration) error {
	if jti == "" {
		return errors.New("token id is required")
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := b.client.Set(ctx, b.key(jti), token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revoked token: %w", err)
	}
	return nil
}

// IsBlacklist implements Blacklist.
func (b *RedisBlacklist) IsBlacklist(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return n > 0, nil
}

// Close releases the Redis client.
func (b *RedisBlacklist) Close() error {
	return b.client.Close()
}
