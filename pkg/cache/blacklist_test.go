// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr/funcr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBlacklist(t *testing.T) (*RedisBlacklist, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBlacklist(client, "test:"), mr
}

func TestRedisBlacklist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, mr := newTestRedisBlacklist(t)

	revoked, err := b.IsBlacklist(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, b.Blacklist(ctx, "jti-1", "token", time.Minute))
	revoked, err = b.IsBlacklist(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, mr.Exists("test:jti-1"))

	mr.FastForward(2 * time.Minute)
	revoked, err = b.IsBlacklist(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "entry expires with the token")

	require.Error(t, b.Blacklist(ctx, "", "token", time.Minute))
}

func TestRedisBlacklist_ConnectionError(t *testing.T) {
	t.Parallel()

	b, mr := newTestRedisBlacklist(t)
	mr.Close()

	_, err := b.IsBlacklist(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewRedisBlacklistFromOptions(t *testing.T) {
	t.Parallel()

	_, err := NewRedisBlacklistFromOptions(context.Background(), RedisOptions{})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	b, err := NewRedisBlacklistFromOptions(context.Background(), RedisOptions{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, DefaultRevocationKeyPrefix, b.keyPrefix)
}

func TestLocalBlacklist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	b := NewLocalBlacklist(NewLocal(WithClock[string](clock.Now)))

	require.NoError(t, b.Blacklist(ctx, "jti", "tok", time.Minute))
	revoked, err := b.IsBlacklist(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	clock.Advance(time.Minute + time.Second)
	revoked, err = b.IsBlacklist(ctx, "jti")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisLogger(t *testing.T) {
	t.Parallel()

	var lines []string
	l := redisLogger{log: funcr.New(func(prefix, args string) {
		lines = append(lines, prefix+" "+args)
	}, funcr.Options{}).WithName("redis")}

	l.Printf(context.Background(), "redis: connection pool: %d of %d used", 3, 10)

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "redis")
	assert.Contains(t, lines[0], "connection pool: 3 of 10 used")
}
