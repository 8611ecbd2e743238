// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/stacklok/summerboot/pkg/logger"
)

var redisLoggerOnce sync.Once

// redisLogger forwards go-redis client logs (pool and reconnect notices) to
// a logr.Logger.
type redisLogger struct {
	log logr.Logger
}

func (l redisLogger) Printf(_ context.Context, format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...))
}

// routeRedisLogs installs the summerboot logger as the go-redis logger.
// go-redis keeps a single process-wide logger, so only the first call has
// an effect.
func routeRedisLogs() {
	redisLoggerOnce.Do(func() {
		redis.SetLogger(redisLogger{log: logger.NewLogr("redis")})
	})
}
