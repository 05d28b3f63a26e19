package routes

import (
	"context"
	"time"

	"github.com/angelmondragon/reelcast-backend/pkg/redis"
)

type fixedWindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func limiterFor(client *redis.Client) fixedWindowLimiter {
	if client == nil {
		return nil
	}
	return client
}
