package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool and the inventory stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the dependency unhealthy when Ping fails.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// RedisCheck pings a Redis client.
func RedisCheck(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
		return nil
	}
}

// GoroutineCountCheck fails above threshold goroutines, a sign of leaks.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
