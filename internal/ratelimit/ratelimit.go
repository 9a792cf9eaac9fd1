// Package ratelimit provides per-client rate limiter stores for the HTTP
// layer. The default is echo's in-memory store; when a redis URL is
// configured the counters move to redis so multiple gateway processes share
// one budget per client.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	// MemoryStorageURL selects in-process counters.
	MemoryStorageURL = "memory://"

	window = time.Minute
)

// Factory builds rate limiter stores over a shared backend. A nil redis
// client means in-process stores.
type Factory struct {
	client *redis.Client
	log    *slog.Logger
}

// NewFactory parses the storage URL and prepares the backend. "memory://"
// (or empty) yields in-process stores; a redis URL is dialed and verified.
func NewFactory(storageURL string, log *slog.Logger) (*Factory, error) {
	if storageURL == "" || storageURL == MemoryStorageURL {
		return &Factory{log: log}, nil
	}

	opts, err := redis.ParseURL(storageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit storage URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rate limit store unreachable: %w", err)
	}

	log.Info("rate limit counters on redis", "addr", opts.Addr)
	return &Factory{client: client, log: log}, nil
}

// Store returns a per-minute rate limiter store. The prefix separates routes
// that carry different budgets over the same backend.
func (f *Factory) Store(prefix string, perMinute int) middleware.RateLimiterStore {
	if f.client == nil {
		return middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(perMinute) / window.Seconds()),
			Burst:     perMinute,
			ExpiresIn: 3 * window,
		})
	}
	return &RedisStore{
		client:    f.client,
		prefix:    prefix,
		perMinute: perMinute,
		log:       f.log,
		now:       time.Now,
	}
}

// Close releases the redis connection, if any.
func (f *Factory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}

// RedisStore counts requests in fixed one-minute windows, one key per client
// and window. Safe under concurrent increments from multiple processes
// because INCR is atomic.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	perMinute int
	log       *slog.Logger
	now       func() time.Time
}

// Allow implements middleware.RateLimiterStore. On a redis fault the store
// fails open: degrading to unlimited beats refusing all traffic.
func (s *RedisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	windowStart := s.now().Unix() / int64(window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%s:%d", s.prefix, identifier, windowStart)

	pipe := s.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("rate limit counter unavailable, failing open", "error", err)
		return true, nil
	}

	return count.Val() <= int64(s.perMinute), nil
}
