package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sentiment-trading-bot/config"
)

// RedisTier is a FastTier backed by Redis with graceful degradation. After
// maxFailures consecutive errors the tier reports unhealthy and short-circuits
// until a background ping succeeds; callers fall back to the durable tier in
// the meantime.
type RedisTier struct {
	client *redis.Client
	log    zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewRedisTier connects to Redis. A failed initial ping returns the tier in
// degraded mode rather than an error, so startup never depends on Redis.
func NewRedisTier(cfg config.RedisConfig, log zerolog.Logger) (*RedisTier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	rt := &RedisTier{
		client:        client,
		log:           log.With().Str("component", "cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		rt.log.Warn().Err(err).Str("address", cfg.Address).Msg("initial redis connection failed, starting degraded")
		return rt, nil
	}

	rt.healthy = true
	rt.lastCheck = time.Now()
	rt.log.Info().Str("address", cfg.Address).Msg("redis connected")
	return rt, nil
}

// Healthy reports whether Redis is currently usable.
func (rt *RedisTier) Healthy() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.healthy
}

func (rt *RedisTier) recordFailure() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.failureCount++
	if rt.failureCount >= rt.maxFailures {
		if rt.healthy {
			rt.log.Warn().Int("failures", rt.failureCount).Msg("redis marked unhealthy")
		}
		rt.healthy = false
	}
}

func (rt *RedisTier) recordSuccess() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.healthy {
		rt.log.Info().Msg("redis recovered")
	}
	rt.healthy = true
	rt.failureCount = 0
	rt.lastCheck = time.Now()
}

// checkHealth schedules a background ping once per checkInterval while
// unhealthy.
func (rt *RedisTier) checkHealth() {
	rt.mu.Lock()
	shouldCheck := !rt.healthy && time.Since(rt.lastCheck) >= rt.checkInterval
	if shouldCheck {
		rt.lastCheck = time.Now()
	}
	rt.mu.Unlock()

	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rt.client.Ping(ctx).Err(); err == nil {
			rt.recordSuccess()
		}
	}()
}

func (rt *RedisTier) Get(ctx context.Context, key string) (string, error) {
	rt.checkHealth()
	if !rt.Healthy() {
		return "", fmt.Errorf("redis unavailable")
	}

	result, err := rt.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		rt.recordFailure()
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	rt.recordSuccess()
	return result, nil
}

func (rt *RedisTier) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	rt.checkHealth()
	if !rt.Healthy() {
		return fmt.Errorf("redis unavailable")
	}
	if ttl <= 0 {
		return nil
	}

	if err := rt.client.Set(ctx, key, value, ttl).Err(); err != nil {
		rt.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	rt.recordSuccess()
	return nil
}

func (rt *RedisTier) Delete(ctx context.Context, key string) error {
	rt.checkHealth()
	if !rt.Healthy() {
		return fmt.Errorf("redis unavailable")
	}

	if err := rt.client.Del(ctx, key).Err(); err != nil {
		rt.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}
	rt.recordSuccess()
	return nil
}

func (rt *RedisTier) DeletePrefix(ctx context.Context, prefix string) error {
	rt.checkHealth()
	if !rt.Healthy() {
		return fmt.Errorf("redis unavailable")
	}

	iter := rt.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := rt.client.Del(ctx, iter.Val()).Err(); err != nil {
			rt.recordFailure()
			return fmt.Errorf("redis delete prefix failed: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		rt.recordFailure()
		return fmt.Errorf("redis scan failed: %w", err)
	}
	rt.recordSuccess()
	return nil
}

func (rt *RedisTier) Close() error {
	return rt.client.Close()
}
