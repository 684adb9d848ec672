// Package cache provides the two-tier analysis cache: an optional fast tier
// (Redis or in-process memory) in front of the durable analysis_cache table.
// Reads try the fast tier first and fall through to the database; writes go
// through to the database and best-effort into the fast tier.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/internal/database"
)

// Key prefixes for the cache namespaces.
const (
	PrefixSentiment = "sentiment:"
	PrefixSignal    = "signal:"
	PrefixVIX       = "vix:"
	PrefixPrice     = "price:"
)

// Default TTLs per namespace.
const (
	SentimentTTL = 24 * time.Hour
	SignalTTL    = time.Hour
	VIXTTL       = 15 * time.Minute
	PriceTTL     = time.Minute
)

// DurableStore is the database-backed tier.
type DurableStore interface {
	UpsertCacheEntry(ctx context.Context, key, payload string, expiresAt time.Time) error
	GetCacheEntry(ctx context.Context, key string, now time.Time) (*database.CacheEntry, error)
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteCacheByPrefix(ctx context.Context, prefix string) (int64, error)
	SweepExpiredCache(ctx context.Context, now time.Time) (int64, error)
}

// Cache composes the fast and durable tiers. The fast tier may be nil, in
// which case every read hits the database.
type Cache struct {
	fast    FastTier
	durable DurableStore
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a two-tier cache. Pass a nil fast tier to run database-only.
func New(fast FastTier, durable DurableStore, log zerolog.Logger) *Cache {
	return &Cache{
		fast:    fast,
		durable: durable,
		log:     log.With().Str("component", "cache").Logger(),
		now:     time.Now,
	}
}

// Get retrieves a value, trying the fast tier before the database. A durable
// hit repopulates the fast tier with the remaining TTL.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if c.fast != nil {
		if v, err := c.fast.Get(ctx, key); err == nil {
			return v, nil
		}
	}

	now := c.now().UTC()
	entry, err := c.durable.GetCacheEntry(ctx, key, now)
	if err != nil {
		if err == database.ErrNotFound {
			return "", ErrMiss
		}
		return "", fmt.Errorf("cache read failed: %w", err)
	}

	if c.fast != nil {
		if remaining := entry.ExpiresAt.Sub(now); remaining > 0 {
			if err := c.fast.Set(ctx, key, entry.Payload, remaining); err != nil {
				c.log.Debug().Err(err).Str("key", key).Msg("fast tier repopulate skipped")
			}
		}
	}
	return entry.Payload, nil
}

// Set writes through: the durable tier first, then best-effort into the fast
// tier. A fast-tier failure never fails the write.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	expiresAt := c.now().UTC().Add(ttl)
	if err := c.durable.UpsertCacheEntry(ctx, key, value, expiresAt); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}

	if c.fast != nil {
		if err := c.fast.Set(ctx, key, value, ttl); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("fast tier write skipped")
		}
	}
	return nil
}

// Delete removes a key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.durable.DeleteCacheEntry(ctx, key); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	if c.fast != nil {
		if err := c.fast.Delete(ctx, key); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("fast tier delete skipped")
		}
	}
	return nil
}

// Invalidate removes every key under a prefix from both tiers. Used when new
// data lands and derived results go stale, e.g. fresh sentiments invalidating
// signal results.
func (c *Cache) Invalidate(ctx context.Context, prefix string) (int64, error) {
	removed, err := c.durable.DeleteCacheByPrefix(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("cache invalidate failed: %w", err)
	}
	if c.fast != nil {
		if err := c.fast.DeletePrefix(ctx, prefix); err != nil {
			c.log.Debug().Err(err).Str("prefix", prefix).Msg("fast tier invalidate skipped")
		}
	}
	if removed > 0 {
		c.log.Debug().Str("prefix", prefix).Int64("removed", removed).Msg("cache invalidated")
	}
	return removed, nil
}

// Sweep deletes expired durable rows. The fast tiers expire on their own.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	removed, err := c.durable.SweepExpiredCache(ctx, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cache sweep failed: %w", err)
	}
	return removed, nil
}

// GetJSON retrieves and unmarshals a cached JSON value, unwrapping the
// {"value": ...} envelope SetJSON puts around non-object values.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err == nil {
		return nil
	}
	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil || envelope.Value == nil {
		return fmt.Errorf("failed to unmarshal cached value for %s", key)
	}
	if err := json.Unmarshal(envelope.Value, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores a JSON value. Non-object values (strings,
// numbers, booleans, arrays of them) are wrapped as {"value": ...} so every
// stored entry deserializes the same way.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if len(data) > 0 && data[0] != '{' {
		data, err = json.Marshal(map[string]json.RawMessage{"value": data})
		if err != nil {
			return fmt.Errorf("failed to wrap value: %w", err)
		}
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Healthy reports fast-tier health. Database-only setups are always healthy.
func (c *Cache) Healthy() bool {
	if c.fast == nil {
		return true
	}
	return c.fast.Healthy()
}

// Close closes the fast tier.
func (c *Cache) Close() error {
	if c.fast != nil {
		return c.fast.Close()
	}
	return nil
}

// SentimentKey builds the cache key for one article's sentiment.
func SentimentKey(newsID int64) string {
	return fmt.Sprintf("%s%d", PrefixSentiment, newsID)
}

// SignalKey builds the cache key for a weekly signal window ending on date.
func SignalKey(endDate time.Time) string {
	return PrefixSignal + endDate.Format("2006-01-02")
}

// VIXKey is the cache key for the latest VIX reading.
func VIXKey() string {
	return PrefixVIX + "latest"
}

// PriceKey builds the cache key for one symbol's latest price.
func PriceKey(symbol string) string {
	return PrefixPrice + symbol
}
