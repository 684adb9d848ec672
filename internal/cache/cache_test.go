package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/logging"
)

func newTestCache(t *testing.T, fast FastTier) *Cache {
	t.Helper()
	db, err := database.New(database.Config{
		Engine: database.EngineSQLite,
		Path:   filepath.Join(t.TempDir(), "cache.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background()))
	return New(fast, database.NewRepository(db), logging.Nop())
}

func TestMemoryTierExpiry(t *testing.T) {
	m := NewMemoryTier()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 50*time.Millisecond))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	time.Sleep(80 * time.Millisecond)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryTierDeletePrefix(t *testing.T) {
	m := NewMemoryTier()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "signal:2026-03-02", "a", time.Minute))
	require.NoError(t, m.Set(ctx, "signal:2026-03-03", "b", time.Minute))
	require.NoError(t, m.Set(ctx, "vix:latest", "c", time.Minute))

	require.NoError(t, m.DeletePrefix(ctx, "signal:"))

	_, err := m.Get(ctx, "signal:2026-03-02")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get(ctx, "vix:latest")
	assert.NoError(t, err)
}

func TestCacheWriteThroughAndReadBack(t *testing.T) {
	c := newTestCache(t, NewMemoryTier())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, SentimentKey(7), `{"sentiment":"Positive"}`, SentimentTTL))

	v, err := c.Get(ctx, SentimentKey(7))
	require.NoError(t, err)
	assert.Equal(t, `{"sentiment":"Positive"}`, v)

	_, err = c.Get(ctx, SentimentKey(8))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheDurableFallbackRepopulatesFastTier(t *testing.T) {
	fast := NewMemoryTier()
	c := newTestCache(t, fast)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Hour))

	// Simulate a fast-tier restart: the value survives in the database.
	require.NoError(t, fast.Delete(ctx, "k"))
	_, err := fast.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	// The durable hit put it back in front.
	v, err = fast.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestCacheWithoutFastTier(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Hour))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.True(t, c.Healthy())
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := newTestCache(t, NewMemoryTier())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, SignalKey(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)), "a", time.Hour))
	require.NoError(t, c.Set(ctx, SignalKey(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)), "b", time.Hour))
	require.NoError(t, c.Set(ctx, VIXKey(), "17.5", time.Hour))

	removed, err := c.Invalidate(ctx, PrefixSignal)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = c.Get(ctx, SignalKey(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, ErrMiss)

	v, err := c.Get(ctx, VIXKey())
	require.NoError(t, err)
	assert.Equal(t, "17.5", v)
}

func TestCacheSweepRemovesExpiredRows(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "keep", "v", time.Hour))
	require.NoError(t, c.Set(ctx, "drop", "v", time.Millisecond))

	time.Sleep(10 * time.Millisecond)
	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = c.Get(ctx, "keep")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "drop")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheJSONRoundTrip(t *testing.T) {
	c := newTestCache(t, NewMemoryTier())
	ctx := context.Background()

	type payload struct {
		Ratio float64 `json:"ratio"`
		Label string  `json:"label"`
	}
	require.NoError(t, c.SetJSON(ctx, "signal:week", payload{Ratio: 71.2, Label: "Strong Buy"}, time.Hour))

	var got payload
	require.NoError(t, c.GetJSON(ctx, "signal:week", &got))
	assert.InDelta(t, 71.2, got.Ratio, 1e-9)
	assert.Equal(t, "Strong Buy", got.Label)
}

func TestCacheJSONWrapsPrimitives(t *testing.T) {
	c := newTestCache(t, NewMemoryTier())
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "vix:current", 23.5, time.Hour))

	// Stored form is the {"value": ...} envelope, never a bare primitive.
	raw, err := c.Get(ctx, "vix:current")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": 23.5}`, raw)

	var vix float64
	require.NoError(t, c.GetJSON(ctx, "vix:current", &vix))
	assert.InDelta(t, 23.5, vix, 1e-9)

	require.NoError(t, c.SetJSON(ctx, "watch", []string{"005930", "000660"}, time.Hour))
	var watch []string
	require.NoError(t, c.GetJSON(ctx, "watch", &watch))
	assert.Equal(t, []string{"005930", "000660"}, watch)
}
