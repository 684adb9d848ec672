package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-trading-bot/internal/events"
)

func TestWindowEvictsOldestSamples(t *testing.T) {
	c := NewCollector(10)
	for i := 0; i < 25; i++ {
		c.ObserveAPI("/signal", time.Duration(i)*time.Millisecond, true)
	}

	stats := c.Snapshot().API["/signal"]
	assert.Equal(t, 10, stats.Count)
	// Samples 0..14 rolled out of the window.
	assert.GreaterOrEqual(t, stats.Min, 15.0)
	assert.Equal(t, 24.0, stats.Max)
}

func TestSuccessRate(t *testing.T) {
	c := NewCollector(100)
	for i := 0; i < 8; i++ {
		c.ObserveAPI("/trade", 5*time.Millisecond, true)
	}
	c.ObserveAPI("/trade", 5*time.Millisecond, false)
	c.ObserveAPI("/trade", 5*time.Millisecond, false)

	stats := c.Snapshot().API["/trade"]
	assert.Equal(t, 10, stats.Count)
	assert.InDelta(t, 0.8, stats.SuccessRate, 1e-9)
}

func TestPercentiles(t *testing.T) {
	c := NewCollector(1000)
	for i := 1; i <= 100; i++ {
		c.ObserveAPI("/prices", time.Duration(i)*time.Millisecond, true)
	}

	stats := c.Snapshot().API["/prices"]
	assert.InDelta(t, 95.0, stats.P95, 1.0)
	assert.InDelta(t, 99.0, stats.P99, 1.0)
	assert.InDelta(t, 50.5, stats.Mean, 1e-9)
}

func TestLLMTokensCountedOnlyOnSuccess(t *testing.T) {
	c := NewCollector(100)
	c.ObserveLLM(200*time.Millisecond, 120, true)
	c.ObserveLLM(5*time.Second, 0, false)
	c.ObserveLLM(300*time.Millisecond, 80, true)

	snap := c.Snapshot()
	assert.Equal(t, 3, snap.LLM.InferenceMs.Count)
	assert.InDelta(t, 2.0/3.0, snap.LLM.InferenceMs.SuccessRate, 1e-9)
	assert.Equal(t, 2, snap.LLM.Tokens.Count)
	assert.InDelta(t, 100.0, snap.LLM.Tokens.Mean, 1e-9)
}

func TestTradeOutcomes(t *testing.T) {
	c := NewCollector(100)
	c.ObserveTrade(true, 50000)
	c.ObserveTrade(true, -20000)
	c.ObserveTrade(false, 0)

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.Trades.Executed)
	assert.Equal(t, 1, snap.Trades.Failed)
	assert.InDelta(t, 2.0/3.0, snap.Trades.SuccessRate, 1e-9)
}

func TestEmptySnapshot(t *testing.T) {
	c := NewCollector(0)
	snap := c.Snapshot()
	assert.Empty(t, snap.API)
	assert.Equal(t, Stats{}, snap.LLM.InferenceMs)
	assert.Equal(t, 0, snap.Trades.Count)
}

func TestBindBusRecordsTradeEvents(t *testing.T) {
	c := NewCollector(100)
	bus := events.NewBus()
	c.BindBus(bus)

	bus.PublishTradeExecuted("user-1", "005930", "BUY", 10, 75000)
	bus.Publish(events.Event{Type: events.EventTradeFailed})

	// Delivery is asynchronous.
	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return snap.Trades.Executed == 1 && snap.Trades.Failed == 1
	}, time.Second, 10*time.Millisecond)
}
