// Package metrics collects rolling-window performance samples: per-endpoint
// API timings, LLM inference times and token counts, and trade outcomes.
// Each category keeps its own lock so a busy trade loop never contends with
// API instrumentation, and reads always return a snapshot.
package metrics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"sentiment-trading-bot/internal/events"
)

// DefaultWindowSize is the number of samples each category retains.
const DefaultWindowSize = 1000

// Stats summarizes one rolling window.
type Stats struct {
	Count       int     `json:"count"`
	SuccessRate float64 `json:"success_rate"`
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	P95         float64 `json:"p95"`
	P99         float64 `json:"p99"`
}

// LLMStats covers the completion endpoint.
type LLMStats struct {
	InferenceMs Stats `json:"inference_ms"`
	Tokens      Stats `json:"tokens"`
}

// TradeStats covers order outcomes.
type TradeStats struct {
	Stats
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

// Snapshot is a point-in-time copy of every category.
type Snapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	API         map[string]Stats `json:"api"`
	LLM         LLMStats         `json:"llm"`
	Trades      TradeStats       `json:"trades"`
}

// window is a fixed-size ring of (value, ok) samples.
type window struct {
	size   int
	values []float64
	ok     []bool
	next   int
	filled bool
}

func newWindow(size int) *window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &window{
		size:   size,
		values: make([]float64, size),
		ok:     make([]bool, size),
	}
}

func (w *window) add(value float64, ok bool) {
	w.values[w.next] = value
	w.ok[w.next] = ok
	w.next++
	if w.next == w.size {
		w.next = 0
		w.filled = true
	}
}

func (w *window) count() int {
	if w.filled {
		return w.size
	}
	return w.next
}

func (w *window) stats() Stats {
	n := w.count()
	if n == 0 {
		return Stats{}
	}

	values := make([]float64, n)
	copy(values, w.values[:n])

	var succeeded int
	for i := 0; i < n; i++ {
		if w.ok[i] {
			succeeded++
		}
	}

	sort.Float64s(values)
	return Stats{
		Count:       n,
		SuccessRate: float64(succeeded) / float64(n),
		Mean:        stat.Mean(values, nil),
		Min:         values[0],
		Max:         values[n-1],
		P95:         stat.Quantile(0.95, stat.Empirical, values, nil),
		P99:         stat.Quantile(0.99, stat.Empirical, values, nil),
	}
}

// Collector accumulates samples across categories.
type Collector struct {
	windowSize int

	apiMu sync.Mutex
	api   map[string]*window

	llmMu     sync.Mutex
	inference *window
	tokens    *window

	tradeMu  sync.Mutex
	trades   *window
	executed int
	failed   int
}

// NewCollector creates a collector. windowSize <= 0 uses the default.
func NewCollector(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Collector{
		windowSize: windowSize,
		api:        make(map[string]*window),
		inference:  newWindow(windowSize),
		tokens:     newWindow(windowSize),
		trades:     newWindow(windowSize),
	}
}

// ObserveAPI records one timed call against a named endpoint.
func (c *Collector) ObserveAPI(endpoint string, took time.Duration, ok bool) {
	c.apiMu.Lock()
	defer c.apiMu.Unlock()

	w, found := c.api[endpoint]
	if !found {
		w = newWindow(c.windowSize)
		c.api[endpoint] = w
	}
	w.add(float64(took.Milliseconds()), ok)
}

// ObserveLLM records one completion call.
func (c *Collector) ObserveLLM(took time.Duration, tokens int, ok bool) {
	c.llmMu.Lock()
	defer c.llmMu.Unlock()
	c.inference.add(float64(took.Milliseconds()), ok)
	if ok {
		c.tokens.add(float64(tokens), true)
	}
}

// ObserveTrade records one order attempt. The value sampled is the realized
// profit/loss, zero for buys.
func (c *Collector) ObserveTrade(ok bool, profitLoss float64) {
	c.tradeMu.Lock()
	defer c.tradeMu.Unlock()
	c.trades.add(profitLoss, ok)
	if ok {
		c.executed++
	} else {
		c.failed++
	}
}

// Snapshot copies the current state of every window.
func (c *Collector) Snapshot() *Snapshot {
	snap := &Snapshot{
		GeneratedAt: time.Now().UTC(),
		API:         make(map[string]Stats),
	}

	c.apiMu.Lock()
	for endpoint, w := range c.api {
		snap.API[endpoint] = w.stats()
	}
	c.apiMu.Unlock()

	c.llmMu.Lock()
	snap.LLM = LLMStats{
		InferenceMs: c.inference.stats(),
		Tokens:      c.tokens.stats(),
	}
	c.llmMu.Unlock()

	c.tradeMu.Lock()
	snap.Trades = TradeStats{
		Stats:    c.trades.stats(),
		Executed: c.executed,
		Failed:   c.failed,
	}
	c.tradeMu.Unlock()

	return snap
}

// BindBus subscribes the collector to trade events so engine outcomes land in
// the trade window without the engine knowing about metrics.
func (c *Collector) BindBus(bus *events.Bus) {
	bus.Subscribe(events.EventTradeExecuted, func(events.Event) {
		c.ObserveTrade(true, 0)
	})
	bus.Subscribe(events.EventTradeFailed, func(events.Event) {
		c.ObserveTrade(false, 0)
	})
}
