package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/internal/brokerage"
	"sentiment-trading-bot/internal/cache"
	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/engine"
	"sentiment-trading-bot/internal/metrics"
	"sentiment-trading-bot/internal/news"
	"sentiment-trading-bot/internal/risk"
	"sentiment-trading-bot/internal/sentiment"
	"sentiment-trading-bot/internal/signal"
)

// ClockToCron converts a local "HH:MM" clock time to a daily cron spec.
func ClockToCron(clock string) (string, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("expected HH:MM, got %q", clock)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("bad hour in %q", clock)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("bad minute in %q", clock)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// EveryToCron converts an interval to a cron spec, floored to one minute.
func EveryToCron(interval time.Duration) string {
	if interval < time.Minute {
		interval = time.Minute
	}
	return "@every " + interval.String()
}

// NewsJob runs one news collection pass, then classifies whatever is still
// unanalyzed. A fetch failure skips the sentiment step; the next daily run
// picks the backlog up.
type NewsJob struct {
	Collector  *news.Collector
	Analyzer   *sentiment.Analyzer
	BatchLimit int
}

func (j *NewsJob) Name() string { return "news-collection" }

func (j *NewsJob) Run(ctx context.Context) error {
	if _, err := j.Collector.Collect(ctx); err != nil {
		return err
	}
	if j.Analyzer == nil {
		return nil
	}
	limit := j.BatchLimit
	if limit <= 0 {
		limit = 50
	}
	if _, err := j.Analyzer.AnalyzeBatch(ctx, limit); err != nil {
		return fmt.Errorf("sentiment batch: %w", err)
	}
	return nil
}

// SignalJob generates the weekly signal and feeds it to every enabled user
// over the watch list plus their holdings.
type SignalJob struct {
	Repo      *database.Repository
	Generator *signal.Generator
	Engine    *engine.Engine
	Risk      *risk.Manager
	Watch     []string
	Log       zerolog.Logger
}

func (j *SignalJob) Name() string { return "signal-tick" }

func (j *SignalJob) Run(ctx context.Context) error {
	res, err := j.Generator.Generate(ctx, time.Now().UTC(), 0)
	if err != nil {
		return fmt.Errorf("generate signal: %w", err)
	}
	reasoning := fmt.Sprintf("weekly signal %.2f over %d articles (VIX %.1f): %s",
		res.WeeklySignal, res.ArticleCount, res.VIX, res.Interpretation)

	configs, err := j.Repo.ListEnabledConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list enabled configs: %w", err)
	}

	if j.Risk != nil && risk.DetectAbnormalMarket(res.VIX) {
		reason := fmt.Sprintf("abnormal market: VIX %.1f", res.VIX)
		for _, cfg := range configs {
			if err := j.Risk.EmergencyStop(ctx, cfg, reason); err != nil {
				j.Log.Error().Err(err).Str("user_id", cfg.UserID).Msg("emergency stop failed")
			}
		}
		return nil
	}
	for _, cfg := range configs {
		symbols := map[string]bool{}
		for _, s := range j.Watch {
			symbols[s] = true
		}
		holdings, err := j.Repo.GetHoldings(ctx, cfg.UserID)
		if err != nil {
			j.Log.Error().Err(err).Str("user_id", cfg.UserID).Msg("signal tick holdings load failed")
			continue
		}
		for _, h := range holdings {
			symbols[h.Symbol] = true
		}

		for symbol := range symbols {
			if _, err := j.Engine.ProcessSignal(ctx, cfg.UserID, symbol, res.Ratio, reasoning); err != nil {
				j.Log.Error().Err(err).Str("user_id", cfg.UserID).Str("symbol", symbol).Msg("signal processing failed")
			}
		}
	}
	return nil
}

// PricePollJob snapshots quotes for every held symbol plus the watch list.
type PricePollJob struct {
	Repo    *database.Repository
	Broker  brokerage.Broker
	Cache   *cache.Cache
	Metrics *metrics.Collector
	Watch   []string
	Log     zerolog.Logger
}

func (j *PricePollJob) Name() string { return "price-poll" }

func (j *PricePollJob) Run(ctx context.Context) error {
	symbols := map[string]bool{}
	for _, s := range j.Watch {
		symbols[s] = true
	}

	configs, err := j.Repo.ListEnabledConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list enabled configs: %w", err)
	}
	for _, cfg := range configs {
		holdings, err := j.Repo.GetHoldings(ctx, cfg.UserID)
		if err != nil {
			return fmt.Errorf("load holdings for %s: %w", cfg.UserID, err)
		}
		for _, h := range holdings {
			symbols[h.Symbol] = true
		}
	}

	var failed int
	for symbol := range symbols {
		start := time.Now()
		quote, err := j.Broker.GetStockPrice(ctx, symbol)
		if j.Metrics != nil {
			j.Metrics.ObserveAPI("broker.price", time.Since(start), err == nil)
		}
		if err != nil {
			j.Log.Warn().Err(err).Str("symbol", symbol).Msg("price poll quote failed")
			failed++
			continue
		}
		if err := j.Repo.CreatePrice(ctx, &database.StockPrice{
			Symbol: quote.Symbol,
			Price:  quote.Price,
			Open:   quote.Open,
			High:   quote.High,
			Low:    quote.Low,
			Volume: quote.Volume,
		}); err != nil {
			return fmt.Errorf("store price for %s: %w", symbol, err)
		}
		if j.Cache != nil {
			if err := j.Cache.SetJSON(ctx, cache.PriceKey(symbol), quote, cache.PriceTTL); err != nil {
				j.Log.Warn().Err(err).Str("symbol", symbol).Msg("price cache write failed")
			}
		}
	}

	if failed > 0 && failed == len(symbols) {
		return fmt.Errorf("all %d price lookups failed", failed)
	}
	return nil
}

// CacheSweepJob deletes expired durable cache rows.
type CacheSweepJob struct {
	Cache *cache.Cache
}

func (j *CacheSweepJob) Name() string { return "cache-sweep" }

func (j *CacheSweepJob) Run(ctx context.Context) error {
	_, err := j.Cache.Sweep(ctx)
	return err
}

// MonitorJob runs stop-loss monitoring for every enabled user.
type MonitorJob struct {
	Repo   *database.Repository
	Engine *engine.Engine
}

func (j *MonitorJob) Name() string { return "position-monitor" }

func (j *MonitorJob) Run(ctx context.Context) error {
	configs, err := j.Repo.ListEnabledConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if _, err := j.Engine.MonitorPositions(ctx, cfg.UserID); err != nil {
			return fmt.Errorf("monitor %s: %w", cfg.UserID, err)
		}
	}
	return nil
}

// RetentionJob prunes old price snapshots. News pruning happens inside the
// collection pass.
type RetentionJob struct {
	Repo       *database.Repository
	PricesDays int
}

func (j *RetentionJob) Name() string { return "price-retention" }

func (j *RetentionJob) Run(ctx context.Context) error {
	if j.PricesDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -j.PricesDays)
	_, err := j.Repo.PrunePricesBefore(ctx, cutoff)
	return err
}
