// Package backtest replays the signal → decision → execution loop against
// stored prices and sentiments. Runs are deterministic: identical inputs
// produce identical trades and daily stats.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/signal"
)

// tradingDaysPerYear annualizes Sharpe and Sortino.
const tradingDaysPerYear = 252

// Config is the strategy parameter set stored as the run's strategy_config
// JSON.
type Config struct {
	BuyThreshold    float64  `json:"buy_threshold"`
	SellThreshold   float64  `json:"sell_threshold"`
	StopLossPct     float64  `json:"stop_loss_pct"`
	MaxPositionSize float64  `json:"max_position_size"`
	Symbols         []string `json:"symbols,omitempty"`

	// SimplifiedSignal replaces the full VIX-weighted pipeline with a plain
	// mean-sentiment normalization, for comparability with older runs.
	SimplifiedSignal bool `json:"simplified_signal,omitempty"`

	// VIX is the fixed volatility reading used for every simulated day. A
	// live quote would break replay determinism. Zero means neutral (20).
	VIX float64 `json:"vix,omitempty"`
}

func (c *Config) validate() error {
	if c.BuyThreshold <= c.SellThreshold {
		return fmt.Errorf("buy threshold %.1f must be above sell threshold %.1f", c.BuyThreshold, c.SellThreshold)
	}
	if c.MaxPositionSize <= 0 {
		return fmt.Errorf("max position size must be positive")
	}
	if c.StopLossPct <= 0 {
		return fmt.Errorf("stop loss percentage must be positive")
	}
	return nil
}

// position is one simulated holding.
type position struct {
	quantity int64
	avgCost  float64
}

// portfolio is the simulated account state.
type portfolio struct {
	cash      float64
	holdings  map[string]*position
	lastPrice map[string]float64
	peak      float64
}

func (p *portfolio) value() float64 {
	total := p.cash
	for symbol, pos := range p.holdings {
		price := p.lastPrice[symbol]
		if price <= 0 {
			price = pos.avgCost
		}
		total += float64(pos.quantity) * price
	}
	return total
}

// Engine runs backtests against the repository.
type Engine struct {
	repo *database.Repository
	log  zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(repo *database.Repository, log zerolog.Logger) *Engine {
	return &Engine{
		repo: repo,
		log:  log.With().Str("component", "backtest").Logger(),
	}
}

// Run executes one pending backtest. Failures mark the run FAILED with the
// error text; partial trades and stats are retained for inspection.
func (e *Engine) Run(ctx context.Context, runID string) error {
	run, err := e.repo.GetBacktestRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}

	if err := e.repo.MarkBacktestRunning(ctx, runID, time.Now().UTC()); err != nil {
		return err
	}

	if err := e.replay(ctx, run); err != nil {
		e.log.Error().Err(err).Str("run_id", runID).Msg("backtest failed")
		if failErr := e.repo.FailBacktestRun(ctx, runID, err.Error(), time.Now().UTC()); failErr != nil {
			return failErr
		}
		return err
	}
	return nil
}

func (e *Engine) replay(ctx context.Context, run *database.BacktestRun) error {
	var cfg Config
	if err := json.Unmarshal([]byte(run.StrategyConfig), &cfg); err != nil {
		return fmt.Errorf("invalid strategy config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	vix := cfg.VIX
	if vix <= 0 {
		vix = 20
	}

	days, err := e.repo.GetTradingDays(ctx, run.StartDate, run.EndDate)
	if err != nil {
		return fmt.Errorf("load trading days: %w", err)
	}
	if len(days) == 0 {
		return fmt.Errorf("no trading days in range %s to %s",
			run.StartDate.Format("2006-01-02"), run.EndDate.Format("2006-01-02"))
	}

	pf := &portfolio{
		cash:      run.InitialCapital,
		holdings:  make(map[string]*position),
		lastPrice: make(map[string]float64),
		peak:      run.InitialCapital,
	}

	var (
		dailyReturns []float64
		maxDrawdown  float64
		winning      int
		losing       int
		totalTrades  int
		prevValue    = run.InitialCapital
	)

	for _, day := range days {
		prices, err := e.repo.GetPricesOnDay(ctx, day)
		if err != nil {
			return fmt.Errorf("load prices for %s: %w", day.Format("2006-01-02"), err)
		}
		for symbol, p := range prices {
			pf.lastPrice[symbol] = p.Price
		}

		// Stop-loss pass before new entries, in symbol order for
		// reproducible trade sequences.
		for _, symbol := range sortedHeldSymbols(pf) {
			p, ok := prices[symbol]
			if !ok {
				continue
			}
			pos := pf.holdings[symbol]
			changePct := ((p.Price - pos.avgCost) / pos.avgCost) * 100
			if changePct > -math.Abs(cfg.StopLossPct) {
				continue
			}
			reason := fmt.Sprintf("STOP-LOSS: %s down %.2f%% from avg cost %.0f", symbol, -changePct, pos.avgCost)
			win, err := e.sell(ctx, run.ID, pf, symbol, p.Price, 0, reason, day)
			if err != nil {
				return err
			}
			totalTrades++
			if win {
				winning++
			} else {
				losing++
			}
		}

		ratio, err := e.signalForDay(ctx, day, vix, cfg)
		if err != nil {
			return err
		}

		for _, symbol := range eligibleSymbols(prices, cfg.Symbols) {
			price := prices[symbol].Price
			_, held := pf.holdings[symbol]

			switch {
			case ratio >= cfg.BuyThreshold && !held:
				budget := math.Min(cfg.MaxPositionSize, 0.9*pf.cash)
				qty := int64(math.Floor(budget / price))
				if qty <= 0 {
					continue
				}
				if err := e.buy(ctx, run.ID, pf, symbol, price, qty, ratio, day); err != nil {
					return err
				}
				totalTrades++
			case ratio <= cfg.SellThreshold && held:
				reason := fmt.Sprintf("signal %.2f at or below sell threshold %.0f", ratio, cfg.SellThreshold)
				win, err := e.sell(ctx, run.ID, pf, symbol, price, ratio, reason, day)
				if err != nil {
					return err
				}
				totalTrades++
				if win {
					winning++
				} else {
					losing++
				}
			}
		}

		value := pf.value()
		if value > pf.peak {
			pf.peak = value
		}
		drawdown := 0.0
		if pf.peak > 0 {
			drawdown = (pf.peak - value) / pf.peak * 100
		}
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}

		dailyReturn := 0.0
		if prevValue > 0 {
			dailyReturn = (value - prevValue) / prevValue * 100
		}
		dailyReturns = append(dailyReturns, dailyReturn)

		holdingsJSON, err := marshalHoldings(pf)
		if err != nil {
			return err
		}
		invested := value - pf.cash
		if err := e.repo.CreateBacktestDailyStat(ctx, &database.BacktestDailyStat{
			RunID:               run.ID,
			Date:                day,
			PortfolioValue:      value,
			Cash:                pf.cash,
			Invested:            invested,
			DailyReturnPct:      dailyReturn,
			CumulativeReturnPct: (value - run.InitialCapital) / run.InitialCapital * 100,
			DrawdownPct:         drawdown,
			Holdings:            holdingsJSON,
		}); err != nil {
			return fmt.Errorf("record daily stat: %w", err)
		}
		prevValue = value
	}

	final := pf.value()
	totalReturn := (final - run.InitialCapital) / run.InitialCapital * 100
	winRate := 0.0
	if sells := winning + losing; sells > 0 {
		winRate = float64(winning) / float64(sells) * 100
	}
	sharpe := sharpeRatio(dailyReturns)
	sortino := sortinoRatio(dailyReturns)

	run.FinalCapital = &final
	run.TotalReturnPct = &totalReturn
	run.TotalTrades = &totalTrades
	run.WinningTrades = &winning
	run.LosingTrades = &losing
	run.WinRate = &winRate
	run.MaxDrawdown = &maxDrawdown
	run.SharpeRatio = &sharpe
	run.SortinoRatio = &sortino
	now := time.Now().UTC()
	run.CompletedAt = &now

	if err := e.repo.CompleteBacktestRun(ctx, run); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}

	e.log.Info().
		Str("run_id", run.ID).
		Int("days", len(days)).
		Int("trades", totalTrades).
		Float64("return_pct", totalReturn).
		Msg("backtest completed")
	return nil
}

// signalForDay computes the ratio from the preceding 7 days of sentiments.
func (e *Engine) signalForDay(ctx context.Context, day time.Time, vix float64, cfg Config) (float64, error) {
	from := day.AddDate(0, 0, -7)
	sentiments, err := e.repo.GetSentimentsBetween(ctx, from, day)
	if err != nil {
		return 0, fmt.Errorf("load sentiments for %s: %w", day.Format("2006-01-02"), err)
	}

	if cfg.SimplifiedSignal {
		return simplifiedRatio(sentiments), nil
	}
	return signal.Compute(sentiments, vix, signal.DefaultParams()).Ratio, nil
}

// simplifiedRatio maps the plain mean score from [-1.5, +1.0] onto 0-100.
func simplifiedRatio(sentiments []*database.SentimentWithDate) float64 {
	if len(sentiments) == 0 {
		return 50
	}
	var sum float64
	for _, s := range sentiments {
		sum += s.Score
	}
	mean := sum / float64(len(sentiments))
	return (mean + 1.5) / 2.5 * 100
}

func (e *Engine) buy(ctx context.Context, runID string, pf *portfolio, symbol string, price float64, qty int64, ratio float64, day time.Time) error {
	total := price * float64(qty)
	pf.cash -= total
	pf.holdings[symbol] = &position{quantity: qty, avgCost: price}

	return e.repo.CreateBacktestTrade(ctx, &database.BacktestTrade{
		RunID:       runID,
		Symbol:      symbol,
		Side:        database.SideBuy,
		Quantity:    qty,
		Price:       price,
		TotalAmount: total,
		SignalRatio: ratio,
		Reasoning:   fmt.Sprintf("signal %.2f at or above buy threshold", ratio),
		ExecutedAt:  day,
	})
}

// sell liquidates the full position and reports whether it was a winner.
func (e *Engine) sell(ctx context.Context, runID string, pf *portfolio, symbol string, price, ratio float64, reason string, day time.Time) (bool, error) {
	pos := pf.holdings[symbol]
	total := price * float64(pos.quantity)
	pl := (price - pos.avgCost) * float64(pos.quantity)

	pf.cash += total
	delete(pf.holdings, symbol)

	err := e.repo.CreateBacktestTrade(ctx, &database.BacktestTrade{
		RunID:       runID,
		Symbol:      symbol,
		Side:        database.SideSell,
		Quantity:    pos.quantity,
		Price:       price,
		TotalAmount: total,
		ProfitLoss:  &pl,
		SignalRatio: ratio,
		Reasoning:   reason,
		ExecutedAt:  day,
	})
	return pl > 0, err
}

// eligibleSymbols intersects the day's priced symbols with the strategy's
// symbol set, sorted for determinism.
func eligibleSymbols(prices map[string]*database.StockPrice, allowed []string) []string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = true
	}

	out := make([]string, 0, len(prices))
	for symbol := range prices {
		if len(allowed) > 0 && !allowedSet[symbol] {
			continue
		}
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func sortedHeldSymbols(pf *portfolio) []string {
	out := make([]string, 0, len(pf.holdings))
	for symbol := range pf.holdings {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func marshalHoldings(pf *portfolio) (string, error) {
	type entry struct {
		Symbol   string `json:"symbol"`
		Quantity int64  `json:"quantity"`
	}
	entries := make([]entry, 0, len(pf.holdings))
	for _, symbol := range sortedHeldSymbols(pf) {
		entries = append(entries, entry{Symbol: symbol, Quantity: pf.holdings[symbol].quantity})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sharpeRatio annualizes mean daily return over its volatility.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	stdev := stat.StdDev(returns, nil)
	if stdev == 0 {
		return 0
	}
	return mean / stdev * math.Sqrt(tradingDaysPerYear)
}

// sortinoRatio penalizes downside volatility only.
func sortinoRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) < 2 {
		return 0
	}
	downside := stat.StdDev(negative, nil)
	if downside == 0 {
		return 0
	}
	return stat.Mean(returns, nil) / downside * math.Sqrt(tradingDaysPerYear)
}
