package database

import (
	"strings"
	"time"
)

// Sentiment labels.
const (
	SentimentPositive = "Positive"
	SentimentNeutral  = "Neutral"
	SentimentNegative = "Negative"
)

// Trade sides and statuses.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TradeCompleted = "COMPLETED"
	TradeFailed    = "FAILED"
)

// Risk levels.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Backtest run statuses.
const (
	BacktestPending   = "PENDING"
	BacktestRunning   = "RUNNING"
	BacktestCompleted = "COMPLETED"
	BacktestFailed    = "FAILED"
)

// Pattern types.
const (
	PatternWinning = "winning"
	PatternLosing  = "losing"
)

// NewsArticle is a stored news item. Immutable after insert.
type NewsArticle struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	PublishedDate time.Time `json:"published_date"`
	Source        string    `json:"source"`
	URL           *string   `json:"url,omitempty"`
	AssetType     string    `json:"asset_type"`
	CreatedAt     time.Time `json:"created_at"`
}

// SentimentAnalysis is the classification of one article.
type SentimentAnalysis struct {
	ID         int64     `json:"id"`
	NewsID     int64     `json:"news_id"`
	Sentiment  string    `json:"sentiment"`
	Score      float64   `json:"score"`
	Reasoning  string    `json:"reasoning"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// StockPrice is one price snapshot in a per-symbol time series.
type StockPrice struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Volume     int64     `json:"volume"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AccountHolding is a user's position in one symbol. Rows with zero quantity
// are deleted by the data-access layer, never stored.
type AccountHolding struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	AvgCost      float64   `json:"avg_cost"`
	CurrentPrice float64   `json:"current_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AutoTradeConfig is a user's trading configuration. Treated as an immutable
// value by the engine; mutations go through the repository.
type AutoTradeConfig struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Enabled         bool      `json:"enabled"`
	MaxInvestment   float64   `json:"max_investment"`
	MaxPositionSize float64   `json:"max_position_size"`
	RiskLevel       string    `json:"risk_level"`
	BuyThreshold    float64   `json:"buy_threshold"`
	SellThreshold   float64   `json:"sell_threshold"`
	StopLossPct     float64   `json:"stop_loss_pct"`
	DailyLossLimit  *float64  `json:"daily_loss_limit,omitempty"`
	TradingStart    string    `json:"trading_start"` // "HH:MM" local
	TradingEnd      string    `json:"trading_end"`
	AllowedSymbols  []string  `json:"allowed_symbols,omitempty"`
	ExcludedSymbols []string  `json:"excluded_symbols,omitempty"`
	NotifyTarget    string    `json:"notify_target"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TradeHistory is one executed (or failed) trade. Append-only.
type TradeHistory struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	OrderID        string    `json:"order_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Quantity       int64     `json:"quantity"`
	SubmittedPrice float64   `json:"submitted_price"`
	ExecutedPrice  float64   `json:"executed_price"`
	TotalAmount    float64   `json:"total_amount"`
	ProfitLoss     *float64  `json:"profit_loss,omitempty"`
	Status         string    `json:"status"`
	SignalRatio    float64   `json:"signal_ratio"`
	Reasoning      string    `json:"reasoning"`
	ExecutedAt     time.Time `json:"executed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// CacheEntry is one durable cache row.
type CacheEntry struct {
	Key       string    `json:"cache_key"`
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BacktestRun is one backtest execution record.
type BacktestRun struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Name           string     `json:"name"`
	StrategyConfig string     `json:"strategy_config"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	InitialCapital float64    `json:"initial_capital"`
	Status         string     `json:"status"`
	FinalCapital   *float64   `json:"final_capital,omitempty"`
	TotalReturnPct *float64   `json:"total_return_pct,omitempty"`
	TotalTrades    *int       `json:"total_trades,omitempty"`
	WinningTrades  *int       `json:"winning_trades,omitempty"`
	LosingTrades   *int       `json:"losing_trades,omitempty"`
	WinRate        *float64   `json:"win_rate,omitempty"`
	MaxDrawdown    *float64   `json:"max_drawdown,omitempty"`
	SharpeRatio    *float64   `json:"sharpe_ratio,omitempty"`
	SortinoRatio   *float64   `json:"sortino_ratio,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// BacktestTrade mirrors TradeHistory, scoped to a run.
type BacktestTrade struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    int64     `json:"quantity"`
	Price       float64   `json:"price"`
	TotalAmount float64   `json:"total_amount"`
	ProfitLoss  *float64  `json:"profit_loss,omitempty"`
	SignalRatio float64   `json:"signal_ratio"`
	Reasoning   string    `json:"reasoning"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// BacktestDailyStat is a per-day portfolio snapshot within a run.
type BacktestDailyStat struct {
	ID                  int64     `json:"id"`
	RunID               string    `json:"run_id"`
	Date                time.Time `json:"stat_date"`
	PortfolioValue      float64   `json:"portfolio_value"`
	Cash                float64   `json:"cash"`
	Invested            float64   `json:"invested"`
	DailyReturnPct      float64   `json:"daily_return_pct"`
	CumulativeReturnPct float64   `json:"cumulative_return_pct"`
	DrawdownPct         float64   `json:"drawdown_pct"`
	Holdings            string    `json:"holdings"` // JSON list of {symbol, quantity}
}

// TradePattern is one realized buy-then-sell pair with its features.
type TradePattern struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Symbol       string    `json:"symbol"`
	PatternType  string    `json:"pattern_type"`
	EntrySignal  float64   `json:"entry_signal"`
	HoldingHours float64   `json:"holding_hours"`
	ProfitLoss   float64   `json:"profit_loss"`
	ProfitPct    float64   `json:"profit_pct"`
	MarketRegime string    `json:"market_regime"`
	EntryAt      time.Time `json:"entry_at"`
	ExitAt       time.Time `json:"exit_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// LearnedStrategy is a versioned parameter set. At most one version per
// strategy name is active; the repository enforces the swap transactionally.
type LearnedStrategy struct {
	ID              int64     `json:"id"`
	StrategyName    string    `json:"strategy_name"`
	Version         int       `json:"version"`
	BuyThreshold    float64   `json:"buy_threshold"`
	SellThreshold   float64   `json:"sell_threshold"`
	StopLossPct     float64   `json:"stop_loss_pct"`
	RiskLevel       string    `json:"risk_level"`
	TrainingSamples int       `json:"training_samples"`
	WinRate         float64   `json:"win_rate"`
	ProfitFactor    float64   `json:"profit_factor"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// LearningSession records one pattern-extraction / optimization cycle.
type LearningSession struct {
	ID                int64      `json:"id"`
	SessionType       string     `json:"session_type"`
	Status            string     `json:"status"`
	PatternsExtracted int        `json:"patterns_extracted"`
	PatternsAnalyzed  int        `json:"patterns_analyzed"`
	StrategyID        *int64     `json:"strategy_id,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// joinSymbols and splitSymbols convert symbol sets to their stored form.
func joinSymbols(symbols []string) string {
	return strings.Join(symbols, ",")
}

func splitSymbols(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
