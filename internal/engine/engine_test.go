package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentiment-trading-bot/internal/alerts"
	"sentiment-trading-bot/internal/brokerage"
	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/logging"
	"sentiment-trading-bot/internal/risk"
)

const testUser = "u1"

func newTestEngine(t *testing.T, cash float64) (*Engine, *database.Repository, *brokerage.MockBroker) {
	t.Helper()
	db, err := database.New(database.Config{
		Engine: database.EngineSQLite,
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background()))

	repo := database.NewRepository(db)
	broker := brokerage.NewMockBroker(cash)
	riskMgr := risk.NewManager(repo, nil, logging.Nop())
	eng := New(repo, broker, riskMgr, nil, nil, logging.Nop())
	return eng, repo, broker
}

func saveConfig(t *testing.T, repo *database.Repository, mutate func(*database.AutoTradeConfig)) *database.AutoTradeConfig {
	t.Helper()
	cfg := &database.AutoTradeConfig{
		UserID:          testUser,
		Enabled:         true,
		MaxInvestment:   10_000_000,
		MaxPositionSize: 2_000_000,
		RiskLevel:       database.RiskMedium,
		BuyThreshold:    70,
		SellThreshold:   30,
		StopLossPct:     5,
		TradingStart:    "00:00",
		TradingEnd:      "23:59",
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, repo.SaveAutoTradeConfig(context.Background(), cfg))
	return cfg
}

func TestProcessSignalWithoutConfig(t *testing.T) {
	eng, _, _ := newTestEngine(t, 1_000_000)

	result, err := eng.ProcessSignal(context.Background(), testUser, "005930", 85, "strong buy")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, result.Outcome)
}

func TestProcessSignalDisabled(t *testing.T) {
	eng, repo, _ := newTestEngine(t, 1_000_000)
	saveConfig(t, repo, func(c *database.AutoTradeConfig) { c.Enabled = false })

	result, err := eng.ProcessSignal(context.Background(), testUser, "005930", 85, "strong buy")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, result.Outcome)
}

func TestProcessSignalHoldsBetweenThresholds(t *testing.T) {
	eng, repo, _ := newTestEngine(t, 1_000_000)
	saveConfig(t, repo, nil)

	result, err := eng.ProcessSignal(context.Background(), testUser, "005930", 50, "neutral")
	require.NoError(t, err)
	assert.Equal(t, OutcomeHeld, result.Outcome)
	assert.Contains(t, result.Reason, "between thresholds")
}

func TestProcessSignalBuy(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 10_000_000)
	saveConfig(t, repo, nil)
	broker.SetPrice("005930", 75_000)
	ctx := context.Background()

	result, err := eng.ProcessSignal(ctx, testUser, "005930", 85, "positive sentiment week")
	require.NoError(t, err)

	// 2,000,000 * 0.75 (MEDIUM) * 0.85 / 75,000 = 17 shares.
	assert.Equal(t, OutcomeExecuted, result.Outcome)
	assert.Equal(t, database.SideBuy, result.Side)
	assert.Equal(t, int64(17), result.Quantity)
	assert.Equal(t, 75_000.0, result.Price)

	holding, err := repo.GetHolding(ctx, testUser, "005930")
	require.NoError(t, err)
	assert.Equal(t, int64(17), holding.Quantity)
	assert.Equal(t, 75_000.0, holding.AvgCost)

	trades, err := repo.GetTrades(ctx, testUser, 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, database.TradeCompleted, trades[0].Status)
	assert.Equal(t, 85.0, trades[0].SignalRatio)
	assert.Equal(t, "positive sentiment week", trades[0].Reasoning)
}

func TestProcessSignalBuyRejectedForExcludedSymbol(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 10_000_000)
	saveConfig(t, repo, func(c *database.AutoTradeConfig) {
		c.ExcludedSymbols = []string{"005930"}
	})
	broker.SetPrice("005930", 75_000)
	ctx := context.Background()

	result, err := eng.ProcessSignal(ctx, testUser, "005930", 85, "buy")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Contains(t, result.Reason, "excluded")

	// Rejections leave no trace in trade history.
	trades, err := repo.GetTrades(ctx, testUser, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestProcessSignalBuyZeroSize(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 10_000_000)
	saveConfig(t, repo, func(c *database.AutoTradeConfig) {
		c.MaxPositionSize = 50_000 // below one share
	})
	broker.SetPrice("005930", 75_000)

	result, err := eng.ProcessSignal(context.Background(), testUser, "005930", 85, "buy")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Contains(t, result.Reason, "zero shares")
}

func TestProcessSignalSellRealizesProfit(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 1_000_000)
	saveConfig(t, repo, nil)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceHoldings(ctx, testUser, []*database.AccountHolding{
		{UserID: testUser, Symbol: "005930", Quantity: 10, AvgCost: 70_000},
	}))
	broker.SetHolding("005930", 10, 70_000)
	broker.SetPrice("005930", 77_000)

	result, err := eng.ProcessSignal(ctx, testUser, "005930", 20, "negative sentiment week")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, result.Outcome)
	assert.Equal(t, database.SideSell, result.Side)
	assert.Equal(t, int64(10), result.Quantity, "sells liquidate the full position")

	trades, err := repo.GetTrades(ctx, testUser, 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].ProfitLoss)
	assert.Equal(t, 70_000.0, *trades[0].ProfitLoss) // (77,000 - 70,000) * 10

	_, err = repo.GetHolding(ctx, testUser, "005930")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestProcessSignalSellWithoutHolding(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 1_000_000)
	saveConfig(t, repo, nil)
	broker.SetPrice("005930", 77_000)

	result, err := eng.ProcessSignal(context.Background(), testUser, "005930", 20, "sell")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Contains(t, result.Reason, "no holding")
}

func TestFailedOrderIsRecordedNotReturned(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 10_000_000)
	saveConfig(t, repo, nil)
	broker.SetPrice("005930", 75_000)
	broker.FailNextOrder("exchange rejected order")
	ctx := context.Background()

	result, err := eng.ProcessSignal(ctx, testUser, "005930", 85, "buy")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Reason, "exchange rejected")

	trades, err := repo.GetTrades(ctx, testUser, 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, database.TradeFailed, trades[0].Status)

	// A failed buy never touches holdings.
	_, err = repo.GetHolding(ctx, testUser, "005930")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestProcessSignalPriceLookupFailure(t *testing.T) {
	eng, repo, _ := newTestEngine(t, 1_000_000)
	saveConfig(t, repo, nil)

	// No quote configured for the symbol.
	result, err := eng.ProcessSignal(context.Background(), testUser, "035420", 85, "buy")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Reason, "price lookup failed")
}

func TestMonitorPositionsTriggersStopLoss(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 1_000_000)
	alerter := alerts.NewService(nil, nil, time.Minute, logging.Nop())
	eng.alerter = alerter
	saveConfig(t, repo, nil) // stop loss at 5%
	ctx := context.Background()

	require.NoError(t, repo.ReplaceHoldings(ctx, testUser, []*database.AccountHolding{
		{UserID: testUser, Symbol: "005930", Quantity: 17, AvgCost: 75_000},
		{UserID: testUser, Symbol: "035420", Quantity: 5, AvgCost: 200_000},
	}))
	broker.SetHolding("005930", 17, 75_000)
	broker.SetHolding("035420", 5, 200_000)
	broker.SetPrice("005930", 71_250)  // exactly -5%
	broker.SetPrice("035420", 210_000) // +5%, untouched

	results, err := eng.MonitorPositions(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, OutcomeExecuted, result.Outcome)
	assert.Equal(t, "005930", result.Symbol)
	assert.Equal(t, int64(17), result.Quantity)
	assert.True(t, strings.HasPrefix(result.Trade.Reasoning, "STOP-LOSS:"))
	require.NotNil(t, result.Trade.ProfitLoss)
	assert.InDelta(t, (71_250.0-75_000.0)*17, *result.Trade.ProfitLoss, 0.01)

	_, err = repo.GetHolding(ctx, testUser, "005930")
	assert.ErrorIs(t, err, database.ErrNotFound)

	// The healthy position survives with its price refreshed.
	kept, err := repo.GetHolding(ctx, testUser, "035420")
	require.NoError(t, err)
	assert.Equal(t, int64(5), kept.Quantity)
	assert.Equal(t, 210_000.0, kept.CurrentPrice)

	history := alerter.History()
	require.Len(t, history, 2) // stop_loss critical + trade_executed info
	assert.Equal(t, "stop_loss", history[0].Type)
	assert.Equal(t, alerts.LevelCritical, history[0].Level)

	assert.False(t, eng.LastCheckTime(testUser).IsZero())
}

func TestMonitorPositionsSkipsQuoteFailures(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 1_000_000)
	saveConfig(t, repo, nil)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceHoldings(ctx, testUser, []*database.AccountHolding{
		{UserID: testUser, Symbol: "005930", Quantity: 10, AvgCost: 75_000},
	}))
	broker.SetHolding("005930", 10, 75_000)
	// No price set: the quote fails and the holding is left alone.

	results, err := eng.MonitorPositions(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, results)

	holding, err := repo.GetHolding(ctx, testUser, "005930")
	require.NoError(t, err)
	assert.Equal(t, int64(10), holding.Quantity)
}

func TestSyncHoldings(t *testing.T) {
	eng, repo, broker := newTestEngine(t, 1_000_000)
	ctx := context.Background()

	broker.SetPrice("005930", 76_000)
	broker.SetPrice("035420", 205_000)
	broker.SetHolding("005930", 17, 75_000)
	broker.SetHolding("035420", 5, 200_000)

	require.NoError(t, eng.SyncHoldings(ctx, testUser))

	holdings, err := repo.GetHoldings(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "005930", holdings[0].Symbol)
	assert.Equal(t, int64(17), holdings[0].Quantity)
	assert.Equal(t, 75_000.0, holdings[0].AvgCost)
}

func TestStartStopToggleConfig(t *testing.T) {
	eng, repo, _ := newTestEngine(t, 1_000_000)
	ctx := context.Background()

	assert.Error(t, eng.Start(ctx, testUser), "start requires a config")

	saveConfig(t, repo, func(c *database.AutoTradeConfig) { c.Enabled = false })
	require.NoError(t, eng.Start(ctx, testUser))
	assert.True(t, eng.Running(testUser))

	cfg, err := repo.GetAutoTradeConfig(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)

	require.NoError(t, eng.Stop(ctx, testUser))
	assert.False(t, eng.Running(testUser))

	cfg, err = repo.GetAutoTradeConfig(ctx, testUser)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
}
