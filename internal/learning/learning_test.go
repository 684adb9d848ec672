package learning

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

const testUser = "u1"

func newTestService(t *testing.T) (*Service, *database.Repository) {
	t.Helper()
	db, err := database.New(database.Config{
		Engine: database.EngineSQLite,
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background()))
	return NewService(database.NewRepository(db), logging.Nop()), database.NewRepository(db)
}

func seedTrade(t *testing.T, repo *database.Repository, side string, qty int64, price, ratio float64, pl *float64, at time.Time) {
	t.Helper()
	require.NoError(t, repo.CreateTrade(context.Background(), &database.TradeHistory{
		UserID:        testUser,
		OrderID:       "ORD-" + at.Format("150405"),
		Symbol:        "005930",
		Side:          side,
		Quantity:      qty,
		ExecutedPrice: price,
		TotalAmount:   price * float64(qty),
		ProfitLoss:    pl,
		Status:        database.TradeCompleted,
		SignalRatio:   ratio,
		Reasoning:     "test",
		ExecutedAt:    at,
	}))
}

func ptr(v float64) *float64 { return &v }

func TestExtractPatternsPairsBuysWithSells(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	seedTrade(t, repo, database.SideBuy, 10, 100, 80, nil, t0)
	seedTrade(t, repo, database.SideSell, 10, 120, 25, ptr(200), t0.Add(48*time.Hour))
	seedTrade(t, repo, database.SideBuy, 5, 200, 75, nil, t0.Add(72*time.Hour))
	seedTrade(t, repo, database.SideSell, 5, 190, 20, ptr(-50), t0.Add(96*time.Hour))
	// An open position contributes nothing until it is closed.
	seedTrade(t, repo, database.SideBuy, 3, 150, 90, nil, t0.Add(120*time.Hour))

	extracted, err := svc.ExtractPatterns(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, extracted)

	patterns, err := repo.GetPatterns(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	win := patterns[0]
	assert.Equal(t, database.PatternWinning, win.PatternType)
	assert.Equal(t, 80.0, win.EntrySignal)
	assert.InDelta(t, 48.0, win.HoldingHours, 0.001)
	assert.Equal(t, 200.0, win.ProfitLoss)
	assert.InDelta(t, 20.0, win.ProfitPct, 0.001) // 200 profit on a 1,000 entry
	assert.Equal(t, RegimeBull, win.MarketRegime)

	lose := patterns[1]
	assert.Equal(t, database.PatternLosing, lose.PatternType)
	assert.Equal(t, 75.0, lose.EntrySignal)
	assert.Equal(t, -50.0, lose.ProfitLoss)

	// A second pass resumes past the stored patterns and adds nothing.
	extracted, err = svc.ExtractPatterns(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, extracted)
}

func TestExtractPatternsSkipsFailedAndUnmatched(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// A failed buy never opens a position.
	require.NoError(t, repo.CreateTrade(ctx, &database.TradeHistory{
		UserID: testUser, OrderID: "F1", Symbol: "005930", Side: database.SideBuy,
		Quantity: 10, ExecutedPrice: 100, Status: database.TradeFailed, ExecutedAt: t0,
	}))
	// A sell with no recorded entry is unpairable.
	seedTrade(t, repo, database.SideSell, 10, 120, 20, ptr(200), t0.Add(time.Hour))

	extracted, err := svc.ExtractPatterns(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, extracted)
}

func TestOptimizeWithInsufficientHistory(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	strategy, err := svc.Optimize(ctx, testUser, "sentiment-default")
	require.NoError(t, err)
	assert.Equal(t, 1, strategy.Version)
	assert.True(t, strategy.IsActive)
	assert.Zero(t, strategy.TrainingSamples)
	assert.Equal(t, defaultBuyThreshold, strategy.BuyThreshold)
	assert.Equal(t, database.RiskMedium, strategy.RiskLevel)

	active, err := repo.GetActiveStrategy(ctx, "sentiment-default")
	require.NoError(t, err)
	assert.Equal(t, strategy.ID, active.ID)
}

func seedPattern(t *testing.T, repo *database.Repository, patternType string, entrySignal, pl, profitPct float64, exit time.Time) {
	t.Helper()
	require.NoError(t, repo.CreatePattern(context.Background(), &database.TradePattern{
		UserID:       testUser,
		Symbol:       "005930",
		PatternType:  patternType,
		EntrySignal:  entrySignal,
		HoldingHours: 24,
		ProfitLoss:   pl,
		ProfitPct:    profitPct,
		MarketRegime: RegimeNeutral,
		EntryAt:      exit.Add(-24 * time.Hour),
		ExitAt:       exit,
	}))
}

func TestOptimizeDerivesFromPatterns(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	exit := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	winningEntries := []float64{72, 74, 76, 78, 80, 82, 84, 86}
	for _, entry := range winningEntries {
		seedPattern(t, repo, database.PatternWinning, entry, 100, 10, exit)
		exit = exit.Add(time.Hour)
	}
	for i, lossPct := range []float64{4, 6, 8, 10} {
		seedPattern(t, repo, database.PatternLosing, 60+float64(i), -50, -lossPct, exit)
		exit = exit.Add(time.Hour)
	}

	strategy, err := svc.Optimize(ctx, testUser, "sentiment-default")
	require.NoError(t, err)

	assert.Equal(t, 12, strategy.TrainingSamples)
	assert.InDelta(t, 66.67, strategy.WinRate, 0.01)
	assert.InDelta(t, 4.0, strategy.ProfitFactor, 0.001) // 800 gross profit / 200 gross loss
	assert.Equal(t, 78.0, strategy.BuyThreshold)         // median winning entry
	assert.Equal(t, 22.0, strategy.SellThreshold)
	assert.Equal(t, 8.0, strategy.StopLossPct) // 75th percentile of losing excursions
	assert.Equal(t, database.RiskHigh, strategy.RiskLevel)
}

func TestOptimizeVersionsAndSingleActive(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	first, err := svc.Optimize(ctx, testUser, "sentiment-default")
	require.NoError(t, err)
	second, err := svc.Optimize(ctx, testUser, "sentiment-default")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 2, second.Version)

	active, err := repo.GetActiveStrategy(ctx, "sentiment-default")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID, "only the newest version stays active")
}

func TestActiveStrategyFallsBackToDefault(t *testing.T) {
	svc, _ := newTestService(t)

	strategy, err := svc.ActiveStrategy(context.Background(), "sentiment-default")
	require.NoError(t, err)
	assert.Equal(t, defaultBuyThreshold, strategy.BuyThreshold)
	assert.Zero(t, strategy.ID, "fallback default is not persisted")
}

func TestRunCycleExtractsThenOptimizes(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	seedTrade(t, repo, database.SideBuy, 10, 100, 80, nil, t0)
	seedTrade(t, repo, database.SideSell, 10, 120, 25, ptr(200), t0.Add(time.Hour))

	strategy, err := svc.RunCycle(ctx, testUser, "sentiment-default")
	require.NoError(t, err)
	assert.Equal(t, 1, strategy.Version)

	patterns, err := repo.GetPatterns(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, patterns, 1)
}
