package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"sentiment-trading-bot/internal/database"
)

// Default parameters used when there is not enough history to learn from.
const (
	defaultBuyThreshold  = 70.0
	defaultSellThreshold = 30.0
	defaultStopLossPct   = 5.0

	// lossPercentile picks the conservative end of observed losses when
	// deriving the stop-loss.
	lossPercentile = 0.75
)

// Optimize derives a new strategy version from the user's stored patterns and
// activates it. With fewer than MinSamples patterns it stores a default
// strategy (training_samples = 0) so callers always find an active one.
func (s *Service) Optimize(ctx context.Context, userID, strategyName string) (*database.LearnedStrategy, error) {
	session := &LearningSessionHandle{svc: s, row: &database.LearningSession{SessionType: "optimization"}}
	if err := s.repo.CreateLearningSession(ctx, session.row); err != nil {
		return nil, fmt.Errorf("open learning session: %w", err)
	}

	patterns, err := s.repo.GetPatterns(ctx, userID)
	if err != nil {
		session.fail(ctx)
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	session.row.PatternsAnalyzed = len(patterns)

	var strategy *database.LearnedStrategy
	if len(patterns) < s.MinSamples {
		s.log.Info().
			Str("user_id", userID).
			Int("patterns", len(patterns)).
			Int("min_samples", s.MinSamples).
			Msg("insufficient history, storing default strategy")
		strategy = s.defaultStrategy(strategyName)
	} else {
		strategy = s.derive(strategyName, patterns)
	}

	version, err := s.nextVersion(ctx, strategyName)
	if err != nil {
		session.fail(ctx)
		return nil, err
	}
	strategy.Version = version
	strategy.IsActive = true

	if err := s.repo.SaveStrategy(ctx, strategy); err != nil {
		session.fail(ctx)
		return nil, fmt.Errorf("save strategy: %w", err)
	}

	session.row.StrategyID = &strategy.ID
	session.complete(ctx)

	s.log.Info().
		Str("strategy", strategyName).
		Int("version", strategy.Version).
		Float64("buy_threshold", strategy.BuyThreshold).
		Float64("stop_loss_pct", strategy.StopLossPct).
		Int("samples", strategy.TrainingSamples).
		Msg("strategy optimized")
	return strategy, nil
}

// RunCycle extracts fresh patterns and then optimizes. This is the unit the
// scheduler and CLI invoke.
func (s *Service) RunCycle(ctx context.Context, userID, strategyName string) (*database.LearnedStrategy, error) {
	extracted, err := s.ExtractPatterns(ctx, userID)
	if err != nil {
		return nil, err
	}
	strategy, err := s.Optimize(ctx, userID, strategyName)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("extracted", extracted).Int("version", strategy.Version).Msg("learning cycle finished")
	return strategy, nil
}

// ActiveStrategy returns the active version, falling back to an unsaved
// default when none exists yet.
func (s *Service) ActiveStrategy(ctx context.Context, strategyName string) (*database.LearnedStrategy, error) {
	strategy, err := s.repo.GetActiveStrategy(ctx, strategyName)
	if err == nil {
		return strategy, nil
	}
	if errors.Is(err, database.ErrNotFound) {
		return s.defaultStrategy(strategyName), nil
	}
	return nil, err
}

// derive computes the parameter set from realized patterns.
func (s *Service) derive(strategyName string, patterns []*database.TradePattern) *database.LearnedStrategy {
	var (
		winningEntries []float64
		losingEntries  []float64
		lossMagnitudes []float64
		grossProfit    float64
		grossLoss      float64
		winners        int
	)
	for _, p := range patterns {
		if p.PatternType == database.PatternWinning {
			winners++
			winningEntries = append(winningEntries, p.EntrySignal)
			grossProfit += p.ProfitLoss
		} else {
			losingEntries = append(losingEntries, p.EntrySignal)
			lossMagnitudes = append(lossMagnitudes, math.Abs(p.ProfitPct))
			grossLoss += math.Abs(p.ProfitLoss)
		}
	}

	winRate := float64(winners) / float64(len(patterns)) * 100

	profitFactor := grossProfit
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}

	// Entry threshold: the median signal of entries that worked.
	buyThreshold := defaultBuyThreshold
	if len(winningEntries) > 0 {
		buyThreshold = quantile(winningEntries, 0.5)
	}
	buyThreshold = clamp(buyThreshold, 55, 95)

	// Exit threshold stays mirrored below the entry with a floor.
	sellThreshold := clamp(100-buyThreshold, 10, buyThreshold-10)

	// Stop-loss: wide enough to survive most observed losing excursions.
	stopLoss := defaultStopLossPct
	if len(lossMagnitudes) > 0 {
		stopLoss = clamp(quantile(lossMagnitudes, lossPercentile), 2, 15)
	}

	riskLevel := database.RiskMedium
	switch {
	case winRate >= 60 && profitFactor >= 1.5:
		riskLevel = database.RiskHigh
	case winRate < 40 || profitFactor < 1:
		riskLevel = database.RiskLow
	}

	return &database.LearnedStrategy{
		StrategyName:    strategyName,
		BuyThreshold:    buyThreshold,
		SellThreshold:   sellThreshold,
		StopLossPct:     stopLoss,
		RiskLevel:       riskLevel,
		TrainingSamples: len(patterns),
		WinRate:         winRate,
		ProfitFactor:    profitFactor,
	}
}

func (s *Service) defaultStrategy(strategyName string) *database.LearnedStrategy {
	return &database.LearnedStrategy{
		StrategyName:  strategyName,
		BuyThreshold:  defaultBuyThreshold,
		SellThreshold: defaultSellThreshold,
		StopLossPct:   defaultStopLossPct,
		RiskLevel:     database.RiskMedium,
	}
}

func (s *Service) nextVersion(ctx context.Context, strategyName string) (int, error) {
	latest, err := s.repo.GetLatestStrategyVersion(ctx, strategyName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 1, nil
		}
		return 0, fmt.Errorf("load latest version: %w", err)
	}
	return latest.Version + 1, nil
}

// LearningSessionHandle tracks one session row through its lifecycle.
type LearningSessionHandle struct {
	svc *Service
	row *database.LearningSession
}

func (h *LearningSessionHandle) finish(ctx context.Context, status string) {
	now := timeNow().UTC()
	h.row.Status = status
	h.row.CompletedAt = &now
	if err := h.svc.repo.FinishLearningSession(ctx, h.row); err != nil {
		h.svc.log.Warn().Err(err).Int64("session_id", h.row.ID).Msg("failed to close learning session")
	}
}

func (h *LearningSessionHandle) complete(ctx context.Context) { h.finish(ctx, "COMPLETED") }
func (h *LearningSessionHandle) fail(ctx context.Context)     { h.finish(ctx, "FAILED") }

func quantile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
