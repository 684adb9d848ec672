// Package learning closes the feedback loop: it extracts realized trade
// patterns from history and derives new strategy parameter sets from them.
package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/internal/database"
)

// Market regime tags attached to extracted patterns.
const (
	RegimeBull    = "bull"
	RegimeBear    = "bear"
	RegimeNeutral = "neutral"
)

// Service runs pattern extraction and strategy optimization.
type Service struct {
	repo *database.Repository
	log  zerolog.Logger

	// MinSamples is the pattern count below which optimization falls back
	// to the default strategy.
	MinSamples int
}

// NewService creates the learning service.
func NewService(repo *database.Repository, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		log:        log.With().Str("component", "learning").Logger(),
		MinSamples: 10,
	}
}

// ExtractPatterns pairs each completed BUY with the next SELL of the same
// symbol and stores one pattern per realized round trip. Extraction resumes
// after the newest stored pattern, so repeated runs never duplicate.
func (s *Service) ExtractPatterns(ctx context.Context, userID string) (int, error) {
	resumeAfter, err := s.repo.LatestPatternExit(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load extraction checkpoint: %w", err)
	}

	trades, err := s.repo.GetTradesOrdered(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load trades: %w", err)
	}

	// FIFO queue of unmatched buys per symbol.
	open := make(map[string][]*database.TradeHistory)
	extracted := 0

	for _, trade := range trades {
		if trade.Status != database.TradeCompleted {
			continue
		}

		switch trade.Side {
		case database.SideBuy:
			open[trade.Symbol] = append(open[trade.Symbol], trade)

		case database.SideSell:
			buys := open[trade.Symbol]
			if len(buys) == 0 {
				continue // sell without a recorded entry, nothing to learn from
			}
			entry := buys[0]
			open[trade.Symbol] = buys[1:]

			if !trade.ExecutedAt.After(resumeAfter) {
				continue // already extracted in a previous run
			}

			pattern := buildPattern(userID, entry, trade)
			if err := s.repo.CreatePattern(ctx, pattern); err != nil {
				return extracted, fmt.Errorf("store pattern: %w", err)
			}
			extracted++
		}
	}

	s.log.Info().Str("user_id", userID).Int("extracted", extracted).Msg("pattern extraction finished")
	return extracted, nil
}

func buildPattern(userID string, entry, exit *database.TradeHistory) *database.TradePattern {
	pl := (exit.ExecutedPrice - entry.ExecutedPrice) * float64(exit.Quantity)
	if exit.ProfitLoss != nil {
		pl = *exit.ProfitLoss
	}

	patternType := database.PatternLosing
	if pl > 0 {
		patternType = database.PatternWinning
	}

	cost := entry.ExecutedPrice * float64(exit.Quantity)
	profitPct := 0.0
	if cost > 0 {
		profitPct = pl / cost * 100
	}

	return &database.TradePattern{
		UserID:       userID,
		Symbol:       exit.Symbol,
		PatternType:  patternType,
		EntrySignal:  entry.SignalRatio,
		HoldingHours: exit.ExecutedAt.Sub(entry.ExecutedAt).Hours(),
		ProfitLoss:   pl,
		ProfitPct:    profitPct,
		MarketRegime: regimeFor(entry.SignalRatio),
		EntryAt:      entry.ExecutedAt,
		ExitAt:       exit.ExecutedAt,
	}
}

// regimeFor tags the entry by its signal band.
func regimeFor(entrySignal float64) string {
	switch {
	case entrySignal >= 71:
		return RegimeBull
	case entrySignal <= 30:
		return RegimeBear
	default:
		return RegimeNeutral
	}
}

// timeNow is stubbed in tests.
var timeNow = time.Now
