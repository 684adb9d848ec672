package database

import (
	"context"
	"database/sql"
	"time"
)

// ============================================================================
// TRADE PATTERNS
// ============================================================================

// CreatePattern stores one realized buy-then-sell pair.
func (r *Repository) CreatePattern(ctx context.Context, p *TradePattern) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO trade_patterns (user_id, symbol, pattern_type, entry_signal, holding_hours,
			profit_loss, profit_pct, market_regime, entry_at, exit_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	return r.db.conn.QueryRowContext(
		ctx, query,
		p.UserID, p.Symbol, p.PatternType, p.EntrySignal, p.HoldingHours,
		p.ProfitLoss, p.ProfitPct, p.MarketRegime, p.EntryAt, p.ExitAt, p.CreatedAt,
	).Scan(&p.ID)
}

// GetPatterns retrieves a user's patterns, oldest exit first.
func (r *Repository) GetPatterns(ctx context.Context, userID string) ([]*TradePattern, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, user_id, symbol, pattern_type, entry_signal, holding_hours,
		       profit_loss, profit_pct, market_regime, entry_at, exit_at, created_at
		FROM trade_patterns
		WHERE user_id = $1
		ORDER BY exit_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*TradePattern
	for rows.Next() {
		p := &TradePattern{}
		err := rows.Scan(
			&p.ID, &p.UserID, &p.Symbol, &p.PatternType, &p.EntrySignal, &p.HoldingHours,
			&p.ProfitLoss, &p.ProfitPct, &p.MarketRegime, &p.EntryAt, &p.ExitAt, &p.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// LatestPatternExit returns the exit time of the newest stored pattern so
// extraction can resume where it left off. Returns zero time when none exist.
func (r *Repository) LatestPatternExit(ctx context.Context, userID string) (time.Time, error) {
	var exit sql.NullTime
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT MAX(exit_at) FROM trade_patterns WHERE user_id = $1
	`, userID).Scan(&exit)
	if err != nil {
		return time.Time{}, err
	}
	if !exit.Valid {
		return time.Time{}, nil
	}
	return exit.Time, nil
}

// ============================================================================
// LEARNED STRATEGIES
// ============================================================================

// SaveStrategy inserts a new strategy version and, inside one transaction,
// deactivates every other version of the same name so at most one is active.
func (r *Repository) SaveStrategy(ctx context.Context, s *LearnedStrategy) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if s.IsActive {
			if _, err := tx.ExecContext(ctx, `
				UPDATE learned_strategies SET is_active = FALSE WHERE strategy_name = $1
			`, s.StrategyName); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO learned_strategies (strategy_name, version, buy_threshold, sell_threshold,
				stop_loss_pct, risk_level, training_samples, win_rate, profit_factor, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, s.StrategyName, s.Version, s.BuyThreshold, s.SellThreshold,
			s.StopLossPct, s.RiskLevel, s.TrainingSamples, s.WinRate, s.ProfitFactor, s.IsActive, s.CreatedAt,
		).Scan(&s.ID)
	})
}

// GetActiveStrategy retrieves the active version of a strategy name.
func (r *Repository) GetActiveStrategy(ctx context.Context, name string) (*LearnedStrategy, error) {
	return r.scanStrategy(r.db.conn.QueryRowContext(ctx, `
		SELECT id, strategy_name, version, buy_threshold, sell_threshold, stop_loss_pct,
		       risk_level, training_samples, win_rate, profit_factor, is_active, created_at
		FROM learned_strategies
		WHERE strategy_name = $1 AND is_active = TRUE
	`, name))
}

// GetLatestStrategyVersion retrieves the highest version for a strategy name,
// active or not. Used to assign the next version number.
func (r *Repository) GetLatestStrategyVersion(ctx context.Context, name string) (*LearnedStrategy, error) {
	return r.scanStrategy(r.db.conn.QueryRowContext(ctx, `
		SELECT id, strategy_name, version, buy_threshold, sell_threshold, stop_loss_pct,
		       risk_level, training_samples, win_rate, profit_factor, is_active, created_at
		FROM learned_strategies
		WHERE strategy_name = $1
		ORDER BY version DESC
		LIMIT 1
	`, name))
}

func (r *Repository) scanStrategy(row *sql.Row) (*LearnedStrategy, error) {
	s := &LearnedStrategy{}
	err := row.Scan(
		&s.ID, &s.StrategyName, &s.Version, &s.BuyThreshold, &s.SellThreshold, &s.StopLossPct,
		&s.RiskLevel, &s.TrainingSamples, &s.WinRate, &s.ProfitFactor, &s.IsActive, &s.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ============================================================================
// LEARNING SESSIONS
// ============================================================================

// CreateLearningSession opens a session row in RUNNING state.
func (r *Repository) CreateLearningSession(ctx context.Context, s *LearningSession) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = "RUNNING"
	}
	return r.db.conn.QueryRowContext(ctx, `
		INSERT INTO learning_sessions (session_type, status, patterns_extracted, patterns_analyzed,
			strategy_id, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, s.SessionType, s.Status, s.PatternsExtracted, s.PatternsAnalyzed, s.StrategyID, s.StartedAt,
	).Scan(&s.ID)
}

// FinishLearningSession records the session outcome.
func (r *Repository) FinishLearningSession(ctx context.Context, s *LearningSession) error {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE learning_sessions SET
			status = $2,
			patterns_extracted = $3,
			patterns_analyzed = $4,
			strategy_id = $5,
			completed_at = $6
		WHERE id = $1
	`, s.ID, s.Status, s.PatternsExtracted, s.PatternsAnalyzed, s.StrategyID, s.CompletedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
