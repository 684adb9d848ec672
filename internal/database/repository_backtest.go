package database

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// BACKTEST RUNS
// ============================================================================

// CreateBacktestRun inserts a run in PENDING state.
func (r *Repository) CreateBacktestRun(ctx context.Context, run *BacktestRun) error {
	if run.ID == "" {
		return fmt.Errorf("backtest run id is required")
	}
	if run.Status == "" {
		run.Status = BacktestPending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO backtest_runs (id, user_id, name, strategy_config, start_date, end_date,
			initial_capital, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.conn.ExecContext(
		ctx, query,
		run.ID, run.UserID, run.Name, run.StrategyConfig, run.StartDate, run.EndDate,
		run.InitialCapital, run.Status, run.CreatedAt,
	)
	return err
}

// GetBacktestRun retrieves one run.
func (r *Repository) GetBacktestRun(ctx context.Context, id string) (*BacktestRun, error) {
	run := &BacktestRun{}
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, name, strategy_config, start_date, end_date, initial_capital,
		       status, final_capital, total_return_pct, total_trades, winning_trades,
		       losing_trades, win_rate, max_drawdown, sharpe_ratio, sortino_ratio,
		       error_message, started_at, completed_at, created_at
		FROM backtest_runs
		WHERE id = $1
	`, id).Scan(
		&run.ID, &run.UserID, &run.Name, &run.StrategyConfig, &run.StartDate, &run.EndDate, &run.InitialCapital,
		&run.Status, &run.FinalCapital, &run.TotalReturnPct, &run.TotalTrades, &run.WinningTrades,
		&run.LosingTrades, &run.WinRate, &run.MaxDrawdown, &run.SharpeRatio, &run.SortinoRatio,
		&run.ErrorMessage, &run.StartedAt, &run.CompletedAt, &run.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return run, nil
}

// ListBacktestRuns retrieves a user's runs, newest first.
func (r *Repository) ListBacktestRuns(ctx context.Context, userID string, limit int) ([]*BacktestRun, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id FROM backtest_runs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]*BacktestRun, 0, len(ids))
	for _, id := range ids {
		run, err := r.GetBacktestRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// MarkBacktestRunning transitions PENDING -> RUNNING and stamps started_at.
func (r *Repository) MarkBacktestRunning(ctx context.Context, id string, startedAt time.Time) error {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE backtest_runs SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4
	`, id, BacktestRunning, startedAt, BacktestPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s is not pending", id)
	}
	return nil
}

// CompleteBacktestRun stores the final metrics and marks the run COMPLETED.
func (r *Repository) CompleteBacktestRun(ctx context.Context, run *BacktestRun) error {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE backtest_runs SET
			status = $2,
			final_capital = $3,
			total_return_pct = $4,
			total_trades = $5,
			winning_trades = $6,
			losing_trades = $7,
			win_rate = $8,
			max_drawdown = $9,
			sharpe_ratio = $10,
			sortino_ratio = $11,
			completed_at = $12
		WHERE id = $1
	`, run.ID, BacktestCompleted,
		run.FinalCapital, run.TotalReturnPct, run.TotalTrades, run.WinningTrades,
		run.LosingTrades, run.WinRate, run.MaxDrawdown, run.SharpeRatio, run.SortinoRatio,
		run.CompletedAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailBacktestRun marks the run FAILED with a diagnostic message.
func (r *Repository) FailBacktestRun(ctx context.Context, id, message string, at time.Time) error {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE backtest_runs SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1
	`, id, BacktestFailed, message, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// BACKTEST TRADES AND DAILY STATS
// ============================================================================

// CreateBacktestTrade appends one simulated trade to a run.
func (r *Repository) CreateBacktestTrade(ctx context.Context, t *BacktestTrade) error {
	query := `
		INSERT INTO backtest_trades (run_id, symbol, side, quantity, price, total_amount,
			profit_loss, signal_ratio, reasoning, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	return r.db.conn.QueryRowContext(
		ctx, query,
		t.RunID, t.Symbol, t.Side, t.Quantity, t.Price, t.TotalAmount,
		t.ProfitLoss, t.SignalRatio, t.Reasoning, t.ExecutedAt,
	).Scan(&t.ID)
}

// GetBacktestTrades retrieves a run's trades oldest first.
func (r *Repository) GetBacktestTrades(ctx context.Context, runID string) ([]*BacktestTrade, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, run_id, symbol, side, quantity, price, total_amount,
		       profit_loss, signal_ratio, reasoning, executed_at
		FROM backtest_trades
		WHERE run_id = $1
		ORDER BY executed_at ASC, id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*BacktestTrade
	for rows.Next() {
		t := &BacktestTrade{}
		err := rows.Scan(
			&t.ID, &t.RunID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.TotalAmount,
			&t.ProfitLoss, &t.SignalRatio, &t.Reasoning, &t.ExecutedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CreateBacktestDailyStat appends one per-day snapshot to a run.
func (r *Repository) CreateBacktestDailyStat(ctx context.Context, s *BacktestDailyStat) error {
	query := `
		INSERT INTO backtest_daily_stats (run_id, stat_date, portfolio_value, cash, invested,
			daily_return_pct, cumulative_return_pct, drawdown_pct, holdings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	return r.db.conn.QueryRowContext(
		ctx, query,
		s.RunID, s.Date, s.PortfolioValue, s.Cash, s.Invested,
		s.DailyReturnPct, s.CumulativeReturnPct, s.DrawdownPct, s.Holdings,
	).Scan(&s.ID)
}

// GetBacktestDailyStats retrieves a run's snapshots in date order.
func (r *Repository) GetBacktestDailyStats(ctx context.Context, runID string) ([]*BacktestDailyStat, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, run_id, stat_date, portfolio_value, cash, invested,
		       daily_return_pct, cumulative_return_pct, drawdown_pct, holdings
		FROM backtest_daily_stats
		WHERE run_id = $1
		ORDER BY stat_date ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*BacktestDailyStat
	for rows.Next() {
		s := &BacktestDailyStat{}
		err := rows.Scan(
			&s.ID, &s.RunID, &s.Date, &s.PortfolioValue, &s.Cash, &s.Invested,
			&s.DailyReturnPct, &s.CumulativeReturnPct, &s.DrawdownPct, &s.Holdings,
		)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
