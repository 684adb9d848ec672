package database

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// AUTO-TRADE CONFIGS
// ============================================================================

// SaveAutoTradeConfig upserts a user's configuration after validating its
// threshold invariants.
func (r *Repository) SaveAutoTradeConfig(ctx context.Context, c *AutoTradeConfig) error {
	if c.SellThreshold >= c.BuyThreshold {
		return fmt.Errorf("sell threshold %.1f must be below buy threshold %.1f", c.SellThreshold, c.BuyThreshold)
	}
	if c.BuyThreshold < 0 || c.BuyThreshold > 100 || c.SellThreshold < 0 || c.SellThreshold > 100 {
		return fmt.Errorf("thresholds must lie in [0, 100]")
	}
	if c.StopLossPct <= 0 {
		return fmt.Errorf("stop loss percentage must be positive")
	}
	switch c.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("unknown risk level %q", c.RiskLevel)
	}

	c.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO auto_trade_configs (user_id, enabled, max_investment, max_position_size,
			risk_level, buy_threshold, sell_threshold, stop_loss_pct, daily_loss_limit,
			trading_start, trading_end, allowed_symbols, excluded_symbols, notify_target, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			max_investment = EXCLUDED.max_investment,
			max_position_size = EXCLUDED.max_position_size,
			risk_level = EXCLUDED.risk_level,
			buy_threshold = EXCLUDED.buy_threshold,
			sell_threshold = EXCLUDED.sell_threshold,
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			daily_loss_limit = EXCLUDED.daily_loss_limit,
			trading_start = EXCLUDED.trading_start,
			trading_end = EXCLUDED.trading_end,
			allowed_symbols = EXCLUDED.allowed_symbols,
			excluded_symbols = EXCLUDED.excluded_symbols,
			notify_target = EXCLUDED.notify_target,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.conn.ExecContext(
		ctx, query,
		c.UserID, c.Enabled, c.MaxInvestment, c.MaxPositionSize,
		c.RiskLevel, c.BuyThreshold, c.SellThreshold, c.StopLossPct, c.DailyLossLimit,
		c.TradingStart, c.TradingEnd, joinSymbols(c.AllowedSymbols), joinSymbols(c.ExcludedSymbols),
		c.NotifyTarget, c.UpdatedAt,
	)
	return err
}

// GetAutoTradeConfig retrieves a user's configuration.
func (r *Repository) GetAutoTradeConfig(ctx context.Context, userID string) (*AutoTradeConfig, error) {
	c := &AutoTradeConfig{}
	var allowed, excluded string
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, enabled, max_investment, max_position_size, risk_level,
		       buy_threshold, sell_threshold, stop_loss_pct, daily_loss_limit,
		       trading_start, trading_end, allowed_symbols, excluded_symbols,
		       notify_target, updated_at
		FROM auto_trade_configs
		WHERE user_id = $1
	`, userID).Scan(
		&c.ID, &c.UserID, &c.Enabled, &c.MaxInvestment, &c.MaxPositionSize, &c.RiskLevel,
		&c.BuyThreshold, &c.SellThreshold, &c.StopLossPct, &c.DailyLossLimit,
		&c.TradingStart, &c.TradingEnd, &allowed, &excluded,
		&c.NotifyTarget, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	c.AllowedSymbols = splitSymbols(allowed)
	c.ExcludedSymbols = splitSymbols(excluded)
	return c, nil
}

// SetAutoTradeEnabled flips the enabled flag. Used by stop and emergency
// stop paths.
func (r *Repository) SetAutoTradeEnabled(ctx context.Context, userID string, enabled bool) error {
	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE auto_trade_configs SET enabled = $2, updated_at = $3 WHERE user_id = $1
	`, userID, enabled, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEnabledConfigs retrieves all configs with trading enabled, for the
// scheduler's monitoring pass.
func (r *Repository) ListEnabledConfigs(ctx context.Context) ([]*AutoTradeConfig, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT user_id FROM auto_trade_configs WHERE enabled = TRUE ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	configs := make([]*AutoTradeConfig, 0, len(userIDs))
	for _, id := range userIDs {
		c, err := r.GetAutoTradeConfig(ctx, id)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, nil
}
