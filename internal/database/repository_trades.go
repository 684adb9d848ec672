package database

import (
	"context"
	"database/sql"
	"time"
)

// ============================================================================
// TRADE HISTORY
// ============================================================================

func insertTrade(ctx context.Context, tx *sql.Tx, t *TradeHistory) error {
	query := `
		INSERT INTO trade_history (user_id, order_id, symbol, side, quantity, submitted_price,
			executed_price, total_amount, profit_loss, status, signal_ratio, reasoning,
			executed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	return tx.QueryRowContext(
		ctx, query,
		t.UserID, t.OrderID, t.Symbol, t.Side, t.Quantity, t.SubmittedPrice,
		t.ExecutedPrice, t.TotalAmount, t.ProfitLoss, t.Status, t.SignalRatio, t.Reasoning,
		t.ExecutedAt, t.CreatedAt,
	).Scan(&t.ID)
}

// CreateTrade inserts a trade row outside the holding transaction. Used for
// FAILED attempts where no holding changes.
func (r *Repository) CreateTrade(ctx context.Context, t *TradeHistory) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = now
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return insertTrade(ctx, tx, t)
	})
}

// GetTrades retrieves a user's trades, newest first, with pagination.
func (r *Repository) GetTrades(ctx context.Context, userID string, limit, offset int) ([]*TradeHistory, error) {
	query := `
		SELECT id, user_id, order_id, symbol, side, quantity, submitted_price,
		       executed_price, total_amount, profit_loss, status, signal_ratio, reasoning,
		       executed_at, created_at
		FROM trade_history
		WHERE user_id = $1
		ORDER BY executed_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryTrades(ctx, query, userID, limit, offset)
}

// GetTradesOrdered retrieves all of a user's completed trades oldest first,
// for pattern extraction.
func (r *Repository) GetTradesOrdered(ctx context.Context, userID string) ([]*TradeHistory, error) {
	query := `
		SELECT id, user_id, order_id, symbol, side, quantity, submitted_price,
		       executed_price, total_amount, profit_loss, status, signal_ratio, reasoning,
		       executed_at, created_at
		FROM trade_history
		WHERE user_id = $1 AND status = 'COMPLETED'
		ORDER BY executed_at ASC
	`
	return r.queryTrades(ctx, query, userID)
}

// SumRealizedPLSince sums realized profit/loss on completed SELL trades
// executed at or after the cutoff. Drives the daily-loss governor.
func (r *Repository) SumRealizedPLSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT SUM(profit_loss)
		FROM trade_history
		WHERE user_id = $1 AND status = 'COMPLETED' AND profit_loss IS NOT NULL AND executed_at >= $2
	`, userID, since).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*TradeHistory, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*TradeHistory
	for rows.Next() {
		t := &TradeHistory{}
		err := rows.Scan(
			&t.ID, &t.UserID, &t.OrderID, &t.Symbol, &t.Side, &t.Quantity, &t.SubmittedPrice,
			&t.ExecutedPrice, &t.TotalAmount, &t.ProfitLoss, &t.Status, &t.SignalRatio, &t.Reasoning,
			&t.ExecutedAt, &t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
