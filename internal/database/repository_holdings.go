package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ============================================================================
// ACCOUNT HOLDINGS
// ============================================================================

// GetHoldings retrieves all holdings for a user.
func (r *Repository) GetHoldings(ctx context.Context, userID string) ([]*AccountHolding, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, user_id, symbol, quantity, avg_cost, current_price, updated_at
		FROM account_holdings
		WHERE user_id = $1
		ORDER BY symbol ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []*AccountHolding
	for rows.Next() {
		h := &AccountHolding{}
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Quantity, &h.AvgCost, &h.CurrentPrice, &h.UpdatedAt); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// GetHolding retrieves one holding by user and symbol.
func (r *Repository) GetHolding(ctx context.Context, userID, symbol string) (*AccountHolding, error) {
	h := &AccountHolding{}
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, quantity, avg_cost, current_price, updated_at
		FROM account_holdings
		WHERE user_id = $1 AND symbol = $2
	`, userID, symbol).Scan(&h.ID, &h.UserID, &h.Symbol, &h.Quantity, &h.AvgCost, &h.CurrentPrice, &h.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

// UpdateHoldingPrice records the last observed market price.
func (r *Repository) UpdateHoldingPrice(ctx context.Context, userID, symbol string, price float64) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE account_holdings SET current_price = $3, updated_at = $4
		WHERE user_id = $1 AND symbol = $2
	`, userID, symbol, price, time.Now().UTC())
	return err
}

// ReplaceHoldings overwrites a user's holdings from a brokerage sync in one
// transaction. Zero-quantity entries are dropped.
func (r *Repository) ReplaceHoldings(ctx context.Context, userID string, holdings []*AccountHolding) error {
	now := time.Now().UTC()
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM account_holdings WHERE user_id = $1`, userID); err != nil {
			return err
		}
		for _, h := range holdings {
			if h.Quantity <= 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO account_holdings (user_id, symbol, quantity, avg_cost, current_price, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, userID, h.Symbol, h.Quantity, h.AvgCost, h.CurrentPrice, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordBuy records a completed BUY and folds it into the holding with the
// weighted-average cost formula, in one transaction.
func (r *Repository) RecordBuy(ctx context.Context, trade *TradeHistory) error {
	if trade.Side != SideBuy {
		return fmt.Errorf("RecordBuy called with side %s", trade.Side)
	}
	now := time.Now().UTC()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = now
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertTrade(ctx, tx, trade); err != nil {
			return err
		}
		if trade.Status != TradeCompleted {
			return nil
		}

		var qty int64
		var avg float64
		err := tx.QueryRowContext(ctx, `
			SELECT quantity, avg_cost FROM account_holdings
			WHERE user_id = $1 AND symbol = $2
		`, trade.UserID, trade.Symbol).Scan(&qty, &avg)

		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, `
				INSERT INTO account_holdings (user_id, symbol, quantity, avg_cost, current_price, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, trade.UserID, trade.Symbol, trade.Quantity, trade.ExecutedPrice, trade.ExecutedPrice, now)
			return err
		case err != nil:
			return err
		default:
			newQty := qty + trade.Quantity
			newAvg := (avg*float64(qty) + trade.ExecutedPrice*float64(trade.Quantity)) / float64(newQty)
			_, err = tx.ExecContext(ctx, `
				UPDATE account_holdings
				SET quantity = $3, avg_cost = $4, current_price = $5, updated_at = $6
				WHERE user_id = $1 AND symbol = $2
			`, trade.UserID, trade.Symbol, newQty, newAvg, trade.ExecutedPrice, now)
			return err
		}
	})
}

// RecordSell records a completed SELL, reduces the holding, and deletes the
// row when quantity reaches zero, in one transaction. The average cost is
// never reduced by sells.
func (r *Repository) RecordSell(ctx context.Context, trade *TradeHistory) error {
	if trade.Side != SideSell {
		return fmt.Errorf("RecordSell called with side %s", trade.Side)
	}
	now := time.Now().UTC()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	if trade.ExecutedAt.IsZero() {
		trade.ExecutedAt = now
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertTrade(ctx, tx, trade); err != nil {
			return err
		}
		if trade.Status != TradeCompleted {
			return nil
		}

		var qty int64
		err := tx.QueryRowContext(ctx, `
			SELECT quantity FROM account_holdings
			WHERE user_id = $1 AND symbol = $2
		`, trade.UserID, trade.Symbol).Scan(&qty)
		if err != nil {
			return notFound(err)
		}
		if qty < trade.Quantity {
			return fmt.Errorf("stale holding: have %d, selling %d", qty, trade.Quantity)
		}

		remaining := qty - trade.Quantity
		if remaining == 0 {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM account_holdings WHERE user_id = $1 AND symbol = $2
			`, trade.UserID, trade.Symbol)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE account_holdings
			SET quantity = $3, current_price = $4, updated_at = $5
			WHERE user_id = $1 AND symbol = $2
		`, trade.UserID, trade.Symbol, remaining, trade.ExecutedPrice, now)
		return err
	})
}
