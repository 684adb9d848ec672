package database

import (
	"context"
	"time"
)

// ============================================================================
// STOCK PRICES
// ============================================================================

// CreatePrice inserts one price snapshot.
func (r *Repository) CreatePrice(ctx context.Context, p *StockPrice) error {
	if p.RecordedAt.IsZero() {
		p.RecordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO stock_prices (symbol, price, open_price, high_price, low_price, volume, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return r.db.conn.QueryRowContext(
		ctx, query,
		p.Symbol, p.Price, p.Open, p.High, p.Low, p.Volume, p.RecordedAt,
	).Scan(&p.ID)
}

// GetLatestPrice retrieves the most recent snapshot for a symbol.
func (r *Repository) GetLatestPrice(ctx context.Context, symbol string) (*StockPrice, error) {
	p := &StockPrice{}
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, symbol, price, open_price, high_price, low_price, volume, recorded_at
		FROM stock_prices
		WHERE symbol = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`, symbol).Scan(&p.ID, &p.Symbol, &p.Price, &p.Open, &p.High, &p.Low, &p.Volume, &p.RecordedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// GetPricesBetween retrieves snapshots for a symbol within [from, to),
// oldest first.
func (r *Repository) GetPricesBetween(ctx context.Context, symbol string, from, to time.Time) ([]*StockPrice, error) {
	query := `
		SELECT id, symbol, price, open_price, high_price, low_price, volume, recorded_at
		FROM stock_prices
		WHERE symbol = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC
	`
	return r.queryPrices(ctx, query, symbol, from, to)
}

// GetTradingDays returns the ordered distinct dates with stored prices in
// [from, to). These drive the backtest day loop.
func (r *Repository) GetTradingDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT DISTINCT recorded_at
		FROM stock_prices
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY recorded_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	var days []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		key := day.Format("2006-01-02")
		if !seen[key] {
			seen[key] = true
			days = append(days, day)
		}
	}
	return days, rows.Err()
}

// GetPricesOnDay returns the last stored snapshot per symbol for one date.
func (r *Repository) GetPricesOnDay(ctx context.Context, day time.Time) (map[string]*StockPrice, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	prices, err := r.queryPrices(ctx, `
		SELECT id, symbol, price, open_price, high_price, low_price, volume, recorded_at
		FROM stock_prices
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY recorded_at ASC
	`, start, end)
	if err != nil {
		return nil, err
	}

	// Later snapshots overwrite earlier ones, leaving the day's close.
	out := make(map[string]*StockPrice, len(prices))
	for _, p := range prices {
		out[p.Symbol] = p
	}
	return out, nil
}

// PrunePricesBefore deletes snapshots older than the cutoff.
func (r *Repository) PrunePricesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM stock_prices WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) queryPrices(ctx context.Context, query string, args ...interface{}) ([]*StockPrice, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []*StockPrice
	for rows.Next() {
		p := &StockPrice{}
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Price, &p.Open, &p.High, &p.Low, &p.Volume, &p.RecordedAt); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}
