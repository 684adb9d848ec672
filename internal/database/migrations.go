package database

import (
	"context"
	"fmt"
	"strings"
)

// RunMigrations creates the schema. Every statement is idempotent so the
// whole set reruns safely on startup; a failed index build is retried once
// after a maintenance pass.
func (db *DB) RunMigrations(ctx context.Context) error {
	for _, stmt := range db.migrationStatements() {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(stmt, "CREATE INDEX") {
				if mErr := db.Maintain(ctx); mErr == nil {
					if _, rErr := db.conn.ExecContext(ctx, stmt); rErr == nil {
						continue
					}
				}
			}
			return fmt.Errorf("migration failed: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// migrationStatements renders the schema for the active engine. The two
// engines differ only in auto-increment keys and timestamp types.
func (db *DB) migrationStatements() []string {
	pk := "BIGSERIAL PRIMARY KEY"
	ts := "TIMESTAMPTZ"
	if db.engine == EngineSQLite {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
		ts = "TIMESTAMP"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS news_articles (
			id %s,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			published_date %s NOT NULL,
			source VARCHAR(200) NOT NULL DEFAULT '',
			url TEXT,
			asset_type VARCHAR(50) NOT NULL DEFAULT 'stock',
			created_at %s NOT NULL
		)`, pk, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_news_published_asset ON news_articles(published_date, asset_type)`,
		`CREATE INDEX IF NOT EXISTS idx_news_url ON news_articles(url)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sentiment_analyses (
			id %s,
			news_id BIGINT NOT NULL UNIQUE REFERENCES news_articles(id) ON DELETE CASCADE,
			sentiment VARCHAR(10) NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			analyzed_at %s NOT NULL
		)`, pk, ts),
		`CREATE INDEX IF NOT EXISTS idx_sentiment_analyzed_at ON sentiment_analyses(analyzed_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS stock_prices (
			id %s,
			symbol VARCHAR(20) NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			open_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			high_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			low_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			volume BIGINT NOT NULL DEFAULT 0,
			recorded_at %s NOT NULL
		)`, pk, ts),
		`CREATE INDEX IF NOT EXISTS idx_prices_symbol_time ON stock_prices(symbol, recorded_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS account_holdings (
			id %s,
			user_id VARCHAR(100) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			quantity BIGINT NOT NULL CHECK (quantity >= 0),
			avg_cost DOUBLE PRECISION NOT NULL,
			current_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at %s NOT NULL,
			UNIQUE (user_id, symbol)
		)`, pk, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS auto_trade_configs (
			id %s,
			user_id VARCHAR(100) NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			max_investment DOUBLE PRECISION NOT NULL,
			max_position_size DOUBLE PRECISION NOT NULL,
			risk_level VARCHAR(10) NOT NULL DEFAULT 'MEDIUM',
			buy_threshold DOUBLE PRECISION NOT NULL DEFAULT 80,
			sell_threshold DOUBLE PRECISION NOT NULL DEFAULT 20,
			stop_loss_pct DOUBLE PRECISION NOT NULL DEFAULT 5,
			daily_loss_limit DOUBLE PRECISION,
			trading_start VARCHAR(5) NOT NULL DEFAULT '09:00',
			trading_end VARCHAR(5) NOT NULL DEFAULT '15:30',
			allowed_symbols TEXT NOT NULL DEFAULT '',
			excluded_symbols TEXT NOT NULL DEFAULT '',
			notify_target VARCHAR(200) NOT NULL DEFAULT '',
			updated_at %s NOT NULL
		)`, pk, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trade_history (
			id %s,
			user_id VARCHAR(100) NOT NULL,
			order_id VARCHAR(100) NOT NULL DEFAULT '',
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			quantity BIGINT NOT NULL,
			submitted_price DOUBLE PRECISION NOT NULL,
			executed_price DOUBLE PRECISION NOT NULL,
			total_amount DOUBLE PRECISION NOT NULL,
			profit_loss DOUBLE PRECISION,
			status VARCHAR(10) NOT NULL,
			signal_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			reasoning TEXT NOT NULL DEFAULT '',
			executed_at %s NOT NULL,
			created_at %s NOT NULL
		)`, pk, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_trades_user_executed ON trade_history(user_id, executed_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS analysis_cache (
			id %s,
			cache_key VARCHAR(300) NOT NULL UNIQUE,
			payload TEXT NOT NULL,
			expires_at %s NOT NULL
		)`, pk, ts),
		`CREATE INDEX IF NOT EXISTS idx_cache_key ON analysis_cache(cache_key)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS backtest_runs (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(100) NOT NULL,
			name VARCHAR(200) NOT NULL,
			strategy_config TEXT NOT NULL,
			start_date %s NOT NULL,
			end_date %s NOT NULL,
			initial_capital DOUBLE PRECISION NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			final_capital DOUBLE PRECISION,
			total_return_pct DOUBLE PRECISION,
			total_trades INTEGER,
			winning_trades INTEGER,
			losing_trades INTEGER,
			win_rate DOUBLE PRECISION,
			max_drawdown DOUBLE PRECISION,
			sharpe_ratio DOUBLE PRECISION,
			sortino_ratio DOUBLE PRECISION,
			error_message TEXT,
			started_at %s,
			completed_at %s,
			created_at %s NOT NULL
		)`, ts, ts, ts, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS backtest_trades (
			id %s,
			run_id VARCHAR(36) NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			quantity BIGINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			total_amount DOUBLE PRECISION NOT NULL,
			profit_loss DOUBLE PRECISION,
			signal_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
			reasoning TEXT NOT NULL DEFAULT '',
			executed_at %s NOT NULL
		)`, pk, ts),
		`CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades(run_id, executed_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS backtest_daily_stats (
			id %s,
			run_id VARCHAR(36) NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
			stat_date %s NOT NULL,
			portfolio_value DOUBLE PRECISION NOT NULL,
			cash DOUBLE PRECISION NOT NULL,
			invested DOUBLE PRECISION NOT NULL,
			daily_return_pct DOUBLE PRECISION NOT NULL,
			cumulative_return_pct DOUBLE PRECISION NOT NULL,
			drawdown_pct DOUBLE PRECISION NOT NULL,
			holdings TEXT NOT NULL DEFAULT '[]'
		)`, pk, ts),
		`CREATE INDEX IF NOT EXISTS idx_backtest_stats_run ON backtest_daily_stats(run_id, stat_date)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trade_patterns (
			id %s,
			user_id VARCHAR(100) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			pattern_type VARCHAR(10) NOT NULL,
			entry_signal DOUBLE PRECISION NOT NULL,
			holding_hours DOUBLE PRECISION NOT NULL,
			profit_loss DOUBLE PRECISION NOT NULL,
			profit_pct DOUBLE PRECISION NOT NULL,
			market_regime VARCHAR(20) NOT NULL DEFAULT 'normal',
			entry_at %s NOT NULL,
			exit_at %s NOT NULL,
			created_at %s NOT NULL
		)`, pk, ts, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_patterns_user ON trade_patterns(user_id, created_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS learned_strategies (
			id %s,
			strategy_name VARCHAR(100) NOT NULL,
			version INTEGER NOT NULL,
			buy_threshold DOUBLE PRECISION NOT NULL,
			sell_threshold DOUBLE PRECISION NOT NULL,
			stop_loss_pct DOUBLE PRECISION NOT NULL,
			risk_level VARCHAR(10) NOT NULL,
			training_samples INTEGER NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			profit_factor DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at %s NOT NULL,
			UNIQUE (strategy_name, version)
		)`, pk, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS learning_sessions (
			id %s,
			session_type VARCHAR(30) NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'RUNNING',
			patterns_extracted INTEGER NOT NULL DEFAULT 0,
			patterns_analyzed INTEGER NOT NULL DEFAULT 0,
			strategy_id BIGINT,
			started_at %s NOT NULL,
			completed_at %s
		)`, pk, ts, ts),
	}
}
