// trader-cli runs one-off operational tasks against the trading database:
//
//	trader-cli backtest -params params.json
//	trader-cli collect-news
//	trader-cli metrics -user <id>
//	trader-cli learn -user <id> [-strategy <name>]
//
// Exit code 0 on success; non-zero with a one-line diagnostic on stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sentiment-trading-bot/config"
	"sentiment-trading-bot/internal/backtest"
	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/learning"
	"sentiment-trading-bot/internal/llm"
	"sentiment-trading-bot/internal/logging"
	"sentiment-trading-bot/internal/news"
	"sentiment-trading-bot/internal/sentiment"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "trader-cli:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: trader-cli <backtest|collect-news|metrics|learn> [flags]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(logging.Config{Level: cfg.LoggingConfig.Level, Pretty: cfg.LoggingConfig.Pretty})

	db, err := database.New(database.Config{
		Engine:   database.Engine(cfg.DatabaseConfig.Engine),
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
		Path:     cfg.DatabaseConfig.Path,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	repo := database.NewRepository(db)

	switch args[0] {
	case "backtest":
		return runBacktest(ctx, repo, log, args[1:])
	case "collect-news":
		return runCollectNews(ctx, cfg, repo, log)
	case "metrics":
		return runMetrics(ctx, repo, args[1:])
	case "learn":
		return runLearn(ctx, repo, log, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// backtestParams is the parameter file format for the backtest command.
type backtestParams struct {
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	StartDate      string          `json:"start_date"` // YYYY-MM-DD
	EndDate        string          `json:"end_date"`
	InitialCapital float64         `json:"initial_capital"`
	Strategy       backtest.Config `json:"strategy"`
}

func runBacktest(ctx context.Context, repo *database.Repository, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	paramsPath := fs.String("params", "", "path to the backtest parameter file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *paramsPath == "" {
		return fmt.Errorf("backtest: -params is required")
	}

	raw, err := os.ReadFile(*paramsPath)
	if err != nil {
		return fmt.Errorf("read params: %w", err)
	}
	var params backtestParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return fmt.Errorf("parse params: %w", err)
	}

	start, err := time.Parse("2006-01-02", params.StartDate)
	if err != nil {
		return fmt.Errorf("bad start_date: %w", err)
	}
	end, err := time.Parse("2006-01-02", params.EndDate)
	if err != nil {
		return fmt.Errorf("bad end_date: %w", err)
	}

	strategyJSON, err := json.Marshal(params.Strategy)
	if err != nil {
		return fmt.Errorf("encode strategy: %w", err)
	}

	run := &database.BacktestRun{
		ID:             uuid.NewString(),
		UserID:         params.UserID,
		Name:           params.Name,
		StrategyConfig: string(strategyJSON),
		StartDate:      start,
		EndDate:        end,
		InitialCapital: params.InitialCapital,
		Status:         database.BacktestPending,
	}
	if err := repo.CreateBacktestRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	if err := backtest.NewEngine(repo, log).Run(ctx, run.ID); err != nil {
		return fmt.Errorf("backtest %s: %w", run.ID, err)
	}

	finished, err := repo.GetBacktestRun(ctx, run.ID)
	if err != nil {
		return err
	}
	return printJSON(finished)
}

func runCollectNews(ctx context.Context, cfg *config.Config, repo *database.Repository, log zerolog.Logger) error {
	keywords := cfg.NewsConfig.Keywords
	if len(keywords) == 0 {
		keywords = news.DefaultKeywords
	}
	collector := news.NewCollector(
		[]news.Source{news.NewHTTPSource(cfg.NewsConfig)},
		repo, nil, log,
		news.CollectorOptions{
			Keywords:     keywords,
			Query:        cfg.NewsConfig.Query,
			LookbackDays: cfg.NewsConfig.LookbackDays,
			NewsDays:     cfg.RetentionConfig.NewsDays,
			MaxArticles:  cfg.NewsConfig.MaxArticles,
		},
	)

	collected, err := collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	optimizer := llm.NewOptimizer(
		llm.NewClient(&llm.ClientConfig{BaseURL: cfg.LLMConfig.BaseURL, Timeout: cfg.LLMConfig.Timeout}),
		llm.OptimizerConfig{
			BatchSize:    cfg.LLMConfig.BatchSize,
			BatchTimeout: cfg.LLMConfig.BatchTimeout,
			MaxRetries:   cfg.LLMConfig.MaxRetries,
		},
		log,
	)
	defer optimizer.Stop()

	analyzed, err := sentiment.NewAnalyzer(optimizer, repo, log).AnalyzeBatch(ctx, cfg.NewsConfig.MaxArticles)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	return printJSON(map[string]interface{}{
		"fetched":  collected.Fetched,
		"stored":   collected.Stored,
		"skipped":  collected.Skipped,
		"pruned":   collected.Pruned,
		"analyzed": analyzed.Analyzed,
		"failed":   analyzed.Failed,
	})
}

func runMetrics(ctx context.Context, repo *database.Repository, args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ContinueOnError)
	userID := fs.String("user", "", "user to report trade outcomes for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("metrics: -user is required")
	}

	sentiments, err := repo.CountSentiments(ctx)
	if err != nil {
		return fmt.Errorf("count sentiments: %w", err)
	}
	trades, err := repo.GetTradesOrdered(ctx, *userID)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}

	var completed, failed, sells, wins int
	var realized float64
	for _, t := range trades {
		switch t.Status {
		case database.TradeCompleted:
			completed++
		case database.TradeFailed:
			failed++
		}
		if t.Side == database.SideSell && t.ProfitLoss != nil {
			sells++
			realized += *t.ProfitLoss
			if *t.ProfitLoss > 0 {
				wins++
			}
		}
	}

	winRate := 0.0
	if sells > 0 {
		winRate = float64(wins) / float64(sells)
	}
	todayPL, err := repo.SumRealizedPLSince(ctx, *userID, startOfToday())
	if err != nil {
		return fmt.Errorf("sum realized P/L: %w", err)
	}

	return printJSON(map[string]interface{}{
		"user_id":          *userID,
		"sentiments":       sentiments,
		"trades_total":     len(trades),
		"trades_completed": completed,
		"trades_failed":    failed,
		"sell_win_rate":    winRate,
		"realized_pl":      realized,
		"realized_pl_today": todayPL,
	})
}

func runLearn(ctx context.Context, repo *database.Repository, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("learn", flag.ContinueOnError)
	userID := fs.String("user", "", "user whose trade history to learn from")
	strategy := fs.String("strategy", "sentiment-default", "strategy name to version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("learn: -user is required")
	}

	learned, err := learning.NewService(repo, log).RunCycle(ctx, *userID, *strategy)
	if err != nil {
		return fmt.Errorf("learning cycle: %w", err)
	}
	return printJSON(learned)
}

func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
