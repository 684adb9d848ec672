// sentiment-trading-bot turns financial news into risk-gated brokerage orders:
// scheduled collection feeds LLM sentiment scoring, weekly VIX-weighted
// signals drive the per-user trading engine, and stop-loss monitoring guards
// open positions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"sentiment-trading-bot/config"
	"sentiment-trading-bot/internal/alerts"
	"sentiment-trading-bot/internal/brokerage"
	"sentiment-trading-bot/internal/cache"
	"sentiment-trading-bot/internal/database"
	"sentiment-trading-bot/internal/engine"
	"sentiment-trading-bot/internal/events"
	"sentiment-trading-bot/internal/llm"
	"sentiment-trading-bot/internal/logging"
	"sentiment-trading-bot/internal/metrics"
	"sentiment-trading-bot/internal/news"
	"sentiment-trading-bot/internal/risk"
	"sentiment-trading-bot/internal/scheduler"
	"sentiment-trading-bot/internal/sentiment"
	signalgen "sentiment-trading-bot/internal/signal"
	"sentiment-trading-bot/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LoggingConfig.Level, Pretty: cfg.LoggingConfig.Pretty})
	log.Info().Str("db_engine", cfg.DatabaseConfig.Engine).Str("broker", cfg.BrokerageConfig.Provider).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := mustOpenDatabase(ctx, cfg, log)
	defer db.Close()
	repo := database.NewRepository(db)

	twoTier := buildCache(cfg, repo, log)
	defer twoTier.Close()

	bus := events.NewBus()
	collector := metrics.NewCollector(metrics.DefaultWindowSize)
	collector.BindBus(bus)

	optimizer := llm.NewOptimizer(
		llm.NewClient(&llm.ClientConfig{BaseURL: cfg.LLMConfig.BaseURL, Timeout: cfg.LLMConfig.Timeout}),
		llm.OptimizerConfig{
			BatchSize:    cfg.LLMConfig.BatchSize,
			BatchTimeout: cfg.LLMConfig.BatchTimeout,
			MaxRetries:   cfg.LLMConfig.MaxRetries,
			Observer:     collector,
		},
		log,
	)
	defer optimizer.Stop()

	alerter := buildAlerter(cfg, log)
	analyzer := sentiment.NewAnalyzer(optimizer, repo, log)
	newsCollector := buildNewsCollector(cfg, repo, bus, log)
	generator := signalgen.NewGenerator(repo, buildVIXSource(cfg), signalgen.DefaultParams(), cfg.SignalConfig.NeutralVIX, log)

	broker := buildBroker(ctx, cfg, log)
	if err := broker.Authenticate(ctx); err != nil {
		log.Warn().Err(err).Msg("brokerage authentication failed at startup")
	}

	riskMgr := risk.NewManager(repo, alerter, log)
	trader := engine.New(repo, broker, riskMgr, alerter, bus, log)

	sched := scheduler.New(cfg.SchedulerConfig.ShutdownGracePeriod, log)
	registerJobs(cfg, sched, repo, broker, twoTier, trader, riskMgr, collector, analyzer, newsCollector, generator, log)

	sched.Start()
	log.Info().Msg("scheduler running")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sched.Stop()
}

// mustOpenDatabase opens the configured engine and applies migrations. A
// failed migration is retried once after a maintenance pass; a second failure
// is fatal.
func mustOpenDatabase(ctx context.Context, cfg *config.Config, log zerolog.Logger) *database.DB {
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
		log.Fatal().Err(err).Msg("database unavailable")
	}

	if err := db.RunMigrations(ctx); err != nil {
		log.Warn().Err(err).Msg("migrations failed, retrying after maintenance")
		if merr := db.Maintain(ctx); merr != nil {
			log.Warn().Err(merr).Msg("maintenance pass failed")
		}
		if err := db.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
	}
	return db
}

func buildCache(cfg *config.Config, repo *database.Repository, log zerolog.Logger) *cache.Cache {
	var fast cache.FastTier
	if cfg.RedisConfig.Enabled {
		tier, err := cache.NewRedisTier(cfg.RedisConfig, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory fast tier")
			fast = cache.NewMemoryTier()
		} else {
			fast = tier
		}
	} else {
		fast = cache.NewMemoryTier()
	}
	return cache.New(fast, repo, log)
}

func buildAlerter(cfg *config.Config, log zerolog.Logger) *alerts.Service {
	var email alerts.EmailTransport
	if m := alerts.NewSMTPMailer(cfg.AlertConfig, cfg.AlertConfig.EmailRecipient); m.Configured() {
		email = m
	}
	var sms alerts.SMSTransport
	if s := alerts.NewWebhookSMS(cfg.AlertConfig); s.Configured() {
		sms = s
	}
	return alerts.NewService(email, sms, cfg.AlertConfig.CooldownInterval, log)
}

func buildNewsCollector(cfg *config.Config, repo *database.Repository, bus *events.Bus, log zerolog.Logger) *news.Collector {
	keywords := cfg.NewsConfig.Keywords
	if len(keywords) == 0 {
		keywords = news.DefaultKeywords
	}
	return news.NewCollector(
		[]news.Source{news.NewHTTPSource(cfg.NewsConfig)},
		repo, bus, log,
		news.CollectorOptions{
			Keywords:     keywords,
			Query:        cfg.NewsConfig.Query,
			LookbackDays: cfg.NewsConfig.LookbackDays,
			NewsDays:     cfg.RetentionConfig.NewsDays,
			MaxArticles:  cfg.NewsConfig.MaxArticles,
		},
	)
}

func buildVIXSource(cfg *config.Config) signalgen.VIXSource {
	if cfg.SignalConfig.VIXURL != "" {
		return signalgen.NewHTTPVIXSource(cfg.SignalConfig.VIXURL)
	}
	return signalgen.StaticVIX(cfg.SignalConfig.NeutralVIX)
}

// buildBroker constructs the configured brokerage. With Vault enabled the
// process credentials come from the secret store instead of the environment.
func buildBroker(ctx context.Context, cfg *config.Config, log zerolog.Logger) brokerage.Broker {
	if cfg.BrokerageConfig.Provider != "kis" {
		return brokerage.NewMockBroker(10_000_000)
	}

	if cfg.VaultConfig.Enabled {
		store, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			log.Warn().Err(err).Msg("vault client unavailable, using environment credentials")
		} else if creds, err := store.Get(ctx, "default"); err != nil {
			log.Warn().Err(err).Msg("vault credentials missing, using environment credentials")
		} else {
			cfg.BrokerageConfig.AppKey = creds.AppKey
			cfg.BrokerageConfig.AppSecret = creds.AppSecret
			cfg.BrokerageConfig.Account = creds.Account
			cfg.BrokerageConfig.Sandbox = creds.Sandbox
		}
	}
	return brokerage.NewKISBroker(cfg.BrokerageConfig, log)
}

func registerJobs(
	cfg *config.Config,
	sched *scheduler.Scheduler,
	repo *database.Repository,
	broker brokerage.Broker,
	twoTier *cache.Cache,
	trader *engine.Engine,
	riskMgr *risk.Manager,
	collector *metrics.Collector,
	analyzer *sentiment.Analyzer,
	newsCollector *news.Collector,
	generator *signalgen.Generator,
	log zerolog.Logger,
) {
	newsCron, err := scheduler.ClockToCron(cfg.NewsConfig.CollectionJob)
	if err != nil {
		log.Fatal().Err(err).Msg("bad news collection time")
	}
	if err := sched.AddJob(newsCron, &scheduler.NewsJob{
		Collector:  newsCollector,
		Analyzer:   analyzer,
		BatchLimit: cfg.NewsConfig.MaxArticles,
	}); err != nil {
		log.Fatal().Err(err).Msg("register news job")
	}

	signalCron, err := scheduler.ClockToCron(cfg.SignalConfig.TickTime)
	if err != nil {
		log.Fatal().Err(err).Msg("bad signal tick time")
	}
	if err := sched.AddJob(signalCron, &scheduler.SignalJob{
		Repo:      repo,
		Generator: generator,
		Engine:    trader,
		Risk:      riskMgr,
		Watch:     cfg.SchedulerConfig.WatchSymbols,
		Log:       log,
	}); err != nil {
		log.Fatal().Err(err).Msg("register signal job")
	}

	if err := sched.AddJob(scheduler.EveryToCron(cfg.SchedulerConfig.PricePollInterval), &scheduler.PricePollJob{
		Repo:    repo,
		Broker:  broker,
		Cache:   twoTier,
		Metrics: collector,
		Watch:   cfg.SchedulerConfig.WatchSymbols,
		Log:     log,
	}); err != nil {
		log.Fatal().Err(err).Msg("register price poll job")
	}

	if err := sched.AddJob(scheduler.EveryToCron(cfg.SchedulerConfig.CacheSweepInterval), &scheduler.CacheSweepJob{
		Cache: twoTier,
	}); err != nil {
		log.Fatal().Err(err).Msg("register cache sweep job")
	}

	if cfg.SchedulerConfig.MonitorInterval > 0 {
		if err := sched.AddJob(scheduler.EveryToCron(cfg.SchedulerConfig.MonitorInterval), &scheduler.MonitorJob{
			Repo:   repo,
			Engine: trader,
		}); err != nil {
			log.Fatal().Err(err).Msg("register monitor job")
		}
	}

	if err := sched.AddJob("30 3 * * *", &scheduler.RetentionJob{
		Repo:       repo,
		PricesDays: cfg.RetentionConfig.PricesDays,
	}); err != nil {
		log.Fatal().Err(err).Msg("register retention job")
	}
}
