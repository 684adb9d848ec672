package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the trading platform.
type Config struct {
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	LLMConfig       LLMConfig       `json:"llm"`
	NewsConfig      NewsConfig      `json:"news"`
	SignalConfig    SignalConfig    `json:"signal"`
	BrokerageConfig BrokerageConfig `json:"brokerage"`
	SchedulerConfig SchedulerConfig `json:"scheduler"`
	RetentionConfig RetentionConfig `json:"retention"`
	AlertConfig     AlertConfig     `json:"alerts"`
	VaultConfig     VaultConfig     `json:"vault"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// DatabaseConfig selects the storage engine and its connection settings.
// Engine "postgres" is used in production, "sqlite" for backtests and tests.
type DatabaseConfig struct {
	Engine   string `json:"engine"` // "postgres" or "sqlite"
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	Path     string `json:"path"` // sqlite file path
}

// RedisConfig holds the optional fast cache tier settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LLMConfig holds the completion endpoint settings.
type LLMConfig struct {
	BaseURL      string        `json:"base_url"`
	Timeout      time.Duration `json:"timeout"`
	BatchSize    int           `json:"batch_size"`
	BatchTimeout time.Duration `json:"batch_timeout"`
	MaxRetries   int           `json:"max_retries"`
}

// NewsConfig holds the news source settings.
type NewsConfig struct {
	APIKey        string   `json:"api_key"`
	BaseURL       string   `json:"base_url"`
	Language      string   `json:"language"`
	Query         string   `json:"query"`
	Keywords      []string `json:"keywords"` // empty means the built-in financial set
	MaxArticles   int      `json:"max_articles"`
	LookbackDays  int      `json:"lookback_days"`
	CollectionJob string   `json:"collection_job"` // local clock time "HH:MM"
}

// SignalConfig holds the VIX quote source and signal tick settings.
type SignalConfig struct {
	VIXURL     string  `json:"vix_url"`     // empty disables the live source
	NeutralVIX float64 `json:"neutral_vix"` // fallback when the source fails
	TickTime   string  `json:"tick_time"`   // local clock time "HH:MM"
}

// BrokerageConfig holds brokerage credentials and mode.
type BrokerageConfig struct {
	Provider  string `json:"provider"` // "kis" or "mock"
	BaseURL   string `json:"base_url"`
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
	Account   string `json:"account"`
	Sandbox   bool   `json:"sandbox"`
}

// SchedulerConfig holds job cadence settings.
type SchedulerConfig struct {
	PricePollInterval   time.Duration `json:"price_poll_interval"`
	CacheSweepInterval  time.Duration `json:"cache_sweep_interval"`
	MonitorInterval     time.Duration `json:"monitor_interval"` // 0 disables position monitoring
	ShutdownGracePeriod time.Duration `json:"shutdown_grace_period"`
	WatchSymbols        []string      `json:"watch_symbols"`
}

// RetentionConfig holds per-table retention windows in days.
type RetentionConfig struct {
	NewsDays   int `json:"news_days"`
	PricesDays int `json:"prices_days"`
}

// AlertConfig holds alert cooldown and transport settings.
type AlertConfig struct {
	CooldownInterval time.Duration `json:"cooldown_interval"`
	EmailRecipient   string        `json:"email_recipient"`
	SMTPHost         string        `json:"smtp_host"`
	SMTPPort         string        `json:"smtp_port"`
	SMTPUsername     string        `json:"smtp_username"`
	SMTPPassword     string        `json:"smtp_password"`
	SMTPFrom         string        `json:"smtp_from"`
	SMTPFromName     string        `json:"smtp_from_name"`
	SMSWebhookURL    string        `json:"sms_webhook_url"`
	SMSRecipient     string        `json:"sms_recipient"`
}

// VaultConfig holds HashiCorp Vault settings for brokerage credentials.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"` // console writer instead of JSON
}

// Load reads config.json if present, then applies environment overrides.
// A .env file in the working directory is loaded first when it exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch c.DatabaseConfig.Engine {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database engine %q", c.DatabaseConfig.Engine)
	}
	if c.DatabaseConfig.Engine == "sqlite" && c.DatabaseConfig.Path == "" {
		return fmt.Errorf("sqlite engine requires DB_PATH")
	}
	if c.LLMConfig.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Database
	cfg.DatabaseConfig.Engine = getEnvOrDefault("DB_ENGINE", defaultStr(cfg.DatabaseConfig.Engine, "postgres"))
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.DatabaseConfig.Database, "sentiment_trader"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultStr(cfg.DatabaseConfig.SSLMode, "disable"))
	cfg.DatabaseConfig.Path = getEnvOrDefault("DB_PATH", cfg.DatabaseConfig.Path)

	// Redis fast tier (optional)
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// LLM endpoint
	cfg.LLMConfig.BaseURL = getEnvOrDefault("LLM_BASE_URL", defaultStr(cfg.LLMConfig.BaseURL, "http://localhost:8080"))
	cfg.LLMConfig.Timeout = getEnvDurationOrDefault("LLM_TIMEOUT", defaultDur(cfg.LLMConfig.Timeout, 60*time.Second))
	cfg.LLMConfig.BatchSize = getEnvIntOrDefault("LLM_BATCH_SIZE", defaultInt(cfg.LLMConfig.BatchSize, 5))
	cfg.LLMConfig.BatchTimeout = getEnvDurationOrDefault("LLM_BATCH_TIMEOUT", defaultDur(cfg.LLMConfig.BatchTimeout, 2*time.Second))
	cfg.LLMConfig.MaxRetries = getEnvIntOrDefault("LLM_MAX_RETRIES", defaultInt(cfg.LLMConfig.MaxRetries, 3))

	// News source
	cfg.NewsConfig.APIKey = getEnvOrDefault("NEWS_API_KEY", cfg.NewsConfig.APIKey)
	cfg.NewsConfig.BaseURL = getEnvOrDefault("NEWS_BASE_URL", defaultStr(cfg.NewsConfig.BaseURL, "https://newsapi.org/v2"))
	cfg.NewsConfig.Language = getEnvOrDefault("NEWS_LANGUAGE", defaultStr(cfg.NewsConfig.Language, "en"))
	cfg.NewsConfig.Query = getEnvOrDefault("NEWS_QUERY", defaultStr(cfg.NewsConfig.Query, "stock market OR economy"))
	if v := os.Getenv("NEWS_KEYWORDS"); v != "" {
		cfg.NewsConfig.Keywords = splitCSV(v)
	}
	cfg.NewsConfig.MaxArticles = getEnvIntOrDefault("NEWS_MAX_ARTICLES", defaultInt(cfg.NewsConfig.MaxArticles, 100))
	cfg.NewsConfig.LookbackDays = getEnvIntOrDefault("NEWS_LOOKBACK_DAYS", defaultInt(cfg.NewsConfig.LookbackDays, 3))
	cfg.NewsConfig.CollectionJob = getEnvOrDefault("NEWS_COLLECTION_TIME", defaultStr(cfg.NewsConfig.CollectionJob, "06:00"))

	// Signal
	cfg.SignalConfig.VIXURL = getEnvOrDefault("VIX_URL", cfg.SignalConfig.VIXURL)
	cfg.SignalConfig.NeutralVIX = getEnvFloatOrDefault("VIX_NEUTRAL", defaultFloat(cfg.SignalConfig.NeutralVIX, 20))
	cfg.SignalConfig.TickTime = getEnvOrDefault("SIGNAL_TICK_TIME", defaultStr(cfg.SignalConfig.TickTime, "07:00"))

	// Brokerage
	cfg.BrokerageConfig.Provider = getEnvOrDefault("BROKER_PROVIDER", defaultStr(cfg.BrokerageConfig.Provider, "mock"))
	cfg.BrokerageConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.BrokerageConfig.BaseURL)
	cfg.BrokerageConfig.AppKey = getEnvOrDefault("BROKER_APP_KEY", cfg.BrokerageConfig.AppKey)
	cfg.BrokerageConfig.AppSecret = getEnvOrDefault("BROKER_APP_SECRET", cfg.BrokerageConfig.AppSecret)
	cfg.BrokerageConfig.Account = getEnvOrDefault("BROKER_ACCOUNT", cfg.BrokerageConfig.Account)
	cfg.BrokerageConfig.Sandbox = getEnvBoolOrDefault("BROKER_SANDBOX", cfg.BrokerageConfig.Sandbox)

	// Scheduler
	cfg.SchedulerConfig.PricePollInterval = getEnvDurationOrDefault("PRICE_POLL_INTERVAL", defaultDur(cfg.SchedulerConfig.PricePollInterval, time.Minute))
	cfg.SchedulerConfig.CacheSweepInterval = getEnvDurationOrDefault("CACHE_SWEEP_INTERVAL", defaultDur(cfg.SchedulerConfig.CacheSweepInterval, time.Hour))
	cfg.SchedulerConfig.MonitorInterval = getEnvDurationOrDefault("MONITOR_INTERVAL", cfg.SchedulerConfig.MonitorInterval)
	cfg.SchedulerConfig.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", defaultDur(cfg.SchedulerConfig.ShutdownGracePeriod, 30*time.Second))
	if v := os.Getenv("WATCH_SYMBOLS"); v != "" {
		cfg.SchedulerConfig.WatchSymbols = splitCSV(v)
	}

	// Retention
	cfg.RetentionConfig.NewsDays = getEnvIntOrDefault("RETENTION_NEWS_DAYS", defaultInt(cfg.RetentionConfig.NewsDays, 30))
	cfg.RetentionConfig.PricesDays = getEnvIntOrDefault("RETENTION_PRICES_DAYS", defaultInt(cfg.RetentionConfig.PricesDays, 365))

	// Alerts
	cfg.AlertConfig.CooldownInterval = getEnvDurationOrDefault("ALERT_COOLDOWN", defaultDur(cfg.AlertConfig.CooldownInterval, 5*time.Minute))
	cfg.AlertConfig.EmailRecipient = getEnvOrDefault("ALERT_EMAIL_TO", cfg.AlertConfig.EmailRecipient)
	cfg.AlertConfig.SMTPHost = getEnvOrDefault("SMTP_HOST", cfg.AlertConfig.SMTPHost)
	cfg.AlertConfig.SMTPPort = getEnvOrDefault("SMTP_PORT", defaultStr(cfg.AlertConfig.SMTPPort, "587"))
	cfg.AlertConfig.SMTPUsername = getEnvOrDefault("SMTP_USERNAME", cfg.AlertConfig.SMTPUsername)
	cfg.AlertConfig.SMTPPassword = getEnvOrDefault("SMTP_PASSWORD", cfg.AlertConfig.SMTPPassword)
	cfg.AlertConfig.SMTPFrom = getEnvOrDefault("SMTP_FROM", cfg.AlertConfig.SMTPFrom)
	cfg.AlertConfig.SMTPFromName = getEnvOrDefault("SMTP_FROM_NAME", defaultStr(cfg.AlertConfig.SMTPFromName, "Sentiment Trader"))
	cfg.AlertConfig.SMSWebhookURL = getEnvOrDefault("SMS_WEBHOOK_URL", cfg.AlertConfig.SMSWebhookURL)
	cfg.AlertConfig.SMSRecipient = getEnvOrDefault("SMS_RECIPIENT", cfg.AlertConfig.SMSRecipient)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultStr(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultStr(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultStr(cfg.VaultConfig.SecretPath, "sentiment-trader/brokerage"))

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Pretty = getEnvBoolOrDefault("LOG_PRETTY", cfg.LoggingConfig.Pretty)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func defaultDur(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
