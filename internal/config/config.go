// Package config defines the top-level configuration for the copy-trading
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYCOPY_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Watch      WatchConfig      `toml:"watch"`
	Risk       RiskConfig       `toml:"risk"`
	Execution  ExecutionConfig  `toml:"execution"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Report     ReportConfig     `toml:"report"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the Ethereum wallet used to sign and fund replica orders.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints, chain parameters, and
// optional pre-derived L2 API credentials. When the credential triple is
// empty the CLOB client derives a key from the wallet signature at startup.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	DataHost      string `toml:"data_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// WatchConfig holds the source wallets to mirror and the discovery loop
// parameters. The poll interval is a step function of the watch-set size;
// the three tiers cover 1-10, 11-30, and 31+ wallets.
type WatchConfig struct {
	Addresses      []string `toml:"addresses"`
	IntervalShort  duration `toml:"interval_short"`
	IntervalMedium duration `toml:"interval_medium"`
	IntervalLong   duration `toml:"interval_long"`
	FetchLimit     int      `toml:"fetch_limit"`
	DedupCapacity  int      `toml:"dedup_capacity"`
}

// RiskConfig holds the sizing and filtering rules applied to every source
// trade before a replica order is built.
type RiskConfig struct {
	SizeScale        float64 `toml:"size_scale"`
	MaxSizePerTrade  float64 `toml:"max_size_per_trade"`
	MaxSlippage      float64 `toml:"max_slippage"`
	MinTradeSize     float64 `toml:"min_trade_size"`
	MinOrderValueUsd float64 `toml:"min_order_value_usd"`
	MaxPricePerShare float64 `toml:"max_price_per_share"`
	OrderKind        string  `toml:"order_kind"`
	SmartMoneyOnly   bool    `toml:"smart_money_only"`
}

// ExecutionConfig holds order-confirmation timings.
type ExecutionConfig struct {
	PollInterval duration `toml:"poll_interval"`
	FakTimeout   duration `toml:"fak_timeout"`
	FokTimeout   duration `toml:"fok_timeout"`
}

// RedisConfig holds Redis connection parameters for the price cache.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters for the copy-trade
// journal.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for journal
// archival.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	SweepInterval  duration `toml:"sweep_interval"`
}

// NotifyConfig holds notification channel credentials and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ReportConfig holds periodic run-summary parameters.
type ReportConfig struct {
	SummaryInterval duration `toml:"summary_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Watch: WatchConfig{
			IntervalShort:  duration{30 * time.Second},
			IntervalMedium: duration{time.Minute},
			IntervalLong:   duration{2 * time.Minute},
			FetchLimit:     100,
			DedupCapacity:  1000,
		},
		Risk: RiskConfig{
			SizeScale:        0.10,
			MaxSizePerTrade:  100.0,
			MaxSlippage:      0.05,
			MinTradeSize:     0,
			MinOrderValueUsd: 1.0,
			MaxPricePerShare: 0.99,
			OrderKind:        "FAK",
		},
		Execution: ExecutionConfig{
			PollInterval: duration{2 * time.Second},
			FakTimeout:   duration{15 * time.Second},
			FokTimeout:   duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			PriceTTL:   duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polycopy-data",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
			SweepInterval:  duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "feed_error"},
		},
		Report: ReportConfig{
			SummaryInterval: duration{time.Hour},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "trade" submits
// real orders, "paper" simulates fills at the source price, "monitor" only
// observes and journals.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validOrderKinds enumerates the accepted values for RiskConfig.OrderKind.
var validOrderKinds = map[string]bool{
	"FAK": true,
	"FOK": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a credential source is only required when real orders go out.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// Pre-derived L2 credentials must be set as a complete triple, or not at
	// all.
	pk := c.Polymarket.ApiKey != ""
	ps := c.Polymarket.ApiSecret != ""
	pp := c.Polymarket.ApiPassphrase != ""
	if pk || ps || pp {
		if !(pk && ps && pp) {
			errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
		}
	}

	// Watch
	if len(c.Watch.Addresses) == 0 {
		errs = append(errs, "watch: at least one address must be set")
	}
	for _, addr := range c.Watch.Addresses {
		if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
			errs = append(errs, fmt.Sprintf("watch: %q is not a 0x-prefixed 40-hex-digit address", addr))
		}
	}
	if c.Watch.IntervalShort.Duration <= 0 {
		errs = append(errs, "watch: interval_short must be positive")
	}
	if c.Watch.IntervalMedium.Duration < c.Watch.IntervalShort.Duration {
		errs = append(errs, "watch: interval_medium must not be shorter than interval_short")
	}
	if c.Watch.IntervalLong.Duration < c.Watch.IntervalMedium.Duration {
		errs = append(errs, "watch: interval_long must not be shorter than interval_medium")
	}
	if c.Watch.FetchLimit < 1 {
		errs = append(errs, "watch: fetch_limit must be >= 1")
	}
	if c.Watch.DedupCapacity < 2 {
		errs = append(errs, "watch: dedup_capacity must be >= 2")
	}

	// Risk
	if c.Risk.SizeScale <= 0 {
		errs = append(errs, "risk: size_scale must be > 0")
	}
	if c.Risk.MaxSizePerTrade < 0 {
		errs = append(errs, "risk: max_size_per_trade must be >= 0 (0 disables the cap)")
	}
	if c.Risk.MaxSlippage < 0 || c.Risk.MaxSlippage >= 1 {
		errs = append(errs, fmt.Sprintf("risk: max_slippage must be in [0, 1), got %v", c.Risk.MaxSlippage))
	}
	if c.Risk.MaxPricePerShare < 0 || c.Risk.MaxPricePerShare > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_price_per_share must be in [0, 1], got %v", c.Risk.MaxPricePerShare))
	}
	if !validOrderKinds[strings.ToUpper(c.Risk.OrderKind)] {
		errs = append(errs, fmt.Sprintf("risk: unknown order_kind %q (valid: FAK, FOK)", c.Risk.OrderKind))
	}

	// Execution
	if c.Execution.PollInterval.Duration <= 0 {
		errs = append(errs, "execution: poll_interval must be positive")
	}
	if c.Execution.FakTimeout.Duration <= 0 {
		errs = append(errs, "execution: fak_timeout must be positive")
	}
	if c.Execution.FokTimeout.Duration <= 0 {
		errs = append(errs, "execution: fok_timeout must be positive")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival requires the postgres journal to be enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
		if c.S3.SweepInterval.Duration <= 0 {
			errs = append(errs, "s3: sweep_interval must be positive")
		}
	}

	// Report
	if c.Report.SummaryInterval.Duration <= 0 {
		errs = append(errs, "report: summary_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
