package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYCOPY_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYCOPY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYCOPY_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "POLYCOPY_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYCOPY_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYCOPY_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYCOPY_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYCOPY_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYCOPY_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYCOPY_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYCOPY_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "POLYCOPY_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYCOPY_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYCOPY_POLYMARKET_API_PASSPHRASE")

	// ── Watch ──
	setStringSlice(&cfg.Watch.Addresses, "POLYCOPY_WATCH_ADDRESSES")
	setDuration(&cfg.Watch.IntervalShort, "POLYCOPY_WATCH_INTERVAL_SHORT")
	setDuration(&cfg.Watch.IntervalMedium, "POLYCOPY_WATCH_INTERVAL_MEDIUM")
	setDuration(&cfg.Watch.IntervalLong, "POLYCOPY_WATCH_INTERVAL_LONG")
	setInt(&cfg.Watch.FetchLimit, "POLYCOPY_WATCH_FETCH_LIMIT")
	setInt(&cfg.Watch.DedupCapacity, "POLYCOPY_WATCH_DEDUP_CAPACITY")

	// ── Risk ──
	setFloat64(&cfg.Risk.SizeScale, "POLYCOPY_RISK_SIZE_SCALE")
	setFloat64(&cfg.Risk.MaxSizePerTrade, "POLYCOPY_RISK_MAX_SIZE_PER_TRADE")
	setFloat64(&cfg.Risk.MaxSlippage, "POLYCOPY_RISK_MAX_SLIPPAGE")
	setFloat64(&cfg.Risk.MinTradeSize, "POLYCOPY_RISK_MIN_TRADE_SIZE")
	setFloat64(&cfg.Risk.MinOrderValueUsd, "POLYCOPY_RISK_MIN_ORDER_VALUE_USD")
	setFloat64(&cfg.Risk.MaxPricePerShare, "POLYCOPY_RISK_MAX_PRICE_PER_SHARE")
	setStr(&cfg.Risk.OrderKind, "POLYCOPY_RISK_ORDER_KIND")
	setBool(&cfg.Risk.SmartMoneyOnly, "POLYCOPY_RISK_SMART_MONEY_ONLY")

	// ── Execution ──
	setDuration(&cfg.Execution.PollInterval, "POLYCOPY_EXECUTION_POLL_INTERVAL")
	setDuration(&cfg.Execution.FakTimeout, "POLYCOPY_EXECUTION_FAK_TIMEOUT")
	setDuration(&cfg.Execution.FokTimeout, "POLYCOPY_EXECUTION_FOK_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYCOPY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYCOPY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCOPY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCOPY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCOPY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYCOPY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYCOPY_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "POLYCOPY_REDIS_PRICE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POLYCOPY_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLYCOPY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYCOPY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYCOPY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYCOPY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYCOPY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYCOPY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYCOPY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYCOPY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYCOPY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYCOPY_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYCOPY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYCOPY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYCOPY_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYCOPY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYCOPY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYCOPY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYCOPY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYCOPY_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "POLYCOPY_S3_RETENTION_DAYS")
	setDuration(&cfg.S3.SweepInterval, "POLYCOPY_S3_SWEEP_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYCOPY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYCOPY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYCOPY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYCOPY_NOTIFY_EVENTS")

	// ── Report ──
	setDuration(&cfg.Report.SummaryInterval, "POLYCOPY_REPORT_SUMMARY_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYCOPY_MODE")
	setStr(&cfg.LogLevel, "POLYCOPY_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
