package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	s3blob "github.com/alanyoungcy/polycopy/internal/blob/s3"
	"github.com/alanyoungcy/polycopy/internal/cache/redis"
	"github.com/alanyoungcy/polycopy/internal/config"
	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/engine"
	"github.com/alanyoungcy/polycopy/internal/executor"
	"github.com/alanyoungcy/polycopy/internal/feed"
	"github.com/alanyoungcy/polycopy/internal/ledger"
	"github.com/alanyoungcy/polycopy/internal/notify"
	"github.com/alanyoungcy/polycopy/internal/platform/polymarket"
	"github.com/alanyoungcy/polycopy/internal/service"
	"github.com/alanyoungcy/polycopy/internal/store/postgres"
)

// Dependencies bundles everything the run loop needs. It is constructed by
// Wire and torn down by the returned cleanup function. Journal, PriceCache,
// Stream, Archiver, and SmartMoney are nil when their config sections are
// disabled.
type Dependencies struct {
	Signer *crypto.Signer
	Clob   *polymarket.ClobClient
	Data   *polymarket.DataClient

	Poller *feed.Poller
	Ledger *ledger.Ledger
	Engine *engine.Engine

	Journal    domain.CopyTradeStore
	PriceCache domain.PriceCache
	Prices     *service.PriceSource
	Stream     *polymarket.MarketStream
	Archiver   domain.Archiver

	Notifier   *notify.Notifier
	SmartMoney *smartMoneyClassifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{}

	// --- Wallet signer (only trade mode submits signed orders) ---
	if mode == "trade" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, int64(cfg.Polymarket.ChainID))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: create signer: %w", err)
		}
		deps.Signer = signer
	}

	// --- Platform clients ---
	var creds *crypto.APICreds
	if cfg.Polymarket.ApiKey != "" {
		creds = &crypto.APICreds{
			Key:        cfg.Polymarket.ApiKey,
			Secret:     cfg.Polymarket.ApiSecret,
			Passphrase: cfg.Polymarket.ApiPassphrase,
		}
	}
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, deps.Signer, creds, cfg.Polymarket.SignatureType)
	if mode == "trade" && creds == nil {
		if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive clob api key: %w", err)
		}
	}
	deps.Data = polymarket.NewDataClient(cfg.Polymarket.DataHost)

	// --- Discovery ---
	deps.Poller = feed.New(deps.Data, feed.Intervals{
		Short:  cfg.Watch.IntervalShort.Duration,
		Medium: cfg.Watch.IntervalMedium.Duration,
		Long:   cfg.Watch.IntervalLong.Duration,
	}, cfg.Watch.FetchLimit, cfg.Watch.DedupCapacity, logger)

	deps.Ledger = ledger.New(logger)

	// --- Redis price cache ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	}

	// --- PostgreSQL journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewCopyTradeStore(pgClient.Pool())
	}

	// --- S3 journal archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		// Validation guarantees the journal exists when archival is on.
		journal, ok := deps.Journal.(*postgres.CopyTradeStore)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 archival requires the postgres journal")
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), journal, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Market stream: keeps the price cache warm for held assets ---
	if deps.PriceCache != nil && cfg.Polymarket.WsHost != "" {
		wsURL := strings.TrimRight(cfg.Polymarket.WsHost, "/") + "/ws/market"
		stream := polymarket.NewMarketStream(wsURL)
		cache := deps.PriceCache
		stream.OnPrice(func(u polymarket.PriceUpdate) {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cache.SetPrice(sctx, u.AssetID, u.Price, u.Timestamp); err != nil {
				logger.Warn("price cache update failed",
					slog.String("asset", u.AssetID),
					slog.String("error", err.Error()),
				)
			}
		})
		closers = append(closers, func() { _ = stream.Close() })
		deps.Stream = stream
	}

	// --- Valuation ---
	wallet := cfg.Wallet.SafeAddress
	if wallet == "" && deps.Signer != nil {
		wallet = deps.Signer.Address().Hex()
	}
	deps.Prices = service.NewPriceSource(deps.PriceCache, deps.Clob, deps.Data, wallet, logger)

	if cfg.Risk.SmartMoneyOnly {
		deps.SmartMoney = newSmartMoneyClassifier(deps.Data, logger)
	}

	// --- Engine ---
	notifier := deps.Notifier
	deps.Engine = engine.New(engine.Deps{
		Feed:    deps.Poller,
		Gateway: deps.Clob,
		Ledger:  deps.Ledger,
		Journal: deps.Journal,
		Notify: func(res domain.CopyTradeResult) {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := notifier.NotifyCopyTrade(nctx, res); err != nil {
				logger.Warn("copy trade notification failed",
					slog.String("tx_hash", res.TxHash),
					slog.String("error", err.Error()),
				)
			}
		},
		Executor: executor.Config{
			PollInterval: cfg.Execution.PollInterval.Duration,
			FAKTimeout:   cfg.Execution.FakTimeout.Duration,
			FOKTimeout:   cfg.Execution.FokTimeout.Duration,
			DryRun:       mode != "trade",
		},
		Logger: logger,
	})

	return deps, cleanup, nil
}

// Smart-money thresholds: a source wallet qualifies when its venue-reported
// turnover over the lookback window clears the floor.
const (
	smartMoneyLookback  = 7 * 24 * time.Hour
	smartMoneyFloorUSD  = 10_000.0
	smartMoneyFetchSize = 500
)

// smartMoneyClassifier decides whether a source wallet is worth copying based
// on its recent trading turnover. Verdicts are cached per wallet so the
// feed's hot path never repeats Data API calls.
type smartMoneyClassifier struct {
	data   domain.ActivityFetcher
	logger *slog.Logger

	mu       sync.Mutex
	verdicts map[string]bool
}

func newSmartMoneyClassifier(data domain.ActivityFetcher, logger *slog.Logger) *smartMoneyClassifier {
	return &smartMoneyClassifier{
		data:     data,
		logger:   logger.With(slog.String("component", "smart_money")),
		verdicts: make(map[string]bool),
	}
}

// IsSmartMoney reports whether the wallet's recent turnover clears the floor.
// Data API failures pass the wallet through rather than silently dropping
// its trades.
func (c *smartMoneyClassifier) IsSmartMoney(wallet string) bool {
	c.mu.Lock()
	if verdict, ok := c.verdicts[wallet]; ok {
		c.mu.Unlock()
		return verdict
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	trades, err := c.data.FetchActivity(ctx, wallet, domain.FetchOptions{
		Since: time.Now().UTC().Add(-smartMoneyLookback),
		Limit: smartMoneyFetchSize,
	})
	if err != nil {
		c.logger.Warn("turnover lookup failed, passing wallet through",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return true
	}

	var turnover float64
	for _, t := range trades {
		turnover += t.Size * t.Price
	}
	verdict := turnover >= smartMoneyFloorUSD

	c.mu.Lock()
	c.verdicts[wallet] = verdict
	c.mu.Unlock()

	c.logger.Info("wallet classified",
		slog.String("wallet", wallet),
		slog.Float64("turnover_usd", turnover),
		slog.Bool("smart_money", verdict),
	)
	return verdict
}
