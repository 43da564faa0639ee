// Package app provides the top-level lifecycle for the copy-trading daemon.
// It wires the activity feed, engine, journal, cache, archival, and
// notification layers from configuration and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polycopy/internal/config"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/engine"
)

// streamRefreshInterval is how often the market stream's asset subscription
// is realigned with the ledger's held assets.
const streamRefreshInterval = time.Minute

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, opens the copy-trading subscription, and blocks
// until the context is cancelled. The operating mode shapes the pipeline:
// "trade" submits real orders, "paper" simulates fills at the source price,
// and "monitor" observes and journals without valuing a portfolio.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("watched_wallets", len(a.cfg.Watch.Addresses)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	sub, err := deps.Engine.Subscribe(ctx, a.subscribeOptions(deps))
	if err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}
	defer sub.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Poller.Run(ctx)
	})

	if deps.Stream != nil {
		a.runStream(ctx, g, deps)
	}

	g.Go(func() error {
		return a.runSummary(ctx, mode, sub, deps)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// subscribeOptions translates the [watch] and [risk] config sections into one
// engine subscription.
func (a *App) subscribeOptions(deps *Dependencies) engine.SubscribeOptions {
	notifier := deps.Notifier
	logger := a.logger

	opts := engine.SubscribeOptions{
		TargetAddresses:  a.cfg.Watch.Addresses,
		SizeScale:        a.cfg.Risk.SizeScale,
		MaxSizePerTrade:  a.cfg.Risk.MaxSizePerTrade,
		MaxSlippage:      a.cfg.Risk.MaxSlippage,
		MinTradeSize:     a.cfg.Risk.MinTradeSize,
		MinOrderValueUSD: a.cfg.Risk.MinOrderValueUsd,
		MaxPricePerShare: a.cfg.Risk.MaxPricePerShare,
		OrderKind:        domain.OrderKind(strings.ToUpper(a.cfg.Risk.OrderKind)),
		DryRun:           strings.ToLower(a.cfg.Mode) != "trade",
		OnError: func(err error) {
			logger.Warn("activity feed error", slog.String("error", err.Error()))
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if nerr := notifier.NotifyFeedError(nctx, err); nerr != nil {
				logger.Warn("feed error notification failed", slog.String("error", nerr.Error()))
			}
		},
	}
	if a.cfg.Risk.SmartMoneyOnly && deps.SmartMoney != nil {
		opts.SmartMoneyOnly = true
		opts.IsSmartMoney = deps.SmartMoney.IsSmartMoney
	}
	return opts
}

// runStream connects the market stream and keeps its subscription aligned
// with the assets the ledger currently holds. A failed initial connect is
// tolerated: valuation falls back to live midpoints.
func (a *App) runStream(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if err := deps.Stream.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "market stream connect failed, valuation will use midpoints",
			slog.String("error", err.Error()),
		)
		return
	}

	g.Go(func() error {
		ticker := time.NewTicker(streamRefreshInterval)
		defer ticker.Stop()

		var watched int
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				assets := deps.Ledger.Assets()
				if len(assets) == 0 && watched == 0 {
					continue
				}
				if err := deps.Stream.Watch(assets); err != nil {
					a.logger.WarnContext(ctx, "market stream subscription update failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				watched = len(assets)
			}
		}
	})
}

// runSummary periodically logs the subscription counters and, outside monitor
// mode, a mark-to-market view of the replica portfolio.
func (a *App) runSummary(ctx context.Context, mode string, sub *engine.Subscription, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Report.SummaryInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := sub.Stats()
			a.logger.InfoContext(ctx, "run summary",
				slog.Duration("uptime", snap.Uptime().Round(time.Second)),
				slog.Int64("activity_received", snap.ActivityReceived),
				slog.Int64("activity_matched", snap.ActivityMatched),
				slog.Int64("trades_detected", snap.TradesDetected),
				slog.Int64("trades_executed", snap.TradesExecuted),
				slog.Int64("trades_skipped", snap.TradesSkipped),
				slog.Int64("trades_failed", snap.TradesFailed),
			)

			if mode == "monitor" {
				continue
			}
			var totalCost, totalValue float64
			priced := true
			for _, v := range deps.Ledger.Valuation(ctx, deps.Prices) {
				totalCost += v.CostBasis
				totalValue += v.Value
				priced = priced && v.Priced
			}
			a.logger.InfoContext(ctx, "portfolio summary",
				slog.Int("assets", len(deps.Ledger.Assets())),
				slog.Float64("cost_basis_usd", totalCost),
				slog.Float64("value_usd", totalValue),
				slog.Bool("fully_priced", priced),
			)
		}
	}
}

// runArchiver periodically moves journal rows older than the retention window
// into object storage.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.S3.SweepInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.RetentionDays)
			n, err := deps.Archiver.ArchiveCopyTrades(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "journal archival failed",
					slog.Time("cutoff", cutoff),
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "journal rows archived",
					slog.Int64("rows", n),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}
