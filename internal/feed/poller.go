// Package feed discovers trades made by watched wallets. A single timer loop
// fans activity queries out across all wallets each tick, merges the results
// by timestamp, and suppresses events that have already been handed
// downstream.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Wallet-count thresholds for the poll interval step function. The interval
// grows with the watch set so the per-minute query volume stays inside the
// feed's rate budget.
const (
	shortTierMaxWallets  = 10
	mediumTierMaxWallets = 30
)

// Intervals holds the poll interval for each watch-set size tier.
type Intervals struct {
	Short  time.Duration // 1-10 wallets
	Medium time.Duration // 11-30 wallets
	Long   time.Duration // 31+ wallets
}

// DefaultIntervals returns the standard tier durations.
func DefaultIntervals() Intervals {
	return Intervals{
		Short:  30 * time.Second,
		Medium: time.Minute,
		Long:   2 * time.Minute,
	}
}

// TradeHandler receives deduplicated SourceTrades in ascending timestamp
// order. Handlers must not block for long; slow work should be handed off.
type TradeHandler func(domain.SourceTrade)

// ErrorHandler receives per-wallet fetch errors. The tick continues for the
// remaining wallets and the failing wallet is retried next tick.
type ErrorHandler func(error)

// Poller drives the discovery loop. Multiple subscriptions can register
// handlers on one Poller and share a single poll schedule.
type Poller struct {
	fetcher    domain.ActivityFetcher
	intervals  Intervals
	fetchLimit int
	logger     *slog.Logger

	mu          sync.Mutex
	wallets     []string
	handlers    map[int]TradeHandler
	errHandlers map[int]ErrorHandler
	nextID      int
	lastCheck   time.Time

	dedup *Dedup

	// reschedule wakes the run loop when the watch set (and therefore the
	// interval) changes.
	reschedule chan struct{}
}

// New creates a Poller. dedupCapacity <= 0 uses the default bound.
func New(fetcher domain.ActivityFetcher, intervals Intervals, fetchLimit, dedupCapacity int, logger *slog.Logger) *Poller {
	if intervals.Short <= 0 {
		intervals = DefaultIntervals()
	}
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	return &Poller{
		fetcher:     fetcher,
		intervals:   intervals,
		fetchLimit:  fetchLimit,
		logger:      logger.With(slog.String("component", "poller")),
		handlers:    make(map[int]TradeHandler),
		errHandlers: make(map[int]ErrorHandler),
		dedup:       NewDedup(dedupCapacity),
		reschedule:  make(chan struct{}, 1),
		lastCheck:   time.Now().UTC(),
	}
}

// SetWallets replaces the watch set. The poll interval is recomputed and the
// run loop rescheduled immediately.
func (p *Poller) SetWallets(wallets []string) {
	p.mu.Lock()
	p.wallets = append([]string(nil), wallets...)
	p.mu.Unlock()

	select {
	case p.reschedule <- struct{}{}:
	default:
	}
}

// Wallets returns a copy of the current watch set.
func (p *Poller) Wallets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.wallets...)
}

// Interval returns the poll interval for the current watch-set size.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	n := len(p.wallets)
	p.mu.Unlock()
	return p.intervalFor(n)
}

func (p *Poller) intervalFor(walletCount int) time.Duration {
	switch {
	case walletCount <= shortTierMaxWallets:
		return p.intervals.Short
	case walletCount <= mediumTierMaxWallets:
		return p.intervals.Medium
	default:
		return p.intervals.Long
	}
}

// OnTrade registers a handler and returns an id usable with Remove.
func (p *Poller) OnTrade(h TradeHandler) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.handlers[p.nextID] = h
	return p.nextID
}

// OnError registers an error handler and returns an id usable with Remove.
func (p *Poller) OnError(h ErrorHandler) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.errHandlers[p.nextID] = h
	return p.nextID
}

// Remove unregisters a trade or error handler by id.
func (p *Poller) Remove(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, id)
	delete(p.errHandlers, id)
}

// Run executes the poll loop until the context is cancelled. An empty watch
// set simply idles at the short-tier interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", slog.Duration("interval", p.Interval()))
	defer p.logger.Info("poller stopped")

	timer := time.NewTimer(p.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-p.reschedule:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			next := p.Interval()
			timer.Reset(next)
			p.logger.Info("watch set changed",
				slog.Int("wallets", len(p.Wallets())),
				slog.Duration("interval", next),
			)

		case <-timer.C:
			p.Tick(ctx)
			timer.Reset(p.Interval())
		}
	}
}

// Tick runs one discovery pass: fetch all wallets concurrently, merge, sort,
// dedup, and dispatch. The last-checked watermark advances to the start of
// the tick rather than the max returned timestamp, so feed clock skew can
// only cause reprocessing (absorbed by the dedup set), never a missed event.
func (p *Poller) Tick(ctx context.Context) {
	p.mu.Lock()
	wallets := append([]string(nil), p.wallets...)
	since := p.lastCheck
	p.lastCheck = time.Now().UTC()
	p.mu.Unlock()

	if len(wallets) == 0 {
		return
	}

	var (
		resultMu sync.Mutex
		trades   []domain.SourceTrade
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, wallet := range wallets {
		wallet := wallet
		g.Go(func() error {
			batch, err := p.fetcher.FetchActivity(gctx, wallet, domain.FetchOptions{
				Since: since,
				Limit: p.fetchLimit,
			})
			if err != nil {
				// One wallet failing must not abort the tick; it will be
				// retried on the next pass.
				p.logger.Warn("activity fetch failed",
					slog.String("wallet", wallet),
					slog.String("error", err.Error()),
				)
				p.emitError(fmt.Errorf("feed: fetch activity for %s: %w", wallet, err))
				return nil
			}
			resultMu.Lock()
			trades = append(trades, batch...)
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})

	for _, t := range trades {
		if p.dedup.IsDuplicate(t.TxHash) {
			continue
		}
		p.emitTrade(t)
	}
}

func (p *Poller) emitTrade(t domain.SourceTrade) {
	p.mu.Lock()
	handlers := make([]TradeHandler, 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(t)
	}
}

func (p *Poller) emitError(err error) {
	p.mu.Lock()
	handlers := make([]ErrorHandler, 0, len(p.errHandlers))
	for _, h := range p.errHandlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}
