// Package engine ties the activity feed, classifier, risk gate, executor, and
// ledger together into copy-trading subscriptions. Each subscription carries
// its own filters, sizing rules, and run counters; all subscriptions share
// one poll loop and one position ledger.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/executor"
	"github.com/alanyoungcy/polycopy/internal/feed"
	"github.com/alanyoungcy/polycopy/internal/ledger"
	"github.com/alanyoungcy/polycopy/internal/risk"
)

// activityFeed is the slice of feed.Poller the engine needs. Narrowed for
// testing with a fake.
type activityFeed interface {
	OnTrade(feed.TradeHandler) int
	OnError(feed.ErrorHandler) int
	Remove(id int)
	SetWallets([]string)
}

// Deps collects the engine's collaborators. Journal and Notify are optional.
type Deps struct {
	Feed     activityFeed
	Gateway  domain.OrderGateway
	Ledger   *ledger.Ledger
	Journal  domain.CopyTradeStore
	Notify   func(domain.CopyTradeResult)
	Executor executor.Config
	Logger   *slog.Logger
}

// Engine manages subscriptions and keeps the poller's wallet union in sync
// with them.
type Engine struct {
	feed    activityFeed
	gateway domain.OrderGateway
	ledger  *ledger.Ledger
	journal domain.CopyTradeStore
	notify  func(domain.CopyTradeResult)
	execCfg executor.Config
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int

	lockMu     sync.Mutex
	assetLocks map[string]*sync.Mutex
}

// New creates an Engine.
func New(d Deps) *Engine {
	return &Engine{
		feed:       d.Feed,
		gateway:    d.Gateway,
		ledger:     d.Ledger,
		journal:    d.Journal,
		notify:     d.Notify,
		execCfg:    d.Executor,
		logger:     d.Logger.With(slog.String("component", "engine")),
		assetLocks: make(map[string]*sync.Mutex),
	}
}

// assetLock returns the mutex serializing the gate→execute→record pipeline
// for one asset. Without it, two same-asset sells arriving in one tick would
// both read held shares before either ledger commit and together sell more
// than is owned.
func (e *Engine) assetLock(asset string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.assetLocks[asset]
	if !ok {
		mu = &sync.Mutex{}
		e.assetLocks[asset] = mu
	}
	return mu
}

// Subscription is one live copy-trading stream. Stop detaches it from the
// feed and waits for in-flight replica attempts to finish; Stats stays
// readable afterwards.
type Subscription struct {
	id     int
	engine *Engine
	ctx    context.Context

	classifier *Classifier
	gate       *risk.Gate
	exec       *executor.Executor
	stats      *domain.RunStats
	opts       SubscribeOptions

	tradeHandlerID int
	errHandlerID   int

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Subscribe validates opts, wires a new subscription into the shared feed,
// and extends the poller's watch set with its target wallets. The returned
// subscription processes trades until Stop is called or ctx is cancelled.
func (e *Engine) Subscribe(ctx context.Context, opts SubscribeOptions) (*Subscription, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	classifier := NewClassifier(opts.TargetAddresses, opts.MinTradeSize, opts.SmartMoneyOnly, opts.IsSmartMoney)

	execCfg := e.execCfg
	execCfg.DryRun = execCfg.DryRun || opts.DryRun

	sub := &Subscription{
		engine:     e,
		ctx:        ctx,
		classifier: classifier,
		exec:       executor.New(e.gateway, execCfg, e.logger),
		stats:      domain.NewRunStats(),
		opts:       opts,
	}
	held := opts.HeldShares
	if held == nil {
		held = e.ledger.HeldShares
	}
	sub.gate = risk.New(risk.Options{
		SizeScale:        opts.SizeScale,
		MaxSizePerTrade:  opts.MaxSizePerTrade,
		MaxSlippage:      opts.MaxSlippage,
		MinOrderValueUSD: opts.MinOrderValueUSD,
		MaxPricePerShare: opts.MaxPricePerShare,
		OrderKind:        opts.OrderKind,
	}, held, e.logger)

	e.mu.Lock()
	e.nextID++
	sub.id = e.nextID
	if e.subs == nil {
		e.subs = make(map[int]*Subscription)
	}
	e.subs[sub.id] = sub
	e.mu.Unlock()

	sub.tradeHandlerID = e.feed.OnTrade(sub.handleTrade)
	sub.errHandlerID = e.feed.OnError(sub.handleError)
	e.syncWallets()

	e.logger.Info("subscription started",
		slog.Int("id", sub.id),
		slog.Int("targets", len(opts.TargetAddresses)),
		slog.Float64("size_scale", opts.SizeScale),
		slog.Bool("dry_run", execCfg.DryRun),
	)
	return sub, nil
}

// Ledger exposes the shared position ledger for reporting.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// syncWallets pushes the union of all subscriptions' targets to the poller.
func (e *Engine) syncWallets() {
	e.mu.Lock()
	seen := make(map[string]struct{})
	var union []string
	for _, sub := range e.subs {
		for _, w := range sub.classifier.Wallets() {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			union = append(union, w)
		}
	}
	e.mu.Unlock()

	e.feed.SetWallets(union)
}

func (e *Engine) dropSub(id int) {
	e.mu.Lock()
	delete(e.subs, id)
	e.mu.Unlock()
	e.syncWallets()
}

// Stats returns a snapshot of the subscription's run counters.
func (s *Subscription) Stats() domain.StatsSnapshot {
	return s.stats.Snapshot()
}

// Stop detaches the subscription from the feed and blocks until in-flight
// replica attempts complete. Safe to call more than once.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		s.engine.feed.Remove(s.tradeHandlerID)
		s.engine.feed.Remove(s.errHandlerID)
		s.engine.dropSub(s.id)
		s.wg.Wait()
		s.engine.logger.Info("subscription stopped", slog.Int("id", s.id))
	})
}

// handleTrade runs on the poller goroutine: count, classify, and hand
// accepted trades to a worker so a slow confirmation cannot stall the feed.
func (s *Subscription) handleTrade(t domain.SourceTrade) {
	s.stats.AddActivityReceived(1)
	if !s.classifier.Match(t) {
		return
	}
	s.stats.MarkMatched()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(t)
	}()
}

func (s *Subscription) handleError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
		return
	}
	s.engine.logger.Warn("feed error", slog.String("error", err.Error()))
}

// process runs the full replica pipeline for one matched trade and reports
// the outcome exactly once. Trades on the same asset are serialized so the
// held-shares reading a sell was clamped against still holds when its fill
// reaches the ledger.
func (s *Subscription) process(t domain.SourceTrade) {
	res := domain.CopyTradeResult{
		ID:         uuid.NewString(),
		Wallet:     t.Trader,
		TxHash:     t.TxHash,
		Asset:      t.Asset,
		Side:       t.Side,
		SourceTime: t.Timestamp,
		CreatedAt:  time.Now().UTC(),
	}

	mu := s.engine.assetLock(t.Asset)
	mu.Lock()
	res = s.replicate(t, res)
	mu.Unlock()

	s.finish(t, res)
}

// replicate sizes, executes, and records one trade. Caller holds the asset
// lock.
func (s *Subscription) replicate(t domain.SourceTrade, res domain.CopyTradeResult) domain.CopyTradeResult {
	decision := s.gate.Evaluate(t)
	if decision.Skip {
		s.stats.MarkSkipped()
		res.SkipReason = decision.Reason
		return res
	}

	s.stats.MarkDetected()
	res.Attempted = true
	res.CopySize = decision.Spec.Size
	res.CopyValue = decision.Spec.Size * t.Price

	out := s.exec.Execute(s.ctx, decision.Spec, t.Price)
	res.OrderID = out.OrderID

	if !out.Success {
		s.stats.MarkFailed()
		if out.Err != nil {
			res.ErrorMessage = out.Err.Error()
		}
		return res
	}

	s.stats.MarkExecuted()
	res.Success = true
	res.ExecutedSize = out.ExecutedSize
	res.ExecutedPrice = out.ExecutedPrice

	// Only the actual executed fill moves the ledger.
	var err error
	switch t.Side {
	case domain.SideBuy:
		err = s.engine.ledger.RecordBuy(t.Asset, out.ExecutedSize, out.ExecutedSize*out.ExecutedPrice)
	case domain.SideSell:
		_, err = s.engine.ledger.RecordSell(t.Asset, out.ExecutedSize, out.ExecutedPrice)
	}
	if err != nil {
		s.engine.logger.Error("ledger update failed",
			slog.String("asset", t.Asset),
			slog.String("order_id", out.OrderID),
			slog.String("error", err.Error()),
		)
	}
	return res
}

// finish journals, notifies, and invokes the attempt callback for one result.
func (s *Subscription) finish(t domain.SourceTrade, res domain.CopyTradeResult) {
	if s.engine.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.engine.journal.Insert(ctx, res); err != nil {
			s.engine.logger.Warn("journal insert failed",
				slog.String("tx_hash", res.TxHash),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
	if s.engine.notify != nil {
		s.engine.notify(res)
	}
	if s.opts.OnReplicaAttempt != nil {
		s.opts.OnReplicaAttempt(t, res)
	}
}
