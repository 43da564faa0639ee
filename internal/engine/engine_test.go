package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/executor"
	"github.com/alanyoungcy/polycopy/internal/feed"
	"github.com/alanyoungcy/polycopy/internal/ledger"
)

// fakeFeed stands in for the poller: handlers are registered normally and
// tests push trades through emit.
type fakeFeed struct {
	mu      sync.Mutex
	nextID  int
	trades  map[int]feed.TradeHandler
	errs    map[int]feed.ErrorHandler
	wallets []string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		trades: make(map[int]feed.TradeHandler),
		errs:   make(map[int]feed.ErrorHandler),
	}
}

func (f *fakeFeed) OnTrade(h feed.TradeHandler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.trades[f.nextID] = h
	return f.nextID
}

func (f *fakeFeed) OnError(h feed.ErrorHandler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.errs[f.nextID] = h
	return f.nextID
}

func (f *fakeFeed) Remove(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.trades, id)
	delete(f.errs, id)
}

func (f *fakeFeed) SetWallets(ws []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets = append([]string(nil), ws...)
}

func (f *fakeFeed) currentWallets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.wallets...)
}

func (f *fakeFeed) emit(t domain.SourceTrade) {
	f.mu.Lock()
	handlers := make([]feed.TradeHandler, 0, len(f.trades))
	for _, h := range f.trades {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(t)
	}
}

func (f *fakeFeed) emitError(err error) {
	f.mu.Lock()
	handlers := make([]feed.ErrorHandler, 0, len(f.errs))
	for _, h := range f.errs {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// fakeGateway fills every order synchronously at the given price, after an
// optional delay standing in for venue latency.
type fakeGateway struct {
	mu        sync.Mutex
	fillPrice float64
	fillDelay time.Duration
	submitErr error
	submitted []domain.ReplicaOrderSpec
}

func (g *fakeGateway) SubmitOrder(_ context.Context, spec domain.ReplicaOrderSpec) (domain.SubmitResult, error) {
	if g.fillDelay > 0 {
		time.Sleep(g.fillDelay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return domain.SubmitResult{}, g.submitErr
	}
	g.submitted = append(g.submitted, spec)
	return domain.SubmitResult{
		Success:       true,
		OrderID:       "ord-1",
		SyncFillSize:  spec.Size,
		SyncFillPrice: g.fillPrice,
	}, nil
}

func (g *fakeGateway) OrderStatus(_ context.Context, _ string) (domain.OrderState, error) {
	return domain.OrderState{}, errors.New("not used")
}

func (g *fakeGateway) CancelOrder(_ context.Context, _ string) error { return nil }

func (g *fakeGateway) submittedSpecs() []domain.ReplicaOrderSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.ReplicaOrderSpec(nil), g.submitted...)
}

type fixture struct {
	feed    *fakeFeed
	gateway *fakeGateway
	ledger  *ledger.Ledger
	engine  *Engine
	results chan domain.CopyTradeResult
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		feed:    newFakeFeed(),
		gateway: &fakeGateway{fillPrice: 0.40},
		ledger:  ledger.New(logger),
		results: make(chan domain.CopyTradeResult, 16),
	}
	f.engine = New(Deps{
		Feed:    f.feed,
		Gateway: f.gateway,
		Ledger:  f.ledger,
		Executor: executor.Config{
			PollInterval: time.Millisecond,
			FAKTimeout:   20 * time.Millisecond,
			FOKTimeout:   20 * time.Millisecond,
		},
		Logger: logger,
	})
	return f
}

func (f *fixture) subscribe(t *testing.T, opts SubscribeOptions) *Subscription {
	t.Helper()
	if opts.OnReplicaAttempt == nil {
		opts.OnReplicaAttempt = func(_ domain.SourceTrade, res domain.CopyTradeResult) { f.results <- res }
	}
	sub, err := f.engine.Subscribe(context.Background(), opts)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return sub
}

func (f *fixture) waitResult(t *testing.T) domain.CopyTradeResult {
	t.Helper()
	select {
	case res := <-f.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replica attempt")
		return domain.CopyTradeResult{}
	}
}

func sourceBuy(trader string, size, price float64) domain.SourceTrade {
	return domain.SourceTrade{
		Trader:    trader,
		TxHash:    "0x" + trader[2:10] + "feed",
		Side:      domain.SideBuy,
		Asset:     "tok-1",
		Size:      size,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}
}

func TestSubscribeValidation(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name string
		opts SubscribeOptions
	}{
		{"no targets", SubscribeOptions{SizeScale: 1}},
		{"bad address", SubscribeOptions{TargetAddresses: []string{"nope"}, SizeScale: 1}},
		{"zero scale", SubscribeOptions{TargetAddresses: []string{walletA}}},
		{"smart only without classifier", SubscribeOptions{
			TargetAddresses: []string{walletA}, SizeScale: 1, SmartMoneyOnly: true,
		}},
	}
	for _, tc := range cases {
		if _, err := f.engine.Subscribe(context.Background(), tc.opts); err == nil {
			t.Errorf("%s: Subscribe accepted invalid options", tc.name)
		}
	}
}

func TestExecutedBuyCreatesLedgerLot(t *testing.T) {
	f := newFixture()
	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       0.5,
		MaxSlippage:     0.05,
	})
	defer sub.Stop()

	f.feed.emit(sourceBuy(walletA, 100, 0.40))
	res := f.waitResult(t)

	if !res.Success || !res.Attempted {
		t.Fatalf("result = %+v, want attempted success", res)
	}
	if res.ExecutedSize != 50 || res.ExecutedPrice != 0.40 {
		t.Errorf("fill = %v @ %v, want 50 @ 0.40", res.ExecutedSize, res.ExecutedPrice)
	}

	lots := f.ledger.Lots("tok-1")
	if len(lots) != 1 || lots[0].Size != 50 || lots[0].Cost != 20 {
		t.Errorf("ledger lots = %+v, want one lot {50, 20}", lots)
	}

	stats := sub.Stats()
	if stats.ActivityReceived != 1 || stats.ActivityMatched != 1 ||
		stats.TradesDetected != 1 || stats.TradesExecuted != 1 {
		t.Errorf("stats = %+v, want 1/1/1/1 received/matched/detected/executed", stats)
	}
}

func TestUnmatchedTradeIsInvisible(t *testing.T) {
	f := newFixture()
	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       1,
	})
	defer sub.Stop()

	f.feed.emit(sourceBuy(walletB, 100, 0.40))

	select {
	case res := <-f.results:
		t.Fatalf("unmatched trade produced a result: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	stats := sub.Stats()
	if stats.ActivityReceived != 1 || stats.ActivityMatched != 0 {
		t.Errorf("stats = %+v, want received=1 matched=0", stats)
	}
	if len(f.gateway.submittedSpecs()) != 0 {
		t.Error("gateway touched for unmatched trade")
	}
}

func TestZeroHeldSellIsSkipped(t *testing.T) {
	f := newFixture()
	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       1,
	})
	defer sub.Stop()

	sell := sourceBuy(walletA, 40, 0.60)
	sell.Side = domain.SideSell
	f.feed.emit(sell)

	res := f.waitResult(t)
	if res.Attempted || res.Success {
		t.Fatalf("result = %+v, want unattempted skip", res)
	}
	if res.SkipReason == "" {
		t.Error("skip reason missing")
	}
	if len(f.gateway.submittedSpecs()) != 0 {
		t.Error("gateway touched for skipped trade")
	}
	if stats := sub.Stats(); stats.TradesSkipped != 1 || stats.TradesDetected != 0 {
		t.Errorf("stats = %+v, want skipped=1 detected=0", stats)
	}
}

func TestSameAssetSellsNeverOversell(t *testing.T) {
	f := newFixture()
	f.gateway.fillPrice = 0.60
	f.gateway.fillDelay = 50 * time.Millisecond
	if err := f.ledger.RecordBuy("tok-1", 50, 20); err != nil {
		t.Fatalf("RecordBuy: %v", err)
	}

	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       1,
	})
	defer sub.Stop()

	// A source wallet exiting a position across two transactions in one tick.
	sellA := sourceBuy(walletA, 50, 0.60)
	sellA.Side = domain.SideSell
	sellA.TxHash = "0xexit-1"
	sellB := sourceBuy(walletA, 50, 0.60)
	sellB.Side = domain.SideSell
	sellB.TxHash = "0xexit-2"
	f.feed.emit(sellA)
	f.feed.emit(sellB)

	results := []domain.CopyTradeResult{f.waitResult(t), f.waitResult(t)}

	var sold float64
	for _, spec := range f.gateway.submittedSpecs() {
		if spec.Side == domain.SideSell {
			sold += spec.Size
		}
	}
	if sold > 50 {
		t.Errorf("submitted sells total %v shares with only 50 held", sold)
	}
	if held := f.ledger.HeldShares("tok-1"); held != 0 {
		t.Errorf("held after exit = %v, want 0", held)
	}

	var executed, skipped int
	for _, res := range results {
		switch {
		case res.Success:
			executed++
		case res.SkipReason != "":
			skipped++
		}
	}
	if executed != 1 || skipped != 1 {
		t.Errorf("results = %+v, want one executed sell and one skip", results)
	}
	if stats := sub.Stats(); stats.TradesExecuted != 1 || stats.TradesSkipped != 1 {
		t.Errorf("stats = %+v, want executed=1 skipped=1", stats)
	}
}

func TestHeldSharesOverride(t *testing.T) {
	f := newFixture()
	f.gateway.fillPrice = 0.60
	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       1,
		HeldShares:      func(string) float64 { return 30 },
	})
	defer sub.Stop()

	sell := sourceBuy(walletA, 80, 0.60)
	sell.Side = domain.SideSell
	f.feed.emit(sell)

	res := f.waitResult(t)
	if !res.Attempted {
		t.Fatalf("result = %+v, want attempted sell", res)
	}
	specs := f.gateway.submittedSpecs()
	if len(specs) != 1 || specs[0].Size != 30 {
		t.Errorf("submitted = %+v, want one sell clamped to the 30-share override", specs)
	}
}

func TestCallbackReceivesSourceTrade(t *testing.T) {
	f := newFixture()
	type attempt struct {
		trade  domain.SourceTrade
		result domain.CopyTradeResult
	}
	attempts := make(chan attempt, 1)
	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       1,
		OnReplicaAttempt: func(tr domain.SourceTrade, res domain.CopyTradeResult) {
			attempts <- attempt{trade: tr, result: res}
		},
	})
	defer sub.Stop()

	src := sourceBuy(walletA, 10, 0.40)
	f.feed.emit(src)

	select {
	case got := <-attempts:
		if got.trade.TxHash != src.TxHash || got.trade.Size != src.Size {
			t.Errorf("callback trade = %+v, want %+v", got.trade, src)
		}
		if got.result.TxHash != src.TxHash {
			t.Errorf("callback result tx = %q, want %q", got.result.TxHash, src.TxHash)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replica attempt callback never invoked")
	}
}

func TestFailedSubmissionLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture()
	f.gateway.submitErr = errors.New("clob unreachable")
	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       1,
	})
	defer sub.Stop()

	f.feed.emit(sourceBuy(walletA, 10, 0.40))
	res := f.waitResult(t)

	if res.Success || !res.Attempted {
		t.Fatalf("result = %+v, want attempted failure", res)
	}
	if res.ErrorMessage == "" {
		t.Error("error message missing on failed attempt")
	}
	if held := f.ledger.HeldShares("tok-1"); held != 0 {
		t.Errorf("ledger credited %v shares on failed execution", held)
	}
	if stats := sub.Stats(); stats.TradesFailed != 1 || stats.TradesExecuted != 0 {
		t.Errorf("stats = %+v, want failed=1 executed=0", stats)
	}
}

func TestDryRunSkipsGateway(t *testing.T) {
	f := newFixture()
	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       1,
		DryRun:          true,
	})
	defer sub.Stop()

	f.feed.emit(sourceBuy(walletA, 10, 0.40))
	res := f.waitResult(t)

	if !res.Success {
		t.Fatalf("dry run result = %+v, want success", res)
	}
	if len(f.gateway.submittedSpecs()) != 0 {
		t.Error("gateway touched in dry run")
	}
	if held := f.ledger.HeldShares("tok-1"); held != 10 {
		t.Errorf("dry run held = %v, want 10", held)
	}
}

func TestWalletUnionFollowsSubscriptions(t *testing.T) {
	f := newFixture()

	subA := f.subscribe(t, SubscribeOptions{TargetAddresses: []string{walletA}, SizeScale: 1})
	subB := f.subscribe(t, SubscribeOptions{TargetAddresses: []string{walletB}, SizeScale: 1})

	if got := f.feed.currentWallets(); len(got) != 2 {
		t.Fatalf("watch set = %v, want both wallets", got)
	}

	subA.Stop()
	if got := f.feed.currentWallets(); len(got) != 1 {
		t.Fatalf("watch set after stop = %v, want one wallet", got)
	}

	subB.Stop()
	if got := f.feed.currentWallets(); len(got) != 0 {
		t.Fatalf("watch set after all stops = %v, want empty", got)
	}
}

func TestFeedErrorsReachCallback(t *testing.T) {
	f := newFixture()
	errs := make(chan error, 1)
	sub := f.subscribe(t, SubscribeOptions{
		TargetAddresses: []string{walletA},
		SizeScale:       1,
		OnError:         func(err error) { errs <- err },
	})
	defer sub.Stop()

	f.feed.emitError(errors.New("fetch failed"))
	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("nil error delivered")
		}
	case <-time.After(time.Second):
		t.Fatal("feed error never delivered")
	}
}

func TestStopDetachesFromFeed(t *testing.T) {
	f := newFixture()
	sub := f.subscribe(t, SubscribeOptions{TargetAddresses: []string{walletA}, SizeScale: 1})

	f.feed.emit(sourceBuy(walletA, 10, 0.40))
	f.waitResult(t)

	sub.Stop()
	sub.Stop() // idempotent

	f.feed.emit(sourceBuy(walletA, 20, 0.40))
	select {
	case res := <-f.results:
		t.Fatalf("stopped subscription produced a result: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	// Counters stay readable after Stop.
	if stats := sub.Stats(); stats.TradesExecuted != 1 {
		t.Errorf("stats after stop = %+v, want executed=1", stats)
	}
}
