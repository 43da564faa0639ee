package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

func newTestLedger() *Ledger {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func totalLotSize(lots []Lot) float64 {
	var sum float64
	for _, l := range lots {
		sum += l.Size
	}
	return sum
}

func TestFIFOSellConsumesOldestLotsFirst(t *testing.T) {
	l := newTestLedger()

	// Two buy lots, then a sell that spans both.
	if err := l.RecordBuy("tok", 10, 5.00); err != nil {
		t.Fatalf("RecordBuy lot1: %v", err)
	}
	if err := l.RecordBuy("tok", 10, 6.00); err != nil {
		t.Fatalf("RecordBuy lot2: %v", err)
	}

	res, err := l.RecordSell("tok", 15, 0.70)
	if err != nil {
		t.Fatalf("RecordSell: %v", err)
	}

	// All of lot1 (proceeds $7.00, cost $5.00) plus 5 shares of lot2
	// (proceeds $3.50, cost $3.00).
	if !floatEquals(res.Proceeds, 10.50, 1e-9) {
		t.Errorf("proceeds = %v, want 10.50", res.Proceeds)
	}
	if !floatEquals(res.CostRemoved, 8.00, 1e-9) {
		t.Errorf("cost removed = %v, want 8.00", res.CostRemoved)
	}
	if !floatEquals(res.RealizedPnL, 2.50, 1e-9) {
		t.Errorf("realized pnl = %v, want 2.50", res.RealizedPnL)
	}

	lots := l.Lots("tok")
	if len(lots) != 1 {
		t.Fatalf("remaining lots = %d, want 1", len(lots))
	}
	if !floatEquals(lots[0].Size, 5, 1e-9) || !floatEquals(lots[0].Cost, 3.00, 1e-9) {
		t.Errorf("remaining lot = {%v, %v}, want {5, 3.00}", lots[0].Size, lots[0].Cost)
	}
	if !floatEquals(l.HeldShares("tok"), 5, 1e-9) {
		t.Errorf("held shares = %v, want 5", l.HeldShares("tok"))
	}
}

func TestTotalSharesMatchesLotSum(t *testing.T) {
	l := newTestLedger()

	_ = l.RecordBuy("tok", 12, 4.80)
	_ = l.RecordBuy("tok", 3, 1.50)
	if _, err := l.RecordSell("tok", 7, 0.55); err != nil {
		t.Fatalf("RecordSell: %v", err)
	}
	_ = l.RecordBuy("tok", 2, 1.10)

	held := l.HeldShares("tok")
	if held < 0 {
		t.Fatalf("held shares went negative: %v", held)
	}
	if sum := totalLotSize(l.Lots("tok")); !floatEquals(held, sum, 1e-9) {
		t.Errorf("held shares %v != lot sum %v", held, sum)
	}
}

func TestSellBeyondHoldingIsRejected(t *testing.T) {
	l := newTestLedger()
	_ = l.RecordBuy("tok", 5, 2.50)

	_, err := l.RecordSell("tok", 6, 0.50)
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}

	// Rejection must not mutate the holding.
	if !floatEquals(l.HeldShares("tok"), 5, 1e-9) {
		t.Errorf("held shares = %v after rejected sell, want 5", l.HeldShares("tok"))
	}
	if len(l.Lots("tok")) != 1 {
		t.Errorf("lot count changed by rejected sell")
	}
}

func TestSellUnknownAssetIsRejected(t *testing.T) {
	l := newTestLedger()
	if _, err := l.RecordSell("ghost", 1, 0.50); !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}
}

func TestBuyValidation(t *testing.T) {
	l := newTestLedger()
	if err := l.RecordBuy("tok", 0, 1); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("zero-size buy err = %v, want ErrInvalidOrder", err)
	}
	if err := l.RecordBuy("tok", -1, 1); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("negative-size buy err = %v, want ErrInvalidOrder", err)
	}
	if err := l.RecordBuy("tok", 1, -0.5); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("negative-cost buy err = %v, want ErrInvalidOrder", err)
	}
}

func TestFullExitDropsAsset(t *testing.T) {
	l := newTestLedger()
	_ = l.RecordBuy("tok", 4, 2.00)

	res, err := l.RecordSell("tok", 4, 0.60)
	if err != nil {
		t.Fatalf("RecordSell: %v", err)
	}
	if !floatEquals(res.RealizedPnL, 4*0.60-2.00, 1e-9) {
		t.Errorf("realized pnl = %v, want 0.40", res.RealizedPnL)
	}
	if held := l.HeldShares("tok"); !floatEquals(held, 0, 1e-9) {
		t.Errorf("held shares after full exit = %v, want 0", held)
	}
	if len(l.Lots("tok")) != 0 {
		t.Errorf("lots remain after full exit")
	}
	for _, a := range l.Assets() {
		if a == "tok" {
			t.Errorf("fully exited asset still listed")
		}
	}
}

func TestConcurrentSameAssetUpdates(t *testing.T) {
	l := newTestLedger()

	const workers = 8
	const rounds = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_ = l.RecordBuy("tok", 2, 1.00)
				if _, err := l.RecordSell("tok", 1, 0.50); err != nil {
					t.Errorf("concurrent sell: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	want := float64(workers * rounds) // net +1 share per round
	held := l.HeldShares("tok")
	if !floatEquals(held, want, 1e-6) {
		t.Errorf("held shares = %v, want %v", held, want)
	}
	if sum := totalLotSize(l.Lots("tok")); !floatEquals(held, sum, 1e-6) {
		t.Errorf("held shares %v != lot sum %v", held, sum)
	}
}

// stubPrices implements domain.PriceSource for valuation tests.
type stubPrices struct {
	prices map[string]float64
	aggs   map[string]domain.PositionAggregate
}

func (s *stubPrices) CurrentPrice(_ context.Context, asset string) (float64, error) {
	p, ok := s.prices[asset]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubPrices) PositionAggregate(_ context.Context, asset string) (domain.PositionAggregate, error) {
	a, ok := s.aggs[asset]
	if !ok {
		return domain.PositionAggregate{}, domain.ErrNotFound
	}
	return a, nil
}

func TestValuation(t *testing.T) {
	l := newTestLedger()
	_ = l.RecordBuy("priced", 10, 4.00)
	_ = l.RecordBuy("agg", 5, 2.00)
	_ = l.RecordBuy("dark", 3, 1.00)

	src := &stubPrices{
		prices: map[string]float64{"priced": 0.55},
		aggs:   map[string]domain.PositionAggregate{"agg": {Size: 10, CurrentValue: 7.00}},
	}

	byAsset := make(map[string]AssetValuation)
	for _, v := range l.Valuation(context.Background(), src) {
		byAsset[v.Asset] = v
	}

	if v := byAsset["priced"]; !v.Priced || !floatEquals(v.Value, 5.50, 1e-9) {
		t.Errorf("priced asset value = %v (priced=%v), want 5.50", v.Value, v.Priced)
	}
	// Held 5 of an aggregate position of 10 worth $7.00 in total.
	if v := byAsset["agg"]; !v.Priced || !floatEquals(v.Value, 3.50, 1e-9) {
		t.Errorf("aggregate asset value = %v (priced=%v), want 3.50", v.Value, v.Priced)
	}
	if v := byAsset["dark"]; v.Priced {
		t.Errorf("asset without quote reported as priced")
	}
}
