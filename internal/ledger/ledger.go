// Package ledger tracks the inventory acquired by this engine's own replica
// orders. It is the single source of truth for how many shares are held per
// asset and at what cost; the risk gate consults it when sizing sells.
//
// The ledger is deliberately decoupled from the source wallet's real
// position: only actually executed replica fills move it, which is what
// correctly bounds future sell sizing.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// epsilon absorbs float rounding when depleting lots.
const epsilon = 1e-9

// Lot is one FIFO-ordered slice of acquired inventory with its own cost
// basis. A lot whose size reaches zero is removed from its queue.
type Lot struct {
	Size float64
	Cost float64 // USD paid for Size shares
}

// holding is the per-asset lot queue plus a denormalized share total for
// O(1) held-shares queries. All mutation happens under mu, which serializes
// buys and sells on the same asset.
type holding struct {
	mu          sync.Mutex
	lots        []Lot
	totalShares float64
}

// SellResult summarizes one sell application.
type SellResult struct {
	SizeSold    float64
	Proceeds    float64
	CostRemoved float64
	RealizedPnL float64
}

// AssetValuation is a reporting view of one held asset.
type AssetValuation struct {
	Asset     string
	Shares    float64
	CostBasis float64
	Value     float64 // mark-to-market; zero when no price is available
	Priced    bool
}

// Ledger is a FIFO lot tracker keyed by asset. Safe for concurrent use;
// operations on different assets do not contend.
type Ledger struct {
	mu     sync.RWMutex
	assets map[string]*holding
	logger *slog.Logger
}

// New creates an empty Ledger.
func New(logger *slog.Logger) *Ledger {
	return &Ledger{
		assets: make(map[string]*holding),
		logger: logger.With(slog.String("component", "ledger")),
	}
}

func (l *Ledger) holdingFor(asset string) *holding {
	l.mu.RLock()
	h, ok := l.assets[asset]
	l.mu.RUnlock()
	if ok {
		return h
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok = l.assets[asset]; ok {
		return h
	}
	h = &holding{}
	l.assets[asset] = h
	return h
}

// RecordBuy appends a lot of size shares bought for cost USD to the asset's
// queue. Size and cost must come from the actual executed fill, never from
// the requested order spec.
func (l *Ledger) RecordBuy(asset string, size, cost float64) error {
	if size <= 0 {
		return fmt.Errorf("ledger: buy size must be positive, got %v: %w", size, domain.ErrInvalidOrder)
	}
	if cost < 0 {
		return fmt.Errorf("ledger: buy cost must not be negative, got %v: %w", cost, domain.ErrInvalidOrder)
	}

	h := l.holdingFor(asset)
	h.mu.Lock()
	h.lots = append(h.lots, Lot{Size: size, Cost: cost})
	h.totalShares += size
	total := h.totalShares
	h.mu.Unlock()

	l.logger.Debug("buy recorded",
		slog.String("asset", asset),
		slog.Float64("size", size),
		slog.Float64("cost", cost),
		slog.Float64("total_shares", total),
	)
	return nil
}

// RecordSell consumes size shares from the front of the asset's lot queue at
// the given execution price. Each consumed lot gives up cost in direct
// proportion to the shares removed. Selling more than is held returns
// ErrInsufficientShares without mutating the holding; the risk gate's
// held-shares clamp makes that structurally unreachable, so hitting it
// indicates a bug upstream.
func (l *Ledger) RecordSell(asset string, size, price float64) (SellResult, error) {
	if size <= 0 {
		return SellResult{}, fmt.Errorf("ledger: sell size must be positive, got %v: %w", size, domain.ErrInvalidOrder)
	}

	h := l.holdingFor(asset)
	h.mu.Lock()
	defer h.mu.Unlock()

	if size > h.totalShares+epsilon {
		return SellResult{}, fmt.Errorf("ledger: sell %v exceeds held %v for %s: %w",
			size, h.totalShares, asset, domain.ErrInsufficientShares)
	}

	res := SellResult{}
	remaining := size
	for remaining > epsilon && len(h.lots) > 0 {
		lot := &h.lots[0]
		take := lot.Size
		if take > remaining {
			take = remaining
		}

		costPortion := lot.Cost * (take / lot.Size)
		lot.Size -= take
		lot.Cost -= costPortion
		remaining -= take

		res.SizeSold += take
		res.Proceeds += take * price
		res.CostRemoved += costPortion

		if lot.Size <= epsilon {
			h.lots = h.lots[1:]
		}
	}

	h.totalShares -= res.SizeSold
	if h.totalShares < 0 {
		h.totalShares = 0
	}
	res.RealizedPnL = res.Proceeds - res.CostRemoved

	l.logger.Debug("sell recorded",
		slog.String("asset", asset),
		slog.Float64("size", res.SizeSold),
		slog.Float64("proceeds", res.Proceeds),
		slog.Float64("realized_pnl", res.RealizedPnL),
		slog.Float64("total_shares", h.totalShares),
	)
	return res, nil
}

// HeldShares returns the current share count for an asset in O(1).
func (l *Ledger) HeldShares(asset string) float64 {
	l.mu.RLock()
	h, ok := l.assets[asset]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalShares
}

// Lots returns a copy of the asset's lot queue, oldest first.
func (l *Ledger) Lots(asset string) []Lot {
	l.mu.RLock()
	h, ok := l.assets[asset]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Lot(nil), h.lots...)
}

// Assets returns every asset with a positive share balance.
func (l *Ledger) Assets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.assets))
	for asset, h := range l.assets {
		h.mu.Lock()
		held := h.totalShares
		h.mu.Unlock()
		if held > epsilon {
			out = append(out, asset)
		}
	}
	return out
}

// Valuation marks every held asset to market using prices. When the source
// exposes a position-level aggregate, held shares are valued proportionally
// against it; otherwise shares are multiplied by the current price. Assets
// without any quote are reported unpriced. Used only for reporting.
func (l *Ledger) Valuation(ctx context.Context, prices domain.PriceSource) []AssetValuation {
	var out []AssetValuation
	for _, asset := range l.Assets() {
		held := l.HeldShares(asset)
		var basis float64
		for _, lot := range l.Lots(asset) {
			basis += lot.Cost
		}

		v := AssetValuation{Asset: asset, Shares: held, CostBasis: basis}

		if agg, err := prices.PositionAggregate(ctx, asset); err == nil && agg.Size > epsilon {
			v.Value = (held / agg.Size) * agg.CurrentValue
			v.Priced = true
		} else if price, err := prices.CurrentPrice(ctx, asset); err == nil {
			v.Value = held * price
			v.Priced = true
		}

		out = append(out, v)
	}
	return out
}
