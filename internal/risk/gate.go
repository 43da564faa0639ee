// Package risk converts accepted source trades into concrete replica order
// specs, or rejects them with a skip reason. Decisions are deterministic:
// the same trade, options, and held-shares reading always produce the same
// outcome.
package risk

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// HeldShares reports the currently held share count for an asset. Injected
// so the gate can be tested with a stub instead of the full ledger.
type HeldShares func(asset string) float64

// Options holds the sizing and price limits for one subscription.
type Options struct {
	SizeScale        float64          // replica size = source size * SizeScale
	MaxSizePerTrade  float64          // share ceiling per replica; 0 disables
	MaxSlippage      float64          // fraction, e.g. 0.05 for 5%
	MinOrderValueUSD float64          // BUY-only floor on copySize*price; 0 disables
	MaxPricePerShare float64          // BUY-only price ceiling; 0 disables
	OrderKind        domain.OrderKind
}

// Decision is the outcome of evaluating one source trade. When Skip is set,
// Reason explains why and Spec is zero.
type Decision struct {
	Spec   domain.ReplicaOrderSpec
	Skip   bool
	Reason string
}

// Gate applies the sizing and price rules.
type Gate struct {
	opts   Options
	held   HeldShares
	logger *slog.Logger
}

// New creates a Gate. held must not be nil.
func New(opts Options, held HeldShares, logger *slog.Logger) *Gate {
	return &Gate{
		opts:   opts,
		held:   held,
		logger: logger.With(slog.String("component", "risk_gate")),
	}
}

// Evaluate sizes a replica for the given source trade or skips it.
//
// Sells are clamped to the shares actually held so the engine can never be
// instructed to sell inventory it does not own, regardless of how much the
// source wallet sold. Sells have no price ceiling and no minimum value: a
// cheap exit is always acceptable and dust positions must remain exitable.
func (g *Gate) Evaluate(t domain.SourceTrade) Decision {
	copySize := t.Size * g.opts.SizeScale
	if g.opts.MaxSizePerTrade > 0 && copySize > g.opts.MaxSizePerTrade {
		copySize = g.opts.MaxSizePerTrade
	}

	if copySize <= 0 {
		return g.skip(t, "scaled size is zero")
	}

	switch t.Side {
	case domain.SideSell:
		held := g.held(t.Asset)
		if held <= 0 {
			return g.skip(t, "no held shares to sell")
		}
		if copySize > held {
			copySize = held
		}

	case domain.SideBuy:
		if g.opts.MaxPricePerShare > 0 && t.Price > g.opts.MaxPricePerShare {
			return g.skip(t, fmt.Sprintf("price %.4f above limit %.4f", t.Price, g.opts.MaxPricePerShare))
		}
		if g.opts.MinOrderValueUSD > 0 && copySize*t.Price < g.opts.MinOrderValueUSD {
			return g.skip(t, fmt.Sprintf("order value $%.2f below minimum $%.2f", copySize*t.Price, g.opts.MinOrderValueUSD))
		}

	default:
		return g.skip(t, "unknown trade side "+string(t.Side))
	}

	worst := t.Price * (1 + g.opts.MaxSlippage)
	if t.Side == domain.SideSell {
		worst = t.Price * (1 - g.opts.MaxSlippage)
	}

	return Decision{
		Spec: domain.ReplicaOrderSpec{
			Asset:      t.Asset,
			Side:       t.Side,
			Size:       copySize,
			WorstPrice: worst,
			Kind:       g.opts.OrderKind,
		},
	}
}

func (g *Gate) skip(t domain.SourceTrade, reason string) Decision {
	g.logger.Debug("trade skipped",
		slog.String("tx_hash", t.TxHash),
		slog.String("asset", t.Asset),
		slog.String("side", string(t.Side)),
		slog.String("reason", reason),
	)
	return Decision{Skip: true, Reason: reason}
}
