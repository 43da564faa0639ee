package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/risk"
)

// SubscribeOptions configures one copy-trading subscription.
type SubscribeOptions struct {
	// TargetAddresses are the source wallets to mirror, as 0x hex addresses.
	TargetAddresses []string

	// SizeScale multiplies the source trade size into the replica size.
	SizeScale float64
	// MaxSizePerTrade caps replica size in shares. Zero disables the cap.
	MaxSizePerTrade float64
	// MaxSlippage widens the worst acceptable price away from the source
	// price, e.g. 0.05 for 5%.
	MaxSlippage float64
	// MinTradeSize drops source trades below this share count before any
	// replica sizing happens. Zero disables the filter.
	MinTradeSize float64
	// MinOrderValueUSD skips buys whose replica value would fall below the
	// venue minimum. Sells are exempt.
	MinOrderValueUSD float64
	// MaxPricePerShare skips buys priced above this ceiling. Sells are exempt.
	MaxPricePerShare float64

	// OrderKind selects the replica order type. Defaults to fill-and-kill.
	OrderKind domain.OrderKind
	// DryRun simulates fills without submitting to the gateway.
	DryRun bool

	// HeldShares overrides the held-inventory reading sells are clamped
	// against. Defaults to the shared position ledger when nil.
	HeldShares risk.HeldShares

	// SmartMoneyOnly additionally requires IsSmartMoney to accept the source
	// wallet before a trade is considered.
	SmartMoneyOnly bool
	// IsSmartMoney classifies a source wallet. Required when SmartMoneyOnly
	// is set.
	IsSmartMoney func(wallet string) bool

	// OnReplicaAttempt is invoked exactly once per detected or skipped trade
	// with the source trade and the final outcome. Optional.
	OnReplicaAttempt func(domain.SourceTrade, domain.CopyTradeResult)
	// OnError receives activity feed errors for this subscription. Optional.
	OnError func(error)
}

func (o *SubscribeOptions) validate() error {
	if len(o.TargetAddresses) == 0 {
		return fmt.Errorf("engine: at least one target address is required")
	}
	for _, addr := range o.TargetAddresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("engine: invalid target address %q", addr)
		}
	}
	if o.SizeScale <= 0 {
		return fmt.Errorf("engine: size scale must be positive, got %v", o.SizeScale)
	}
	if o.MaxSlippage < 0 || o.MaxSlippage >= 1 {
		return fmt.Errorf("engine: max slippage must be in [0,1), got %v", o.MaxSlippage)
	}
	if o.SmartMoneyOnly && o.IsSmartMoney == nil {
		return fmt.Errorf("engine: smart money filter enabled without a classifier func")
	}
	if o.OrderKind == "" {
		o.OrderKind = domain.OrderKindFAK
	}
	return nil
}
