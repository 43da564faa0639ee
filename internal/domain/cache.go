package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest observed price per asset. Used only for
// reporting valuation, never for sizing decisions.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// PositionAggregate is a position-level size/value pair from the price
// source, used to value held shares proportionally when available.
type PositionAggregate struct {
	Size         float64
	CurrentValue float64
}

// PriceSource resolves current market prices for reporting. Both methods
// return ErrNotFound when no quote is available.
type PriceSource interface {
	CurrentPrice(ctx context.Context, assetID string) (float64, error)
	PositionAggregate(ctx context.Context, assetID string) (PositionAggregate, error)
}
