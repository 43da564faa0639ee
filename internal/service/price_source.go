// Package service composes platform clients and caches into the read-side
// views the engine reports from.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// midpointReader is the slice of the CLOB client the price source needs.
type midpointReader interface {
	Midpoint(ctx context.Context, assetID string) (float64, error)
}

// positionReader is the slice of the Data API client the price source needs.
type positionReader interface {
	Position(ctx context.Context, wallet, assetID string) (domain.PositionAggregate, error)
}

// PriceSource implements domain.PriceSource for portfolio valuation. Reads
// go to the price cache first (kept warm by the market stream); on a miss
// the CLOB midpoint is fetched and written back. Position aggregates come
// from the Data API for the executing wallet.
type PriceSource struct {
	cache     domain.PriceCache // optional
	clob      midpointReader
	positions positionReader // optional
	wallet    string
	logger    *slog.Logger
}

// NewPriceSource creates a PriceSource. cache and positions may be nil, in
// which case valuation always uses live midpoints and skips aggregates.
func NewPriceSource(cache domain.PriceCache, clob midpointReader, positions positionReader, wallet string, logger *slog.Logger) *PriceSource {
	return &PriceSource{
		cache:     cache,
		clob:      clob,
		positions: positions,
		wallet:    wallet,
		logger:    logger.With(slog.String("component", "price_source")),
	}
}

// CurrentPrice returns the latest known price for an asset: cached if warm,
// otherwise the live CLOB midpoint. Returns ErrNotFound when neither side
// has a quote.
func (p *PriceSource) CurrentPrice(ctx context.Context, assetID string) (float64, error) {
	if p.cache != nil {
		price, _, err := p.cache.GetPrice(ctx, assetID)
		if err == nil {
			return price, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("price cache read failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
	}

	price, err := p.clob.Midpoint(ctx, assetID)
	if err != nil {
		return 0, fmt.Errorf("service: current price for %s: %w", assetID, err)
	}

	if p.cache != nil {
		if err := p.cache.SetPrice(ctx, assetID, price, time.Now().UTC()); err != nil {
			p.logger.Warn("price cache write failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
	}
	return price, nil
}

// PositionAggregate returns the executing wallet's venue-reported aggregate
// for an asset, used for proportional valuation of held shares.
func (p *PriceSource) PositionAggregate(ctx context.Context, assetID string) (domain.PositionAggregate, error) {
	if p.positions == nil || p.wallet == "" {
		return domain.PositionAggregate{}, domain.ErrNotFound
	}
	return p.positions.Position(ctx, p.wallet, assetID)
}

// Compile-time interface check.
var _ domain.PriceSource = (*PriceSource)(nil)
