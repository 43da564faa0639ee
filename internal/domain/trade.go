package domain

import (
	"context"
	"time"
)

// Side is the direction of a trade or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SourceTrade is one observed fill by a watched wallet, as reported by the
// activity feed. It is immutable once produced; TxHash is the dedup key
// within a wallet's event stream.
type SourceTrade struct {
	Trader     string    // wallet address that made the trade
	TxHash     string    // settlement transaction hash
	Side       Side
	Asset      string    // CLOB token id
	Size       float64   // shares
	Price      float64   // USD per share
	Timestamp  time.Time
	MarketSlug string
}

// ValueUSD returns the notional value of the trade.
func (t SourceTrade) ValueUSD() float64 {
	return t.Size * t.Price
}

// FetchOptions narrows an activity feed query.
type FetchOptions struct {
	Since time.Time // only trades strictly after this instant
	Limit int       // max events per wallet per query; 0 uses the feed default
}

// ActivityFetcher supplies per-wallet trade activity. A failing wallet query
// must not prevent other wallets from being fetched in the same tick; the
// caller is responsible for isolating failures.
type ActivityFetcher interface {
	FetchActivity(ctx context.Context, wallet string, opts FetchOptions) ([]SourceTrade, error)
}
