package domain

import (
	"context"
	"time"
)

// CopyTradeStore persists the journal of copy-trade outcomes. Insert is
// idempotent on (wallet, tx_hash, side, asset) so reprocessed events never
// produce duplicate rows.
type CopyTradeStore interface {
	Insert(ctx context.Context, result CopyTradeResult) error
	ListRecent(ctx context.Context, limit int) ([]CopyTradeResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]CopyTradeResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
