package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// CopyTradeStore implements domain.CopyTradeStore using PostgreSQL. It is
// the durable journal of every replica attempt: skips, fills, and failures.
type CopyTradeStore struct {
	pool *pgxpool.Pool
}

// NewCopyTradeStore creates a CopyTradeStore backed by the given pool.
func NewCopyTradeStore(pool *pgxpool.Pool) *CopyTradeStore {
	return &CopyTradeStore{pool: pool}
}

const copyTradeSelectCols = `id, wallet, tx_hash, asset, side, attempted, success,
	order_id, copy_size, copy_value, executed_size, executed_price,
	skip_reason, error_message, source_timestamp, created_at`

func scanCopyTradeRows(rows pgx.Rows) ([]domain.CopyTradeResult, error) {
	var out []domain.CopyTradeResult
	for rows.Next() {
		var r domain.CopyTradeResult
		if err := rows.Scan(
			&r.ID, &r.Wallet, &r.TxHash, &r.Asset, &r.Side,
			&r.Attempted, &r.Success, &r.OrderID,
			&r.CopySize, &r.CopyValue, &r.ExecutedSize, &r.ExecutedPrice,
			&r.SkipReason, &r.ErrorMessage, &r.SourceTime, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert records one replica attempt. Re-inserting the same source trade
// (wallet, tx_hash, side, asset) is a no-op via ON CONFLICT DO NOTHING, so
// replays after a restart cannot duplicate journal rows.
func (s *CopyTradeStore) Insert(ctx context.Context, r domain.CopyTradeResult) error {
	const query = `
		INSERT INTO copy_trades (
			id, wallet, tx_hash, asset, side, attempted, success,
			order_id, copy_size, copy_value, executed_size, executed_price,
			skip_reason, error_message, source_timestamp, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		) ON CONFLICT (wallet, tx_hash, side, asset) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query,
		r.ID, r.Wallet, r.TxHash, r.Asset, r.Side, r.Attempted, r.Success,
		r.OrderID, r.CopySize, r.CopyValue, r.ExecutedSize, r.ExecutedPrice,
		r.SkipReason, r.ErrorMessage, r.SourceTime, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert copy trade %s: %w", r.TxHash, err)
	}
	return nil
}

// ListRecent returns the most recent attempts, newest first.
func (s *CopyTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.CopyTradeResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + copyTradeSelectCols + ` FROM copy_trades ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent copy trades: %w", err)
	}
	defer rows.Close()

	out, err := scanCopyTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent copy trades: %w", err)
	}
	return out, nil
}

// ListBefore returns all attempts created strictly before the given time,
// oldest first (for archiving).
func (s *CopyTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CopyTradeResult, error) {
	query := `SELECT ` + copyTradeSelectCols + ` FROM copy_trades WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy trades before: %w", err)
	}
	defer rows.Close()
	return scanCopyTradeRows(rows)
}

// DeleteBefore deletes all attempts created before the given time and
// returns the number deleted.
func (s *CopyTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM copy_trades WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete copy trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.CopyTradeStore = (*CopyTradeStore)(nil)
