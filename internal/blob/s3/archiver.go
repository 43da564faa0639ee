package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// CopyTradeJournal is the slice of the journal store the archiver needs:
// time-ranged reads for export and deletion for the post-upload purge.
type CopyTradeJournal interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.CopyTradeResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver: old journal rows are serialized to
// JSONL, uploaded to S3, and only then purged from the primary store. An
// upload failure leaves the journal untouched so the next pass retries the
// same rows.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	journal CopyTradeJournal
	logger  *slog.Logger
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, journal CopyTradeJournal, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		journal: journal,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveCopyTrades exports all journal rows created before the cutoff to
// archive/copy_trades/YYYY-MM.jsonl, deletes them from the journal, and
// returns the number archived.
func (a *ArchiveImpl) ArchiveCopyTrades(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.journal.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive copy trades query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive copy trades marshal: %w", err)
	}

	path := archivePath("copy_trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive copy trades upload: %w", err)
	}

	deleted, err := a.journal.DeleteBefore(ctx, before)
	if err != nil {
		// The upload succeeded; rows will be re-archived next pass, which the
		// month-keyed path absorbs by overwriting.
		return int64(len(rows)), fmt.Errorf("s3blob: purge archived copy trades: %w", err)
	}

	a.logger.Info("copy trades archived",
		slog.String("path", path),
		slog.Int("archived", len(rows)),
		slog.Int64("purged", deleted),
	)
	return int64(len(rows)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/copy_trades/2025-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
