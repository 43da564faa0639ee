package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

type fakeWriter struct {
	puts   map[string][]byte
	putErr error
}

func (w *fakeWriter) Put(_ context.Context, path string, r io.Reader, _ string) error {
	if w.putErr != nil {
		return w.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = data
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, r io.Reader, _ int64) error {
	return w.Put(context.Background(), path, r, "application/x-ndjson")
}

type fakeJournal struct {
	rows    []domain.CopyTradeResult
	deleted []time.Time
}

func (j *fakeJournal) ListBefore(_ context.Context, before time.Time) ([]domain.CopyTradeResult, error) {
	var out []domain.CopyTradeResult
	for _, r := range j.rows {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (j *fakeJournal) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	j.deleted = append(j.deleted, before)
	var kept []domain.CopyTradeResult
	var n int64
	for _, r := range j.rows {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	j.rows = kept
	return n, nil
}

func testRow(id string, createdAt time.Time) domain.CopyTradeResult {
	return domain.CopyTradeResult{
		ID:        id,
		Wallet:    "0xsource",
		TxHash:    "0x" + id,
		Asset:     "tok-1",
		Side:      domain.SideBuy,
		CreatedAt: createdAt,
	}
}

func TestArchiveCopyTrades(t *testing.T) {
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	journal := &fakeJournal{rows: []domain.CopyTradeResult{
		testRow("a", cutoff.Add(-48*time.Hour)),
		testRow("b", cutoff.Add(-time.Hour)),
		testRow("c", cutoff.Add(time.Hour)), // too new, must survive
	}}
	writer := &fakeWriter{}

	arch := NewArchiver(writer, journal, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := arch.ArchiveCopyTrades(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveCopyTrades: %v", err)
	}
	if n != 2 {
		t.Errorf("archived = %d, want 2", n)
	}

	data, ok := writer.puts["archive/copy_trades/2025-02.jsonl"]
	if !ok {
		t.Fatalf("upload missing, got keys %v", writer.puts)
	}

	// Two JSONL lines, decodable back into results.
	var lines int
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var r domain.CopyTradeResult
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("jsonl lines = %d, want 2", lines)
	}

	if len(journal.rows) != 1 || journal.rows[0].ID != "c" {
		t.Errorf("journal after purge = %+v, want only row c", journal.rows)
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	journal := &fakeJournal{}
	writer := &fakeWriter{}

	arch := NewArchiver(writer, journal, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := arch.ArchiveCopyTrades(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveCopyTrades: %v", err)
	}
	if n != 0 {
		t.Errorf("archived = %d, want 0", n)
	}
	if len(writer.puts) != 0 {
		t.Error("upload issued with an empty journal")
	}
	if len(journal.deleted) != 0 {
		t.Error("purge issued with an empty journal")
	}
}

func TestUploadFailureKeepsJournal(t *testing.T) {
	cutoff := time.Now().UTC()
	journal := &fakeJournal{rows: []domain.CopyTradeResult{
		testRow("a", cutoff.Add(-time.Hour)),
	}}
	writer := &fakeWriter{putErr: errors.New("bucket unavailable")}

	arch := NewArchiver(writer, journal, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := arch.ArchiveCopyTrades(context.Background(), cutoff); err == nil {
		t.Fatal("upload failure not reported")
	}
	if len(journal.rows) != 1 {
		t.Error("journal purged despite failed upload")
	}
}
