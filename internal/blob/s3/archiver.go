package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

// archiveBatch caps how many audit rows are pulled per archive pass. A
// pass uploads one batch and deletes it; Run repeats until the store has
// nothing older than the cutoff.
const archiveBatch = 5000

// Archiver moves audit log entries older than the retention period out of
// Postgres and into object storage as newline-delimited JSON, one file per
// calendar month.
type Archiver struct {
	writer    domain.BlobWriter
	audit     domain.AuditStore
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. retention is how long entries stay in
// the audit store before being archived.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		audit:     audit,
		retention: retention,
		logger:    logger.With("component", "audit_archiver"),
	}
}

// Run archives entries in batches until none remain older than the
// retention cutoff, then sleeps for interval and repeats. It returns when
// ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Archiver) drain(ctx context.Context) {
	cutoff := time.Now().Add(-a.retention)
	for {
		n, err := a.ArchiveBefore(ctx, cutoff)
		if err != nil {
			a.logger.Error("archive pass failed", "error", err)
			return
		}
		if n < archiveBatch {
			return
		}
	}
}

// ArchiveBefore uploads up to one batch of audit entries created before
// the cutoff and deletes them from the store. The upload lands before the
// delete, so a crash between the two duplicates rows in the archive rather
// than losing them. It returns the number of entries archived.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := a.audit.List(ctx, domain.AuditListOpts{
		Limit:  archiveBatch,
		Before: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: list audit entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	data, err := marshalJSONL(entries)
	if err != nil {
		return 0, err
	}

	oldest := entries[len(entries)-1].CreatedAt
	key := archivePath(oldest)
	if err := a.writer.Put(ctx, key, data, "application/x-ndjson"); err != nil {
		return 0, err
	}

	deleteUpTo := entries[0].CreatedAt.Add(time.Microsecond)
	if deleteUpTo.After(cutoff) {
		deleteUpTo = cutoff
	}
	deleted, err := a.audit.DeleteBefore(ctx, deleteUpTo)
	if err != nil {
		return 0, fmt.Errorf("s3blob: delete archived entries: %w", err)
	}

	a.logger.Info("archived audit entries",
		"key", key,
		"archived", len(entries),
		"deleted", deleted,
		"oldest", oldest,
	)
	return len(entries), nil
}

// marshalJSONL renders entries as newline-delimited JSON, oldest first.
func marshalJSONL(entries []domain.AuditEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		row := map[string]any{
			"id":         e.ID,
			"event":      e.Event,
			"detail":     e.Detail,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("s3blob: encode audit entry %d: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key for a batch whose oldest entry falls
// in the given month, e.g. archive/audit/2026-08/20260829T120000Z.jsonl.
func archivePath(oldest time.Time) string {
	t := oldest.UTC()
	return fmt.Sprintf("archive/audit/%s/%s.jsonl",
		t.Format("2006-01"),
		time.Now().UTC().Format("20060102T150405Z"),
	)
}
