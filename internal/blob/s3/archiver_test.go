package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/domain"
)

type fakeWriter struct {
	keys    []string
	bodies  [][]byte
	ctypes  []string
	failPut bool
}

func (f *fakeWriter) Put(_ context.Context, key string, data []byte, contentType string) error {
	if f.failPut {
		return assert.AnError
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, data)
	f.ctypes = append(f.ctypes, contentType)
	return nil
}

type fakeAudit struct {
	entries []domain.AuditEntry
	deleted []time.Time
}

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) List(_ context.Context, opts domain.AuditListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range f.entries {
		if opts.Before != nil && !e.CreatedAt.Before(*opts.Before) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeAudit) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deleted = append(f.deleted, cutoff)
	var kept []domain.AuditEntry
	var n int64
	for _, e := range f.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return n, nil
}

func testEntries(base time.Time) []domain.AuditEntry {
	// Newest first, matching the store's ORDER BY created_at DESC.
	return []domain.AuditEntry{
		{ID: 3, Event: "mode_change", Detail: map[string]any{"mode": "LIVE"}, CreatedAt: base},
		{ID: 2, Event: "drift", Detail: map[string]any{"symbol": "ESZ6"}, CreatedAt: base.Add(-time.Hour)},
		{ID: 1, Event: "arm", Detail: map[string]any{"account": "Acct1"}, CreatedAt: base.Add(-2 * time.Hour)},
	}
}

func TestArchiveBeforeUploadsThenDeletes(t *testing.T) {
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	writer := &fakeWriter{}
	audit := &fakeAudit{entries: testEntries(base)}
	arch := NewArchiver(writer, audit, 0, slog.New(slog.DiscardHandler))

	n, err := arch.ArchiveBefore(context.Background(), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, writer.keys, 1)
	assert.True(t, strings.HasPrefix(writer.keys[0], "archive/audit/2026-05/"))
	assert.True(t, strings.HasSuffix(writer.keys[0], ".jsonl"))
	assert.Equal(t, "application/x-ndjson", writer.ctypes[0])

	require.Len(t, audit.deleted, 1)
	assert.Empty(t, audit.entries)
}

func TestArchiveBeforeEmptyStoreIsNoop(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	arch := NewArchiver(writer, audit, 0, slog.New(slog.DiscardHandler))

	n, err := arch.ArchiveBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.keys)
	assert.Empty(t, audit.deleted)
}

func TestArchiveBeforePutFailureKeepsEntries(t *testing.T) {
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	writer := &fakeWriter{failPut: true}
	audit := &fakeAudit{entries: testEntries(base)}
	arch := NewArchiver(writer, audit, 0, slog.New(slog.DiscardHandler))

	_, err := arch.ArchiveBefore(context.Background(), base.Add(time.Minute))
	require.Error(t, err)
	assert.Empty(t, audit.deleted)
	assert.Len(t, audit.entries, 3)
}

func TestMarshalJSONLOldestFirst(t *testing.T) {
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	data, err := marshalJSONL(testEntries(base))
	require.NoError(t, err)

	var ids []float64
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		ids = append(ids, row["id"].(float64))
	}
	assert.Equal(t, []float64{1, 2, 3}, ids)
}
