package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// HistorySource lists closed positions.
type HistorySource interface {
	ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// MultipartWriter is a BlobWriter that can also stream large uploads in parts.
type MultipartWriter interface {
	domain.BlobWriter
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

const (
	archivePageSize = 500
	jsonlType       = "application/x-ndjson"
)

// Archiver exports closed positions to JSONL objects. Rows are never
// deleted from the ledger here.
type Archiver struct {
	writer  MultipartWriter
	history HistorySource
	audit   domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer MultipartWriter, history HistorySource, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, history: history, audit: audit}
}

// ArchiveHistory uploads every position closed before the cutoff to
// archive/positions/YYYY-MM.jsonl, records the export in the audit log and
// returns the path and record count.
func (a *Archiver) ArchiveHistory(ctx context.Context, before time.Time) (string, int64, error) {
	var all []domain.Position
	for offset := 0; ; offset += archivePageSize {
		page, err := a.history.ListHistory(ctx, domain.ListOpts{Until: &before, Limit: archivePageSize, Offset: offset})
		if err != nil {
			return "", 0, fmt.Errorf("s3blob: archive history query: %w", err)
		}
		all = append(all, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	if len(all) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(all)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive history marshal: %w", err)
	}

	path := archivePath("positions", before)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlType)
	}
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive history upload: %w", err)
	}

	count := int64(len(all))
	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return path, count, fmt.Errorf("s3blob: archive history audit log: %w", err)
	}
	return path, count, nil
}

// archivePath partitions archives by the cutoff's year-month:
//
//	archive/positions/2026-03.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

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
