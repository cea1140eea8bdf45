package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold is the payload size above which uploads switch to
	// the multipart manager.
	multipartThreshold = 16 * 1024 * 1024
)

// AuditArchiveStore is the read side of the audit log the archiver needs.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// OperationArchiveStore is the read side of the operation history the
// archiver needs.
type OperationArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OperationRecord, error)
}

// ArchiveImpl implements domain.Archiver by exporting rows older than a
// cutoff as JSONL. Rows are not deleted from Postgres here; pruning is a
// separate step after the export is verified.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	auditRows  AuditArchiveStore
	operations OperationArchiveStore
	audit      domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. audit records the archive events
// and is usually the same store as auditRows.
func NewArchiver(writer domain.BlobWriter, auditRows AuditArchiveStore, operations OperationArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:     writer,
		auditRows:  auditRows,
		operations: operations,
		audit:      audit,
	}
}

// ArchiveAudit exports audit entries before the cutoff to
// archive/audit/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.auditRows.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, rows)
}

// ArchiveOperations exports vault operations before the cutoff to
// archive/operations/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveOperations(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.operations.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations query: %w", err)
	}
	return archive(ctx, a, "operations", before, rows)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, rows []T) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"bytes":  len(buf),
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff.
//
//	archive/audit/2026-01.jsonl
//	archive/operations/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
