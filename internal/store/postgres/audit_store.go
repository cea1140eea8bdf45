package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

const auditSelect = `SELECT id, event, detail, created_at FROM audit_log`

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends a new audit entry. The detail map is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first with pagination and optional time
// filtering.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	q := newListQuery(auditSelect, "created_at").window(opts).page(opts, "DESC")
	return s.query(ctx, "list audit entries", q)
}

// ListBefore returns every entry created strictly before the cutoff, oldest
// first. The archiver uses it to export cold rows.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	q := newListQuery(auditSelect, "created_at").before(before).page(domain.ListOpts{}, "ASC")
	return s.query(ctx, "list audit entries before", q)
}

func (s *AuditStore) query(ctx context.Context, what string, q *listQuery) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var detailJSON []byte
	if err := row.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
		return e, fmt.Errorf("scan audit entry: %w", err)
	}
	if detailJSON != nil {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshal audit detail: %w", err)
		}
	}
	return e, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
