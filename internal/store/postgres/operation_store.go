package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

const operationSelect = `SELECT id, vault_id, operation, amount, link, COALESCE(tx_id, ''),
	idempotency_key, attempts, created_at FROM vault_operations`

// OperationStore implements domain.OperationStore using PostgreSQL.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore creates a new OperationStore.
func NewOperationStore(pool *pgxpool.Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

// Record inserts a successful mutation. A replayed idempotency key is
// ignored, so recording the same ledger call twice is harmless.
func (s *OperationStore) Record(ctx context.Context, op domain.OperationRecord) error {
	const query = `
		INSERT INTO vault_operations
			(vault_id, operation, amount, link, tx_id, idempotency_key, attempts, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING`

	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		op.VaultID, op.Operation, op.Amount, op.Link, op.TxID,
		op.IdempotencyKey, op.Attempts, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record operation %s for %s: %w", op.Operation, op.VaultID, err)
	}
	return nil
}

// ListByVault returns the operations of one vault, newest first.
func (s *OperationStore) ListByVault(ctx context.Context, vaultID string, opts domain.ListOpts) ([]domain.OperationRecord, error) {
	q := newListQuery(operationSelect, "created_at").where("vault_id", vaultID).window(opts).page(opts, "DESC")
	return s.query(ctx, "list operations for "+vaultID, q)
}

// ListBefore returns every operation created strictly before the cutoff,
// oldest first.
func (s *OperationStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OperationRecord, error) {
	q := newListQuery(operationSelect, "created_at").before(before).page(domain.ListOpts{}, "ASC")
	return s.query(ctx, "list operations before", q)
}

func (s *OperationStore) query(ctx context.Context, what string, q *listQuery) ([]domain.OperationRecord, error) {
	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	ops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OperationRecord, error) {
		var r domain.OperationRecord
		err := row.Scan(&r.ID, &r.VaultID, &r.Operation, &r.Amount, &r.Link, &r.TxID,
			&r.IdempotencyKey, &r.Attempts, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", what, err)
	}
	return ops, nil
}

var _ domain.OperationStore = (*OperationStore)(nil)
