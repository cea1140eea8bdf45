package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// Core is the surface the action handler and the operations engine build on.
// *Engine is the production implementation.
type Core interface {
	Initialize(ctx context.Context, vaultID string, initialCollateral float64) (string, error)
	Deposit(ctx context.Context, vaultID string, amount float64) (string, error)
	Withdraw(ctx context.Context, vaultID string, amount float64) (string, error)
	GetStatus(ctx context.Context, vaultID string) (domain.VaultStatus, error)
}

// Engine is the only component that talks to the ledger transport. It
// validates input, derives idempotency keys and applies the retry policy
// uniformly to every operation. It holds no vault state and is safe to share
// across vaults and goroutines.
type Engine struct {
	cfg       domain.VaultConfig
	transport domain.LedgerTransport
	seq       domain.SequenceSource
	ops       domain.OperationStore
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customises an Engine.
type Option func(*Engine)

// WithSequence sets the source used to derive idempotency keys.
func WithSequence(seq domain.SequenceSource) Option {
	return func(e *Engine) { e.seq = seq }
}

// WithOperationStore records every successful mutation in store.
func WithOperationStore(store domain.OperationStore) Option {
	return func(e *Engine) { e.ops = store }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine validates cfg and builds an Engine around transport. A negative
// retry limit, retry delay or attempt timeout is rejected with a
// *domain.ValidationError. A zero retry delay retries immediately.
func NewEngine(cfg domain.VaultConfig, transport domain.LedgerTransport, opts ...Option) (*Engine, error) {
	if cfg.RetryLimit < 0 {
		return nil, domain.Invalid("retry_limit", "must be >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.RetryDelay < 0 {
		return nil, domain.Invalid("retry_delay", "must be >= 0, got %s", cfg.RetryDelay)
	}
	if cfg.AttemptTimeout < 0 {
		return nil, domain.Invalid("attempt_timeout", "must be >= 0, got %s", cfg.AttemptTimeout)
	}
	if transport == nil {
		return nil, domain.Invalid("transport", "is required")
	}
	e := &Engine{
		cfg:       cfg,
		transport: transport,
		logger:    slog.Default(),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.seq == nil {
		e.seq = NewMemorySequence(time.Now().UnixNano())
	}
	e.logger = e.logger.With(slog.String("component", "vault_engine"))
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() domain.VaultConfig { return e.cfg }

// Initialize opens vaultID on the ledger with initialCollateral.
func (e *Engine) Initialize(ctx context.Context, vaultID string, initialCollateral float64) (string, error) {
	tx, err := e.mutate(ctx, domain.OpInitVault, vaultID, "initialCollateral", initialCollateral)
	return tx.Link, err
}

// Deposit adds amount of collateral to vaultID.
func (e *Engine) Deposit(ctx context.Context, vaultID string, amount float64) (string, error) {
	tx, err := e.mutate(ctx, domain.OpDepositCollateral, vaultID, "amount", amount)
	return tx.Link, err
}

// Withdraw removes amount of collateral from vaultID. Sufficiency is
// enforced by the ledger, not here.
func (e *Engine) Withdraw(ctx context.Context, vaultID string, amount float64) (string, error) {
	tx, err := e.mutate(ctx, domain.OpWithdrawCollateral, vaultID, "amount", amount)
	return tx.Link, err
}

type statusReply struct {
	Collateral float64 `json:"collateral"`
	Debt       float64 `json:"debt"`
}

// GetStatus reads the current ledger balances for vaultID and derives the
// health ratio. The result is never cached.
func (e *Engine) GetStatus(ctx context.Context, vaultID string) (domain.VaultStatus, error) {
	if err := validateVaultID(vaultID); err != nil {
		return domain.VaultStatus{}, err
	}

	var reply statusReply
	_, err := e.execute(ctx, domain.QueryVaultStatus, func(ctx context.Context) error {
		reply = statusReply{}
		if err := e.transport.Call(ctx, domain.QueryVaultStatus, map[string]any{
			"vaultId":   vaultID,
			"networkId": e.cfg.NetworkID,
		}, &reply); err != nil {
			return err
		}
		if !validBalance(reply.Collateral) || !validBalance(reply.Debt) {
			return domain.Retryable(domain.QueryVaultStatus,
				fmt.Errorf("malformed status for %s: collateral=%v debt=%v", vaultID, reply.Collateral, reply.Debt))
		}
		return nil
	})
	if err != nil {
		return domain.VaultStatus{}, err
	}

	return domain.VaultStatus{
		VaultID:     vaultID,
		Collateral:  reply.Collateral,
		Debt:        reply.Debt,
		HealthRatio: domain.ComputeHealthRatio(reply.Collateral, reply.Debt),
	}, nil
}

// mutate validates input, draws one idempotency key for the logical call and
// sends the operation through the retry wrapper. Every attempt carries the
// same key.
func (e *Engine) mutate(ctx context.Context, op, vaultID, amountField string, amount float64) (domain.TxResult, error) {
	if err := validateVaultID(vaultID); err != nil {
		return domain.TxResult{}, err
	}
	if err := validateAmount(amountField, amount); err != nil {
		return domain.TxResult{}, err
	}

	seq, err := e.seq.Next(ctx, sequenceKey(vaultID))
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("vault: %s: next sequence: %w", op, err)
	}
	key := IdempotencyKey(vaultID, op, seq)

	params := map[string]any{
		"vaultId":        vaultID,
		"networkId":      e.cfg.NetworkID,
		amountField:      amount,
		"idempotencyKey": key,
	}

	var tx domain.TxResult
	attempts, err := e.execute(ctx, op, func(ctx context.Context) error {
		res, err := e.transport.Send(ctx, op, params)
		if err != nil {
			return err
		}
		tx = res
		return nil
	})
	if err != nil {
		return domain.TxResult{}, err
	}
	tx.IdempotencyKey = key
	tx.Attempts = attempts

	e.record(ctx, op, vaultID, amount, tx)
	return tx, nil
}

func (e *Engine) record(ctx context.Context, op, vaultID string, amount float64, tx domain.TxResult) {
	if e.ops == nil {
		return
	}
	rec := domain.OperationRecord{
		VaultID:        vaultID,
		Operation:      op,
		Amount:         amount,
		Link:           tx.Link,
		TxID:           tx.TxID,
		IdempotencyKey: tx.IdempotencyKey,
		Attempts:       tx.Attempts,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.ops.Record(ctx, rec); err != nil {
		e.logger.WarnContext(ctx, "record operation failed",
			slog.String("vault_id", vaultID),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
}

func sequenceKey(vaultID string) string {
	return "vault:" + vaultID + ":seq"
}

func validateVaultID(vaultID string) error {
	if vaultID == "" {
		return domain.Invalid("vault_id", "must not be empty")
	}
	return nil
}

func validateAmount(field string, amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return domain.Invalid(field, "must be a finite number, got %v", amount)
	}
	if amount <= 0 {
		return domain.Invalid(field, "must be positive, got %v", amount)
	}
	return nil
}

func validBalance(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
