package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// balanceEpsilon is the collateral delta below which a vault counts as
// balanced.
const balanceEpsilon = 1e-6

const defaultLockTTL = 30 * time.Second

// Action names what an operation did to the vault.
type Action string

const (
	ActionNone       Action = "none"
	ActionLiquidated Action = "liquidated"
	ActionDeposited  Action = "deposited"
	ActionWithdrawn  Action = "withdrawn"
	ActionLeveraged  Action = "leveraged"
)

// Outcome describes a completed read-decide-act sequence. Status is the
// snapshot the decision was based on; it is zero for leverage, which reads
// no status.
type Outcome struct {
	VaultID string
	Action  Action
	Status  domain.VaultStatus
	Delta   float64
	Links   []string
	Message string
}

// Operations implements the liquidation, rebalance and leverage procedures
// on top of a Core. Each procedure holds the vault lock from the status
// read through the last mutation.
type Operations struct {
	core    Core
	locks   domain.LockManager
	lockTTL time.Duration
	audit   domain.AuditStore
	logger  *slog.Logger
}

// OperationsOption customises Operations.
type OperationsOption func(*Operations)

// WithLockManager replaces the default in-process locker.
func WithLockManager(locks domain.LockManager, ttl time.Duration) OperationsOption {
	return func(o *Operations) {
		o.locks = locks
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithAuditStore logs every mutating decision to store.
func WithAuditStore(store domain.AuditStore) OperationsOption {
	return func(o *Operations) { o.audit = store }
}

// WithOperationsLogger sets the logger.
func WithOperationsLogger(logger *slog.Logger) OperationsOption {
	return func(o *Operations) { o.logger = logger }
}

// NewOperations builds Operations over core.
func NewOperations(core Core, opts ...OperationsOption) *Operations {
	o := &Operations{
		core:    core,
		locks:   NewLocalLocker(),
		lockTTL: defaultLockTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "vault_operations"))
	return o
}

// CheckAndLiquidate withdraws the entire collateral only when the health
// ratio is strictly below p.MinHealthRatio. Debt-free vaults and NaN
// thresholds never liquidate.
func (o *Operations) CheckAndLiquidate(ctx context.Context, p domain.LiquidationParams) domain.ActionResult[string] {
	return message(o.Liquidate(ctx, p))
}

// RebalanceCollateral moves collateral so the health ratio lands on
// p.TargetHealthRatio.
func (o *Operations) RebalanceCollateral(ctx context.Context, p domain.RebalanceParams) domain.ActionResult[string] {
	return message(o.Rebalance(ctx, p))
}

// Leverage withdraws borrowAmount and deposits it back. No health check is
// made before acting.
func (o *Operations) Leverage(ctx context.Context, vaultID string, borrowAmount float64) domain.ActionResult[string] {
	return message(o.LeverageCycle(ctx, vaultID, borrowAmount))
}

// Liquidate is CheckAndLiquidate returning the full outcome.
func (o *Operations) Liquidate(ctx context.Context, p domain.LiquidationParams) (Outcome, error) {
	out := Outcome{VaultID: p.VaultID, Action: ActionNone}
	err := o.withLock(ctx, p.VaultID, func(ctx context.Context) error {
		status, err := o.core.GetStatus(ctx, p.VaultID)
		if err != nil {
			return err
		}
		out.Status = status

		if !(float64(status.HealthRatio) < p.MinHealthRatio) {
			out.Message = "Health ratio above threshold, no liquidation needed"
			return nil
		}

		o.logger.InfoContext(ctx, "liquidating vault",
			slog.String("vault_id", p.VaultID),
			slog.String("health_ratio", status.HealthRatio.String()),
			slog.Float64("min_health_ratio", p.MinHealthRatio),
			slog.Float64("collateral", status.Collateral),
		)
		link, err := o.core.Withdraw(ctx, p.VaultID, status.Collateral)
		if err != nil {
			return err
		}
		out.Action = ActionLiquidated
		out.Delta = -status.Collateral
		out.Links = []string{link}
		out.Message = fmt.Sprintf("Liquidation executed, tx: %s", link)
		o.logAudit(ctx, "vault.liquidate", map[string]any{
			"vault_id":         p.VaultID,
			"health_ratio":     status.HealthRatio.String(),
			"min_health_ratio": p.MinHealthRatio,
			"collateral":       status.Collateral,
			"link":             link,
		})
		return nil
	})
	return out, err
}

// Rebalance is RebalanceCollateral returning the full outcome.
func (o *Operations) Rebalance(ctx context.Context, p domain.RebalanceParams) (Outcome, error) {
	out := Outcome{VaultID: p.VaultID, Action: ActionNone}
	err := o.withLock(ctx, p.VaultID, func(ctx context.Context) error {
		status, err := o.core.GetStatus(ctx, p.VaultID)
		if err != nil {
			return err
		}
		out.Status = status

		required := status.Debt * p.TargetHealthRatio / 100
		delta := required - status.Collateral
		if math.Abs(delta) < balanceEpsilon {
			out.Message = "Vault already balanced"
			return nil
		}

		var link string
		if delta > 0 {
			link, err = o.core.Deposit(ctx, p.VaultID, delta)
			out.Action = ActionDeposited
		} else {
			link, err = o.core.Withdraw(ctx, p.VaultID, -delta)
			out.Action = ActionWithdrawn
		}
		if err != nil {
			out.Action = ActionNone
			return err
		}

		shown := decimal.NewFromFloat(delta).StringFixed(2)
		out.Delta = delta
		out.Links = []string{link}
		out.Message = fmt.Sprintf("Rebalance executed (collateral delta: %s), tx: %s", shown, link)

		o.logger.InfoContext(ctx, "vault rebalanced",
			slog.String("vault_id", p.VaultID),
			slog.String("delta", shown),
			slog.Float64("target_health_ratio", p.TargetHealthRatio),
		)
		o.logAudit(ctx, "vault.rebalance", map[string]any{
			"vault_id":            p.VaultID,
			"target_health_ratio": p.TargetHealthRatio,
			"delta":               shown,
			"link":                link,
		})
		return nil
	})
	return out, err
}

// LeverageCycle is Leverage returning the full outcome. The two legs run
// one after the other, never concurrently.
func (o *Operations) LeverageCycle(ctx context.Context, vaultID string, borrowAmount float64) (Outcome, error) {
	out := Outcome{VaultID: vaultID, Action: ActionNone}
	err := o.withLock(ctx, vaultID, func(ctx context.Context) error {
		borrowLink, err := o.core.Withdraw(ctx, vaultID, borrowAmount)
		if err != nil {
			return err
		}
		depositLink, err := o.core.Deposit(ctx, vaultID, borrowAmount)
		if err != nil {
			return err
		}
		out.Action = ActionLeveraged
		out.Links = []string{borrowLink, depositLink}
		out.Message = fmt.Sprintf("Leverage cycle complete. Withdraw TX: %s, Deposit TX: %s", borrowLink, depositLink)
		o.logAudit(ctx, "vault.leverage", map[string]any{
			"vault_id":    vaultID,
			"amount":      borrowAmount,
			"withdraw_tx": borrowLink,
			"deposit_tx":  depositLink,
		})
		return nil
	})
	return out, err
}

func (o *Operations) withLock(ctx context.Context, vaultID string, fn func(ctx context.Context) error) error {
	if err := validateVaultID(vaultID); err != nil {
		return err
	}
	unlock, err := o.locks.Acquire(ctx, "vault:"+vaultID, o.lockTTL)
	if err != nil {
		return fmt.Errorf("vault: lock %s: %w", vaultID, err)
	}
	defer unlock()
	return fn(ctx)
}

func (o *Operations) logAudit(ctx context.Context, event string, detail map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Log(ctx, event, detail); err != nil {
		o.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func message(out Outcome, err error) domain.ActionResult[string] {
	if err != nil {
		return domain.Fail[string](err)
	}
	return domain.Succeed(out.Message)
}
