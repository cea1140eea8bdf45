package vault

import (
	"context"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// ActionHandler turns engine errors into ActionResult values for callers
// that cannot propagate them. It never retries.
type ActionHandler struct {
	core Core
}

// NewActionHandler wraps core.
func NewActionHandler(core Core) *ActionHandler {
	return &ActionHandler{core: core}
}

// InitVault opens a vault. Data holds the ledger reference.
func (h *ActionHandler) InitVault(ctx context.Context, vaultID string, collateral float64) domain.ActionResult[string] {
	return wrap(h.core.Initialize(ctx, vaultID, collateral))
}

func (h *ActionHandler) DepositCollateral(ctx context.Context, vaultID string, amount float64) domain.ActionResult[string] {
	return wrap(h.core.Deposit(ctx, vaultID, amount))
}

func (h *ActionHandler) WithdrawCollateral(ctx context.Context, vaultID string, amount float64) domain.ActionResult[string] {
	return wrap(h.core.Withdraw(ctx, vaultID, amount))
}

func (h *ActionHandler) FetchStatus(ctx context.Context, vaultID string) domain.ActionResult[domain.VaultStatus] {
	return wrap(h.core.GetStatus(ctx, vaultID))
}

func wrap[T any](v T, err error) domain.ActionResult[T] {
	if err != nil {
		return domain.Fail[T](err)
	}
	return domain.Succeed(v)
}
