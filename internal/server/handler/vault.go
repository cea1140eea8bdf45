package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
	"github.com/alanyoungcy/vaultkeeper/internal/events"
)

// VaultActions is the envelope API over the vault engine.
type VaultActions interface {
	InitVault(ctx context.Context, vaultID string, collateral float64) domain.ActionResult[string]
	DepositCollateral(ctx context.Context, vaultID string, amount float64) domain.ActionResult[string]
	WithdrawCollateral(ctx context.Context, vaultID string, amount float64) domain.ActionResult[string]
	FetchStatus(ctx context.Context, vaultID string) domain.ActionResult[domain.VaultStatus]
}

// VaultOperations is the envelope API over the compound vault procedures.
type VaultOperations interface {
	CheckAndLiquidate(ctx context.Context, p domain.LiquidationParams) domain.ActionResult[string]
	RebalanceCollateral(ctx context.Context, p domain.RebalanceParams) domain.ActionResult[string]
	Leverage(ctx context.Context, vaultID string, borrowAmount float64) domain.ActionResult[string]
}

// VaultHandler serves the vault HTTP endpoints.
type VaultHandler struct {
	actions VaultActions
	ops     VaultOperations
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewVaultHandler creates a VaultHandler. bus may be nil, in which case
// API-initiated changes are not broadcast.
func NewVaultHandler(actions VaultActions, ops VaultOperations, bus domain.SignalBus, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		actions: actions,
		ops:     ops,
		bus:     bus,
		logger:  logHandler(logger, "vault"),
	}
}

type initVaultRequest struct {
	VaultID    string  `json:"vault_id"`
	Collateral float64 `json:"collateral"`
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

// Threshold fields are pointers so an omitted ratio is rejected rather than
// read as zero.
type liquidateRequest struct {
	MinHealthRatio *float64 `json:"min_health_ratio"`
}

type rebalanceRequest struct {
	TargetHealthRatio *float64 `json:"target_health_ratio"`
}

// InitVault opens a vault with its initial collateral.
// POST /api/vaults
func (h *VaultHandler) InitVault(w http.ResponseWriter, r *http.Request) {
	var req initVaultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := h.actions.InitVault(r.Context(), req.VaultID, req.Collateral)
	if res.Success {
		h.publish(r.Context(), events.TypeInitialized, req.VaultID, "Vault initialized", res.Data)
	}
	writeResult(w, res)
}

// GetVault returns a fresh status snapshot.
// GET /api/vaults/{id}
func (h *VaultHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	writeResult(w, h.actions.FetchStatus(r.Context(), r.PathValue("id")))
}

// Deposit adds collateral.
// POST /api/vaults/{id}/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeResult(w, h.actions.DepositCollateral(r.Context(), r.PathValue("id"), req.Amount))
}

// Withdraw removes collateral.
// POST /api/vaults/{id}/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeResult(w, h.actions.WithdrawCollateral(r.Context(), r.PathValue("id"), req.Amount))
}

// Liquidate runs a liquidation check against the given threshold.
// POST /api/vaults/{id}/liquidate
func (h *VaultHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MinHealthRatio == nil {
		writeError(w, http.StatusBadRequest, "min_health_ratio is required")
		return
	}
	writeResult(w, h.ops.CheckAndLiquidate(r.Context(), domain.LiquidationParams{
		VaultID:        r.PathValue("id"),
		MinHealthRatio: *req.MinHealthRatio,
	}))
}

// Rebalance moves collateral toward the target health ratio.
// POST /api/vaults/{id}/rebalance
func (h *VaultHandler) Rebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TargetHealthRatio == nil {
		writeError(w, http.StatusBadRequest, "target_health_ratio is required")
		return
	}
	writeResult(w, h.ops.RebalanceCollateral(r.Context(), domain.RebalanceParams{
		VaultID:           r.PathValue("id"),
		TargetHealthRatio: *req.TargetHealthRatio,
	}))
}

// Leverage runs a withdraw-then-deposit cycle.
// POST /api/vaults/{id}/leverage
func (h *VaultHandler) Leverage(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	res := h.ops.Leverage(r.Context(), id, req.Amount)
	if res.Success {
		h.publish(r.Context(), events.TypeLeveraged, id, res.Data)
	}
	writeResult(w, res)
}

func (h *VaultHandler) publish(ctx context.Context, typ events.Type, vaultID, message string, links ...string) {
	if h.bus == nil {
		return
	}
	ev := events.VaultEvent{Type: typ, VaultID: vaultID, Message: message, Links: links}
	if err := events.Publish(ctx, h.bus, ev); err != nil {
		h.logger.WarnContext(ctx, "publish vault event failed",
			slog.String("vault_id", vaultID),
			slog.String("error", err.Error()),
		)
	}
}
