package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger operation and query names understood by the vault gateway.
const (
	OpInitVault          = "initVault"
	OpDepositCollateral  = "depositCollateral"
	OpWithdrawCollateral = "withdrawCollateral"
	QueryVaultStatus     = "getVaultStatus"
)

// DefaultRetryDelay is the backoff configured when none is given.
const DefaultRetryDelay = 500 * time.Millisecond

// VaultConfig is the immutable per-engine configuration.
type VaultConfig struct {
	NetworkID string
	ClientID  string
	// RetryLimit is the number of extra attempts after the first.
	RetryLimit int
	// RetryDelay is the constant pause between attempts.
	RetryDelay time.Duration
	// AttemptTimeout bounds a single transport call. Zero means no bound.
	AttemptTimeout time.Duration
}

// HealthRatio is a collateral-to-debt percentage. A debt-free vault has an
// infinite ratio.
type HealthRatio float64

// InfiniteHealth is the ratio reported for vaults without debt.
var InfiniteHealth = HealthRatio(math.Inf(1))

// ComputeHealthRatio derives the health ratio from ledger balances, rounded
// half away from zero to two decimals.
func ComputeHealthRatio(collateral, debt float64) HealthRatio {
	if debt <= 0 {
		return InfiniteHealth
	}
	return HealthRatio(Round2(collateral / debt * 100))
}

// IsInfinite reports whether h is the debt-free sentinel.
func (h HealthRatio) IsInfinite() bool { return math.IsInf(float64(h), 1) }

func (h HealthRatio) String() string {
	if h.IsInfinite() {
		return "inf"
	}
	return strconv.FormatFloat(float64(h), 'f', 2, 64)
}

// MarshalJSON encodes the sentinel as the string "inf" since JSON has no
// infinity literal.
func (h HealthRatio) MarshalJSON() ([]byte, error) {
	if h.IsInfinite() {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(h))
}

// UnmarshalJSON accepts either a number or the string "inf".
func (h *HealthRatio) UnmarshalJSON(data []byte) error {
	if string(data) == `"inf"` {
		*h = InfiniteHealth
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*h = HealthRatio(f)
	return nil
}

// Round2 rounds v half away from zero to two decimal places.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// VaultStatus is a snapshot of a vault's ledger state at query time.
type VaultStatus struct {
	VaultID     string      `json:"vault_id"`
	Collateral  float64     `json:"collateral"`
	Debt        float64     `json:"debt"`
	HealthRatio HealthRatio `json:"health_ratio"`
}

// TxResult is the outcome of a ledger mutation.
type TxResult struct {
	Link           string `json:"link"`
	TxID           string `json:"tx_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
}

// LiquidationParams configures a liquidation check.
type LiquidationParams struct {
	VaultID        string  `json:"vault_id"`
	MinHealthRatio float64 `json:"min_health_ratio"`
}

// RebalanceParams configures a rebalance toward a target health ratio.
type RebalanceParams struct {
	VaultID           string  `json:"vault_id"`
	TargetHealthRatio float64 `json:"target_health_ratio"`
}

// OperationRecord is the persisted trace of a successful ledger mutation.
type OperationRecord struct {
	ID             int64     `json:"id"`
	VaultID        string    `json:"vault_id"`
	Operation      string    `json:"operation"`
	Amount         float64   `json:"amount"`
	Link           string    `json:"link"`
	TxID           string    `json:"tx_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"created_at"`
}
