package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
	"github.com/alanyoungcy/vaultkeeper/internal/server/handler"
)

type fakeActions struct {
	lastVault  string
	lastAmount float64
}

func (f *fakeActions) InitVault(_ context.Context, id string, c float64) domain.ActionResult[string] {
	f.lastVault, f.lastAmount = id, c
	if c <= 0 {
		return domain.Fail[string](domain.Invalid("initialCollateral", "must be positive"))
	}
	return domain.Succeed("tx-init")
}

func (f *fakeActions) DepositCollateral(_ context.Context, id string, a float64) domain.ActionResult[string] {
	f.lastVault, f.lastAmount = id, a
	return domain.Succeed("tx-dep")
}

func (f *fakeActions) WithdrawCollateral(_ context.Context, id string, a float64) domain.ActionResult[string] {
	f.lastVault, f.lastAmount = id, a
	return domain.Fail[string](errors.New("withdrawCollateral failed after 4 attempts: timeout"))
}

func (f *fakeActions) FetchStatus(_ context.Context, id string) domain.ActionResult[domain.VaultStatus] {
	return domain.Succeed(domain.VaultStatus{VaultID: id, Collateral: 100, HealthRatio: domain.InfiniteHealth})
}

type fakeOps struct {
	liq domain.LiquidationParams
	reb domain.RebalanceParams
}

func (f *fakeOps) CheckAndLiquidate(_ context.Context, p domain.LiquidationParams) domain.ActionResult[string] {
	f.liq = p
	return domain.Succeed("Health ratio above threshold, no liquidation needed")
}

func (f *fakeOps) RebalanceCollateral(_ context.Context, p domain.RebalanceParams) domain.ActionResult[string] {
	f.reb = p
	return domain.Succeed("Vault already balanced")
}

func (f *fakeOps) Leverage(_ context.Context, id string, amount float64) domain.ActionResult[string] {
	return domain.Succeed("Leverage cycle complete. Withdraw TX: a, Deposit TX: b")
}

type fakeAudit struct{}

func (fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (fakeAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return []domain.AuditEntry{{ID: 1, Event: "vault.liquidate", Detail: map[string]any{"limit": opts.Limit}}}, nil
}

func (fakeAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) { return nil, nil }

type fakeOpStore struct{}

func (fakeOpStore) Record(context.Context, domain.OperationRecord) error { return nil }

func (fakeOpStore) ListByVault(context.Context, string, domain.ListOpts) ([]domain.OperationRecord, error) {
	return nil, nil
}

func (fakeOpStore) ListBefore(context.Context, time.Time) ([]domain.OperationRecord, error) {
	return nil, nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }
func (denyAll) Wait(context.Context, string) error { return nil }

func newTestHandler(t *testing.T, cfg Config, limiter domain.RateLimiter) (http.Handler, *fakeActions, *fakeOps) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	actions := &fakeActions{}
	ops := &fakeOps{}
	h := NewHandler(cfg, Handlers{
		Health: handler.NewHealthHandler("server", nil, logger),
		Vaults: handler.NewVaultHandler(actions, ops, nil, logger),
		Audit:  handler.NewAuditHandler(fakeAudit{}, fakeOpStore{}, logger),
	}, nil, limiter, logger)
	return h, actions, ops
}

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestVaultRoutes(t *testing.T) {
	h, actions, ops := newTestHandler(t, Config{}, nil)

	rec := do(h, http.MethodPost, "/api/vaults", `{"vault_id":"v1","collateral":100}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "data": "tx-init"}, decode(t, rec))
	assert.Equal(t, "v1", actions.lastVault)

	rec = do(h, http.MethodPost, "/api/vaults", `{"vault_id":"v1","collateral":0}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = do(h, http.MethodPost, "/api/vaults/v2/deposit", `{"amount":12.5}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v2", actions.lastVault)
	assert.Equal(t, 12.5, actions.lastAmount)

	rec = do(h, http.MethodPost, "/api/vaults/v2/withdraw", `{"amount":1}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "failed after 4 attempts")

	rec = do(h, http.MethodGet, "/api/vaults/v3", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "inf", data["health_ratio"])

	rec = do(h, http.MethodPost, "/api/vaults/v4/liquidate", `{"min_health_ratio":120}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.LiquidationParams{VaultID: "v4", MinHealthRatio: 120}, ops.liq)

	rec = do(h, http.MethodPost, "/api/vaults/v5/rebalance", `{"target_health_ratio":150}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RebalanceParams{VaultID: "v5", TargetHealthRatio: 150}, ops.reb)

	rec = do(h, http.MethodPost, "/api/vaults/v6/leverage", `{"amount":5}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBadJSON(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{}, nil)

	for _, body := range []string{"", "{", `{"amount":"ten"}`, `{"amt":1}`} {
		rec := do(h, http.MethodPost, "/api/vaults/v1/deposit", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestThresholdFieldsAreRequired(t *testing.T) {
	h, _, ops := newTestHandler(t, Config{}, nil)

	rec := do(h, http.MethodPost, "/api/vaults/v1/rebalance", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "target_health_ratio is required", decode(t, rec)["error"])

	rec = do(h, http.MethodPost, "/api/vaults/v1/liquidate", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "min_health_ratio is required", decode(t, rec)["error"])
	assert.Equal(t, domain.RebalanceParams{}, ops.reb)
	assert.Equal(t, domain.LiquidationParams{}, ops.liq)

	rec = do(h, http.MethodPost, "/api/vaults/v1/rebalance", `{"target_health_ratio":0}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RebalanceParams{VaultID: "v1"}, ops.reb)
}

func TestNewServerWriteTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := Handlers{
		Health: handler.NewHealthHandler("server", nil, logger),
		Vaults: handler.NewVaultHandler(&fakeActions{}, &fakeOps{}, nil, logger),
	}

	srv := NewServer(Config{Port: 8000}, handlers, nil, nil, logger)
	assert.Equal(t, defaultWriteTimeout, srv.httpServer.WriteTimeout)

	srv = NewServer(Config{Port: 8000, WriteTimeout: 98 * time.Second}, handlers, nil, nil, logger)
	assert.Equal(t, 98*time.Second, srv.httpServer.WriteTimeout)
}

func TestAuditRoutes(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{}, nil)

	rec := do(h, http.MethodGet, "/api/audit?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)

	rec = do(h, http.MethodGet, "/api/audit?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/api/vaults/v1/operations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["operations"])
}

func TestAuthMiddleware(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/vaults/v1", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, http.MethodGet, "/api/vaults/v1", "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK,
		do(h, http.MethodGet, "/api/vaults/v1", "", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK,
		do(h, http.MethodGet, "/api/vaults/v1", "", map[string]string{"X-API-Key": "secret"}).Code)
}

func TestRateLimitAndRequestID(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{RateLimit: 1, RateWindow: time.Second}, denyAll{})

	rec := do(h, http.MethodGet, "/api/vaults/v1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(h, http.MethodGet, "/api/vaults/v1", "", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	h, _, _ := newTestHandler(t, Config{CORSOrigins: []string{"https://ops.example"}}, nil)

	rec := do(h, http.MethodOptions, "/api/vaults/v1", "", map[string]string{"Origin": "https://ops.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodOptions, "/api/vaults/v1", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
