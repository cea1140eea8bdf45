package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

func TestActionHandlerWrapsResults(t *testing.T) {
	tr := newStubTransport()
	tr.setStatus("v1", 150, 100)
	e, _, err := newTestEngine(domain.VaultConfig{}, tr)
	require.NoError(t, err)
	h := NewActionHandler(e)
	ctx := context.Background()

	opened := h.InitVault(ctx, "v1", 150)
	assert.True(t, opened.Success)
	assert.Equal(t, "tx-1", opened.Data)

	dep := h.DepositCollateral(ctx, "v1", 5)
	assert.Equal(t, domain.ActionResult[string]{Success: true, Data: "tx-2"}, dep)

	wd := h.WithdrawCollateral(ctx, "v1", 5)
	assert.Equal(t, "tx-3", wd.Data)

	st := h.FetchStatus(ctx, "v1")
	require.True(t, st.Success)
	assert.Equal(t, domain.HealthRatio(150), st.Data.HealthRatio)
}

func TestActionHandlerReportsFailures(t *testing.T) {
	tr := newStubTransport(errNetwork, errNetwork)
	e, _, err := newTestEngine(domain.VaultConfig{RetryLimit: 1}, tr)
	require.NoError(t, err)
	h := NewActionHandler(e)
	ctx := context.Background()

	res := h.DepositCollateral(ctx, "v1", 5)
	assert.False(t, res.Success)
	assert.Empty(t, res.Data)
	assert.Equal(t, "depositCollateral failed after 2 attempts: connection reset", res.Error)
	assert.Len(t, tr.sent(), 2)

	bad := h.WithdrawCollateral(ctx, "", 5)
	assert.False(t, bad.Success)
	assert.Equal(t, "vault_id must not be empty", bad.Error)

	st := h.FetchStatus(ctx, "unknown")
	assert.False(t, st.Success)
	assert.Equal(t, domain.VaultStatus{}, st.Data)
}
