package vault

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

func TestNewEngineRejectsNegativeRetryLimit(t *testing.T) {
	for _, cfg := range []domain.VaultConfig{
		{RetryLimit: -1},
		{RetryLimit: -1, NetworkID: "mainnet", ClientID: "c1", RetryDelay: time.Second},
		{RetryLimit: -1, AttemptTimeout: time.Second},
	} {
		_, err := NewEngine(cfg, newStubTransport())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrValidation)

		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "retry_limit", ve.Field)
	}
}

func TestNewEngineDefaults(t *testing.T) {
	e, err := NewEngine(domain.VaultConfig{RetryLimit: 2}, newStubTransport())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), e.Config().RetryDelay)

	_, err = NewEngine(domain.VaultConfig{RetryDelay: -time.Millisecond}, newStubTransport())
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewEngine(domain.VaultConfig{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRetryExhaustionCallsTransportNPlusOneTimes(t *testing.T) {
	for n := 0; n <= 4; n++ {
		failures := make([]error, n+1)
		for i := range failures {
			failures[i] = errNetwork
		}
		tr := newStubTransport(failures...)
		e, sleeper, err := newTestEngine(domain.VaultConfig{RetryLimit: n, RetryDelay: 250 * time.Millisecond}, tr)
		require.NoError(t, err)

		_, err = e.Deposit(context.Background(), "v1", 10)
		require.Error(t, err)
		assert.Len(t, tr.sent(), n+1)
		assert.Equal(t, n, sleeper.count())
		for _, d := range sleeper.sleeps {
			assert.Equal(t, 250*time.Millisecond, d)
		}

		var ofe *domain.OperationFailedError
		require.ErrorAs(t, err, &ofe)
		assert.Equal(t, domain.OpDepositCollateral, ofe.Operation)
		assert.Equal(t, n+1, ofe.Attempts)
		assert.ErrorIs(t, err, errNetwork)
		assert.Contains(t, err.Error(), "depositCollateral failed after")
		assert.Contains(t, err.Error(), "connection reset")
	}
}

func TestRetrySucceedsOnAttemptK(t *testing.T) {
	const limit = 3
	for k := 1; k <= limit+1; k++ {
		failures := make([]error, k-1)
		for i := range failures {
			failures[i] = errNetwork
		}
		tr := newStubTransport(failures...)
		e, sleeper, err := newTestEngine(domain.VaultConfig{RetryLimit: limit}, tr)
		require.NoError(t, err)

		link, err := e.Withdraw(context.Background(), "v1", 5)
		require.NoError(t, err)
		assert.Equal(t, "tx-1", link)
		assert.Len(t, tr.sent(), k)
		assert.Equal(t, k-1, sleeper.count())
	}
}

func TestFatalErrorStopsRetrying(t *testing.T) {
	rejected := domain.Fatal(domain.OpWithdrawCollateral, errors.New("insufficient collateral"))
	tr := newStubTransport(rejected, nil)
	e, sleeper, err := newTestEngine(domain.VaultConfig{RetryLimit: 5}, tr)
	require.NoError(t, err)

	_, err = e.Withdraw(context.Background(), "v1", 1000)
	require.Error(t, err)
	assert.Len(t, tr.sent(), 1)
	assert.Zero(t, sleeper.count())

	var ofe *domain.OperationFailedError
	require.ErrorAs(t, err, &ofe)
	assert.Equal(t, 1, ofe.Attempts)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestValidationNeverReachesTransport(t *testing.T) {
	tr := newStubTransport()
	e, _, err := newTestEngine(domain.VaultConfig{RetryLimit: 3}, tr)
	require.NoError(t, err)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
	}{
		{"empty id init", func() error { _, err := e.Initialize(ctx, "", 10); return err }},
		{"zero init", func() error { _, err := e.Initialize(ctx, "v1", 0); return err }},
		{"negative deposit", func() error { _, err := e.Deposit(ctx, "v1", -1); return err }},
		{"nan deposit", func() error { _, err := e.Deposit(ctx, "v1", math.NaN()); return err }},
		{"inf withdraw", func() error { _, err := e.Withdraw(ctx, "v1", math.Inf(1)); return err }},
		{"empty id status", func() error { _, err := e.GetStatus(ctx, ""); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.NotErrorIs(t, err, domain.ErrOperationFailed)
		})
	}
	assert.Empty(t, tr.sent())
	assert.Zero(t, tr.callCount())
}

func TestIdempotencyKeyStableAcrossRetries(t *testing.T) {
	tr := newStubTransport(errNetwork, errNetwork)
	e, _, err := newTestEngine(domain.VaultConfig{RetryLimit: 2}, tr, WithSequence(NewMemorySequence(0)))
	require.NoError(t, err)

	_, err = e.Initialize(context.Background(), "v1", 100)
	require.NoError(t, err)

	sent := tr.sent()
	require.Len(t, sent, 3)
	key := sent[0].Params["idempotencyKey"]
	assert.Equal(t, IdempotencyKey("v1", domain.OpInitVault, 1), key)
	for _, c := range sent {
		assert.Equal(t, key, c.Params["idempotencyKey"])
		assert.Equal(t, domain.OpInitVault, c.Operation)
		assert.Equal(t, 100.0, c.Params["initialCollateral"])
	}

	_, err = e.Deposit(context.Background(), "v1", 1)
	require.NoError(t, err)
	last := tr.sent()[3]
	assert.NotEqual(t, key, last.Params["idempotencyKey"])
}

func TestGetStatusHealthRatio(t *testing.T) {
	tr := newStubTransport()
	tr.setStatus("a", 150, 100)
	tr.setStatus("b", 500, 0)
	tr.setStatus("c", 33.333, 100)
	tr.setStatus("d", 0, 0)
	e, _, err := newTestEngine(domain.VaultConfig{}, tr)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := e.GetStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthRatio(150), s.HealthRatio)
	assert.Equal(t, "a", s.VaultID)

	s, err = e.GetStatus(ctx, "b")
	require.NoError(t, err)
	assert.True(t, s.HealthRatio.IsInfinite())

	s, err = e.GetStatus(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.HealthRatio(33.33), s.HealthRatio)

	s, err = e.GetStatus(ctx, "d")
	require.NoError(t, err)
	assert.True(t, s.HealthRatio.IsInfinite())
}

func TestGetStatusIsRepeatable(t *testing.T) {
	tr := newStubTransport()
	tr.setStatus("v1", 1234.5, 987.6)
	e, _, err := newTestEngine(domain.VaultConfig{}, tr)
	require.NoError(t, err)

	first, err := e.GetStatus(context.Background(), "v1")
	require.NoError(t, err)
	second, err := e.GetStatus(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetStatusRejectsMalformedReply(t *testing.T) {
	tr := newStubTransport()
	tr.setStatus("v1", -5, 10)
	e, sleeper, err := newTestEngine(domain.VaultConfig{RetryLimit: 1}, tr)
	require.NoError(t, err)

	_, err = e.GetStatus(context.Background(), "v1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOperationFailed)
	assert.Equal(t, 2, tr.callCount())
	assert.Equal(t, 1, sleeper.count())
}

func TestCancelledContextStopsRetries(t *testing.T) {
	tr := newStubTransport(errNetwork, errNetwork, errNetwork)
	e, err := NewEngine(domain.VaultConfig{RetryLimit: 5, RetryDelay: time.Hour}, tr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(tr.sent()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err = e.Deposit(ctx, "v1", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrOperationFailed)
	assert.Len(t, tr.sent(), 1)
}

func TestExpiredContextMakesNoAttempt(t *testing.T) {
	tr := newStubTransport()
	e, _, err := newTestEngine(domain.VaultConfig{RetryLimit: 2}, tr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Deposit(ctx, "v1", 1)

	var ofe *domain.OperationFailedError
	require.ErrorAs(t, err, &ofe)
	assert.Zero(t, ofe.Attempts)
	assert.Empty(t, tr.sent())
}

type memOpStore struct {
	records []domain.OperationRecord
}

func (m *memOpStore) Record(_ context.Context, op domain.OperationRecord) error {
	m.records = append(m.records, op)
	return nil
}

func (m *memOpStore) ListByVault(context.Context, string, domain.ListOpts) ([]domain.OperationRecord, error) {
	return m.records, nil
}

func (m *memOpStore) ListBefore(context.Context, time.Time) ([]domain.OperationRecord, error) {
	return m.records, nil
}

func TestSuccessfulMutationIsRecorded(t *testing.T) {
	store := &memOpStore{}
	tr := newStubTransport(errNetwork)
	e, _, err := newTestEngine(domain.VaultConfig{RetryLimit: 1}, tr, WithOperationStore(store))
	require.NoError(t, err)

	link, err := e.Deposit(context.Background(), "v9", 42)
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "v9", rec.VaultID)
	assert.Equal(t, domain.OpDepositCollateral, rec.Operation)
	assert.Equal(t, 42.0, rec.Amount)
	assert.Equal(t, link, rec.Link)
	assert.Equal(t, 2, rec.Attempts)
	assert.NotEmpty(t, rec.IdempotencyKey)
}
