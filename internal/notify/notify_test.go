package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventVaultLiquidated, " "}, 0, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventVaultRebalanced, "rebalanced", "v1"))
	require.NoError(t, n.Notify(ctx, EventVaultLiquidated, "liquidated", "v1"))
	assert.Equal(t, []string{"liquidated"}, s.titles)
}

func TestNotifierSuppressesDuplicates(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, time.Hour, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventOperationFailed, "failed", "v1: timeout"))
	require.NoError(t, n.Notify(ctx, EventOperationFailed, "failed", "v1: timeout"))
	require.NoError(t, n.Notify(ctx, EventOperationFailed, "failed", "v2: timeout"))
	assert.Len(t, s.titles, 2)
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, discardLogger())

	err := n.Notify(context.Background(), EventVaultLiquidated, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, 0, discardLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventVaultLiquidated, "t", "m"))

	var nilNotifier *Notifier
	assert.False(t, nilNotifier.Enabled())
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	now = now.Add(2 * time.Minute)
	assert.False(t, d.IsDuplicate("a"))
	assert.Len(t, d.seen, 1)
}

func TestDiscordSender(t *testing.T) {
	var got map[string][]discordEmbed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Vault liquidated", "v1 tx-1"))
	require.Len(t, got["embeds"], 1)
	assert.Equal(t, "Vault liquidated", got["embeds"][0].Title)
	assert.Equal(t, "v1 tx-1", got["embeds"][0].Description)
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), "Vault liquidated", "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "VAULT LIQUIDATED\nv1", got["text"])
}
