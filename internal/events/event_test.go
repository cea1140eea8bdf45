package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

func TestEncodeDecode(t *testing.T) {
	ev := VaultEvent{
		Type:        TypeRebalanced,
		VaultID:     "v1",
		Message:     "Rebalance executed (collateral delta: -100.00), tx: tx-1",
		Links:       []string{"tx-1"},
		HealthRatio: "160.00",
		Delta:       -100,
		At:          time.Date(2026, 5, 1, 12, 0, 0, 123, time.UTC),
	}

	raw, err := Encode(ev)
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)

	raw, err := Encode(VaultEvent{Type: TypeChecked})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.Error(t, err)
}

type memBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (m *memBus) Publish(_ context.Context, ch string, p []byte) error {
	m.published[ch] = append(m.published[ch], p)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (m *memBus) StreamAppend(_ context.Context, s string, p []byte) error {
	m.streamed[s] = append(m.streamed[s], p)
	return nil
}

func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestPublishFillsTimestamp(t *testing.T) {
	bus := newMemBus()
	require.NoError(t, Publish(context.Background(), bus, VaultEvent{Type: TypeLiquidated, VaultID: "v1"}))

	require.Len(t, bus.published[Channel], 1)
	require.Len(t, bus.streamed[Stream], 1)
	got, err := Decode(bus.published[Channel][0])
	require.NoError(t, err)
	assert.Equal(t, TypeLiquidated, got.Type)
	assert.False(t, got.At.IsZero())
}
