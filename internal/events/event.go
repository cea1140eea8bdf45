// Package events defines the vault events broadcast on the signal bus and
// their protobuf wire encoding.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// Bus names.
const (
	Channel = "vaultkeeper:vault_events"
	Stream  = "vaultkeeper:vault_events:log"
)

// Type classifies a VaultEvent.
type Type string

const (
	TypeChecked     Type = "vault.checked"
	TypeLiquidated  Type = "vault.liquidated"
	TypeRebalanced  Type = "vault.rebalanced"
	TypeLeveraged   Type = "vault.leveraged"
	TypeOpFailed    Type = "vault.operation_failed"
	TypeInitialized Type = "vault.initialized"
)

// VaultEvent is a notable change or decision concerning one vault.
type VaultEvent struct {
	Type        Type      `json:"type"`
	VaultID     string    `json:"vault_id"`
	Message     string    `json:"message,omitempty"`
	Links       []string  `json:"links,omitempty"`
	HealthRatio string    `json:"health_ratio,omitempty"`
	Delta       float64   `json:"delta,omitempty"`
	At          time.Time `json:"at"`
}

// Encode serialises ev as a binary google.protobuf.Struct.
func Encode(ev VaultEvent) ([]byte, error) {
	links := make([]any, len(ev.Links))
	for i, l := range ev.Links {
		links[i] = l
	}
	st, err := structpb.NewStruct(map[string]any{
		"type":         string(ev.Type),
		"vault_id":     ev.VaultID,
		"message":      ev.Message,
		"links":        links,
		"health_ratio": ev.HealthRatio,
		"delta":        ev.Delta,
		"at":           ev.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("events: build struct: %w", err)
	}
	b, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("events: marshal: %w", err)
	}
	return b, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (VaultEvent, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return VaultEvent{}, fmt.Errorf("events: unmarshal: %w", err)
	}
	f := st.GetFields()

	ev := VaultEvent{
		Type:        Type(f["type"].GetStringValue()),
		VaultID:     f["vault_id"].GetStringValue(),
		Message:     f["message"].GetStringValue(),
		HealthRatio: f["health_ratio"].GetStringValue(),
		Delta:       f["delta"].GetNumberValue(),
	}
	if ev.Type == "" || ev.VaultID == "" {
		return VaultEvent{}, errors.New("events: missing type or vault_id")
	}
	for _, v := range f["links"].GetListValue().GetValues() {
		ev.Links = append(ev.Links, v.GetStringValue())
	}
	if at := f["at"].GetStringValue(); at != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return VaultEvent{}, fmt.Errorf("events: parse at: %w", err)
		}
		ev.At = t
	}
	return ev, nil
}

// Publish encodes ev and sends it to the live channel and the durable
// stream. A stream failure is reported even when the live publish worked.
func Publish(ctx context.Context, bus domain.SignalBus, ev VaultEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := bus.Publish(ctx, Channel, payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	if err := bus.StreamAppend(ctx, Stream, payload); err != nil {
		return fmt.Errorf("events: append %s: %w", ev.Type, err)
	}
	return nil
}
