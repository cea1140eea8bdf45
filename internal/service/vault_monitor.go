package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
	"github.com/alanyoungcy/vaultkeeper/internal/events"
	"github.com/alanyoungcy/vaultkeeper/internal/notify"
	"github.com/alanyoungcy/vaultkeeper/internal/vault"
)

// VaultTarget is one vault under watch. Rebalancing is skipped when
// TargetHealthRatio is zero.
type VaultTarget struct {
	VaultID           string
	MinHealthRatio    float64
	TargetHealthRatio float64
}

// VaultOperator is the slice of vault.Operations the monitor drives.
type VaultOperator interface {
	Liquidate(ctx context.Context, p domain.LiquidationParams) (vault.Outcome, error)
	Rebalance(ctx context.Context, p domain.RebalanceParams) (vault.Outcome, error)
}

// Alerter sends operator alerts. *notify.Notifier implements it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// VaultMonitor is the control loop: on every tick it checks each target for
// liquidation and, when the vault survived, rebalances it. Vaults are
// handled in parallel up to the concurrency limit; the steps for one vault
// run in order.
type VaultMonitor struct {
	ops         VaultOperator
	targets     []VaultTarget
	interval    time.Duration
	concurrency int
	bus         domain.SignalBus
	alerts      Alerter
	logger      *slog.Logger
}

// NewVaultMonitor creates a VaultMonitor. bus and alerts may be nil.
func NewVaultMonitor(
	ops VaultOperator,
	targets []VaultTarget,
	interval time.Duration,
	concurrency int,
	bus domain.SignalBus,
	alerts Alerter,
	logger *slog.Logger,
) *VaultMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &VaultMonitor{
		ops:         ops,
		targets:     targets,
		interval:    interval,
		concurrency: concurrency,
		bus:         bus,
		alerts:      alerts,
		logger:      logger.With(slog.String("component", "vault_monitor")),
	}
}

// Run checks all vaults immediately and then on every tick until ctx ends.
// Per-vault failures are logged and alerted, never returned.
func (m *VaultMonitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "vault monitor started",
		slog.Int("vaults", len(m.targets)),
		slog.Duration("interval", m.interval),
	)
	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs one pass over every target and waits for it to finish.
func (m *VaultMonitor) CheckAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, t := range m.targets {
		g.Go(func() error {
			m.checkVault(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *VaultMonitor) checkVault(ctx context.Context, t VaultTarget) {
	if ctx.Err() != nil {
		return
	}
	log := m.logger.With(slog.String("vault_id", t.VaultID))

	liq, err := m.ops.Liquidate(ctx, domain.LiquidationParams{
		VaultID:        t.VaultID,
		MinHealthRatio: t.MinHealthRatio,
	})
	if err != nil {
		m.failed(ctx, log, t.VaultID, "liquidation check", err)
		return
	}
	if liq.Action == vault.ActionLiquidated {
		log.WarnContext(ctx, "vault liquidated", slog.String("message", liq.Message))
		m.emit(ctx, events.TypeLiquidated, liq)
		m.alert(ctx, notify.EventVaultLiquidated,
			fmt.Sprintf("Vault %s liquidated", t.VaultID),
			fmt.Sprintf("Health ratio %s fell below %.2f. %s", liq.Status.HealthRatio, t.MinHealthRatio, liq.Message))
		return
	}

	if t.TargetHealthRatio <= 0 {
		m.emit(ctx, events.TypeChecked, liq)
		return
	}

	reb, err := m.ops.Rebalance(ctx, domain.RebalanceParams{
		VaultID:           t.VaultID,
		TargetHealthRatio: t.TargetHealthRatio,
	})
	if err != nil {
		m.failed(ctx, log, t.VaultID, "rebalance", err)
		return
	}
	if reb.Action == vault.ActionNone {
		m.emit(ctx, events.TypeChecked, reb)
		return
	}

	log.InfoContext(ctx, "vault rebalanced", slog.String("message", reb.Message))
	m.emit(ctx, events.TypeRebalanced, reb)
	m.alert(ctx, notify.EventVaultRebalanced,
		fmt.Sprintf("Vault %s rebalanced", t.VaultID),
		reb.Message)
}

func (m *VaultMonitor) failed(ctx context.Context, log *slog.Logger, vaultID, step string, err error) {
	log.ErrorContext(ctx, "vault "+step+" failed", slog.String("error", err.Error()))
	m.emit(ctx, events.TypeOpFailed, vault.Outcome{VaultID: vaultID, Message: step + ": " + err.Error()})
	m.alert(ctx, notify.EventOperationFailed,
		fmt.Sprintf("Vault %s %s failed", vaultID, step),
		err.Error())
}

func (m *VaultMonitor) emit(ctx context.Context, typ events.Type, out vault.Outcome) {
	if m.bus == nil {
		return
	}
	ev := events.VaultEvent{
		Type:    typ,
		VaultID: out.VaultID,
		Message: out.Message,
		Links:   out.Links,
		Delta:   out.Delta,
	}
	if out.Status.VaultID != "" {
		ev.HealthRatio = out.Status.HealthRatio.String()
	}
	if err := events.Publish(ctx, m.bus, ev); err != nil {
		m.logger.WarnContext(ctx, "publish vault event failed",
			slog.String("vault_id", out.VaultID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *VaultMonitor) alert(ctx context.Context, event, title, message string) {
	if m.alerts == nil {
		return
	}
	if err := m.alerts.Notify(ctx, event, title, message); err != nil {
		m.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
	}
}
