package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"git.platform.alem.school/amibragim/expedition-supply/internal/app/participant"
	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/message"
	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/topology"
	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"
)

// Option customises a Team.
type Option func(*Team)

// WithConfirmationHandler is called for every confirmation the team receives.
func WithConfirmationHandler(fn func(message.Message)) Option {
	return func(t *Team) { t.onConfirmation = fn }
}

// WithAdminHandler is called for every admin broadcast the team receives.
func WithAdminHandler(fn func(message.Message)) Option {
	return func(t *Team) { t.onAdmin = fn }
}

// Stats counts a team's traffic since start.
type Stats struct {
	OrdersPlaced          int64
	ConfirmationsReceived int64
	AdminMessages         int64
}

// Team orders equipment and listens for confirmations and admin broadcasts.
type Team struct {
	name   string
	p      *participant.Participant
	logger *logger.Logger

	onConfirmation func(message.Message)
	onAdmin        func(message.Message)

	placed    atomic.Int64
	confirmed atomic.Int64
	admin     atomic.Int64
}

// New configures a team; nothing touches the broker until Start.
func New(name string, log *logger.Logger, opts ...Option) (*Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("team: name is required")
	}

	t := &Team{
		name:   name,
		logger: log,
		p:      participant.New(name, topology.TeamPlan(name), log),
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.p.Subscribe(topology.ConfirmationQueue(name), t.handleConfirmation); err != nil {
		return nil, err
	}
	if err := t.p.Subscribe(topology.TeamAdminQueue(name), t.handleAdmin); err != nil {
		return nil, err
	}

	return t, nil
}

// Name returns the team name.
func (t *Team) Name() string { return t.name }

// Start connects and begins consuming.
func (t *Team) Start(ctx context.Context, connector ports.Connector) error {
	return t.p.Start(ctx, connector)
}

// Close tears the team down; safe to call more than once.
func (t *Team) Close(ctx context.Context) error { return t.p.Close(ctx) }

// State returns the lifecycle state.
func (t *Team) State() participant.State { return t.p.State() }

// Done is closed when the team stops consuming.
func (t *Team) Done() <-chan struct{} { return t.p.Done() }

// Err reports why consumption stopped on its own.
func (t *Team) Err() error { return t.p.Err() }

// Stats returns traffic counters.
func (t *Team) Stats() Stats {
	return Stats{
		OrdersPlaced:          t.placed.Load(),
		ConfirmationsReceived: t.confirmed.Load(),
		AdminMessages:         t.admin.Load(),
	}
}

// PlaceOrder publishes an order to the suppliers of equipmentType and mirrors
// it to monitoring. Both publishes are attempted; their errors are joined.
func (t *Team) PlaceOrder(ctx context.Context, equipmentType string) (message.Message, error) {
	equipmentType = strings.TrimSpace(equipmentType)
	if equipmentType == "" {
		return message.Message{}, errors.New("team: equipment type is required")
	}

	order := message.NewOrder(t.name, equipmentType)

	errOrders := t.p.Publish(ctx, topology.ExchangeOrders, equipmentType, order)
	errMonitoring := t.p.Publish(ctx, topology.ExchangeMonitoring, "", order)
	if err := errors.Join(errOrders, errMonitoring); err != nil {
		t.logger.Error(ctx, "order_publish_failed", "Failed to place order", err, map[string]any{
			"team":           t.name,
			"equipment_type": equipmentType,
		})
		return order, fmt.Errorf("team %q: place order for %q: %w", t.name, equipmentType, err)
	}

	t.placed.Add(1)
	t.logger.Info(ctx, "order_placed", fmt.Sprintf("Sent order for: %s", equipmentType), map[string]any{
		"team":           t.name,
		"equipment_type": equipmentType,
	})

	return order, nil
}

func (t *Team) handleConfirmation(ctx context.Context, msg message.Message) error {
	if msg.Kind != message.KindConfirmation {
		t.logger.Warn(ctx, "unexpected_message", "Dropped non-confirmation on confirmation queue", map[string]any{
			"type": msg.Kind,
		})
		return nil
	}

	t.confirmed.Add(1)
	t.logger.Info(ctx, "confirmation_received",
		fmt.Sprintf("Received confirmation for order #%d for %s from %s", msg.OrderNumber, msg.EquipmentType, msg.SupplierName),
		map[string]any{
			"team":           t.name,
			"supplier":       msg.SupplierName,
			"order_number":   msg.OrderNumber,
			"equipment_type": msg.EquipmentType,
		})

	if t.onConfirmation != nil {
		t.onConfirmation(msg)
	}
	return nil
}

func (t *Team) handleAdmin(ctx context.Context, msg message.Message) error {
	if msg.Kind != message.KindAdmin {
		t.logger.Warn(ctx, "unexpected_message", "Dropped non-admin message on admin queue", map[string]any{
			"type": msg.Kind,
		})
		return nil
	}

	t.admin.Add(1)
	t.logger.Info(ctx, "admin_message_received", "Admin message: "+msg.Content, map[string]any{
		"team":  t.name,
		"group": msg.RecipientGroup,
	})

	if t.onAdmin != nil {
		t.onAdmin(msg)
	}
	return nil
}
