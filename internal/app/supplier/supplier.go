package supplier

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

// Option customises a Supplier.
type Option func(*Supplier)

// WithConfirmationObserver is called after every confirmation is sent.
func WithConfirmationObserver(fn func(message.Message)) Option {
	return func(s *Supplier) { s.onConfirmation = fn }
}

// WithAdminHandler is called for every admin broadcast the supplier receives.
func WithAdminHandler(fn func(message.Message)) Option {
	return func(s *Supplier) { s.onAdmin = fn }
}

// Stats counts a supplier's traffic since start.
type Stats struct {
	OrdersReceived    int64
	ConfirmationsSent int64
	AdminMessages     int64
	LastOrderNumber   int64
}

// Supplier confirms orders for the equipment types it stocks.
//
// Order numbers come from a private counter that starts at 1. They are
// unique per supplier only: two suppliers of the same equipment each number
// the same team order independently.
type Supplier struct {
	name      string
	equipment []string
	p         *participant.Participant
	logger    *logger.Logger

	onConfirmation func(message.Message)
	onAdmin        func(message.Message)

	// seq is only touched by the participant's dispatch goroutine.
	seq int

	received  atomic.Int64
	confirmed atomic.Int64
	admin     atomic.Int64
	last      atomic.Int64
}

// New configures a supplier for a non-empty set of equipment types.
// Duplicates are collapsed; blank entries are rejected.
func New(name string, equipment []string, log *logger.Logger, opts ...Option) (*Supplier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("supplier: name is required")
	}

	types, err := normalize(equipment)
	if err != nil {
		return nil, fmt.Errorf("supplier %q: %w", name, err)
	}

	s := &Supplier{
		name:      name,
		equipment: types,
		logger:    log,
		p:         participant.New(name, topology.SupplierPlan(name, types), log),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, t := range types {
		if err := s.p.Subscribe(topology.OrderQueue(t, name), s.handleOrder); err != nil {
			return nil, err
		}
	}
	if err := s.p.Subscribe(topology.SupplierAdminQueue(name), s.handleAdmin); err != nil {
		return nil, err
	}

	return s, nil
}

func normalize(equipment []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, t := range equipment {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, errors.New("blank equipment type")
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one equipment type is required")
	}
	return out, nil
}

// Name returns the supplier name.
func (s *Supplier) Name() string { return s.name }

// Equipment returns the supported equipment types in declaration order.
func (s *Supplier) Equipment() []string {
	return append([]string(nil), s.equipment...)
}

// Start connects and begins consuming.
func (s *Supplier) Start(ctx context.Context, connector ports.Connector) error {
	if err := s.p.Start(ctx, connector); err != nil {
		return err
	}
	s.logger.Info(ctx, "supplier_started", "Started, handles: "+strings.Join(s.equipment, ", "), map[string]any{
		"supplier":  s.name,
		"equipment": s.equipment,
	})
	return nil
}

// Close tears the supplier down; safe to call more than once.
func (s *Supplier) Close(ctx context.Context) error { return s.p.Close(ctx) }

// State returns the lifecycle state.
func (s *Supplier) State() participant.State { return s.p.State() }

// Done is closed when the supplier stops consuming.
func (s *Supplier) Done() <-chan struct{} { return s.p.Done() }

// Err reports why consumption stopped on its own.
func (s *Supplier) Err() error { return s.p.Err() }

// Stats returns traffic counters.
func (s *Supplier) Stats() Stats {
	return Stats{
		OrdersReceived:    s.received.Load(),
		ConfirmationsSent: s.confirmed.Load(),
		AdminMessages:     s.admin.Load(),
		LastOrderNumber:   s.last.Load(),
	}
}

func (s *Supplier) stocks(equipment string) bool {
	for _, t := range s.equipment {
		if t == equipment {
			return true
		}
	}
	return false
}

func (s *Supplier) nextOrderNumber() int {
	s.seq++
	s.last.Store(int64(s.seq))
	return s.seq
}

// handleOrder numbers the order, then confirms it to the ordering team and
// mirrors the confirmation to monitoring. Orders for stocked equipment are
// never rejected; anything else that lands on an order queue is dropped
// without consuming an order number.
func (s *Supplier) handleOrder(ctx context.Context, order message.Message) error {
	if order.Kind != message.KindOrder {
		s.logger.Warn(ctx, "unexpected_message", "Dropped non-order on order queue", map[string]any{
			"type": order.Kind,
		})
		return nil
	}
	if !s.stocks(order.EquipmentType) {
		s.logger.Warn(ctx, "unstocked_equipment", "Dropped order for equipment not stocked: "+order.EquipmentType, map[string]any{
			"supplier":       s.name,
			"equipment_type": order.EquipmentType,
			"team":           order.TeamName,
		})
		return nil
	}

	order.OrderNumber = s.nextOrderNumber()
	order.SupplierName = s.name
	s.received.Add(1)

	s.logger.Info(ctx, "order_received",
		fmt.Sprintf("Received order #%d for %s from %s", order.OrderNumber, order.EquipmentType, order.TeamName),
		map[string]any{
			"supplier":       s.name,
			"order_number":   order.OrderNumber,
			"equipment_type": order.EquipmentType,
			"team":           order.TeamName,
		})

	confirmation := message.NewConfirmation(order.TeamName, s.name, order.OrderNumber, order.EquipmentType)

	errConfirm := s.p.Publish(ctx, topology.ExchangeConfirmations, order.TeamName, confirmation)
	errMonitoring := s.p.Publish(ctx, topology.ExchangeMonitoring, "", confirmation)
	if err := errors.Join(errConfirm, errMonitoring); err != nil {
		return fmt.Errorf("supplier %q: confirm order #%d: %w", s.name, order.OrderNumber, err)
	}

	s.confirmed.Add(1)
	s.logger.Info(ctx, "confirmation_sent",
		fmt.Sprintf("Sent confirmation for order #%d to %s", order.OrderNumber, order.TeamName),
		map[string]any{
			"supplier":     s.name,
			"order_number": order.OrderNumber,
			"team":         order.TeamName,
		})

	if s.onConfirmation != nil {
		s.onConfirmation(confirmation)
	}
	return nil
}

func (s *Supplier) handleAdmin(ctx context.Context, msg message.Message) error {
	if msg.Kind != message.KindAdmin {
		s.logger.Warn(ctx, "unexpected_message", "Dropped non-admin message on admin queue", map[string]any{
			"type": msg.Kind,
		})
		return nil
	}

	s.admin.Add(1)
	s.logger.Info(ctx, "admin_message_received", "Admin message: "+msg.Content, map[string]any{
		"supplier": s.name,
		"group":    msg.RecipientGroup,
	})

	if s.onAdmin != nil {
		s.onAdmin(msg)
	}
	return nil
}
