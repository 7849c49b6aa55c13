package administrator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"git.platform.alem.school/amibragim/expedition-supply/internal/app/participant"
	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/message"
	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/topology"
	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"
)

// DefaultName is the administrator's participant name.
const DefaultName = "Administrator"

// DefaultJournalTimeout bounds one journal write.
const DefaultJournalTimeout = 3 * time.Second

// Observation kinds.
const (
	KindOrder        = "Order"
	KindConfirmation = "Confirmation"
	KindUnrecognized = "Unrecognized"
)

// Option customises an Administrator.
type Option func(*Administrator)

// WithName overrides DefaultName.
func WithName(name string) Option {
	return func(a *Administrator) { a.name = strings.TrimSpace(name) }
}

// WithJournal records every observation. Journal failures are logged only.
func WithJournal(j ports.Journal) Option {
	return func(a *Administrator) { a.journal = j }
}

// WithJournalTimeout overrides DefaultJournalTimeout. Non-positive values are ignored.
func WithJournalTimeout(d time.Duration) Option {
	return func(a *Administrator) {
		if d > 0 {
			a.journalTimeout = d
		}
	}
}

// WithObserver is called for every payload seen on the monitoring stream.
func WithObserver(fn func(ports.Observation)) Option {
	return func(a *Administrator) { a.observer = fn }
}

// WithClock replaces time.Now for observation timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Administrator) { a.now = now }
}

// Stats counts what the administrator has sent and seen.
type Stats struct {
	Broadcasts    int64
	Orders        int64
	Confirmations int64
	Unrecognized  int64
}

// Administrator broadcasts to groups of participants and watches the
// monitoring stream. It never alters or republishes monitored traffic.
type Administrator struct {
	name   string
	p      *participant.Participant
	logger *logger.Logger

	journal        ports.Journal
	journalTimeout time.Duration
	observer       func(ports.Observation)
	now            func() time.Time

	broadcasts    atomic.Int64
	orders        atomic.Int64
	confirmations atomic.Int64
	unrecognized  atomic.Int64
}

// New configures the administrator; nothing touches the broker until Start.
func New(log *logger.Logger, opts ...Option) (*Administrator, error) {
	a := &Administrator{
		name:           DefaultName,
		logger:         log,
		now:            time.Now,
		journalTimeout: DefaultJournalTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.name == "" {
		return nil, fmt.Errorf("administrator: name is required")
	}

	a.p = participant.New(a.name, topology.AdministratorPlan(), log)
	if err := a.p.SubscribeRaw(topology.MonitoringQueue, a.handleMonitoring); err != nil {
		return nil, err
	}
	return a, nil
}

// Name returns the participant name.
func (a *Administrator) Name() string { return a.name }

// Start connects and begins consuming the monitoring stream.
func (a *Administrator) Start(ctx context.Context, connector ports.Connector) error {
	if err := a.p.Start(ctx, connector); err != nil {
		return err
	}
	a.logger.Info(ctx, "administrator_started", "Started, watching the monitoring stream", map[string]any{
		"name":    a.name,
		"journal": a.journal != nil,
	})
	return nil
}

// Close tears the administrator down; safe to call more than once.
func (a *Administrator) Close(ctx context.Context) error { return a.p.Close(ctx) }

// State returns the lifecycle state.
func (a *Administrator) State() participant.State { return a.p.State() }

// Done is closed when the administrator stops consuming.
func (a *Administrator) Done() <-chan struct{} { return a.p.Done() }

// Err reports why consumption stopped on its own.
func (a *Administrator) Err() error { return a.p.Err() }

// Stats returns traffic counters.
func (a *Administrator) Stats() Stats {
	return Stats{
		Broadcasts:    a.broadcasts.Load(),
		Orders:        a.orders.Load(),
		Confirmations: a.confirmations.Load(),
		Unrecognized:  a.unrecognized.Load(),
	}
}

// Broadcast sends content to every participant of group via the admin topic exchange.
func (a *Administrator) Broadcast(ctx context.Context, content string, group message.Group) (message.Message, error) {
	if !group.Valid() {
		return message.Message{}, fmt.Errorf("administrator: unknown recipient group %q", group)
	}

	msg := message.NewAdmin(content, group)
	if err := a.p.Publish(ctx, topology.ExchangeAdmin, group.RoutingKey(), msg); err != nil {
		a.logger.Error(ctx, "broadcast_failed", "Failed to send admin message", err, map[string]any{
			"group": group,
		})
		return msg, err
	}

	a.broadcasts.Add(1)
	a.logger.Info(ctx, "broadcast_sent", fmt.Sprintf("Sent message to %s: %s", audience(group), content), map[string]any{
		"group":       group,
		"routing_key": group.RoutingKey(),
	})
	return msg, nil
}

// SendToTeams broadcasts to every team.
func (a *Administrator) SendToTeams(ctx context.Context, content string) error {
	_, err := a.Broadcast(ctx, content, message.GroupTeams)
	return err
}

// SendToSuppliers broadcasts to every supplier.
func (a *Administrator) SendToSuppliers(ctx context.Context, content string) error {
	_, err := a.Broadcast(ctx, content, message.GroupSuppliers)
	return err
}

// SendToAll broadcasts to every team and supplier.
func (a *Administrator) SendToAll(ctx context.Context, content string) error {
	_, err := a.Broadcast(ctx, content, message.GroupAll)
	return err
}

func audience(g message.Group) string {
	switch g {
	case message.GroupTeams:
		return "all Teams"
	case message.GroupSuppliers:
		return "all Suppliers"
	default:
		return "all participants"
	}
}

// Classify sorts a monitoring payload into Order, Confirmation or Unrecognized.
func Classify(body []byte) ports.Observation {
	obs := ports.Observation{Kind: KindUnrecognized, Payload: body}

	msg, err := message.Decode(body)
	if err != nil {
		return obs
	}

	switch msg.Kind {
	case message.KindOrder:
		obs.Kind = KindOrder
	case message.KindConfirmation:
		obs.Kind = KindConfirmation
	default:
		return obs
	}

	obs.TeamName = msg.TeamName
	obs.SupplierName = msg.SupplierName
	obs.EquipmentType = msg.EquipmentType
	obs.OrderNumber = msg.OrderNumber
	return obs
}

func (a *Administrator) handleMonitoring(ctx context.Context, d ports.Delivery) error {
	obs := Classify(d.Body)
	obs.ObservedAt = a.now().UTC()
	obs.MessageID = d.MessageID

	switch obs.Kind {
	case KindOrder:
		a.orders.Add(1)
		a.logger.Info(ctx, "monitoring_order",
			fmt.Sprintf("MONITORING - Order from %s for %s", obs.TeamName, obs.EquipmentType),
			map[string]any{"team": obs.TeamName, "equipment_type": obs.EquipmentType})
	case KindConfirmation:
		a.confirmations.Add(1)
		a.logger.Info(ctx, "monitoring_confirmation",
			fmt.Sprintf("MONITORING - Confirmation #%d from %s to %s", obs.OrderNumber, obs.SupplierName, obs.TeamName),
			map[string]any{"team": obs.TeamName, "supplier": obs.SupplierName, "order_number": obs.OrderNumber})
	default:
		a.unrecognized.Add(1)
		a.logger.Warn(ctx, "monitoring_unrecognized", "MONITORING - Unknown message type", map[string]any{
			"queue":   d.Queue,
			"payload": string(d.Body),
		})
	}

	if a.journal != nil {
		recCtx, cancel := context.WithTimeout(ctx, a.journalTimeout)
		err := a.journal.Record(recCtx, obs)
		cancel()
		if err != nil {
			a.logger.Error(ctx, "journal_record_failed", "Failed to record monitoring observation", err, map[string]any{
				"kind":       obs.Kind,
				"message_id": obs.MessageID,
			})
		}
	}

	if a.observer != nil {
		a.observer(obs)
	}
	return nil
}
