package topology

import (
	"context"
	"fmt"
	"strings"

	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/message"
	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
)

// Exchange names. The set is fixed for the lifetime of the system.
const (
	ExchangeOrders        = "orders"
	ExchangeConfirmations = "confirmations"
	ExchangeAdmin         = "admin"
	ExchangeMonitoring    = "monitoring"
)

// MonitoringQueue is the administrator's view of the monitoring fanout.
const MonitoringQueue = "monitoring_admin"

// Exchange is one exchange declaration.
type Exchange struct {
	Name string
	Kind ports.ExchangeKind
}

// Binding attaches a queue to an exchange under a routing key.
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// Exchanges returns the canonical exchange set in declaration order.
func Exchanges() []Exchange {
	return []Exchange{
		{Name: ExchangeOrders, Kind: ports.ExchangeDirect},
		{Name: ExchangeConfirmations, Kind: ports.ExchangeDirect},
		{Name: ExchangeAdmin, Kind: ports.ExchangeTopic},
		{Name: ExchangeMonitoring, Kind: ports.ExchangeFanout},
	}
}

// ConfirmationQueue is the queue a team receives its confirmations on.
func ConfirmationQueue(team string) string { return "confirmations_" + team }

// TeamAdminQueue is the queue a team receives admin broadcasts on.
func TeamAdminQueue(team string) string { return "admin_team_" + team }

// OrderQueue is the queue a supplier receives orders of one equipment type on.
// Both parts are escaped so that "_" only ever separates them: supplier "c"
// stocking "a_b" and supplier "b_c" stocking "a" get different queues.
func OrderQueue(equipment, supplier string) string {
	return fmt.Sprintf("orders_%s_%s", nameEscaper.Replace(equipment), nameEscaper.Replace(supplier))
}

// nameEscaper percent-encodes the separator and the escape character itself.
// Names containing neither are left as they are.
var nameEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// SupplierAdminQueue is the queue a supplier receives admin broadcasts on.
func SupplierAdminQueue(supplier string) string { return "admin_supplier_" + supplier }

// Plan is the part of the topology owned by one participant.
type Plan struct {
	Queues   []string
	Bindings []Binding
}

// TeamPlan declares the team's confirmation queue and its admin queue.
func TeamPlan(team string) Plan {
	confirmations := ConfirmationQueue(team)
	admin := TeamAdminQueue(team)

	return Plan{
		Queues: []string{confirmations, admin},
		Bindings: []Binding{
			{Queue: confirmations, Exchange: ExchangeConfirmations, RoutingKey: team},
			{Queue: admin, Exchange: ExchangeAdmin, RoutingKey: message.RoutingKeyTeams},
			{Queue: admin, Exchange: ExchangeAdmin, RoutingKey: message.RoutingKeyAll},
		},
	}
}

// SupplierPlan declares one order queue per equipment type plus the admin queue.
func SupplierPlan(supplier string, equipment []string) Plan {
	var plan Plan
	for _, t := range equipment {
		q := OrderQueue(t, supplier)
		plan.Queues = append(plan.Queues, q)
		plan.Bindings = append(plan.Bindings, Binding{Queue: q, Exchange: ExchangeOrders, RoutingKey: t})
	}

	admin := SupplierAdminQueue(supplier)
	plan.Queues = append(plan.Queues, admin)
	plan.Bindings = append(plan.Bindings,
		Binding{Queue: admin, Exchange: ExchangeAdmin, RoutingKey: message.RoutingKeySuppliers},
		Binding{Queue: admin, Exchange: ExchangeAdmin, RoutingKey: message.RoutingKeyAll},
	)
	return plan
}

// AdministratorPlan declares the single monitoring queue.
func AdministratorPlan() Plan {
	return Plan{
		Queues: []string{MonitoringQueue},
		Bindings: []Binding{
			{Queue: MonitoringQueue, Exchange: ExchangeMonitoring, RoutingKey: ""},
		},
	}
}

// Validate checks that every binding targets a planned queue and a canonical exchange.
func (p Plan) Validate() error {
	var problems []string

	queues := make(map[string]bool, len(p.Queues))
	for _, q := range p.Queues {
		if q == "" {
			problems = append(problems, "empty queue name")
			continue
		}
		if queues[q] {
			problems = append(problems, fmt.Sprintf("queue %q planned twice", q))
		}
		queues[q] = true
	}

	exchanges := map[string]bool{}
	for _, ex := range Exchanges() {
		exchanges[ex.Name] = true
	}

	for _, b := range p.Bindings {
		if !queues[b.Queue] {
			problems = append(problems, fmt.Sprintf("binding to unplanned queue %q", b.Queue))
		}
		if !exchanges[b.Exchange] {
			problems = append(problems, fmt.Sprintf("binding to unknown exchange %q", b.Exchange))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid topology plan: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Realize declares the canonical exchanges, then the plan's queues, then its
// bindings. Every step is idempotent on the broker side, so any participant
// may call it any number of times.
func Realize(ctx context.Context, d ports.Declarer, plan Plan) error {
	for _, ex := range Exchanges() {
		if err := d.DeclareExchange(ctx, ex.Name, ex.Kind); err != nil {
			return &TopologyError{Step: fmt.Sprintf("declare exchange %q (%s)", ex.Name, ex.Kind), Err: err}
		}
	}

	for _, q := range plan.Queues {
		if err := d.DeclareQueue(ctx, q); err != nil {
			return &TopologyError{Step: fmt.Sprintf("declare queue %q", q), Err: err}
		}
	}

	for _, b := range plan.Bindings {
		if err := d.BindQueue(ctx, b.Queue, b.Exchange, b.RoutingKey); err != nil {
			return &TopologyError{
				Step: fmt.Sprintf("bind queue %q to %q with key %q", b.Queue, b.Exchange, b.RoutingKey),
				Err:  err,
			}
		}
	}

	return nil
}

// TopologyError reports which declaration step failed.
type TopologyError struct {
	Step string
	Err  error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology: %s: %v", e.Step, e.Err)
}

// Unwrap returns the broker error.
func (e *TopologyError) Unwrap() error {
	return e.Err
}
