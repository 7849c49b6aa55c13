package demo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"git.platform.alem.school/amibragim/expedition-supply/internal/app/administrator"
	"git.platform.alem.school/amibragim/expedition-supply/internal/app/supplier"
	"git.platform.alem.school/amibragim/expedition-supply/internal/app/team"
	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/message"
	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"
)

// stock lists each demo supplier with the equipment it carries.
var stock = []struct {
	name      string
	equipment []string
}{
	{"Supplier 1", []string{"oxygen", "boots"}},
	{"Supplier 2", []string{"oxygen", "backpack"}},
}

var teamNames = []string{"Team 1", "Team 2"}

// orderingTeam places the whole order series; the other team only listens.
const orderingTeam = "Team 1"

var orders = []string{"oxygen", "oxygen", "boots", "boots", "backpack", "backpack"}

// Summary is what the scenario observed by the time it tore down.
type Summary struct {
	OrdersPlaced          int
	ConfirmationsReceived int
	AdminMessages         int
	Monitored             int
	Teams                 map[string]team.Stats
	Suppliers             map[string]supplier.Stats
}

// expectedConfirmations counts how many suppliers answer the scripted orders.
func expectedConfirmations() int {
	n := 0
	for _, equipment := range orders {
		for _, s := range stock {
			for _, e := range s.equipment {
				if e == equipment {
					n++
				}
			}
		}
	}
	return n
}

type closer interface {
	Close(ctx context.Context) error
}

// runScenario starts the administrator, two teams and two suppliers against
// connector, places the order series from orderingTeam, broadcasts to each
// group, waits for the traffic to settle, then closes everyone.
func runScenario(ctx context.Context, connector ports.Connector, log *logger.Logger, settle time.Duration) (Summary, error) {
	var (
		confirmations atomic.Int64
		adminMessages atomic.Int64
		monitored     atomic.Int64
		started       []closer
	)

	wantConfirmations := int64(expectedConfirmations())
	wantAdmin := int64(2 * (len(teamNames) + len(stock)))
	wantMonitored := int64(len(orders)) + wantConfirmations
	settled := make(chan struct{})
	var settledFlag atomic.Bool
	check := func() {
		if confirmations.Load() >= wantConfirmations && adminMessages.Load() >= wantAdmin &&
			monitored.Load() >= wantMonitored &&
			settledFlag.CompareAndSwap(false, true) {
			close(settled)
		}
	}

	closeAll := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		var errs []error
		for i := len(started) - 1; i >= 0; i-- {
			errs = append(errs, started[i].Close(shutdownCtx))
		}
		return errors.Join(errs...)
	}

	admin, err := administrator.New(log.Named(administrator.DefaultName),
		administrator.WithObserver(func(ports.Observation) {
			monitored.Add(1)
			check()
		}))
	if err != nil {
		return Summary{}, err
	}
	if err := admin.Start(ctx, connector); err != nil {
		return Summary{}, err
	}
	started = append(started, admin)

	onAdmin := func(message.Message) {
		adminMessages.Add(1)
		check()
	}

	var orderer *team.Team
	teams := make([]*team.Team, 0, len(teamNames))
	for _, name := range teamNames {
		tm, err := team.New(name, log.Named(name),
			team.WithConfirmationHandler(func(message.Message) {
				confirmations.Add(1)
				check()
			}),
			team.WithAdminHandler(onAdmin))
		if err != nil {
			return Summary{}, errors.Join(err, closeAll())
		}
		if err := tm.Start(ctx, connector); err != nil {
			return Summary{}, errors.Join(err, closeAll())
		}
		started = append(started, tm)
		teams = append(teams, tm)
		if name == orderingTeam {
			orderer = tm
		}
	}

	suppliers := make([]*supplier.Supplier, 0, len(stock))
	for _, s := range stock {
		sp, err := supplier.New(s.name, s.equipment, log.Named(s.name), supplier.WithAdminHandler(onAdmin))
		if err != nil {
			return Summary{}, errors.Join(err, closeAll())
		}
		if err := sp.Start(ctx, connector); err != nil {
			return Summary{}, errors.Join(err, closeAll())
		}
		started = append(started, sp)
		suppliers = append(suppliers, sp)
	}

	var placeErr error
	for _, equipment := range orders {
		if _, err := orderer.PlaceOrder(ctx, equipment); err != nil {
			placeErr = errors.Join(placeErr, err)
		}
	}

	broadcasts := []func(context.Context, string) error{admin.SendToTeams, admin.SendToSuppliers, admin.SendToAll}
	contents := []string{"Message to all Teams", "Message to all Suppliers", "Message to EVERYONE"}
	for i, send := range broadcasts {
		if err := send(ctx, contents[i]); err != nil {
			placeErr = errors.Join(placeErr, err)
		}
	}

	var waitErr error
	select {
	case <-settled:
	case <-ctx.Done():
		waitErr = ctx.Err()
	case <-time.After(settle):
		waitErr = fmt.Errorf("traffic did not settle within %s: %d/%d confirmations, %d/%d admin messages, %d/%d monitored",
			settle, confirmations.Load(), wantConfirmations, adminMessages.Load(), wantAdmin, monitored.Load(), wantMonitored)
	}

	summary := Summary{
		ConfirmationsReceived: int(confirmations.Load()),
		AdminMessages:         int(adminMessages.Load()),
		Teams:                 map[string]team.Stats{},
		Suppliers:             map[string]supplier.Stats{},
	}
	for _, tm := range teams {
		stats := tm.Stats()
		summary.Teams[tm.Name()] = stats
		summary.OrdersPlaced += int(stats.OrdersPlaced)
	}
	for _, sp := range suppliers {
		summary.Suppliers[sp.Name()] = sp.Stats()
	}

	closeErr := closeAll()
	summary.Monitored = int(monitored.Load())

	return summary, errors.Join(placeErr, waitErr, closeErr)
}
