package administrator_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"git.platform.alem.school/amibragim/expedition-supply/internal/adapter/inmemory"
	"git.platform.alem.school/amibragim/expedition-supply/internal/app/administrator"
	"git.platform.alem.school/amibragim/expedition-supply/internal/app/supplier"
	"git.platform.alem.school/amibragim/expedition-supply/internal/app/team"
	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/message"
	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/topology"
	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"
)

func quietLogger() *logger.Logger {
	return logger.NewLoggerTo("administrator-test", io.Discard).WithoutStacks()
}

// fakeJournal records observations and can be told to fail.
type fakeJournal struct {
	mu   sync.Mutex
	obs  []ports.Observation
	fail bool
}

func (j *fakeJournal) Record(_ context.Context, obs ports.Observation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("database is down")
	}
	j.obs = append(j.obs, obs)
	return nil
}

func (j *fakeJournal) recorded() []ports.Observation {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ports.Observation(nil), j.obs...)
}

func startAdmin(t *testing.T, broker *inmemory.Broker, opts ...administrator.Option) *administrator.Administrator {
	t.Helper()
	a, err := administrator.New(quietLogger(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background(), broker); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func observe(t *testing.T, ch <-chan ports.Observation, n int) []ports.Observation {
	t.Helper()
	var out []ports.Observation
	for len(out) < n {
		select {
		case o := <-ch:
			out = append(out, o)
		case <-time.After(2 * time.Second):
			t.Fatalf("observed %d of %d: %+v", len(out), n, out)
		}
	}
	return out
}

func TestClassify(t *testing.T) {
	order, _ := message.Encode(message.NewOrder("Team 1", "oxygen"))
	conf, _ := message.Encode(message.NewConfirmation("Team 1", "Supplier 2", 5, "oxygen"))
	admin, _ := message.Encode(message.NewAdmin("hi", message.GroupAll))

	tests := []struct {
		name string
		body []byte
		want ports.Observation
	}{
		{
			name: "order",
			body: order,
			want: ports.Observation{Kind: administrator.KindOrder, TeamName: "Team 1", EquipmentType: "oxygen"},
		},
		{
			name: "confirmation",
			body: conf,
			want: ports.Observation{Kind: administrator.KindConfirmation, TeamName: "Team 1", SupplierName: "Supplier 2", EquipmentType: "oxygen", OrderNumber: 5},
		},
		{name: "admin message", body: admin, want: ports.Observation{Kind: administrator.KindUnrecognized}},
		{name: "garbage", body: []byte("{{"), want: ports.Observation{Kind: administrator.KindUnrecognized}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := administrator.Classify(tt.body)
			if !bytes.Equal(got.Payload, tt.body) {
				t.Fatalf("payload = %q, want the original body", got.Payload)
			}
			got.Payload = nil
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBroadcastReachesTheRightGroups(t *testing.T) {
	broker := inmemory.NewBroker()
	teamGot := make(chan message.Message, 4)
	supGot := make(chan message.Message, 4)

	tm, err := team.New("Team 1", quietLogger(), team.WithAdminHandler(func(m message.Message) { teamGot <- m }))
	if err != nil {
		t.Fatal(err)
	}
	sp, err := supplier.New("Supplier 1", []string{"oxygen"}, quietLogger(), supplier.WithAdminHandler(func(m message.Message) { supGot <- m }))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := tm.Start(ctx, broker); err != nil {
		t.Fatal(err)
	}
	defer tm.Close(ctx)
	if err := sp.Start(ctx, broker); err != nil {
		t.Fatal(err)
	}
	defer sp.Close(ctx)

	a := startAdmin(t, broker)
	if err := a.SendToTeams(ctx, "to teams"); err != nil {
		t.Fatal(err)
	}
	if err := a.SendToSuppliers(ctx, "to suppliers"); err != nil {
		t.Fatal(err)
	}
	if err := a.SendToAll(ctx, "to all"); err != nil {
		t.Fatal(err)
	}

	recv := func(ch <-chan message.Message) []string {
		var out []string
		for len(out) < 2 {
			select {
			case m := <-ch:
				out = append(out, m.Content)
			case <-time.After(2 * time.Second):
				t.Fatalf("received only %v", out)
			}
		}
		return out
	}
	if got := recv(teamGot); got[0] != "to teams" || got[1] != "to all" {
		t.Fatalf("team received %v", got)
	}
	if got := recv(supGot); got[0] != "to suppliers" || got[1] != "to all" {
		t.Fatalf("supplier received %v", got)
	}

	if a.Stats().Broadcasts != 3 {
		t.Fatalf("Broadcasts = %d, want 3", a.Stats().Broadcasts)
	}
	if got := broker.Depth(topology.MonitoringQueue); got != 0 {
		t.Fatalf("admin messages leaked into monitoring: depth %d", got)
	}
}

func TestBroadcastRejectsUnknownGroup(t *testing.T) {
	a := startAdmin(t, inmemory.NewBroker())
	if _, err := a.Broadcast(context.Background(), "hi", message.Group("CREW")); err == nil {
		t.Fatal("expected error for unknown group")
	}
}

func TestMonitoringSeesUnmodifiedTraffic(t *testing.T) {
	broker := inmemory.NewBroker()
	seen := make(chan ports.Observation, 8)
	journal := &fakeJournal{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	a := startAdmin(t, broker,
		administrator.WithJournal(journal),
		administrator.WithObserver(func(o ports.Observation) { seen <- o }),
		administrator.WithClock(func() time.Time { return fixed }),
	)

	ctx := context.Background()
	sp, err := supplier.New("Supplier 1", []string{"oxygen"}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := sp.Start(ctx, broker); err != nil {
		t.Fatal(err)
	}
	defer sp.Close(ctx)

	tm, err := team.New("Team 1", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := tm.Start(ctx, broker); err != nil {
		t.Fatal(err)
	}
	defer tm.Close(ctx)

	if _, err := tm.PlaceOrder(ctx, "oxygen"); err != nil {
		t.Fatal(err)
	}

	// The confirmation can overtake the order's monitoring copy.
	obs := observe(t, seen, 2)
	if obs[0].Kind == administrator.KindConfirmation {
		obs[0], obs[1] = obs[1], obs[0]
	}
	if obs[0].Kind != administrator.KindOrder || obs[1].Kind != administrator.KindConfirmation {
		t.Fatalf("kinds = %s, %s", obs[0].Kind, obs[1].Kind)
	}

	wantOrder, _ := message.Encode(message.NewOrder("Team 1", "oxygen"))
	if !bytes.Equal(obs[0].Payload, wantOrder) {
		t.Fatalf("order payload = %s, want %s", obs[0].Payload, wantOrder)
	}
	wantConf, _ := message.Encode(message.NewConfirmation("Team 1", "Supplier 1", 1, "oxygen"))
	if !bytes.Equal(obs[1].Payload, wantConf) {
		t.Fatalf("confirmation payload = %s, want %s", obs[1].Payload, wantConf)
	}
	for _, o := range obs {
		if !o.ObservedAt.Equal(fixed) || o.MessageID == "" {
			t.Fatalf("observation missing metadata: %+v", o)
		}
	}

	if got := journal.recorded(); len(got) != 2 {
		t.Fatalf("journal has %d observations, want 2", len(got))
	}
	stats := a.Stats()
	if stats.Orders != 1 || stats.Confirmations != 1 || stats.Unrecognized != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestUnrecognizedTrafficAndJournalFailure(t *testing.T) {
	broker := inmemory.NewBroker()
	seen := make(chan ports.Observation, 4)
	journal := &fakeJournal{fail: true}
	a := startAdmin(t, broker,
		administrator.WithJournal(journal),
		administrator.WithObserver(func(o ports.Observation) { seen <- o }),
	)

	if err := broker.Inject(topology.MonitoringQueue, []byte("status: all good")); err != nil {
		t.Fatal(err)
	}
	order, _ := message.Encode(message.NewOrder("Team 1", "boots"))
	if err := broker.Inject(topology.MonitoringQueue, order); err != nil {
		t.Fatal(err)
	}

	obs := observe(t, seen, 2)
	if obs[0].Kind != administrator.KindUnrecognized || string(obs[0].Payload) != "status: all good" {
		t.Fatalf("first observation = %+v", obs[0])
	}
	if obs[1].Kind != administrator.KindOrder {
		t.Fatalf("a failing journal stopped monitoring: %+v", obs[1])
	}
	if a.Stats().Unrecognized != 1 {
		t.Fatalf("Unrecognized = %d, want 1", a.Stats().Unrecognized)
	}
}

// stuckJournal blocks until its context ends, like a database that stopped answering.
type stuckJournal struct {
	errs chan error
}

func (j *stuckJournal) Record(ctx context.Context, _ ports.Observation) error {
	<-ctx.Done()
	j.errs <- ctx.Err()
	return ctx.Err()
}

func TestSlowJournalDoesNotStallMonitoring(t *testing.T) {
	broker := inmemory.NewBroker()
	seen := make(chan ports.Observation, 4)
	journal := &stuckJournal{errs: make(chan error, 4)}
	startAdmin(t, broker,
		administrator.WithJournal(journal),
		administrator.WithJournalTimeout(50*time.Millisecond),
		administrator.WithObserver(func(o ports.Observation) { seen <- o }),
	)

	order, _ := message.Encode(message.NewOrder("Team 1", "oxygen"))
	for i := 0; i < 2; i++ {
		if err := broker.Inject(topology.MonitoringQueue, order); err != nil {
			t.Fatal(err)
		}
	}

	observe(t, seen, 2)
	for i := 0; i < 2; i++ {
		select {
		case err := <-journal.errs:
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("journal context ended with %v, want deadline exceeded", err)
			}
		case <-time.After(time.Second):
			t.Fatal("journal write was never cut off")
		}
	}
}

func TestNewRejectsBlankName(t *testing.T) {
	if _, err := administrator.New(quietLogger(), administrator.WithName(" ")); err == nil {
		t.Fatal("expected error for blank name")
	}
}
