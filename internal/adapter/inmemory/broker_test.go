package inmemory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
)

func connect(t *testing.T, b *Broker) ports.Session {
	t.Helper()
	s, err := b.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func declare(t *testing.T, s ports.Session, exchange string, kind ports.ExchangeKind, bindings map[string][]string) {
	t.Helper()
	ctx := context.Background()
	if err := s.DeclareExchange(ctx, exchange, kind); err != nil {
		t.Fatalf("declare exchange: %v", err)
	}
	for q, keys := range bindings {
		if err := s.DeclareQueue(ctx, q); err != nil {
			t.Fatalf("declare queue: %v", err)
		}
		for _, k := range keys {
			if err := s.BindQueue(ctx, q, exchange, k); err != nil {
				t.Fatalf("bind: %v", err)
			}
		}
	}
}

func receive(t *testing.T, ch <-chan ports.Delivery) ports.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatal("delivery channel closed")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery")
	}
	return ports.Delivery{}
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"teams", "teams", true},
		{"teams", "all", false},
		{"*", "all", true},
		{"*", "a.b", false},
		{"#", "", true},
		{"#", "a.b.c", true},
		{"a.#", "a", true},
		{"a.#.c", "a.b.b.c", true},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.c", false},
		{"*.suppliers", "x.suppliers", true},
	}
	for _, tt := range tests {
		got := topicMatch(strings.Split(tt.pattern, "."), strings.Split(tt.key, "."))
		if got != tt.want {
			t.Errorf("topicMatch(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestRouting(t *testing.T) {
	b := NewBroker()
	s := connect(t, b)
	ctx := context.Background()

	declare(t, s, "orders", ports.ExchangeDirect, map[string][]string{
		"orders_oxygen_S1": {"oxygen"},
		"orders_oxygen_S2": {"oxygen"},
		"orders_boots_S1":  {"boots"},
	})
	declare(t, s, "admin", ports.ExchangeTopic, map[string][]string{
		"admin_team_T":     {"teams", "all"},
		"admin_supplier_S": {"suppliers", "all"},
	})
	declare(t, s, "monitoring", ports.ExchangeFanout, map[string][]string{
		"monitoring_admin": {""},
	})

	publish := func(ex, key string) {
		t.Helper()
		if err := s.Publish(ctx, ex, key, ports.Publishing{Body: []byte(ex + "/" + key)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	publish("orders", "oxygen")
	publish("orders", "backpack")
	publish("admin", "teams")
	publish("admin", "all")
	publish("monitoring", "ignored")

	want := map[string]int{
		"orders_oxygen_S1": 1,
		"orders_oxygen_S2": 1,
		"orders_boots_S1":  0,
		"admin_team_T":     2,
		"admin_supplier_S": 1,
		"monitoring_admin": 1,
	}
	for q, n := range want {
		if got := b.Depth(q); got != n {
			t.Errorf("depth(%s) = %d, want %d", q, got, n)
		}
	}
}

func TestPublishToUnknownExchange(t *testing.T) {
	s := connect(t, NewBroker())
	err := s.Publish(context.Background(), "nowhere", "", ports.Publishing{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRedeclareExchange(t *testing.T) {
	s := connect(t, NewBroker())
	ctx := context.Background()

	if err := s.DeclareExchange(ctx, "admin", ports.ExchangeTopic); err != nil {
		t.Fatal(err)
	}
	if err := s.DeclareExchange(ctx, "admin", ports.ExchangeTopic); err != nil {
		t.Fatalf("identical redeclare: %v", err)
	}
	if err := s.DeclareExchange(ctx, "admin", ports.ExchangeDirect); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("error = %v, want ErrPreconditionFailed", err)
	}
}

func TestBindRequiresBothEnds(t *testing.T) {
	s := connect(t, NewBroker())
	ctx := context.Background()

	if err := s.BindQueue(ctx, "q", "orders", "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if err := s.DeclareExchange(ctx, "orders", ports.ExchangeDirect); err != nil {
		t.Fatal(err)
	}
	if err := s.BindQueue(ctx, "q", "orders", "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound for missing queue", err)
	}
}

func TestConsumeReceivesBufferedThenLive(t *testing.T) {
	b := NewBroker()
	s := connect(t, b)
	ctx := context.Background()
	declare(t, s, "monitoring", ports.ExchangeFanout, map[string][]string{"m": {""}})

	pub := ports.Publishing{MessageID: "id-1", Headers: map[string]string{"x-request-id": "r"}, Body: []byte("first")}
	if err := s.Publish(ctx, "monitoring", "", pub); err != nil {
		t.Fatal(err)
	}

	ch, err := s.Consume(ctx, "m")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	d := receive(t, ch)
	if string(d.Body) != "first" || d.MessageID != "id-1" || d.Headers["x-request-id"] != "r" || d.Queue != "m" || d.Exchange != "monitoring" {
		t.Fatalf("unexpected delivery: %+v", d)
	}

	if err := s.Publish(ctx, "monitoring", "", ports.Publishing{Body: []byte("second")}); err != nil {
		t.Fatal(err)
	}
	if d := receive(t, ch); string(d.Body) != "second" {
		t.Fatalf("got %q, want second", d.Body)
	}
}

func TestCompetingConsumersRoundRobin(t *testing.T) {
	b := NewBroker()
	s := connect(t, b)
	ctx := context.Background()
	declare(t, s, "orders", ports.ExchangeDirect, map[string][]string{"q": {"k"}})

	a, _ := s.Consume(ctx, "q")
	c, _ := s.Consume(ctx, "q")

	for i := 0; i < 4; i++ {
		if err := s.Publish(ctx, "orders", "k", ports.Publishing{Body: []byte{byte('0' + i)}}); err != nil {
			t.Fatal(err)
		}
	}

	got := []string{string(receive(t, a).Body), string(receive(t, c).Body), string(receive(t, a).Body), string(receive(t, c).Body)}
	if strings.Join(got, "") != "0123" {
		t.Fatalf("round robin order = %v", got)
	}
}

func TestCancelledConsumerRequeues(t *testing.T) {
	b := NewBroker()
	s := connect(t, b)
	declare(t, s, "orders", ports.ExchangeDirect, map[string][]string{"q": {"k"}})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Consume(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	// The channel closes once the consumer has detached.
	for range ch {
	}

	if err := s.Publish(context.Background(), "orders", "k", ports.Publishing{Body: []byte("late")}); err != nil {
		t.Fatal(err)
	}
	if got := b.Depth("q"); got != 1 {
		t.Fatalf("depth = %d, want 1", got)
	}
}

func TestDisconnect(t *testing.T) {
	b := NewBroker()
	s, err := b.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	declare(t, s, "monitoring", ports.ExchangeFanout, map[string][]string{"m": {""}})
	ch, err := s.Consume(context.Background(), "m")
	if err != nil {
		t.Fatal(err)
	}

	b.Disconnect()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected delivery after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer channel not closed on disconnect")
	}

	if err := s.Publish(context.Background(), "monitoring", "", ports.Publishing{}); !errors.Is(err, ports.ErrSessionClosed) {
		t.Fatalf("publish after disconnect = %v, want ErrSessionClosed", err)
	}
	if _, err := b.Connect(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("connect while down = %v, want ErrDisconnected", err)
	}

	b.Reconnect()
	s2 := connect(t, b)
	if got := b.Queues(); len(got) != 1 || got[0] != "m" {
		t.Fatalf("queues lost across reconnect: %v", got)
	}
	if err := s2.Publish(context.Background(), "monitoring", "", ports.Publishing{}); err != nil {
		t.Fatalf("publish after reconnect: %v", err)
	}
}

func TestInject(t *testing.T) {
	b := NewBroker()
	s := connect(t, b)
	if err := s.DeclareQueue(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	if err := b.Inject("q", []byte("raw")); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if err := b.Inject("missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inject into missing queue = %v, want ErrNotFound", err)
	}
	if got := b.Depth("q"); got != 1 {
		t.Fatalf("depth = %d, want 1", got)
	}
}
