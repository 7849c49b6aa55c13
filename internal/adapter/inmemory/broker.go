// Package inmemory is an in-process broker with AMQP 0-9-1 routing
// semantics for direct, topic and fanout exchanges. It backs the tests and
// the memory demo; messages live only as long as the Broker value.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
)

var (
	// ErrNotFound mirrors AMQP's NOT_FOUND channel error.
	ErrNotFound = errors.New("inmemory: not found")
	// ErrPreconditionFailed mirrors AMQP's PRECONDITION_FAILED channel error.
	ErrPreconditionFailed = errors.New("inmemory: precondition failed")
	// ErrDisconnected is returned by Connect after Disconnect.
	ErrDisconnected = errors.New("inmemory: broker unreachable")
)

// Broker holds exchanges, queues and bindings shared by all sessions.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]ports.ExchangeKind
	queues    map[string]*queue
	bindings  map[string]map[bindingKey]struct{} // exchange -> bindings
	sessions  map[*Session]struct{}
	down      bool
}

type bindingKey struct {
	queue      string
	routingKey string
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		exchanges: map[string]ports.ExchangeKind{},
		queues:    map[string]*queue{},
		bindings:  map[string]map[bindingKey]struct{}{},
		sessions:  map[*Session]struct{}{},
	}
}

// Connect opens a new session. It fails while the broker is disconnected.
func (b *Broker) Connect(ctx context.Context) (ports.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.down {
		return nil, ErrDisconnected
	}
	s := &Session{broker: b}
	b.sessions[s] = struct{}{}
	return s, nil
}

// Disconnect drops every open session as if the connection was lost, and
// refuses new sessions until Reconnect.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	b.down = true
	sessions := make([]*Session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Reconnect accepts new sessions again.
func (b *Broker) Reconnect() {
	b.mu.Lock()
	b.down = false
	b.mu.Unlock()
}

// Exchanges lists declared exchanges as "name:kind", sorted.
func (b *Broker) Exchanges() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.exchanges))
	for name, kind := range b.exchanges {
		out = append(out, name+":"+string(kind))
	}
	sort.Strings(out)
	return out
}

// Queues lists declared queues, sorted.
func (b *Broker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.queues))
	for name := range b.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Bindings lists bindings as "exchange|routing_key|queue", sorted.
func (b *Broker) Bindings() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	for ex, set := range b.bindings {
		for k := range set {
			out = append(out, ex+"|"+k.routingKey+"|"+k.queue)
		}
	}
	sort.Strings(out)
	return out
}

// Depth returns the number of messages waiting in queue with no consumer to take them.
func (b *Broker) Depth(name string) int {
	b.mu.Lock()
	q := b.queues[name]
	b.mu.Unlock()

	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Inject places a raw payload on queue, bypassing exchanges.
func (b *Broker) Inject(name string, body []byte) error {
	b.mu.Lock()
	q := b.queues[name]
	b.mu.Unlock()

	if q == nil {
		return fmt.Errorf("%w: queue %q", ErrNotFound, name)
	}
	q.push(ports.Delivery{Queue: name, Body: append([]byte(nil), body...)})
	return nil
}

func (b *Broker) declareExchange(name string, kind ports.ExchangeKind) error {
	switch kind {
	case ports.ExchangeDirect, ports.ExchangeTopic, ports.ExchangeFanout:
	default:
		return fmt.Errorf("%w: unknown exchange kind %q", ErrPreconditionFailed, kind)
	}
	if name == "" {
		return fmt.Errorf("%w: exchange name is empty", ErrPreconditionFailed)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.exchanges[name]; ok {
		if existing != kind {
			return fmt.Errorf("%w: exchange %q already declared as %s, not %s", ErrPreconditionFailed, name, existing, kind)
		}
		return nil
	}
	b.exchanges[name] = kind
	return nil
}

func (b *Broker) declareQueue(name string) error {
	if name == "" {
		return fmt.Errorf("%w: queue name is empty", ErrPreconditionFailed)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{name: name}
	}
	return nil
}

func (b *Broker) bind(queueName, exchange, routingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.exchanges[exchange]; !ok {
		return fmt.Errorf("%w: exchange %q", ErrNotFound, exchange)
	}
	if _, ok := b.queues[queueName]; !ok {
		return fmt.Errorf("%w: queue %q", ErrNotFound, queueName)
	}

	set := b.bindings[exchange]
	if set == nil {
		set = map[bindingKey]struct{}{}
		b.bindings[exchange] = set
	}
	set[bindingKey{queue: queueName, routingKey: routingKey}] = struct{}{}
	return nil
}

// route returns the queues a message reaches, each at most once.
func (b *Broker) route(exchange, routingKey string) ([]*queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kind, ok := b.exchanges[exchange]
	if !ok {
		return nil, fmt.Errorf("%w: exchange %q", ErrNotFound, exchange)
	}

	seen := map[string]bool{}
	var out []*queue
	for k := range b.bindings[exchange] {
		if seen[k.queue] || !matches(kind, k.routingKey, routingKey) {
			continue
		}
		seen[k.queue] = true
		out = append(out, b.queues[k.queue])
	}
	return out, nil
}

func (b *Broker) queue(name string) (*queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: queue %q", ErrNotFound, name)
	}
	return q, nil
}

func (b *Broker) forget(s *Session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}

func matches(kind ports.ExchangeKind, bindingKey, routingKey string) bool {
	switch kind {
	case ports.ExchangeFanout:
		return true
	case ports.ExchangeDirect:
		return bindingKey == routingKey
	case ports.ExchangeTopic:
		return topicMatch(strings.Split(bindingKey, "."), strings.Split(routingKey, "."))
	default:
		return false
	}
}

// topicMatch implements AMQP topic patterns: "*" matches exactly one word,
// "#" matches zero or more words.
func topicMatch(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}

	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if topicMatch(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && topicMatch(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && topicMatch(pattern[1:], words[1:])
	}
}
