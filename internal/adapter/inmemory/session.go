package inmemory

import (
	"context"
	"sync"

	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
)

// Session is one client's view of the broker.
type Session struct {
	broker *Broker

	mu        sync.Mutex
	closed    bool
	consumers []attachment
}

type attachment struct {
	q *queue
	c *consumer
}

var _ ports.Session = (*Session)(nil)

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DeclareExchange declares an exchange; re-declaring with another kind fails.
func (s *Session) DeclareExchange(ctx context.Context, name string, kind ports.ExchangeKind) error {
	if s.isClosed() {
		return ports.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.broker.declareExchange(name, kind)
}

// DeclareQueue declares a queue; re-declaring is a no-op.
func (s *Session) DeclareQueue(ctx context.Context, name string) error {
	if s.isClosed() {
		return ports.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.broker.declareQueue(name)
}

// BindQueue binds a queue; both ends must exist.
func (s *Session) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	if s.isClosed() {
		return ports.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.broker.bind(queue, exchange, routingKey)
}

// Publish routes p to every matching queue. Unroutable messages are dropped.
func (s *Session) Publish(ctx context.Context, exchange, routingKey string, p ports.Publishing) error {
	if s.isClosed() {
		return ports.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	queues, err := s.broker.route(exchange, routingKey)
	if err != nil {
		return err
	}

	for _, q := range queues {
		q.push(ports.Delivery{
			Queue:      q.name,
			Exchange:   exchange,
			RoutingKey: routingKey,
			MessageID:  p.MessageID,
			Headers:    copyHeaders(p.Headers),
			Body:       append([]byte(nil), p.Body...),
		})
	}
	return nil
}

// Consume attaches a new consumer to queue. Several consumers on one queue
// compete round-robin, as on a real broker.
func (s *Session) Consume(ctx context.Context, name string) (<-chan ports.Delivery, error) {
	q, err := s.broker.queue(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ports.ErrSessionClosed
	}
	c := newConsumer()
	s.consumers = append(s.consumers, attachment{q: q, c: c})
	s.mu.Unlock()

	go c.run()
	q.attach(c)

	go func() {
		select {
		case <-ctx.Done():
			q.detach(c)
		case <-c.done:
		}
	}()

	return c.out, nil
}

// Close cancels every consumer of the session; their channels close.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	consumers := s.consumers
	s.consumers = nil
	s.mu.Unlock()

	for _, a := range consumers {
		a.q.detach(a.c)
	}
	s.broker.forget(s)
	return nil
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// queue buffers messages until a consumer is attached.
type queue struct {
	name string

	mu        sync.Mutex
	pending   []ports.Delivery
	consumers []*consumer
	next      int
}

func (q *queue) push(d ports.Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.consumers) == 0 {
		q.pending = append(q.pending, d)
		return
	}
	c := q.consumers[q.next%len(q.consumers)]
	q.next++
	c.enqueue(d)
}

func (q *queue) attach(c *consumer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.consumers = append(q.consumers, c)
	for _, d := range q.pending {
		c.enqueue(d)
	}
	q.pending = nil
}

// detach stops c and hands the messages it had not delivered back to the queue.
func (q *queue) detach(c *consumer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	found := false
	for i, other := range q.consumers {
		if other == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}

	leftovers := c.stop()
	if len(leftovers) == 0 {
		return
	}
	if len(q.consumers) == 0 {
		q.pending = append(leftovers, q.pending...)
		return
	}
	for _, d := range leftovers {
		q.consumers[q.next%len(q.consumers)].enqueue(d)
		q.next++
	}
}

// consumer feeds an unbounded buffer into its out channel so that a slow
// reader never blocks publishers.
type consumer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []ports.Delivery
	stopped bool

	out    chan ports.Delivery
	done   chan struct{}
	exited chan struct{}
}

func newConsumer() *consumer {
	c := &consumer{
		out:    make(chan ports.Delivery),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *consumer) enqueue(d ports.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.buf = append(c.buf, d)
	c.cond.Signal()
}

func (c *consumer) run() {
	defer close(c.exited)
	defer close(c.out)

	for {
		c.mu.Lock()
		for len(c.buf) == 0 && !c.stopped {
			c.cond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return
		}
		d := c.buf[0]
		c.buf[0] = ports.Delivery{}
		c.buf = c.buf[1:]
		c.mu.Unlock()

		select {
		case c.out <- d:
		case <-c.done:
			c.mu.Lock()
			c.buf = append([]ports.Delivery{d}, c.buf...)
			c.mu.Unlock()
			return
		}
	}
}

// stop ends the consumer and returns what it had not delivered yet.
func (c *consumer) stop() []ports.Delivery {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.done)
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.exited

	c.mu.Lock()
	defer c.mu.Unlock()
	leftovers := c.buf
	c.buf = nil
	return leftovers
}
