package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/config"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// Connector dials RabbitMQ. Every Connect opens a new connection, so each
// participant owns its session exclusively.
type Connector struct {
	url      string
	prefetch int
	logger   *logger.Logger
}

// NewConnector builds a Connector from the rabbitmq config section.
func NewConnector(cfg config.RabbitMQConfig, log *logger.Logger) *Connector {
	return &Connector{
		url:      cfg.URL(),
		prefetch: cfg.Prefetch,
		logger:   log,
	}
}

// Connect opens a connection and its publish channel. There is no
// reconnect: a lost connection ends every consumer stream of the session.
func (c *Connector) Connect(ctx context.Context) (ports.Session, error) {
	start := time.Now().UTC()

	// use DialConfig to set heartbeat and TCP dial timeout
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	s := &Session{
		conn:     conn,
		pubChan:  ch,
		prefetch: c.prefetch,
		logger:   c.logger,
		closed:   make(chan struct{}),
	}

	// log unexpected connection loss; consumers notice through their delivery channels
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		select {
		case <-s.closed:
		case amqpErr, ok := <-connClosed:
			if ok && amqpErr != nil {
				c.logger.Error(context.WithoutCancel(ctx), "rabbitmq_connection_lost", "RabbitMQ connection closed by broker", amqpErr)
			}
		}
	}()

	c.logger.Info(ctx, "rabbitmq_connected", "Connected to RabbitMQ",
		map[string]any{"duration_ms": time.Since(start).Milliseconds()})

	return s, nil
}

// Session is one AMQP connection with a publish channel and one channel per consumer.
type Session struct {
	conn     *amqp.Connection
	prefetch int
	logger   *logger.Logger

	mu        sync.Mutex
	pubChan   *amqp.Channel
	consumers []*amqp.Channel

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *Session) channel() (*amqp.Channel, error) {
	s.mu.Lock()
	ch := s.pubChan
	s.mu.Unlock()

	select {
	case <-s.closed:
		return nil, ports.ErrSessionClosed
	default:
	}

	// quick fail if no channel
	if s.conn == nil || s.conn.IsClosed() {
		return nil, errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return nil, errors.New("rabbitmq: channel is not open")
	}
	return ch, nil
}

// DeclareExchange declares a durable, non-auto-delete exchange.
func (s *Session) DeclareExchange(_ context.Context, name string, kind ports.ExchangeKind) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}
	return ch.ExchangeDeclare(name, string(kind), true, false, false, false, nil)
}

// DeclareQueue declares a durable, non-exclusive, non-auto-delete queue.
func (s *Session) DeclareQueue(_ context.Context, name string) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

// BindQueue binds queue to exchange with routingKey.
func (s *Session) BindQueue(_ context.Context, queue, exchange, routingKey string) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}
	return ch.QueueBind(queue, routingKey, exchange, false, nil)
}

// Publish sends a persistent JSON message.
func (s *Session) Publish(ctx context.Context, exchange, routingKey string, p ports.Publishing) error {
	ch, err := s.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return ch.PublishWithContext(ctx,
		exchange, routingKey, false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    p.MessageID,
			Timestamp:    time.Now().UTC(),
			Headers:      toTable(p.Headers),
			Body:         p.Body,
		})
}

// Consume opens a dedicated channel with prefetch applied and starts an
// auto-ack consumer on queue.
func (s *Session) Consume(ctx context.Context, queue string) (<-chan ports.Delivery, error) {
	if _, err := s.channel(); err != nil {
		return nil, err
	}

	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open consumer channel: %w", err)
	}

	// set prefetch if requested
	if s.prefetch > 0 {
		if err := ch.Qos(s.prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("rabbitmq: set prefetch: %w", err)
		}
	}

	const (
		consumerName = "" // let the server generate a unique consumer tag
		autoAck      = true
		exclusive    = false
		noLocal      = false
		noWait       = false
	)
	deliveries, err := ch.Consume(queue, consumerName, autoAck, exclusive, noLocal, noWait, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("rabbitmq: consume %q: %w", queue, err)
	}

	s.mu.Lock()
	s.consumers = append(s.consumers, ch)
	s.mu.Unlock()

	out := make(chan ports.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				_ = ch.Close()
				return
			case <-s.closed:
				return
			case d, ok := <-deliveries:
				if !ok {
					// channel closed (connection lost or server-side cancel)
					return
				}
				select {
				case out <- convert(queue, d):
				case <-ctx.Done():
					_ = ch.Close()
					return
				case <-s.closed:
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes consumer channels, the publish channel and the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		defer s.mu.Unlock()

		for _, ch := range s.consumers {
			_ = ch.Close()
		}
		s.consumers = nil

		if s.pubChan != nil {
			_ = s.pubChan.Close()
			s.pubChan = nil
		}
		if s.conn != nil && !s.conn.IsClosed() {
			err = s.conn.Close()
		}
	})
	return err
}

func convert(queue string, d amqp.Delivery) ports.Delivery {
	return ports.Delivery{
		Queue:      queue,
		Exchange:   d.Exchange,
		RoutingKey: d.RoutingKey,
		MessageID:  d.MessageId,
		Headers:    fromTable(d.Headers),
		Body:       d.Body,
	}
}

func toTable(h map[string]string) amqp.Table {
	if len(h) == 0 {
		return nil
	}
	t := make(amqp.Table, len(h))
	for k, v := range h {
		t[k] = v
	}
	return t
}

// fromTable keeps string headers only; trace context travels as strings.
func fromTable(t amqp.Table) map[string]string {
	if len(t) == 0 {
		return nil
	}
	h := make(map[string]string, len(t))
	for k, v := range t {
		switch v := v.(type) {
		case string:
			h[k] = v
		case []byte:
			h[k] = string(v)
		}
	}
	return h
}
