package ports

import (
	"context"
	"errors"
)

// ExchangeKind is the routing rule of an exchange.
type ExchangeKind string

const (
	ExchangeDirect ExchangeKind = "direct" // exact routing-key match
	ExchangeTopic  ExchangeKind = "topic"  // dot-separated pattern match with * and #
	ExchangeFanout ExchangeKind = "fanout" // every bound queue, routing key ignored
)

// ErrSessionClosed is returned by a Session used after Close.
var ErrSessionClosed = errors.New("broker: session closed")

// Publishing is one outgoing message.
type Publishing struct {
	MessageID string
	Headers   map[string]string
	Body      []byte
}

// Delivery is one incoming message, already acknowledged.
type Delivery struct {
	Queue      string
	Exchange   string
	RoutingKey string
	MessageID  string
	Headers    map[string]string
	Body       []byte
}

// Declarer is the topology half of a broker session.
type Declarer interface {
	// DeclareExchange declares a durable exchange. Re-declaring with the same kind is a no-op.
	DeclareExchange(ctx context.Context, name string, kind ExchangeKind) error
	// DeclareQueue declares a durable, non-exclusive, non-auto-delete queue.
	DeclareQueue(ctx context.Context, name string) error
	// BindQueue binds queue to exchange with routingKey. Re-binding is a no-op.
	BindQueue(ctx context.Context, queue, exchange, routingKey string) error
}

// Session is one participant's exclusive broker session.
type Session interface {
	Declarer

	// Publish sends p synchronously; it never waits for consumers.
	Publish(ctx context.Context, exchange, routingKey string, p Publishing) error

	// Consume starts an auto-acknowledged consumer on queue. The returned
	// channel is closed when ctx is cancelled, the session is closed or the
	// broker connection is lost.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// Close releases the session. Safe to call more than once.
	Close() error
}

// Connector opens new broker sessions.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}
