package participant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/message"
	"git.platform.alem.school/amibragim/expedition-supply/internal/domain/topology"
	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
	"git.platform.alem.school/amibragim/expedition-supply/internal/shared/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "git.platform.alem.school/amibragim/expedition-supply/internal/app/participant"

// HeaderRequestID carries the publisher's request id so logs on both ends correlate.
const HeaderRequestID = "x-request-id"

var errStreamClosed = errors.New("delivery stream closed by broker")

// State is a participant's lifecycle stage.
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handler processes one decoded message.
type Handler func(ctx context.Context, msg message.Message) error

// RawHandler processes one delivery before decoding.
type RawHandler func(ctx context.Context, d ports.Delivery) error

type subscription struct {
	queue  string
	handle RawHandler
}

// Participant is the lifecycle shared by teams, suppliers and the
// administrator: one exclusive broker session, the topology the role needs,
// and a single dispatch goroutine feeding every subscribed queue to its
// handler one message at a time.
type Participant struct {
	name   string
	plan   topology.Plan
	logger *logger.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	state    State
	starting bool
	session  ports.Session
	subs     map[string]subscription
	order    []string
	cancel   context.CancelFunc
	stopped  chan struct{} // closed once the dispatch loop and forwarders exit

	inbox chan ports.Delivery

	done     chan struct{}
	doneOnce sync.Once
	err      error

	closeOnce sync.Once
	closeErr  error
}

// New configures a participant without touching the broker. An invalid plan
// is a programming error and panics.
func New(name string, plan topology.Plan, log *logger.Logger) *Participant {
	if name == "" {
		panic("participant: empty name")
	}
	if err := plan.Validate(); err != nil {
		panic(fmt.Sprintf("participant %q: %v", name, err))
	}

	return &Participant{
		name:   name,
		plan:   plan,
		logger: log,
		tracer: otel.Tracer(tracerName),
		subs:   map[string]subscription{},
		inbox:  make(chan ports.Delivery, 16),
		done:   make(chan struct{}),
	}
}

// Name returns the participant's unique name.
func (p *Participant) Name() string { return p.name }

// Logger returns the participant's logger.
func (p *Participant) Logger() *logger.Logger { return p.logger }

// State returns the current lifecycle state. A lost stream moves a running
// participant straight to StateClosed.
func (p *Participant) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed when consumption has stopped, after Close or a lost stream.
func (p *Participant) Done() <-chan struct{} { return p.done }

// Err reports why consumption stopped on its own; nil after a normal Close.
func (p *Participant) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Subscribe decodes every delivery on queue and passes it to h. Malformed
// payloads are logged with their queue and raw body, then dropped.
func (p *Participant) Subscribe(queue string, h Handler) error {
	return p.SubscribeRaw(queue, func(ctx context.Context, d ports.Delivery) error {
		msg, err := message.Decode(d.Body)
		if err != nil {
			p.logger.Error(ctx, "message_malformed", "Dropped malformed message", err, map[string]any{
				"queue":   d.Queue,
				"payload": string(d.Body),
			})
			return nil
		}
		return h(ctx, msg)
	})
}

// SubscribeRaw registers h for queue. Only allowed before Start; the queue
// must belong to the participant's plan.
func (p *Participant) SubscribeRaw(queue string, h RawHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateUnconnected || p.starting {
		return fmt.Errorf("participant %q: subscribe in state %s", p.name, p.state)
	}
	if !p.planned(queue) {
		return fmt.Errorf("participant %q: queue %q is not part of its topology", p.name, queue)
	}
	if _, dup := p.subs[queue]; dup {
		return fmt.Errorf("participant %q: queue %q already subscribed", p.name, queue)
	}

	p.subs[queue] = subscription{queue: queue, handle: h}
	p.order = append(p.order, queue)
	return nil
}

func (p *Participant) planned(queue string) bool {
	for _, q := range p.plan.Queues {
		if q == queue {
			return true
		}
	}
	return false
}

// Start connects, realizes the topology and starts consuming. On any
// failure the session is released and the participant is Closed.
func (p *Participant) Start(ctx context.Context, connector ports.Connector) error {
	p.mu.Lock()
	if p.state != StateUnconnected || p.starting {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("participant %q: start in state %s", p.name, state)
	}
	p.starting = true
	p.mu.Unlock()

	start := time.Now()

	session, err := connector.Connect(ctx)
	if err != nil {
		p.abort(nil)
		return &ConnectionError{Participant: p.name, Step: "connect", Err: err}
	}
	if !p.advance(StateConnected, session) {
		p.abort(session)
		return &ConnectionError{Participant: p.name, Step: "connect", Err: ErrNotRunning}
	}

	if err := topology.Realize(ctx, session, p.plan); err != nil {
		p.abort(session)
		return err
	}

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	streams := make([]<-chan ports.Delivery, 0, len(p.order))
	for _, q := range p.order {
		ch, err := session.Consume(consumeCtx, q)
		if err != nil {
			cancel()
			p.abort(session)
			return &ConnectionError{Participant: p.name, Step: fmt.Sprintf("consume queue %q", q), Err: err}
		}
		streams = append(streams, ch)
	}

	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		cancel()
		p.abort(session)
		return &ConnectionError{Participant: p.name, Step: "start", Err: ErrNotRunning}
	}
	p.state = StateRunning
	p.starting = false
	p.cancel = cancel
	p.stopped = make(chan struct{})
	stopped := p.stopped
	p.mu.Unlock()

	var wg sync.WaitGroup
	for i, ch := range streams {
		wg.Add(1)
		go p.forward(consumeCtx, &wg, p.order[i], ch)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		p.loop(consumeCtx)
	}()

	go func() {
		<-loopDone
		wg.Wait()
		close(stopped)
		p.markDone()
	}()

	p.logger.Info(ctx, "participant_started", "Participant is running", map[string]any{
		"name":        p.name,
		"queues":      p.plan.Queues,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

// advance moves Unconnected to Connected unless Close got there first.
func (p *Participant) advance(to State, session ports.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return false
	}
	p.state = to
	p.session = session
	return true
}

// abort releases a half-started session and makes the participant terminal.
func (p *Participant) abort(session ports.Session) {
	if session != nil {
		_ = session.Close()
	}

	p.mu.Lock()
	p.state = StateClosed
	p.starting = false
	p.session = nil
	p.mu.Unlock()

	p.markDone()
}

// forward moves deliveries of one queue into the shared inbox.
func (p *Participant) forward(ctx context.Context, wg *sync.WaitGroup, queue string, ch <-chan ports.Delivery) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					p.fail(&ConnectionError{Participant: p.name, Step: fmt.Sprintf("consume queue %q", queue), Err: errStreamClosed})
				}
				return
			}
			if d.Queue == "" {
				d.Queue = queue
			}
			select {
			case p.inbox <- d:
			case <-ctx.Done():
				return
			}
		}
	}
}

// fail records the first stream failure, stops consumption and makes the
// participant terminal. Publish is refused from here on; Close stays safe.
func (p *Participant) fail(err error) {
	p.mu.Lock()
	if p.err != nil || p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.state = StateClosed
	cancel, session := p.cancel, p.session
	p.session = nil
	p.mu.Unlock()

	p.logger.Error(context.Background(), "consumer_stopped", "Consumption stopped", err, map[string]any{"name": p.name})
	if cancel != nil {
		cancel()
	}
	if session != nil {
		_ = session.Close()
	}
}

func (p *Participant) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.inbox:
			p.dispatch(d)
		}
	}
}

// dispatch runs one handler to completion; errors and panics are logged and
// never stop the loop.
func (p *Participant) dispatch(d ports.Delivery) {
	p.mu.Lock()
	sub, ok := p.subs[d.Queue]
	p.mu.Unlock()
	if !ok {
		p.logger.Error(context.Background(), "delivery_unrouted", "Delivery for a queue without handler", errors.New("no handler"),
			map[string]any{"queue": d.Queue})
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.MapCarrier(d.Headers))
	rid := d.Headers[HeaderRequestID]
	if rid == "" {
		rid = d.MessageID
	}
	if rid == "" {
		rid = uuid.NewString()
	}
	ctx = p.logger.WithRequestID(ctx, rid)

	ctx, span := p.tracer.Start(ctx, d.Queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", d.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
			attribute.String("messaging.message.id", d.MessageID),
			attribute.String("participant", p.name),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Error(ctx, "handler_failed", "Message handler panicked", err, map[string]any{"queue": d.Queue})
		}
	}()

	if err := sub.handle(ctx, d); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error(ctx, "handler_failed", "Message handler failed", err, map[string]any{"queue": d.Queue})
	}
}

// Publish encodes msg and sends it synchronously. It never retries: a
// failure comes back as a *PublishError for the caller to retry or drop.
func (p *Participant) Publish(ctx context.Context, exchange, routingKey string, msg message.Message) error {
	p.mu.Lock()
	state, session := p.state, p.session
	p.mu.Unlock()

	if state != StateRunning {
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: ErrNotRunning}
	}

	body, err := message.Encode(msg)
	if err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: err}
	}

	id := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, exchange+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
			attribute.String("messaging.message.id", id),
			attribute.String("participant", p.name),
		))
	defer span.End()

	headers := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	if rid := logger.RequestIDFrom(ctx); rid != "" {
		headers[HeaderRequestID] = rid
	}

	err = session.Publish(ctx, exchange, routingKey, ports.Publishing{
		MessageID: id,
		Headers:   headers,
		Body:      body,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Err: err}
	}

	p.logger.Debug(ctx, "message_published", "Published message", map[string]any{
		"exchange":    exchange,
		"routing_key": routingKey,
		"message_id":  id,
		"type":        msg.Kind,
	})
	return nil
}

// Close releases the broker session and waits for the dispatch loop to
// finish its current message. It runs once; later calls return the first
// result. Closed is terminal.
func (p *Participant) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		prev := p.state
		p.state = StateClosed
		session, cancel, stopped := p.session, p.cancel, p.stopped
		p.session = nil
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if session != nil {
			if err := session.Close(); err != nil {
				p.closeErr = fmt.Errorf("participant %q: close session: %w", p.name, err)
			}
		}
		drained := true
		if stopped != nil {
			select {
			case <-stopped:
			case <-ctx.Done():
				drained = false
				p.closeErr = errors.Join(p.closeErr, ctx.Err())
			}
		}
		if drained {
			p.markDone()
		}

		p.logger.Info(ctx, "participant_closed", "Participant closed", map[string]any{
			"name":       p.name,
			"from_state": prev.String(),
		})
	})
	return p.closeErr
}

func (p *Participant) markDone() {
	p.doneOnce.Do(func() { close(p.done) })
}
