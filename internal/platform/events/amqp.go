package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPPublisher publishes events to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DialPublisher connects to the broker and declares the exchange.
func DialPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, e.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    e.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.RoutingKey(), err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p == nil || p.channel == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}

// Listener consumes events from the exchange and hands them to a Handler.
// With an empty queue name each replica gets its own exclusive queue, so
// every replica sees every event.
type Listener struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	handler  Handler
	logger   zerolog.Logger
}

func DialListener(url, exchange, queue string, handler Handler, logger zerolog.Logger) (*Listener, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Listener{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		queue:    queue,
		handler:  handler,
		logger:   logger.With().Str("component", "events").Logger(),
	}, nil
}

// Start declares and binds the queue and consumes until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	shared := l.queue != ""
	q, err := l.channel.QueueDeclare(
		l.queue,
		shared,  // durable
		!shared, // delete when unused
		!shared, // exclusive
		false,   // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := l.channel.QueueBind(q.Name, RoutingPrefix+".#", l.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	msgs, err := l.channel.Consume(
		q.Name,
		"",    // consumer
		false, // auto-ack
		!shared,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	l.logger.Info().Str("queue", q.Name).Str("exchange", l.exchange).Msg("event listener started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					l.logger.Warn().Msg("event delivery channel closed")
					return
				}
				l.handle(ctx, msg)
			}
		}
	}()
	return nil
}

// handle acks processed deliveries, drops undecodable ones and requeues
// deliveries whose handler failed.
func (l *Listener) handle(ctx context.Context, msg amqp.Delivery) {
	var e Event
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		l.logger.Error().Err(err).Str("routing_key", msg.RoutingKey).Msg("discarding malformed event")
		_ = msg.Nack(false, false)
		return
	}
	if err := l.handler(ctx, e); err != nil {
		l.logger.Error().Err(err).Str("kind", string(e.Kind)).Msg("event handler failed")
		_ = msg.Nack(false, !msg.Redelivered)
		return
	}
	_ = msg.Ack(false)
}

func (l *Listener) Stop() error {
	if l == nil || l.channel == nil {
		return nil
	}
	if err := l.channel.Close(); err != nil {
		return err
	}
	return l.conn.Close()
}
