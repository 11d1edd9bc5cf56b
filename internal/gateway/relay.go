package gateway

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/imrishuroy/go-orderflow-realtime/internal/aws"
	"github.com/imrishuroy/go-orderflow-realtime/internal/catalog"
	"github.com/imrishuroy/go-orderflow-realtime/internal/rooms"
)

// SQSRelay mirrors deliveries onto an SQS queue for consumers that are not
// connected to this process, such as Lambda deployments.
type SQSRelay struct {
	pub *aws.Publisher
}

func NewSQSRelay(pub *aws.Publisher) *SQSRelay {
	return &SQSRelay{pub: pub}
}

func (r *SQSRelay) Name() string { return "sqs" }

func (r *SQSRelay) Relay(ctx context.Context, room rooms.Room, env catalog.Envelope, frame []byte) error {
	return r.pub.Send(ctx, string(frame), map[string]string{
		"event":    string(env.Event),
		"room":     string(room),
		"event_id": env.ID,
	})
}

// amqpPublisher is satisfied by *amqp.Channel.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPRelay publishes deliveries to a topic exchange with the room as routing key.
type AMQPRelay struct {
	ch       amqpPublisher
	exchange string
	closeFn  func() error
}

func NewAMQPRelay(ch amqpPublisher, exchange string) *AMQPRelay {
	return &AMQPRelay{ch: ch, exchange: exchange}
}

// DialAMQP connects, declares the exchange and returns a relay owning the connection.
func DialAMQP(url, exchange string) (*AMQPRelay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	r := NewAMQPRelay(ch, exchange)
	r.closeFn = func() error {
		ch.Close()
		return conn.Close()
	}
	return r, nil
}

func (r *AMQPRelay) Name() string { return "amqp" }

func (r *AMQPRelay) Relay(ctx context.Context, room rooms.Room, env catalog.Envelope, frame []byte) error {
	err := r.ch.PublishWithContext(ctx, r.exchange, string(room), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    env.ID,
		Timestamp:    env.Timestamp,
		Type:         string(env.Event),
		Headers:      amqp.Table{"event": string(env.Event), "room": string(room)},
		Body:         frame,
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", env.Event, err)
	}
	return nil
}

func (r *AMQPRelay) Close() error {
	if r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}
