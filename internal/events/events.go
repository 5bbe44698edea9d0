package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Routing keys on the engine's topic exchange.
const (
	KeyAlertDelivered = "alert.delivered"
	KeyAlertRefused   = "alert.refused"
	KeyCredited       = "ledger.credited"
	KeyCharged        = "ledger.charged"
	KeyMilestone      = "engagement.milestone"
	KeyJobFailed      = "queue.job_failed"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// Producer publishes JSON events to a durable topic exchange. A failed
// publish reopens the channel and retries once; beyond that the error is the
// caller's problem.
type Producer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *logrus.Logger
}

func NewProducer(url, exchange string, log *logrus.Logger) (*Producer, error) {
	conn, err := amqp091.DialConfig(url, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := declareExchange(channel, exchange); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}
	return &Producer{conn: conn, channel: channel, exchange: exchange, log: log}, nil
}

func declareExchange(channel *amqp091.Channel, exchange string) error {
	return channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

func (p *Producer) Publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        payload,
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.log.WithFields(logrus.Fields{"routing_key": routingKey, "error": err}).Warn("publish failed, reopening channel")
	channel, chErr := p.conn.Channel()
	if chErr != nil {
		return err
	}
	p.channel = channel
	if exErr := declareExchange(p.channel, p.exchange); exErr != nil {
		return exErr
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *Producer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Fallback replaces the producer when no broker is configured, so callers
// never branch on nil.
type Fallback struct {
	log *logrus.Logger
}

func NewFallback(log *logrus.Logger) *Fallback {
	return &Fallback{log: log}
}

func (f *Fallback) Publish(_ context.Context, routingKey string, _ any) error {
	f.log.WithField("routing_key", routingKey).Debug("event publish skipped, no broker configured")
	return nil
}

func (f *Fallback) Close() {}
