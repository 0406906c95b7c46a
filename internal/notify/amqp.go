package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// RoutingKeyPrefix prefixes the outcome type, e.g. wheel.spin.prize
const RoutingKeyPrefix = "wheel.spin."

// publishChannel is the part of *amqp.Channel the publisher uses
type publishChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends merchant alerts to a topic exchange
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publishChannel
	exchange string
}

// DialPublisher connects to the broker and declares the exchange
func DialPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	p := newPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

func newPublisher(ch publishChannel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// Name implements Sink
func (p *Publisher) Name() string { return "amqp" }

// Deliver publishes the event as persistent JSON
func (p *Publisher) Deliver(ctx context.Context, ev *SpinResolved) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.Publish(p.exchange, RoutingKeyPrefix+string(ev.Outcome), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.SpinRecordID,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close releases the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		return err
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
