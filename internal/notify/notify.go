// Package notify delivers customer SMS notifications through a RabbitMQ
// exchange consumed by the messaging bridge. When no broker is configured the
// caller can fall back to LogGateway, which only logs.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Message is the payload published for each notification.
type Message struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// AMQPGateway publishes notification messages to a durable topic exchange.
type AMQPGateway struct {
	exchange string

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPGateway connects to the broker, retrying up to retries times with a
// fixed delay, and declares the exchange.
func NewAMQPGateway(url, exchange string, retries int, delay time.Duration) (*AMQPGateway, error) {
	g := &AMQPGateway{exchange: exchange}

	var err error
	for i := 0; i < retries; i++ {
		g.conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Printf("notify: broker connection failed (attempt %d/%d): %v", i+1, retries, err)
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	g.ch, err = g.conn.Channel()
	if err != nil {
		g.conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = g.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		g.ch.Close()
		g.conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return g, nil
}

// Send publishes one notification with routing key notify.sms.<kind>.
func (g *AMQPGateway) Send(ctx context.Context, phone, message, kind string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.conn == nil || g.conn.IsClosed() {
		return fmt.Errorf("broker connection is closed")
	}

	msg := Message{
		ID:        uuid.NewString(),
		Phone:     phone,
		Body:      message,
		Kind:      kind,
		Timestamp: time.Now(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize notification: %w", err)
	}

	err = g.ch.Publish(g.exchange, "notify.sms."+kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close shuts the channel and connection down.
func (g *AMQPGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var closeErr error
	if g.ch != nil {
		if err := g.ch.Close(); err != nil {
			closeErr = fmt.Errorf("channel close error: %w", err)
		}
	}
	if g.conn != nil {
		if err := g.conn.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("connection close error: %w", err)
		}
	}
	return closeErr
}

// LogGateway is the no-broker fallback: notifications go to the process log.
type LogGateway struct{}

func (LogGateway) Send(_ context.Context, phone, message, kind string) error {
	log.Printf("notify (%s) to %s: %s", kind, phone, message)
	return nil
}
