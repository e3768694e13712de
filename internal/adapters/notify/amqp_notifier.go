package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"waas-dispatch-service/internal/ports"

	"github.com/streadway/amqp"
)

// channel is the part of *amqp.Channel the notifier needs.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes notifications as JSON messages to a RabbitMQ
// exchange. A downstream mailer consumes them.
type AMQPNotifier struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    channel
	exchange   string
	routingKey string
	now        func() time.Time
}

// NewAMQPNotifier connects to RabbitMQ and declares a durable direct exchange.
func NewAMQPNotifier(amqpURL, exchange, routingKey string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	n := newAMQPNotifier(ch, exchange, routingKey)
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch channel, exchange, routingKey string) *AMQPNotifier {
	return &AMQPNotifier{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		now:        time.Now,
	}
}

func (n *AMQPNotifier) Send(ctx context.Context, msg ports.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.now(),
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel == nil {
		return errors.New("publish notification: notifier is closed")
	}
	if err := n.channel.Publish(n.exchange, n.routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("publish notification to %s: %w", msg.Recipient, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var err error
	if n.channel != nil {
		err = n.channel.Close()
		n.channel = nil
	}
	if n.conn != nil {
		if connErr := n.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
		n.conn = nil
	}
	return err
}
