package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// AMQPSender publishes messages to a durable topic exchange with routing
// key "notification.<template>". A downstream worker owns SMS/email.
type AMQPSender struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func NewAMQPSender(amqpURL, exchange string) (*AMQPSender, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPSender{conn: conn, channel: ch, exchange: exchange}, nil
}

func declare(ch *amqp091.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// RoutingKey returns the routing key a template is published under.
func RoutingKey(t Template) string {
	return "notification." + string(t)
}

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	// Channels are not safe for concurrent publishing.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil || s.channel.IsClosed() {
		if err := s.reopen(); err != nil {
			return err
		}
	}

	return s.channel.PublishWithContext(ctx,
		s.exchange,
		RoutingKey(msg.Template),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
}

func (s *AMQPSender) reopen() error {
	if s.conn == nil || s.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("reopen channel: %w", err)
	}
	if err := declare(ch, s.exchange); err != nil {
		ch.Close()
		return err
	}
	s.channel = ch
	return nil
}

func (s *AMQPSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid RABBITMQ_URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
