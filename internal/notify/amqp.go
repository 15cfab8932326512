package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"housegen/internal/auth"
)

// DefaultQueue is the durable queue the mail service consumes.
const DefaultQueue = "auth.notifications"

// AMQPNotifier publishes notifications as persistent JSON messages.
type AMQPNotifier struct {
	url    string
	queue  string
	links  Links
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPNotifier dials the broker and declares the queue.
func NewAMQPNotifier(url, queue string, links Links, logger *slog.Logger) (*AMQPNotifier, error) {
	if url == "" {
		return nil, errors.New("notify: amqp url is empty")
	}
	if queue == "" {
		queue = DefaultQueue
	}
	n := &AMQPNotifier{url: url, queue: queue, links: links, logger: logger}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.connectLocked(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *AMQPNotifier) connectLocked() error {
	if n.conn == nil || n.conn.IsClosed() {
		conn, err := amqp.Dial(n.url)
		if err != nil {
			return fmt.Errorf("amqp dial: %w", err)
		}
		n.conn = conn
		n.ch = nil
	}
	if n.ch == nil || n.ch.IsClosed() {
		ch, err := n.conn.Channel()
		if err != nil {
			return fmt.Errorf("amqp channel: %w", err)
		}
		if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("amqp queue declare: %w", err)
		}
		n.ch = ch
	}
	return nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, msg auth.Notification) error {
	body, err := json.Marshal(NewEvent(msg, n.links, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.connectLocked(); err != nil {
		return err
	}

	err = n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(msg.Kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	n.logger.Debug("notification published", "type", msg.Kind, "user_id", msg.UserID)
	return nil
}

// Close closes the channel and connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error
	if n.ch != nil {
		errs = append(errs, n.ch.Close())
	}
	if n.conn != nil {
		errs = append(errs, n.conn.Close())
	}
	return errors.Join(errs...)
}
